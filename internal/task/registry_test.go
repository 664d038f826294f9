package task

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/bio-xyz/bio-data-analysis/internal/errors"
)

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry(time.Minute, 5*time.Minute, nil)

	id := r.Create()
	require.NotEmpty(t, id)

	info, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, info.Status)
	assert.Nil(t, info.Response)

	_, err = r.Get("no-such-task")
	assert.True(t, errors.Is(err, agenterrors.ErrTaskNotFound))
}

func TestRegistryUpdateStatus(t *testing.T) {
	r := NewRegistry(time.Minute, 5*time.Minute, nil)
	id := r.Create()

	first, _ := r.Get(id)

	resp := &Response{ID: id, Status: StatusCompleted, Answer: "done", Success: true}
	r.UpdateStatus(id, StatusCompleted, resp)

	info, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, info.Status)
	require.NotNil(t, info.Response)
	assert.Equal(t, "done", info.Response.Answer)
	assert.False(t, info.UpdatedAt.Before(first.UpdatedAt))

	// Last write wins.
	r.UpdateStatus(id, StatusFailed, nil)
	info, _ = r.Get(id)
	assert.Equal(t, StatusFailed, info.Status)
	assert.Equal(t, "done", info.Response.Answer, "nil response leaves the stored one in place")
}

func TestRegistryUpdateAfterEvictionIsNoop(t *testing.T) {
	r := NewRegistry(time.Minute, 5*time.Minute, nil)
	r.UpdateStatus("gone", StatusCompleted, &Response{ID: "gone"})
	assert.Equal(t, 0, r.Len())
}

func TestRegistryEviction(t *testing.T) {
	r := NewRegistry(time.Minute, 5*time.Minute, nil)
	current := time.Now()
	var mu sync.Mutex
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	stale := r.Create()
	fresh := r.Create()

	// Age both records, then heartbeat only one.
	mu.Lock()
	current = current.Add(6 * time.Minute)
	mu.Unlock()
	r.Touch(fresh)

	r.evictExpired()

	_, err := r.Get(stale)
	assert.True(t, errors.Is(err, agenterrors.ErrTaskNotFound))
	_, err = r.Get(fresh)
	assert.NoError(t, err)
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := NewRegistry(time.Minute, 5*time.Minute, nil)
	id := r.Create()

	snapshot, _ := r.Get(id)
	r.UpdateStatus(id, StatusCompleted, &Response{ID: id})

	assert.Equal(t, StatusInProgress, snapshot.Status, "a held snapshot does not observe later writes")
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(time.Minute, 5*time.Minute, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Create()
			r.Touch(id)
			_, _ = r.Get(id)
			r.UpdateStatus(id, StatusCompleted, &Response{ID: id})
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, r.Len())
}
