package task

import (
	"sync"
	"time"

	"github.com/google/uuid"

	agenterrors "github.com/bio-xyz/bio-data-analysis/internal/errors"
	"github.com/bio-xyz/bio-data-analysis/internal/logging"
)

// Info is one registry record. Readers receive copies; the registry's own
// record is never aliased outside the lock.
type Info struct {
	ID        string
	Status    Status
	Response  *Response
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry is the process-wide task map with time-based eviction. A task
// stays alive as long as its engine heartbeats through UpdateStatus; once
// idle past the expiry it is evicted and later lookups return not-found.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Info

	cleanupInterval time.Duration
	expiry          time.Duration
	logger          logging.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	now func() time.Time
}

// NewRegistry builds a registry. Start must be called to run eviction.
func NewRegistry(cleanupInterval, expiry time.Duration, logger logging.Logger) *Registry {
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}
	if expiry <= 0 {
		expiry = 300 * time.Second
	}
	return &Registry{
		tasks:           make(map[string]*Info),
		cleanupInterval: cleanupInterval,
		expiry:          expiry,
		logger:          logging.OrNop(logger),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		now:             time.Now,
	}
}

// Create inserts a fresh IN_PROGRESS record and returns its id.
func (r *Registry) Create() string {
	id := uuid.NewString()
	now := r.now()
	r.mu.Lock()
	r.tasks[id] = &Info{
		ID:        id,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Unlock()
	return id
}

// Get returns a snapshot of the task record.
func (r *Registry) Get(id string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tasks[id]
	if !ok {
		return Info{}, agenterrors.ErrTaskNotFound
	}
	return *info, nil
}

// UpdateStatus sets the status (and response, when non-nil) and refreshes
// updated_at. Updating an evicted task is a no-op: cleanup is bookkeeping,
// not cancellation, so a finished-but-forgotten task just fades out.
func (r *Registry) UpdateStatus(id string, status Status, response *Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tasks[id]
	if !ok {
		return
	}
	info.Status = status
	if response != nil {
		info.Response = response
	}
	info.UpdatedAt = r.now()
}

// Touch refreshes updated_at without changing status; the engine calls this
// on every node entry as a liveness marker.
func (r *Registry) Touch(id string) {
	r.UpdateStatus(id, StatusInProgress, nil)
}

// Start runs the eviction loop until Stop is called.
func (r *Registry) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.evictExpired()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop terminates the eviction loop and waits for it to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Registry) evictExpired() {
	cutoff := r.now().Add(-r.expiry)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, info := range r.tasks {
		if info.UpdatedAt.Before(cutoff) {
			delete(r.tasks, id)
			r.logger.Info("Evicted task %s (status %s, idle since %s)", id, info.Status, info.UpdatedAt.Format(time.RFC3339))
		}
	}
}

// Len reports the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
