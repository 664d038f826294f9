package sandbox

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway is a scripted in-memory Gateway for tests.
type MockGateway struct {
	mu sync.Mutex

	// ExecuteResults are returned in order by ExecuteCode; when exhausted,
	// ExecuteCode returns an empty successful result.
	ExecuteResults []*ExecutionResult
	// ExecuteErr, when set, is returned by every ExecuteCode call.
	ExecuteErr error
	// Files maps sandbox paths to contents for DownloadFile/PathExists.
	Files map[string][]byte
	// Tree is returned by ListTree.
	Tree string
	// CreateErr, when set, fails CreateSandbox.
	CreateErr error

	CreateCalls    int
	DestroyCalls   []string
	ExecutedCode   []string
	Uploaded       []string
	RemoteUps      []string
	RemoteDowns    []string
	SavedNotebooks []string
}

// NewMockGateway returns an empty mock.
func NewMockGateway() *MockGateway {
	return &MockGateway{Files: map[string][]byte{}}
}

func (m *MockGateway) CreateSandbox(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	m.CreateCalls++
	return fmt.Sprintf("sbx-%d", m.CreateCalls), nil
}

func (m *MockGateway) DestroySandbox(_ context.Context, sandboxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DestroyCalls = append(m.DestroyCalls, sandboxID)
	return nil
}

func (m *MockGateway) UploadFiles(_ context.Context, _ string, files []File, targetFolder string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(files))
	for _, f := range files {
		p := targetFolder + "/" + f.Name
		m.Files[p] = f.Content
		m.Uploaded = append(m.Uploaded, p)
		paths = append(paths, p)
	}
	return paths, nil
}

func (m *MockGateway) ExecuteCode(_ context.Context, _ string, code string) (*ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecutedCode = append(m.ExecutedCode, code)
	if m.ExecuteErr != nil {
		return nil, m.ExecuteErr
	}
	if len(m.ExecuteResults) == 0 {
		return &ExecutionResult{}, nil
	}
	result := m.ExecuteResults[0]
	m.ExecuteResults = m.ExecuteResults[1:]
	return result, nil
}

func (m *MockGateway) DownloadFile(_ context.Context, _ string, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Files[path]
	if !ok {
		return nil, fmt.Errorf("file %s not found", path)
	}
	return data, nil
}

func (m *MockGateway) PathExists(_ context.Context, _ string, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Files[path]
	return ok, nil
}

func (m *MockGateway) ListTree(context.Context, string, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Tree, nil
}

func (m *MockGateway) SaveNotebook(_ context.Context, _ string, notebook []byte, filename string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := "/home/user/" + filename
	m.Files[p] = notebook
	m.SavedNotebooks = append(m.SavedNotebooks, p)
	return p, nil
}

func (m *MockGateway) UploadToRemoteStore(_ context.Context, _ string, source, key string, deleteSource bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoteUps = append(m.RemoteUps, key)
	if deleteSource {
		delete(m.Files, source)
	}
	return nil
}

func (m *MockGateway) DownloadFromRemoteStore(_ context.Context, _ string, keys []string, target string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		m.RemoteDowns = append(m.RemoteDowns, key)
		p := target + "/" + key
		m.Files[p] = []byte("remote:" + key)
		paths = append(paths, p)
	}
	return paths, nil
}

var _ Gateway = (*MockGateway)(nil)
