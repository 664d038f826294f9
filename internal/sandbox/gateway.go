package sandbox

import "context"

// Gateway abstracts the sandbox provider. One sandbox is owned exclusively
// by one task; implementations must be safe for use from many tasks, each
// on its own sandbox.
type Gateway interface {
	// CreateSandbox provisions a fresh isolated environment.
	CreateSandbox(ctx context.Context) (string, error)
	// DestroySandbox tears the environment down. Idempotent: destroying an
	// unknown or already-destroyed sandbox returns nil.
	DestroySandbox(ctx context.Context, sandboxID string) error
	// UploadFiles writes files under targetFolder and returns their sandbox paths.
	UploadFiles(ctx context.Context, sandboxID string, files []File, targetFolder string) ([]string, error)
	// ExecuteCode runs a Python code blob and returns its structured outcome.
	// Execution errors inside the code are reported via ExecutionResult.Error,
	// not as a Go error.
	ExecuteCode(ctx context.Context, sandboxID, code string) (*ExecutionResult, error)
	// DownloadFile reads a file's bytes. Relative paths resolve against the
	// configured working directory.
	DownloadFile(ctx context.Context, sandboxID, path string) ([]byte, error)
	// PathExists reports whether a file or directory exists in the sandbox.
	PathExists(ctx context.Context, sandboxID, path string) (bool, error)
	// ListTree renders a bounded recursive listing rooted at root.
	ListTree(ctx context.Context, sandboxID, root string) (string, error)
	// SaveNotebook writes a rendered notebook into the sandbox and returns its path.
	SaveNotebook(ctx context.Context, sandboxID string, notebook []byte, filename string) (string, error)
	// UploadToRemoteStore pushes a sandbox file to the remote object store
	// under key, optionally deleting the sandbox copy.
	UploadToRemoteStore(ctx context.Context, sandboxID, source, key string, deleteSource bool) error
	// DownloadFromRemoteStore pulls objects into target and returns the
	// resulting sandbox paths.
	DownloadFromRemoteStore(ctx context.Context, sandboxID string, keys []string, target string) ([]string, error)
}
