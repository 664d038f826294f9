package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	agenterrors "github.com/bio-xyz/bio-data-analysis/internal/errors"
	"github.com/bio-xyz/bio-data-analysis/internal/jsonx"
	"github.com/bio-xyz/bio-data-analysis/internal/logging"
)

const defaultListTreeDepth = 4

// Config configures the HTTP sandbox client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout is the provider-level wall clock bound for a sandbox; it is
	// sent on creation and also caps individual HTTP calls.
	Timeout          time.Duration
	WorkingDirectory string
	Logger           logging.Logger
}

// httpGateway talks to a code-interpreter sandbox service over REST.
type httpGateway struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	workingDir string
	httpClient *http.Client
	logger     logging.Logger
	remote     *remoteStore
}

// NewHTTPGateway builds a Gateway backed by the configured sandbox service.
func NewHTTPGateway(cfg Config) (Gateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("sandbox base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2400 * time.Second
	}
	workingDir := cfg.WorkingDirectory
	if workingDir == "" {
		workingDir = "/home/user"
	}
	return &httpGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		workingDir: workingDir,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(cfg.Logger),
	}, nil
}

type createSandboxRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

type createSandboxResponse struct {
	SandboxID string `json:"sandbox_id"`
}

func (g *httpGateway) CreateSandbox(ctx context.Context) (string, error) {
	var resp createSandboxResponse
	err := g.do(ctx, http.MethodPost, "/sandboxes", createSandboxRequest{
		TimeoutSeconds: int(g.timeout / time.Second),
	}, &resp)
	if err != nil {
		return "", &agenterrors.SandboxError{Op: "create", Err: err}
	}
	if resp.SandboxID == "" {
		return "", &agenterrors.SandboxError{Op: "create", Err: fmt.Errorf("empty sandbox id in response")}
	}
	g.logger.Info("Sandbox created: %s", resp.SandboxID)
	return resp.SandboxID, nil
}

func (g *httpGateway) DestroySandbox(ctx context.Context, sandboxID string) error {
	err := g.do(ctx, http.MethodDelete, "/sandboxes/"+url.PathEscape(sandboxID), nil, nil)
	if err != nil {
		var se statusError
		// Destroying an unknown sandbox is a no-op.
		if asStatus(err, &se) && se.code == http.StatusNotFound {
			return nil
		}
		return &agenterrors.SandboxError{Op: "destroy", SandboxID: sandboxID, Err: err}
	}
	g.logger.Info("Sandbox destroyed: %s", sandboxID)
	return nil
}

type writeFileRequest struct {
	Path       string `json:"path"`
	ContentB64 string `json:"content_b64"`
}

type writeFileResponse struct {
	Path string `json:"path"`
}

func (g *httpGateway) UploadFiles(ctx context.Context, sandboxID string, files []File, targetFolder string) ([]string, error) {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		target := path.Join(targetFolder, path.Base(f.Name))
		var resp writeFileResponse
		err := g.do(ctx, http.MethodPost, "/sandboxes/"+url.PathEscape(sandboxID)+"/files", writeFileRequest{
			Path:       target,
			ContentB64: base64.StdEncoding.EncodeToString(f.Content),
		}, &resp)
		if err != nil {
			return nil, &agenterrors.SandboxError{Op: "upload " + f.Name, SandboxID: sandboxID, Err: err}
		}
		if resp.Path == "" {
			resp.Path = target
		}
		paths = append(paths, resp.Path)
		g.logger.Debug("Uploaded %s to %s", f.Name, resp.Path)
	}
	return paths, nil
}

type executeRequest struct {
	Code string `json:"code"`
}

func (g *httpGateway) ExecuteCode(ctx context.Context, sandboxID, code string) (*ExecutionResult, error) {
	var result ExecutionResult
	err := g.do(ctx, http.MethodPost, "/sandboxes/"+url.PathEscape(sandboxID)+"/execute", executeRequest{Code: code}, &result)
	if err != nil {
		return nil, &agenterrors.SandboxError{Op: "execute", SandboxID: sandboxID, Err: err}
	}
	return &result, nil
}

func (g *httpGateway) DownloadFile(ctx context.Context, sandboxID, filePath string) ([]byte, error) {
	data, err := g.raw(ctx, http.MethodGet, "/sandboxes/"+url.PathEscape(sandboxID)+"/files?path="+url.QueryEscape(g.absPath(filePath)))
	if err != nil {
		return nil, &agenterrors.SandboxError{Op: "download " + filePath, SandboxID: sandboxID, Err: err}
	}
	return data, nil
}

type statResponse struct {
	Exists bool `json:"exists"`
}

func (g *httpGateway) PathExists(ctx context.Context, sandboxID, filePath string) (bool, error) {
	var resp statResponse
	err := g.do(ctx, http.MethodGet, "/sandboxes/"+url.PathEscape(sandboxID)+"/files/stat?path="+url.QueryEscape(g.absPath(filePath)), nil, &resp)
	if err != nil {
		var se statusError
		if asStatus(err, &se) && se.code == http.StatusNotFound {
			return false, nil
		}
		return false, &agenterrors.SandboxError{Op: "stat " + filePath, SandboxID: sandboxID, Err: err}
	}
	return resp.Exists, nil
}

type treeResponse struct {
	Tree string `json:"tree"`
}

func (g *httpGateway) ListTree(ctx context.Context, sandboxID, root string) (string, error) {
	if root == "" {
		root = g.workingDir
	}
	endpoint := fmt.Sprintf("/sandboxes/%s/files/tree?path=%s&max_depth=%d",
		url.PathEscape(sandboxID), url.QueryEscape(g.absPath(root)), defaultListTreeDepth)
	var resp treeResponse
	if err := g.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", &agenterrors.SandboxError{Op: "tree " + root, SandboxID: sandboxID, Err: err}
	}
	return resp.Tree, nil
}

func (g *httpGateway) SaveNotebook(ctx context.Context, sandboxID string, notebook []byte, filename string) (string, error) {
	target := path.Join(g.workingDir, path.Base(filename))
	var resp writeFileResponse
	err := g.do(ctx, http.MethodPost, "/sandboxes/"+url.PathEscape(sandboxID)+"/files", writeFileRequest{
		Path:       target,
		ContentB64: base64.StdEncoding.EncodeToString(notebook),
	}, &resp)
	if err != nil {
		return "", &agenterrors.SandboxError{Op: "save notebook", SandboxID: sandboxID, Err: err}
	}
	if resp.Path == "" {
		resp.Path = target
	}
	return resp.Path, nil
}

func (g *httpGateway) absPath(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return path.Join(g.workingDir, p)
}

// statusError carries a non-2xx HTTP status through the error chain.
type statusError struct {
	code int
	body string
}

func (e statusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.code, e.body)
}

func asStatus(err error, target *statusError) bool {
	for err != nil {
		if se, ok := err.(statusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// do issues a JSON request and decodes the JSON response into out when non-nil.
func (g *httpGateway) do(ctx context.Context, method, endpoint string, in, out any) error {
	data, err := g.rawWithBody(ctx, method, endpoint, in)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := jsonx.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (g *httpGateway) raw(ctx context.Context, method, endpoint string) ([]byte, error) {
	return g.rawWithBody(ctx, method, endpoint, nil)
}

func (g *httpGateway) rawWithBody(ctx context.Context, method, endpoint string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		encoded, err := jsonx.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("X-API-Key", g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &agenterrors.TimeoutError{Op: "sandbox " + method + " " + endpoint, Err: err}
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(data))
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return nil, statusError{code: resp.StatusCode, body: detail}
	}
	return data, nil
}
