package task

import (
	"context"
	"encoding/base64"
	"path"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bio-xyz/bio-data-analysis/internal/agent"
	"github.com/bio-xyz/bio-data-analysis/internal/llm"
	"github.com/bio-xyz/bio-data-analysis/internal/logging"
	"github.com/bio-xyz/bio-data-analysis/internal/metrics"
	"github.com/bio-xyz/bio-data-analysis/internal/sandbox"
)

// failureAnswer is the caller-facing text for internal aborts; diagnostics
// stay in the logs.
const failureAnswer = "Task processing failed. Please check your task description and data files, then try again."

// CoordinatorConfig parameterizes task processing.
type CoordinatorConfig struct {
	WorkingDirectory string
	DataDirectory    string
	// FileStorageEnabled switches artifact materialization from inline
	// base64 to the remote object store.
	FileStorageEnabled bool
}

// Coordinator owns the per-task pipeline: registry record, sandbox lifecycle,
// engine run, artifact packaging.
type Coordinator struct {
	registry *Registry
	engine   *agent.Engine
	sandbox  sandbox.Gateway
	cfg      CoordinatorConfig
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// NewCoordinator builds a coordinator. metrics may be nil.
func NewCoordinator(registry *Registry, engine *agent.Engine, sb sandbox.Gateway, cfg CoordinatorConfig, logger logging.Logger, m *metrics.Metrics) *Coordinator {
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = "/home/user"
	}
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = "/home/user/data"
	}
	return &Coordinator{
		registry: registry,
		engine:   engine,
		sandbox:  sb,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		metrics:  m,
	}
}

// ProcessSync runs the task to completion and returns its terminal response.
func (c *Coordinator) ProcessSync(ctx context.Context, req *Request, files []sandbox.File) *Response {
	taskID := c.registry.Create()
	return c.process(ctx, taskID, req, files)
}

// ProcessAsync starts the task on a background worker and returns its id
// immediately; progress is visible through the registry.
func (c *Coordinator) ProcessAsync(ctx context.Context, req *Request, files []sandbox.File) string {
	taskID := c.registry.Create()
	go func() {
		// The task outlives the submitting request; detach from its span
		// but keep cancellation available to a server shutdown context.
		c.process(context.WithoutCancel(ctx), taskID, req, files)
	}()
	return taskID
}

func (c *Coordinator) process(ctx context.Context, taskID string, req *Request, files []sandbox.File) *Response {
	c.logger.Info("Task %s: started (%d files)", taskID, len(files))
	if c.metrics != nil {
		c.metrics.ActiveTasks.Inc()
		defer c.metrics.ActiveTasks.Dec()
	}

	sandboxID, err := c.sandbox.CreateSandbox(ctx)
	if err != nil {
		c.logger.Error("Task %s: sandbox creation failed: %v", taskID, err)
		return c.finishFailed(taskID)
	}
	defer func() {
		if err := c.sandbox.DestroySandbox(ctx, sandboxID); err != nil {
			c.logger.Warn("Task %s: sandbox destroy failed: %v", taskID, err)
		}
	}()

	dataFiles, err := c.stageInputs(ctx, sandboxID, req, files)
	if err != nil {
		c.logger.Error("Task %s: staging inputs failed: %v", taskID, err)
		return c.finishFailed(taskID)
	}

	state := agent.NewState(taskID, c.describeTask(req), sandboxID, dataFiles)
	answer, err := c.engine.Run(ctx, state)
	if err != nil {
		c.logger.Error("Task %s: engine aborted: %v", taskID, err)
		return c.finishFailed(taskID)
	}

	response := &Response{
		ID:        taskID,
		Status:    StatusCompleted,
		Answer:    answer.Answer,
		Success:   answer.Success,
		Artifacts: c.materializeArtifacts(ctx, taskID, sandboxID, req, answer.Artifacts),
	}
	c.registry.UpdateStatus(taskID, StatusCompleted, response)
	c.countTask(string(StatusCompleted))
	c.logger.Info("Task %s: completed (success=%v, %d artifacts)", taskID, response.Success, len(response.Artifacts))
	return response
}

func (c *Coordinator) finishFailed(taskID string) *Response {
	response := &Response{
		ID:        taskID,
		Status:    StatusFailed,
		Answer:    failureAnswer,
		Success:   false,
		Artifacts: []ArtifactResponse{},
	}
	c.registry.UpdateStatus(taskID, StatusFailed, response)
	c.countTask(string(StatusFailed))
	return response
}

func (c *Coordinator) describeTask(req *Request) string {
	if req.DataFilesDescription == "" {
		return req.TaskDescription
	}
	return req.TaskDescription + "\n\nData files: " + req.DataFilesDescription
}

// stageInputs uploads submitted files and pulls remote-store objects into the
// sandbox, concurrently. Both land under the data directory.
func (c *Coordinator) stageInputs(ctx context.Context, sandboxID string, req *Request, files []sandbox.File) ([]string, error) {
	var uploaded, downloaded []string
	g, gctx := errgroup.WithContext(ctx)

	if len(files) > 0 {
		g.Go(func() error {
			paths, err := c.sandbox.UploadFiles(gctx, sandboxID, files, c.cfg.DataDirectory)
			if err != nil {
				return err
			}
			uploaded = paths
			return nil
		})
	}
	if c.cfg.FileStorageEnabled && len(req.FilePaths) > 0 {
		g.Go(func() error {
			target := req.TargetPath
			if target == "" {
				target = c.cfg.DataDirectory
			}
			// Stored keys are relative to the caller's base path.
			keys := make([]string, 0, len(req.FilePaths))
			for _, fp := range req.FilePaths {
				keys = append(keys, path.Join(req.BasePath, fp))
			}
			paths, err := c.sandbox.DownloadFromRemoteStore(gctx, sandboxID, keys, target)
			if err != nil {
				return err
			}
			downloaded = paths
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(uploaded, downloaded...), nil
}

// materializeArtifacts resolves each artifact the answering node referenced.
// Missing paths are skipped; a thinner artifact list never fails the task.
func (c *Coordinator) materializeArtifacts(ctx context.Context, taskID, sandboxID string, req *Request, decisions []llm.ArtifactDecision) []ArtifactResponse {
	out := []ArtifactResponse{}
	for _, d := range decisions {
		exists, err := c.sandbox.PathExists(ctx, sandboxID, d.FullPath)
		if err != nil || !exists {
			c.logger.Warn("Task %s: artifact %s missing, skipped (err=%v)", taskID, d.FullPath, err)
			continue
		}
		artifact := ArtifactResponse{
			ID:          uuid.NewString(),
			Description: d.Description,
			Type:        d.Type,
			Name:        path.Base(d.FullPath),
		}
		if c.cfg.FileStorageEnabled {
			key := remoteKey(req.BasePath, taskID, c.cfg.WorkingDirectory, d.FullPath)
			if err := c.sandbox.UploadToRemoteStore(ctx, sandboxID, d.FullPath, key, true); err != nil {
				c.logger.Warn("Task %s: remote upload of %s failed, skipped: %v", taskID, d.FullPath, err)
				continue
			}
			artifact.Path = key
		} else {
			data, err := c.sandbox.DownloadFile(ctx, sandboxID, d.FullPath)
			if err != nil {
				c.logger.Warn("Task %s: download of %s failed, skipped: %v", taskID, d.FullPath, err)
				continue
			}
			artifact.Content = base64.StdEncoding.EncodeToString(data)
			artifact.Path = strings.TrimPrefix(strings.TrimPrefix(d.FullPath, c.cfg.WorkingDirectory), "/")
		}
		out = append(out, artifact)
	}
	return out
}

// remoteKey places an artifact under <base_path>/task/<task_id>/<relative>.
func remoteKey(basePath, taskID, workingDir, fullPath string) string {
	relative := strings.TrimPrefix(strings.TrimPrefix(fullPath, workingDir), "/")
	return path.Join(basePath, "task", taskID, relative)
}

func (c *Coordinator) countTask(status string) {
	if c.metrics != nil {
		c.metrics.TasksTotal.WithLabelValues(status).Inc()
	}
}
