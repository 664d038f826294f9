package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	agenterrors "github.com/bio-xyz/bio-data-analysis/internal/errors"
	"github.com/bio-xyz/bio-data-analysis/internal/logging"
	"github.com/bio-xyz/bio-data-analysis/internal/sandbox"
	"github.com/bio-xyz/bio-data-analysis/internal/task"
)

// inProgressAnswer is returned by GET /task/{id} while the task is running.
const inProgressAnswer = "Task is being processed. Check back later for the result."

// Server holds the handler dependencies.
type Server struct {
	coordinator *task.Coordinator
	registry    *task.Registry
	maxFileSize int64
	logger      logging.Logger
}

// NewServer builds the handler set. maxFileSize bounds each uploaded file.
func NewServer(coordinator *task.Coordinator, registry *task.Registry, maxFileSize int64, logger logging.Logger) *Server {
	return &Server{
		coordinator: coordinator,
		registry:    registry,
		maxFileSize: maxFileSize,
		logger:      logging.OrNop(logger),
	}
}

// RunSync handles POST /task/run/sync.
func (s *Server) RunSync(c *gin.Context) {
	req, files, ok := s.parseTaskRequest(c)
	if !ok {
		return
	}
	response := s.coordinator.ProcessSync(c.Request.Context(), req, files)
	if response.Status == task.StatusFailed {
		c.JSON(http.StatusUnprocessableEntity, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// RunAsync handles POST /task/run/async.
func (s *Server) RunAsync(c *gin.Context) {
	req, files, ok := s.parseTaskRequest(c)
	if !ok {
		return
	}
	id := s.coordinator.ProcessAsync(c.Request.Context(), req, files)
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": task.StatusInProgress})
}

// GetTask handles GET /task/:id.
func (s *Server) GetTask(c *gin.Context) {
	id := c.Param("id")
	info, err := s.registry.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("Task %s not found", id)})
		return
	}
	if info.Response != nil {
		c.JSON(http.StatusOK, info.Response)
		return
	}
	answer := inProgressAnswer
	success := true
	if info.Status != task.StatusInProgress {
		// Terminal record with no stored response.
		answer = fmt.Sprintf("Task is %s. No response data available", info.Status)
		success = false
	}
	c.JSON(http.StatusOK, task.Response{
		ID:        info.ID,
		Status:    info.Status,
		Answer:    answer,
		Success:   success,
		Artifacts: []task.ArtifactResponse{},
	})
}

// Health handles GET /health; unauthenticated.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) parseTaskRequest(c *gin.Context) (*task.Request, []sandbox.File, bool) {
	var req task.Request
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return nil, nil, false
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return nil, nil, false
	}

	files, err := s.readFiles(c)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, agenterrors.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"detail": err.Error()})
		return nil, nil, false
	}
	return &req, files, true
}

func (s *Server) readFiles(c *gin.Context) ([]sandbox.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		// No multipart body is fine; tasks without data files are accepted.
		return nil, nil
	}
	headers := form.File["data_files"]
	files := make([]sandbox.File, 0, len(headers))
	for _, fh := range headers {
		if s.maxFileSize > 0 && fh.Size > s.maxFileSize {
			return nil, fmt.Errorf("%w: %s is %.2fMB, exceeds the maximum allowed size of %.2fMB",
				agenterrors.ErrFileTooLarge, fh.Filename,
				float64(fh.Size)/(1024*1024), float64(s.maxFileSize)/(1024*1024))
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, sandbox.File{
			Name:        fh.Filename,
			Content:     content,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
		})
	}
	return files, nil
}
