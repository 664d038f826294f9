// Package task hosts the registry of running tasks and the coordinator that
// drives one task end to end: sandbox setup, engine run, artifact packaging.
package task

import (
	"fmt"
	"strings"

	agenterrors "github.com/bio-xyz/bio-data-analysis/internal/errors"
)

// Status of a task in the registry.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Request is a submitted task. FilePaths name remote-store objects to pull
// into the sandbox before the run; BasePath prefixes remote artifact keys.
type Request struct {
	TaskDescription      string   `form:"task_description" json:"task_description"`
	DataFilesDescription string   `form:"data_files_description" json:"data_files_description"`
	BasePath             string   `form:"base_path" json:"base_path"`
	FilePaths            []string `form:"file_paths" json:"file_paths"`
	TargetPath           string   `form:"target_path" json:"target_path"`
}

// Validate trims and checks the request.
func (r *Request) Validate() error {
	r.TaskDescription = strings.TrimSpace(r.TaskDescription)
	if r.TaskDescription == "" {
		return fmt.Errorf("%w: task_description must not be empty", agenterrors.ErrValidation)
	}
	return nil
}

// ArtifactResponse is a caller-facing artifact. Content (inline base64) and
// Path (remote-store key) are mutually exclusive.
type ArtifactResponse struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path,omitempty"`
	Content     string `json:"content,omitempty"`
}

// Response is the terminal (or in-flight) view of a task.
type Response struct {
	ID        string             `json:"id"`
	Status    Status             `json:"status"`
	Answer    string             `json:"answer"`
	Success   bool               `json:"success"`
	Artifacts []ArtifactResponse `json:"artifacts"`
}
