// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LLMNodeConfig selects the provider, model and token budget for one
// workflow node. Nodes without an explicit override fall back to DEFAULT.
type LLMNodeConfig struct {
	Provider  string
	Model     string
	MaxTokens int
}

// Settings holds every runtime knob of the service. Loaded once at process
// start and passed by reference; never mutated afterwards.
type Settings struct {
	LogLevel string
	APIKey   string

	Host           string
	Port           int
	AllowedOrigins []string

	// LLM provider credentials.
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	LLMTimeout       time.Duration

	// Per-node model selection.
	PlanningLLM       LLMNodeConfig
	CodePlanningLLM   LLMNodeConfig
	CodeGenerationLLM LLMNodeConfig
	AnsweringLLM      LLMNodeConfig
	DefaultLLM        LLMNodeConfig

	// Workflow limits.
	MaxStepRetries   int
	MaxCodeRetries   int
	MaxGraphSteps    int
	MaxOutputChars   int
	OutputSplitRatio float64

	// Registry eviction.
	TaskCleanupInterval time.Duration
	TaskExpiry          time.Duration

	// Sandbox provider.
	SandboxBaseURL   string
	SandboxAPIKey    string
	SandboxTimeout   time.Duration
	WorkingDirectory string
	DataDirectory    string
	NotebookFilename string

	// Upload limits.
	MaxFileSizeMB int

	// Remote artifact storage (S3-compatible, accessed from inside the sandbox).
	FileStorageEnabled bool
	StorageEndpoint    string
	StorageBucket      string
	StorageAccessKey   string
	StorageSecretKey   string
}

// MaxFileSizeBytes returns the upload limit in bytes.
func (s *Settings) MaxFileSizeBytes() int64 {
	return int64(s.MaxFileSizeMB) * 1024 * 1024
}

// NodeLLM returns the LLM config for a named workflow node, falling back to
// the default config for unknown names.
func (s *Settings) NodeLLM(node string) LLMNodeConfig {
	switch strings.ToUpper(node) {
	case "PLANNING":
		return s.PlanningLLM
	case "CODE_PLANNING":
		return s.CodePlanningLLM
	case "CODE_GENERATION":
		return s.CodeGenerationLLM
	case "ANSWERING":
		return s.AnsweringLLM
	}
	return s.DefaultLLM
}

// Load reads settings from the environment with defaults applied.
func Load() (*Settings, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8000)
	v.SetDefault("ALLOWED_ORIGINS", "*")

	v.SetDefault("OPENAI_CUSTOM_BASE_URL", "")
	v.SetDefault("ANTHROPIC_CUSTOM_BASE_URL", "")
	v.SetDefault("LLM_TIMEOUT_SECONDS", 300)

	v.SetDefault("DEFAULT_PROVIDER", "openai")
	v.SetDefault("DEFAULT_MODEL", "gpt-5")
	v.SetDefault("DEFAULT_MAX_TOKENS", 8192)

	v.SetDefault("CODE_PLANNING_MAX_STEP_RETRIES", 3)
	v.SetDefault("CODE_GENERATION_MAX_RETRIES", 5)
	v.SetDefault("MAX_GRAPH_STEPS", 250)
	v.SetDefault("MAX_OUTPUT_CHARS", 25000)
	v.SetDefault("OUTPUT_SPLIT_RATIO", 0.6)

	v.SetDefault("TASK_CLEANUP_INTERVAL_SECONDS", 60)
	v.SetDefault("TASK_EXPIRY_SECONDS", 300)

	v.SetDefault("SANDBOX_BASE_URL", "http://localhost:8091")
	v.SetDefault("SANDBOX_DEFAULT_TIMEOUT_SECONDS", 2400)
	v.SetDefault("DEFAULT_WORKING_DIRECTORY", "/home/user")
	v.SetDefault("DEFAULT_DATA_DIRECTORY", "/home/user/data")
	v.SetDefault("NOTEBOOK_FILENAME", "analysis.ipynb")

	v.SetDefault("MAX_FILE_SIZE_MB", 100)
	v.SetDefault("FILE_STORAGE_ENABLED", false)

	s := &Settings{
		LogLevel: v.GetString("LOG_LEVEL"),
		APIKey:   v.GetString("API_KEY"),

		Host:           v.GetString("HOST"),
		Port:           v.GetInt("PORT"),
		AllowedOrigins: splitCSV(v.GetString("ALLOWED_ORIGINS")),

		OpenAIAPIKey:     v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:    v.GetString("OPENAI_CUSTOM_BASE_URL"),
		AnthropicAPIKey:  v.GetString("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: v.GetString("ANTHROPIC_CUSTOM_BASE_URL"),
		LLMTimeout:       time.Duration(v.GetInt("LLM_TIMEOUT_SECONDS")) * time.Second,

		MaxStepRetries:   v.GetInt("CODE_PLANNING_MAX_STEP_RETRIES"),
		MaxCodeRetries:   v.GetInt("CODE_GENERATION_MAX_RETRIES"),
		MaxGraphSteps:    v.GetInt("MAX_GRAPH_STEPS"),
		MaxOutputChars:   v.GetInt("MAX_OUTPUT_CHARS"),
		OutputSplitRatio: v.GetFloat64("OUTPUT_SPLIT_RATIO"),

		TaskCleanupInterval: time.Duration(v.GetInt("TASK_CLEANUP_INTERVAL_SECONDS")) * time.Second,
		TaskExpiry:          time.Duration(v.GetInt("TASK_EXPIRY_SECONDS")) * time.Second,

		SandboxBaseURL:   v.GetString("SANDBOX_BASE_URL"),
		SandboxAPIKey:    v.GetString("SANDBOX_API_KEY"),
		SandboxTimeout:   time.Duration(v.GetInt("SANDBOX_DEFAULT_TIMEOUT_SECONDS")) * time.Second,
		WorkingDirectory: v.GetString("DEFAULT_WORKING_DIRECTORY"),
		DataDirectory:    v.GetString("DEFAULT_DATA_DIRECTORY"),
		NotebookFilename: v.GetString("NOTEBOOK_FILENAME"),

		MaxFileSizeMB: v.GetInt("MAX_FILE_SIZE_MB"),

		FileStorageEnabled: v.GetBool("FILE_STORAGE_ENABLED"),
		StorageEndpoint:    v.GetString("STORAGE_ENDPOINT"),
		StorageBucket:      v.GetString("STORAGE_BUCKET"),
		StorageAccessKey:   v.GetString("STORAGE_ACCESS_KEY"),
		StorageSecretKey:   v.GetString("STORAGE_SECRET_KEY"),
	}

	s.DefaultLLM = LLMNodeConfig{
		Provider:  v.GetString("DEFAULT_PROVIDER"),
		Model:     v.GetString("DEFAULT_MODEL"),
		MaxTokens: v.GetInt("DEFAULT_MAX_TOKENS"),
	}
	s.PlanningLLM = nodeLLM(v, "PLANNING", s.DefaultLLM)
	s.CodePlanningLLM = nodeLLM(v, "CODE_PLANNING", s.DefaultLLM)
	s.CodeGenerationLLM = nodeLLM(v, "CODE_GENERATION", s.DefaultLLM)
	s.AnsweringLLM = nodeLLM(v, "ANSWERING", s.DefaultLLM)

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.OutputSplitRatio <= 0 || s.OutputSplitRatio >= 1 {
		return fmt.Errorf("OUTPUT_SPLIT_RATIO must be in (0,1), got %v", s.OutputSplitRatio)
	}
	if s.MaxOutputChars <= 0 {
		return fmt.Errorf("MAX_OUTPUT_CHARS must be positive, got %d", s.MaxOutputChars)
	}
	if s.MaxGraphSteps <= 0 {
		return fmt.Errorf("MAX_GRAPH_STEPS must be positive, got %d", s.MaxGraphSteps)
	}
	if s.MaxFileSizeMB <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE_MB must be positive, got %d", s.MaxFileSizeMB)
	}
	return nil
}

func nodeLLM(v *viper.Viper, prefix string, def LLMNodeConfig) LLMNodeConfig {
	cfg := def
	if p := v.GetString(prefix + "_PROVIDER"); p != "" {
		cfg.Provider = p
	}
	if m := v.GetString(prefix + "_MODEL"); m != "" {
		cfg.Model = m
	}
	if t := v.GetInt(prefix + "_MAX_TOKENS"); t > 0 {
		cfg.MaxTokens = t
	}
	return cfg
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
