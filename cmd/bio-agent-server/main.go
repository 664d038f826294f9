package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bio-xyz/bio-data-analysis/internal/agent"
	"github.com/bio-xyz/bio-data-analysis/internal/config"
	"github.com/bio-xyz/bio-data-analysis/internal/llm"
	"github.com/bio-xyz/bio-data-analysis/internal/logging"
	"github.com/bio-xyz/bio-data-analysis/internal/metrics"
	"github.com/bio-xyz/bio-data-analysis/internal/sandbox"
	"github.com/bio-xyz/bio-data-analysis/internal/server"
	"github.com/bio-xyz/bio-data-analysis/internal/task"
)

// Flag overrides; zero values mean "use the environment".
var (
	flagHost     string
	flagPort     int
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "bio-agent-server",
		Short: "Data analysis agent service",
		Long:  "Serves the task API: LLM-planned, sandbox-executed data analysis with artifact packaging.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	root.Flags().StringVar(&flagHost, "host", "", "bind address (overrides HOST)")
	root.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides PORT)")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if flagHost != "" {
		settings.Host = flagHost
	}
	if flagPort != 0 {
		settings.Port = flagPort
	}
	if flagLogLevel != "" {
		settings.LogLevel = flagLogLevel
	}

	logging.SetDefaultLevel(logging.ParseLevel(settings.LogLevel))
	logger := logging.NewComponentLogger("main")
	logger.Info("Starting bio-agent-server on %s:%d", settings.Host, settings.Port)

	m := metrics.New()

	sandboxGateway, err := sandbox.NewHTTPGateway(sandbox.Config{
		BaseURL:          settings.SandboxBaseURL,
		APIKey:           settings.SandboxAPIKey,
		Timeout:          settings.SandboxTimeout,
		WorkingDirectory: settings.WorkingDirectory,
		Logger:           logging.NewComponentLogger("sandbox"),
	})
	if err != nil {
		return fmt.Errorf("sandbox gateway: %w", err)
	}
	if settings.FileStorageEnabled {
		sandbox.ConfigureRemoteStore(sandboxGateway, sandbox.RemoteStoreConfig{
			Endpoint:  settings.StorageEndpoint,
			Bucket:    settings.StorageBucket,
			AccessKey: settings.StorageAccessKey,
			SecretKey: settings.StorageSecretKey,
		})
	}

	llmGateway := llm.NewGateway(llm.Config{
		OpenAIAPIKey:     settings.OpenAIAPIKey,
		OpenAIBaseURL:    settings.OpenAIBaseURL,
		AnthropicAPIKey:  settings.AnthropicAPIKey,
		AnthropicBaseURL: settings.AnthropicBaseURL,
		Timeout:          settings.LLMTimeout,
		Logger:           logging.NewComponentLogger("llm"),
	}, func(node string) llm.NodeConfig {
		nc := settings.NodeLLM(node)
		return llm.NodeConfig{Provider: nc.Provider, Model: nc.Model, MaxTokens: nc.MaxTokens}
	}, m)

	registry := task.NewRegistry(settings.TaskCleanupInterval, settings.TaskExpiry, logging.NewComponentLogger("registry"))
	registry.Start()
	defer registry.Stop()

	engine := agent.NewEngine(llmGateway, sandboxGateway, agent.Config{
		MaxStepRetries:   settings.MaxStepRetries,
		MaxCodeRetries:   settings.MaxCodeRetries,
		MaxGraphSteps:    settings.MaxGraphSteps,
		MaxOutputChars:   settings.MaxOutputChars,
		OutputSplitRatio: settings.OutputSplitRatio,
		WorkingDirectory: settings.WorkingDirectory,
		NotebookFilename: settings.NotebookFilename,
	}, logging.NewComponentLogger("engine"), m, registry.Touch)

	coordinator := task.NewCoordinator(registry, engine, sandboxGateway, task.CoordinatorConfig{
		WorkingDirectory:   settings.WorkingDirectory,
		DataDirectory:      settings.DataDirectory,
		FileStorageEnabled: settings.FileStorageEnabled,
	}, logging.NewComponentLogger("coordinator"), m)

	handlers := server.NewServer(coordinator, registry, settings.MaxFileSizeBytes(), logging.NewComponentLogger("http"))
	router := server.NewRouter(handlers, server.RouterConfig{
		APIKey:         settings.APIKey,
		AllowedOrigins: settings.AllowedOrigins,
	}, m)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		Handler:      router,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 0, // sync task runs can take a long time
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-quit:
		logger.Info("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
