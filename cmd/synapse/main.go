// Package main provides the CLI entry point for the Synapse chat gateway.
//
// Start the server:
//
//	synapse serve --config synapse.yaml
//
// Configuration can also point elsewhere via the SYNAPSE_CONFIG environment
// variable; OPENAI_API_KEY and SYNAPSE_JWT_SECRET are expanded inside the
// config file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/synapsehq/synapse/internal/agent"
	"github.com/synapsehq/synapse/internal/auth"
	"github.com/synapsehq/synapse/internal/cancel"
	"github.com/synapsehq/synapse/internal/config"
	"github.com/synapsehq/synapse/internal/gateway"
	"github.com/synapsehq/synapse/internal/ingestion"
	"github.com/synapsehq/synapse/internal/observability"
	"github.com/synapsehq/synapse/internal/threads"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "synapse",
		Short: "Synapse multi-tenant chat gateway",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("synapse %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (default synapse.yaml, $SYNAPSE_CONFIG)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("SYNAPSE_CONFIG")
	}
	if path == "" {
		path = "synapse.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func runServe(cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	verifier := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry.Std())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	directory, err := threads.NewSQLiteDirectory(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open thread directory: %w", err)
	}
	defer directory.Close()

	if cfg.Agent.OpenAIKey == "" {
		return fmt.Errorf("agent.openai_key is required")
	}
	runtime := agent.NewOpenAIRuntime(cfg.Agent.OpenAIKey, cfg.Agent.Model,
		agent.WithMaxTokens(cfg.Agent.MaxTokens))

	server, err := gateway.NewServer(gateway.Options{
		Logger:       logger,
		Metrics:      metrics,
		Verifier:     verifier,
		Directory:    directory,
		Cancels:      cancel.NewRedisStore(redisClient, logger),
		Jobs:         ingestion.NewRedisStore(redisClient),
		Runtime:      runtime,
		PollInterval: cfg.Ingestion.PollInterval.Std(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting synapse gateway",
		"version", version, "addr", cfg.Server.Addr())
	return server.ListenAndServe(ctx, cfg.Server.Addr())
}
