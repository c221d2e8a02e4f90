package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/airlift/buildforge/internal/config"
	"github.com/airlift/buildforge/internal/observability"
	"github.com/airlift/buildforge/internal/server"
	"github.com/airlift/buildforge/pkg/artifact"
	artifactfile "github.com/airlift/buildforge/pkg/artifact/file"
	artifacts3 "github.com/airlift/buildforge/pkg/artifact/s3"
	"github.com/airlift/buildforge/pkg/events"
	"github.com/airlift/buildforge/pkg/jobstore"
	"github.com/airlift/buildforge/pkg/orchestrator"
	"github.com/airlift/buildforge/pkg/provider/github"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the build orchestration server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store, err := jobstore.Open(ctx, jobstore.Config{Path: cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() { _ = store.Close() }()

	ci, err := github.New(github.Config{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.APIBaseURL,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("configure provider client: %w", err)
	}

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = publisher.Close() }()

	orch := orchestrator.New(store, ci, artifacts, publisher, logger, orchestrator.Config{
		ForkGraceDelay:     cfg.GitHub.ForkGraceDelay,
		MonitorInterval:    cfg.Monitor.Interval,
		MonitorMaxChecks:   cfg.Monitor.MaxChecks,
		ReaperInterval:     cfg.Reaper.Interval,
		AbandonAfter:       cfg.Reaper.AbandonAfter,
		CleanupMaxAttempts: cfg.Cleanup.MaxAttempts,
		CleanupBackoff:     cfg.Cleanup.Backoff,
		WorkflowPath:       cfg.Build.WorkflowPath,
		TeamID:             cfg.Build.TeamID,
		CallbackURL:        cfg.Build.CallbackURL,
	})
	defer orch.Close()
	orch.StartReaper()

	srv := server.New(orch, artifacts, logger, server.Options{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		WebhookSecret:   cfg.Webhook.Secret,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	logger.Info("buildforge starting",
		zap.String("version", Version),
		zap.String("addr", srv.Addr()),
		zap.String("store", cfg.Store.Path),
		zap.String("artifacts", cfg.Artifacts.Backend))

	return srv.Run(ctx)
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "s3":
		st, err := artifacts3.New(ctx, artifacts3.Config{
			Bucket:          cfg.Artifacts.S3.Bucket,
			Prefix:          cfg.Artifacts.S3.Prefix,
			Region:          cfg.Artifacts.S3.Region,
			Endpoint:        cfg.Artifacts.S3.Endpoint,
			ForcePathStyle:  cfg.Artifacts.S3.ForcePathStyle,
			AccessKeyID:     cfg.Artifacts.S3.AccessKeyID,
			SecretAccessKey: cfg.Artifacts.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("configure s3 artifact store: %w", err)
		}
		return st, nil
	default:
		st, err := artifactfile.New(cfg.Artifacts.Dir)
		if err != nil {
			return nil, fmt.Errorf("configure file artifact store: %w", err)
		}
		return st, nil
	}
}

func newPublisher(ctx context.Context, cfg *config.Config) (events.Publisher, error) {
	if cfg.Events.Backend != "redis" {
		return events.Nop{}, nil
	}
	pub, err := events.NewRedisPublisher(ctx, events.RedisConfig{
		Addr:     cfg.Events.Redis.Addr,
		Password: cfg.Events.Redis.Password,
		DB:       cfg.Events.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("configure redis publisher: %w", err)
	}
	return pub, nil
}
