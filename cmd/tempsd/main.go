// Command tempsd is the deployment orchestration core's single binary: it
// boots every component (C1-C13) against one configuration and serves the
// HTTP API as a single long-running process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/temps-sh/temps-core/internal/api"
	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/backup"
	"github.com/temps-sh/temps-core/internal/config"
	"github.com/temps-sh/temps-core/internal/container"
	"github.com/temps-sh/temps-core/internal/crypto"
	"github.com/temps-sh/temps-core/internal/dnsproxy"

	// Blank-imported for their init()-time registration against shared
	// registries; each driver package registers itself as a side effect
	// of being imported.
	_ "github.com/temps-sh/temps-core/internal/dnsproxy/providers"
	_ "github.com/temps-sh/temps-core/internal/extsvc"

	"github.com/temps-sh/temps-core/internal/events"
	"github.com/temps-sh/temps-core/internal/executor"
	"github.com/temps-sh/temps-core/internal/extsvcmgr"
	"github.com/temps-sh/temps-core/internal/jobprocessor"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/planner"
	"github.com/temps-sh/temps-core/internal/store"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "tempsd",
		Short: "deployment orchestration core",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (optional; env vars and defaults apply otherwise)")

	backupCmd := &cobra.Command{Use: "backup", Short: "backup scheduler controls"}
	backupCmd.AddCommand(backupRunCmd())

	root.AddCommand(serveCmd(), migrateCmd(), backupCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, s, crypt, err := boot()
			if err != nil {
				return err
			}
			defer log.Sync()

			adapter, err := dockerAdapter(cfg, log)
			if err != nil {
				return err
			}

			bus := events.New(log)
			svcs := extsvcmgr.New(s, adapter, crypt, log)
			plan := planner.New(s, svcs)
			exec := executor.New(s, bus, log)
			executor.DefaultHandlers(exec, s, adapter, executor.DefaultGitFetcher, bus)
			proc := jobprocessor.New(s, bus, plan, exec, nil, log)
			reconciler := dnsproxy.New(s, adapter, crypt, cfg.PublicAddr, log)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			go proc.Run(ctx)
			go reconciler.Run(ctx, bus)

			srv := api.New(s, bus, log,
				api.WithBearerToken(cfg.BearerToken),
				api.WithCORSOrigin(cfg.CORSOrigin))

			log.Info("tempsd serving", zap.String("addr", cfg.Addr))
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(cfg.Addr) }()

			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply the relational schema to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("migrate: database_url is not configured")
			}
			pg, err := store.OpenPostgres(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()
			return pg.Migrate(context.Background())
		},
	}
}

func backupRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the cron-driven backup scheduler and block",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, s, crypt, err := boot()
			if err != nil {
				return err
			}
			defer log.Sync()

			adapter, err := dockerAdapter(cfg, log)
			if err != nil {
				return err
			}

			engine := backup.New(s, adapter, crypt, log)
			sched := backup.NewScheduler(engine, s, log)
			svcs := extsvcmgr.New(s, adapter, crypt, log)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sourceOf := func(ctx context.Context, scheduleID string) (model.S3Source, error) {
				return scheduleSource(ctx, s, scheduleID)
			}

			// A schedule's backup_type ("all", empty, or a service type such as
			// "postgres") picks which services it covers; every matching service
			// is backed up to the schedule's one S3 source on each fire.
			run := func(ctx context.Context, schedule model.BackupSchedule) error {
				src, err := s.GetS3Source(ctx, schedule.S3SourceID)
				if err != nil {
					return err
				}
				services, err := s.ListServices(ctx)
				if err != nil {
					return err
				}
				scheduleID := schedule.ID
				for _, svc := range services {
					if schedule.BackupType != "" && schedule.BackupType != "all" && schedule.BackupType != string(svc.Type) {
						continue
					}
					cfgMap, err := svcs.DecryptConfig(svc)
					if err != nil {
						log.Warn("backup: scheduled config decrypt failed", zap.String("service", svc.ID), zap.Error(err))
						continue
					}
					if _, err := engine.BackupService(ctx, svc, cfgMap, src, &scheduleID, schedule.RetentionDays); err != nil {
						log.Warn("backup: scheduled backup failed", zap.String("service", svc.ID), zap.Error(err))
					}
				}
				return nil
			}

			if err := sched.Start(ctx, run, sourceOf); err != nil {
				return err
			}
			defer sched.Stop()

			<-ctx.Done()
			return nil
		},
	}
}

func scheduleSource(ctx context.Context, s store.Store, scheduleID string) (model.S3Source, error) {
	schedules, err := s.ListSchedules(ctx)
	if err != nil {
		return model.S3Source{}, err
	}
	for _, sc := range schedules {
		if sc.ID == scheduleID {
			return s.GetS3Source(ctx, sc.S3SourceID)
		}
	}
	return model.S3Source{}, apperr.NotFoundf("schedule %s not found", scheduleID)
}

func boot() (config.Config, *zap.Logger, store.Store, *crypto.Service, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	var crypt *crypto.Service
	if cfg.CryptoKeyBase64 != "" {
		crypt, err = crypto.NewFromBase64(cfg.CryptoKeyBase64)
	} else {
		crypt, err = crypto.New(make([]byte, crypto.KeySize))
	}
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	var s store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return config.Config{}, nil, nil, nil, err
		}
		s = pg
	} else {
		s = store.NewMemory()
	}

	return cfg, log, s, crypt, nil
}

// dockerAdapter builds a container.Adapter and ensures the shared network
// every deployment's containers join exists before anything else runs.
func dockerAdapter(cfg config.Config, log *zap.Logger) (*container.DockerAdapter, error) {
	if cfg.DockerHost != "" {
		os.Setenv("DOCKER_HOST", cfg.DockerHost)
	}
	adapter, err := container.New(log)
	if err != nil {
		return nil, fmt.Errorf("docker adapter: %w", err)
	}
	if cfg.NetworkName != "" {
		if err := adapter.EnsureNetwork(context.Background(), cfg.NetworkName); err != nil {
			return nil, fmt.Errorf("docker adapter: ensure network: %w", err)
		}
	}
	return adapter, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
