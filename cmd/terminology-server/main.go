package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vimalrajaj/MediSyncv/internal/config"
	"github.com/vimalrajaj/MediSyncv/internal/domain/terminology"
	"github.com/vimalrajaj/MediSyncv/internal/platform/db"
	"github.com/vimalrajaj/MediSyncv/internal/platform/snapshotdb"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "terminology-server",
		Short: "AYUSH terminology and ICD-11 mapping server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	} else {
		logger = zerolog.New(out)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Str("service", "terminology-server").Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the terminology API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg, os.Stdout))
		},
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.start(ctx)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server error")
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := a.shutdown(shutdownCtx, cancel); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
		if serveErr == nil {
			serveErr = err
		}
	}
	logger.Info().Msg("server stopped")
	return serveErr
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Parse a bulk mapping file and report counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runLoad(cmd.Context(), cfg, args[0], newLogger(cfg, os.Stderr), cmd.OutOrStdout())
		},
	}
}

// runLoad indexes path into a fresh repository and, when SNAPSHOT_PATH is
// set, stores the result for the next warm start.
func runLoad(ctx context.Context, cfg *config.Config, path string, logger zerolog.Logger, out io.Writer) error {
	src, err := terminology.OpenSource(path)
	if err != nil {
		return err
	}
	repo := terminology.NewRepository(logger)
	if cfg.OverridesFile != "" {
		o, err := terminology.LoadOverrides(cfg.OverridesFile)
		if err != nil {
			return err
		}
		repo.SetOverrides(o)
	}
	n, err := repo.Load(ctx, src)
	if err != nil {
		return err
	}
	stats := repo.Stats()
	fmt.Fprintf(out, "Indexed %d row(s) from %s\n", n, src.Name())
	printJSON(out, stats)

	if cfg.SnapshotPath == "" {
		return nil
	}
	store, err := snapshotdb.Open(cfg.SnapshotPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := terminology.SaveSnapshot(ctx, store, repo.Snapshot()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Snapshot written to %s\n", cfg.SnapshotPath)
	return nil
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one WHO ICD-11 synchronization cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, newLogger(cfg, os.Stderr))
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.terms.Reload(ctx); err != nil && !errors.Is(err, terminology.ErrNoSource) {
				return fmt.Errorf("bulk load: %w", err)
			}
			state, err := a.sync.RunOnce(ctx)
			printJSON(cmd.OutOrStdout(), state)
			if err != nil {
				return err
			}
			if a.snapshots != nil {
				return terminology.SaveSnapshot(ctx, a.snapshots, a.repo.Snapshot())
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.Migrations()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func printJSON(out io.Writer, v interface{}) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
