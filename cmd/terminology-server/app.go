package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vimalrajaj/MediSyncv/internal/config"
	"github.com/vimalrajaj/MediSyncv/internal/domain/diagnosis"
	"github.com/vimalrajaj/MediSyncv/internal/domain/terminology"
	"github.com/vimalrajaj/MediSyncv/internal/domain/termsync"
	"github.com/vimalrajaj/MediSyncv/internal/platform/cache"
	"github.com/vimalrajaj/MediSyncv/internal/platform/db"
	"github.com/vimalrajaj/MediSyncv/internal/platform/events"
	"github.com/vimalrajaj/MediSyncv/internal/platform/fhir"
	"github.com/vimalrajaj/MediSyncv/internal/platform/health"
	"github.com/vimalrajaj/MediSyncv/internal/platform/icd11"
	"github.com/vimalrajaj/MediSyncv/internal/platform/middleware"
	"github.com/vimalrajaj/MediSyncv/internal/platform/scheduling"
	"github.com/vimalrajaj/MediSyncv/internal/platform/snapshotdb"
	"github.com/vimalrajaj/MediSyncv/internal/platform/supervisor"
)

const version = "1.0.0"

// Startup task names.
const (
	taskSnapshotRestore = "snapshot-restore"
	taskBulkLoad        = "bulk-load"
	taskInitialSync     = "initial-sync"
)

// app holds the wired service and the resources it must release.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool      *pgxpool.Pool
	redis     *cache.Redis
	publisher events.Publisher
	snapshots *snapshotdb.Store

	repo      *terminology.Repository
	terms     *terminology.Service
	sync      *termsync.Synchronizer
	sessions  diagnosis.SessionStore
	diagnosis *diagnosis.Service

	tasks     *supervisor.Supervisor
	scheduler *scheduling.Scheduler
	echo      *echo.Echo
}

// newApp wires every component from cfg. Optional backends are skipped when
// not configured; a configured backend that cannot be reached is an error.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		publisher: events.NopPublisher{},
		tasks:     supervisor.New(logger),
		scheduler: scheduling.New(logger),
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		logger.Info().Msg("connected to database")
	}

	if cfg.RedisURL != "" {
		r, err := cache.NewRedis(ctx, cfg.RedisURL, "terminology:")
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = r
		logger.Info().Msg("connected to redis")
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, "terminology-server", logger)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("event publishing enabled")
	}

	if cfg.SnapshotPath != "" {
		s, err := snapshotdb.Open(cfg.SnapshotPath)
		if err != nil {
			a.close()
			return nil, err
		}
		a.snapshots = s
	}

	if err := a.wireDomain(); err != nil {
		a.close()
		return nil, err
	}
	a.echo = a.routes()
	return a, nil
}

func (a *app) wireDomain() error {
	cfg := a.cfg
	a.repo = terminology.NewRepository(a.logger)
	if cfg.OverridesFile != "" {
		o, err := terminology.LoadOverrides(cfg.OverridesFile)
		if err != nil {
			return err
		}
		a.repo.SetOverrides(o)
	}

	source, err := a.mappingSource()
	if err != nil {
		return err
	}
	engine := terminology.NewEngine(a.repo, terminology.WeightingPolicy{LexicalWeight: cfg.SearchLexicalWeight})
	a.terms = terminology.NewService(a.repo, engine, source, a.logger)
	if a.redis != nil {
		a.terms.UseSearcher(terminology.NewCachedSearcher(engine, a.repo, a.redis, cfg.SearchCacheTTL, a.logger))
	}

	var authority termsync.Authority
	if cfg.SyncEnabled() {
		client, err := icd11.NewClient(icd11.Config{
			BaseURL:        cfg.ICDBaseURL,
			TokenURL:       cfg.ICDTokenURL,
			ClientID:       cfg.ICDClientID,
			ClientSecret:   cfg.ICDClientSecret,
			MaxAttempts:    cfg.SyncMaxAttempts,
			BaseBackoff:    cfg.SyncBaseBackoff,
			RequestTimeout: cfg.ICDRequestTimeout,
		}, a.logger)
		if err != nil {
			return err
		}
		authority = client
	} else {
		a.logger.Warn().Msg("ICD_CLIENT_ID/ICD_CLIENT_SECRET not set, WHO ICD-11 sync disabled")
	}
	a.sync = termsync.New(a.repo, authority, a.publisher, termsync.Config{
		Release: cfg.ICDRelease,
		Terms:   cfg.ICDSearchTerms,
	}, a.logger)

	if a.pool != nil {
		a.sessions = diagnosis.NewSessionStorePG(a.pool)
	} else {
		a.sessions = diagnosis.NewMemoryStore()
	}
	a.diagnosis = diagnosis.NewService(diagnosis.NewAssembler(a.repo), a.sessions, a.publisher, a.logger)
	return nil
}

func (a *app) mappingSource() (terminology.Source, error) {
	if a.cfg.UsePostgresSource() {
		if a.pool == nil {
			return nil, errors.New("MAPPING_SOURCE=postgres needs DATABASE_URL")
		}
		return terminology.NewPGSource(a.pool), nil
	}
	if a.cfg.MappingSource == "" {
		return nil, nil
	}
	return terminology.OpenSource(a.cfg.MappingSource)
}

func (a *app) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(a.logger)

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout, "/api/v1/terminology/reload", "/api/v1/terminology/upload"))

	readiness := health.NewHandler(version, a.tasks, taskBulkLoad)
	if a.pool != nil {
		checker := db.NewChecker(a.pool)
		readiness.AddDependency("postgres", checker, true)
		e.GET("/health/db", checker.Handler())
	}
	if a.redis != nil {
		readiness.AddDependency("redis", a.redis, false)
	}
	readiness.RegisterRoutes(e)

	api := e.Group("/api/v1")
	terminology.NewHandler(a.terms).RegisterRoutes(api)
	termsync.NewHandler(a.sync, a.repo, a.tasks).RegisterRoutes(api)
	diagnosis.NewHandler(a.diagnosis).RegisterRoutes(api)

	fhirGroup := e.Group("/fhir")
	capabilities := fhir.NewCapabilityBuilder("/fhir", version)
	adapter := terminology.NewFHIRAdapter(a.terms.Operations(), a.cfg.ICDRelease)
	fhir.NewLookupHandler(adapter).RegisterRoutes(fhirGroup, capabilities)
	fhir.NewTranslateHandler(adapter).RegisterRoutes(fhirGroup, capabilities)
	fhir.NewExpandHandler(adapter).RegisterRoutes(fhirGroup, capabilities)
	fhir.NewCapabilityHandler(capabilities).RegisterRoutes(fhirGroup)
	return e
}

// start launches the supervised startup tasks and the sync schedule. ctx
// bounds every background job.
func (a *app) start(ctx context.Context) {
	restored := make(chan struct{})
	if a.snapshots != nil {
		a.tasks.Register(taskSnapshotRestore)
		persister := terminology.NewPersister(a.repo, a.snapshots, a.logger)
		go func() {
			if err := persister.Run(ctx); err != nil {
				a.logger.Error().Err(err).Msg("snapshot persister stopped")
			}
		}()
		a.tasks.Go(ctx, taskSnapshotRestore, func(ctx context.Context) error {
			defer close(restored)
			used, err := terminology.RestoreSnapshot(ctx, a.repo, a.snapshots)
			if err != nil {
				return err
			}
			a.logger.Info().Bool("used", used).Msg("snapshot restore finished")
			return nil
		})
	} else {
		close(restored)
	}

	a.tasks.Register(taskBulkLoad)
	a.tasks.Go(ctx, taskBulkLoad, func(ctx context.Context) error {
		select {
		case <-restored:
		case <-ctx.Done():
			return ctx.Err()
		}
		n, err := a.terms.Reload(ctx)
		if errors.Is(err, terminology.ErrNoSource) {
			a.logger.Warn().Msg("MAPPING_SOURCE not set, starting with an empty repository")
			return nil
		}
		if err != nil {
			return err
		}
		a.logger.Info().Int("entries", n).Interface("stats", a.repo.Stats()).Msg("bulk load complete")
		return nil
	})

	if !a.sync.Enabled() {
		return
	}
	a.tasks.Register(taskInitialSync)
	a.scheduler.After(ctx, taskInitialSync, a.cfg.SyncStartupDelay, func(ctx context.Context) {
		a.tasks.Go(ctx, taskInitialSync, func(ctx context.Context) error {
			return runInitialSync(ctx, a.sync, a.logger)
		})
	})
	a.scheduler.Every(ctx, "icd11-sync", a.cfg.SyncInterval, func(ctx context.Context) {
		res, err := a.sync.TriggerSync(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("scheduled sync not started")
			return
		}
		a.logger.Info().Str("result", string(res)).Msg("scheduled sync triggered")
	})
}

type syncRunner interface {
	RunOnce(ctx context.Context) (termsync.State, error)
}

// runInitialSync runs the startup cycle. A cycle already started by the
// scheduler or an operator counts as done.
func runInitialSync(ctx context.Context, s syncRunner, logger zerolog.Logger) error {
	st, err := s.RunOnce(ctx)
	if errors.Is(err, termsync.ErrAlreadyRunning) {
		logger.Info().Msg("initial sync skipped, a cycle is already running")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info().Int("upserted", st.EntriesUpserted).Msg("initial sync complete")
	return nil
}

// shutdown stops the HTTP server, cancels sync and waits for background work.
// cancel must stop the context passed to start.
func (a *app) shutdown(ctx context.Context, cancel context.CancelFunc) error {
	var errs []error
	if err := a.echo.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	cancel()
	if err := a.sync.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sync shutdown: %w", err))
	}
	a.scheduler.Wait()
	a.tasks.Wait()
	a.close()
	return errors.Join(errs...)
}

func (a *app) close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("closing event publisher")
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.snapshots != nil {
		_ = a.snapshots.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// waitReady polls until the readiness tasks finish or ctx expires.
func (a *app) waitReady(ctx context.Context) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if a.tasks.Ready(taskBulkLoad) {
			return nil
		}
		for _, task := range a.tasks.Tasks() {
			if task.Name == taskBulkLoad && task.Status == supervisor.StatusFailed {
				return fmt.Errorf("%s failed: %s", taskBulkLoad, task.Error)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
