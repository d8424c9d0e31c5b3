// Package app initializes and holds long-lived worker services, acting as a
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/api"
	"github.com/JakeFAU/review-harvester/internal/checkpoint"
	"github.com/JakeFAU/review-harvester/internal/claim"
	claimredis "github.com/JakeFAU/review-harvester/internal/claim/redis"
	"github.com/JakeFAU/review-harvester/internal/clock/system"
	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/dispatcher"
	"github.com/JakeFAU/review-harvester/internal/fetcher/review"
	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/id/uuid"
	kafkapublisher "github.com/JakeFAU/review-harvester/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/review-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/review-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/review-harvester/internal/queue"
	queueMemory "github.com/JakeFAU/review-harvester/internal/queue/memory"
	queueRedis "github.com/JakeFAU/review-harvester/internal/queue/redis"
	"github.com/JakeFAU/review-harvester/internal/session"
	"github.com/JakeFAU/review-harvester/internal/storage/gcs"
	"github.com/JakeFAU/review-harvester/internal/storage/local"
	storageMemory "github.com/JakeFAU/review-harvester/internal/storage/memory"
	"github.com/JakeFAU/review-harvester/internal/storage/postgres"
	"github.com/JakeFAU/review-harvester/internal/worker"
)

// ClaimStore is a claim coordinator that can also report lock state.
type ClaimStore interface {
	harvest.Claimer
	Inspect(ctx context.Context, unitID string) (harvest.LockState, error)
}

// WorkQueue is both ends of the work queue.
type WorkQueue interface {
	harvest.Queue
	harvest.Enqueuer
}

// App holds the shared services of one worker process.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	WorkerID    string
	Clock       *system.Clock
	Checkpoints *checkpoint.Store
	Claims      ClaimStore
	Queue       WorkQueue
	// Ledger is nil unless ledger.dsn is set.
	Ledger *postgres.Ledger

	closers []func() error
}

// New builds the checkpoint store, claim coordinator, queue and optional
// ledger. Services that only the work command needs are built by Dispatcher.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	workerID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("worker id: %w", err)
	}
	a := &App{
		Config:   cfg,
		Logger:   logger.With(zap.String("worker_id", workerID)),
		WorkerID: workerID,
		Clock:    system.New(),
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Logger.Info("application services initialized",
		zap.String("claim_backend", cfg.Claim.Backend),
		zap.String("queue_provider", cfg.Queue.Provider),
		zap.Bool("ledger", a.Ledger != nil),
	)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	var err error

	a.Checkpoints, err = checkpoint.New(checkpoint.Config{
		Dir:       cfg.Storage.ReviewDir,
		ChunkSize: cfg.Storage.ChunkSize,
	}, a.Logger.Named("checkpoint"))
	if err != nil {
		return fmt.Errorf("init checkpoint store: %w", err)
	}

	switch cfg.Claim.Backend {
	case "redis":
		coord, closeFn, err := claimredis.Dial(claimredis.Config{
			Addr:          cfg.Claim.RedisAddr,
			Prefix:        cfg.Claim.RedisPrefix,
			LockStaleness: cfg.Claim.LockStaleness(),
			OwnerID:       a.WorkerID,
		}, a.Clock, a.Logger.Named("claim"))
		if err != nil {
			return fmt.Errorf("init redis claims: %w", err)
		}
		a.Claims = coord
		a.closers = append(a.closers, closeFn)
	default:
		coord, err := claim.New(claim.Config{
			LockDir:       cfg.Storage.LockDir,
			MarkerDir:     cfg.Storage.MarkerDir,
			LockStaleness: cfg.Claim.LockStaleness(),
			OwnerID:       a.WorkerID,
		}, a.Clock, a.Logger.Named("claim"))
		if err != nil {
			return fmt.Errorf("init claims: %w", err)
		}
		a.Claims = coord
	}

	switch cfg.Queue.Provider {
	case "none":
		a.Queue = queue.NoOp{}
	case "redis":
		q, closeFn, err := queueRedis.Dial(queueRedis.Config{
			Addr:       cfg.Queue.RedisAddr,
			Prefix:     cfg.Queue.RedisPrefix,
			Visibility: time.Duration(cfg.Queue.VisibilityTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("init redis queue: %w", err)
		}
		a.Queue = q
		a.closers = append(a.closers, closeFn)
	default:
		q := queueMemory.NewQueue(time.Duration(cfg.Queue.VisibilityTimeoutSeconds) * time.Second)
		a.Queue = q
		a.closers = append(a.closers, func() error { q.Close(); return nil })
	}

	if cfg.Ledger.DSN != "" {
		ledger, err := postgres.NewLedger(ctx, postgres.LedgerConfig{
			DSN:      cfg.Ledger.DSN,
			Table:    cfg.Ledger.Table,
			MaxConns: cfg.Ledger.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init ledger: %w", err)
		}
		a.closers = append(a.closers, func() error { ledger.Close(); return nil })
		if err := ledger.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
		a.Ledger = ledger
	}
	return nil
}

// Dispatcher builds the harvest client, session warmer, archive, outcome sinks
// and unit processor, and returns the poll loop around them.
func (a *App) Dispatcher(ctx context.Context, maxUnits int) (*dispatcher.Dispatcher, error) {
	cfg := a.Config
	clientCfg := cfg.Harvest.ClientConfig()

	httpClient, err := review.NewHTTPClient(clientCfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	warmer, err := a.warmer(httpClient)
	if err != nil {
		return nil, err
	}
	harvester, err := review.New(clientCfg, httpClient, a.Clock, a.Logger.Named("review"), review.WithWarmer(warmer))
	if err != nil {
		return nil, fmt.Errorf("init review client: %w", err)
	}

	archive, err := a.archive(ctx)
	if err != nil {
		return nil, err
	}
	proc := worker.New(a.Checkpoints, a.Claims, harvester, archive, a.Clock, worker.Config{
		WorkerID:      a.WorkerID,
		ArchivePrefix: cfg.Archive.Prefix,
	}, a.Logger.Named("worker"))

	sinks, err := a.sinks(ctx)
	if err != nil {
		return nil, err
	}
	return dispatcher.New(a.Queue, proc, a.Clock, cfg.DispatcherConfig(maxUnits), a.Logger.Named("dispatcher"),
		dispatcher.WithSinks(sinks...),
	), nil
}

func (a *App) warmer(httpClient *http.Client) (review.Warmer, error) {
	h := a.Config.Harvest
	if h.SessionMode == "chromedp" {
		w, err := session.NewChromedpWarmer(session.ChromedpConfig{
			UserAgent:         h.UserAgent,
			NavigationTimeout: time.Duration(h.NavTimeoutSeconds) * time.Second,
		}, httpClient.Jar, a.Logger.Named("session"))
		if err != nil {
			return nil, fmt.Errorf("init chromedp warmer: %w", err)
		}
		a.closers = append(a.closers, func() error { w.Close(); return nil })
		return w, nil
	}
	w, err := session.NewHTTPWarmer(httpClient, h.UserAgent, a.Logger.Named("session"))
	if err != nil {
		return nil, fmt.Errorf("init http warmer: %w", err)
	}
	return w, nil
}

func (a *App) archive(ctx context.Context) (harvest.BlobStore, error) {
	cfg := a.Config.Archive
	switch cfg.Provider {
	case "memory":
		return storageMemory.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case "gcs":
		store, closeFn, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, closeFn)
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) sinks(ctx context.Context) ([]harvest.OutcomeSink, error) {
	cfg := a.Config.Publisher
	var sinks []harvest.OutcomeSink
	if a.Ledger != nil {
		sinks = append(sinks, a.Ledger)
	}

	var pub harvest.Publisher
	switch cfg.Provider {
	case "memory":
		pub = memorypublisher.New()
	case "pubsub":
		p, closeFn, err := pubsubpublisher.Dial(ctx, cfg.ProjectID, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, closeFn)
		pub = p
	case "kafka":
		writer, err := kafkapublisher.NewWriter(cfg.Brokers, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("init kafka writer: %w", err)
		}
		p := kafkapublisher.New(writer)
		a.closers = append(a.closers, p.Close)
		pub = p
	}
	if pub != nil {
		sinks = append(sinks, dispatcher.PublisherSink{Publisher: pub, Topic: cfg.Topic})
	}
	return sinks, nil
}

// StatusServer returns the status API over the shared stores.
func (a *App) StatusServer() *api.Server {
	var history api.History
	if a.Ledger != nil {
		history = a.Ledger
	}
	return api.NewServer(a.Checkpoints, a.Claims, history, a.Logger.Named("api"))
}

// Close releases every service in reverse construction order.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error closing application services", zap.Error(err))
	}
}
