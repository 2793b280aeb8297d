// Package app assembles a running vault from a config.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koustreak/mediavault/internal/auth"
	"github.com/koustreak/mediavault/internal/config"
	"github.com/koustreak/mediavault/internal/database"
	"github.com/koustreak/mediavault/internal/database/mysql"
	"github.com/koustreak/mediavault/internal/database/postgres"
	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/filestore"
	"github.com/koustreak/mediavault/internal/filestore/localfs"
	"github.com/koustreak/mediavault/internal/filestore/minio"
	"github.com/koustreak/mediavault/internal/iopool"
	"github.com/koustreak/mediavault/internal/logger"
	"github.com/koustreak/mediavault/internal/notify"
	"github.com/koustreak/mediavault/internal/notify/amqp"
	"github.com/koustreak/mediavault/internal/notify/journal"
	"github.com/koustreak/mediavault/internal/notify/redis"
	"github.com/koustreak/mediavault/internal/server"
	"github.com/koustreak/mediavault/internal/staging"
	"github.com/koustreak/mediavault/internal/vault"
)

// staleStagingAge is how old a leftover staging file must be before the
// startup sweep removes it.
const staleStagingAge = time.Hour

// App owns every long-lived component.
type App struct {
	cfg      *config.Config
	log      *logger.Logger
	store    filestore.Store
	notifier *notify.Notifier
	journal  *journal.Journal
	gate     *auth.Gate
	vault    *vault.Service
	server   *server.Server

	closeOnce sync.Once
	closeErr  error
}

// New connects to the object store and the configured publishers and wires
// the HTTP server. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	gate, err := auth.New(&cfg.Auth)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	pool := iopool.New(cfg.IO.Workers)
	stager, err := staging.New(&cfg.Staging, pool, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if _, err := stager.Sweep(staleStagingAge); err != nil {
		log.WarnWith("sweep staging dir", err, map[string]any{"dir": stager.Dir()})
	}

	pub, jr, err := openPublishers(ctx, &cfg.Notify, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notifier := notify.New(&cfg.Notify.Config, pub, log)

	svc := vault.New(store, stager, notifier,
		vault.WithPool(pool),
		vault.WithChunkSize(cfg.IO.ChunkSize),
		vault.WithLogger(log),
	)

	opts := []server.Option{server.WithLogger(log), server.WithReadiness(store)}
	if jr != nil {
		opts = append(opts, server.WithEventLog(jr))
	}
	srv := server.New(&cfg.Server, svc, gate, opts...)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		notifier: notifier,
		journal:  jr,
		gate:     gate,
		vault:    svc,
		server:   srv,
	}, nil
}

// Server returns the HTTP server.
func (a *App) Server() *server.Server { return a.server }

// Vault returns the vault service.
func (a *App) Vault() *vault.Service { return a.vault }

// Notifier returns the event notifier.
func (a *App) Notifier() *notify.Notifier { return a.notifier }

// Run serves HTTP until ctx is done, then releases every component.
func (a *App) Run(ctx context.Context) error {
	serveErr := a.server.ListenAndServe(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, a.Close(closeCtx))
}

// Close drains pending notifications, then closes publishers and the
// store. Safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		stats := a.notifier.Stats()
		notifyErr := a.notifier.Close(ctx)
		storeErr := a.store.Close()
		a.log.Info().
			Int64("events_published", stats.Published).
			Int64("events_failed", stats.Failed).
			Int64("events_dropped", stats.Dropped).
			Msg("stopped")
		a.closeErr = errors.Join(notifyErr, storeErr)
	})
	return a.closeErr
}

// OpenStore connects the configured object-store driver.
func OpenStore(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid storage config", err)
	}
	if cfg.Provider == filestore.ProviderLocal {
		s, err := localfs.New(cfg.Root)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	d, err := minio.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// OpenDB connects the configured SQL driver.
func OpenDB(ctx context.Context, cfg *database.Config) (database.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid database config", err)
	}
	if cfg.Driver == database.DriverMySQL {
		db, err := mysql.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	db, err := postgres.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// openPublishers builds one publisher per configured backend. The journal,
// when enabled, is also returned so the server can list events.
func openPublishers(ctx context.Context, cfg *config.NotifyConfig, log *logger.Logger) (notify.Publisher, *journal.Journal, error) {
	var (
		pubs notify.Fanout
		jr   *journal.Journal
	)
	fail := func(err error) (notify.Publisher, *journal.Journal, error) {
		_ = pubs.Close()
		return nil, nil, err
	}

	for _, b := range cfg.Backends {
		switch b {
		case config.BackendAMQP:
			p, err := amqp.Dial(&cfg.AMQP)
			if err != nil {
				return fail(err)
			}
			pubs = append(pubs, p)
		case config.BackendRedis:
			p, err := redis.New(ctx, &cfg.Redis)
			if err != nil {
				return fail(err)
			}
			pubs = append(pubs, p)
		case config.BackendJournal:
			db, err := OpenDB(ctx, &cfg.Journal)
			if err != nil {
				return fail(err)
			}
			jr = journal.New(db, cfg.Journal.QueryTimeout)
			pubs = append(pubs, jr)
			if err := jr.EnsureSchema(ctx); err != nil {
				return fail(err)
			}
		default:
			return fail(errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown notify backend %q", b)))
		}
		log.Info().Str("backend", string(b)).Msg("event publisher ready")
	}

	switch len(pubs) {
	case 0:
		return nil, nil, nil
	case 1:
		return pubs[0], jr, nil
	default:
		return pubs, jr, nil
	}
}
