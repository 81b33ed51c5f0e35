package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"coursewatch/internal/config"
	"coursewatch/internal/domain"
	"coursewatch/internal/event"
	"coursewatch/internal/notify"
	"coursewatch/internal/portal"
	"coursewatch/internal/ports"
	"coursewatch/internal/session"
	"coursewatch/internal/storage"
	"coursewatch/internal/summary"
)

const listenerTimeout = 15 * time.Second

// Application wires the gateway, registry, stores and notifier together and
// owns their lifecycle.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *session.Registry
	store    ports.SnapshotStore
	notifier ports.Notifier
	db       *sql.DB
}

// New builds a runnable application instance.
func New(cfg config.Config, logger *slog.Logger) (*Application, error) {
	loc := cfg.Portal.Location()

	gateway := portal.NewClient(cfg.Portal.BaseURL, nil, loc, logger.With("component", "portal"))
	notifier := notify.NewWebhook(cfg.Notifications.Discord.Webhooks, nil, logger.With("component", "notify"))

	a := &Application{cfg: cfg, logger: logger, notifier: notifier}
	if err := a.openStore(); err != nil {
		return nil, err
	}

	courseCacheMaxAge := time.Duration(cfg.Session.CourseCacheMinutes) * time.Minute
	builder := summary.NewBuilder(logger.With("component", "summary"), courseCacheMaxAge)

	opts := session.Options{
		KeepAliveInterval:     time.Duration(cfg.Session.KeepAliveMinutes) * time.Minute,
		KeepAliveFailureLimit: cfg.Session.KeepAliveFailureLimit,
		RetryAttempts:         cfg.Session.RetryAttempts,
		RetryDelay:            time.Duration(cfg.Session.RetryDelayMS) * time.Millisecond,
		Location:              loc,
		Summaries: func(ctx context.Context, c *session.Client, alert domain.Alert) (domain.Summary, error) {
			return builder.Build(ctx, c, alert)
		},
	}

	a.registry = session.NewRegistry(gateway, logger.With("component", "session"), opts)
	a.registry.OnCreate(a.attachListeners)
	return a, nil
}

// Registry exposes the session registry to the command-dispatch layer.
func (a *Application) Registry() *session.Registry {
	return a.registry
}

// Run restores persisted sessions, re-validates their credentials, then
// blocks until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	snapshots, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}

	for key, snap := range snapshots {
		// Listeners attach inside Resolve, before the import below may
		// itself raise expired.
		client := a.registry.Resolve(key)
		client.Restore(snap)
		if snap.Credential == "" {
			continue
		}
		if !client.Import(ctx, snap.Credential) {
			a.logger.Warn("stored credential no longer valid", "session", key)
		}
	}

	a.logger.Info("coursewatch running", "sessions", a.registry.Len())
	<-ctx.Done()

	a.registry.Shutdown()
	if a.db != nil {
		_ = a.db.Close()
	}
	return nil
}

func (a *Application) openStore() error {
	switch a.cfg.Storage.Driver {
	case "postgres":
		db, err := sql.Open("postgres", a.cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		store := storage.NewPostgresStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return err
		}
		a.db = db
		a.store = store
	default:
		a.store = storage.NewFileStore(a.cfg.Storage.Path)
	}
	return nil
}

// attachListeners bridges one session's signals to the store, the log and
// the notifier. Runs once per session, before any Import.
func (a *Application) attachListeners(c *session.Client) {
	key := c.Key()

	c.Hub().OnPersist(func(snap domain.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
		defer cancel()
		if err := a.store.Save(ctx, key, snap); err != nil {
			a.logger.Error("snapshot save failed", "session", key, "error", err)
		}
	})

	c.Hub().OnExpired(func() {
		a.logger.Info("session expired", "session", key)
	})

	c.Hub().OnDispatch(func(d event.Dispatch) {
		ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
		defer cancel()
		if err := a.notifier.Send(ctx, d); err != nil {
			a.logger.Error("dispatch delivery failed", "session", key, "dispatch", d.ID, "error", err)
		}
	})
}
