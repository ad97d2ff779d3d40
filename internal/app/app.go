// Package app assembles the access components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"kompassi.org/internal/access"
	"kompassi.org/internal/config"
	"kompassi.org/internal/events"
	"kompassi.org/internal/obs"
	"kompassi.org/internal/queue"
	"kompassi.org/internal/slack"
	"kompassi.org/internal/store/pg"
)

// Mode selects how the engine dispatches approved grants.
type Mode int

const (
	// Worker executes grants inline; it is the consumer of the queue.
	Worker Mode = iota
	// Client defers grants to the queue when one is configured.
	Client
)

type App struct {
	Config      *config.Config
	Store       access.Store
	Registry    *access.Registry
	Engine      *access.Engine
	Provisioner *access.Provisioner
	Queue       *queue.Queue
	PG          *pg.Store

	closers []func() error
}

// Open connects to Postgres, RabbitMQ and Kafka as configured.
func Open(ctx context.Context, cfg *config.Config, mode Mode) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database url is required (ACCESS_DATABASE_URL)")
	}
	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &App{Config: cfg, PG: store}
	a.OnClose(store.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	if cfg.Deferred() {
		q, err := queue.Dial(cfg.AMQPURL, cfg.GrantQueue)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Queue = q
		a.OnClose(q.Close)
	}

	var pub access.Publisher = events.Nop{}
	if cfg.EventsEnabled() {
		p := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.OnClose(p.Close)
		pub = p
	}

	var enq access.Enqueuer
	if mode == Client && a.Queue != nil {
		enq = a.Queue
	}
	if err := a.assemble(store, pub, enq); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Assemble builds an App around an existing store. enq may be nil for
// inline dispatch.
func Assemble(cfg *config.Config, store access.Store, pub access.Publisher, enq access.Enqueuer) (*App, error) {
	a := &App{Config: cfg}
	if err := a.assemble(store, pub, enq); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) assemble(store access.Store, pub access.Publisher, enq access.Enqueuer) error {
	a.Store = store
	a.Registry = access.NewRegistry()
	slack.Register(a.Registry, NewSlackClient(a.Config), store.Privileges())

	logger := obs.Logger()
	opts := []access.EngineOption{access.WithPublisher(pub), access.WithLogger(logger)}
	if enq != nil {
		opts = append(opts, access.WithQueue(enq))
	}
	engine, err := access.NewEngine(store, a.Registry, opts...)
	if err != nil {
		return err
	}
	prov, err := access.NewProvisioner(store, a.Registry,
		access.WithAliasPublisher(pub),
		access.WithAliasLogger(logger),
	)
	if err != nil {
		return err
	}
	a.Engine = engine
	a.Provisioner = prov
	return nil
}

// NewSlackClient configures the invitation client from cfg.
func NewSlackClient(cfg *config.Config) *slack.Client {
	limit := rate.Limit(cfg.SlackRatePerMin / 60)
	return slack.New(
		slack.WithHTTPClient(&http.Client{Timeout: cfg.SlackTimeout}),
		slack.WithRateLimit(limit, cfg.SlackBurst),
		slack.WithLogger(obs.Logger()),
	)
}

// OnClose registers fn to run when the App is closed.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
