// Package cmd wires the engine's components from configuration for the binaries.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpatch/pkg/cache"
	"github.com/dukex/flowpatch/pkg/capability"
	"github.com/dukex/flowpatch/pkg/config"
	"github.com/dukex/flowpatch/pkg/datapill"
	"github.com/dukex/flowpatch/pkg/eventbus"
	"github.com/dukex/flowpatch/pkg/mutation"
	"github.com/dukex/flowpatch/pkg/order"
	"github.com/dukex/flowpatch/pkg/persistence"
	"github.com/dukex/flowpatch/pkg/protocol"
	"github.com/dukex/flowpatch/pkg/provision"
	"github.com/dukex/flowpatch/pkg/services"
	"github.com/dukex/flowpatch/pkg/session"
	"github.com/dukex/flowpatch/pkg/transport"
	"go.opentelemetry.io/otel/trace"
)

// Engine holds every component built from one configuration.
type Engine struct {
	Config       config.Config
	Transport    protocol.Transport
	Cache        cache.Cache
	Persistence  persistence.Persistence
	EventBus     eventbus.EventBus
	Capabilities *capability.Resolver
	Pills        *datapill.Resolver
	Orders       *order.Registry
	Sessions     *session.Manager
	Builder      *mutation.Builder
	Provisioner  *provision.Provisioner
	Editor       *services.Editor
	Flows        *services.Flows

	closers []func(ctx context.Context) error
}

// NewEngine connects to the configured instance, cache, store and bus.
func NewEngine(ctx context.Context, cfg config.Config, logger *slog.Logger, tracer trace.Tracer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client := transport.New(transport.Config{
		BaseURL:  cfg.Instance.URL,
		Username: cfg.Instance.Username,
		Password: cfg.Instance.Password,
		Token:    cfg.Instance.Token,
		Timeout:  cfg.Instance.Timeout,
	}, logger, tracer)

	e := &Engine{Config: cfg}
	e.closers = append(e.closers, func(context.Context) error {
		client.Close()

		return nil
	})

	definitions, err := cache.New(cfg.Cache.Backend, cfg.Cache.RedisURL, "flowpatch")
	if err != nil {
		return nil, e.abort(ctx, err)
	}

	e.closers = append(e.closers, func(context.Context) error { return definitions.Close() })

	store, err := NewPersistence(ctx, logger, cfg.Persistence.URL)
	if err != nil {
		return nil, e.abort(ctx, err)
	}

	e.closers = append(e.closers, store.Close)

	bus, err := NewEventBus(cfg.EventBus, logger)
	if err != nil {
		return nil, e.abort(ctx, err)
	}

	e.closers = append(e.closers, func(context.Context) error { return bus.Close() })

	tables, err := cfg.Tables()
	if err != nil {
		return nil, e.abort(ctx, err)
	}

	e.Wire(client, definitions, store, bus, tables, logger, tracer)

	return e, nil
}

// Wire builds the engine's components on top of already connected dependencies.
func (e *Engine) Wire(
	remote protocol.Transport,
	definitions cache.Cache,
	store persistence.Persistence,
	bus eventbus.EventBus,
	tables capability.Tables,
	logger *slog.Logger,
	tracer trace.Tracer,
) {
	e.Transport = remote
	e.Cache = definitions
	e.Persistence = store
	e.EventBus = bus

	e.Capabilities = capability.NewResolver(remote, logger,
		capability.WithTables(tables),
		capability.WithCache(definitions, e.Config.Cache.TTL),
	)
	e.Pills = datapill.NewResolver(remote, datapill.NewRecordTriggerSource(remote), logger)
	e.Orders = order.NewRegistry(transport.NewGraphReader(remote), logger)
	e.Sessions = session.NewManager(remote, store.SessionLedger(), logger, session.WithTracer(tracer))
	e.Builder = mutation.NewBuilder(remote, e.Capabilities, e.Pills, e.Orders, logger, mutation.WithTracer(tracer))
	e.Provisioner = provision.NewProvisioner(remote,
		provision.NewEndpointCache(remote, e.Config.Bootstrap.Endpoint, e.Config.Bootstrap.TTL, logger),
		logger,
		provision.WithTracer(tracer),
	)

	var publisher eventbus.EventPublisher
	if bus != nil {
		publisher = bus
	}

	e.Editor = services.NewEditor(e.Sessions, e.Builder, store.ReportRepository(), publisher, logger)
	e.Flows = services.NewFlows(e.Provisioner, store.ReportRepository(), publisher, logger)
}

func (e *Engine) abort(ctx context.Context, err error) error {
	return errors.Join(err, e.Close(ctx))
}

// Close releases everything NewEngine opened, newest first.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error

	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	e.closers = nil

	return errors.Join(errs...)
}
