package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/flowpatch/pkg/cmd"
	"github.com/dukex/flowpatch/pkg/eventbus"
	"github.com/dukex/flowpatch/pkg/events"
	"github.com/dukex/flowpatch/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	engine   *cmd.Engine
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, engine *cmd.Engine) *API {
	return &API{
		logger:   logger.With("module", "api"),
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.engine.Editor,
		a.engine.Flows,
		a.engine.Capabilities,
		a.engine.Pills,
		a.engine.Persistence,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowpatch API")
	})

	handlers.Register(app)

	return app
}

// audit logs every domain event the API publishes.
func (a *API) audit(ctx context.Context) error {
	bus := a.engine.EventBus
	if bus == nil {
		return nil
	}

	for _, t := range []events.EventType{
		events.FlowProvisionedEvent,
		events.SessionOpenedEvent,
		events.SessionClosedEvent,
		events.ElementInsertedEvent,
		events.ElementUpdatedEvent,
		events.ElementsDeletedEventType,
	} {
		eventType := t
		if err := bus.Handle(eventType, eventbus.On(func(ctx context.Context, event eventbus.Event) error {
			a.logger.InfoContext(ctx, "event", "event_type", eventType, "flow_id", event.GetFlowID(), "event", event)

			return nil
		})); err != nil {
			return err
		}
	}

	return bus.Subscribe(ctx)
}

func (a *API) Start(ctx context.Context, port int) error {
	if err := a.audit(ctx); err != nil {
		return err
	}

	app := a.App()

	go func() {
		<-ctx.Done()

		_ = app.Shutdown()
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
