// Package main provides the Flowgate API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/flowgate/pkg/cmd"
	"github.com/dukex/flowgate/pkg/services"
	"github.com/dukex/flowgate/pkg/triggers/interception"
	"github.com/dukex/flowgate/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	logger   *slog.Logger
	runtime  *cmd.Runtime
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, runtime *cmd.Runtime) *API {
	return &API{
		logger:   logger,
		runtime:  runtime,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.logger, a.runtime.Engine,
		services.WithPublisher(a.runtime.Bus),
		services.WithSyncer(a.runtime.Manager),
	)

	handlers := web.NewAPIHandlers(workflowService, a.runtime.Engine, a.runtime.Actions, a.validate)

	errorHandlers := web.NewErrorHandlers()
	interception.RegisterErrorRenderer(errorHandlers)

	app := fiber.New(fiber.Config{ErrorHandler: errorHandlers.Handle})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowgate API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.runtime.Registry, promhttp.HandlerOpts{})))

	handlers.Register(app, a.runtime.Interception.Middleware(nil))

	return app
}

// Start serves until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			a.logger.Error("Failed to shut down API", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
