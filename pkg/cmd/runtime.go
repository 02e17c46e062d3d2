// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowgate/pkg/dedup"
	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/instructions"
	"github.com/dukex/flowgate/pkg/metrics"
	"github.com/dukex/flowgate/pkg/otelhelper"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/registry"
	"github.com/dukex/flowgate/pkg/triggers/action"
	"github.com/dukex/flowgate/pkg/triggers/interception"
	"github.com/dukex/flowgate/pkg/triggers/kafka"
	"github.com/dukex/flowgate/pkg/triggers/queue"
	"github.com/dukex/flowgate/pkg/triggers/schedule"
	"github.com/dukex/flowgate/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Options configures a Runtime.
type Options struct {
	ServiceName  string
	DatabaseURL  string
	EventBus     string
	KafkaBrokers []string
	RedisURL     string
	PluginsPath  string
	MaxDepth     int
	Tracing      bool

	// Background enables the triggers that fire on their own (schedule, queue, kafka).
	Background bool
}

// Runtime is a wired engine with its storage, bus and triggers.
type Runtime struct {
	Engine       *workflow.Engine
	Manager      *workflow.Manager
	Bus          *eventbus.WatermillEventBus
	Changes      *eventbus.WatermillEventBus
	Persistence  persistence.Persistence
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry
	Actions      *action.Trigger
	Interception *interception.Trigger

	logger  *slog.Logger
	closers []func(context.Context) error
}

func NewRuntime(ctx context.Context, logger *slog.Logger, opts Options) (_ *Runtime, err error) {
	rt := &Runtime{
		Registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	defer func() {
		if err != nil {
			rt.Close(ctx)
		}
	}()

	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Metrics = metrics.New(rt.Registry)

	rt.Persistence, err = NewPersistence(ctx, logger, opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	rt.closers = append(rt.closers, rt.Persistence.Close)

	rt.Bus, err = NewEventBus(opts.EventBus, logger, opts.KafkaBrokers, opts.ServiceName)
	if err != nil {
		return nil, err
	}

	rt.closers = append(rt.closers, func(context.Context) error { return rt.Bus.Close() })

	rt.Changes, err = NewChangesSubscriber(opts.EventBus, logger, opts.KafkaBrokers, opts.ServiceName, rt.Bus)
	if err != nil {
		return nil, err
	}

	if rt.Changes != rt.Bus {
		rt.closers = append(rt.closers, func(context.Context) error { return rt.Changes.Close() })
	}

	tracer := otelhelper.Noop()

	if opts.Tracing {
		var shutdown otelhelper.ShutdownFunc

		tracer, shutdown, err = otelhelper.NewTracer(ctx, opts.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		rt.closers = append(rt.closers, shutdown)
	}

	maxDepth := opts.MaxDepth
	if maxDepth == 0 {
		maxDepth = workflow.DefaultMaxDepth
	}

	rt.Engine, err = workflow.NewEngine(logger, rt.Persistence,
		workflow.WithPublisher(rt.Bus),
		workflow.WithMetrics(rt.Metrics),
		workflow.WithTracer(tracer),
		workflow.WithConfig(workflow.Config{MaxDepth: maxDepth}),
	)
	if err != nil {
		return nil, err
	}

	instructions.RegisterDefaults(rt.Engine, &http.Client{Timeout: 30 * time.Second})

	rt.Actions = action.New(logger, rt.Engine, rt.Engine.Index())
	rt.Interception = interception.New(logger, rt.Engine, rt.Engine.Index(), interception.WithMetrics(rt.Metrics))

	rt.Engine.RegisterTrigger(action.Type, rt.Actions)
	rt.Engine.RegisterTrigger(interception.Type, rt.Interception)

	var client redis.UniversalClient

	if opts.RedisURL != "" {
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		client = redis.NewClient(redisOpts)
		rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })

		rt.Engine.Dispatcher().SetGuard(dedup.NewRedisGuard(client, dedup.WithPrefix(opts.ServiceName+":dedup:")))
	}

	rt.registerSchedule(opts)
	rt.registerQueue(opts, client)
	rt.registerKafka(opts)

	if err := registry.RegisterPlugins[protocol.Instruction](ctx, logger, rt.Engine.Instructions(), opts.PluginsPath, "Instruction"); err != nil {
		return nil, fmt.Errorf("failed to load instruction plugins: %w", err)
	}

	if err := registry.RegisterPlugins[protocol.Trigger](ctx, logger, rt.Engine.Triggers(), opts.PluginsPath, "Trigger"); err != nil {
		return nil, fmt.Errorf("failed to load trigger plugins: %w", err)
	}

	rt.Manager = workflow.NewManager(rt.Engine)

	return rt, nil
}

func (rt *Runtime) registerSchedule(opts Options) {
	trigger := schedule.New(rt.logger, rt.Engine)
	rt.Engine.RegisterTrigger(schedule.Type, trigger)

	if !opts.Background {
		return
	}

	trigger.Start()
	rt.closers = append(rt.closers, trigger.Stop)
}

func (rt *Runtime) registerQueue(opts Options, client redis.UniversalClient) {
	if client == nil || !opts.Background {
		return
	}

	trigger := queue.New(rt.logger, rt.Engine, client)
	rt.Engine.RegisterTrigger(queue.Type, trigger)

	rt.closers = append(rt.closers, func(ctx context.Context) error {
		trigger.Stop(ctx)

		return nil
	})
}

func (rt *Runtime) registerKafka(opts Options) {
	if len(opts.KafkaBrokers) == 0 || !opts.Background {
		return
	}

	trigger := kafka.New(rt.logger, rt.Engine, opts.KafkaBrokers)
	rt.Engine.RegisterTrigger(kafka.Type, trigger)

	rt.closers = append(rt.closers, func(ctx context.Context) error {
		trigger.Stop(ctx)

		return nil
	})
}

// Start loads the enabled workflows, switches their triggers on, follows workflow
// changes published by other processes and subscribes to the bus. With dispatch the
// runtime also runs queued executions and resume requests.
func (rt *Runtime) Start(ctx context.Context, dispatch bool) error {
	if err := rt.Manager.Attach(rt.Changes); err != nil {
		return err
	}

	if rt.Changes != rt.Bus {
		if err := rt.Changes.Subscribe(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to workflow changes: %w", err)
		}
	}

	if dispatch {
		if err := rt.Engine.Dispatcher().Attach(rt.Bus); err != nil {
			return err
		}
	}

	if err := rt.Bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	if err := rt.Manager.Start(ctx); err != nil {
		rt.logger.ErrorContext(ctx, "some triggers failed to start", "error", err)
	}

	rt.closers = append(rt.closers, func(ctx context.Context) error {
		rt.Manager.Stop(ctx)

		return nil
	})

	return nil
}

// Close releases everything in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) {
	var errs []error

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	rt.closers = nil

	if err := errors.Join(errs...); err != nil {
		rt.logger.ErrorContext(ctx, "failed to close runtime", "error", err)
	}
}
