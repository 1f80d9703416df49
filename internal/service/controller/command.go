package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	api "github.com/oshokin/mqtt-alarm/internal/api/grpc/alarm"
	"github.com/oshokin/mqtt-alarm/internal/api/http/router"
	"github.com/oshokin/mqtt-alarm/internal/bus"
	"github.com/oshokin/mqtt-alarm/internal/config"
	"github.com/oshokin/mqtt-alarm/internal/logger"
	"github.com/oshokin/mqtt-alarm/internal/metrics"
	repository "github.com/oshokin/mqtt-alarm/internal/repository/state"
	"github.com/oshokin/mqtt-alarm/internal/service/instance"
	"github.com/oshokin/mqtt-alarm/internal/trigger"
	"github.com/oshokin/mqtt-alarm/internal/version"
)

// shutdownTimeout bounds the HTTP server shutdown.
const shutdownTimeout = 5 * time.Second

// Options controls the controller process. Non-empty values override the
// configuration file.
type Options struct {
	// ConfigPath specifies the path to the alarm configuration file.
	ConfigPath string
	// StateFile enables status persistence at the given path.
	StateFile string
	// LogLevel overrides the configured log level.
	LogLevel string
	// LogFormat overrides the configured log encoding.
	LogFormat string
	// GRPCListen overrides the control API listen address.
	GRPCListen string
	// HTTPListen overrides the status/metrics listen address.
	HTTPListen string
	// AllowMultiple skips the single-instance check.
	AllowMultiple bool
	// Subcommands are the operator commands of the executable; processes
	// running one of them are not controllers.
	Subcommands []string
	// NewBus builds the bus transport, bus.New when nil.
	NewBus func(cfg *config.Config, opts bus.Options) (bus.Bus, error)
}

// Run loads the configuration, connects to the bus and runs the alarm until
// ctx is canceled. Configuration errors are returned before anything starts.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "mqtt-alarm")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	applyOverrides(settings, opts)

	if err = logger.Configure(settings.LogLevel, settings.LogFormat); err != nil {
		field := "logLevel"
		if errors.Is(err, logger.ErrUnknownFormat) {
			field = "logFormat"
		}

		return &config.Error{Field: field, Err: err}
	}

	if !opts.AllowMultiple {
		if err = instance.EnsureSingle(opts.Subcommands); err != nil {
			return err
		}
	}

	evaluator, err := trigger.NewEvaluator(settings)
	if err != nil {
		return fmt.Errorf("build trigger evaluator: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		machine *Machine
		busOpts = bus.NewOptions(settings)
	)

	// The machine is assigned before Connect can fire the callback.
	busOpts.OnConnect = func() { machine.Announce() }

	newBus := opts.NewBus
	if newBus == nil {
		newBus = bus.New
	}

	messageBus, err := newBus(settings, busOpts)
	if err != nil {
		return &config.Error{Field: "mqttParams.kind", Err: err}
	}

	deps := Deps{
		Publisher: messageBus,
		Evaluator: evaluator,
		Metrics:   metrics.New(registry),
	}

	if settings.StateFile != "" {
		deps.Repository = repository.NewFileRepository(settings.StateFile)
	}

	machine = NewMachine(settings, deps)

	logger.InfoKV(ctx, "Starting alarm controller",
		"version", version.Short(),
		"bus", settings.Bus.Kind,
		"broker", settings.Bus.BrokerAddress(),
		"control_topic", settings.Bus.SubscribeTopic,
		"status_topic", settings.Bus.PublishTopic,
		"state_file", settings.StateFile,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return machine.Run(groupCtx)
	})

	group.Go(func() error {
		return connect(groupCtx, messageBus, machine, settings.Bus.SubscribeTopic, evaluator.Topics())
	})

	if settings.GRPCListen != "" {
		group.Go(func() error {
			return serveGRPC(groupCtx, settings.GRPCListen, machine)
		})
	}

	if settings.HTTPListen != "" {
		group.Go(func() error {
			return serveHTTP(groupCtx, settings.HTTPListen, router.New(machine, registry))
		})
	}

	err = group.Wait()

	if closeErr := messageBus.Close(); closeErr != nil {
		logger.ErrorKV(ctx, "Failed to close bus", "error", closeErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info(ctx, "Alarm controller exited")

	return nil
}

func applyOverrides(settings *config.Config, opts *Options) {
	if opts.StateFile != "" {
		settings.StateFile = opts.StateFile
	}

	if opts.LogLevel != "" {
		settings.LogLevel = opts.LogLevel
	}

	if opts.LogFormat != "" {
		settings.LogFormat = opts.LogFormat
	}

	if opts.GRPCListen != "" {
		settings.GRPCListen = opts.GRPCListen
	}

	if opts.HTTPListen != "" {
		settings.HTTPListen = opts.HTTPListen
	}
}

// connect dials the bus and subscribes the machine to the control topic and
// every trigger topic. Subscriptions are replayed by the transport on reconnect.
func connect(ctx context.Context, messageBus bus.Bus, machine *Machine, controlTopic string, triggerTopics []string) error {
	if err := messageBus.Connect(ctx); err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}

	patterns := append([]string{controlTopic}, triggerTopics...)

	for _, pattern := range patterns {
		if err := messageBus.Subscribe(ctx, pattern, machine.HandleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", pattern, err)
		}
	}

	logger.InfoKV(ctx, "Subscribed to bus", "patterns", patterns)

	return nil
}

func serveGRPC(ctx context.Context, address string, machine *Machine) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	grpcServer := grpc.NewServer()
	api.RegisterAlarmServiceServer(grpcServer, api.NewServer(machine))

	logger.InfoKV(ctx, "Control API listening", "listen_address", address)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
		close(done)
	}()

	if err = grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "Control API stopped")

	return nil
}

func serveHTTP(ctx context.Context, address string, handler http.Handler) error {
	server := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: config.DefaultTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorKV(ctx, "HTTP shutdown failed", "error", err)
		}
	}()

	logger.InfoKV(ctx, "Status endpoint listening", "listen_address", address)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}

	return nil
}
