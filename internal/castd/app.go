package castd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"castd/internal/api"
	"castd/pkg/discovery"
	"castd/pkg/journal"
	"castd/pkg/receiver"
	"castd/pkg/rpc"
	"castd/pkg/scheduler"
	"castd/pkg/session"
	"castd/pkg/sink"
	"castd/pkg/status"
	"castd/pkg/utils"
)

// Component 앱이 시작/중지 순서를 관리하는 구성 요소 공통 인터페이스
type Component interface {
	// 시작 (논블로킹)
	Start() error

	// 중지
	Stop()

	// 로그에 쓰이는 이름 ("api", "discovery", ...)
	Name() string
}

// component adapts a pair of functions to Component
type component struct {
	name  string
	start func() error
	stop  func()
}

func (c component) Start() error {
	if c.start == nil {
		return nil
	}
	return c.start()
}

func (c component) Stop() {
	if c.stop != nil {
		c.stop()
	}
}

func (c component) Name() string { return c.name }

// App represents the castd process
type App struct {
	config *Config

	journal     *journal.Journal
	registry    *receiver.Registry
	discovery   *discovery.Service
	publisher   *status.Publisher
	coordinator *session.Coordinator
	scheduler   *scheduler.Scheduler
	rpcServer   *rpc.Server
	apiServer   *api.Server

	components []Component
	started    []Component
}

// NewApp builds every component from the config. Nothing runs until Start.
func NewApp(config *Config) (*App, error) {
	jrn, err := journal.Open(config.Journal.URL)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// nil *Journal을 인터페이스에 넣지 않도록 분기
	var receiverRecorder discovery.Recorder
	var sessionRecorder session.Recorder
	if jrn != nil {
		receiverRecorder = jrn
		sessionRecorder = jrn
	}

	registry := receiver.NewRegistry()
	factory := sink.NewSRTFactory(config.ToSRTConfig())
	querier := discovery.NewUDPQuerier(config.Discovery.BroadcastAddr, config.Discovery.Port, config.Discovery.QueryTimeout)
	disc := discovery.NewService(config.ToDiscoveryConfig(), querier, registry, factory, receiverRecorder)

	publisher := status.NewPublisher(context.Background())
	coordinator := session.NewCoordinator(config.ToSessionConfig(), registry, publisher, nil, sessionRecorder)
	sched := scheduler.New(context.Background())

	rpcServer := rpc.NewServer(coordinator, rpc.DefaultConfig())
	apiServer := api.NewServer(config.API.Port, api.Services{
		Registry:    registry,
		Discovery:   disc,
		Coordinator: coordinator,
		Publisher:   publisher,
		Journal:     jrn,
		Cast:        rpcServer,
	})

	app := &App{
		config:      config,
		journal:     jrn,
		registry:    registry,
		discovery:   disc,
		publisher:   publisher,
		coordinator: coordinator,
		scheduler:   sched,
		rpcServer:   rpcServer,
		apiServer:   apiServer,
	}

	// 시작 순서. 중지는 역순.
	app.components = []Component{
		component{name: "journal", stop: func() { utils.CloseWithLog(jrn, "journal") }},
		component{name: "publisher", stop: publisher.Stop},
		component{name: "discovery", stop: disc.Close},
		component{name: "sessions", stop: coordinator.Close},
		component{name: "rpc", stop: rpcServer.Close},
		apiServer,
		component{
			name: "scheduler",
			start: func() error {
				if err := disc.Run(sched); err != nil {
					return err
				}
				return coordinator.Run(sched)
			},
			stop: sched.Stop,
		},
	}

	return app, nil
}

// Start starts every component in order. On failure the components already
// started are stopped again.
func (app *App) Start() error {
	slog.Info("Application starting...")

	for _, c := range app.components {
		if err := c.Start(); err != nil {
			app.Stop()
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		app.started = append(app.started, c)
		slog.Debug("Component started", "component", c.Name())
	}

	slog.Info("Application started",
		"apiPort", app.config.API.Port,
		"discoveryPort", app.config.Discovery.Port,
		"journal", app.journal != nil)
	return nil
}

// Run starts the application and blocks until SIGINT/SIGTERM
func (app *App) Run() error {
	if err := app.Start(); err != nil {
		return err
	}
	app.waitForShutdown()
	return nil
}

// waitForShutdown waits for shutdown signals and performs graceful shutdown
func (app *App) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	slog.Info("Received signal, shutting down application", "signal", sig)

	app.Stop()
}

// Stop stops the started components in reverse order
func (app *App) Stop() {
	slog.Info("Stopping application...")

	for i := len(app.started) - 1; i >= 0; i-- {
		c := app.started[i]
		c.Stop()
		slog.Debug("Component stopped", "component", c.Name())
	}
	app.started = nil

	slog.Info("Application stopped successfully")
}

// Registry exposes the receiver registry (for tests and the API)
func (app *App) Registry() *receiver.Registry {
	return app.registry
}

// Coordinator exposes the session coordinator
func (app *App) Coordinator() *session.Coordinator {
	return app.coordinator
}
