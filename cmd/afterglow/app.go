// cmd/afterglow/app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"afterglow/internal/config"
	"afterglow/internal/handler"
	"afterglow/internal/relay"
	"afterglow/internal/routes"
	"afterglow/internal/serial"
	"afterglow/internal/utils"
)

// Application represents the main application
type Application struct {
	config    *config.Config
	logger    *zap.Logger
	assumeYes bool

	listener net.Listener
	link     *serial.Link
	server   *http.Server

	tracker *relay.ActivityTracker
	bus     *handler.EventBus
	manager *relay.ConnectionManager
	ticker  *relay.StatusTicker
}

// NewApplication creates a new application instance. Failures after the
// logger exists are logged and returned as a reportedError.
func NewApplication(ctx context.Context, cfg *config.Config, assumeYes bool) (*Application, error) {
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	atexit.Register(func() {
		utils.CloseLogger(logger)
	})

	serviceLogger := utils.NewServiceLogger(logger, "afterglow")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config:    cfg,
		logger:    logger,
		assumeYes: assumeYes,
	}

	steps := []func(context.Context) error{
		app.initializeSerialPath,
		app.initializeListener,
		app.initializeSerial,
		app.initializeRelay,
		app.initializeServer,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.reportPanic(err)
			app.closeListener()
			return nil, &reportedError{err: err}
		}
	}

	return app, nil
}

// initializeSerialPath picks the first enumerated device when none is configured
func (app *Application) initializeSerialPath(context.Context) error {
	if app.config.Serial.Path != "" {
		return nil
	}

	ports, err := listPorts()
	if err != nil {
		return err
	}
	path, err := serial.DefaultPath(ports)
	if err != nil {
		return err
	}
	app.config.Serial.Path = path

	if !app.assumeYes {
		descriptions := make([]string, 0, len(ports))
		for _, p := range ports {
			descriptions = append(descriptions, p.Description())
		}
		app.logger.Info("Available serial devices: "+strings.Join(descriptions, ", "),
			zap.String("selected", app.config.Serial.Path),
		)
	}
	return nil
}

// initializeListener binds the command listener
func (app *Application) initializeListener(context.Context) error {
	addr := app.config.GetServerAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not initialize server on %s: %w", addr, err)
	}

	app.listener = ln
	app.logger.Info(fmt.Sprintf("Initializing server on %s: SUCCESS", addr))
	return nil
}

// initializeSerial opens the serial device
func (app *Application) initializeSerial(ctx context.Context) error {
	cfg := app.config.Serial
	link, err := serial.Open(ctx, &serial.Config{
		Path:     cfg.Path,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Backend:  cfg.Backend,
	}, app.logger)
	if err != nil {
		return err
	}

	app.link = link
	atexit.Register(func() {
		link.Close()
	})

	app.logger.Info(fmt.Sprintf("Connecting to serial %s: SUCCESS", cfg.Path))
	return nil
}

// initializeRelay wires the connection pipeline and its reporters
func (app *Application) initializeRelay(context.Context) error {
	app.tracker = relay.NewActivityTracker()

	reporter := handler.NewConsoleReporter(app.logger, app.config.Status.StaleAfter)
	app.bus = handler.NewEventBus(app.logger, reporter)

	app.manager = relay.NewConnectionManager(
		app.link,
		relay.NewTranslator(app.config.Relay.StrictFields),
		app.tracker,
		app.bus,
		app.logger,
		relay.Options{ReadBufferSize: app.config.Relay.ReadBufferSize},
	)
	app.ticker = relay.NewStatusTicker(app.tracker, app.bus, app.config.Status.Interval)
	return nil
}

// initializeServer sets up the optional status HTTP server
func (app *Application) initializeServer(context.Context) error {
	if !app.config.HTTP.Enabled {
		return nil
	}

	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.tracker,
		app.link,
		app.manager,
		app.bus,
	)

	app.server = &http.Server{
		Addr:              app.config.GetHTTPAddr(),
		Handler:           routerManager.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.logger.Info("Status server initialized",
		zap.String("address", app.server.Addr),
	)
	return nil
}

// Start relays until a signal arrives or the serial device fails
func (app *Application) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go app.bus.Start(ctx)
	go app.ticker.Run(ctx)

	if app.server != nil {
		go func() {
			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("Status server stopped", zap.Error(err))
			}
		}()
	}

	err := app.manager.Serve(ctx, app.listener)

	reason := "shutdown signal received"
	if err != nil {
		reason = err.Error()
	}
	app.shutdown(reason)

	if err != nil {
		// serial failures are already reported through the reporter
		if app.manager.Err() == nil {
			app.reportPanic(err)
		}
		return &reportedError{err: err}
	}
	return nil
}

// shutdown stops the status server and closes the serial device
func (app *Application) shutdown(reason string) {
	serviceLogger := utils.NewServiceLogger(app.logger, "afterglow")
	serviceLogger.LogServiceStop(reason)

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("Status server shutdown error", zap.Error(err))
		}
	}

	if err := app.link.Close(); err != nil {
		utils.LogError(app.logger, "Serial close error", err)
	}
}

func (app *Application) reportPanic(err error) {
	app.logger.Error("Panic: " + err.Error())
}

func (app *Application) closeListener() {
	if app.listener != nil {
		app.listener.Close()
	}
}
