// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ser2tcp/internal/bridge"
	"ser2tcp/internal/config"
	"ser2tcp/internal/handler"
	"ser2tcp/internal/routes"
	"ser2tcp/internal/utils"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "3.1.0"

const shutdownTimeout = 10 * time.Second

// Application represents the main application
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	bridges    []*bridge.Bridge
	dispatcher *bridge.Dispatcher
	eventBus   *handler.EventBus
	server     *http.Server
}

// options holds the parsed command line
type options struct {
	configPath string
	verbose    int
}

func main() {
	opts, exit, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if exit {
		return
	}

	app, err := NewApplication(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		os.Exit(1)
	}
}

// parseFlags parses the command line. exit is set when the invocation only
// asked for help or the version.
func parseFlags(args []string) (opts options, exit bool, err error) {
	flagSet := pflag.NewFlagSet("ser2tcp", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "configuration file (YAML or JSON)")
	flagSet.CountVarP(&opts.verbose, "verbose", "v", "increase verbosity (-v info, -vv debug)")
	showVersion := flagSet.BoolP("version", "V", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, true, nil
		}
		return opts, false, err
	}
	if *showVersion {
		fmt.Printf("ser2tcp %s\n", version)
		return opts, true, nil
	}
	if opts.configPath == "" {
		return opts, false, errors.New("--config is required")
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, false, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, false, nil
}

// NewApplication loads the configuration and binds every bridge
func NewApplication(opts options) (*Application, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Logging.Level = utils.LevelForVerbosity(cfg.Logging.Level, opts.verbose)

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "ser2tcp")
	serviceLogger.LogServiceStart(version, cfg)

	app := &Application{
		config:   cfg,
		logger:   logger,
		eventBus: handler.NewEventBus(logger),
	}

	if err := app.initializeBridges(); err != nil {
		return nil, err
	}

	app.dispatcher = bridge.NewDispatcher(app.bridges, cfg.Dispatcher.PollTimeout, logger)

	if cfg.API.Enabled {
		app.initializeServer()
	}

	return app, nil
}

// initializeBridges creates one bridge per valid entry. Invalid entries and
// entries whose servers cannot be bound are logged and skipped.
func (app *Application) initializeBridges() error {
	entries, err := app.config.SplitBridges()
	for _, entryErr := range multierr.Errors(err) {
		app.logger.Error("Invalid bridge configuration", zap.Error(entryErr))
	}

	for i, entry := range entries {
		id := fmt.Sprintf("bridge-%d", i)
		b, err := bridge.NewBridge(id, entry,
			bridge.WithLogger(app.logger),
			bridge.WithEventPublisher(app.eventBus),
		)
		if err != nil {
			app.logger.Error("Failed to create bridge",
				zap.String("bridge_id", id),
				zap.String("serial_port", entry.Serial.Port),
				zap.Error(err),
			)
			continue
		}
		app.bridges = append(app.bridges, b)
	}

	if len(app.bridges) == 0 {
		return config.ErrNoBridges
	}

	app.logger.Info("Bridges initialized", zap.Int("bridges", len(app.bridges)))
	return nil
}

// initializeServer sets up the status HTTP server
func (app *Application) initializeServer() {
	routerManager := routes.NewRouter(app.config, app.logger, app.dispatcher, app.eventBus, nil)

	app.server = &http.Server{
		Addr:         app.config.GetAPIAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.API.ReadTimeout,
		WriteTimeout: app.config.API.WriteTimeout,
		IdleTimeout:  app.config.API.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.server.Addr))
}

// Run drives the bridges until ctx is canceled or the dispatcher fails,
// then shuts everything down
func (app *Application) Run(ctx context.Context) error {
	defer utils.LogPanic(app.logger)

	go app.eventBus.Start()

	if app.server != nil {
		go func() {
			app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("HTTP server failed", zap.Error(err))
			}
		}()
	}

	err := app.dispatcher.Run(ctx)

	reason := "shutdown signal received"
	if err != nil {
		reason = "dispatcher failure"
	}
	app.shutdown(reason)
	return err
}

// shutdown stops the HTTP server and the event bus and flushes the logger.
// The dispatcher has already closed every bridge.
func (app *Application) shutdown(reason string) {
	serviceLogger := utils.NewServiceLogger(app.logger, "ser2tcp")
	serviceLogger.LogServiceStop(reason)

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("HTTP server stopped")
		}
	}

	app.eventBus.Stop()
	app.logger.Info("Exiting")

	if err := utils.CloseLogger(app.logger); err != nil && !isSyncOnTerminal(err) {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}

// isSyncOnTerminal reports the harmless error zap returns when syncing a tty
func isSyncOnTerminal(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
