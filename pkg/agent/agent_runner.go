package agent

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/control"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
)

const (
	httpShutdownTimeout = 10 * time.Second
	// Covers the full stop escalation of every server
	forceShutdownTimeout = 60 * time.Second
)

type RunOptions struct {
	ConfigFile      string
	StaticDirectory string
	// GRPCPort overrides grpc_port of the agent configuration when positive
	GRPCPort int
	// RunDuration stops the agent after the given number of seconds when positive
	RunDuration int
}

// Run loads the configuration, serves the control surface and supervises
// servers until a termination signal arrives, then stops everything.
func Run(options RunOptions, coreLogger coreLogging.Logger, logger logging.Logger) error {
	logger.Infof("Agent runner starting...")

	ctx := context.Background()
	if options.RunDuration > 0 {
		duration := time.Duration(options.RunDuration) * time.Second
		logger.Infof("Using RUN DURATION of %s", duration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	store := config.NewStore(options.ConfigFile, logger)
	logger.Infof("Using CONFIGURATION FILE: %s", store.Path())

	cfg, err := store.Load()
	if err != nil {
		return err
	}
	if err := config.ValidateConfiguration(cfg); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", store.Path())
	}
	if options.GRPCPort > 0 {
		cfg.Agent.GRPCPort = options.GRPCPort
	}

	agent := NewAgent(store, cfg, logger)

	health := control.NewHealthReporter(logger)
	health.Track(serverIDs(cfg))
	agent.Supervisor().AddListener(health)

	var grpcServer corecontrol.Server
	if cfg.Agent.GRPCPort > 0 {
		grpcServer, err = newGRPCServer(cfg.Agent.GRPCPort, health, coreLogger)
		if err != nil {
			return err
		}
		grpcServer.Start(ctx)
		logger.Infof("gRPC control endpoint started, port: %d", cfg.Agent.GRPCPort)
	}

	listener, err := net.Listen("tcp", cfg.Agent.BindAddress)
	if err != nil {
		if grpcServer != nil {
			grpcServer.Shutdown(context.Background())
		}
		return errors.NewIOError("failed to listen", err).WithContext("bind_address", cfg.Agent.BindAddress)
	}

	handlerOptions := control.HandlerOptions{
		StaticDirectory: options.StaticDirectory,
	}
	httpServer := &http.Server{
		Handler:           control.NewHTTPHandler(agent, agent, handlerOptions, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Control surface listening, address: %s", listener.Addr())
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Reconcile orphans and autostart before accepting signals
	agent.Startup(ctx)

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	logger.Infof("Agent is fully operational")

	select {
	case receivedSignal := <-sig:
		logger.Infof("Agent runner received signal: %v", receivedSignal)
	case err := <-serveErr:
		logger.Errorf("Control surface failed: %v", err)
	case <-ctx.Done():
		logger.Infof("Agent runner timed out")
	}

	// Reset context to background to enable graceful shutdown
	httpCtx, httpCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.Warnf("Control surface shutdown incomplete: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), forceShutdownTimeout)
	defer stopCancel()
	shutdownErr := agent.Shutdown(stopCtx)

	health.Shutdown()
	if grpcServer != nil {
		grpcServer.Shutdown(stopCtx)
	}

	logger.Infof("Agent runner stopped")
	return shutdownErr
}

func newGRPCServer(port int, health *control.HealthReporter, coreLogger coreLogging.Logger) (corecontrol.Server, error) {
	serverOptions := corecontrol.ServerOptions{
		Port: port,
	}
	server, err := corecontrol.NewServer(serverOptions, coreLogger)
	if err != nil {
		return nil, errors.NewInternalError("failed to create gRPC server", err).WithContext("port", port)
	}

	coreHandler := coredomain.NewDefaultHandler(coreLogger)
	corecontrol.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)
	control.RegisterGRPCHealthHandler(server.GRPC(), health)

	return server, nil
}

func serverIDs(cfg *config.Configuration) []string {
	ids := make([]string, 0, len(cfg.Servers))
	for _, def := range cfg.Servers {
		ids = append(ids, def.ID)
	}
	return ids
}
