package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dnsproxy/internal/dns/common/clock"
	"dnsproxy/internal/dns/common/log"
	"dnsproxy/internal/dns/config"
	"dnsproxy/internal/dns/gateways/transport"
	"dnsproxy/internal/dns/gateways/upstream"
	"dnsproxy/internal/dns/gateways/wire"
	"dnsproxy/internal/dns/repos/resolved"
	"dnsproxy/internal/dns/repos/resolved/bolt"
	"dnsproxy/internal/dns/services/proxy"
)

const (
	version = "0.1.0-dev"
	appName = "dnsproxyd"

	defaultShutdownTimeout = 10 * time.Second
)

// Application holds the wired components of the proxy.
type Application struct {
	config    *config.AppConfig
	transport transport.ServerTransport
	handler   *proxy.Handler
	resolved  *resolved.Repository // nil when persistence is disabled
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":          version,
		"env":              cfg.Env,
		"log_level":        cfg.LogLevel,
		"listen":           cfg.ListenAddr(),
		"upstream":         cfg.UpstreamAddr(),
		"upstream_timeout": cfg.UpstreamTimeout.String(),
	}, "Starting DNS proxy")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Proxy failed")
	}

	log.Info(nil, "DNS proxy stopped gracefully")
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()
	clk := clock.RealClock{}

	codec := wire.NewMessageCodec()

	forwarder, err := upstream.NewForwarder(upstream.Options{
		Server:  cfg.UpstreamAddr(),
		Timeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream forwarder: %w", err)
	}

	observers, resolvedRepo, err := buildObservers(cfg, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build reply observers: %w", err)
	}

	handler, err := proxy.NewHandler(proxy.HandlerOptions{
		Codec:           codec,
		Upstream:        forwarder,
		Observers:       observers,
		Clock:           clk,
		Logger:          logger,
		ObserverTimeout: cfg.ObserverTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create query handler: %w", err)
	}

	listener, err := transport.NewTransport(transport.TransportUDP, cfg.ListenAddr(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	return &Application{
		config:    cfg,
		transport: listener,
		handler:   handler,
		resolved:  resolvedRepo,
	}, nil
}

// buildObservers assembles the reply observer list: a logging observer
// always, plus the persistent resolved-address repository when configured.
func buildObservers(cfg *config.AppConfig, clk clock.Clock, logger log.Logger) ([]proxy.ReplyObserver, *resolved.Repository, error) {
	observers := []proxy.ReplyObserver{
		proxy.ObserverFunc(func(name string, addresses []string) {
			logger.Info(map[string]any{
				"name":      name,
				"addresses": addresses,
			}, "Resolved addresses")
		}),
	}

	if cfg.ResolvedDB == "" {
		return observers, nil, nil
	}

	store, err := bolt.New(cfg.ResolvedDB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open resolved-address store: %w", err)
	}

	repo, err := resolved.NewRepository(resolved.RepositoryOptions{
		Store:      store,
		RecentSize: cfg.ResolvedRecent,
		Clock:      clk,
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	log.Info(map[string]any{
		"path":   cfg.ResolvedDB,
		"recent": cfg.ResolvedRecent,
	}, "Resolved-address persistence enabled")

	return append(observers, repo), repo, nil
}

// Run starts the listener and blocks until the context is cancelled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.transport.Start(ctx, app.handler); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	log.Info(map[string]any{
		"address":  app.transport.Address(),
		"upstream": app.config.UpstreamAddr(),
	}, "DNS proxy started")

	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := app.transport.Stop(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error during listener shutdown")
	}

	// In-flight handlers are abandoned to their own upstream timeout bound;
	// the resolved store closes once the shutdown window expires or cleanup
	// finishes, whichever is first.
	done := make(chan struct{})
	go func() {
		if app.resolved != nil {
			if err := app.resolved.Close(); err != nil {
				log.Warn(map[string]any{"error": err}, "Error closing resolved-address store")
			}
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout.String()}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}
