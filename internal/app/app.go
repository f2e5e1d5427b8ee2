package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/copilot-auth/internal/copilot"
	"github.com/florianilch/copilot-auth/internal/deviceflow"
	"github.com/florianilch/copilot-auth/internal/metrics"
	"github.com/florianilch/copilot-auth/internal/server"
)

// App orchestrates the lifecycle of the authorization server and its pollers.
type App struct {
	cfg     *Config
	server  *server.Server
	manager *deviceflow.Manager
	metrics *metrics.Metrics
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := metrics.New()

	vault, err := newVault(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create token vault: %w", err)
	}

	flow := deviceflow.NewFlow(cfg.FlowConfig(),
		deviceflow.WithTransport(&copilot.IdentityTransport{Identity: cfg.GitHub.Identity()}),
		deviceflow.WithRetryObserver(m.ObserveRetry),
	)

	manager, err := deviceflow.NewManager(flow, vault,
		deviceflow.WithOnPoll(m.ObservePoll),
		deviceflow.WithOnFinish(m.ObserveSession),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	m.ObserveActive(manager.Active)

	srv, err := server.New(manager,
		server.WithRateLimit(cfg.RateLimit.Interval, cfg.RateLimit.Burst),
		server.WithMetricsHandler(m.Handler()),
		server.WithInitiationObserver(m.ObserveInitiation),
		server.WithRateLimitObserver(m.RateLimited.Inc),
		server.WithStatusPollInterval(cfg.Server.StatusPollInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &App{
		cfg:     cfg,
		server:  srv,
		manager: manager,
		metrics: m,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Pollers stop after the server so no request can start a new one mid-shutdown
	shutdownFuncs = append(shutdownFuncs, a.manager.Shutdown)

	slog.InfoContext(gCtx, "starting authorization server", "address", address, "storage_dir", a.cfg.Storage.Dir)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		_ = a.manager.Shutdown(context.Background())
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "url", "http://"+address+"/github")

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// newVault wires the token stores and the Copilot client for successful authorizations.
func newVault(cfg *Config) (*deviceflow.Vault, error) {
	accessTokens, err := cfg.Storage.NewAccessTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create access token store: %w", err)
	}

	apiKeys, err := cfg.Storage.NewAPIKeyStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create API key store: %w", err)
	}

	return deviceflow.NewVault(accessTokens, apiKeys, cfg.GitHub.NewCopilotClient())
}
