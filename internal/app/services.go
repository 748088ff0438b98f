package app

import (
	"context"
	"net/http"

	"github.com/dokzlo13/mieled/internal/auth"
	"github.com/dokzlo13/mieled/internal/catalog"
	"github.com/dokzlo13/mieled/internal/config"
	"github.com/dokzlo13/mieled/internal/eventbus"
	"github.com/dokzlo13/mieled/internal/metrics"
	"github.com/dokzlo13/mieled/internal/mieleapi"
	"github.com/dokzlo13/mieled/internal/objtree"
	"github.com/dokzlo13/mieled/internal/project"
	"github.com/dokzlo13/mieled/internal/refresh"
	"github.com/dokzlo13/mieled/internal/registry"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	Tree *objtree.SQLite
	Bus  *eventbus.Bus

	// Cloud access
	Auth   *auth.Manager
	Client *mieleapi.Client

	// Projection pipeline
	Registry    *registry.Registry
	Writer      *project.Writer
	States      *project.StateProjector
	Actions     *project.ActionsProjector
	Mapper      *project.CommandMapper
	Coordinator *refresh.Coordinator

	// High-level services
	Cloud  *CloudService
	Health *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	tree, err := objtree.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.Tree = tree

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	baseURL := cfg.API.BaseURL
	s.Auth = auth.NewManager(auth.Config{
		TokenURL:     baseURL + catalog.EndpointToken,
		LogoutURL:    baseURL + catalog.EndpointLogout,
		ClientID:     cfg.API.ClientID,
		ClientSecret: cfg.API.ClientSecret,
		Username:     cfg.API.Username,
		Password:     cfg.API.Password,
		Horizon:      cfg.Token.ExpiryHorizon.Duration(),
		Retry: auth.RetryConfig{
			MinBackoff:  cfg.Token.MinRetryBackoff.Duration(),
			MaxBackoff:  cfg.Token.MaxRetryBackoff.Duration(),
			Multiplier:  cfg.Token.RetryMultiplier,
			MaxAttempts: cfg.Token.MaxAttempts,
		},
	}, &http.Client{Timeout: cfg.API.Timeout.Duration()})
	s.Auth.SetConnectivityFunc(func(up bool) {
		if up {
			metrics.CloudConnected.Set(1)
		} else {
			metrics.CloudConnected.Set(0)
		}
		s.Bus.Publish(eventbus.Event{Type: eventbus.EventTypeConnectivity, Payload: up})
	})

	s.Client = mieleapi.NewClient(baseURL, cfg.API.Locale, s.Auth,
		cfg.API.Timeout.Duration(), cfg.API.RateLimitRPS)

	s.Registry = registry.New()
	s.Writer = project.NewWriter(tree)
	s.States = project.NewStateProjector(s.Writer)
	s.Actions = project.NewActionsProjector(s.Writer)
	s.Mapper = project.NewCommandMapper(s.Client, s.Registry, s.Writer)
	s.Coordinator = refresh.NewCoordinator(s.Client, s.Registry, s.States, s.Actions)

	s.Cloud = NewCloudService(cfg, s.Auth, s.Client, s.Coordinator, s.Mapper, s.Bus, tree)
	s.Health = NewHealthService(cfg)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g. max
// reconnects exceeded or terminally rejected credentials).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if err := s.Cloud.Start(ctx); err != nil {
		return err
	}

	s.Cloud.StartBackground(ctx, onFatalError)
	s.Health.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Cloud != nil {
		s.Cloud.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Tree != nil {
		s.Tree.Close()
	}
}
