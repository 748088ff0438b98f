package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/mieled/internal/auth"
	"github.com/dokzlo13/mieled/internal/config"
	"github.com/dokzlo13/mieled/internal/eventbus"
	"github.com/dokzlo13/mieled/internal/mieleapi"
	"github.com/dokzlo13/mieled/internal/objtree"
	"github.com/dokzlo13/mieled/internal/project"
	"github.com/dokzlo13/mieled/internal/refresh"
)

// CloudService owns the cloud session: login, the poll and token-check
// loops, the SSE event stream, and the command subscription that turns
// host writes into device actions.
type CloudService struct {
	cfg         *config.Config
	auth        *auth.Manager
	client      *mieleapi.Client
	coordinator *refresh.Coordinator
	mapper      *project.CommandMapper
	bus         *eventbus.Bus
	tree        objtree.Tree

	stream *mieleapi.EventStream
}

// NewCloudService creates the service with all loops stopped.
func NewCloudService(
	cfg *config.Config,
	authMgr *auth.Manager,
	client *mieleapi.Client,
	coordinator *refresh.Coordinator,
	mapper *project.CommandMapper,
	bus *eventbus.Bus,
	tree objtree.Tree,
) *CloudService {
	s := &CloudService{
		cfg:         cfg,
		auth:        authMgr,
		client:      client,
		coordinator: coordinator,
		mapper:      mapper,
		bus:         bus,
		tree:        tree,
	}
	if cfg.Events.Enabled {
		s.stream = mieleapi.NewEventStream(client, mieleapi.StreamConfig{
			MinBackoff:    cfg.Events.MinRetryBackoff.Duration(),
			MaxBackoff:    cfg.Events.MaxRetryBackoff.Duration(),
			Multiplier:    cfg.Events.RetryMultiplier,
			MaxReconnects: cfg.Events.MaxReconnects,
			PingTimeout:   cfg.Events.PingTimeout.Duration(),
		})
	}
	return s
}

// Start logs in and runs the first full refresh. Login retries transient
// failures internally; a credential rejection surfaces immediately.
func (s *CloudService) Start(ctx context.Context) error {
	if err := s.auth.Login(ctx); err != nil {
		return err
	}
	log.Info().Str("base_url", s.client.BaseURL()).Msg("Logged in to cloud API")

	if err := s.coordinator.RefreshAll(ctx); err != nil {
		// The first sweep failing is not fatal: the poll loop retries.
		log.Error().Err(err).Msg("Initial device refresh failed")
	}
	return nil
}

// StartBackground starts the poll loop, the token-check loop, the event
// stream, and the command subscription.
func (s *CloudService) StartBackground(ctx context.Context, onFatalError func(error)) {
	s.subscribeStreamEvents()

	go s.pollLoop(ctx)
	go s.actionsLoop(ctx)
	go s.tokenLoop(ctx)
	go s.commandLoop(ctx)

	if s.stream != nil {
		go func() {
			if err := s.stream.Run(ctx, s.bus); err != nil {
				if errors.Is(err, mieleapi.ErrMaxReconnectsExceeded) {
					log.Error().Msg("Event stream: max reconnects exceeded, triggering shutdown")
					if onFatalError != nil {
						onFatalError(err)
					}
				} else {
					log.Error().Err(err).Msg("Event stream error")
				}
			}
		}()
	}
}

// subscribeStreamEvents routes pushed snapshots into the refresh pipeline.
func (s *CloudService) subscribeStreamEvents() {
	s.bus.Subscribe(eventbus.EventTypeDevices, func(event eventbus.Event) {
		devices, ok := event.Payload.(mieleapi.DeviceMap)
		if !ok {
			return
		}
		s.coordinator.HandleDevices(devices)
	})
	s.bus.Subscribe(eventbus.EventTypeActions, func(event eventbus.Event) {
		actions, ok := event.Payload.(mieleapi.ActionsMap)
		if !ok {
			return
		}
		s.coordinator.HandleActions(actions)
	})
}

// pollLoop runs the periodic full refresh. The stream, when healthy, makes
// this a safety net rather than the primary data source.
func (s *CloudService) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Poll.Interval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.coordinator.RefreshAll(ctx); err != nil {
				log.Error().Err(err).Msg("Periodic device refresh failed")
			}
		}
	}
}

// actionsLoop re-polls permitted actions, which change with the program
// phase and would otherwise go stale between full sweeps.
func (s *CloudService) actionsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Poll.ActionsInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.coordinator.RefreshActions(ctx)
		}
	}
}

// tokenLoop periodically refreshes the credential before it expires.
func (s *CloudService) tokenLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Token.CheckInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.auth.EnsureFresh(ctx); err != nil {
				log.Error().Err(err).Msg("Token freshness check failed")
			}
		}
	}
}

// commandLoop consumes unacknowledged host writes and maps them to actions.
// After a successful action the device is re-polled to confirm the effect.
func (s *CloudService) commandLoop(ctx context.Context) {
	changes, err := s.tree.SubscribeStates("*")
	if err != nil {
		log.Error().Err(err).Msg("Cannot subscribe to state changes")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			confirm, err := s.mapper.Handle(ctx, change)
			if err != nil {
				log.Error().Err(err).Str("path", change.Path).Msg("Command failed")
				continue
			}
			if confirm {
				deviceID, _, _ := objtree.SplitPath(change.Path)
				if err := s.coordinator.RefreshDevice(ctx, deviceID); err != nil {
					log.Warn().Err(err).Str("device", deviceID).Msg("Post-action refresh failed")
				}
			}
		}
	}
}

// Close logs out from the cloud API. Best-effort: token invalidation
// failing is not worth blocking shutdown for.
func (s *CloudService) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	s.auth.Logout(ctx)
}
