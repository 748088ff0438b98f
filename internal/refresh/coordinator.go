// Package refresh orchestrates the poll/stream pipeline: fetch device data,
// update the registry, and project states and actions into the object tree.
package refresh

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/mieled/internal/metrics"
	"github.com/dokzlo13/mieled/internal/mieleapi"
	"github.com/dokzlo13/mieled/internal/project"
	"github.com/dokzlo13/mieled/internal/registry"
)

// API is the slice of the cloud client the coordinator needs.
type API interface {
	FetchAllDevices(ctx context.Context) (mieleapi.DeviceMap, error)
	FetchActions(ctx context.Context, deviceID string) (mieleapi.DeviceActions, error)
	FetchPrograms(ctx context.Context, deviceID string) ([]mieleapi.Program, error)
}

// Coordinator runs the refresh pipeline. Refreshes for the same device are
// serialized so a poll and a stream event cannot interleave their writes.
type Coordinator struct {
	client  API
	reg     *registry.Registry
	states  *project.StateProjector
	actions *project.ActionsProjector

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	setupOnce sync.Map // device ids that completed initial setup
}

// NewCoordinator wires the pipeline stages together.
func NewCoordinator(client API, reg *registry.Registry, states *project.StateProjector, actions *project.ActionsProjector) *Coordinator {
	return &Coordinator{
		client:  client,
		reg:     reg,
		states:  states,
		actions: actions,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (c *Coordinator) deviceLock(deviceID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[deviceID] = l
	}
	return l
}

// isInitialSetup reports true exactly once per device.
func (c *Coordinator) isInitialSetup(deviceID string) bool {
	_, seen := c.setupOnce.LoadOrStore(deviceID, struct{}{})
	return !seen
}

// RefreshAll fetches the full device list and runs the pipeline for every
// device. Per-device failures are logged and do not abort the sweep.
func (c *Coordinator) RefreshAll(ctx context.Context) error {
	devices, err := c.client.FetchAllDevices(ctx)
	if err != nil {
		metrics.CloudConnected.Set(0)
		return fmt.Errorf("fetch devices: %w", err)
	}
	metrics.CloudConnected.Set(1)
	metrics.DeviceRefreshes.WithLabelValues("poll").Inc()
	log.Debug().Int("count", len(devices)).Msg("Refreshing all devices")

	for id, dev := range devices {
		if err := c.refreshOne(ctx, id, dev); err != nil {
			log.Error().Err(err).Str("device", id).Msg("Device refresh failed")
		}
	}
	return nil
}

// RefreshDevice re-fetches and projects a single device, typically to
// confirm the effect of an executed action.
func (c *Coordinator) RefreshDevice(ctx context.Context, deviceID string) error {
	devices, err := c.client.FetchAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("fetch devices: %w", err)
	}
	dev, ok := devices[deviceID]
	if !ok {
		return fmt.Errorf("device %s not in device list", deviceID)
	}
	metrics.DeviceRefreshes.WithLabelValues("confirm").Inc()
	return c.refreshOne(ctx, deviceID, dev)
}

// refreshOne runs the full pipeline for one device under its lock.
func (c *Coordinator) refreshOne(ctx context.Context, deviceID string, dev mieleapi.Device) error {
	l := c.deviceLock(deviceID)
	l.Lock()
	defer l.Unlock()

	initial := c.isInitialSetup(deviceID)
	rec := c.reg.Upsert(deviceID, dev.Ident)

	if err := c.states.Project(rec, dev.State, initial); err != nil {
		return fmt.Errorf("project state: %w", err)
	}

	act, err := c.client.FetchActions(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("fetch actions: %w", err)
	}
	c.reg.RefineZones(deviceID, zonesFromRanges(act.TargetTemperature, rec))

	if initial {
		programs, err := c.client.FetchPrograms(ctx, deviceID)
		if err != nil {
			log.Warn().Err(err).Str("device", deviceID).Msg("Program list unavailable")
		} else {
			c.reg.SetPrograms(deviceID, programs)
		}
	}

	if err := c.actions.Project(rec, act, initial); err != nil {
		return fmt.Errorf("project actions: %w", err)
	}
	return nil
}

// RefreshActions re-fetches permitted actions for every registered device.
// Runs on its own interval because permitted actions track the program phase
// more closely than the device state does.
func (c *Coordinator) RefreshActions(ctx context.Context) {
	records := c.reg.All()
	if len(records) == 0 {
		return
	}
	metrics.DeviceRefreshes.WithLabelValues("actions").Inc()

	for _, rec := range records {
		act, err := c.client.FetchActions(ctx, rec.ID)
		if err != nil {
			log.Error().Err(err).Str("device", rec.ID).Msg("Actions refresh failed")
			continue
		}
		l := c.deviceLock(rec.ID)
		l.Lock()
		c.reg.RefineZones(rec.ID, zonesFromRanges(act.TargetTemperature, rec))
		err = c.actions.Project(rec, act, false)
		l.Unlock()
		if err != nil {
			log.Error().Err(err).Str("device", rec.ID).Msg("Actions projection failed")
		}
	}
}

// HandleDevices projects a pushed device-list snapshot. Actions are not
// re-fetched; the stream delivers them separately.
func (c *Coordinator) HandleDevices(devices mieleapi.DeviceMap) {
	metrics.DeviceRefreshes.WithLabelValues("stream").Inc()
	for id, dev := range devices {
		l := c.deviceLock(id)
		l.Lock()
		initial := c.isInitialSetup(id)
		rec := c.reg.Upsert(id, dev.Ident)
		err := c.states.Project(rec, dev.State, initial)
		l.Unlock()
		if err != nil {
			log.Error().Err(err).Str("device", id).Msg("Stream state projection failed")
		}
	}
}

// HandleActions projects a pushed permitted-actions snapshot.
func (c *Coordinator) HandleActions(actions mieleapi.ActionsMap) {
	for id, act := range actions {
		rec, ok := c.reg.Get(id)
		if !ok {
			log.Debug().Str("device", id).Msg("Actions for unregistered device, skipping")
			continue
		}
		l := c.deviceLock(id)
		l.Lock()
		c.reg.RefineZones(id, zonesFromRanges(act.TargetTemperature, rec))
		err := c.actions.Project(rec, act, false)
		l.Unlock()
		if err != nil {
			log.Error().Err(err).Str("device", id).Msg("Stream actions projection failed")
		}
	}
}

// zonesFromRanges converts permitted target ranges into zone metadata,
// preserving units already learned from state snapshots.
func zonesFromRanges(ranges []mieleapi.TargetRange, rec *registry.Record) []registry.ZoneConfig {
	zones := make([]registry.ZoneConfig, 0, len(ranges))
	for _, tr := range ranges {
		zc := registry.ZoneConfig{
			Zone: tr.Zone,
			Min:  float64(tr.Min),
			Max:  float64(tr.Max),
		}
		for _, z := range rec.Zones {
			if z.Zone == tr.Zone {
				zc.Unit = z.Unit
			}
		}
		zones = append(zones, zc)
	}
	return zones
}
