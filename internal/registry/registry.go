// Package registry tracks discovered appliances and the metadata derived
// from their ident documents. The registry is created at startup, passed
// explicitly to the projectors and cleared only on a full resync.
package registry

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/mieled/internal/catalog"
	"github.com/dokzlo13/mieled/internal/mieleapi"
)

// ZoneConfig describes one temperature compartment.
type ZoneConfig struct {
	Zone int
	Unit string
	Min  float64
	Max  float64
}

// Record is the derived metadata for one appliance. Records persist for the
// lifetime of a run: appliances do not vanish between polls.
type Record struct {
	ID          string
	DisplayName string
	IconRef     string
	TypeCode    int
	Zones       []ZoneConfig
	// Programs maps program id to program name, filled lazily from the
	// programs endpoint.
	Programs map[int64]string
}

// zoneCounts maps device type codes to the number of temperature zones.
// Exhaustive over types with compartments; anything else has zero zones.
var zoneCounts = map[int]int{
	catalog.TypeFridge:                 1,
	catalog.TypeFreezer:                1,
	catalog.TypeFridgeFreezer:          2,
	catalog.TypeWineCabinet:            1,
	catalog.TypeWineConditioningUnit:   2,
	catalog.TypeWineStorageConditioner: 3,
	catalog.TypeWineCabinetFreezer:     2,
}

// ZoneCount returns the number of temperature zones for a type code.
func ZoneCount(typeCode int) int {
	return zoneCounts[typeCode]
}

// Registry is an in-memory map from device id to Record.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Upsert records a device from its ident document. Idempotent: existing
// records are refined, not replaced, so lazily-filled fields survive.
func (r *Registry) Upsert(deviceID string, ident mieleapi.Ident) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[deviceID]
	if !ok {
		typeCode := ident.TypeCode()
		rec = &Record{
			ID:       deviceID,
			IconRef:  catalog.IconRef(typeCode),
			TypeCode: typeCode,
			Programs: make(map[int64]string),
		}
		count := ZoneCount(typeCode)
		for zone := 1; zone <= count; zone++ {
			rec.Zones = append(rec.Zones, ZoneConfig{Zone: zone, Unit: "Celsius"})
		}
		r.records[deviceID] = rec

		log.Info().
			Str("device", deviceID).
			Int("type", typeCode).
			Str("name", catalog.TypeName(typeCode)).
			Int("zones", count).
			Msg("Device discovered")
	}

	// Display name falls back to the localized type name when the user has
	// not nicknamed the appliance.
	if ident.DeviceName != "" {
		rec.DisplayName = ident.DeviceName
	} else if rec.DisplayName == "" {
		if name := ident.Type.Localized(); name != "" {
			rec.DisplayName = name
		} else {
			rec.DisplayName = catalog.TypeName(rec.TypeCode)
		}
	}

	return rec
}

// RefineZones updates zone units and ranges from observed readings or
// permitted target ranges.
func (r *Registry) RefineZones(deviceID string, zones []ZoneConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[deviceID]
	if !ok {
		return
	}
	for _, z := range zones {
		for i := range rec.Zones {
			if rec.Zones[i].Zone == z.Zone {
				if z.Unit != "" {
					rec.Zones[i].Unit = z.Unit
				}
				if z.Min != 0 || z.Max != 0 {
					rec.Zones[i].Min = z.Min
					rec.Zones[i].Max = z.Max
				}
			}
		}
	}
}

// SetPrograms records the program catalog for a device.
func (r *Registry) SetPrograms(deviceID string, programs []mieleapi.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[deviceID]
	if !ok {
		return
	}
	for _, p := range programs {
		rec.Programs[p.ProgramID] = p.Program
	}
}

// ProgramID resolves a program name back to its id.
func (r *Registry) ProgramID(deviceID, name string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[deviceID]
	if !ok {
		return 0, false
	}
	for id, program := range rec.Programs {
		if program == name {
			return id, true
		}
	}
	return 0, false
}

// Get returns the record for a device id.
func (r *Registry) Get(deviceID string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[deviceID]
	return rec, ok
}

// All returns a snapshot of the registered records.
func (r *Registry) All() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}
