package project

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/mieled/internal/catalog"
	"github.com/dokzlo13/mieled/internal/mieleapi"
	"github.com/dokzlo13/mieled/internal/registry"
)

// Switch rendering for the mutually-exclusive permission pair pattern:
// when only one direction is permitted, the switch shows the opposite state
// so the user-facing control offers the action that IS permitted. When both
// or neither are permitted the state is "None" and the control read-only.
const (
	SwitchOn   = "On"
	SwitchOff  = "Off"
	SwitchNone = "None"
)

var switchStates = map[string]string{
	SwitchOn:   "On",
	SwitchOff:  "Off",
	SwitchNone: "None",
}

// InferSwitch applies the mutual-exclusion inference to a permission pair.
func InferSwitch(onPermitted, offPermitted bool) (state string, writable bool) {
	switch {
	case onPermitted && !offPermitted:
		return SwitchOff, true
	case offPermitted && !onPermitted:
		return SwitchOn, true
	default:
		return SwitchNone, false
	}
}

// actionProjector creates or reconciles one control for a device.
type actionProjector func(p *ActionsProjector, rec *registry.Record, act mieleapi.DeviceActions) error

var (
	washerControls = []actionProjector{
		(*ActionsProjector).projectPower,
		(*ActionsProjector).projectStartStop,
		(*ActionsProjector).projectLight,
		(*ActionsProjector).projectTargetRanges,
		(*ActionsProjector).projectPrograms,
	}
	ovenControls = []actionProjector{
		(*ActionsProjector).projectPower,
		(*ActionsProjector).projectStop,
		(*ActionsProjector).projectLight,
		(*ActionsProjector).projectPrograms,
	}
	fridgeControls = []actionProjector{
		(*ActionsProjector).projectSuperCooling,
		(*ActionsProjector).projectTargetRanges,
	}
	freezerControls = []actionProjector{
		(*ActionsProjector).projectSuperFreezing,
		(*ActionsProjector).projectTargetRanges,
	}
	fridgeFreezerControls = []actionProjector{
		(*ActionsProjector).projectSuperCooling,
		(*ActionsProjector).projectSuperFreezing,
		(*ActionsProjector).projectTargetRanges,
	}
	wineControls = []actionProjector{
		(*ActionsProjector).projectTargetRanges,
	}
	hoodControls = []actionProjector{
		(*ActionsProjector).projectPower,
		(*ActionsProjector).projectLight,
	}
)

// actionFields maps device type codes to their control sets. Hob, gas and
// double-oven classes deliberately expose no controls.
var actionFields = map[int][]actionProjector{
	catalog.TypeWashingMachine:     washerControls,
	catalog.TypeTumbleDryer:        washerControls,
	catalog.TypeDishwasher:         washerControls,
	catalog.TypeDishwasherSemiProf: washerControls,
	catalog.TypeWasherDryer:        washerControls,

	catalog.TypeOven:               ovenControls,
	catalog.TypeOvenMicrowave:      ovenControls,
	catalog.TypeSteamOven:          ovenControls,
	catalog.TypeMicrowave:          ovenControls,
	catalog.TypeSteamOvenCombi:     ovenControls,
	catalog.TypeSteamOvenMicrowave: ovenControls,
	catalog.TypeDialogOven:         ovenControls,
	catalog.TypeCoffeeSystem:       ovenControls,

	catalog.TypeHood: hoodControls,

	catalog.TypeFridge:             fridgeControls,
	catalog.TypeFreezer:            freezerControls,
	catalog.TypeFridgeFreezer:      fridgeFreezerControls,
	catalog.TypeWineCabinetFreezer: fridgeFreezerControls,

	catalog.TypeWineCabinet:            wineControls,
	catalog.TypeWineConditioningUnit:   wineControls,
	catalog.TypeWineStorageConditioner: wineControls,

	catalog.TypeHobHighlight:         nil,
	catalog.TypeHobInduction:         nil,
	catalog.TypeHobGas:               nil,
	catalog.TypeDoubleOven:           nil,
	catalog.TypeDoubleSteamOven:      nil,
	catalog.TypeDoubleSteamOvenCombi: nil,
	catalog.TypeDoubleMicrowave:      nil,
	catalog.TypeDoubleMicrowaveOven:  nil,
	catalog.TypeRobotVacuumCleaner:   nil,
	catalog.TypeDishWarmer:           nil,
	catalog.TypeVacuumDrawer:         nil,
}

// ActionsProjector materializes permitted-actions snapshots as controls and
// reconciles their enabled/disabled state.
type ActionsProjector struct {
	w *Writer
}

// NewActionsProjector creates a projector writing through w.
func NewActionsProjector(w *Writer) *ActionsProjector {
	return &ActionsProjector{w: w}
}

// Project creates/updates the controls for one permitted-actions snapshot.
func (p *ActionsProjector) Project(rec *registry.Record, act mieleapi.DeviceActions, initialSetup bool) error {
	controls, known := actionFields[rec.TypeCode]
	if !known {
		log.Warn().Str("device", rec.ID).Int("type", rec.TypeCode).Msg("Unknown device type, no controls")
		return nil
	}
	if len(controls) == 0 {
		return nil
	}

	if err := p.w.Channel(rec.ID+".actions", "Actions"); err != nil {
		return err
	}
	for _, control := range controls {
		if err := control(p, rec, act); err != nil {
			return err
		}
	}
	return nil
}

func (p *ActionsProjector) projectPower(rec *registry.Record, act mieleapi.DeviceActions) error {
	state, writable := InferSwitch(act.PowerOn, act.PowerOff)
	return p.w.Switch(rec.ID+".actions.power", "Power", switchStates, writable, state)
}

func (p *ActionsProjector) projectLight(rec *registry.Record, act mieleapi.DeviceActions) error {
	state, writable := InferSwitch(act.HasLight(catalog.LightEnable), act.HasLight(catalog.LightDisable))
	return p.w.Switch(rec.ID+".actions.light", "Light", switchStates, writable, state)
}

func (p *ActionsProjector) projectSuperCooling(rec *registry.Record, act mieleapi.DeviceActions) error {
	state, writable := InferSwitch(
		act.HasProcessAction(catalog.ActionStartSupercooling),
		act.HasProcessAction(catalog.ActionStopSupercooling),
	)
	return p.w.Switch(rec.ID+".actions.superCooling", "Super cooling", switchStates, writable, state)
}

func (p *ActionsProjector) projectSuperFreezing(rec *registry.Record, act mieleapi.DeviceActions) error {
	state, writable := InferSwitch(
		act.HasProcessAction(catalog.ActionStartSuperfreezing),
		act.HasProcessAction(catalog.ActionStopSuperfreezing),
	)
	return p.w.Switch(rec.ID+".actions.superFreezing", "Super freezing", switchStates, writable, state)
}

func (p *ActionsProjector) projectStartStop(rec *registry.Record, act mieleapi.DeviceActions) error {
	if err := p.w.Button(rec.ID+".actions.start", "Start", act.HasProcessAction(catalog.ActionStart)); err != nil {
		return err
	}
	if err := p.w.Button(rec.ID+".actions.stop", "Stop", act.HasProcessAction(catalog.ActionStop)); err != nil {
		return err
	}
	return p.w.Button(rec.ID+".actions.pause", "Pause", act.HasProcessAction(catalog.ActionPause))
}

func (p *ActionsProjector) projectStop(rec *registry.Record, act mieleapi.DeviceActions) error {
	return p.w.Button(rec.ID+".actions.stop", "Stop", act.HasProcessAction(catalog.ActionStop))
}

// projectTargetRanges reconciles the writable target-temperature points with
// the permitted ranges and refines the registry's zone metadata.
func (p *ActionsProjector) projectTargetRanges(rec *registry.Record, act mieleapi.DeviceActions) error {
	for _, tr := range act.TargetTemperature {
		var unit string
		for _, z := range rec.Zones {
			if z.Zone == tr.Zone {
				unit = z.Unit
			}
		}
		path := zonePath(rec.ID, "targetTemperature", tr.Zone)
		name := zoneName("Target temperature", tr.Zone, len(act.TargetTemperature))
		if err := p.w.WritableNumber(path, name, "level.temperature", DisplayUnit(unit),
			float64(tr.Min), float64(tr.Max), nil); err != nil {
			return err
		}
	}
	return nil
}

// projectPrograms creates one button per known program. Programs are filled
// into the registry from the programs endpoint.
func (p *ActionsProjector) projectPrograms(rec *registry.Record, act mieleapi.DeviceActions) error {
	if len(rec.Programs) == 0 {
		return nil
	}
	if err := p.w.Channel(rec.ID+".actions.programs", "Programs"); err != nil {
		return err
	}
	for _, name := range rec.Programs {
		path := rec.ID + ".actions.programs." + ProgramPathSegment(name)
		if err := p.w.Button(path, name, true); err != nil {
			return err
		}
	}
	return nil
}

// ProgramPathSegment makes a program name safe as a path segment.
func ProgramPathSegment(name string) string {
	s := strings.ReplaceAll(name, ".", "_")
	return strings.ReplaceAll(s, " ", "_")
}
