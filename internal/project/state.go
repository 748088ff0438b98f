package project

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/mieled/internal/catalog"
	"github.com/dokzlo13/mieled/internal/mieleapi"
	"github.com/dokzlo13/mieled/internal/registry"
)

// fieldProjector creates or refreshes one group of data points for a device.
type fieldProjector func(p *StateProjector, rec *registry.Record, st mieleapi.DeviceState) error

// Composable field groups. The per-type table below assembles these; the
// table is the authoritative device-capability model.
var (
	programFields = []fieldProjector{
		(*StateProjector).projectProgram,
		(*StateProjector).projectProgramType,
		(*StateProjector).projectProgramPhase,
	}
	timeFields = []fieldProjector{
		(*StateProjector).projectRemainingTime,
		(*StateProjector).projectStartTime,
		(*StateProjector).projectElapsedTime,
		(*StateProjector).projectEstimatedEndTime,
	}
	temperatureFields = []fieldProjector{
		(*StateProjector).projectTemperatures,
		(*StateProjector).projectTargetTemperatures,
	}
	ecoFields  = []fieldProjector{(*StateProjector).projectEcoFeedback}
	spinFields = []fieldProjector{(*StateProjector).projectSpinningSpeed}
	dryFields  = []fieldProjector{(*StateProjector).projectDryingStep}
	hobFields  = []fieldProjector{(*StateProjector).projectPlateSteps}
	battFields = []fieldProjector{(*StateProjector).projectBatteryLevel}
	ventFields = []fieldProjector{(*StateProjector).projectVentilationStep}
)

func fieldSet(groups ...[]fieldProjector) []fieldProjector {
	var out []fieldProjector
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// stateFields maps device type codes to their projected field sets.
// Types present with an empty set are recognized but intentionally get no
// extra fields beyond the common ones.
var stateFields = map[int][]fieldProjector{
	catalog.TypeWashingMachine:     fieldSet(programFields, timeFields, spinFields, ecoFields, temperatureFields),
	catalog.TypeWasherDryer:        fieldSet(programFields, timeFields, spinFields, dryFields, ecoFields, temperatureFields),
	catalog.TypeTumbleDryer:        fieldSet(programFields, timeFields, dryFields, ecoFields),
	catalog.TypeDishwasher:         fieldSet(programFields, timeFields, ecoFields),
	catalog.TypeDishwasherSemiProf: fieldSet(programFields, timeFields, ecoFields),

	catalog.TypeOven:                 fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeOvenMicrowave:        fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeSteamOven:            fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeMicrowave:            fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeSteamOvenCombi:       fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeSteamOvenMicrowave:   fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeDialogOven:           fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeDoubleOven:           fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeDoubleSteamOven:      fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeDoubleSteamOvenCombi: fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeDoubleMicrowave:      fieldSet(programFields, timeFields, temperatureFields),
	catalog.TypeDoubleMicrowaveOven:  fieldSet(programFields, timeFields, temperatureFields),

	catalog.TypeFridge:                 fieldSet(temperatureFields),
	catalog.TypeFreezer:                fieldSet(temperatureFields),
	catalog.TypeFridgeFreezer:          fieldSet(temperatureFields),
	catalog.TypeWineCabinet:            fieldSet(temperatureFields),
	catalog.TypeWineConditioningUnit:   fieldSet(temperatureFields),
	catalog.TypeWineStorageConditioner: fieldSet(temperatureFields),
	catalog.TypeWineCabinetFreezer:     fieldSet(temperatureFields),

	catalog.TypeHobHighlight: fieldSet(hobFields),
	catalog.TypeHobInduction: fieldSet(hobFields),
	catalog.TypeHobGas:       fieldSet(hobFields),

	catalog.TypeRobotVacuumCleaner: fieldSet(battFields),

	catalog.TypeHood: fieldSet(ventFields),

	// Recognized, no extra fields.
	catalog.TypeCoffeeSystem: nil,
	catalog.TypeDishWarmer:   nil,
	catalog.TypeVacuumDrawer: nil,
}

// StateFieldsFor returns the field set for a type code and whether the code
// is part of the table.
func StateFieldsFor(typeCode int) ([]fieldProjector, bool) {
	fields, ok := stateFields[typeCode]
	return fields, ok
}

// StateProjector materializes device state snapshots as data points.
type StateProjector struct {
	w   *Writer
	now func() time.Time
}

// NewStateProjector creates a projector writing through w.
func NewStateProjector(w *Writer) *StateProjector {
	return &StateProjector{w: w, now: time.Now}
}

// SetClock overrides wall-clock time, for tests of derived time fields.
func (p *StateProjector) SetClock(now func() time.Time) {
	p.now = now
}

// Project creates/updates all data points for one device state snapshot.
// Every device gets the common set; the per-type table contributes the rest.
func (p *StateProjector) Project(rec *registry.Record, st mieleapi.DeviceState, initialSetup bool) error {
	if err := p.projectCommon(rec, st, initialSetup); err != nil {
		return err
	}

	fields, known := stateFields[rec.TypeCode]
	if !known {
		log.Warn().Str("device", rec.ID).Int("type", rec.TypeCode).Msg("Unknown device type, common fields only")
		return nil
	}

	for _, field := range fields {
		if err := field(p, rec, st); err != nil {
			return err
		}
	}
	return nil
}

func (p *StateProjector) projectCommon(rec *registry.Record, st mieleapi.DeviceState, initialSetup bool) error {
	dev := rec.ID
	statusRaw := st.StatusRaw()

	if err := p.w.Device(dev, rec.DisplayName); err != nil {
		return err
	}
	if err := p.w.Channel(dev+".state", "State"); err != nil {
		return err
	}
	if err := p.w.Channel(dev+".info", "Information"); err != nil {
		return err
	}

	if err := p.w.String(dev+".state.status", "Status", "text", st.Status.Localized()); err != nil {
		return err
	}
	if err := p.w.Number(dev+".state.status_raw", "Status code", "value", "", float64(statusRaw)); err != nil {
		return err
	}
	if err := p.w.Bool(dev+".info.connected", "Connected", "indicator.reachable", statusRaw != catalog.StatusNotConnected); err != nil {
		return err
	}
	if err := p.w.Bool(dev+".info.signalInUse", "In use", "indicator.working", statusRaw != catalog.StatusOff); err != nil {
		return err
	}
	if err := p.w.Bool(dev+".info.signalFailure", "Failure", "indicator.error", st.SignalFailure); err != nil {
		return err
	}
	if err := p.w.Bool(dev+".info.signalDoor", "Door", "indicator", st.SignalDoor); err != nil {
		return err
	}
	if err := p.w.Bool(dev+".info.signalInfo", "Notification", "indicator", st.SignalInfo); err != nil {
		return err
	}
	if err := p.w.Bool(dev+".info.fullRemoteControl", "Full remote control", "indicator", st.RemoteEnable.FullRemoteControl); err != nil {
		return err
	}
	if err := p.w.Bool(dev+".info.mobileStart", "Mobile start", "indicator", st.RemoteEnable.MobileStart); err != nil {
		return err
	}

	// Value owned by the command path; only the object is ensured here.
	if err := p.w.WritableString(dev+".info.lastActionResult", "Last action result", "text", nil); err != nil {
		return err
	}

	// Nickname defaults to the localized type name once, then belongs to
	// the user.
	if err := p.w.WritableString(dev+".info.nickname", "Nickname", "text", nil); err != nil {
		return err
	}
	if initialSetup {
		current, err := p.w.Tree().GetState(dev + ".info.nickname")
		if err != nil {
			return err
		}
		if current == nil {
			if err := p.w.Tree().SetState(dev+".info.nickname", rec.DisplayName, true); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *StateProjector) projectProgram(rec *registry.Record, st mieleapi.DeviceState) error {
	dev := rec.ID
	if raw, ok := st.ProgramID.Raw(); ok {
		if err := p.w.Number(dev+".state.program_raw", "Program code", "value", "", float64(raw)); err != nil {
			return err
		}
	}
	return p.w.String(dev+".state.program", "Program", "text", st.ProgramID.Localized())
}

func (p *StateProjector) projectProgramType(rec *registry.Record, st mieleapi.DeviceState) error {
	return p.w.String(rec.ID+".state.programType", "Program type", "text", st.ProgramType.Localized())
}

func (p *StateProjector) projectProgramPhase(rec *registry.Record, st mieleapi.DeviceState) error {
	return p.w.String(rec.ID+".state.programPhase", "Program phase", "text", st.ProgramPhase.Localized())
}

func (p *StateProjector) projectRemainingTime(rec *registry.Record, st mieleapi.DeviceState) error {
	return p.w.String(rec.ID+".state.remainingTime", "Remaining time", "value.time", TimePair(st.RemainingTime))
}

// projectStartTime is the one writable time field.
func (p *StateProjector) projectStartTime(rec *registry.Record, st mieleapi.DeviceState) error {
	return p.w.WritableString(rec.ID+".state.startTime", "Start time", "value.time", TimePair(st.StartTime))
}

func (p *StateProjector) projectElapsedTime(rec *registry.Record, st mieleapi.DeviceState) error {
	return p.w.String(rec.ID+".state.elapsedTime", "Elapsed time", "value.time", TimePair(st.ElapsedTime))
}

// projectEstimatedEndTime derives the finish wall-clock time. Blank unless
// the device is actually running with time remaining.
func (p *StateProjector) projectEstimatedEndTime(rec *registry.Record, st mieleapi.DeviceState) error {
	value := ""
	remaining := st.RemainingTime
	if st.StatusRaw() >= catalog.StatusOn && len(remaining) >= 2 && (remaining[0] != 0 || remaining[1] != 0) {
		end := p.now().Add(time.Duration(remaining[0])*time.Hour + time.Duration(remaining[1])*time.Minute)
		value = end.Format("15:04")
	}
	return p.w.String(rec.ID+".state.estimatedEndTime", "Estimated end time", "value.time", value)
}

func (p *StateProjector) projectSpinningSpeed(rec *registry.Record, st mieleapi.DeviceState) error {
	raw, ok := st.SpinningSpeed.Raw()
	if !ok {
		return nil
	}
	unit := st.SpinningSpeed.Unit
	if unit == "" {
		unit = "rpm"
	}
	return p.w.Number(rec.ID+".state.spinningSpeed", "Spinning speed", "value", unit, float64(raw))
}

func (p *StateProjector) projectVentilationStep(rec *registry.Record, st mieleapi.DeviceState) error {
	raw, ok := st.VentilationStep.Raw()
	if !ok {
		return nil
	}
	return p.w.Number(rec.ID+".state.ventilationStep", "Ventilation step", "value", "", float64(raw))
}

func (p *StateProjector) projectDryingStep(rec *registry.Record, st mieleapi.DeviceState) error {
	if _, ok := st.DryingStep.Raw(); !ok {
		return nil
	}
	return p.w.String(rec.ID+".state.dryingStep", "Drying step", "text", st.DryingStep.Localized())
}

// projectTemperatures creates one data point per physical zone, skipping
// zones whose raw value is the sentinel.
func (p *StateProjector) projectTemperatures(rec *registry.Record, st mieleapi.DeviceState) error {
	return p.projectZones(rec, st.Temperature, "temperature", "Temperature", false)
}

func (p *StateProjector) projectTargetTemperatures(rec *registry.Record, st mieleapi.DeviceState) error {
	return p.projectZones(rec, st.TargetTemperature, "targetTemperature", "Target temperature", true)
}

func (p *StateProjector) projectZones(rec *registry.Record, temps []mieleapi.Temperature, field, name string, writable bool) error {
	for i, t := range temps {
		if !t.Applicable() {
			continue
		}
		zone := i + 1
		path := zonePath(rec.ID, field, zone)
		unit := DisplayUnit(t.Unit)

		var min, max float64
		for _, z := range rec.Zones {
			if z.Zone == zone {
				min, max = z.Min, z.Max
			}
		}

		var err error
		if writable {
			err = p.w.WritableNumber(path, zoneName(name, zone, len(temps)), "level.temperature", unit, min, max, t.Value())
		} else {
			err = p.w.Number(path, zoneName(name, zone, len(temps)), "value.temperature", unit, t.Value())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func zonePath(dev, field string, zone int) string {
	return dev + ".state." + field + "Zone" + itoa(zone)
}

func zoneName(base string, zone, total int) string {
	if total <= 1 {
		return base
	}
	return base + " zone " + itoa(zone)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func (p *StateProjector) projectPlateSteps(rec *registry.Record, st mieleapi.DeviceState) error {
	for i, plate := range st.PlateStep {
		raw, ok := plate.Raw()
		if !ok {
			continue
		}
		path := rec.ID + ".state.plateStep" + itoa(i+1)
		if err := p.w.Number(path, "Plate "+itoa(i+1)+" step", "value", "", float64(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (p *StateProjector) projectBatteryLevel(rec *registry.Record, st mieleapi.DeviceState) error {
	if st.BatteryLevel == nil {
		return nil
	}
	return p.w.Number(rec.ID+".state.batteryLevel", "Battery level", "value.battery", "%", *st.BatteryLevel)
}

func (p *StateProjector) projectEcoFeedback(rec *registry.Record, st mieleapi.DeviceState) error {
	eco := st.EcoFeedback
	if eco == nil {
		return nil
	}
	dev := rec.ID
	if err := p.w.Channel(dev+".eco", "Eco feedback"); err != nil {
		return err
	}
	if eco.CurrentEnergyConsumption != nil {
		if err := p.w.Number(dev+".eco.currentEnergy", "Current energy consumption", "value.power.consumption",
			eco.CurrentEnergyConsumption.Unit, eco.CurrentEnergyConsumption.Value); err != nil {
			return err
		}
	}
	if eco.CurrentWaterConsumption != nil {
		if err := p.w.Number(dev+".eco.currentWater", "Current water consumption", "value",
			eco.CurrentWaterConsumption.Unit, eco.CurrentWaterConsumption.Value); err != nil {
			return err
		}
	}
	if eco.EnergyForecast != nil {
		if err := p.w.Number(dev+".eco.energyForecast", "Energy forecast", "value", "kWh", *eco.EnergyForecast); err != nil {
			return err
		}
	}
	if eco.WaterForecast != nil {
		if err := p.w.Number(dev+".eco.waterForecast", "Water forecast", "value", "l", *eco.WaterForecast); err != nil {
			return err
		}
	}
	return nil
}
