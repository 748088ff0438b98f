package mieleapi

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dokzlo13/mieled/internal/catalog"
)

// TypedValue is the API's {key_localized, value_raw, value_localized, unit}
// quadruple used for statuses, programs, phases and similar fields.
type TypedValue struct {
	KeyLocalized   string          `json:"key_localized"`
	ValueRaw       *int            `json:"value_raw"`
	ValueLocalized json.RawMessage `json:"value_localized"`
	Unit           string          `json:"unit,omitempty"`
}

// UnmarshalJSON decodes the quadruple, tolerating the API's three "not
// applicable" spellings for value_raw: -32768, null and the string "null".
func (v *TypedValue) UnmarshalJSON(data []byte) error {
	type plain TypedValue
	aux := struct {
		ValueRaw json.RawMessage `json:"value_raw"`
		*plain
	}{plain: (*plain)(v)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v.ValueRaw = parseRawInt(aux.ValueRaw)
	return nil
}

// Raw returns the raw code and whether it is present and applicable.
func (v TypedValue) Raw() (int, bool) {
	if v.ValueRaw == nil || *v.ValueRaw == catalog.Sentinel {
		return 0, false
	}
	return *v.ValueRaw, true
}

// parseRawInt reads a value_raw field. Absent, null, the string "null" and
// unparseable values all map to nil; the -32768 sentinel is kept so callers
// can distinguish "sent but inapplicable" where they care.
func parseRawInt(raw json.RawMessage) *int {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `"null"` {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// Localized renders the localized value as text. JSON strings are unquoted,
// numbers formatted, null and "null" become empty.
func (v TypedValue) Localized() string {
	raw := strings.TrimSpace(string(v.ValueLocalized))
	if raw == "" || raw == "null" {
		return ""
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		if unquoted == "null" {
			return ""
		}
		return unquoted
	}
	return raw
}

// Temperature is one zone reading or target.
type Temperature struct {
	ValueRaw       *int     `json:"value_raw"`
	ValueLocalized *float64 `json:"value_localized"`
	Unit           string   `json:"unit"`
}

// UnmarshalJSON decodes one zone reading with the same sentinel tolerance
// as TypedValue, for both the raw and the localized value.
func (t *Temperature) UnmarshalJSON(data []byte) error {
	type plain Temperature
	aux := struct {
		ValueRaw       json.RawMessage `json:"value_raw"`
		ValueLocalized json.RawMessage `json:"value_localized"`
		*plain
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.ValueRaw = parseRawInt(aux.ValueRaw)
	t.ValueLocalized = parseRawFloat(aux.ValueLocalized)
	return nil
}

func parseRawFloat(raw json.RawMessage) *float64 {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `"null"` {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// Applicable reports whether the zone carries a real value, honoring the
// -32768 sentinel.
func (t Temperature) Applicable() bool {
	return t.ValueRaw != nil && *t.ValueRaw != catalog.Sentinel
}

// Value returns the display value. The API reports hundredths in value_raw;
// value_localized already carries the display unit.
func (t Temperature) Value() float64 {
	if t.ValueLocalized != nil {
		return *t.ValueLocalized
	}
	if t.ValueRaw != nil {
		return float64(*t.ValueRaw) / 100.0
	}
	return 0
}

// RemoteEnable carries the remote control sub-flags.
type RemoteEnable struct {
	FullRemoteControl bool `json:"fullRemoteControl"`
	SmartGrid         bool `json:"smartGrid"`
	MobileStart       bool `json:"mobileStart"`
}

// EcoValue is one consumption reading with unit.
type EcoValue struct {
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
}

// EcoFeedback carries running consumption and forecasts.
type EcoFeedback struct {
	CurrentWaterConsumption  *EcoValue `json:"currentWaterConsumption"`
	CurrentEnergyConsumption *EcoValue `json:"currentEnergyConsumption"`
	WaterForecast            *float64  `json:"waterForecast"`
	EnergyForecast           *float64  `json:"energyForecast"`
}

// DeviceState is the raw decoded state sub-document for one device.
// Transient: not retained beyond one projection pass.
type DeviceState struct {
	Status            TypedValue    `json:"status"`
	ProgramID         TypedValue    `json:"ProgramID"`
	ProgramType       TypedValue    `json:"programType"`
	ProgramPhase      TypedValue    `json:"programPhase"`
	RemainingTime     []int         `json:"remainingTime"`
	StartTime         []int         `json:"startTime"`
	ElapsedTime       []int         `json:"elapsedTime"`
	TargetTemperature []Temperature `json:"targetTemperature"`
	Temperature       []Temperature `json:"temperature"`
	SignalInfo        bool          `json:"signalInfo"`
	SignalFailure     bool          `json:"signalFailure"`
	SignalDoor        bool          `json:"signalDoor"`
	RemoteEnable      RemoteEnable  `json:"remoteEnable"`
	Light             int           `json:"light"`
	SpinningSpeed     TypedValue    `json:"spinningSpeed"`
	DryingStep        TypedValue    `json:"dryingStep"`
	VentilationStep   TypedValue    `json:"ventilationStep"`
	PlateStep         []TypedValue  `json:"plateStep"`
	EcoFeedback       *EcoFeedback  `json:"ecoFeedback"`
	BatteryLevel      *float64      `json:"batteryLevel"`
}

// StatusRaw returns the raw status code, defaulting to not-connected when
// the field is absent.
func (s DeviceState) StatusRaw() int {
	if raw, ok := s.Status.Raw(); ok {
		return raw
	}
	return catalog.StatusNotConnected
}

// DeviceIdentLabel carries the nameplate data.
type DeviceIdentLabel struct {
	FabNumber string `json:"fabNumber"`
	TechType  string `json:"techType"`
}

// Ident is the raw decoded ident sub-document for one device.
type Ident struct {
	Type             TypedValue       `json:"type"`
	DeviceName       string           `json:"deviceName"`
	DeviceIdentLabel DeviceIdentLabel `json:"deviceIdentLabel"`
}

// TypeCode returns the device type code, 0 when absent.
func (i Ident) TypeCode() int {
	raw, _ := i.Type.Raw()
	return raw
}

// Device is one entry of the all-devices response.
type Device struct {
	Ident Ident       `json:"ident"`
	State DeviceState `json:"state"`
}

// DeviceMap is the all-devices response keyed by device id.
type DeviceMap map[string]Device

// TargetRange is one settable temperature zone with its permitted range.
type TargetRange struct {
	Zone int `json:"zone"`
	Min  int `json:"min"`
	Max  int `json:"max"`
}

// DeviceActions is the raw decoded permitted-actions sub-document.
// Transient, same lifecycle as DeviceState.
type DeviceActions struct {
	ProcessAction     []int         `json:"processAction"`
	Light             []int         `json:"light"`
	StartTime         bool          `json:"startTime"`
	PowerOn           bool          `json:"powerOn"`
	PowerOff          bool          `json:"powerOff"`
	DeviceName        bool          `json:"deviceName"`
	Modes             []int         `json:"modes"`
	ProgramID         []int64       `json:"programId"`
	TargetTemperature []TargetRange `json:"targetTemperature"`
}

// HasProcessAction reports whether the given process action is permitted.
func (a DeviceActions) HasProcessAction(code int) bool {
	for _, c := range a.ProcessAction {
		if c == code {
			return true
		}
	}
	return false
}

// HasLight reports whether the given light action is permitted.
func (a DeviceActions) HasLight(code int) bool {
	for _, c := range a.Light {
		if c == code {
			return true
		}
	}
	return false
}

// AllDisabledActions is the canonical payload for devices unknown to the
// API: every capability absent, so the projector renders disabled controls
// instead of erroring.
func AllDisabledActions() DeviceActions {
	return DeviceActions{}
}

// ActionsMap is the per-device permitted-actions snapshot keyed by device id.
type ActionsMap map[string]DeviceActions

// Program is one entry of the programs response.
type Program struct {
	ProgramID int64  `json:"programId"`
	Program   string `json:"program"`
}
