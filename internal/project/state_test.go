package project

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dokzlo13/mieled/internal/catalog"
	"github.com/dokzlo13/mieled/internal/mieleapi"
	"github.com/dokzlo13/mieled/internal/objtree"
	"github.com/dokzlo13/mieled/internal/registry"
)

func intPtr(v int) *int { return &v }

func typed(raw int, localized string) mieleapi.TypedValue {
	tv := mieleapi.TypedValue{ValueRaw: intPtr(raw)}
	if localized != "" {
		b, _ := json.Marshal(localized)
		tv.ValueLocalized = json.RawMessage(b)
	}
	return tv
}

func temp(raw int, localized float64, unit string) mieleapi.Temperature {
	return mieleapi.Temperature{ValueRaw: intPtr(raw), ValueLocalized: &localized, Unit: unit}
}

func record(t *testing.T, typeCode int, name string) *registry.Record {
	t.Helper()
	r := registry.New()
	return r.Upsert("dev1", mieleapi.Ident{
		Type:       mieleapi.TypedValue{ValueRaw: intPtr(typeCode)},
		DeviceName: name,
	})
}

func getState(t *testing.T, m *objtree.Memory, path string) any {
	t.Helper()
	v, err := m.GetState(path)
	if err != nil {
		t.Fatalf("GetState(%s): %v", path, err)
	}
	return v
}

func fixedClock(hour, min int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 3, 1, hour, min, 0, 0, time.UTC)
	}
}

func runningWasherState() mieleapi.DeviceState {
	return mieleapi.DeviceState{
		Status:        typed(catalog.StatusRunning, "In use"),
		ProgramID:     typed(1, "Cottons"),
		ProgramType:   typed(1, "Own program"),
		ProgramPhase:  typed(260, "Main wash"),
		RemainingTime: []int{1, 30},
		StartTime:     []int{0, 0},
		ElapsedTime:   []int{0, 45},
		SpinningSpeed: mieleapi.TypedValue{ValueRaw: intPtr(1200), Unit: "rpm"},
		TargetTemperature: []mieleapi.Temperature{
			temp(4000, 40, "Celsius"),
		},
		RemoteEnable: mieleapi.RemoteEnable{FullRemoteControl: true},
	}
}

func TestProjectWashingMachine(t *testing.T) {
	m := objtree.NewMemory()
	p := NewStateProjector(NewWriter(m))
	p.SetClock(fixedClock(10, 0))
	rec := record(t, catalog.TypeWashingMachine, "Washer")

	if err := p.Project(rec, runningWasherState(), true); err != nil {
		t.Fatalf("Project: %v", err)
	}

	want := map[string]any{
		"dev1.state.status":                 "In use",
		"dev1.state.status_raw":             float64(catalog.StatusRunning),
		"dev1.state.program":                "Cottons",
		"dev1.state.program_raw":            float64(1),
		"dev1.state.programType":            "Own program",
		"dev1.state.programPhase":           "Main wash",
		"dev1.state.remainingTime":          "1:30",
		"dev1.state.elapsedTime":            "0:45",
		"dev1.state.estimatedEndTime":       "11:30",
		"dev1.state.spinningSpeed":          float64(1200),
		"dev1.state.targetTemperatureZone1": float64(40),
		"dev1.info.connected":               true,
		"dev1.info.signalInUse":             true,
		"dev1.info.signalFailure":           false,
		"dev1.info.fullRemoteControl":       true,
		"dev1.info.nickname":                "Washer",
	}
	for path, wantVal := range want {
		if got := getState(t, m, path); got != wantVal {
			t.Errorf("%s = %v (%T), want %v", path, got, got, wantVal)
		}
	}

	objects := m.Objects()
	if desc, ok := objects["dev1.state.startTime"]; !ok || !desc.Writable {
		t.Error("startTime should exist and be writable")
	}
	if desc, ok := objects["dev1.state.targetTemperatureZone1"]; !ok || !desc.Writable {
		t.Error("targetTemperatureZone1 should exist and be writable")
	}
	if desc := objects["dev1.state.remainingTime"]; desc.Writable {
		t.Error("remainingTime must be read-only")
	}
}

func TestEstimatedEndTimeRules(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		remaining []int
		want      string
	}{
		{"running with time left", catalog.StatusRunning, []int{1, 30}, "11:30"},
		{"off", catalog.StatusOff, []int{1, 30}, ""},
		{"running, nothing left", catalog.StatusRunning, []int{0, 0}, ""},
		{"on counts as active", catalog.StatusOn, []int{0, 10}, "10:10"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := objtree.NewMemory()
			p := NewStateProjector(NewWriter(m))
			p.SetClock(fixedClock(10, 0))
			rec := record(t, catalog.TypeWashingMachine, "Washer")

			st := runningWasherState()
			st.Status = typed(c.status, "")
			st.RemainingTime = c.remaining

			if err := p.Project(rec, st, true); err != nil {
				t.Fatalf("Project: %v", err)
			}
			if got := getState(t, m, "dev1.state.estimatedEndTime"); got != c.want {
				t.Errorf("estimatedEndTime = %v, want %q", got, c.want)
			}
		})
	}
}

func TestProjectionIsIdempotent(t *testing.T) {
	m := objtree.NewMemory()
	p := NewStateProjector(NewWriter(m))
	p.SetClock(fixedClock(10, 0))
	rec := record(t, catalog.TypeWashingMachine, "Washer")

	if err := p.Project(rec, runningWasherState(), true); err != nil {
		t.Fatalf("First project: %v", err)
	}
	created := len(m.Objects())

	if err := p.Project(rec, runningWasherState(), false); err != nil {
		t.Fatalf("Second project: %v", err)
	}
	if m.Extends != 0 {
		t.Errorf("Extends = %d, identical snapshots must not restructure", m.Extends)
	}
	if got := len(m.Objects()); got != created {
		t.Errorf("Object count changed from %d to %d", created, got)
	}
}

func TestSentinelZoneSkipped(t *testing.T) {
	m := objtree.NewMemory()
	p := NewStateProjector(NewWriter(m))
	rec := record(t, catalog.TypeFridgeFreezer, "Fridge")

	st := mieleapi.DeviceState{
		Status: typed(catalog.StatusRunning, "In use"),
		Temperature: []mieleapi.Temperature{
			temp(400, 4, "Celsius"),
			{ValueRaw: intPtr(catalog.Sentinel)},
		},
	}
	if err := p.Project(rec, st, true); err != nil {
		t.Fatalf("Project: %v", err)
	}

	if got := getState(t, m, "dev1.state.temperatureZone1"); got != float64(4) {
		t.Errorf("temperatureZone1 = %v", got)
	}
	if _, ok := m.Objects()["dev1.state.temperatureZone2"]; ok {
		t.Error("Sentinel zone must not create an object")
	}
}

func TestNicknameSetOnceOnInitialSetup(t *testing.T) {
	m := objtree.NewMemory()
	p := NewStateProjector(NewWriter(m))
	rec := record(t, catalog.TypeWashingMachine, "Washer")

	if err := p.Project(rec, runningWasherState(), true); err != nil {
		t.Fatal(err)
	}
	if got := getState(t, m, "dev1.info.nickname"); got != "Washer" {
		t.Fatalf("nickname = %v", got)
	}

	// A user rename survives later projections.
	if err := m.SetState("dev1.info.nickname", "Cellar washer", true); err != nil {
		t.Fatal(err)
	}
	if err := p.Project(rec, runningWasherState(), false); err != nil {
		t.Fatal(err)
	}
	if got := getState(t, m, "dev1.info.nickname"); got != "Cellar washer" {
		t.Errorf("nickname = %v, projection must not overwrite user value", got)
	}
}

func TestDisconnectedDevice(t *testing.T) {
	m := objtree.NewMemory()
	p := NewStateProjector(NewWriter(m))
	rec := record(t, catalog.TypeWashingMachine, "Washer")

	// Absent status defaults to not-connected.
	if err := p.Project(rec, mieleapi.DeviceState{}, true); err != nil {
		t.Fatal(err)
	}
	if got := getState(t, m, "dev1.info.connected"); got != false {
		t.Errorf("connected = %v", got)
	}
	if got := getState(t, m, "dev1.state.status_raw"); got != float64(catalog.StatusNotConnected) {
		t.Errorf("status_raw = %v", got)
	}
}

func TestUnknownTypeGetsCommonFieldsOnly(t *testing.T) {
	m := objtree.NewMemory()
	p := NewStateProjector(NewWriter(m))
	rec := record(t, 99, "Mystery")

	st := runningWasherState()
	if err := p.Project(rec, st, true); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Objects()["dev1.state.program"]; ok {
		t.Error("Unknown type must not get per-type fields")
	}
	if _, ok := m.Objects()["dev1.state.status"]; !ok {
		t.Error("Unknown type still gets common fields")
	}
}

func TestHobPlateSteps(t *testing.T) {
	m := objtree.NewMemory()
	p := NewStateProjector(NewWriter(m))
	rec := record(t, catalog.TypeHobInduction, "Hob")

	st := mieleapi.DeviceState{
		Status: typed(catalog.StatusRunning, "In use"),
		PlateStep: []mieleapi.TypedValue{
			typed(3, ""),
			typed(0, ""),
			{ValueRaw: intPtr(catalog.Sentinel)},
		},
	}
	if err := p.Project(rec, st, true); err != nil {
		t.Fatal(err)
	}
	if got := getState(t, m, "dev1.state.plateStep1"); got != float64(3) {
		t.Errorf("plateStep1 = %v", got)
	}
	if got := getState(t, m, "dev1.state.plateStep2"); got != float64(0) {
		t.Errorf("plateStep2 = %v", got)
	}
	if _, ok := m.Objects()["dev1.state.plateStep3"]; ok {
		t.Error("Sentinel plate must not create an object")
	}
}

func TestHoodVentilationStep(t *testing.T) {
	m := objtree.NewMemory()
	p := NewStateProjector(NewWriter(m))
	rec := record(t, catalog.TypeHood, "Hood")

	st := mieleapi.DeviceState{
		Status:          typed(catalog.StatusRunning, "In use"),
		VentilationStep: typed(2, ""),
	}
	if err := p.Project(rec, st, true); err != nil {
		t.Fatal(err)
	}
	if got := getState(t, m, "dev1.state.ventilationStep"); got != float64(2) {
		t.Errorf("ventilationStep = %v", got)
	}

	st.VentilationStep = mieleapi.TypedValue{ValueRaw: intPtr(catalog.Sentinel)}
	if err := p.Project(rec, st, false); err != nil {
		t.Fatal(err)
	}
	if got := getState(t, m, "dev1.state.ventilationStep"); got != float64(2) {
		t.Errorf("Sentinel must not clobber the last value, got %v", got)
	}
}
