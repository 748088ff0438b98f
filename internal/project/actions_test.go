package project

import (
	"testing"

	"github.com/dokzlo13/mieled/internal/catalog"
	"github.com/dokzlo13/mieled/internal/mieleapi"
	"github.com/dokzlo13/mieled/internal/objtree"
	"github.com/dokzlo13/mieled/internal/registry"
)

func TestInferSwitch(t *testing.T) {
	cases := []struct {
		name         string
		onPermitted  bool
		offPermitted bool
		wantState    string
		wantWritable bool
	}{
		{"only on permitted", true, false, SwitchOff, true},
		{"only off permitted", false, true, SwitchOn, true},
		{"both permitted", true, true, SwitchNone, false},
		{"neither permitted", false, false, SwitchNone, false},
	}
	for _, c := range cases {
		state, writable := InferSwitch(c.onPermitted, c.offPermitted)
		if state != c.wantState || writable != c.wantWritable {
			t.Errorf("%s: InferSwitch = %q, %v, want %q, %v",
				c.name, state, writable, c.wantState, c.wantWritable)
		}
	}
}

func TestProjectWasherControls(t *testing.T) {
	m := objtree.NewMemory()
	p := NewActionsProjector(NewWriter(m))
	rec := record(t, catalog.TypeWashingMachine, "Washer")

	act := mieleapi.DeviceActions{
		ProcessAction: []int{catalog.ActionStart},
		Light:         []int{catalog.LightEnable},
		PowerOff:      true,
	}
	if err := p.Project(rec, act, true); err != nil {
		t.Fatalf("Project: %v", err)
	}

	if got := getState(t, m, "dev1.actions.power"); got != SwitchOn {
		t.Errorf("power = %v, only powerOff permitted means the device is on", got)
	}
	if got := getState(t, m, "dev1.actions.light"); got != SwitchOff {
		t.Errorf("light = %v, only enable permitted means the light is off", got)
	}
	if got := getState(t, m, "dev1.actions.start"); got != true {
		t.Errorf("start = %v, want enabled", got)
	}
	if got := getState(t, m, "dev1.actions.stop"); got != false {
		t.Errorf("stop = %v, want disabled", got)
	}
	if got := getState(t, m, "dev1.actions.pause"); got != false {
		t.Errorf("pause = %v, want disabled", got)
	}

	objects := m.Objects()
	if desc := objects["dev1.actions.power"]; !desc.Writable {
		t.Error("power switch should be writable with one direction permitted")
	}
	if desc := objects["dev1.actions.start"]; !desc.Writable || desc.Readable {
		t.Error("start must be a write-only button")
	}
}

func TestAllDisabledActionsCreateNoEnabledControls(t *testing.T) {
	m := objtree.NewMemory()
	p := NewActionsProjector(NewWriter(m))
	rec := record(t, catalog.TypeWashingMachine, "Washer")

	if err := p.Project(rec, mieleapi.AllDisabledActions(), true); err != nil {
		t.Fatalf("Project: %v", err)
	}

	for _, path := range []string{"dev1.actions.power", "dev1.actions.light"} {
		if got := getState(t, m, path); got != SwitchNone {
			t.Errorf("%s = %v, want None", path, got)
		}
		if desc := m.Objects()[path]; desc.Writable {
			t.Errorf("%s must be read-only when neither direction is permitted", path)
		}
	}
	for _, path := range []string{"dev1.actions.start", "dev1.actions.stop", "dev1.actions.pause"} {
		if got := getState(t, m, path); got != false {
			t.Errorf("%s = %v, want disabled", path, got)
		}
	}
}

func TestProjectFridgeFreezerControls(t *testing.T) {
	m := objtree.NewMemory()
	p := NewActionsProjector(NewWriter(m))
	rec := record(t, catalog.TypeFridgeFreezer, "Fridge")

	act := mieleapi.DeviceActions{
		ProcessAction: []int{
			catalog.ActionStartSupercooling,
			catalog.ActionStopSuperfreezing,
		},
		TargetTemperature: []mieleapi.TargetRange{
			{Zone: 1, Min: 1, Max: 9},
			{Zone: 2, Min: -28, Max: -14},
		},
	}
	if err := p.Project(rec, act, true); err != nil {
		t.Fatalf("Project: %v", err)
	}

	if got := getState(t, m, "dev1.actions.superCooling"); got != SwitchOff {
		t.Errorf("superCooling = %v", got)
	}
	if got := getState(t, m, "dev1.actions.superFreezing"); got != SwitchOn {
		t.Errorf("superFreezing = %v", got)
	}

	objects := m.Objects()
	desc, ok := objects["dev1.state.targetTemperatureZone1"]
	if !ok {
		t.Fatal("targetTemperatureZone1 missing")
	}
	if desc.Min == nil || *desc.Min != 1 || desc.Max == nil || *desc.Max != 9 {
		t.Errorf("Zone 1 range = %v..%v", desc.Min, desc.Max)
	}
	desc2 := objects["dev1.state.targetTemperatureZone2"]
	if desc2.Min == nil || *desc2.Min != -28 {
		t.Errorf("Zone 2 min = %v", desc2.Min)
	}

	// No washer-style buttons on cooling appliances.
	if _, ok := objects["dev1.actions.start"]; ok {
		t.Error("Fridge/freezer should not get a start button")
	}
	if _, ok := objects["dev1.actions.power"]; ok {
		t.Error("Fridge/freezer should not get a power switch")
	}
}

func TestHobGetsNoControls(t *testing.T) {
	m := objtree.NewMemory()
	p := NewActionsProjector(NewWriter(m))
	rec := record(t, catalog.TypeHobInduction, "Hob")

	act := mieleapi.DeviceActions{PowerOn: true, PowerOff: true}
	if err := p.Project(rec, act, true); err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(m.Objects()) != 0 {
		t.Errorf("Hob created %d objects, want none", len(m.Objects()))
	}
}

func TestProgramButtons(t *testing.T) {
	m := objtree.NewMemory()
	reg := registry.New()
	rec := reg.Upsert("dev1", mieleapi.Ident{
		Type:       mieleapi.TypedValue{ValueRaw: intPtr(catalog.TypeWashingMachine)},
		DeviceName: "Washer",
	})
	reg.SetPrograms("dev1", []mieleapi.Program{
		{ProgramID: 1, Program: "Cottons"},
		{ProgramID: 3, Program: "Minimum iron"},
	})

	p := NewActionsProjector(NewWriter(m))
	if err := p.Project(rec, mieleapi.DeviceActions{}, true); err != nil {
		t.Fatalf("Project: %v", err)
	}

	objects := m.Objects()
	if _, ok := objects["dev1.actions.programs.Cottons"]; !ok {
		t.Error("Cottons program button missing")
	}
	desc, ok := objects["dev1.actions.programs.Minimum_iron"]
	if !ok {
		t.Fatal("Minimum_iron program button missing")
	}
	if desc.Name != "Minimum iron" {
		t.Errorf("Button keeps the original name, got %q", desc.Name)
	}
}
