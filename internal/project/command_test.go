package project

import (
	"context"
	"reflect"
	"testing"

	"github.com/dokzlo13/mieled/internal/catalog"
	"github.com/dokzlo13/mieled/internal/mieleapi"
	"github.com/dokzlo13/mieled/internal/objtree"
	"github.com/dokzlo13/mieled/internal/registry"
)

// fakeExecutor records payloads and returns a canned outcome.
type fakeExecutor struct {
	deviceID string
	payload  any
	calls    int
	outcome  mieleapi.Outcome
}

func (f *fakeExecutor) ExecuteAction(ctx context.Context, deviceID string, payload any) (mieleapi.Outcome, error) {
	f.calls++
	f.deviceID = deviceID
	f.payload = payload
	return f.outcome, nil
}

func newTestMapper(outcome mieleapi.Outcome) (*CommandMapper, *fakeExecutor, *objtree.Memory) {
	m := objtree.NewMemory()
	reg := registry.New()
	rec := reg.Upsert("dev1", mieleapi.Ident{
		Type:       mieleapi.TypedValue{ValueRaw: intPtr(catalog.TypeWashingMachine)},
		DeviceName: "Washer",
	})
	reg.SetPrograms(rec.ID, []mieleapi.Program{
		{ProgramID: 7, Program: "Minimum iron"},
	})
	exec := &fakeExecutor{outcome: outcome}
	return NewCommandMapper(exec, reg, NewWriter(m)), exec, m
}

func change(path string, value any) objtree.StateChange {
	return objtree.StateChange{Path: path, Value: value, Ack: false}
}

func TestCommandPayloads(t *testing.T) {
	cases := []struct {
		name  string
		path  string
		value any
		want  any
	}{
		{"start", "dev1.actions.start", true, map[string]any{"processAction": catalog.ActionStart}},
		{"stop", "dev1.actions.stop", true, map[string]any{"processAction": catalog.ActionStop}},
		{"pause", "dev1.actions.pause", true, map[string]any{"processAction": catalog.ActionPause}},
		{"power on", "dev1.actions.power", "On", map[string]any{"powerOn": true}},
		{"power off", "dev1.actions.power", "Off", map[string]any{"powerOff": true}},
		{"light on", "dev1.actions.light", "On", map[string]any{"light": catalog.LightEnable}},
		{"light off", "dev1.actions.light", "Off", map[string]any{"light": catalog.LightDisable}},
		{"supercooling on", "dev1.actions.superCooling", "On", map[string]any{"processAction": catalog.ActionStartSupercooling}},
		{"supercooling off", "dev1.actions.superCooling", "Off", map[string]any{"processAction": catalog.ActionStopSupercooling}},
		{"superfreezing on", "dev1.actions.superFreezing", "On", map[string]any{"processAction": catalog.ActionStartSuperfreezing}},
		{"superfreezing off", "dev1.actions.superFreezing", "Off", map[string]any{"processAction": catalog.ActionStopSuperfreezing}},
		{"start time", "dev1.state.startTime", "6:30", map[string]any{"startTime": []int{6, 30}}},
		{"nickname", "dev1.info.nickname", "Cellar washer", map[string]any{"deviceName": "Cellar washer"}},
		{"target temperature", "dev1.state.targetTemperatureZone2", float64(-18), map[string]any{
			"targetTemperature": []map[string]any{{"zone": 2, "value": float64(-18)}},
		}},
		{"program by name", "dev1.actions.programs.Minimum_iron", true, map[string]any{"programId": int64(7)}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mapper, exec, _ := newTestMapper(mieleapi.Outcome{Kind: mieleapi.OutcomeNoContent, Status: 204})

			confirm, err := mapper.Handle(context.Background(), change(c.path, c.value))
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if !confirm {
				t.Error("Successful action should request a confirming refresh")
			}
			if exec.deviceID != "dev1" {
				t.Errorf("deviceID = %q", exec.deviceID)
			}
			if !reflect.DeepEqual(exec.payload, c.want) {
				t.Errorf("payload = %#v, want %#v", exec.payload, c.want)
			}
		})
	}
}

func TestUnmappableWriteNeverReachesAPI(t *testing.T) {
	cases := []struct {
		name  string
		path  string
		value any
	}{
		{"unknown control", "dev1.actions.teleport", true},
		{"unknown program", "dev1.actions.programs.Wool", true},
		{"bad switch value", "dev1.actions.power", "Maybe"},
		{"bad time", "dev1.state.startTime", "soon"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mapper, exec, tree := newTestMapper(mieleapi.Outcome{Kind: mieleapi.OutcomeNoContent})

			confirm, err := mapper.Handle(context.Background(), change(c.path, c.value))
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if confirm {
				t.Error("Unmapped write must not trigger a refresh")
			}
			if exec.calls != 0 {
				t.Errorf("API called %d times for an unmapped write", exec.calls)
			}
			got, _ := tree.GetState("dev1.info.lastActionResult")
			if s, _ := got.(string); s == "" {
				t.Error("lastActionResult should explain the failure")
			}
		})
	}
}

func TestAcknowledgedWritesIgnored(t *testing.T) {
	mapper, exec, _ := newTestMapper(mieleapi.Outcome{Kind: mieleapi.OutcomeNoContent})

	ch := objtree.StateChange{Path: "dev1.actions.start", Value: true, Ack: true}
	confirm, err := mapper.Handle(context.Background(), ch)
	if err != nil || confirm {
		t.Errorf("Handle(ack) = %v, %v", confirm, err)
	}
	if exec.calls != 0 {
		t.Error("Acknowledged writes are adapter echoes, not commands")
	}
}

func TestNonCommandPathsIgnored(t *testing.T) {
	mapper, exec, _ := newTestMapper(mieleapi.Outcome{Kind: mieleapi.OutcomeNoContent})

	for _, path := range []string{"dev1.state.status", "dev1.info.connected", "dev1"} {
		confirm, err := mapper.Handle(context.Background(), change(path, "x"))
		if err != nil || confirm {
			t.Errorf("Handle(%s) = %v, %v", path, confirm, err)
		}
	}
	if exec.calls != 0 {
		t.Error("Non-command paths must not reach the API")
	}
}

func TestRejectedActionWritesMessage(t *testing.T) {
	mapper, exec, tree := newTestMapper(mieleapi.Outcome{
		Kind:    mieleapi.OutcomeBadRequest,
		Status:  400,
		Message: "device not remote controllable",
	})

	confirm, err := mapper.Handle(context.Background(), change("dev1.actions.start", true))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if confirm {
		t.Error("Rejected action must not trigger a refresh")
	}
	if exec.calls != 1 {
		t.Errorf("API calls = %d", exec.calls)
	}
	got, _ := tree.GetState("dev1.info.lastActionResult")
	if got != "device not remote controllable" {
		t.Errorf("lastActionResult = %v", got)
	}
}

func TestAcceptedActionReportsOK(t *testing.T) {
	mapper, _, tree := newTestMapper(mieleapi.Outcome{Kind: mieleapi.OutcomeAccepted, Status: 202})

	confirm, err := mapper.Handle(context.Background(), change("dev1.actions.stop", true))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !confirm {
		t.Error("Accepted action should request a confirming refresh")
	}
	got, _ := tree.GetState("dev1.info.lastActionResult")
	if got != "ok" {
		t.Errorf("lastActionResult = %v", got)
	}
}
