package project

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/mieled/internal/catalog"
	"github.com/dokzlo13/mieled/internal/metrics"
	"github.com/dokzlo13/mieled/internal/mieleapi"
	"github.com/dokzlo13/mieled/internal/objtree"
	"github.com/dokzlo13/mieled/internal/registry"
)

// ActionExecutor is the slice of the API client the mapper needs.
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, deviceID string, payload any) (mieleapi.Outcome, error)
}

// CommandMapper turns unacknowledged tree writes into action payloads.
type CommandMapper struct {
	client ActionExecutor
	reg    *registry.Registry
	w      *Writer
}

// NewCommandMapper wires a mapper over the executor, registry and tree writer.
func NewCommandMapper(client ActionExecutor, reg *registry.Registry, w *Writer) *CommandMapper {
	return &CommandMapper{client: client, reg: reg, w: w}
}

// Handle processes one state write. It reports whether the device should be
// re-polled to confirm the effect. Writes it cannot map are answered through
// the device's lastActionResult point and never reach the API.
func (m *CommandMapper) Handle(ctx context.Context, change objtree.StateChange) (refresh bool, err error) {
	if change.Ack {
		return false, nil
	}
	deviceID, field, ok := splitCommandPath(change.Path)
	if !ok {
		return false, nil
	}

	payload, ok := m.buildPayload(deviceID, field, change.Value)
	if !ok {
		log.Warn().Str("device", deviceID).Str("field", field).Msg("No action defined for write")
		return false, m.reportResult(deviceID, fmt.Sprintf("no action defined for %s", field))
	}

	outcome, err := m.client.ExecuteAction(ctx, deviceID, payload)
	if err != nil {
		metrics.ActionsExecuted.WithLabelValues("error").Inc()
		return false, fmt.Errorf("execute action on %s: %w", deviceID, err)
	}
	metrics.ActionsExecuted.WithLabelValues(outcome.Kind.String()).Inc()

	switch outcome.Kind {
	case mieleapi.OutcomeBadRequest:
		msg := outcome.Message
		if msg == "" {
			msg = "rejected"
		}
		log.Warn().Str("device", deviceID).Str("field", field).Str("message", msg).Msg("Action rejected")
		return false, m.reportResult(deviceID, msg)
	case mieleapi.OutcomeUnknownDevice:
		return false, m.reportResult(deviceID, "device not found")
	case mieleapi.OutcomeTransient:
		return false, m.reportResult(deviceID, "service unavailable, try again later")
	}

	log.Debug().Str("device", deviceID).Str("field", field).Msg("Action accepted")
	if outcome.Message != "" {
		if err := m.reportResult(deviceID, outcome.Message); err != nil {
			return true, err
		}
	} else if err := m.reportResult(deviceID, "ok"); err != nil {
		return true, err
	}
	return true, nil
}

func (m *CommandMapper) reportResult(deviceID, msg string) error {
	return m.w.Tree().SetState(deviceID+".info.lastActionResult", msg, true)
}

// splitCommandPath extracts the device id and the command field from a write
// path. Only the command-bearing subtrees are accepted.
func splitCommandPath(path string) (deviceID, field string, ok bool) {
	deviceID, rest, found := strings.Cut(path, ".")
	if !found || deviceID == "" {
		return "", "", false
	}
	switch {
	case strings.HasPrefix(rest, "actions."):
		return deviceID, rest, true
	case rest == "info.nickname":
		return deviceID, rest, true
	case rest == "state.startTime":
		return deviceID, rest, true
	case strings.HasPrefix(rest, "state.targetTemperatureZone"):
		return deviceID, rest, true
	}
	return "", "", false
}

// buildPayload maps one command field plus its written value to the raw
// action payload. Reports false when the field names no known action.
func (m *CommandMapper) buildPayload(deviceID, field string, value any) (any, bool) {
	switch field {
	case "actions.start":
		return processAction(catalog.ActionStart), true
	case "actions.stop":
		return processAction(catalog.ActionStop), true
	case "actions.pause":
		return processAction(catalog.ActionPause), true
	case "actions.power":
		switch asString(value) {
		case SwitchOn:
			return map[string]any{"powerOn": true}, true
		case SwitchOff:
			return map[string]any{"powerOff": true}, true
		}
		return nil, false
	case "actions.light":
		switch asString(value) {
		case SwitchOn:
			return map[string]any{"light": catalog.LightEnable}, true
		case SwitchOff:
			return map[string]any{"light": catalog.LightDisable}, true
		}
		return nil, false
	case "actions.superCooling":
		switch asString(value) {
		case SwitchOn:
			return processAction(catalog.ActionStartSupercooling), true
		case SwitchOff:
			return processAction(catalog.ActionStopSupercooling), true
		}
		return nil, false
	case "actions.superFreezing":
		switch asString(value) {
		case SwitchOn:
			return processAction(catalog.ActionStartSuperfreezing), true
		case SwitchOff:
			return processAction(catalog.ActionStopSuperfreezing), true
		}
		return nil, false
	case "info.nickname":
		name := asString(value)
		if name == "" {
			return nil, false
		}
		return map[string]any{"deviceName": name}, true
	case "state.startTime":
		pair, err := ParseTimePair(asString(value))
		if err != nil {
			return nil, false
		}
		return map[string]any{"startTime": pair}, true
	}

	if zone, ok := targetZone(field); ok {
		val, ok := asNumber(value)
		if !ok {
			return nil, false
		}
		return map[string]any{
			"targetTemperature": []map[string]any{{"zone": zone, "value": val}},
		}, true
	}

	if name, ok := strings.CutPrefix(field, "actions.programs."); ok {
		if rec, found := m.reg.Get(deviceID); found {
			for id, program := range rec.Programs {
				if program == name || ProgramPathSegment(program) == name {
					return map[string]any{"programId": id}, true
				}
			}
		}
		return nil, false
	}

	return nil, false
}

func processAction(code int) map[string]any {
	return map[string]any{"processAction": code}
}

func targetZone(field string) (int, bool) {
	s, ok := strings.CutPrefix(field, "state.targetTemperatureZone")
	if !ok {
		return 0, false
	}
	zone, err := strconv.Atoi(s)
	if err != nil || zone < 1 {
		return 0, false
	}
	return zone, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
