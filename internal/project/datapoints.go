// Package project materializes device state and permitted actions as object
// tree entries, and maps user writes back to API action payloads. The
// per-type field sets are static lookup tables so each type's surface is
// auditable and testable on its own.
package project

import (
	"fmt"

	"github.com/dokzlo13/mieled/internal/objtree"
)

// Writer wraps the object tree with idempotent create-or-update helpers.
// Creating a data point that already exists with identical metadata is not a
// structural change: only the value is refreshed. Metadata differences
// trigger exactly one ExtendObject.
type Writer struct {
	tree objtree.Tree
}

// NewWriter creates a Writer over the given tree.
func NewWriter(tree objtree.Tree) *Writer {
	return &Writer{tree: tree}
}

// Tree returns the underlying object tree.
func (w *Writer) Tree() objtree.Tree {
	return w.tree
}

// Ensure creates or structurally updates the object at path without
// touching its value.
func (w *Writer) Ensure(path string, desc objtree.Descriptor) error {
	existing, err := w.tree.GetObject(path)
	if err != nil {
		return fmt.Errorf("get object %s: %w", path, err)
	}
	if existing == nil {
		if _, err := w.tree.SetObjectIfMissing(path, desc); err != nil {
			return fmt.Errorf("create object %s: %w", path, err)
		}
		return nil
	}
	if !existing.Equal(desc) {
		if err := w.tree.ExtendObject(path, desc); err != nil {
			return fmt.Errorf("extend object %s: %w", path, err)
		}
	}
	return nil
}

// Upsert ensures the object and refreshes its value.
func (w *Writer) Upsert(path string, desc objtree.Descriptor, value any) error {
	if err := w.Ensure(path, desc); err != nil {
		return err
	}
	if err := w.tree.SetState(path, value, true); err != nil {
		return fmt.Errorf("set state %s: %w", path, err)
	}
	return nil
}

// Device creates the device-level object.
func (w *Writer) Device(path, name string) error {
	return w.Ensure(path, objtree.Descriptor{
		Kind:     objtree.KindDevice,
		Name:     name,
		Readable: true,
	})
}

// Channel creates a channel-level object.
func (w *Writer) Channel(path, name string) error {
	return w.Ensure(path, objtree.Descriptor{
		Kind:     objtree.KindChannel,
		Name:     name,
		Readable: true,
	})
}

// String creates/updates a read-only text data point.
func (w *Writer) String(path, name, role string, value string) error {
	return w.Upsert(path, objtree.Descriptor{
		Kind:     objtree.KindState,
		Name:     name,
		DataType: objtree.TypeString,
		Role:     role,
		Readable: true,
	}, value)
}

// WritableString creates/updates a read/write text data point.
func (w *Writer) WritableString(path, name, role string, value any) error {
	desc := objtree.Descriptor{
		Kind:     objtree.KindState,
		Name:     name,
		DataType: objtree.TypeString,
		Role:     role,
		Readable: true,
		Writable: true,
	}
	if value == nil {
		return w.Ensure(path, desc)
	}
	return w.Upsert(path, desc, value)
}

// Number creates/updates a read-only numeric data point.
func (w *Writer) Number(path, name, role, unit string, value float64) error {
	return w.Upsert(path, objtree.Descriptor{
		Kind:     objtree.KindState,
		Name:     name,
		DataType: objtree.TypeNumber,
		Role:     role,
		Readable: true,
		Unit:     unit,
	}, value)
}

// WritableNumber creates/updates a read/write numeric data point with range
// metadata. value may be nil to leave the current value untouched.
func (w *Writer) WritableNumber(path, name, role, unit string, min, max float64, value any) error {
	desc := objtree.Descriptor{
		Kind:     objtree.KindState,
		Name:     name,
		DataType: objtree.TypeNumber,
		Role:     role,
		Readable: true,
		Writable: true,
		Unit:     unit,
	}
	if min != 0 || max != 0 {
		desc.Min = &min
		desc.Max = &max
	}
	if value == nil {
		return w.Ensure(path, desc)
	}
	return w.Upsert(path, desc, value)
}

// Bool creates/updates a read-only boolean data point.
func (w *Writer) Bool(path, name, role string, value bool) error {
	return w.Upsert(path, objtree.Descriptor{
		Kind:     objtree.KindState,
		Name:     name,
		DataType: objtree.TypeBoolean,
		Role:     role,
		Readable: true,
	}, value)
}

// Button creates a write-only trigger point.
func (w *Writer) Button(path, name string, enabled bool) error {
	return w.Upsert(path, objtree.Descriptor{
		Kind:     objtree.KindState,
		Name:     name,
		DataType: objtree.TypeBoolean,
		Role:     "button",
		Readable: false,
		Writable: true,
	}, enabled)
}

// Switch creates/updates a tri-state switch. writable=false renders the
// control read-only when neither direction is permitted.
func (w *Writer) Switch(path, name string, states map[string]string, writable bool, value string) error {
	return w.Upsert(path, objtree.Descriptor{
		Kind:     objtree.KindState,
		Name:     name,
		DataType: objtree.TypeString,
		Role:     "switch",
		Readable: true,
		Writable: writable,
		States:   states,
	}, value)
}

// TimePair renders an [hours, minutes] pair as zero-padded "H:MM".
func TimePair(t []int) string {
	if len(t) < 2 {
		return ""
	}
	return fmt.Sprintf("%d:%02d", t[0], t[1])
}

// ParseTimePair parses "H:MM" text back to [hours, minutes].
func ParseTimePair(s string) ([]int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 {
		return nil, fmt.Errorf("invalid time %q", s)
	}
	return []int{h, m}, nil
}

// DisplayUnit maps API unit names to display units.
func DisplayUnit(unit string) string {
	switch unit {
	case "Fahrenheit":
		return "°F"
	case "Celsius", "":
		return "°C"
	default:
		return unit
	}
}
