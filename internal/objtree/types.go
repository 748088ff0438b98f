// Package objtree defines the hierarchical object-tree interface the adapter
// projects into, together with a persistent SQLite implementation and an
// in-memory one for tests. Paths are dot-separated: <deviceId>.<category>.<field>.
package objtree

import "strings"

// Object kinds.
const (
	KindState   = "state"
	KindChannel = "channel"
	KindDevice  = "device"
)

// Data types for state objects.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Descriptor describes one addressable entry in the tree.
type Descriptor struct {
	Kind     string            `json:"kind"`
	Name     string            `json:"name"`
	DataType string            `json:"dataType,omitempty"`
	Role     string            `json:"role,omitempty"`
	Readable bool              `json:"readable"`
	Writable bool              `json:"writable"`
	Unit     string            `json:"unit,omitempty"`
	Min      *float64          `json:"min,omitempty"`
	Max      *float64          `json:"max,omitempty"`
	States   map[string]string `json:"states,omitempty"`
}

// Equal reports whether two descriptors carry identical metadata.
// Re-creating an object with an equal descriptor is not a structural change.
func (d Descriptor) Equal(other Descriptor) bool {
	if d.Kind != other.Kind || d.Name != other.Name || d.DataType != other.DataType ||
		d.Role != other.Role || d.Readable != other.Readable || d.Writable != other.Writable ||
		d.Unit != other.Unit {
		return false
	}
	if !floatPtrEqual(d.Min, other.Min) || !floatPtrEqual(d.Max, other.Max) {
		return false
	}
	if len(d.States) != len(other.States) {
		return false
	}
	for k, v := range d.States {
		if other.States[k] != v {
			return false
		}
	}
	return true
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// StateChange is delivered to subscribers when a state value is written.
// Ack is false for user-originated writes, true for adapter writes.
type StateChange struct {
	Path  string
	Value any
	Ack   bool
}

// Tree is the host object-tree surface the adapter depends on. All higher
// host behavior (persistence, UI, security) stays behind this interface.
type Tree interface {
	// GetObject returns the descriptor at path, or nil when absent.
	GetObject(path string) (*Descriptor, error)
	// SetObjectIfMissing creates the object when absent. Returns true when
	// the object was created.
	SetObjectIfMissing(path string, desc Descriptor) (bool, error)
	// ExtendObject overwrites the descriptor at path, creating it if needed.
	ExtendObject(path string, desc Descriptor) error
	// GetState returns the current value at path, or nil when unset.
	GetState(path string) (any, error)
	// SetState writes a value. ack=true marks adapter-confirmed state.
	SetState(path string, value any, ack bool) error
	// SubscribeStates delivers changes for paths matching pattern.
	// Pattern supports a trailing '*' wildcard.
	SubscribeStates(pattern string) (<-chan StateChange, error)
	// Close releases resources.
	Close() error
}

// SplitPath splits a path into its device id and the remainder.
func SplitPath(path string) (deviceID, rest string, ok bool) {
	return strings.Cut(path, ".")
}

// MatchPattern reports whether path matches a subscription pattern.
// Patterns are exact strings or prefixes ending in '*'.
func MatchPattern(pattern, path string) bool {
	if pattern == "*" {
		return true
	}
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix := pattern[:n-1]
		return len(path) >= len(prefix) && path[:len(prefix)] == prefix
	}
	return pattern == path
}
