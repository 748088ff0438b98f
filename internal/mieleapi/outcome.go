package mieleapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when a request still gets 401 after one
// forced token refresh.
var ErrUnauthorized = errors.New("unauthorized")

// OutcomeKind classifies an API response.
type OutcomeKind int

const (
	// OutcomeOK is a 2xx with a JSON body.
	OutcomeOK OutcomeKind = iota
	// OutcomeMessage is a 2xx whose body carried a message field.
	OutcomeMessage
	// OutcomeAccepted is a 202: accepted, processing incomplete.
	OutcomeAccepted
	// OutcomeNoContent is a 204.
	OutcomeNoContent
	// OutcomeBadRequest is a 400, attributed to the device in the endpoint.
	OutcomeBadRequest
	// OutcomeUnknownDevice is a 404 on a device-scoped call. Soft fail.
	OutcomeUnknownDevice
	// OutcomeTransient is a 500/504 or a network-level failure. The next
	// poll cycle is the implicit retry.
	OutcomeTransient
)

// String returns the kind name for logs.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeMessage:
		return "message"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeNoContent:
		return "no_content"
	case OutcomeBadRequest:
		return "bad_request"
	case OutcomeUnknownDevice:
		return "unknown_device"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one API request.
type Outcome struct {
	Kind     OutcomeKind
	Status   int             // HTTP status, 0 on network failure
	Message  string          // server message, when present
	Body     json.RawMessage // raw JSON body for OutcomeOK
	DeviceID string          // device the request was scoped to, when any
}

// Decode unmarshals the body into out for OutcomeOK results.
func (o Outcome) Decode(out any) error {
	if o.Kind != OutcomeOK {
		return fmt.Errorf("no decodable body for %s outcome (status %d)", o.Kind, o.Status)
	}
	return json.Unmarshal(o.Body, out)
}

// TransientError signals a transient server or network failure; callers
// retry on the next poll cycle rather than immediately.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient api failure: %v", e.Err)
	}
	return fmt.Sprintf("transient api failure: status %d", e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }
