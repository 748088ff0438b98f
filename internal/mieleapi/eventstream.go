package mieleapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/mieled/internal/catalog"
	"github.com/dokzlo13/mieled/internal/eventbus"
	"github.com/dokzlo13/mieled/internal/metrics"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect
// attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// StreamConfig contains configuration for event stream reconnection.
type StreamConfig struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
	PingTimeout   time.Duration // Reconnect when no event arrives within this window
}

// EventStream listens to the all-devices SSE stream. The stream is not
// self-healing: a ping watchdog detects silence and forces a reconnect.
type EventStream struct {
	client     *Client
	httpClient *http.Client
	config     StreamConfig
}

// NewEventStream creates an event stream listener.
func NewEventStream(client *Client, config StreamConfig) *EventStream {
	return &EventStream{
		client: client,
		httpClient: &http.Client{
			// No timeout for SSE - it's a long-lived connection
		},
		config: config,
	}
}

// Run starts listening with automatic reconnection. Returns
// ErrMaxReconnectsExceeded when the attempt cap is hit.
func (e *EventStream) Run(ctx context.Context, bus *eventbus.Bus) error {
	retryCount := 0
	currentBackoff := e.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := e.connect(ctx, bus)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			retryCount++

			if e.config.MaxReconnects > 0 && retryCount > e.config.MaxReconnects {
				log.Error().
					Int("max_reconnects", e.config.MaxReconnects).
					Msg("Event stream: max reconnects exceeded, terminating")
				return ErrMaxReconnectsExceeded
			}

			log.Warn().
				Err(err).
				Dur("backoff", currentBackoff).
				Int("retry", retryCount).
				Int("max_reconnects", e.config.MaxReconnects).
				Msg("Event stream disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(currentBackoff):
			}

			nextBackoff := time.Duration(float64(currentBackoff) * e.config.Multiplier)
			if nextBackoff > e.config.MaxBackoff {
				nextBackoff = e.config.MaxBackoff
			}
			currentBackoff = nextBackoff

			continue
		}

		// Reset retry count and backoff on successful connection
		retryCount = 0
		currentBackoff = e.config.MinBackoff
	}
}

func (e *EventStream) connect(ctx context.Context, bus *eventbus.Bus) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	token, err := e.client.tokens.AccessToken(connCtx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, e.client.BaseURL()+catalog.EndpointAllEvents, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Accept-Language", e.client.Locale())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("unexpected status code: " + resp.Status)
	}

	log.Info().Msg("Connected to device event stream")
	metrics.StreamConnected.Set(1)
	defer metrics.StreamConnected.Set(0)

	// Silence watchdog: the server sends pings continuously, so a quiet
	// connection is a dead one. Cancelling the request context unblocks
	// the scanner below.
	var watchdog *time.Timer
	if e.config.PingTimeout > 0 {
		watchdog = time.AfterFunc(e.config.PingTimeout, cancel)
		defer watchdog.Stop()
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var dataBuffer strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if watchdog != nil {
			watchdog.Reset(e.config.PingTimeout)
		}

		// Empty line marks end of event
		if line == "" {
			if eventName != "" || dataBuffer.Len() > 0 {
				e.dispatch(eventName, dataBuffer.String(), bus)
				eventName = ""
				dataBuffer.Reset()
			}
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			eventName = strings.TrimPrefix(line, "event: ")
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			dataBuffer.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	return errors.New("event stream closed by server")
}

func (e *EventStream) dispatch(eventName, data string, bus *eventbus.Bus) {
	metrics.StreamEvents.WithLabelValues(eventName).Inc()
	switch eventName {
	case "devices":
		var devices DeviceMap
		if err := json.Unmarshal([]byte(data), &devices); err != nil {
			log.Warn().Err(err).Msg("Failed to parse devices event")
			return
		}
		bus.Publish(eventbus.Event{Type: eventbus.EventTypeDevices, Payload: devices})

	case "actions":
		var actions ActionsMap
		if err := json.Unmarshal([]byte(data), &actions); err != nil {
			log.Warn().Err(err).Msg("Failed to parse actions event")
			return
		}
		bus.Publish(eventbus.Event{Type: eventbus.EventTypeActions, Payload: actions})

	case "ping":
		log.Trace().Msg("Event stream ping")
		bus.Publish(eventbus.Event{Type: eventbus.EventTypePing})

	case "error":
		log.Warn().Str("data", data).Msg("Event stream error event")

	default:
		log.Trace().Str("event", eventName).Msg("Unhandled event type")
	}
}
