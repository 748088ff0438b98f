// Package mieleapi implements the Miele third-party cloud API client: REST
// calls with bearer auth and typed outcome classification, plus the SSE
// event stream.
package mieleapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/mieled/internal/catalog"
	"github.com/dokzlo13/mieled/internal/metrics"
)

// TokenSource supplies bearer tokens. Implemented by auth.Manager.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// Client talks to the Miele cloud API.
type Client struct {
	baseURL    string
	locale     string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
}

// NewClient creates an API client. rateLimitRPS bounds outgoing request
// rate; timeout bounds each HTTP call so a stalled request cannot block the
// poll loop forever.
func NewClient(baseURL, locale string, tokens TokenSource, timeout time.Duration, rateLimitRPS float64) *Client {
	if baseURL == "" {
		baseURL = catalog.DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout == 0 {
		timeout = catalog.DefaultHTTPTimeout
	}
	if rateLimitRPS <= 0 {
		rateLimitRPS = 2.0
	}

	return &Client{
		baseURL: baseURL,
		locale:  locale,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rateLimitRPS), 1),
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Locale returns the configured language code.
func (c *Client) Locale() string {
	return c.locale
}

// SendRequest issues one authenticated call and classifies the response.
// On a 401 the token is refreshed once and the request retried; a second
// 401 surfaces as ErrUnauthorized.
func (c *Client) SendRequest(ctx context.Context, method, endpoint string, payload any) (Outcome, error) {
	outcome, err := c.send(ctx, method, endpoint, payload)
	if err == ErrUnauthorized {
		log.Warn().Str("endpoint", endpoint).Msg("Got 401, refreshing token and retrying once")
		if refreshErr := c.tokens.Refresh(ctx); refreshErr != nil {
			return Outcome{}, refreshErr
		}
		outcome, err = c.send(ctx, method, endpoint, payload)
	}
	if err == nil {
		metrics.APIRequests.WithLabelValues(method, outcome.Kind.String()).Inc()
	}
	return outcome, err
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any) (Outcome, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Outcome{}, err
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return Outcome{}, err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	deviceID := deviceFromEndpoint(endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failure classifies as transient, same as 500/504.
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("API request failed")
		return Outcome{Kind: OutcomeTransient, DeviceID: deviceID}, nil
	}
	defer resp.Body.Close()

	return c.classify(resp, endpoint, deviceID)
}

func (c *Client) classify(resp *http.Response, endpoint, deviceID string) (Outcome, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Kind: OutcomeTransient, Status: resp.StatusCode, DeviceID: deviceID}, nil
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return Outcome{Kind: OutcomeAccepted, Status: resp.StatusCode, DeviceID: deviceID}, nil

	case resp.StatusCode == http.StatusNoContent:
		return Outcome{Kind: OutcomeNoContent, Status: resp.StatusCode, DeviceID: deviceID}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if msg := extractMessage(raw); msg != "" {
			return Outcome{Kind: OutcomeMessage, Status: resp.StatusCode, Message: msg, DeviceID: deviceID}, nil
		}
		return Outcome{Kind: OutcomeOK, Status: resp.StatusCode, Body: raw, DeviceID: deviceID}, nil

	case resp.StatusCode == http.StatusBadRequest:
		msg := extractMessage(raw)
		if msg == "" {
			msg = "bad request"
		}
		log.Warn().Str("device", deviceID).Str("message", msg).Msg("API rejected request")
		return Outcome{Kind: OutcomeBadRequest, Status: resp.StatusCode, Message: msg, DeviceID: deviceID}, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return Outcome{}, ErrUnauthorized

	case resp.StatusCode == http.StatusNotFound:
		// Device unknown to the API: callers render disabled controls
		// instead of crashing.
		return Outcome{Kind: OutcomeUnknownDevice, Status: resp.StatusCode, DeviceID: deviceID}, nil

	case resp.StatusCode == http.StatusInternalServerError || resp.StatusCode == http.StatusGatewayTimeout:
		log.Info().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("Transient server error")
		return Outcome{Kind: OutcomeTransient, Status: resp.StatusCode, DeviceID: deviceID}, nil

	default:
		return Outcome{Kind: OutcomeTransient, Status: resp.StatusCode, Message: extractMessage(raw), DeviceID: deviceID}, nil
	}
}

// extractMessage pulls the message field from a JSON body, if any.
func extractMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return body.Message
}

// deviceFromEndpoint extracts the device id from a device-scoped endpoint
// path, empty for fleet-wide calls.
func deviceFromEndpoint(endpoint string) string {
	trimmed := strings.TrimPrefix(endpoint, "v1/devices/")
	if trimmed == endpoint {
		return ""
	}
	if i := strings.IndexAny(trimmed, "/?"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "all" || trimmed == "" {
		return ""
	}
	return trimmed
}

// FetchAllDevices returns the full per-device map with localized names.
func (c *Client) FetchAllDevices(ctx context.Context) (DeviceMap, error) {
	endpoint := catalog.EndpointDevices + "?language=" + url.QueryEscape(c.locale)
	outcome, err := c.SendRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if outcome.Kind == OutcomeTransient {
		return nil, &TransientError{Status: outcome.Status}
	}

	var devices DeviceMap
	if err := outcome.Decode(&devices); err != nil {
		return nil, fmt.Errorf("failed to decode devices: %w", err)
	}
	return devices, nil
}

// FetchActions returns the permitted actions for one device. A 404 yields
// the canonical all-disabled payload instead of an error.
func (c *Client) FetchActions(ctx context.Context, deviceID string) (DeviceActions, error) {
	endpoint := fmt.Sprintf(catalog.EndpointActions, url.PathEscape(deviceID))
	outcome, err := c.SendRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return DeviceActions{}, err
	}

	switch outcome.Kind {
	case OutcomeUnknownDevice:
		log.Debug().Str("device", deviceID).Msg("Device unknown to API, all actions disabled")
		return AllDisabledActions(), nil
	case OutcomeTransient:
		return DeviceActions{}, &TransientError{Status: outcome.Status}
	}

	var actions DeviceActions
	if err := outcome.Decode(&actions); err != nil {
		return DeviceActions{}, fmt.Errorf("failed to decode actions: %w", err)
	}
	return actions, nil
}

// FetchPrograms returns the available programs for one device. Devices
// without a program listing yield an empty slice.
func (c *Client) FetchPrograms(ctx context.Context, deviceID string) ([]Program, error) {
	endpoint := fmt.Sprintf(catalog.EndpointPrograms, url.PathEscape(deviceID)) +
		"?language=" + url.QueryEscape(c.locale)
	outcome, err := c.SendRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	switch outcome.Kind {
	case OutcomeNoContent, OutcomeUnknownDevice:
		return nil, nil
	case OutcomeTransient:
		return nil, &TransientError{Status: outcome.Status}
	}

	var programs []Program
	if err := outcome.Decode(&programs); err != nil {
		return nil, fmt.Errorf("failed to decode programs: %w", err)
	}
	return programs, nil
}

// ExecuteAction PUTs an action payload to the device. Actions are
// fire-and-confirm: on success the caller re-polls the device rather than
// assuming the payload was applied verbatim.
func (c *Client) ExecuteAction(ctx context.Context, deviceID string, payload any) (Outcome, error) {
	endpoint := fmt.Sprintf(catalog.EndpointActions, url.PathEscape(deviceID))
	outcome, err := c.SendRequest(ctx, http.MethodPut, endpoint, payload)
	if err != nil {
		return Outcome{}, err
	}

	log.Debug().
		Str("device", deviceID).
		Str("outcome", outcome.Kind.String()).
		Int("status", outcome.Status).
		Msg("Action executed")

	return outcome, nil
}
