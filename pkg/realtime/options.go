package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odvcencio/ripple/pkg/errors"
	"github.com/odvcencio/ripple/pkg/logging"
	"github.com/odvcencio/ripple/pkg/telemetry"
)

// TokenProvider supplies auth headers for a connection attempt. The
// WebSocket transport forwards them in an auth frame right after the
// socket opens (headers cannot ride the browser handshake); the SSE
// transport sets them on the HTTP request.
type TokenProvider func(ctx context.Context) (map[string]string, error)

// BearerToken returns a TokenProvider for a static bearer token.
func BearerToken(token string) TokenProvider {
	return func(context.Context) (map[string]string, error) {
		return map[string]string{"Authorization": "Bearer " + token}, nil
	}
}

// Options configures a Client.
type Options struct {
	// BaseURL is the backend root; /ws and /events are appended per
	// transport. Required.
	BaseURL string

	// Transport selects the physical transport. Default TransportAuto
	// (WebSocket preferred).
	Transport TransportKind

	// FallbackTransport retries the whole connection sequence over SSE
	// when the primary WebSocket attempt fails.
	FallbackTransport bool

	// ReconnectOnError enables automatic reconnection with backoff after
	// an unexpected close. An explicit Disconnect never reconnects.
	ReconnectOnError bool

	// Retry controls the reconnect backoff schedule. Zero value takes
	// DefaultRetryConfig.
	Retry RetryConfig

	// HeartbeatInterval enables liveness detection when > 0: the
	// WebSocket transport sends pings at this cadence, and both
	// transports treat the connection as stale after 2x the interval
	// without a liveness signal.
	HeartbeatInterval time.Duration

	// MaxQueuedEvents bounds the in-memory event queue. Default 100.
	MaxQueuedEvents int

	// TokenProvider supplies auth headers. Optional.
	TokenProvider TokenProvider

	// HTTPClient is used by the SSE transport. Default http.DefaultClient.
	HTTPClient *http.Client

	// Dialer is used by the WebSocket transport. Default
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger receives structured connection logs. Default discards.
	Logger *logging.Logger

	// Telemetry receives best-effort lifecycle events. Optional; nil is
	// safe and disables emission.
	Telemetry *telemetry.Hub
}

const defaultMaxQueuedEvents = 100

func (o *Options) validate() error {
	if o.BaseURL == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "BaseURL is required")
	}
	switch o.Transport {
	case "", TransportAuto, TransportWebSocket, TransportSSE:
	default:
		return errors.New(errors.ErrCodeConfigInvalid, "unknown transport").
			WithContext("transport", string(o.Transport))
	}
	return nil
}

func (o *Options) applyDefaults() {
	if o.Transport == "" {
		o.Transport = TransportAuto
	}
	if o.Retry == (RetryConfig{}) {
		o.Retry = DefaultRetryConfig()
	}
	if o.MaxQueuedEvents <= 0 {
		o.MaxQueuedEvents = defaultMaxQueuedEvents
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}
