package realtime

import (
	"context"
	"net/url"
	"strings"

	"github.com/odvcencio/ripple/pkg/errors"
)

// ConnectionState is the observable lifecycle state of a connection.
// Exactly one state is active per client instance at any time.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// TransportKind selects the physical transport.
type TransportKind string

const (
	// TransportAuto lets the client pick: WebSocket first, SSE as fallback.
	TransportAuto      TransportKind = "auto"
	TransportWebSocket TransportKind = "websocket"
	TransportSSE       TransportKind = "sse"
)

// transport is the contract both physical transports implement. The
// facade owns at most one live transport at a time.
type transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(ctx context.Context, payload any) error
	State() ConnectionState
	Kind() TransportKind
}

const (
	wsPath  = "/ws"
	ssePath = "/events"
)

// websocketURL derives the WebSocket endpoint from the configured base URL,
// attaching the session identifier as a query parameter.
func websocketURL(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeConfigInvalid, "parse base URL")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New(errors.ErrCodeConfigInvalid, "unsupported URL scheme").
			WithContext("scheme", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + wsPath
	q := u.Query()
	q.Set("sessionId", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sseURL derives the SSE endpoint from the configured base URL.
func sseURL(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeConfigInvalid, "parse base URL")
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", errors.New(errors.ErrCodeConfigInvalid, "unsupported URL scheme").
			WithContext("scheme", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + ssePath
	q := u.Query()
	q.Set("sessionId", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
