package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/ripple/pkg/errors"
)

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://api.example.com", "ws://api.example.com/ws?sessionId=s1"},
		{"https://api.example.com", "wss://api.example.com/ws?sessionId=s1"},
		{"https://api.example.com/realtime/", "wss://api.example.com/realtime/ws?sessionId=s1"},
		{"ws://api.example.com", "ws://api.example.com/ws?sessionId=s1"},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.base, "s1")
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}
}

func TestSSEURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://api.example.com", "http://api.example.com/events?sessionId=s1"},
		{"wss://api.example.com", "https://api.example.com/events?sessionId=s1"},
	}
	for _, tt := range tests {
		got, err := sseURL(tt.base, "s1")
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}
}

func TestEndpointURL_RejectsUnknownScheme(t *testing.T) {
	_, err := websocketURL("ftp://api.example.com", "s1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))

	_, err = sseURL("ftp://api.example.com", "s1")
	require.Error(t, err)
}
