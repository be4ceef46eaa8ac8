package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeConnectFailed, "websocket dial failed")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}

	if err.Code != ErrCodeConnectFailed {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeConnectFailed)
	}

	if err.Message != "websocket dial failed" {
		t.Errorf("Message = %v, want 'websocket dial failed'", err.Message)
	}

	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}

	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}

	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("connection refused")
	err := Wrap(underlying, ErrCodeHandshakeFailed, "sse handshake failed")

	if err == nil {
		t.Fatal("Wrap should return non-nil error")
	}

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}

	if err.Code != ErrCodeHandshakeFailed {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeHandshakeFailed)
	}

	if !strings.Contains(err.Error(), "connection refused") {
		t.Error("Error string should include underlying error")
	}

	if !errors.Is(err, underlying) {
		t.Error("errors.Is should match the underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	err := Wrap(nil, ErrCodeInternal, "test")

	if err != nil {
		t.Error("Wrap of nil should return nil")
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeHeartbeatTimeout, "no liveness signal")
	err.WithContext("transport", "websocket")
	err.WithContext("interval_ms", 30000)

	if err.Context["transport"] != "websocket" {
		t.Error("Context should contain 'transport' key")
	}

	if err.Context["interval_ms"] != 30000 {
		t.Error("Context should contain 'interval_ms' key")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "transport") {
		t.Error("Error string should include context keys")
	}
}

func TestRetryable(t *testing.T) {
	err := New(ErrCodeConnectFailed, "dial timeout").WithRetryable(true)

	if !err.IsRetryable() {
		t.Error("IsRetryable should be true after WithRetryable(true)")
	}

	if !IsRetryable(err) {
		t.Error("package-level IsRetryable should agree")
	}

	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are never retryable")
	}
}

func TestIsCode(t *testing.T) {
	err := New(ErrCodeRetryExhausted, "gave up after 5 attempts")

	if !IsCode(err, ErrCodeRetryExhausted) {
		t.Error("IsCode should match the error's code")
	}

	if IsCode(err, ErrCodeConnectFailed) {
		t.Error("IsCode should not match a different code")
	}

	if IsCode(nil, ErrCodeInternal) {
		t.Error("IsCode on nil should be false")
	}

	if GetCode(errors.New("plain")) != ErrCodeInternal {
		t.Error("GetCode on a plain error should default to INTERNAL")
	}
}
