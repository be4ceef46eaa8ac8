package realtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/ripple/pkg/errors"
	"github.com/odvcencio/ripple/pkg/logging"
	"github.com/odvcencio/ripple/pkg/telemetry"
)

// sseDialTimeout bounds a single redial attempt; the initial Connect is
// bounded by the caller's context instead.
const sseDialTimeout = 10 * time.Second

// sseTransport is the receive-only Server-Sent Events transport. The
// server pushes heartbeat events (or comment lines) for liveness; there
// is no client-to-server channel.
type sseTransport struct {
	*transportCore

	url string
	log *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newSSETransport(core *transportCore) (*sseTransport, error) {
	u, err := sseURL(core.opts.BaseURL, core.sessionID)
	if err != nil {
		return nil, err
	}
	return &sseTransport{
		transportCore: core,
		url:           u,
		log:           core.log.WithTransport(string(TransportSSE)),
	}, nil
}

func (t *sseTransport) Kind() TransportKind { return TransportSSE }

func (t *sseTransport) State() ConnectionState { return t.currentState() }

func (t *sseTransport) Connect(ctx context.Context) error {
	t.setState(StateConnecting)
	if err := t.open(ctx); err != nil {
		t.setState(StateDisconnected)
		return err
	}
	return nil
}

// open performs one connection attempt. The stream must outlive the
// caller's ctx, so the request runs under its own cancellable context;
// the in-flight attempt is still bounded by ctx and by Disconnect, which
// can find the cancel func because it is installed before the request
// goes out.
func (t *sseTransport) open(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	fail := func(err error) error {
		t.takeCancel()
		cancel()
		return err
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		return fail(errors.Wrap(err, errors.ErrCodeConnectFailed, "build sse request"))
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	if t.opts.TokenProvider != nil {
		headers, err := t.opts.TokenProvider(ctx)
		if err != nil {
			return fail(errors.Wrap(err, errors.ErrCodeAuthFailed, "resolve auth token"))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	type dialResult struct {
		resp *http.Response
		err  error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		resp, err := t.opts.HTTPClient.Do(req)
		dialed <- dialResult{resp, err}
	}()

	var resp *http.Response
	select {
	case <-ctx.Done():
		cancel()
		if res := <-dialed; res.resp != nil {
			res.resp.Body.Close()
		}
		return fail(errors.Wrap(ctx.Err(), errors.ErrCodeHandshakeFailed, "sse connect").
			WithRetryable(true))
	case <-t.done:
		cancel()
		if res := <-dialed; res.resp != nil {
			res.resp.Body.Close()
		}
		return fail(errors.New(errors.ErrCodeNotConnected, "transport closed during connect"))
	case res := <-dialed:
		if res.err != nil {
			return fail(errors.Wrap(res.err, errors.ErrCodeHandshakeFailed, "sse connect").
				WithRetryable(true))
		}
		resp = res.resp
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return fail(errors.New(errors.ErrCodeHandshakeFailed, fmt.Sprintf("sse endpoint returned %d", resp.StatusCode)).
			WithContext("body", strings.TrimSpace(string(body))).
			WithRetryable(resp.StatusCode >= 500))
	}

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return fail(errors.New(errors.ErrCodeHandshakeFailed, "unexpected content type").
			WithContext("content_type", ct))
	}

	t.markLive()
	t.recon.reset()
	t.setState(StateConnected)
	activeConnections.WithLabelValues(string(TransportSSE)).Inc()
	connectsTotal.WithLabelValues(string(TransportSSE)).Inc()
	t.hub.Publish(telemetry.Event{
		Type:      telemetry.EventConnectionEstablished,
		SessionID: t.sessionID,
		Transport: string(TransportSSE),
	})

	connDone := make(chan struct{})
	go t.readLoop(resp.Body, connDone)
	if t.opts.HeartbeatInterval > 0 {
		go t.watchdog(cancel, connDone)
	}
	return nil
}

// takeCancel detaches the stream cancel func so exactly one path runs
// the teardown bookkeeping for it.
func (t *sseTransport) takeCancel() context.CancelFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	cancel := t.cancel
	t.cancel = nil
	return cancel
}

func (t *sseTransport) redial() error {
	t.setState(StateConnecting)
	ctx, cancel := context.WithTimeout(context.Background(), sseDialTimeout)
	defer cancel()
	return t.open(ctx)
}

// readLoop parses the text/event-stream framing: comment lines keep the
// connection alive, data lines accumulate until a blank line terminates
// the frame.
func (t *sseTransport) readLoop(body io.ReadCloser, connDone chan struct{}) {
	defer close(connDone)
	defer body.Close()

	var data []string
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if len(data) > 0 {
				t.receive([]byte(strings.Join(data, "\n")))
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
			// Comment line; servers use these as keep-alives.
			t.markLive()
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// id:/event:/retry: fields are carried inside the JSON
			// envelope instead; ignore the framing-level ones.
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	if cancel := t.takeCancel(); cancel != nil {
		cancel()
	}
	t.handleUnexpectedClose(TransportSSE, err, t.redial)
}

// watchdog cancels the stream when no liveness signal arrives for more
// than twice the heartbeat interval, funnelling into the reconnect path
// through the read loop.
func (t *sseTransport) watchdog(cancel context.CancelFunc, connDone chan struct{}) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-connDone:
			return
		case <-ticker.C:
			if t.stale(t.opts.HeartbeatInterval) {
				err := t.reportStale(TransportSSE)
				t.log.Warn("cancelling stale stream", "error", err.Error())
				cancel()
				return
			}
		}
	}
}

// Send always fails: SSE cannot carry client-to-server messages. Callers
// should check Client.CanSend before attempting.
func (t *sseTransport) Send(ctx context.Context, payload any) error {
	return errors.New(errors.ErrCodeSendUnsupported, "sse transport is receive-only")
}

// Disconnect cancels the stream and all timers; never reconnects. The
// gauge is decremented only from the connected state: after an
// unexpected close the read loop has already decremented and detached
// the cancel func, and an in-flight connect never incremented.
func (t *sseTransport) Disconnect() {
	if !t.shutdown() {
		return
	}

	connected := t.currentState() == StateConnected
	if cancel := t.takeCancel(); cancel != nil {
		cancel()
		if connected {
			activeConnections.WithLabelValues(string(TransportSSE)).Dec()
		}
	}

	t.setState(StateDisconnected)
	t.hub.Publish(telemetry.Event{
		Type:      telemetry.EventConnectionClosed,
		SessionID: t.sessionID,
		Transport: string(TransportSSE),
	})
}
