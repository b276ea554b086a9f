package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketFactory is the default Factory, grounded on the teacher's own
// Relay.Connect (bumi-go-nostr/relay.go) and on the same websocket-client
// shape seen in modelcontextprotocol-go-sdk/mcp/websocket.go and
// nugget-thane-ai-agent/internal/homeassistant/websocket.go.
type WebSocketFactory struct {
	// Dialer is used to dial. Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Header carries extra HTTP headers for the handshake (e.g. Origin).
	Header http.Header
	// PingInterval controls how often a WebSocket ping is sent to keep
	// intermediaries from closing an idle TCP connection; the teacher
	// pings every 29s (relay.go:105). 0 selects that 29s default; a
	// negative value disables pinging.
	PingInterval time.Duration
}

// New implements Factory.
func (f *WebSocketFactory) New(url string) Transport {
	pingInterval := f.PingInterval
	if pingInterval == 0 {
		pingInterval = 29 * time.Second
	}
	return &WebSocketTransport{
		url:          url,
		header:       f.Header,
		dialer:       f.Dialer,
		pingInterval: pingInterval,
	}
}

// WebSocketTransport is the default Transport implementation.
type WebSocketTransport struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	pingInterval time.Duration

	listener Listener

	conn     *websocket.Conn
	writeMu  sync.Mutex
	closeOnce sync.Once
	stop      chan struct{}
}

// SetListener implements Transport.
func (t *WebSocketTransport) SetListener(l Listener) { t.listener = l }

// Open dials the relay and, on success, starts the background read loop
// and ping ticker. It blocks until the handshake completes or fails
// (spec §4.3 "open() suspends until onOpen fires or the connection
// fails").
func (t *WebSocketTransport) Open(ctx context.Context) error {
	dialer := t.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("transport: dial %s: %w (status %d)", t.url, err, resp.StatusCode)
		}
		return fmt.Errorf("transport: dial %s: %w", t.url, err)
	}

	t.conn = conn
	t.stop = make(chan struct{})

	if t.listener != nil {
		t.listener.OnOpen()
	}

	go t.readLoop()
	if t.pingInterval > 0 {
		go t.pingLoop()
	}
	return nil
}

func (t *WebSocketTransport) readLoop() {
	for {
		typ, msg, err := t.conn.ReadMessage()
		if err != nil {
			t.reportTerminal(err)
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		if t.listener != nil {
			t.listener.OnMessage(string(msg))
		}
	}
}

func (t *WebSocketTransport) reportTerminal(err error) {
	if t.listener == nil {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		t.listener.OnClosed(closeErr.Code, closeErr.Text)
		return
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		t.listener.OnClosed(websocket.CloseNormalClosure, "close sent")
		return
	}
	t.listener.OnFailure(fmt.Errorf("transport: read %s: %w", t.url, err))
}

func (t *WebSocketTransport) pingLoop() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-t.stop:
			return
		}
	}
}

// Send implements Transport.
func (t *WebSocketTransport) Send(frame string) SendResult {
	if t.conn == nil {
		return SendNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return SendFailed
	}
	return SendAccepted
}

// SendWithConfirmation implements Transport. The write itself is
// synchronous in gorilla/websocket, so confirmation is effectively
// immediate; it is dispatched on its own goroutine purely so a slow or
// blocked writer can never stall the caller.
func (t *WebSocketTransport) SendWithConfirmation(frame string, cb func(ok bool, cause error)) {
	go func() {
		if t.conn == nil {
			cb(false, errors.New("transport: not connected"))
			return
		}
		t.writeMu.Lock()
		err := t.conn.WriteMessage(websocket.TextMessage, []byte(frame))
		t.writeMu.Unlock()
		cb(err == nil, err)
	}()
}

// Close implements Transport. Idempotent.
func (t *WebSocketTransport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		if t.stop != nil {
			close(t.stop)
		}
		if t.conn == nil {
			return
		}
		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
