package smartsession

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nostrcore/relaysession/event"
	"github.com/nostrcore/relaysession/reduce"
	"github.com/nostrcore/relaysession/runtime"
	"github.com/nostrcore/relaysession/transport"
)

// fakeConn is a minimal transport.Transport double: Open succeeds
// immediately, Send/SendWithConfirmation always confirm, and tests push
// simulated relay frames straight through the captured Listener.
type fakeConn struct {
	mu       sync.Mutex
	listener transport.Listener
	closed   bool
}

func (f *fakeConn) SetListener(l transport.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}
func (f *fakeConn) Open(ctx context.Context) error { return nil }
func (f *fakeConn) Send(frame string) transport.SendResult { return transport.SendAccepted }
func (f *fakeConn) SendWithConfirmation(frame string, cb func(ok bool, cause error)) {
	cb(true, nil)
}
func (f *fakeConn) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.listener != nil {
		f.listener.OnClosed(code, reason)
	}
	return nil
}

func (f *fakeConn) deliver(raw string) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	l.OnMessage(raw)
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) New(url string) transport.Transport {
	c := &fakeConn{}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func newConnectedRuntime(t *testing.T, factory transport.Factory, url string) *runtime.Runtime {
	t.Helper()
	cfg := runtime.DefaultConfig()
	cfg.Factory = factory
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.ReadTimeout = 0

	rt := runtime.New(cfg)
	states, unsub := rt.States()
	defer unsub()

	require.NoError(t, rt.Connect(url))
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s.Connection.Kind == reduce.Connected {
				return rt
			}
		case <-deadline:
			t.Fatal("runtime never reached Connected")
		}
	}
}

// feedEvent pushes a raw ["EVENT", subID, ev] frame through conn as if
// the relay had sent it.
func feedEvent(t *testing.T, conn *fakeConn, subID event.SubscriptionID, ev event.Event) {
	t.Helper()
	raw, err := json.Marshal([]interface{}{"EVENT", string(subID), ev})
	require.NoError(t, err)
	conn.deliver(string(raw))
}

func feedEOSE(t *testing.T, conn *fakeConn, subID event.SubscriptionID) {
	t.Helper()
	raw, err := json.Marshal([]interface{}{"EOSE", string(subID)})
	require.NoError(t, err)
	conn.deliver(string(raw))
}

func feedClosed(t *testing.T, conn *fakeConn, subID event.SubscriptionID, reason string) {
	t.Helper()
	raw, err := json.Marshal([]interface{}{"CLOSED", string(subID), reason})
	require.NoError(t, err)
	conn.deliver(string(raw))
}

// waitForSubRegistered drains outputs until it sees a SubscriptionRegistered
// for any subscription id and returns that id.
func waitForSubRegistered(t *testing.T, outputs <-chan reduce.Output) event.SubscriptionID {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case out := <-outputs:
			if out.Kind == reduce.OutSubscriptionRegistered {
				return out.SubID
			}
		case <-deadline:
			t.Fatal("never saw SubscriptionRegistered output")
		}
	}
}

func simpleEvent(id event.ID) event.Event {
	return event.Event{ID: id, Kind: 1, Content: "x"}
}
