package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a test double standing in for a real socket: Open/Send
// are driven directly by the test, and listener callbacks are invoked
// synchronously by whichever test goroutine calls ft.listener's methods.
type fakeTransport struct {
	listener Listener

	openErr    error
	sendResult SendResult

	closed     bool
	closeCode  int
	closeReason string
}

func (f *fakeTransport) SetListener(l Listener) { f.listener = l }
func (f *fakeTransport) Open(ctx context.Context) error { return f.openErr }
func (f *fakeTransport) Send(frame string) SendResult {
	return f.sendResult
}
func (f *fakeTransport) SendWithConfirmation(frame string, cb func(ok bool, cause error)) {
	cb(true, nil)
}
func (f *fakeTransport) Close(code int, reason string) error {
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func TestAdapterOpenDelegatesToTransport(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, 4)

	err := a.Open(context.Background())
	assert.NoError(t, err)
}

func TestAdapterOpenPropagatesError(t *testing.T) {
	wantErr := errors.New("dial failed")
	ft := &fakeTransport{openErr: wantErr}
	a := NewAdapter(ft, 4)

	err := a.Open(context.Background())
	assert.Equal(t, wantErr, err)
}

func TestAdapterInboundBackpressure(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, 2)

	done := make(chan struct{})
	go func() {
		ft.listener.OnMessage("one")
		ft.listener.OnMessage("two")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnMessage blocked unexpectedly with room in the buffer")
	}

	assert.Equal(t, "one", <-a.Inbound())
	assert.Equal(t, "two", <-a.Inbound())
}

func TestAdapterOnClosedResolvesTerminalExactlyOnce(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, 4)

	ft.listener.OnClosed(1000, "bye")
	ft.listener.OnClosed(4000, "ignored") // a second terminal event must be dropped
	ft.listener.OnFailure(errors.New("ignored too"))

	select {
	case term := <-a.TerminalOutcome():
		assert.True(t, term.Closed)
		assert.Equal(t, 1000, term.Code)
		assert.Equal(t, "bye", term.Reason)
	case <-time.After(time.Second):
		t.Fatal("terminal outcome never delivered")
	}

	select {
	case <-a.TerminalOutcome():
		t.Fatal("terminal channel should deliver only once")
	default:
	}
}

func TestAdapterOnFailureResolvesTerminal(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, 4)
	cause := errors.New("connection reset")

	ft.listener.OnFailure(cause)

	term := <-a.TerminalOutcome()
	assert.True(t, term.Failed)
	assert.Equal(t, cause, term.Cause)
}

func TestAdapterSendAfterDisposeReturnsNotConnected(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, 4)

	require.NoError(t, a.Dispose())

	assert.Equal(t, SendNotConnected, a.Send("frame"))
}

func TestAdapterSendWithConfirmationAfterDisposeReturnsErrDisposed(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, 4)
	require.NoError(t, a.Dispose())

	var gotOK bool
	var gotErr error
	a.SendWithConfirmation("frame", func(ok bool, cause error) {
		gotOK = ok
		gotErr = cause
	})

	assert.False(t, gotOK)
	assert.Equal(t, ErrDisposed, gotErr)
}

func TestAdapterCloseAfterDisposeReturnsErrDisposed(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, 4)
	require.NoError(t, a.Dispose())

	err := a.Close(1000, "normal")
	assert.Equal(t, ErrDisposed, err)
}

func TestAdapterDisposeIsIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, 4)

	assert.NoError(t, a.Dispose())
	assert.NoError(t, a.Dispose())
	assert.True(t, ft.closed)
}

func TestAdapterSendDelegatesToTransport(t *testing.T) {
	ft := &fakeTransport{sendResult: SendAccepted}
	a := NewAdapter(ft, 4)

	assert.Equal(t, SendAccepted, a.Send("frame"))
}

func TestAdapterSendWithConfirmationDelegates(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, 4)

	var gotOK bool
	a.SendWithConfirmation("frame", func(ok bool, cause error) { gotOK = ok })
	assert.True(t, gotOK)
}
