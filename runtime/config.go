package runtime

import (
	"log/slog"
	"time"

	"github.com/nostrcore/relaysession/protocol"
	"github.com/nostrcore/relaysession/reconnect"
	"github.com/nostrcore/relaysession/reduce"
	"github.com/nostrcore/relaysession/transport"
)

// Config bundles every tunable the Runtime needs (spec §4.4, §6.5). Use
// DefaultConfig and override individual fields rather than constructing
// one from scratch, matching the teacher's plain-struct-with-defaults
// style (bumi-go-nostr/relay.go's Connect hardcodes most of these as bare
// literals; here they're promoted to fields so callers can override them
// without forking the runtime).
type Config struct {
	Factory transport.Factory

	// ConnectTimeout bounds the handshake race in the connection-attempt
	// task (spec §4.4 step 1). Default 2s.
	ConnectTimeout time.Duration

	// ReadTimeout is the idle timer once connected; 0 disables it (spec
	// §4.4 step 3). Default 15s.
	ReadTimeout time.Duration

	ReconnectPolicy reconnect.Policy
	Interceptor     Interceptor
	Codec           protocol.Codec
	Reducer         reduce.Config
	Logger          *slog.Logger

	// IntentQueueSize bounds the runtime's intent channel.
	IntentQueueSize int
	// InboundBufferSize sizes each connection attempt's adapter inbound
	// buffer (spec §4.3 backpressure).
	InboundBufferSize int
	// StateBuffer/OutputBuffer/TelemetryBuffer size the respective
	// broadcast streams' per-subscriber replay channel.
	StateBuffer     int
	OutputBuffer    int
	TelemetryBuffer int

	// WriteConfirmTimeout bounds how long SendToRelay waits for a write
	// confirmation before reporting WriteTimeout on a publish handle.
	WriteConfirmTimeout time.Duration
}

// DefaultConfig returns the spec §6.5 defaults. Factory must still be
// supplied by the caller — there's no sensible default transport to
// assume on behalf of an application.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      2 * time.Second,
		ReadTimeout:         15 * time.Second,
		ReconnectPolicy:     reconnect.None{},
		Interceptor:         NoopInterceptor{},
		Codec:               protocol.NewJSONCodec(),
		Reducer:             reduce.DefaultConfig(),
		Logger:              slog.Default(),
		IntentQueueSize:     64,
		InboundBufferSize:   64,
		StateBuffer:         4,
		OutputBuffer:        64,
		TelemetryBuffer:     4,
		WriteConfirmTimeout: 10 * time.Second,
	}
}
