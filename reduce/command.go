package reduce

import "github.com/nostrcore/relaysession/protocol"

// CommandKind tags the variant of a Command.
type CommandKind int

const (
	CmdOpenConnection CommandKind = iota
	CmdCloseConnection
	CmdSendToRelay
	CmdEmitOutput
)

// Command is a side effect the runtime must execute to realize a
// reduction (spec §4.1). The reducer never executes these itself.
type Command struct {
	Kind CommandKind

	// CmdOpenConnection
	URL string

	// CmdCloseConnection
	Code   *int
	Reason *string

	// CmdSendToRelay
	Message protocol.ClientMessage

	// CmdEmitOutput
	Output Output
}
