package event

// PublishResult is the relay's acknowledgement of a published event,
// decoded from an OK frame.
type PublishResult struct {
	EventID  ID
	Accepted bool
	Message  string
	// Code is the machine-readable prefix extracted from Message (e.g.
	// "duplicate", "pow", "blocked"), or "" if the message didn't start
	// with a recognized prefix. See protocol.SplitPrefixCode.
	Code string
}
