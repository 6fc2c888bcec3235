package domain

const (
	// MessageTypeExecuteAction is the outbound command frame type.
	MessageTypeExecuteAction = "execute_action"
	// MessageTypeActionResult is the inbound ack frame type.
	MessageTypeActionResult = "action_result"
)

// CommandEnvelope is the outbound JSON frame for a delegated action.
// Sent verbatim as the message body to the resolved desktop client.
type CommandEnvelope struct {
	Type      string         `json:"type"`
	CommandID string         `json:"commandId"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Timestamp float64        `json:"timestamp"` // unix seconds
}

// ActionAck is the completion report a desktop client sends back.
// Only CommandID is required for correlation; Result is forwarded
// verbatim to the original caller.
type ActionAck struct {
	Type      string         `json:"type"`
	CommandID string         `json:"commandId"`
	Result    map[string]any `json:"result"`
}
