package domain

// ToolRisk classifies a tool name into an execution tier.
type ToolRisk string

const (
	// RiskSafe tools run in-process; they need no desktop access.
	RiskSafe ToolRisk = "safe"
	// RiskDelegated tools must run on a remote desktop peer.
	RiskDelegated ToolRisk = "delegated"
	// RiskApproval tools need human sign-off before running.
	RiskApproval ToolRisk = "approval"
)

// ExecutionMode selects where delegable tools run. It is a single
// router-wide setting, not a per-call one.
type ExecutionMode string

const (
	ModeLocal  ExecutionMode = "local"
	ModeRemote ExecutionMode = "remote"
)

// Outcome is the result of routing one tool call. Exactly one variant
// is returned per call.
type Outcome interface {
	outcome()
}

// LocalRoute tells the caller to run the tool on its own local path.
// No network activity happened.
type LocalRoute struct{}

// ApprovalRequired is a terminal outcome: the caller must complete a
// human confirmation step before re-invoking. No peer was contacted.
type ApprovalRequired struct {
	Tool      string
	Arguments map[string]any
	Message   string
}

// RemoteResult carries the outcome of a delegated round trip. Success
// reflects the round trip itself; Payload is the peer's result verbatim.
type RemoteResult struct {
	Success bool
	Error   string
	Payload map[string]any
}

func (LocalRoute) outcome()       {}
func (ApprovalRequired) outcome() {}
func (RemoteResult) outcome()     {}
