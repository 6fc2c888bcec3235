package security

import (
	"deskpilot/internal/domain"
)

// riskTable is the static tool-name → risk-tier mapping. It is a security
// boundary, kept as one literal table so it can be audited at a glance:
// approval tools must never silently move to delegated or safe.
//
// Unknown tool names default to safe (see Classifier.Risk).
var riskTable = map[string]domain.ToolRisk{
	// Reasoning and introspection: no desktop interaction.
	"think":           domain.RiskSafe,
	"plan":            domain.RiskSafe,
	"wait":            domain.RiskSafe,
	"remember":        domain.RiskSafe,
	"recall_element":  domain.RiskSafe,
	"describe_screen": domain.RiskSafe,
	"list_clients":    domain.RiskSafe,

	// Desktop interaction: must run on the remote capture client.
	"click":          domain.RiskDelegated,
	"double_click":   domain.RiskDelegated,
	"right_click":    domain.RiskDelegated,
	"move_mouse":     domain.RiskDelegated,
	"drag":           domain.RiskDelegated,
	"scroll":         domain.RiskDelegated,
	"type_text":      domain.RiskDelegated,
	"key_press":      domain.RiskDelegated,
	"screenshot":     domain.RiskDelegated,
	"read_screen":    domain.RiskDelegated,
	"find_element":   domain.RiskDelegated,
	"focus_window":   domain.RiskDelegated,
	"clipboard_read": domain.RiskDelegated,

	// Consequential actions: human sign-off before execution.
	"shell":           domain.RiskApproval,
	"run_command":     domain.RiskApproval,
	"send_message":    domain.RiskApproval,
	"report_finding":  domain.RiskApproval,
	"file_write":      domain.RiskApproval,
	"clipboard_write": domain.RiskApproval,
}

// Classifier maps tool names to risk tiers. Pure lookup, no state.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Risk returns the tier for a tool name. Names absent from the table
// are safe: they carry no desktop or side-effect capability by
// construction, so there is nothing to delegate or approve.
func (c *Classifier) Risk(tool string) domain.ToolRisk {
	if risk, ok := riskTable[tool]; ok {
		return risk
	}
	return domain.RiskSafe
}

// Table returns a copy of the risk table for audit rendering.
func Table() map[string]domain.ToolRisk {
	out := make(map[string]domain.ToolRisk, len(riskTable))
	for name, risk := range riskTable {
		out[name] = risk
	}
	return out
}
