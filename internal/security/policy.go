package security

import (
	"sort"

	"gopkg.in/yaml.v3"

	"deskpilot/internal/domain"
)

// PolicyDocument is the YAML rendering of the risk table, grouped by
// tier with tool names sorted, so diffs between releases are reviewable.
type PolicyDocument struct {
	DefaultRisk string   `yaml:"defaultRisk"`
	Safe        []string `yaml:"safe"`
	Delegated   []string `yaml:"delegated"`
	Approval    []string `yaml:"approval"`
}

// Policy builds the audit view of the current risk table.
func Policy() PolicyDocument {
	doc := PolicyDocument{DefaultRisk: string(domain.RiskSafe)}
	for name, risk := range riskTable {
		switch risk {
		case domain.RiskDelegated:
			doc.Delegated = append(doc.Delegated, name)
		case domain.RiskApproval:
			doc.Approval = append(doc.Approval, name)
		default:
			doc.Safe = append(doc.Safe, name)
		}
	}
	sort.Strings(doc.Safe)
	sort.Strings(doc.Delegated)
	sort.Strings(doc.Approval)
	return doc
}

// RenderPolicyYAML renders the risk table as YAML for the policy command.
func RenderPolicyYAML() ([]byte, error) {
	return yaml.Marshal(Policy())
}
