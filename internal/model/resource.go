package model

// CapabilityNamedIAM is required because the template creates named IAM roles.
const CapabilityNamedIAM = "CAPABILITY_NAMED_IAM"

// Resource is the stack set definition deployed into member accounts.
type Resource struct {
	Name                  string            `json:"name"`
	TemplateURL           string            `json:"template_url"`
	Description           string            `json:"description,omitempty"`
	Parameters            map[string]string `json:"parameters,omitempty"`
	Capabilities          []string          `json:"capabilities,omitempty"`
	AdministrationRoleARN string            `json:"administration_role_arn,omitempty"`
	ExecutionRoleName     string            `json:"execution_role_name,omitempty"`
	Status                string            `json:"status,omitempty"`
}

// Instance is one per-account, per-region deployment of a stack set.
type Instance struct {
	Account string `json:"account"`
	Region  string `json:"region"`
}

// RegistrationLink ties a member account to a New Relic linked account.
type RegistrationLink struct {
	TargetAccountID     string `json:"target_account_id"`
	MonitoringAccountID int64  `json:"monitoring_account_id"`
	LinkedAccountID     int64  `json:"linked_account_id"`
}

// CapabilityCatalog is the set of integration names that can be enabled
// for a linked account.
type CapabilityCatalog []string

// Dedup returns values with duplicates removed, keeping first-seen order.
func Dedup(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
