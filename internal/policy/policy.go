// Package policy loads and validates the remediation policy document.
// Policy is a fixed set of numeric thresholds and action mappings, read
// fresh at the start of every detector run; the pipeline never writes it.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MYNTIST-IAM/IAM/internal/model"
)

// Risk defines the score boundary for detection. Alert severities carry
// their own fixed cuts in the alerting package.
type Risk struct {
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

// Acceptance defines how persistent a degraded posture must be before
// the detector flags an entity.
type Acceptance struct {
	LastN                   int `yaml:"last_n"`
	MinCriticalCountInLastN int `yaml:"min_critical_count_in_last_n"`
	MinDaysSinceLastUsed    int `yaml:"min_days_since_last_used"`
}

// RoleAction maps a flagged entity to its primary remediation.
type RoleAction struct {
	Primary      model.ActionType `yaml:"primary"`
	TargetRole   string           `yaml:"target_role,omitempty"`
	TargetScopes []string         `yaml:"target_scopes,omitempty"`
}

// Actions is the per-entity-type remediation table. User actions are keyed
// by role; service accounts share one default.
type Actions struct {
	User           map[string]RoleAction `yaml:"user"`
	ServiceAccount RoleAction            `yaml:"service_account"`
}

// Exemptions lists owners and token IDs the detector must never flag.
type Exemptions struct {
	Users  []string `yaml:"users"`
	Tokens []string `yaml:"tokens"`
}

// Policy holds all configurable detection parameters.
type Policy struct {
	Risk       Risk       `yaml:"risk"`
	Acceptance Acceptance `yaml:"acceptance"`
	Actions    Actions    `yaml:"actions"`
	Exemptions Exemptions `yaml:"exemptions"`
}

// Default returns the built-in policy.
func Default() *Policy {
	return &Policy{
		Risk: Risk{
			CriticalThreshold: 0.2,
		},
		Acceptance: Acceptance{
			LastN:                   7,
			MinCriticalCountInLastN: 3,
			MinDaysSinceLastUsed:    14,
		},
		Actions: Actions{
			User: map[string]RoleAction{
				"admin":  {Primary: model.ActionRoleChange, TargetRole: "member"},
				"member": {Primary: model.ActionRevokeAccess},
			},
			ServiceAccount: RoleAction{
				Primary:      model.ActionScopeReduction,
				TargetScopes: []string{"read:org", "repo"},
			},
		},
	}
}

// Load reads policy from a YAML file. A missing file returns defaults;
// invalid YAML or a policy that fails validation returns an error. The
// detector must not guess around a misconfigured policy.
func Load(path string) (*Policy, error) {
	p := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("policy: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("policy: parse %s: %w", path, err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate fails fast on thresholds the detector cannot act on.
func (p *Policy) Validate() error {
	r := p.Risk
	if r.CriticalThreshold <= 0 || r.CriticalThreshold > 2.0 {
		return fmt.Errorf("policy: risk.critical_threshold %v outside (0, 2.0]", r.CriticalThreshold)
	}

	a := p.Acceptance
	if a.LastN <= 0 || a.LastN > model.MaxHistory {
		return fmt.Errorf("policy: acceptance.last_n %d outside [1, %d]", a.LastN, model.MaxHistory)
	}
	if a.MinCriticalCountInLastN <= 0 || a.MinCriticalCountInLastN > a.LastN {
		return fmt.Errorf("policy: acceptance.min_critical_count_in_last_n %d outside [1, last_n=%d]",
			a.MinCriticalCountInLastN, a.LastN)
	}
	if a.MinDaysSinceLastUsed < 0 {
		return fmt.Errorf("policy: acceptance.min_days_since_last_used %d is negative", a.MinDaysSinceLastUsed)
	}

	for role, ra := range p.Actions.User {
		if !model.IsValidAction(ra.Primary) {
			return fmt.Errorf("policy: actions.user.%s.primary %q is not a known action", role, ra.Primary)
		}
	}
	if sa := p.Actions.ServiceAccount; sa.Primary != "" && !model.IsValidAction(sa.Primary) {
		return fmt.Errorf("policy: actions.service_account.primary %q is not a known action", sa.Primary)
	}

	return nil
}

// Exempt reports whether the given owner or entity ID is excluded from
// detection.
func (p *Policy) Exempt(owner, id string) bool {
	for _, u := range p.Exemptions.Users {
		if u == owner {
			return true
		}
	}
	for _, t := range p.Exemptions.Tokens {
		if t == id {
			return true
		}
	}
	return false
}

// UserAction returns the remediation mapped to a user role, defaulting to
// the member mapping when the role is unknown.
func (p *Policy) UserAction(role string) RoleAction {
	if ra, ok := p.Actions.User[role]; ok {
		return ra
	}
	if ra, ok := p.Actions.User["member"]; ok {
		return ra
	}
	return RoleAction{Primary: model.ActionRevokeAccess}
}

// DefaultYAML returns a commented policy file for survctl init.
func DefaultYAML() string {
	return `# Remediation policy for the survivability pipeline.
# Read fresh on every detector run. The pipeline never modifies this file.

# Detection boundary. The detector flags entities whose latest score is at
# or below critical_threshold. Alert severities use fixed cuts and are not
# configured here.
risk:
  critical_threshold: 0.2

# How persistent a degraded posture must be before flagging:
#   - at least min_critical_count_in_last_n of the last_n readings at or
#     below the critical threshold, and
#   - at least min_days_since_last_used days without activity.
acceptance:
  last_n: 7
  min_critical_count_in_last_n: 3
  min_days_since_last_used: 14

# Remediation selection. Privileged users are downgraded rather than
# revoked; service accounts get their scopes reduced.
actions:
  user:
    admin:
      primary: org_role_change
      target_role: member
    member:
      primary: revoke_org_access
  service_account:
    primary: scope_reduction
    target_scopes:
      - read:org
      - repo

# Owners and token IDs the detector must never flag.
exemptions:
  users: []
  tokens: []
`
}
