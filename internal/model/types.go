// Package model defines the ledger record types shared across the
// survivability pipeline: tokens, agents, products, their score history,
// audit trails, and the status ladders derived from scores.
package model

import "time"

// EntityType classifies the identity behind a token.
type EntityType string

const (
	EntityUser           EntityType = "user"
	EntityServiceAccount EntityType = "service_account"
)

// Kind distinguishes the ledger a record lives in.
type Kind string

const (
	KindToken Kind = "token"
	KindAgent Kind = "agent"
)

// State is the lifecycle state of a token or agent.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateRevoked  State = "revoked"
	StatePending  State = "pending"
)

// Status is the health tier derived from a survivability score.
type Status string

const (
	StatusHealthy   Status = "Healthy"
	StatusDegrading Status = "Degrading"
	StatusCritical  Status = "Critical"
)

// StatusRank maps status to a comparable integer, healthiest highest.
var StatusRank = map[Status]int{
	StatusCritical:  0,
	StatusDegrading: 1,
	StatusHealthy:   2,
}

// StatusFor derives the health tier from a score.
// The ladder is monotonic: a higher score never maps to a sicker tier.
func StatusFor(score float64) Status {
	switch {
	case score >= 0.8:
		return StatusHealthy
	case score >= 0.5:
		return StatusDegrading
	default:
		return StatusCritical
	}
}

// HealthStatus is the tri-state (plus unknown) product health tier.
type HealthStatus string

const (
	HealthGreen   HealthStatus = "Green"
	HealthYellow  HealthStatus = "Yellow"
	HealthRed     HealthStatus = "Red"
	HealthUnknown HealthStatus = "Unknown"
)

// HealthFor derives the product tier from an aggregated health score.
// Callers map an empty dependency set to HealthUnknown before calling this.
func HealthFor(score float64) HealthStatus {
	switch {
	case score >= 0.8:
		return HealthGreen
	case score >= 0.2:
		return HealthYellow
	default:
		return HealthRed
	}
}

// ActionType enumerates the remediation actions a manifest may propose.
type ActionType string

const (
	ActionRoleChange     ActionType = "org_role_change"
	ActionRevokeAccess   ActionType = "revoke_org_access"
	ActionScopeReduction ActionType = "scope_reduction"
)

// validActions is the set of recognized remediation action types.
var validActions = map[ActionType]bool{
	ActionRoleChange:     true,
	ActionRevokeAccess:   true,
	ActionScopeReduction: true,
}

// IsValidAction returns true if t is a recognized remediation action.
func IsValidAction(t ActionType) bool {
	return validActions[t]
}

// StateSnapshot is the role/state/scope image captured in audit events
// and remediation manifests.
type StateSnapshot struct {
	Role  string `yaml:"role,omitempty" json:"role,omitempty"`
	State State  `yaml:"state" json:"state"`
	Scope string `yaml:"scope" json:"scope"`
}

// AuditEvent is one append-only entry in an entity's audit trail.
type AuditEvent struct {
	Event      string         `yaml:"event" json:"event"`
	Action     ActionType     `yaml:"action,omitempty" json:"action,omitempty"`
	ManifestID string         `yaml:"manifest_id,omitempty" json:"manifest_id,omitempty"`
	Timestamp  time.Time      `yaml:"timestamp" json:"timestamp"`
	Detail     string         `yaml:"detail,omitempty" json:"detail,omitempty"`
	Before     *StateSnapshot `yaml:"before,omitempty" json:"before,omitempty"`
	After      *StateSnapshot `yaml:"after,omitempty" json:"after,omitempty"`
}

// Audit trail event names.
const (
	EventSeeded         = "seeded"
	EventProposed       = "proposed"
	EventApplied        = "applied"
	EventScoringAnomaly = "scoring_anomaly"
)

// PendingAction marks an entity as flagged by the risk detector.
// A nil pointer means nominal; a non-nil pointer means exactly one
// unconsumed manifest exists for the entity.
type PendingAction struct {
	ManifestID string     `yaml:"manifest_id" json:"manifest_id"`
	Type       ActionType `yaml:"type" json:"type"`
	ProposedAt time.Time  `yaml:"proposed_at" json:"proposed_at"`
}

// Token is an identity-scoped credential record.
type Token struct {
	ID              string         `yaml:"token_id" json:"token_id"`
	Owner           string         `yaml:"owner" json:"owner"`
	EntityType      EntityType     `yaml:"entity_type" json:"entity_type"`
	Role            string         `yaml:"role" json:"role"`
	Scope           string         `yaml:"scope" json:"scope"`
	UsedPermissions int            `yaml:"used_permissions,omitempty" json:"used_permissions,omitempty"`
	Usage           string         `yaml:"usage,omitempty" json:"usage,omitempty"`
	Repos           []string       `yaml:"repos,omitempty" json:"repos,omitempty"`
	IssuedOn        string         `yaml:"issued_on,omitempty" json:"issued_on,omitempty"`
	Expiry          string         `yaml:"expiry,omitempty" json:"expiry,omitempty"`
	LastUsed        time.Time      `yaml:"last_used,omitempty" json:"last_used,omitempty"`
	Score           float64        `yaml:"survivability_score" json:"survivability_score"`
	ScoreHistory    History        `yaml:"score_history" json:"score_history"`
	LastScored      time.Time      `yaml:"last_scored,omitempty" json:"last_scored,omitempty"`
	AuditTrail      []AuditEvent   `yaml:"audit_trail,omitempty" json:"audit_trail,omitempty"`
	State           State          `yaml:"state" json:"state"`
	PendingAction   *PendingAction `yaml:"pending_action,omitempty" json:"pending_action,omitempty"`
}

// Flagged reports whether the token has an outstanding remediation proposal.
func (t *Token) Flagged() bool { return t.PendingAction != nil }

// Snapshot captures the token's current role/state/scope image.
func (t *Token) Snapshot() StateSnapshot {
	return StateSnapshot{Role: t.Role, State: t.State, Scope: t.Scope}
}

// AppendAudit adds an event to the token's append-only audit trail.
func (t *Token) AppendAudit(e AuditEvent) {
	t.AuditTrail = append(t.AuditTrail, e)
}

// Agent is an automated actor linked to exactly one token. The agent
// carries its own interaction scope; its contextual scoring factors come
// from the associated token.
type Agent struct {
	ID                string         `yaml:"agent_id" json:"agent_id"`
	Name              string         `yaml:"agent_name" json:"agent_name"`
	AssociatedTokenID string         `yaml:"associated_token_id" json:"associated_token_id"`
	Purpose           string         `yaml:"purpose,omitempty" json:"purpose,omitempty"`
	InteractionScope  string         `yaml:"interaction_scope" json:"interaction_scope"`
	UsedPermissions   int            `yaml:"used_permissions,omitempty" json:"used_permissions,omitempty"`
	Score             float64        `yaml:"survivability_score" json:"survivability_score"`
	ScoreHistory      History        `yaml:"score_history" json:"score_history"`
	LastScored        time.Time      `yaml:"last_scored,omitempty" json:"last_scored,omitempty"`
	AuditTrail        []AuditEvent   `yaml:"audit_trail,omitempty" json:"audit_trail,omitempty"`
	State             State          `yaml:"state" json:"state"`
	CreatedAt         time.Time      `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	LastActivity      time.Time      `yaml:"last_activity,omitempty" json:"last_activity,omitempty"`
	WorkflowFile      string         `yaml:"workflow_file,omitempty" json:"workflow_file,omitempty"`
	PendingAction     *PendingAction `yaml:"pending_action,omitempty" json:"pending_action,omitempty"`
}

// Flagged reports whether the agent has an outstanding remediation proposal.
func (a *Agent) Flagged() bool { return a.PendingAction != nil }

// Snapshot captures the agent's current state image. Agents carry no role
// of their own; the scope is the agent's interaction scope.
func (a *Agent) Snapshot() StateSnapshot {
	return StateSnapshot{State: a.State, Scope: a.InteractionScope}
}

// AppendAudit adds an event to the agent's append-only audit trail.
func (a *Agent) AppendAudit(e AuditEvent) {
	a.AuditTrail = append(a.AuditTrail, e)
}

// Product aggregates the health of its linked agents and tokens.
// Health is nil (undefined) when no linked dependency resolves.
type Product struct {
	ID             string       `yaml:"product_id" json:"product_id"`
	Name           string       `yaml:"product_name" json:"product_name"`
	Team           string       `yaml:"responsible_team" json:"responsible_team"`
	LinkedAgents   []string     `yaml:"linked_agents" json:"linked_agents"`
	LinkedTokens   []string     `yaml:"linked_tokens" json:"linked_tokens"`
	Health         *float64     `yaml:"survivability_health,omitempty" json:"survivability_health,omitempty"`
	HealthStatus   HealthStatus `yaml:"health_status,omitempty" json:"health_status,omitempty"`
	LastCalculated time.Time    `yaml:"last_calculated,omitempty" json:"last_calculated,omitempty"`
	CreatedAt      time.Time    `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt      time.Time    `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	AutoDetected   bool         `yaml:"auto_detected,omitempty" json:"auto_detected,omitempty"`
}
