// Package manifest defines the remediation manifest: an immutable,
// file-backed proposal to change one entity's access. The detector writes
// manifests; the applier consumes them. Nothing ever edits a manifest in
// place, and consumption is a relocation, not a rewrite.
package manifest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MYNTIST-IAM/IAM/internal/model"
)

// ProposedAction is the concrete change a manifest asks for.
type ProposedAction struct {
	Type         model.ActionType `yaml:"type" json:"type"`
	TargetRole   string           `yaml:"target_role,omitempty" json:"target_role,omitempty"`
	TargetScopes []string         `yaml:"target_scopes,omitempty" json:"target_scopes,omitempty"`
}

// Targets narrows an action to specific resources.
type Targets struct {
	Repos []string `yaml:"repos,omitempty" json:"repos,omitempty"`
}

// Manifest is one remediation proposal for one entity.
type Manifest struct {
	ManifestID     string              `yaml:"manifest_id" json:"manifest_id"`
	EntityID       string              `yaml:"entity_id" json:"entity_id"`
	EntityKind     model.Kind          `yaml:"entity_kind" json:"entity_kind"`
	Owner          string              `yaml:"owner" json:"owner"`
	EntityType     model.EntityType    `yaml:"entity_type" json:"entity_type"`
	CurrentState   model.StateSnapshot `yaml:"current_state" json:"current_state"`
	ProposedAction ProposedAction      `yaml:"proposed_action" json:"proposed_action"`
	Targets        Targets             `yaml:"targets,omitempty" json:"targets,omitempty"`
	Reason         string              `yaml:"reason" json:"reason"`
	ProposedAt     time.Time           `yaml:"proposed_at" json:"proposed_at"`
}

// New builds a manifest with a fresh ID and a UTC proposal timestamp.
func New(entityID string, kind model.Kind, owner string, et model.EntityType, cur model.StateSnapshot, action ProposedAction, reason string, now time.Time) *Manifest {
	return &Manifest{
		ManifestID:     uuid.NewString(),
		EntityID:       entityID,
		EntityKind:     kind,
		Owner:          owner,
		EntityType:     et,
		CurrentState:   cur,
		ProposedAction: action,
		Reason:         reason,
		ProposedAt:     now.UTC(),
	}
}

// Validate rejects manifests the applier could not act on.
func (m *Manifest) Validate() error {
	if m.ManifestID == "" {
		return fmt.Errorf("manifest: missing manifest_id")
	}
	if m.EntityID == "" {
		return fmt.Errorf("manifest %s: missing entity_id", m.ManifestID)
	}
	if m.EntityKind != model.KindToken && m.EntityKind != model.KindAgent {
		return fmt.Errorf("manifest %s: unknown entity_kind %q", m.ManifestID, m.EntityKind)
	}
	if !model.IsValidAction(m.ProposedAction.Type) {
		return fmt.Errorf("manifest %s: unknown action %q", m.ManifestID, m.ProposedAction.Type)
	}
	if m.ProposedAction.Type == model.ActionRoleChange && m.ProposedAction.TargetRole == "" {
		return fmt.Errorf("manifest %s: role change without target_role", m.ManifestID)
	}
	if m.ProposedAction.Type == model.ActionScopeReduction && len(m.ProposedAction.TargetScopes) == 0 {
		return fmt.Errorf("manifest %s: scope reduction without target_scopes", m.ManifestID)
	}
	if m.Reason == "" {
		return fmt.Errorf("manifest %s: missing reason", m.ManifestID)
	}
	if m.ProposedAt.IsZero() {
		return fmt.Errorf("manifest %s: missing proposed_at", m.ManifestID)
	}
	return nil
}

// PendingRef is the durable pointer stored on a flagged entity.
func (m *Manifest) PendingRef() *model.PendingAction {
	return &model.PendingAction{
		ManifestID: m.ManifestID,
		Type:       m.ProposedAction.Type,
		ProposedAt: m.ProposedAt,
	}
}
