// Package detect is the risk detector: it evaluates scored entities
// against the remediation policy and emits a manifest for each one whose
// degraded posture has persisted long enough to act on. Detection reads
// scores and history; it never changes them. The only ledger writes are
// the pending-action marker and the proposed audit event.
package detect

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/manifest"
	"github.com/MYNTIST-IAM/IAM/internal/model"
	"github.com/MYNTIST-IAM/IAM/internal/policy"
)

// Proposal records one manifest the detector emitted.
type Proposal struct {
	EntityID   string           `json:"entity_id"`
	EntityKind model.Kind       `json:"entity_kind"`
	ManifestID string           `json:"manifest_id"`
	Action     model.ActionType `json:"action"`
	Reason     string           `json:"reason"`
	Path       string           `json:"path"`
}

// Detector evaluates entities and writes remediation manifests.
type Detector struct {
	policy    *policy.Policy
	manifests *manifest.Store
	log       *zap.Logger
	Now       func() time.Time
}

// New builds a Detector. The policy must already be validated; New
// revalidates and fails fast so a misconfigured policy can never reach a
// detection run.
func New(pol *policy.Policy, store *manifest.Store, log *zap.Logger) (*Detector, error) {
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{policy: pol, manifests: store, log: log, Now: time.Now}, nil
}

// Run evaluates every token and agent in the snapshot and returns the
// proposals it wrote. Entities that are already flagged, exempt, or not
// persistently degraded are left alone.
func (d *Detector) Run(snap *ledger.Snapshot) ([]Proposal, error) {
	now := d.Now().UTC()
	var proposals []Proposal

	for i := range snap.Tokens.Tokens {
		tok := &snap.Tokens.Tokens[i]
		p, err := d.evaluateToken(tok, now)
		if err != nil {
			return proposals, err
		}
		if p != nil {
			proposals = append(proposals, *p)
		}
	}

	for i := range snap.Agents.Agents {
		ag := &snap.Agents.Agents[i]
		tok := snap.Token(ag.AssociatedTokenID)
		if tok == nil {
			d.log.Warn("skipping orphaned agent",
				zap.String("agent_id", ag.ID),
				zap.String("associated_token_id", ag.AssociatedTokenID))
			continue
		}
		p, err := d.evaluateAgent(ag, tok, now)
		if err != nil {
			return proposals, err
		}
		if p != nil {
			proposals = append(proposals, *p)
		}
	}
	return proposals, nil
}

func (d *Detector) evaluateToken(tok *model.Token, now time.Time) (*Proposal, error) {
	if tok.Flagged() {
		d.log.Debug("entity already flagged", zap.String("token_id", tok.ID))
		return nil, nil
	}
	if d.policy.Exempt(tok.Owner, tok.ID) {
		d.log.Debug("entity exempt", zap.String("token_id", tok.ID))
		return nil, nil
	}
	if tok.State == model.StateRevoked {
		return nil, nil
	}

	reason, ok := d.persistentlyDegraded(tok.ScoreHistory, tok.LastUsed, now)
	if !ok {
		return nil, nil
	}

	action := d.selectAction(tok.EntityType, tok.Role, tok.LastUsed, now)
	m := manifest.New(tok.ID, model.KindToken, tok.Owner, tok.EntityType, tok.Snapshot(), action, reason, now)
	m.Targets.Repos = tok.Repos

	path, err := d.manifests.Write(m)
	if err != nil {
		return nil, fmt.Errorf("detect: token %s: %w", tok.ID, err)
	}

	tok.PendingAction = m.PendingRef()
	tok.AppendAudit(model.AuditEvent{
		Event:      model.EventProposed,
		Action:     action.Type,
		ManifestID: m.ManifestID,
		Timestamp:  now,
		Detail:     reason,
		Before:     snapshotPtr(tok.Snapshot()),
	})

	d.log.Info("remediation proposed",
		zap.String("token_id", tok.ID),
		zap.String("owner", tok.Owner),
		zap.String("action", string(action.Type)),
		zap.String("manifest_id", m.ManifestID))

	return &Proposal{
		EntityID:   tok.ID,
		EntityKind: model.KindToken,
		ManifestID: m.ManifestID,
		Action:     action.Type,
		Reason:     reason,
		Path:       path,
	}, nil
}

func (d *Detector) evaluateAgent(ag *model.Agent, tok *model.Token, now time.Time) (*Proposal, error) {
	if ag.Flagged() {
		return nil, nil
	}
	if d.policy.Exempt(tok.Owner, ag.ID) || d.policy.Exempt(tok.Owner, tok.ID) {
		return nil, nil
	}
	if ag.State == model.StateRevoked {
		return nil, nil
	}

	lastActive := ag.LastActivity
	if lastActive.IsZero() {
		lastActive = tok.LastUsed
	}
	reason, ok := d.persistentlyDegraded(ag.ScoreHistory, lastActive, now)
	if !ok {
		return nil, nil
	}

	action := d.selectAction(tok.EntityType, tok.Role, lastActive, now)
	m := manifest.New(ag.ID, model.KindAgent, tok.Owner, tok.EntityType, ag.Snapshot(), action, reason, now)
	m.Targets.Repos = tok.Repos

	path, err := d.manifests.Write(m)
	if err != nil {
		return nil, fmt.Errorf("detect: agent %s: %w", ag.ID, err)
	}

	ag.PendingAction = m.PendingRef()
	ag.AppendAudit(model.AuditEvent{
		Event:      model.EventProposed,
		Action:     action.Type,
		ManifestID: m.ManifestID,
		Timestamp:  now,
		Detail:     reason,
		Before:     snapshotPtr(ag.Snapshot()),
	})

	d.log.Info("remediation proposed",
		zap.String("agent_id", ag.ID),
		zap.String("owner", tok.Owner),
		zap.String("action", string(action.Type)),
		zap.String("manifest_id", m.ManifestID))

	return &Proposal{
		EntityID:   ag.ID,
		EntityKind: model.KindAgent,
		ManifestID: m.ManifestID,
		Action:     action.Type,
		Reason:     reason,
		Path:       path,
	}, nil
}

// persistentlyDegraded applies the acceptance criteria: the latest score
// at or below the critical threshold, enough critical readings in the
// recent window, and enough days of inactivity. Returns a human-readable
// reason when all three hold.
func (d *Detector) persistentlyDegraded(hist model.History, lastUsed time.Time, now time.Time) (string, bool) {
	latest, ok := hist.Latest()
	if !ok || latest.Score > d.policy.Risk.CriticalThreshold {
		return "", false
	}

	acc := d.policy.Acceptance
	critical := 0
	for _, s := range hist.Last(acc.LastN) {
		if s <= d.policy.Risk.CriticalThreshold {
			critical++
		}
	}
	if critical < acc.MinCriticalCountInLastN {
		return "", false
	}

	days := daysSince(lastUsed, now)
	if days < acc.MinDaysSinceLastUsed {
		return "", false
	}

	return fmt.Sprintf("score %.3f at or below critical threshold %.2f in %d of last %d readings, unused for %d days",
		latest.Score, d.policy.Risk.CriticalThreshold, critical, acc.LastN, days), true
}

// selectAction picks the remediation. Admin users are always downgraded
// before anything harsher; entities idle for twice the acceptance window
// are revoked outright; otherwise the policy action table decides.
func (d *Detector) selectAction(et model.EntityType, role string, lastUsed, now time.Time) manifest.ProposedAction {
	if et == model.EntityUser && role == "admin" {
		target := d.policy.UserAction("admin").TargetRole
		if target == "" {
			target = "member"
		}
		return manifest.ProposedAction{
			Type:       model.ActionRoleChange,
			TargetRole: target,
		}
	}

	if daysSince(lastUsed, now) >= 2*d.policy.Acceptance.MinDaysSinceLastUsed {
		return manifest.ProposedAction{Type: model.ActionRevokeAccess}
	}

	var ra policy.RoleAction
	if et == model.EntityServiceAccount {
		ra = d.policy.Actions.ServiceAccount
	} else {
		ra = d.policy.UserAction(role)
	}
	return manifest.ProposedAction{
		Type:         ra.Primary,
		TargetRole:   ra.TargetRole,
		TargetScopes: ra.TargetScopes,
	}
}

// daysSince treats a zero last-used time as indefinitely idle.
func daysSince(lastUsed, now time.Time) int {
	if lastUsed.IsZero() {
		return int(^uint(0) >> 1)
	}
	d := now.Sub(lastUsed)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

func snapshotPtr(s model.StateSnapshot) *model.StateSnapshot { return &s }
