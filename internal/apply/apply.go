// Package apply consumes pending remediation manifests and enacts each
// proposed change on the ledger. Application is idempotent: a manifest
// whose change is already in effect is consumed without re-applying, and
// one that cannot be acted on is relocated to failed/ rather than left to
// block the queue.
package apply

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/manifest"
	"github.com/MYNTIST-IAM/IAM/internal/model"
)

// Outcome classifies what happened to one manifest.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeFailed         Outcome = "failed"
)

// Result records the disposition of one manifest.
type Result struct {
	ManifestID string  `json:"manifest_id"`
	EntityID   string  `json:"entity_id"`
	Outcome    Outcome `json:"outcome"`
	Detail     string  `json:"detail,omitempty"`
}

// Applier enacts pending manifests against a ledger snapshot.
type Applier struct {
	manifests *manifest.Store
	log       *zap.Logger
	Now       func() time.Time

	consumed []*manifest.Manifest
}

// New builds an Applier over the given manifest store.
func New(store *manifest.Store, log *zap.Logger) *Applier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Applier{manifests: store, log: log, Now: time.Now}
}

// Run enacts every pending manifest, oldest first, mutating the snapshot
// in place. A manifest that fails is relocated and reported; it never
// aborts the rest of the queue. Applied manifests stay in the pending
// directory until Consume; the caller commits the snapshot between the
// two calls.
func (a *Applier) Run(snap *ledger.Snapshot) ([]Result, error) {
	pending, errs := a.manifests.Pending()
	for _, err := range errs {
		a.log.Warn("unreadable manifest skipped", zap.Error(err))
	}

	results := make([]Result, 0, len(pending))
	for _, m := range pending {
		res := a.applyOne(snap, m)
		results = append(results, res)
	}
	return results, nil
}

// Consume relocates every applied manifest into applied/. Call it only
// after the mutated snapshot has been committed; until the commit lands,
// the pending manifest is the sole durable record of the change.
func (a *Applier) Consume() error {
	for _, m := range a.consumed {
		if err := a.manifests.MarkApplied(m); err != nil {
			return fmt.Errorf("apply: consume manifest %s: %w", m.ManifestID, err)
		}
	}
	a.consumed = nil
	return nil
}

func (a *Applier) applyOne(snap *ledger.Snapshot, m *manifest.Manifest) Result {
	now := a.Now().UTC()
	res := Result{ManifestID: m.ManifestID, EntityID: m.EntityID}

	fail := func(detail string) Result {
		res.Outcome = OutcomeFailed
		res.Detail = detail
		if err := a.manifests.MarkFailed(m); err != nil {
			a.log.Error("failed manifest not relocated", zap.String("manifest_id", m.ManifestID), zap.Error(err))
		}
		a.log.Warn("manifest failed",
			zap.String("manifest_id", m.ManifestID),
			zap.String("entity_id", m.EntityID),
			zap.String("detail", detail))
		return res
	}

	switch m.EntityKind {
	case model.KindToken:
		tok := snap.Token(m.EntityID)
		if tok == nil {
			return fail("token no longer exists")
		}
		return a.applyToken(tok, m, now, res, fail)
	case model.KindAgent:
		ag := snap.Agent(m.EntityID)
		if ag == nil {
			return fail("agent no longer exists")
		}
		return a.applyAgent(ag, m, now, res, fail)
	default:
		return fail(fmt.Sprintf("unknown entity kind %q", m.EntityKind))
	}
}

func (a *Applier) applyToken(tok *model.Token, m *manifest.Manifest, now time.Time, res Result, fail func(string) Result) Result {
	if tokenAlreadyApplied(tok, m) {
		a.consumed = append(a.consumed, m)
		clearPending(&tok.PendingAction, m.ManifestID)
		res.Outcome = OutcomeAlreadyApplied
		return res
	}

	before := tok.Snapshot()
	switch m.ProposedAction.Type {
	case model.ActionRoleChange:
		tok.Role = m.ProposedAction.TargetRole
	case model.ActionRevokeAccess:
		tok.State = model.StateRevoked
	case model.ActionScopeReduction:
		tok.Scope = strings.Join(m.ProposedAction.TargetScopes, ", ")
	default:
		return fail(fmt.Sprintf("unknown action %q", m.ProposedAction.Type))
	}
	after := tok.Snapshot()

	clearPending(&tok.PendingAction, m.ManifestID)
	tok.AppendAudit(model.AuditEvent{
		Event:      model.EventApplied,
		Action:     m.ProposedAction.Type,
		ManifestID: m.ManifestID,
		Timestamp:  now,
		Before:     &before,
		After:      &after,
	})

	a.consumed = append(a.consumed, m)
	a.log.Info("manifest applied",
		zap.String("manifest_id", m.ManifestID),
		zap.String("token_id", tok.ID),
		zap.String("action", string(m.ProposedAction.Type)))

	res.Outcome = OutcomeApplied
	return res
}

func (a *Applier) applyAgent(ag *model.Agent, m *manifest.Manifest, now time.Time, res Result, fail func(string) Result) Result {
	if agentAlreadyApplied(ag, m) {
		a.consumed = append(a.consumed, m)
		clearPending(&ag.PendingAction, m.ManifestID)
		res.Outcome = OutcomeAlreadyApplied
		return res
	}

	before := ag.Snapshot()
	switch m.ProposedAction.Type {
	case model.ActionRevokeAccess, model.ActionRoleChange:
		// Agents carry no role of their own; a role change on the backing
		// identity suspends the agent until its token is re-evaluated.
		ag.State = model.StateRevoked
	case model.ActionScopeReduction:
		ag.InteractionScope = strings.Join(m.ProposedAction.TargetScopes, ", ")
	default:
		return fail(fmt.Sprintf("unknown action %q", m.ProposedAction.Type))
	}
	after := ag.Snapshot()

	clearPending(&ag.PendingAction, m.ManifestID)
	ag.AppendAudit(model.AuditEvent{
		Event:      model.EventApplied,
		Action:     m.ProposedAction.Type,
		ManifestID: m.ManifestID,
		Timestamp:  now,
		Before:     &before,
		After:      &after,
	})

	a.consumed = append(a.consumed, m)
	a.log.Info("manifest applied",
		zap.String("manifest_id", m.ManifestID),
		zap.String("agent_id", ag.ID),
		zap.String("action", string(m.ProposedAction.Type)))

	res.Outcome = OutcomeApplied
	return res
}

// tokenAlreadyApplied detects a manifest whose change is already in
// effect, which happens when a prior run crashed between the ledger
// commit and the manifest relocation.
func tokenAlreadyApplied(tok *model.Token, m *manifest.Manifest) bool {
	for _, e := range tok.AuditTrail {
		if e.Event == model.EventApplied && e.ManifestID == m.ManifestID {
			return true
		}
	}
	return false
}

func agentAlreadyApplied(ag *model.Agent, m *manifest.Manifest) bool {
	for _, e := range ag.AuditTrail {
		if e.Event == model.EventApplied && e.ManifestID == m.ManifestID {
			return true
		}
	}
	return false
}

// clearPending drops the pending marker only if it references the
// manifest being consumed.
func clearPending(pa **model.PendingAction, manifestID string) {
	if *pa != nil && (*pa).ManifestID == manifestID {
		*pa = nil
	}
}
