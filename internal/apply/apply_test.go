package apply

import (
	"testing"
	"time"

	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/manifest"
	"github.com/MYNTIST-IAM/IAM/internal/model"
)

var applyNow = time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC)

func testApplier(t *testing.T) (*Applier, *manifest.Store) {
	t.Helper()
	store := manifest.NewStore(t.TempDir())
	a := New(store, nil)
	a.Now = func() time.Time { return applyNow }
	return a, store
}

func writeManifest(t *testing.T, store *manifest.Store, m *manifest.Manifest) {
	t.Helper()
	if _, err := store.Write(m); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func flaggedToken(m *manifest.Manifest) model.Token {
	return model.Token{
		ID:            m.EntityID,
		Owner:         m.Owner,
		EntityType:    m.EntityType,
		Role:          m.CurrentState.Role,
		Scope:         m.CurrentState.Scope,
		State:         m.CurrentState.State,
		PendingAction: m.PendingRef(),
	}
}

func TestRunAppliesRoleChange(t *testing.T) {
	a, store := testApplier(t)
	m := manifest.New("1001", model.KindToken, "alice", model.EntityUser,
		model.StateSnapshot{Role: "admin", State: model.StateActive, Scope: "admin:org, repo"},
		manifest.ProposedAction{Type: model.ActionRoleChange, TargetRole: "member"},
		"sustained critical survivability", applyNow)
	writeManifest(t, store, m)

	snap := &ledger.Snapshot{Tokens: ledger.TokenLedger{Tokens: []model.Token{flaggedToken(m)}}}
	results, err := a.Run(snap)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != OutcomeApplied {
		t.Fatalf("results = %+v", results)
	}

	tok := snap.Token("1001")
	if tok.Role != "member" {
		t.Errorf("role = %q, want member", tok.Role)
	}
	if tok.Flagged() {
		t.Error("pending action not cleared")
	}

	last := tok.AuditTrail[len(tok.AuditTrail)-1]
	if last.Event != model.EventApplied || last.ManifestID != m.ManifestID {
		t.Fatalf("applied audit event missing: %+v", last)
	}
	if last.Before == nil || last.Before.Role != "admin" {
		t.Errorf("before snapshot = %+v", last.Before)
	}
	if last.After == nil || last.After.Role != "member" {
		t.Errorf("after snapshot = %+v", last.After)
	}

	if err := a.Consume(); err != nil {
		t.Fatalf("consume: %v", err)
	}
	pending, _ := store.Pending()
	if len(pending) != 0 {
		t.Error("consumed manifest still pending")
	}
}

func TestRunLeavesManifestPendingUntilConsume(t *testing.T) {
	a, store := testApplier(t)
	m := manifest.New("1001", model.KindToken, "alice", model.EntityUser,
		model.StateSnapshot{Role: "member", State: model.StateActive, Scope: "repo"},
		manifest.ProposedAction{Type: model.ActionRevokeAccess},
		"sustained critical survivability", applyNow)
	writeManifest(t, store, m)

	snap := &ledger.Snapshot{Tokens: ledger.TokenLedger{Tokens: []model.Token{flaggedToken(m)}}}
	if _, err := a.Run(snap); err != nil {
		t.Fatal(err)
	}

	// Until the mutated ledger is committed the manifest must stay
	// pending; a commit failure here leaves it available for a retry.
	pending, _ := store.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending after run = %d, want 1", len(pending))
	}

	if err := a.Consume(); err != nil {
		t.Fatalf("consume: %v", err)
	}
	pending, _ = store.Pending()
	if len(pending) != 0 {
		t.Error("consumed manifest still pending")
	}
	if err := a.Consume(); err != nil {
		t.Errorf("repeat consume: %v", err)
	}
}

func TestRunAppliesRevocationAndScopeReduction(t *testing.T) {
	a, store := testApplier(t)

	revoke := manifest.New("1001", model.KindToken, "bob", model.EntityUser,
		model.StateSnapshot{Role: "member", State: model.StateActive, Scope: "repo"},
		manifest.ProposedAction{Type: model.ActionRevokeAccess},
		"sustained critical survivability", applyNow)
	reduce := manifest.New("2001", model.KindToken, "svc-ci", model.EntityServiceAccount,
		model.StateSnapshot{State: model.StateActive, Scope: "admin:org, repo, workflow"},
		manifest.ProposedAction{Type: model.ActionScopeReduction, TargetScopes: []string{"read:org", "repo"}},
		"sustained critical survivability", applyNow)
	writeManifest(t, store, revoke)
	writeManifest(t, store, reduce)

	snap := &ledger.Snapshot{Tokens: ledger.TokenLedger{Tokens: []model.Token{
		flaggedToken(revoke), flaggedToken(reduce),
	}}}
	results, err := a.Run(snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	if got := snap.Token("1001").State; got != model.StateRevoked {
		t.Errorf("state = %v, want revoked", got)
	}
	if got := snap.Token("2001").Scope; got != "read:org, repo" {
		t.Errorf("scope = %q, want read:org, repo", got)
	}
}

func TestRunMissingEntityRelocatedToFailed(t *testing.T) {
	a, store := testApplier(t)
	m := manifest.New("ghost", model.KindToken, "alice", model.EntityUser,
		model.StateSnapshot{State: model.StateActive, Scope: "repo"},
		manifest.ProposedAction{Type: model.ActionRevokeAccess},
		"sustained critical survivability", applyNow)
	writeManifest(t, store, m)

	good := manifest.New("1001", model.KindToken, "bob", model.EntityUser,
		model.StateSnapshot{Role: "member", State: model.StateActive, Scope: "repo"},
		manifest.ProposedAction{Type: model.ActionRevokeAccess},
		"sustained critical survivability", applyNow.Add(time.Minute))
	writeManifest(t, store, good)

	snap := &ledger.Snapshot{Tokens: ledger.TokenLedger{Tokens: []model.Token{flaggedToken(good)}}}
	results, err := a.Run(snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Outcome != OutcomeFailed {
		t.Errorf("ghost outcome = %v, want failed", results[0].Outcome)
	}
	if results[1].Outcome != OutcomeApplied {
		t.Errorf("good outcome = %v, one failure blocked the queue", results[1].Outcome)
	}

	// The failed manifest is relocated right away; it carries no ledger
	// mutation to wait for.
	pending, _ := store.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending after run = %d, want just the applied one", len(pending))
	}
	if err := a.Consume(); err != nil {
		t.Fatal(err)
	}
	pending, _ = store.Pending()
	if len(pending) != 0 {
		t.Error("manifest still pending after consume")
	}
}

func TestRunAlreadyAppliedConsumedWithoutReapplying(t *testing.T) {
	a, store := testApplier(t)
	m := manifest.New("1001", model.KindToken, "alice", model.EntityUser,
		model.StateSnapshot{Role: "admin", State: model.StateActive, Scope: "repo"},
		manifest.ProposedAction{Type: model.ActionRoleChange, TargetRole: "member"},
		"sustained critical survivability", applyNow)
	writeManifest(t, store, m)

	// Ledger already shows the change committed by a prior run that
	// crashed before relocating the manifest.
	tok := flaggedToken(m)
	tok.Role = "member"
	tok.AppendAudit(model.AuditEvent{
		Event:      model.EventApplied,
		Action:     model.ActionRoleChange,
		ManifestID: m.ManifestID,
		Timestamp:  applyNow.Add(-time.Hour),
	})

	snap := &ledger.Snapshot{Tokens: ledger.TokenLedger{Tokens: []model.Token{tok}}}
	results, err := a.Run(snap)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Outcome != OutcomeAlreadyApplied {
		t.Fatalf("outcome = %v, want already_applied", results[0].Outcome)
	}

	got := snap.Token("1001")
	auditCount := 0
	for _, e := range got.AuditTrail {
		if e.Event == model.EventApplied && e.ManifestID == m.ManifestID {
			auditCount++
		}
	}
	if auditCount != 1 {
		t.Errorf("applied event duplicated: %d", auditCount)
	}
	if got.Flagged() {
		t.Error("pending action not cleared")
	}
	if err := a.Consume(); err != nil {
		t.Fatal(err)
	}
	pending, _ := store.Pending()
	if len(pending) != 0 {
		t.Error("manifest still pending")
	}
}

func TestRunAgentManifests(t *testing.T) {
	a, store := testApplier(t)
	m := manifest.New("agent-ci", model.KindAgent, "svc-ci", model.EntityServiceAccount,
		model.StateSnapshot{State: model.StateActive, Scope: "repo, workflow"},
		manifest.ProposedAction{Type: model.ActionScopeReduction, TargetScopes: []string{"repo"}},
		"sustained critical survivability", applyNow)
	writeManifest(t, store, m)

	snap := &ledger.Snapshot{Agents: ledger.AgentLedger{Agents: []model.Agent{{
		ID:               "agent-ci",
		InteractionScope: "repo, workflow",
		State:            model.StateActive,
		PendingAction:    m.PendingRef(),
	}}}}

	results, err := a.Run(snap)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Outcome != OutcomeApplied {
		t.Fatalf("outcome = %v", results[0].Outcome)
	}
	ag := snap.Agent("agent-ci")
	if ag.InteractionScope != "repo" {
		t.Errorf("interaction scope = %q, want repo", ag.InteractionScope)
	}
	if ag.Flagged() {
		t.Error("pending action not cleared")
	}
}

func TestRunOldestFirst(t *testing.T) {
	a, store := testApplier(t)

	newer := manifest.New("1002", model.KindToken, "bob", model.EntityUser,
		model.StateSnapshot{Role: "member", State: model.StateActive, Scope: "repo"},
		manifest.ProposedAction{Type: model.ActionRevokeAccess},
		"sustained critical survivability", applyNow.Add(time.Hour))
	older := manifest.New("1001", model.KindToken, "alice", model.EntityUser,
		model.StateSnapshot{Role: "member", State: model.StateActive, Scope: "repo"},
		manifest.ProposedAction{Type: model.ActionRevokeAccess},
		"sustained critical survivability", applyNow)
	writeManifest(t, store, newer)
	writeManifest(t, store, older)

	snap := &ledger.Snapshot{Tokens: ledger.TokenLedger{Tokens: []model.Token{
		flaggedToken(older), flaggedToken(newer),
	}}}
	results, err := a.Run(snap)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].EntityID != "1001" || results[1].EntityID != "1002" {
		t.Errorf("order = [%s %s], want oldest first", results[0].EntityID, results[1].EntityID)
	}
}
