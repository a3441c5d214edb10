package detect

import (
	"testing"
	"time"

	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/manifest"
	"github.com/MYNTIST-IAM/IAM/internal/model"
	"github.com/MYNTIST-IAM/IAM/internal/policy"
)

var detectNow = time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC)

func testDetector(t *testing.T, pol *policy.Policy) *Detector {
	t.Helper()
	d, err := New(pol, manifest.NewStore(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	d.Now = func() time.Time { return detectNow }
	return d
}

func historyOf(scores ...float64) model.History {
	var entries []model.ScoreEntry
	base := detectNow.AddDate(0, 0, -len(scores))
	for i, s := range scores {
		entries = append(entries, model.ScoreEntry{
			Timestamp: base.AddDate(0, 0, i),
			Score:     s,
		})
	}
	return model.NewHistory(entries)
}

func degradedToken() model.Token {
	return model.Token{
		ID:           "1001",
		Owner:        "alice",
		EntityType:   model.EntityUser,
		Role:         "member",
		Scope:        "read:org, repo",
		State:        model.StateActive,
		LastUsed:     detectNow.AddDate(0, 0, -20),
		Score:        0.15,
		ScoreHistory: historyOf(0.9, 0.85, 0.2, 0.18, 0.15),
	}
}

func snapOf(toks ...model.Token) *ledger.Snapshot {
	return &ledger.Snapshot{Tokens: ledger.TokenLedger{Tokens: toks}}
}

func TestRunFlagsPersistentlyDegradedToken(t *testing.T) {
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 0.3
	d := testDetector(t, pol)
	snap := snapOf(degradedToken())

	proposals, err := d.Run(snap)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("got %d proposals, want 1", len(proposals))
	}
	p := proposals[0]
	if p.Action != model.ActionRevokeAccess {
		t.Errorf("action = %v, want revoke_org_access for a member", p.Action)
	}

	tok := snap.Token("1001")
	if !tok.Flagged() {
		t.Fatal("pending action not set")
	}
	if tok.PendingAction.ManifestID != p.ManifestID {
		t.Error("pending action does not reference the manifest")
	}
	last := tok.AuditTrail[len(tok.AuditTrail)-1]
	if last.Event != model.EventProposed || last.ManifestID != p.ManifestID {
		t.Errorf("proposed audit event missing: %+v", last)
	}

	pending, errs := d.manifests.Pending()
	if len(errs) != 0 || len(pending) != 1 {
		t.Fatalf("manifest not on disk: %v %v", pending, errs)
	}
	if pending[0].EntityID != "1001" {
		t.Errorf("manifest entity = %s", pending[0].EntityID)
	}
}

func TestRunAcceptanceScenario(t *testing.T) {
	// Five readings ending at 0.2 against a 0.3 threshold: three of the
	// last five are at or below critical, which meets the minimum count.
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 0.3
	pol.Acceptance.LastN = 5
	pol.Acceptance.MinCriticalCountInLastN = 3
	d := testDetector(t, pol)

	tok := degradedToken()
	tok.ScoreHistory = historyOf(0.9, 0.85, 0.3, 0.25, 0.2)
	proposals, err := d.Run(snapOf(tok))
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 1 {
		t.Fatalf("got %d proposals, want 1", len(proposals))
	}
}

func TestRunRequiresAllThreeConditions(t *testing.T) {
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 0.3

	cases := []struct {
		name   string
		mutate func(*model.Token)
	}{
		{"latest score recovered", func(tok *model.Token) {
			tok.ScoreHistory = historyOf(0.2, 0.18, 0.15, 0.9)
		}},
		{"not enough critical readings", func(tok *model.Token) {
			tok.ScoreHistory = historyOf(0.9, 0.85, 0.8, 0.75, 0.15)
		}},
		{"recently used", func(tok *model.Token) {
			tok.LastUsed = detectNow.AddDate(0, 0, -3)
		}},
		{"empty history", func(tok *model.Token) {
			tok.ScoreHistory = model.History{}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := testDetector(t, pol)
			tok := degradedToken()
			tc.mutate(&tok)
			proposals, err := d.Run(snapOf(tok))
			if err != nil {
				t.Fatal(err)
			}
			if len(proposals) != 0 {
				t.Errorf("flagged despite %s", tc.name)
			}
		})
	}
}

func TestRunSkipsFlaggedAndExempt(t *testing.T) {
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 0.3
	pol.Exemptions.Users = []string{"break-glass"}

	flagged := degradedToken()
	flagged.PendingAction = &model.PendingAction{ManifestID: "m-1", Type: model.ActionRevokeAccess}

	exempt := degradedToken()
	exempt.ID = "1002"
	exempt.Owner = "break-glass"

	d := testDetector(t, pol)
	proposals, err := d.Run(snapOf(flagged, exempt))
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 0 {
		t.Errorf("flagged or exempt entity proposed: %v", proposals)
	}
}

func TestRunAdminGetsRoleChangeBeforeRevocation(t *testing.T) {
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 0.3
	d := testDetector(t, pol)

	tok := degradedToken()
	tok.Role = "admin"
	// Idle long past twice the acceptance window; the admin downgrade
	// still takes precedence over outright revocation.
	tok.LastUsed = detectNow.AddDate(0, 0, -90)

	proposals, err := d.Run(snapOf(tok))
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 1 || proposals[0].Action != model.ActionRoleChange {
		t.Fatalf("admin action = %v, want org_role_change", proposals)
	}
	pending, _ := d.manifests.Pending()
	if pending[0].ProposedAction.TargetRole != "member" {
		t.Errorf("target role = %q, want member", pending[0].ProposedAction.TargetRole)
	}
}

func TestRunLongIdleServiceAccountRevoked(t *testing.T) {
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 0.3
	d := testDetector(t, pol)

	tok := degradedToken()
	tok.EntityType = model.EntityServiceAccount
	tok.Owner = "svc-ci"
	tok.LastUsed = detectNow.AddDate(0, 0, -2*pol.Acceptance.MinDaysSinceLastUsed)

	proposals, err := d.Run(snapOf(tok))
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 1 || proposals[0].Action != model.ActionRevokeAccess {
		t.Fatalf("long-idle action = %v, want revoke_org_access", proposals)
	}
}

func TestRunServiceAccountScopeReduction(t *testing.T) {
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 0.3
	d := testDetector(t, pol)

	tok := degradedToken()
	tok.EntityType = model.EntityServiceAccount
	tok.Owner = "svc-ci"
	tok.LastUsed = detectNow.AddDate(0, 0, -20)

	proposals, err := d.Run(snapOf(tok))
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 1 || proposals[0].Action != model.ActionScopeReduction {
		t.Fatalf("service account action = %v, want scope_reduction", proposals)
	}
}

func TestRunNeverMutatesScoresOrHistory(t *testing.T) {
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 0.3
	d := testDetector(t, pol)

	tok := degradedToken()
	scoreBefore := tok.Score
	histBefore := tok.ScoreHistory.Scores()

	snap := snapOf(tok)
	if _, err := d.Run(snap); err != nil {
		t.Fatal(err)
	}

	got := snap.Token("1001")
	if got.Score != scoreBefore {
		t.Errorf("score mutated: %v -> %v", scoreBefore, got.Score)
	}
	if got.ScoreHistory.Len() != len(histBefore) {
		t.Error("history mutated by detection")
	}
}

func TestRunIdempotentAcrossRuns(t *testing.T) {
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 0.3
	d := testDetector(t, pol)
	snap := snapOf(degradedToken())

	if _, err := d.Run(snap); err != nil {
		t.Fatal(err)
	}
	second, err := d.Run(snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("second run re-flagged: %v", second)
	}
	pending, _ := d.manifests.Pending()
	if len(pending) != 1 {
		t.Errorf("got %d manifests, want 1", len(pending))
	}
}

func TestRunFlagsDegradedAgentViaTokenContext(t *testing.T) {
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 0.3
	d := testDetector(t, pol)

	tok := model.Token{
		ID:         "2001",
		Owner:      "svc-ci",
		EntityType: model.EntityServiceAccount,
		State:      model.StateActive,
		LastUsed:   detectNow.AddDate(0, 0, -20),
		Score:      0.9,
	}
	snap := &ledger.Snapshot{
		Tokens: ledger.TokenLedger{Tokens: []model.Token{tok}},
		Agents: ledger.AgentLedger{Agents: []model.Agent{{
			ID:                "agent-ci",
			AssociatedTokenID: "2001",
			InteractionScope:  "repo",
			State:             model.StateActive,
			Score:             0.15,
			ScoreHistory:      historyOf(0.2, 0.18, 0.15),
			LastActivity:      detectNow.AddDate(0, 0, -20),
		}}},
	}

	proposals, err := d.Run(snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 1 {
		t.Fatalf("got %d proposals, want 1", len(proposals))
	}
	if proposals[0].EntityKind != model.KindAgent || proposals[0].EntityID != "agent-ci" {
		t.Errorf("unexpected proposal: %+v", proposals[0])
	}
	if !snap.Agent("agent-ci").Flagged() {
		t.Error("agent pending action not set")
	}
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	pol := policy.Default()
	pol.Risk.CriticalThreshold = 2.5 // above the score ceiling
	if _, err := New(pol, manifest.NewStore(t.TempDir()), nil); err == nil {
		t.Fatal("invalid policy accepted")
	}
}
