package scoring

import (
	"testing"
	"time"

	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/model"
)

func fixedEngine(day int) *Engine {
	return &Engine{Now: func() time.Time {
		return time.Date(2026, 4, day, 9, 0, 0, 0, time.UTC)
	}}
}

func snapWithToken(tok model.Token) *ledger.Snapshot {
	return &ledger.Snapshot{Tokens: ledger.TokenLedger{Tokens: []model.Token{tok}}}
}

func TestScoreTokensUpdatesRecord(t *testing.T) {
	snap := snapWithToken(model.Token{
		ID:              "1001",
		Owner:           "alice",
		EntityType:      model.EntityUser,
		Role:            "member",
		Scope:           "read:org, repo",
		UsedPermissions: 2,
		State:           model.StateActive,
		AuditTrail:      []model.AuditEvent{{Event: model.EventSeeded}},
	})

	results := fixedEngine(1).ScoreTokens(snap)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	tok := snap.Token("1001")
	// base=1.0 role=1.0 repo=1.0 time=1.0 audit=1.0
	if tok.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", tok.Score)
	}
	if results[0].Status != model.StatusHealthy {
		t.Errorf("status = %v, want Healthy", results[0].Status)
	}
	if tok.ScoreHistory.Len() != 1 {
		t.Errorf("history length = %d, want 1", tok.ScoreHistory.Len())
	}
	if tok.LastScored.IsZero() {
		t.Error("last_scored not stamped")
	}
}

func TestScoreTokensHistoryCapAfterManyRuns(t *testing.T) {
	snap := snapWithToken(model.Token{
		ID: "1001", Scope: "repo", State: model.StateActive,
	})

	const runs = 10
	for day := 1; day <= runs; day++ {
		fixedEngine(day).ScoreTokens(snap)
	}

	tok := snap.Token("1001")
	if tok.ScoreHistory.Len() != model.MaxHistory {
		t.Errorf("after %d runs history length = %d, want %d", runs, tok.ScoreHistory.Len(), model.MaxHistory)
	}
	if !tok.ScoreHistory.Ordered() {
		t.Error("history not chronologically ordered")
	}
}

func TestScoreTokensMalformedScopeDegradesNotAborts(t *testing.T) {
	snap := &ledger.Snapshot{Tokens: ledger.TokenLedger{Tokens: []model.Token{
		{ID: "bad", Scope: "", State: model.StateActive},
		{ID: "good", Scope: "repo", State: model.StateActive},
	}}}

	results := fixedEngine(1).ScoreTokens(snap)
	if len(results) != 2 {
		t.Fatalf("one bad entity blocked the batch: %d results", len(results))
	}

	bad := snap.Token("bad")
	if bad.Score != 0 {
		t.Errorf("malformed scope score = %v, want 0", bad.Score)
	}
	if results[0].Anomaly == "" {
		t.Error("anomaly not reported")
	}
	foundAnomalyEvent := false
	for _, e := range bad.AuditTrail {
		if e.Event == model.EventScoringAnomaly {
			foundAnomalyEvent = true
		}
	}
	if !foundAnomalyEvent {
		t.Error("scoring_anomaly audit event not appended")
	}
	if snap.Token("good").Score == 0 {
		t.Error("healthy sibling was not scored")
	}
}

func TestScoreAgentsInheritsTokenContext(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	snap := &ledger.Snapshot{
		Tokens: ledger.TokenLedger{Tokens: []model.Token{{
			ID:         "2001",
			Owner:      "svc-ci",
			EntityType: model.EntityServiceAccount,
			Role:       "admin", // 0.75
			Scope:      "admin:org, repo",
			Repos:      []string{"org/a", "org/b", "org/c"}, // 0.9
			LastUsed:   now,                                 // 1.0
			AuditTrail: []model.AuditEvent{{Event: model.EventSeeded}}, // 1.0
			State:      model.StateActive,
		}}},
		Agents: ledger.AgentLedger{Agents: []model.Agent{{
			ID:                "agent-ci",
			AssociatedTokenID: "2001",
			InteractionScope:  "repo", // base 1.0
			State:             model.StateActive,
		}}},
	}

	eng := &Engine{Now: func() time.Time { return now }}
	eng.ScoreTokens(snap)
	results := eng.ScoreAgents(snap)

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	// 1.0 × 0.75 × 0.9 × 1.0 × 1.0
	if got := snap.Agent("agent-ci").Score; got != 0.675 {
		t.Errorf("agent score = %v, want 0.675", got)
	}
	if results[0].Owner != "svc-ci" {
		t.Errorf("agent owner = %q, want inherited svc-ci", results[0].Owner)
	}
}

func TestScoreAgentsOrphanSkippedNotZeroed(t *testing.T) {
	snap := &ledger.Snapshot{
		Agents: ledger.AgentLedger{Agents: []model.Agent{{
			ID:                "agent-lost",
			AssociatedTokenID: "gone",
			InteractionScope:  "repo",
			Score:             0.7,
			State:             model.StateActive,
		}}},
	}

	results := fixedEngine(1).ScoreAgents(snap)
	if results[0].Anomaly == "" {
		t.Error("orphaned agent not reported as anomaly")
	}
	ag := snap.Agent("agent-lost")
	if ag.Score != 0.7 {
		t.Errorf("orphan score mutated to %v, want untouched 0.7", ag.Score)
	}
	if ag.ScoreHistory.Len() != 0 {
		t.Error("orphan history grew")
	}
}
