package scoring

import (
	"fmt"
	"time"

	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/model"
)

// Result is the outcome of scoring one entity. Anomaly is non-empty when
// the entity could not be scored normally; the batch always continues.
type Result struct {
	Kind    model.Kind         `json:"kind"`
	ID      string             `json:"id"`
	Owner   string             `json:"owner,omitempty"`
	Score   float64            `json:"survivability_score"`
	Status  model.Status       `json:"status"`
	History []model.ScoreEntry `json:"score_history"`
	Anomaly string             `json:"anomaly,omitempty"`
}

// Engine updates entity scores and rolling histories in a snapshot.
// Now is injectable for tests.
type Engine struct {
	Now func() time.Time
}

// NewEngine returns an Engine on the system clock.
func NewEngine() *Engine {
	return &Engine{Now: time.Now}
}

// ScoreTokens recomputes every token's survivability score, appends it to
// the rolling history, and stamps last_scored. A token with a malformed
// scope degrades to score 0 and gets a scoring_anomaly audit event; it
// never aborts the batch.
func (e *Engine) ScoreTokens(snap *ledger.Snapshot) []Result {
	now := e.Now().UTC()
	results := make([]Result, 0, len(snap.Tokens.Tokens))

	for i := range snap.Tokens.Tokens {
		tok := &snap.Tokens.Tokens[i]

		var score float64
		var anomaly string
		base, err := baseFactor(tok.Scope, tok.UsedPermissions)
		if err != nil {
			score = MinScore
			anomaly = err.Error()
			tok.AppendAudit(model.AuditEvent{
				Event:     model.EventScoringAnomaly,
				Timestamp: now,
				Detail:    anomaly,
			})
		} else {
			score = Factors{
				Base:  base,
				Role:  roleFactor(tok.Role),
				Repo:  repoFactor(len(tok.Repos)),
				Time:  timeFactor(tok.LastUsed, now),
				Audit: auditFactor(len(tok.AuditTrail)),
			}.Score()
		}

		tok.Score = score
		tok.ScoreHistory.Push(model.ScoreEntry{Timestamp: now, Score: score})
		tok.LastScored = now

		results = append(results, Result{
			Kind:    model.KindToken,
			ID:      tok.ID,
			Owner:   tok.Owner,
			Score:   score,
			Status:  model.StatusFor(score),
			History: tok.ScoreHistory.Entries(),
			Anomaly: anomaly,
		})
	}
	return results
}

// ScoreAgents recomputes every agent's score. The role, repo, time, and
// audit factors come from the associated token; the base term comes from
// the agent's own interaction scope. An orphaned agent (missing token) is
// left unscored and reported as an anomaly. Orphans are never zeroed;
// repair belongs to an operator.
//
// Must run after ScoreTokens so inherited context reflects this run.
func (e *Engine) ScoreAgents(snap *ledger.Snapshot) []Result {
	now := e.Now().UTC()
	results := make([]Result, 0, len(snap.Agents.Agents))

	for i := range snap.Agents.Agents {
		ag := &snap.Agents.Agents[i]

		tok := snap.Token(ag.AssociatedTokenID)
		if tok == nil {
			results = append(results, Result{
				Kind:    model.KindAgent,
				ID:      ag.ID,
				Score:   ag.Score,
				Status:  model.StatusFor(ag.Score),
				History: ag.ScoreHistory.Entries(),
				Anomaly: fmt.Sprintf("scoring: associated token %q not found", ag.AssociatedTokenID),
			})
			continue
		}

		var score float64
		var anomaly string
		base, err := baseFactor(ag.InteractionScope, ag.UsedPermissions)
		if err != nil {
			score = MinScore
			anomaly = err.Error()
			ag.AppendAudit(model.AuditEvent{
				Event:     model.EventScoringAnomaly,
				Timestamp: now,
				Detail:    anomaly,
			})
		} else {
			score = Factors{
				Base:  base,
				Role:  roleFactor(tok.Role),
				Repo:  repoFactor(len(tok.Repos)),
				Time:  timeFactor(tok.LastUsed, now),
				Audit: auditFactor(len(tok.AuditTrail)),
			}.Score()
		}

		ag.Score = score
		ag.ScoreHistory.Push(model.ScoreEntry{Timestamp: now, Score: score})
		ag.LastScored = now

		results = append(results, Result{
			Kind:    model.KindAgent,
			ID:      ag.ID,
			Owner:   tok.Owner,
			Score:   score,
			Status:  model.StatusFor(score),
			History: ag.ScoreHistory.Entries(),
			Anomaly: anomaly,
		})
	}
	return results
}
