// Package alerting classifies score transitions into alert events and
// delivers them: an append-only hash-chained JSONL log for the record, a
// SQLite index for dedup, and an optional webhook for operators.
package alerting

import (
	"fmt"
	"time"

	"github.com/MYNTIST-IAM/IAM/internal/model"
)

// Alert cuts are fixed. They are independent of the detection policy:
// tuning the detector's acceptance threshold never moves what counts as
// an alert-worthy score.
const (
	criticalCut = 0.2
	warningCut  = 0.5
	recoveryCut = 0.8
)

// Severity orders alert events from worst to recovered.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityRecovery Severity = "RECOVERY"
)

// Event is one alert raised for one entity on one run.
type Event struct {
	Severity   Severity   `json:"severity"`
	EntityID   string     `json:"entity_id"`
	EntityKind model.Kind `json:"entity_kind"`
	Owner      string     `json:"owner"`
	Score      float64    `json:"score"`
	Previous   *float64   `json:"previous_score,omitempty"`
	Message    string     `json:"message"`
	RaisedAt   time.Time  `json:"raised_at"`
	PrevHash   string     `json:"prev_hash,omitempty"`
}

// DedupKey identifies an alert for suppression: repeats of the same
// severity for the same entity on the same day are dropped.
func (e Event) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", e.EntityKind, e.EntityID, e.Severity, e.RaisedAt.UTC().Format("2006-01-02"))
}

// Evaluator classifies score readings against the fixed alert cuts.
type Evaluator struct{}

// NewEvaluator builds an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate classifies one entity's latest reading. Scores inside the
// quiet band, and recoveries without a degraded previous reading, raise
// nothing.
func (ev *Evaluator) Evaluate(kind model.Kind, id, owner string, score float64, previous *float64, now time.Time) *Event {
	e := &Event{
		EntityID:   id,
		EntityKind: kind,
		Owner:      owner,
		Score:      score,
		Previous:   previous,
		RaisedAt:   now.UTC(),
	}

	switch {
	case score < criticalCut:
		e.Severity = SeverityCritical
		e.Message = fmt.Sprintf("%s %s survivability %.3f below critical threshold %.2f", kind, id, score, criticalCut)
	case score < warningCut:
		e.Severity = SeverityWarning
		e.Message = fmt.Sprintf("%s %s survivability %.3f below warning threshold %.2f", kind, id, score, warningCut)
	case score >= recoveryCut && previous != nil && *previous < recoveryCut:
		e.Severity = SeverityRecovery
		e.Message = fmt.Sprintf("%s %s survivability recovered to %.3f", kind, id, score)
	default:
		return nil
	}
	return e
}
