// Package scoring computes survivability scores for tokens and agents.
// The formula is fixed and deterministic:
//
//	S = base × role_mult × repo_mult × time_factor × audit_factor
//
// Every factor is a bounded real derived from entity attributes, and the
// final score is clamped to [MinScore, MaxScore]. Agents inherit the four
// contextual factors from their associated token and contribute only their
// own interaction scope to the base term.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 2.0
)

// timeDecayDays is the e-folding period of the activity decay: a token
// unused for this many days loses a factor of 1/e.
const timeDecayDays = 180.0

// roleMultipliers discounts privileged roles: the broader the blast
// radius of a credential, the lower its survivability.
var roleMultipliers = map[string]float64{
	"admin":      0.75,
	"maintainer": 0.85,
	"member":     1.0,
}

// defaultRoleMultiplier covers roles not in the table.
const defaultRoleMultiplier = 0.9

// Factors holds the five terms of the survivability formula.
type Factors struct {
	Base  float64
	Role  float64
	Repo  float64
	Time  float64
	Audit float64
}

// Score multiplies the factors and clamps the result to [MinScore, MaxScore],
// rounded to three decimals for stable ledger diffs.
func (f Factors) Score() float64 {
	s := f.Base * f.Role * f.Repo * f.Time * f.Audit
	if s < MinScore {
		s = MinScore
	}
	if s > MaxScore {
		s = MaxScore
	}
	return math.Round(s*1000) / 1000
}

// baseFactor derives the scope term: the fraction of granted permissions
// that are actually used. A scope granting more than it uses scores lower.
// Returns an error for an empty or unparseable scope string.
func baseFactor(scope string, used int) (float64, error) {
	granted := 0
	for _, part := range strings.Split(scope, ",") {
		if strings.TrimSpace(part) != "" {
			granted++
		}
	}
	if granted == 0 {
		return 0, fmt.Errorf("scoring: empty or malformed scope %q", scope)
	}
	if used <= 0 {
		used = 1
	}
	base := float64(used) / float64(granted)
	if base > 1.0 {
		base = 1.0
	}
	return base, nil
}

// roleFactor maps a role to its multiplier.
func roleFactor(role string) float64 {
	if m, ok := roleMultipliers[strings.ToLower(role)]; ok {
		return m
	}
	return defaultRoleMultiplier
}

// repoFactor discounts tokens reaching into many repositories.
// One repo (or none recorded) is neutral; each additional repo costs 0.05
// down to a floor of 0.6.
func repoFactor(repoCount int) float64 {
	if repoCount <= 1 {
		return 1.0
	}
	f := 1.0 - 0.05*float64(repoCount-1)
	if f < 0.6 {
		f = 0.6
	}
	return f
}

// timeFactor decays with days since last activity. An unknown (zero)
// last-activity time is neutral: staleness is only penalized on evidence.
// Bounded to [0.2, 1.0].
func timeFactor(lastUsed, now time.Time) float64 {
	if lastUsed.IsZero() || !lastUsed.Before(now) {
		return 1.0
	}
	days := now.Sub(lastUsed).Hours() / 24
	f := math.Exp(-days / timeDecayDays)
	if f < 0.2 {
		f = 0.2
	}
	return f
}

// auditFactor rewards entities with an audit trail. An entity nothing has
// ever been recorded about is half as trustworthy.
func auditFactor(trailLen int) float64 {
	if trailLen > 0 {
		return 1.0
	}
	return 0.5
}
