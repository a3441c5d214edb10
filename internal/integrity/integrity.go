// Package integrity validates referential consistency across the three
// ledgers. Checks are read-only: a run reports what is broken and leaves
// repair to an operator or the risk detector.
package integrity

import (
	"fmt"
	"sort"

	"github.com/MYNTIST-IAM/IAM/internal/ledger"
)

// Finding is one broken reference.
type Finding struct {
	Kind   string `json:"kind"`
	Source string `json:"source"`
	Target string `json:"target"`
	Detail string `json:"detail"`
}

// Finding kinds.
const (
	FindingOrphanedAgent = "orphaned_agent"
	FindingDanglingToken = "dangling_product_token"
	FindingDanglingAgent = "dangling_product_agent"
	FindingDuplicateID   = "duplicate_id"
)

// Report is the outcome of one integrity check.
type Report struct {
	Findings []Finding `json:"findings"`
}

// Clean reports whether the check found nothing wrong.
func (r *Report) Clean() bool { return len(r.Findings) == 0 }

// Check walks every cross-ledger reference in the snapshot and returns a
// deterministic report: findings are sorted by kind, then source, then
// target, so two runs over the same ledgers produce identical output.
func Check(snap *ledger.Snapshot) *Report {
	rep := &Report{}
	tokenIDs := snap.TokenIDs()
	agentIDs := snap.AgentIDs()

	seenTokens := make(map[string]bool, len(snap.Tokens.Tokens))
	for i := range snap.Tokens.Tokens {
		id := snap.Tokens.Tokens[i].ID
		if seenTokens[id] {
			rep.Findings = append(rep.Findings, Finding{
				Kind:   FindingDuplicateID,
				Source: "tokens",
				Target: id,
				Detail: fmt.Sprintf("token ID %s appears more than once", id),
			})
		}
		seenTokens[id] = true
	}

	seenAgents := make(map[string]bool, len(snap.Agents.Agents))
	for i := range snap.Agents.Agents {
		ag := &snap.Agents.Agents[i]
		if seenAgents[ag.ID] {
			rep.Findings = append(rep.Findings, Finding{
				Kind:   FindingDuplicateID,
				Source: "agents",
				Target: ag.ID,
				Detail: fmt.Sprintf("agent ID %s appears more than once", ag.ID),
			})
		}
		seenAgents[ag.ID] = true

		if !tokenIDs[ag.AssociatedTokenID] {
			rep.Findings = append(rep.Findings, Finding{
				Kind:   FindingOrphanedAgent,
				Source: ag.ID,
				Target: ag.AssociatedTokenID,
				Detail: fmt.Sprintf("agent %s references token %s which does not exist", ag.ID, ag.AssociatedTokenID),
			})
		}
	}

	for i := range snap.Products.Products {
		prod := &snap.Products.Products[i]
		for _, id := range prod.LinkedTokens {
			if !tokenIDs[id] {
				rep.Findings = append(rep.Findings, Finding{
					Kind:   FindingDanglingToken,
					Source: prod.ID,
					Target: id,
					Detail: fmt.Sprintf("product %s links token %s which does not exist", prod.ID, id),
				})
			}
		}
		for _, id := range prod.LinkedAgents {
			if !agentIDs[id] {
				rep.Findings = append(rep.Findings, Finding{
					Kind:   FindingDanglingAgent,
					Source: prod.ID,
					Target: id,
					Detail: fmt.Sprintf("product %s links agent %s which does not exist", prod.ID, id),
				})
			}
		}
	}

	sort.Slice(rep.Findings, func(i, j int) bool {
		a, b := rep.Findings[i], rep.Findings[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Target < b.Target
	})
	return rep
}
