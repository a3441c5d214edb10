// Package health rolls token and agent survivability scores up into
// product-level health. A product's health is the mean score of the
// dependencies that resolve; links that point at nothing are reported,
// never silently averaged as zero.
package health

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/model"
)

// Result is the aggregation outcome for one product.
type Result struct {
	ProductID           string             `json:"product_id"`
	ProductName         string             `json:"product_name"`
	Health              *float64           `json:"survivability_health"`
	Status              model.HealthStatus `json:"health_status"`
	ResolvedCount       int                `json:"resolved_count"`
	MissingDependencies []string           `json:"missing_dependencies,omitempty"`
}

// Aggregator computes product health from scored ledgers.
type Aggregator struct {
	Now func() time.Time
}

// NewAggregator returns an Aggregator stamped with wall-clock time.
func NewAggregator() *Aggregator {
	return &Aggregator{Now: time.Now}
}

// Aggregate recomputes health for every product in the snapshot and
// returns one result per product in ledger order. Products whose linked
// dependencies all fail to resolve get nil health and HealthUnknown;
// the stored health is never coerced to zero.
func (a *Aggregator) Aggregate(snap *ledger.Snapshot) []Result {
	now := a.Now().UTC()
	results := make([]Result, 0, len(snap.Products.Products))

	for i := range snap.Products.Products {
		prod := &snap.Products.Products[i]
		res := a.aggregateOne(snap, prod)

		prod.Health = res.Health
		prod.HealthStatus = res.Status
		prod.LastCalculated = now
		prod.UpdatedAt = now

		results = append(results, res)
	}
	return results
}

func (a *Aggregator) aggregateOne(snap *ledger.Snapshot, prod *model.Product) Result {
	res := Result{ProductID: prod.ID, ProductName: prod.Name}

	var sum float64
	for _, id := range prod.LinkedTokens {
		tok := snap.Token(id)
		if tok == nil {
			res.MissingDependencies = append(res.MissingDependencies, fmt.Sprintf("token:%s", id))
			continue
		}
		sum += tok.Score
		res.ResolvedCount++
	}
	for _, id := range prod.LinkedAgents {
		ag := snap.Agent(id)
		// An agent whose token is gone has lost its scoring context;
		// its stale score must not weigh into the product mean.
		if ag == nil || snap.Token(ag.AssociatedTokenID) == nil {
			res.MissingDependencies = append(res.MissingDependencies, fmt.Sprintf("agent:%s", id))
			continue
		}
		sum += ag.Score
		res.ResolvedCount++
	}
	sort.Strings(res.MissingDependencies)

	if res.ResolvedCount == 0 {
		res.Status = model.HealthUnknown
		return res
	}

	mean := round3(sum / float64(res.ResolvedCount))
	res.Health = &mean
	res.Status = model.HealthFor(mean)
	return res
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
