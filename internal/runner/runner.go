// Package runner wires the pipeline stages into a single run: load,
// score, aggregate, validate, detect, commit, report, alert. The ledger
// commit happens before reports and alerts, so a reporting failure never
// loses scored state, and an aborted commit never produces reports that
// disagree with the ledgers on disk.
package runner

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MYNTIST-IAM/IAM/internal/alerting"
	"github.com/MYNTIST-IAM/IAM/internal/apply"
	"github.com/MYNTIST-IAM/IAM/internal/config"
	"github.com/MYNTIST-IAM/IAM/internal/detect"
	"github.com/MYNTIST-IAM/IAM/internal/directory"
	"github.com/MYNTIST-IAM/IAM/internal/health"
	"github.com/MYNTIST-IAM/IAM/internal/integrity"
	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/manifest"
	"github.com/MYNTIST-IAM/IAM/internal/model"
	"github.com/MYNTIST-IAM/IAM/internal/policy"
	"github.com/MYNTIST-IAM/IAM/internal/report"
	"github.com/MYNTIST-IAM/IAM/internal/scoring"
)

// Summary is what one run did.
type Summary struct {
	RunID     string              `json:"run_id"`
	StartedAt time.Time           `json:"started_at"`
	Tokens    int                 `json:"tokens"`
	Agents    int                 `json:"agents"`
	Products  int                 `json:"products"`
	Proposals []detect.Proposal   `json:"proposals,omitempty"`
	Findings  []integrity.Finding `json:"findings,omitempty"`
	Alerts    alerting.Digest     `json:"alerts"`
}

// Runner executes the survivability pipeline.
type Runner struct {
	cfg *config.Config
	log *zap.Logger
	Now func() time.Time
}

// New builds a Runner.
func New(cfg *config.Config, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{cfg: cfg, log: log, Now: time.Now}
}

func (r *Runner) store() *ledger.Store {
	return ledger.NewStore(r.cfg.Paths.TokenLedger, r.cfg.Paths.AgentLedger, r.cfg.Paths.ProductLedger)
}

// Run executes one full pipeline pass.
func (r *Runner) Run() (*Summary, error) {
	runID := uuid.NewString()
	started := r.Now().UTC()
	log := r.log.With(zap.String("run_id", runID))
	log.Info("run started")

	pol, err := policy.Load(r.cfg.Paths.Policy)
	if err != nil {
		return nil, err
	}

	store := r.store()
	snap, err := store.Load()
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		RunID:     runID,
		StartedAt: started,
		Tokens:    len(snap.Tokens.Tokens),
		Agents:    len(snap.Agents.Agents),
		Products:  len(snap.Products.Products),
	}

	// Capture pre-run scores: the alert evaluator compares against the
	// reading before this run's push.
	previous := previousScores(snap)

	eng := scoring.NewEngine()
	eng.Now = r.Now
	results := eng.ScoreTokens(snap)
	results = append(results, eng.ScoreAgents(snap)...)
	log.Info("entities scored", zap.Int("count", len(results)))

	agg := health.NewAggregator()
	agg.Now = r.Now
	healthResults := agg.Aggregate(snap)

	check := integrity.Check(snap)
	sum.Findings = check.Findings
	if !check.Clean() {
		log.Warn("integrity findings", zap.Int("count", len(check.Findings)))
	}

	det, err := detect.New(pol, manifest.NewStore(r.cfg.Paths.Ops), log)
	if err != nil {
		return nil, err
	}
	det.Now = r.Now
	proposals, err := det.Run(snap)
	sum.Proposals = proposals
	if err != nil {
		return nil, fmt.Errorf("runner: detect: %w", err)
	}

	if err := store.Commit(snap); err != nil {
		return nil, fmt.Errorf("runner: commit aborted, reports skipped: %w", err)
	}
	log.Info("ledgers committed")

	w := report.NewWriter(r.cfg.Paths.Reports)
	w.Now = r.Now
	if err := w.WriteSurvivability(w.BuildSurvivability(snap, results)); err != nil {
		return sum, err
	}
	if err := w.WriteProductHealth(w.BuildProductHealth(healthResults)); err != nil {
		return sum, err
	}

	digest, err := r.raiseAlerts(snap, previous, log)
	if err != nil {
		return sum, err
	}
	sum.Alerts = digest

	log.Info("run finished",
		zap.Int("proposals", len(proposals)),
		zap.String("alerts", digest.String()))
	return sum, nil
}

// Apply consumes pending manifests and commits the resulting ledgers.
func (r *Runner) Apply() ([]apply.Result, error) {
	store := r.store()
	snap, err := store.Load()
	if err != nil {
		return nil, err
	}

	applier := apply.New(manifest.NewStore(r.cfg.Paths.Ops), r.log)
	applier.Now = r.Now
	results, err := applier.Run(snap)
	if err != nil {
		return results, err
	}

	if err := store.Commit(snap); err != nil {
		return results, fmt.Errorf("runner: commit: %w", err)
	}
	if err := applier.Consume(); err != nil {
		return results, err
	}
	return results, nil
}

// Sync seeds tokens for directory members that have none and commits the
// token ledger. Existing tokens are never modified.
func (r *Runner) Sync() ([]string, error) {
	var src directory.Source
	if r.cfg.Directory.URL != "" {
		src = directory.HTTPSource{URL: r.cfg.Directory.URL, Token: r.cfg.Directory.Token}
	} else {
		src = directory.FileSource{Path: r.cfg.Paths.Members}
	}

	members, err := src.Members()
	if err != nil {
		return nil, err
	}

	store := r.store()
	snap, err := store.Load()
	if err != nil {
		return nil, err
	}

	created := directory.SeedTokens(snap, members, r.Now())
	linked := r.resolveAssociations(snap)

	if len(created) == 0 && linked == 0 {
		return nil, nil
	}
	if err := store.Commit(snap); err != nil {
		return created, fmt.Errorf("runner: commit: %w", err)
	}
	r.log.Info("directory synced", zap.Int("created", len(created)), zap.Int("linked", linked))
	return created, nil
}

// resolveAssociations links agents that arrived without a token to the
// service account their workflow most plausibly runs under.
func (r *Runner) resolveAssociations(snap *ledger.Snapshot) int {
	linked := 0
	for i := range snap.Agents.Agents {
		ag := &snap.Agents.Agents[i]
		if ag.AssociatedTokenID != "" {
			continue
		}
		id, ok := ledger.ResolveTokenForWorkflow(ag.WorkflowFile, snap.Tokens.Tokens)
		if !ok {
			r.log.Warn("no service account for agent workflow",
				zap.String("agent_id", ag.ID),
				zap.String("workflow_file", ag.WorkflowFile))
			continue
		}
		ag.AssociatedTokenID = id
		linked++
	}
	return linked
}

type prevKey struct {
	kind string
	id   string
}

func previousScores(snap *ledger.Snapshot) map[prevKey]*float64 {
	out := make(map[prevKey]*float64)
	for i := range snap.Tokens.Tokens {
		tok := &snap.Tokens.Tokens[i]
		if latest, ok := tok.ScoreHistory.Latest(); ok {
			s := latest.Score
			out[prevKey{"token", tok.ID}] = &s
		}
	}
	for i := range snap.Agents.Agents {
		ag := &snap.Agents.Agents[i]
		if latest, ok := ag.ScoreHistory.Latest(); ok {
			s := latest.Score
			out[prevKey{"agent", ag.ID}] = &s
		}
	}
	return out
}

func (r *Runner) raiseAlerts(snap *ledger.Snapshot, previous map[prevKey]*float64, log *zap.Logger) (alerting.Digest, error) {
	var digest alerting.Digest

	alertLog, err := alerting.OpenLog(r.cfg.Paths.AlertLog)
	if err != nil {
		return digest, err
	}
	defer alertLog.Close()

	index, err := alerting.OpenIndex(r.cfg.Paths.AlertIndex)
	if err != nil {
		return digest, err
	}
	defer index.Close()

	var webhook *alerting.Webhook
	if cfg := (alerting.WebhookConfig{URL: r.cfg.Alerting.WebhookURL, Headers: r.cfg.Alerting.WebhookHeaders}); cfg.Enabled() {
		webhook = alerting.NewWebhook(cfg)
	}

	ev := alerting.NewEvaluator()
	now := r.Now().UTC()

	deliver := func(e *alerting.Event) error {
		if e == nil {
			return nil
		}
		raise, err := index.ShouldRaise(*e)
		if err != nil {
			return err
		}
		if !raise {
			digest.Suppressed++
			return nil
		}
		if err := alertLog.Record(*e); err != nil {
			return err
		}
		digest.Add(*e)
		if webhook != nil {
			if err := webhook.Send(*e); err != nil {
				log.Warn("webhook delivery failed", zap.Error(err))
			}
		}
		return nil
	}

	for i := range snap.Tokens.Tokens {
		tok := &snap.Tokens.Tokens[i]
		e := ev.Evaluate(model.KindToken, tok.ID, tok.Owner, tok.Score, previous[prevKey{"token", tok.ID}], now)
		if err := deliver(e); err != nil {
			return digest, err
		}
	}
	for i := range snap.Agents.Agents {
		ag := &snap.Agents.Agents[i]
		e := ev.Evaluate(model.KindAgent, ag.ID, ag.Name, ag.Score, previous[prevKey{"agent", ag.ID}], now)
		if err := deliver(e); err != nil {
			return digest, err
		}
	}
	if webhook != nil && digest.Total > 0 {
		if err := webhook.SendDigest(digest); err != nil {
			log.Warn("digest delivery failed", zap.Error(err))
		}
	}
	return digest, nil
}
