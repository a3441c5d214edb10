// Package report renders run output for humans and machines: a JSON
// document per report for tooling, and a markdown rendering of the same
// data for review. Reports are derived artifacts; regenerating one never
// changes a ledger.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MYNTIST-IAM/IAM/internal/health"
	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/model"
	"github.com/MYNTIST-IAM/IAM/internal/scoring"
)

// EntityRow is one line of the survivability report.
type EntityRow struct {
	Kind     model.Kind   `json:"kind"`
	ID       string       `json:"id"`
	Owner    string       `json:"owner"`
	Score    float64      `json:"score"`
	Status   model.Status `json:"status"`
	Trend    []float64    `json:"trend"`
	Flagged  bool         `json:"flagged"`
	State    model.State  `json:"state"`
	LastUsed time.Time    `json:"last_used,omitempty"`
}

// Survivability is the per-entity score report for one run.
type Survivability struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Entities    []EntityRow `json:"entities"`
	Anomalies   []string    `json:"anomalies,omitempty"`
}

// ProductHealth is the product roll-up report for one run.
type ProductHealth struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Products    []health.Result `json:"products"`
}

// Writer renders reports into a directory.
type Writer struct {
	dir string
	Now func() time.Time
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, Now: time.Now}
}

// BuildSurvivability assembles the score report from the snapshot and the
// run's scoring results. Rows are sorted worst score first so the top of
// the report is what needs attention.
func (w *Writer) BuildSurvivability(snap *ledger.Snapshot, results []scoring.Result) *Survivability {
	rep := &Survivability{GeneratedAt: w.Now().UTC()}

	for i := range snap.Tokens.Tokens {
		tok := &snap.Tokens.Tokens[i]
		rep.Entities = append(rep.Entities, EntityRow{
			Kind:     model.KindToken,
			ID:       tok.ID,
			Owner:    tok.Owner,
			Score:    tok.Score,
			Status:   model.StatusFor(tok.Score),
			Trend:    tok.ScoreHistory.Scores(),
			Flagged:  tok.Flagged(),
			State:    tok.State,
			LastUsed: tok.LastUsed,
		})
	}
	for i := range snap.Agents.Agents {
		ag := &snap.Agents.Agents[i]
		rep.Entities = append(rep.Entities, EntityRow{
			Kind:     model.KindAgent,
			ID:       ag.ID,
			Owner:    ag.Name,
			Score:    ag.Score,
			Status:   model.StatusFor(ag.Score),
			Trend:    ag.ScoreHistory.Scores(),
			Flagged:  ag.Flagged(),
			State:    ag.State,
			LastUsed: ag.LastActivity,
		})
	}

	sort.Slice(rep.Entities, func(i, j int) bool {
		if rep.Entities[i].Score != rep.Entities[j].Score {
			return rep.Entities[i].Score < rep.Entities[j].Score
		}
		return rep.Entities[i].ID < rep.Entities[j].ID
	})

	for _, r := range results {
		if r.Anomaly != "" {
			rep.Anomalies = append(rep.Anomalies, fmt.Sprintf("%s %s: %s", r.Kind, r.ID, r.Anomaly))
		}
	}
	sort.Strings(rep.Anomalies)
	return rep
}

// BuildProductHealth assembles the product roll-up report.
func (w *Writer) BuildProductHealth(results []health.Result) *ProductHealth {
	return &ProductHealth{GeneratedAt: w.Now().UTC(), Products: results}
}

// WriteSurvivability renders the score report as JSON and markdown.
func (w *Writer) WriteSurvivability(rep *Survivability) error {
	if err := w.writeJSON("survivability_report.json", rep); err != nil {
		return err
	}
	return w.writeFile("survivability_report.md", renderSurvivabilityMarkdown(rep))
}

// WriteProductHealth renders the product report as JSON and markdown.
func (w *Writer) WriteProductHealth(rep *ProductHealth) error {
	if err := w.writeJSON("product_health.json", rep); err != nil {
		return err
	}
	return w.writeFile("product_health.md", renderProductMarkdown(rep))
}

func (w *Writer) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal %s: %w", name, err)
	}
	return w.writeFile(name, string(data)+"\n")
}

func (w *Writer) writeFile(name, content string) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("report: create %s: %w", w.dir, err)
	}
	path := filepath.Join(w.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("report: replace %s: %w", path, err)
	}
	return nil
}

func renderSurvivabilityMarkdown(rep *Survivability) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Survivability Report\n\nGenerated: %s\n\n", rep.GeneratedAt.Format(time.RFC3339))
	b.WriteString("| Kind | ID | Owner | Score | Status | Trend | Flagged |\n")
	b.WriteString("|------|----|-------|-------|--------|-------|---------|\n")
	for _, row := range rep.Entities {
		flagged := ""
		if row.Flagged {
			flagged = "yes"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %.3f | %s | %s | %s |\n",
			row.Kind, row.ID, row.Owner, row.Score, row.Status, renderTrend(row.Trend), flagged)
	}
	if len(rep.Anomalies) > 0 {
		b.WriteString("\n## Anomalies\n\n")
		for _, a := range rep.Anomalies {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	return b.String()
}

func renderProductMarkdown(rep *ProductHealth) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Product Health\n\nGenerated: %s\n\n", rep.GeneratedAt.Format(time.RFC3339))
	b.WriteString("| Product | Name | Health | Status | Resolved | Missing |\n")
	b.WriteString("|---------|------|--------|--------|----------|---------|\n")
	for _, p := range rep.Products {
		healthCell := "n/a"
		if p.Health != nil {
			healthCell = fmt.Sprintf("%.3f", *p.Health)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %s |\n",
			p.ProductID, p.ProductName, healthCell, p.Status, p.ResolvedCount,
			strings.Join(p.MissingDependencies, ", "))
	}
	return b.String()
}

func renderTrend(scores []float64) string {
	if len(scores) == 0 {
		return ""
	}
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%.2f", s)
	}
	return strings.Join(parts, " → ")
}
