// Package ledger persists the token, agent, and product ledgers as
// human-editable YAML documents. Each run loads a full snapshot, computes
// updates in memory, and commits each ledger with a single atomic
// write-temp-then-rename. A failed commit leaves the prior file intact.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/MYNTIST-IAM/IAM/internal/model"
)

// TokenLedger is the on-disk document holding all token records.
type TokenLedger struct {
	Tokens []model.Token `yaml:"tokens"`
}

// AgentLedger is the on-disk document holding all agent records.
type AgentLedger struct {
	Agents []model.Agent `yaml:"agents"`
}

// ProductLedger is the on-disk document holding all product records.
type ProductLedger struct {
	Products []model.Product `yaml:"products"`
}

// Snapshot is the in-memory view of all three ledgers for one run.
// Components mutate records through the pointers it hands out; nothing
// reaches disk until Commit.
type Snapshot struct {
	Tokens   TokenLedger
	Agents   AgentLedger
	Products ProductLedger
}

// Token returns a pointer to the token with the given ID, or nil.
func (s *Snapshot) Token(id string) *model.Token {
	for i := range s.Tokens.Tokens {
		if s.Tokens.Tokens[i].ID == id {
			return &s.Tokens.Tokens[i]
		}
	}
	return nil
}

// Agent returns a pointer to the agent with the given ID, or nil.
func (s *Snapshot) Agent(id string) *model.Agent {
	for i := range s.Agents.Agents {
		if s.Agents.Agents[i].ID == id {
			return &s.Agents.Agents[i]
		}
	}
	return nil
}

// TokenIDs returns the set of token IDs present in the snapshot.
func (s *Snapshot) TokenIDs() map[string]bool {
	ids := make(map[string]bool, len(s.Tokens.Tokens))
	for i := range s.Tokens.Tokens {
		ids[s.Tokens.Tokens[i].ID] = true
	}
	return ids
}

// AgentIDs returns the set of agent IDs present in the snapshot.
func (s *Snapshot) AgentIDs() map[string]bool {
	ids := make(map[string]bool, len(s.Agents.Agents))
	for i := range s.Agents.Agents {
		ids[s.Agents.Agents[i].ID] = true
	}
	return ids
}

// Store reads and rewrites the three ledger files.
type Store struct {
	tokenPath   string
	agentPath   string
	productPath string
}

// NewStore creates a Store over the given ledger file paths.
func NewStore(tokenPath, agentPath, productPath string) *Store {
	return &Store{
		tokenPath:   tokenPath,
		agentPath:   agentPath,
		productPath: productPath,
	}
}

// Load reads a full snapshot of all three ledgers. A missing file loads
// as an empty ledger; a malformed file is an error.
func (s *Store) Load() (*Snapshot, error) {
	snap := &Snapshot{}
	if err := loadYAML(s.tokenPath, &snap.Tokens); err != nil {
		return nil, err
	}
	if err := loadYAML(s.agentPath, &snap.Agents); err != nil {
		return nil, err
	}
	if err := loadYAML(s.productPath, &snap.Products); err != nil {
		return nil, err
	}
	return snap, nil
}

// Commit rewrites all three ledgers from the snapshot. All temp files are
// written before any is renamed into place, so a marshal or write failure
// aborts the commit with every prior ledger untouched.
func (s *Store) Commit(snap *Snapshot) error {
	writes := []struct {
		path string
		doc  any
	}{
		{s.tokenPath, &snap.Tokens},
		{s.agentPath, &snap.Agents},
		{s.productPath, &snap.Products},
	}

	tmps := make([]string, 0, len(writes))
	cleanup := func() {
		for _, tmp := range tmps {
			_ = os.Remove(tmp)
		}
	}

	for _, w := range writes {
		tmp, err := writeTemp(w.path, w.doc)
		if err != nil {
			cleanup()
			return err
		}
		tmps = append(tmps, tmp)
	}

	for i, w := range writes {
		if err := os.Rename(tmps[i], w.path); err != nil {
			cleanup()
			return fmt.Errorf("ledger: replace %s: %w", w.path, err)
		}
	}
	return nil
}

// CommitTokens rewrites only the token ledger.
func (s *Store) CommitTokens(snap *Snapshot) error {
	return commitOne(s.tokenPath, &snap.Tokens)
}

// CommitAgents rewrites only the agent ledger.
func (s *Store) CommitAgents(snap *Snapshot) error {
	return commitOne(s.agentPath, &snap.Agents)
}

// CommitProducts rewrites only the product ledger.
func (s *Store) CommitProducts(snap *Snapshot) error {
	return commitOne(s.productPath, &snap.Products)
}

func commitOne(path string, doc any) error {
	tmp, err := writeTemp(path, doc)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ledger: replace %s: %w", path, err)
	}
	return nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ledger: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ledger: parse %s: %w", path, err)
	}
	return nil
}

func writeTemp(path string, doc any) (string, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("ledger: create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("ledger: write %s: %w", tmp, err)
	}
	return tmp, nil
}
