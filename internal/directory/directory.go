// Package directory syncs the token ledger against an organization
// member directory. Sync only seeds: a member without a token gets one
// with role-appropriate scopes, and existing tokens are never touched, so
// a re-run after a partial sync is safe.
package directory

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/model"
)

// Member is one identity in the organization directory.
type Member struct {
	ID    string `json:"id" yaml:"id"`
	Login string `json:"login" yaml:"login"`
	Role  string `json:"role" yaml:"role"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
	State string `json:"state,omitempty" yaml:"state,omitempty"`
}

// EntityType maps the directory member type onto the ledger's entity
// types. Anything not explicitly a bot or service account is a user.
func (m Member) EntityType() model.EntityType {
	switch strings.ToLower(m.Type) {
	case "bot", "service_account":
		return model.EntityServiceAccount
	default:
		return model.EntityUser
	}
}

// Source lists directory members.
type Source interface {
	Members() ([]Member, error)
}

// FileSource reads members from a local JSON file.
type FileSource struct {
	Path string
}

// Members reads and parses the member file.
func (s FileSource) Members() ([]Member, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", s.Path, err)
	}
	var members []Member
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("directory: parse %s: %w", s.Path, err)
	}
	return members, nil
}

// HTTPSource fetches members from a directory API endpoint.
type HTTPSource struct {
	URL    string
	Token  string
	Client *http.Client
}

// Members fetches and parses the member listing.
func (s HTTPSource) Members() ([]Member, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequest(http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: create request: %w", err)
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: fetch members: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory: fetch members: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("directory: read response: %w", err)
	}
	var members []Member
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, fmt.Errorf("directory: parse response: %w", err)
	}
	return members, nil
}

// Role-based seed scopes.
const (
	adminSeedScope   = "admin:org, repo, workflow, write:packages"
	defaultSeedScope = "read:org, repo"
)

// SeedTokens creates a token for every directory member that has none,
// in deterministic member-ID order, and returns the IDs it created.
func SeedTokens(snap *ledger.Snapshot, members []Member, now time.Time) []string {
	now = now.UTC()
	existing := snap.TokenIDs()

	sorted := make([]Member, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var created []string
	for _, m := range sorted {
		if m.ID == "" || existing[m.ID] {
			continue
		}

		scope := defaultSeedScope
		role := m.Role
		if role == "" {
			role = "member"
		}
		if strings.EqualFold(role, "admin") {
			scope = adminSeedScope
		}

		tok := model.Token{
			ID:         m.ID,
			Owner:      m.Login,
			EntityType: m.EntityType(),
			Role:       strings.ToLower(role),
			Scope:      scope,
			IssuedOn:   now.Format("2006-01-02"),
			State:      model.StateActive,
		}
		tok.AppendAudit(model.AuditEvent{
			Event:     model.EventSeeded,
			Timestamp: now,
			Detail:    fmt.Sprintf("seeded from directory member %s", m.Login),
			After:     &model.StateSnapshot{Role: tok.Role, State: tok.State, Scope: tok.Scope},
		})

		snap.Tokens.Tokens = append(snap.Tokens.Tokens, tok)
		existing[m.ID] = true
		created = append(created, m.ID)
	}
	return created
}
