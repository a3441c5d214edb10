package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Subdirectories a consumed manifest is relocated into.
const (
	appliedDir = "applied"
	failedDir  = "failed"
)

// Store lays manifests out under root as ops/<YYYYMMDD>/<kind>-<entity>.yaml.
// A day directory gains applied/ and failed/ subdirectories as the applier
// consumes its manifests; the pending set is whatever remains at the top
// of each day directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the directory the store writes under.
func (s *Store) Root() string { return s.root }

func (s *Store) dayDir(t time.Time) string {
	return filepath.Join(s.root, t.UTC().Format("20060102"))
}

func fileName(m *Manifest) string {
	return fmt.Sprintf("%s-%s.yaml", m.EntityKind, m.EntityID)
}

// Write persists a new manifest. Writing is write-once: if a pending
// manifest already exists for the same entity on the same day, Write
// refuses rather than overwriting.
func (s *Store) Write(m *Manifest) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	dir := s.dayDir(m.ProposedAt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("manifest: create %s: %w", dir, err)
	}

	path := filepath.Join(dir, fileName(m))
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("manifest: %s already exists, refusing to overwrite", path)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("manifest: stat %s: %w", path, err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("manifest: marshal %s: %w", m.ManifestID, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("manifest: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("manifest: replace %s: %w", path, err)
	}
	return path, nil
}

// Pending returns every unconsumed manifest across all day directories,
// sorted by proposal time, oldest first. Files that do not parse or do
// not validate are returned as errors alongside the good set so one bad
// file does not hide the rest.
func (s *Store) Pending() ([]*Manifest, []error) {
	days, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("manifest: read %s: %w", s.root, err)}
	}

	var pending []*Manifest
	var errs []error
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, day.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("manifest: read %s: %w", dir, err))
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
				continue
			}
			path := filepath.Join(dir, e.Name())
			m, err := readManifest(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			pending = append(pending, m)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].ProposedAt.Equal(pending[j].ProposedAt) {
			return pending[i].ProposedAt.Before(pending[j].ProposedAt)
		}
		return pending[i].EntityID < pending[j].EntityID
	})
	return pending, errs
}

// PendingFor returns the unconsumed manifest for one entity, or nil.
func (s *Store) PendingFor(entityID string) (*Manifest, error) {
	pending, errs := s.Pending()
	for _, m := range pending {
		if m.EntityID == entityID {
			return m, nil
		}
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return nil, nil
}

// MarkApplied relocates a consumed manifest into its day's applied/
// subdirectory. The file itself is untouched.
func (s *Store) MarkApplied(m *Manifest) error {
	return s.relocate(m, appliedDir)
}

// MarkFailed relocates a manifest the applier could not act on into its
// day's failed/ subdirectory.
func (s *Store) MarkFailed(m *Manifest) error {
	return s.relocate(m, failedDir)
}

func (s *Store) relocate(m *Manifest, sub string) error {
	dir := s.dayDir(m.ProposedAt)
	src := filepath.Join(dir, fileName(m))
	dstDir := filepath.Join(dir, sub)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("manifest: create %s: %w", dstDir, err)
	}
	dst := filepath.Join(dstDir, fileName(m))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("manifest: relocate %s: %w", src, err)
	}
	return nil
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return &m, nil
}
