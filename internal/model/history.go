package model

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxHistory is the capacity of the rolling score window. Seven readings
// cover a week of daily runs, which is what the trend reports graph.
const MaxHistory = 7

// ScoreEntry is one timestamped reading in a score history.
type ScoreEntry struct {
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Score     float64   `yaml:"score" json:"score"`
}

// History is a fixed-capacity rolling window of score readings, oldest
// first. The capacity bound is structural: Push drops the oldest entry
// once MaxHistory is reached, so no caller can grow the window past the
// cap. Serializes as a plain sequence in both YAML and JSON.
type History struct {
	entries []ScoreEntry
}

// NewHistory builds a History from existing entries, trimming to the
// MaxHistory most recent.
func NewHistory(entries []ScoreEntry) History {
	h := History{}
	for _, e := range entries {
		h.Push(e)
	}
	return h
}

// Push appends a reading, dropping the oldest entry when the window is full.
func (h *History) Push(e ScoreEntry) {
	h.entries = append(h.entries, e)
	if len(h.entries) > MaxHistory {
		h.entries = h.entries[len(h.entries)-MaxHistory:]
	}
}

// Len returns the number of readings in the window.
func (h History) Len() int { return len(h.entries) }

// Entries returns a copy of the readings, oldest first.
func (h History) Entries() []ScoreEntry {
	out := make([]ScoreEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Scores returns just the score values, oldest first.
func (h History) Scores() []float64 {
	out := make([]float64, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.Score
	}
	return out
}

// Latest returns the most recent reading, if any.
func (h History) Latest() (ScoreEntry, bool) {
	if len(h.entries) == 0 {
		return ScoreEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Previous returns the second most recent reading, if any. The alert
// evaluator compares it against the latest to classify transitions.
func (h History) Previous() (ScoreEntry, bool) {
	if len(h.entries) < 2 {
		return ScoreEntry{}, false
	}
	return h.entries[len(h.entries)-2], true
}

// Last returns up to n of the most recent readings' scores, oldest first.
func (h History) Last(n int) []float64 {
	if n <= 0 {
		return nil
	}
	scores := h.Scores()
	if len(scores) > n {
		scores = scores[len(scores)-n:]
	}
	return scores
}

// Ordered reports whether timestamps are chronologically non-decreasing.
func (h History) Ordered() bool {
	for i := 1; i < len(h.entries); i++ {
		if h.entries[i].Timestamp.Before(h.entries[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// MarshalYAML serializes the window as a plain sequence.
func (h History) MarshalYAML() (interface{}, error) {
	if h.entries == nil {
		return []ScoreEntry{}, nil
	}
	return h.entries, nil
}

// UnmarshalYAML reads a sequence of entries, trimming to capacity.
func (h *History) UnmarshalYAML(value *yaml.Node) error {
	var entries []ScoreEntry
	if err := value.Decode(&entries); err != nil {
		return err
	}
	*h = NewHistory(entries)
	return nil
}

// MarshalJSON serializes the window as a plain array.
func (h History) MarshalJSON() ([]byte, error) {
	if h.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.entries)
}

// UnmarshalJSON reads an array of entries, trimming to capacity.
func (h *History) UnmarshalJSON(data []byte) error {
	var entries []ScoreEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*h = NewHistory(entries)
	return nil
}
