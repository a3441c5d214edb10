package alerting

import (
	"fmt"
	"strings"
)

// Digest summarizes the alerts raised by one run.
type Digest struct {
	Total      int `json:"total"`
	Critical   int `json:"critical"`
	Warning    int `json:"warning"`
	Recovery   int `json:"recovery"`
	Suppressed int `json:"suppressed"`
}

// Add counts one raised event.
func (d *Digest) Add(e Event) {
	d.Total++
	switch e.Severity {
	case SeverityCritical:
		d.Critical++
	case SeverityWarning:
		d.Warning++
	case SeverityRecovery:
		d.Recovery++
	}
}

// String renders a one-line run summary for logs and CLI output.
func (d Digest) String() string {
	if d.Total == 0 && d.Suppressed == 0 {
		return "no alerts raised"
	}
	parts := []string{fmt.Sprintf("%d raised", d.Total)}
	if d.Critical > 0 {
		parts = append(parts, fmt.Sprintf("%d critical", d.Critical))
	}
	if d.Warning > 0 {
		parts = append(parts, fmt.Sprintf("%d warning", d.Warning))
	}
	if d.Recovery > 0 {
		parts = append(parts, fmt.Sprintf("%d recovery", d.Recovery))
	}
	if d.Suppressed > 0 {
		parts = append(parts, fmt.Sprintf("%d suppressed", d.Suppressed))
	}
	return strings.Join(parts, ", ")
}
