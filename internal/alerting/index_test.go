package alerting

import (
	"path/filepath"
	"testing"
)

func TestIndexSuppressesRepeats(t *testing.T) {
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer ix.Close()

	e := testEvent("1001", SeverityCritical)
	raise, err := ix.ShouldRaise(e)
	if err != nil {
		t.Fatal(err)
	}
	if !raise {
		t.Fatal("first occurrence suppressed")
	}

	raise, err = ix.ShouldRaise(e)
	if err != nil {
		t.Fatal(err)
	}
	if raise {
		t.Fatal("same-day repeat not suppressed")
	}
}

func TestIndexSeparatesSeveritiesAndDays(t *testing.T) {
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()

	crit := testEvent("1001", SeverityCritical)
	if raise, _ := ix.ShouldRaise(crit); !raise {
		t.Fatal("first critical suppressed")
	}

	recovery := testEvent("1001", SeverityRecovery)
	if raise, _ := ix.ShouldRaise(recovery); !raise {
		t.Error("different severity suppressed")
	}

	nextDay := crit
	nextDay.RaisedAt = crit.RaisedAt.AddDate(0, 0, 1)
	if raise, _ := ix.ShouldRaise(nextDay); !raise {
		t.Error("next-day repeat suppressed")
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")

	ix, err := OpenIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if raise, _ := ix.ShouldRaise(testEvent("1001", SeverityCritical)); !raise {
		t.Fatal("first occurrence suppressed")
	}
	ix.Close()

	ix, err = OpenIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()
	if raise, _ := ix.ShouldRaise(testEvent("1001", SeverityCritical)); raise {
		t.Error("suppression lost across reopen")
	}
}

func TestIndexPrune(t *testing.T) {
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()

	old := testEvent("1001", SeverityCritical)
	old.RaisedAt = alertNow.AddDate(0, 0, -60)
	if _, err := ix.ShouldRaise(old); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.ShouldRaise(testEvent("1002", SeverityCritical)); err != nil {
		t.Fatal(err)
	}

	n, err := ix.Prune(alertNow.AddDate(0, 0, -30))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}

	// The pruned key can be raised again.
	if raise, _ := ix.ShouldRaise(old); !raise {
		t.Error("pruned key still suppressed")
	}
}
