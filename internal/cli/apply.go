package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MYNTIST-IAM/IAM/internal/runner"
)

var applyWatch bool

const watchDebounce = 500 * time.Millisecond

func init() {
	applyCmd.Flags().BoolVar(&applyWatch, "watch", false, "keep running and apply new manifests as they appear")
	rootCmd.AddCommand(applyCmd)
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Enact pending remediation manifests",
	Long:  "Consumes every pending manifest oldest first, enacts each proposed change on the ledger, and relocates consumed manifests. With --watch, stays running and applies new manifests as the detector writes them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		r := runner.New(cfg, logger)

		if !applyWatch {
			return applyOnce(r)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return watchAndApply(ctx, r)
	},
}

func applyOnce(r *runner.Runner) error {
	results, err := r.Apply()
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no pending manifests")
		return nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(out))
	return nil
}

// watchAndApply applies once, then reapplies whenever the ops tree
// changes. Events are debounced: the detector writes a temp file and
// renames it, and one apply pass covers both.
func watchAndApply(ctx context.Context, r *runner.Runner) error {
	if err := os.MkdirAll(cfg.Paths.Ops, 0o755); err != nil {
		return fmt.Errorf("create ops directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(cfg.Paths.Ops); err != nil {
		return fmt.Errorf("watch %s: %w", cfg.Paths.Ops, err)
	}
	// Day directories appear under ops/ as the detector runs; watch the
	// existing ones too.
	entries, err := os.ReadDir(cfg.Paths.Ops)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(cfg.Paths.Ops, e.Name()))
		}
	}

	if err := applyOnce(r); err != nil {
		logger.Warn("initial apply failed", zap.Error(err))
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	logger.Info("watching for manifests", zap.String("dir", cfg.Paths.Ops))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			// Relocations into applied/ and failed/ fire events too; only
			// fresh manifests warrant a pass.
			if ev.Op.Has(fsnotify.Create) && strings.HasSuffix(ev.Name, ".yaml") {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		case <-fire:
			if err := applyOnce(r); err != nil {
				logger.Warn("apply failed", zap.Error(err))
			}
		}
	}
}
