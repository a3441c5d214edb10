// Package cli wires the survctl command tree. Commands are thin: they
// resolve configuration, hand off to the runner or a single component,
// and print what happened.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MYNTIST-IAM/IAM/internal/config"
)

var (
	flagDir     string
	flagConfig  string
	flagVerbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "survctl",
	Short: "Identity survivability scoring and remediation",
	Long:  "Scores tokens and agents on how well their granted access matches observed use, rolls the scores up into product health, and proposes policy-driven remediation through reviewable manifests.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagDir, flagConfig)
		if err != nil {
			return err
		}

		level := parseLevel(cfg.LogLevel)
		if flagVerbose {
			level = zapcore.DebugLevel
		}
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(level)
		zcfg.OutputPaths = []string{"stderr"}
		logger, err = zcfg.Build()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", ".", "working directory holding ledgers, policy, and ops")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default <dir>/survctl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func parseLevel(s string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
