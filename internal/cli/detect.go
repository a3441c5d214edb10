package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MYNTIST-IAM/IAM/internal/detect"
	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/manifest"
	"github.com/MYNTIST-IAM/IAM/internal/policy"
)

func init() {
	rootCmd.AddCommand(detectCmd)
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Flag persistently degraded entities",
	Long:  "Evaluates scored entities against the remediation policy and writes a manifest for each one that meets the acceptance criteria. Flagged entities gain a pending action; scores and histories are untouched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		pol, err := policy.Load(cfg.Paths.Policy)
		if err != nil {
			return err
		}

		store := ledger.NewStore(cfg.Paths.TokenLedger, cfg.Paths.AgentLedger, cfg.Paths.ProductLedger)
		snap, err := store.Load()
		if err != nil {
			return err
		}

		det, err := detect.New(pol, manifest.NewStore(cfg.Paths.Ops), logger)
		if err != nil {
			return err
		}
		proposals, err := det.Run(snap)
		if err != nil {
			return err
		}
		if len(proposals) > 0 {
			if err := store.Commit(snap); err != nil {
				return err
			}
		}

		if len(proposals) == 0 {
			fmt.Println("no entities flagged")
			return nil
		}
		out, _ := json.MarshalIndent(proposals, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}
