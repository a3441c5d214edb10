package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MYNTIST-IAM/IAM/internal/health"
	"github.com/MYNTIST-IAM/IAM/internal/ledger"
)

var aggregateCommit bool

func init() {
	aggregateCmd.Flags().BoolVar(&aggregateCommit, "commit", false, "write updated health back to the product ledger")
	rootCmd.AddCommand(aggregateCmd)
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute product health from current scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := ledger.NewStore(cfg.Paths.TokenLedger, cfg.Paths.AgentLedger, cfg.Paths.ProductLedger)
		snap, err := store.Load()
		if err != nil {
			return err
		}

		results := health.NewAggregator().Aggregate(snap)

		if aggregateCommit {
			if err := store.CommitProducts(snap); err != nil {
				return err
			}
		}

		out, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}
