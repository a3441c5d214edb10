package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/scoring"
)

var scoreCommit bool

func init() {
	scoreCmd.Flags().BoolVar(&scoreCommit, "commit", false, "write updated scores back to the ledgers")
	rootCmd.AddCommand(scoreCmd)
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score tokens and agents",
	Long:  "Computes survivability scores for every token and agent. By default the result is printed without touching the ledgers; --commit persists the updated scores and histories.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := ledger.NewStore(cfg.Paths.TokenLedger, cfg.Paths.AgentLedger, cfg.Paths.ProductLedger)
		snap, err := store.Load()
		if err != nil {
			return err
		}

		eng := scoring.NewEngine()
		results := eng.ScoreTokens(snap)
		results = append(results, eng.ScoreAgents(snap)...)

		if scoreCommit {
			if err := store.Commit(snap); err != nil {
				return err
			}
		}

		out, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}
