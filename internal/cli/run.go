package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MYNTIST-IAM/IAM/internal/runner"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full pipeline pass",
	Long:  "Loads the ledgers, scores every token and agent, recomputes product health, validates referential integrity, flags persistently degraded entities, commits the ledgers, and writes reports and alerts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := runner.New(cfg, logger).Run()
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(sum, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}
