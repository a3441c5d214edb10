package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MYNTIST-IAM/IAM/internal/runner"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Seed tokens from the organization directory",
	Long:  "Reads the member directory (a local JSON file, or an HTTP endpoint when directory.url is configured) and creates a token for every member that has none. Existing tokens are never modified.",
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := runner.New(cfg, logger).Sync()
		if err != nil {
			return err
		}
		if len(created) == 0 {
			fmt.Println("ledger already covers every member")
			return nil
		}
		for _, id := range created {
			fmt.Printf("seeded %s\n", id)
		}
		return nil
	},
}
