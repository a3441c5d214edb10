package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MYNTIST-IAM/IAM/internal/integrity"
	"github.com/MYNTIST-IAM/IAM/internal/ledger"
	"github.com/MYNTIST-IAM/IAM/internal/policy"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check ledger integrity and policy validity",
	Long:  "Validates the policy file and every cross-ledger reference. Exits non-zero when anything is broken; changes nothing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := policy.Load(cfg.Paths.Policy); err != nil {
			return err
		}

		store := ledger.NewStore(cfg.Paths.TokenLedger, cfg.Paths.AgentLedger, cfg.Paths.ProductLedger)
		snap, err := store.Load()
		if err != nil {
			return err
		}

		rep := integrity.Check(snap)
		if rep.Clean() {
			fmt.Println("ok")
			return nil
		}

		out, _ := json.MarshalIndent(rep, "", "  ")
		fmt.Println(string(out))
		return fmt.Errorf("%d integrity findings", len(rep.Findings))
	},
}
