package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MYNTIST-IAM/IAM/internal/policy"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

var defaultConfigYAML = `# survctl configuration. Every key can also be set via SURV_-prefixed
# environment variables; double underscores separate nesting levels
# (SURV_PATHS__POLICY overrides paths.policy).

log_level: info

# paths:
#   token_ledger: ledgers/tokens.yaml
#   agent_ledger: ledgers/agents.yaml
#   product_ledger: ledgers/products.yaml

# alerting:
#   webhook_url: https://hooks.example.com/surv

# directory:
#   url: https://directory.example.com/members
#   token: ""
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a working directory",
	Long:  "Creates the ledger files, a commented policy, and a commented config in the working directory. Existing files are left alone unless --force is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		files := []struct {
			path    string
			content string
		}{
			{cfg.Paths.TokenLedger, "tokens: []\n"},
			{cfg.Paths.AgentLedger, "agents: []\n"},
			{cfg.Paths.ProductLedger, "products: []\n"},
			{cfg.Paths.Policy, policy.DefaultYAML()},
			{filepath.Join(flagDir, "survctl.yaml"), defaultConfigYAML},
		}

		for _, f := range files {
			if _, err := os.Stat(f.path); err == nil && !initForce {
				fmt.Printf("kept    %s\n", f.path)
				continue
			}
			if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
				return fmt.Errorf("create directory for %s: %w", f.path, err)
			}
			if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", f.path, err)
			}
			fmt.Printf("created %s\n", f.path)
		}

		for _, dir := range []string{cfg.Paths.Ops, cfg.Paths.Reports} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
		return nil
	},
}
