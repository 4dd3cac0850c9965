package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enact-ai/enact/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check <policy-file>",
	Short: "Validate a policy file",
	Long: `Parse a YAML or JSON policy file and compile its rules, reporting
the first invalid pattern or action. Exits non-zero on failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.LoadPolicyFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d rules, default_allow=%t\n", args[0], len(p.Rules()), p.DefaultAllow())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
