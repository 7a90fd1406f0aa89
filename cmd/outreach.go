package main

import (
	"github.com/spf13/cobra"
)

var outreachCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Run one rate-limited first-touch outreach pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "outreach")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.orchestrator().Run(cmd.Context(), nil)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), summary)
	},
}

func init() {
	rootCmd.AddCommand(outreachCmd)
}
