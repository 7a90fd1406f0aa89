package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-engine/internal/discovery"
)

var (
	discoverIndustry string
	discoverCountry  string
	discoverLimit    int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find, score and store new prospects",
	Long:  "Queries every configured source, normalizes and deduplicates the candidates, ranks them and stores the survivors as new prospects.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if discoverIndustry == "" || discoverCountry == "" {
			return eris.New("--industry and --country are required")
		}

		env, err := initEnv(cmd.Context(), "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.discovery().Discover(cmd.Context(), discovery.Params{
			Industry: discoverIndustry,
			Country:  discoverCountry,
			Limit:    discoverLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverIndustry, "industry", "", "target industry")
	discoverCmd.Flags().StringVar(&discoverCountry, "country", "", "target country")
	discoverCmd.Flags().IntVar(&discoverLimit, "limit", 0, "max prospects to store (default from config)")
	rootCmd.AddCommand(discoverCmd)
}
