package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var outboxOnce bool

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Deliver queued notifications",
	Long:  "Polls the notification outbox and delivers pending entries through the channel registry. With --once a single batch is processed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "outbox")
		if err != nil {
			return err
		}
		defer env.Close()

		d := env.dispatcher()
		if outboxOnce {
			res, err := d.Tick(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}
		return d.Run(ctx)
	},
}

func init() {
	outboxCmd.Flags().BoolVar(&outboxOnce, "once", false, "process one batch and exit")
	rootCmd.AddCommand(outboxCmd)
}
