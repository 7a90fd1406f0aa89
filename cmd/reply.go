package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-engine/internal/conversion"
	"github.com/sells-group/prospect-engine/internal/model"
)

var replyFlags struct {
	prospectID string
	leadID     string
	text       string
	channel    string
	email      string
	phone      string
	name       string
}

var replyCmd = &cobra.Command{
	Use:   "reply",
	Short: "Feed a reply into the conversion engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(replyFlags.text) == "" {
			return eris.New("--text is required")
		}

		env, err := initEnv(cmd.Context(), "reply")
		if err != nil {
			return err
		}
		defer env.Close()

		conv, err := env.conversion()
		if err != nil {
			return err
		}
		out, err := conv.HandleReply(cmd.Context(), conversion.Reply{
			ProspectID: replyFlags.prospectID,
			LeadID:     replyFlags.leadID,
			Name:       replyFlags.name,
			Email:      replyFlags.email,
			Phone:      replyFlags.phone,
			Channel:    model.Channel(strings.ToLower(replyFlags.channel)),
			Text:       replyFlags.text,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	f := replyCmd.Flags()
	f.StringVar(&replyFlags.prospectID, "prospect-id", "", "prospect the reply came from")
	f.StringVar(&replyFlags.leadID, "lead-id", "", "lead id when there is no prospect")
	f.StringVar(&replyFlags.text, "text", "", "reply text")
	f.StringVar(&replyFlags.channel, "channel", "", "channel the reply arrived on")
	f.StringVar(&replyFlags.email, "email", "", "sender email")
	f.StringVar(&replyFlags.phone, "phone", "", "sender phone")
	f.StringVar(&replyFlags.name, "name", "", "sender name")
	rootCmd.AddCommand(replyCmd)
}
