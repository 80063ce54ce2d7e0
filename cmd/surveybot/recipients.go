package main

import (
	"fmt"
	"os"
	"strings"

	"surveybot/internal/domain"
	"surveybot/internal/recipient"

	"github.com/spf13/cobra"
)

func recipientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipients",
		Short: "Manage the recipient file the survey enrolls from",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [id] [name...]",
		Short: "Queue a recipient (e.g. recipients add 5215550001 Ana López)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadOrDefaults()
			r := domain.Recipient{
				ConversationID: args[0],
				Name:           strings.Join(args[1:], " "),
			}
			if err := recipient.NewFileSource(cfg.Recipients.Path).Append(r); err != nil {
				return err
			}
			logger.Info("recipient queued", "chat", r.ConversationID, "file", cfg.Recipients.Path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print recipients not yet enrolled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadOrDefaults()
			pending, err := recipient.NewFileSource(cfg.Recipients.Path).Load()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(os.Stderr, "no pending recipients")
				return nil
			}
			return recipient.FormatRecipients(os.Stdout, pending)
		},
	})

	return cmd
}
