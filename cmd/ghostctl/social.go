package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus-im/ghost/client"
)

var (
	contactsJSON      bool
	notificationsJSON bool
	notificationsRead string
)

func init() {
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(notificationsCmd)

	contactsCmd.Flags().BoolVar(&contactsJSON, "json", false, "output raw JSON")
	notificationsCmd.Flags().BoolVar(&notificationsJSON, "json", false, "output raw JSON")
	notificationsCmd.Flags().StringVar(&notificationsRead, "read", "", "mark the notification with this ID as read")
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List contacts, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultTimeout)
		defer cancel()
		if err := s.Start(ctx); err != nil {
			return err
		}
		list := s.Contacts().List()
		if contactsJSON {
			return printJSON(cmd.OutOrStdout(), list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
		}
		for _, c := range list {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", c.UserID, c.LastActivity.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List recent notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultTimeout)
		defer cancel()

		if notificationsRead != "" {
			if err := s.MarkRead(ctx, notificationsRead); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as read\n", notificationsRead)
			return nil
		}

		if err := s.Start(ctx); err != nil {
			return err
		}
		notes := s.Notifications()
		if notificationsJSON {
			return printJSON(cmd.OutOrStdout(), notes)
		}
		for _, n := range notes {
			mark := "*"
			if n.Read {
				mark = " "
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %-8s %-8s post %s  %s\n", mark, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.SenderID, n.Kind, n.PostID, n.ID)
		}
		return nil
	},
}
