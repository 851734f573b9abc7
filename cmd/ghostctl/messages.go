package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-im/ghost/client"
	"github.com/nexus-im/ghost/store/message"
)

var (
	sendFile string
	sendJSON bool

	historyJSON bool
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)

	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "attach an image or video")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "output raw JSON")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output raw JSON")
}

var sendCmd = &cobra.Command{
	Use:   "send <user-id> [text...]",
	Short: "Send a direct message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultTimeout)
		defer cancel()

		params := client.SendParams{ReceiverID: args[0], Text: strings.Join(args[1:], " ")}
		var msg *message.Message
		if sendFile != "" {
			msg, err = sendAttachment(ctx, s, params, sendFile)
		} else {
			msg, err = s.API().SendMessage(ctx, params)
		}
		if err != nil {
			return err
		}
		if sendJSON {
			return printJSON(cmd.OutOrStdout(), msg)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", msg.ID)
		return nil
	},
}

func sendAttachment(ctx context.Context, s *client.Session, p client.SendParams, path string) (*message.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.API().SendFile(ctx, p, filepath.Base(path), contentType, f)
}

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Print the conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultTimeout)
		defer cancel()

		tl, err := s.OpenWith(ctx, args[0])
		if err != nil {
			return err
		}
		if historyJSON {
			return printJSON(cmd.OutOrStdout(), tl.Messages())
		}
		for _, m := range tl.Messages() {
			printMessage(cmd.OutOrStdout(), s.UserID(), m)
		}
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <message-id> <text...>",
	Short: "Edit one of your messages",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultTimeout)
		defer cancel()
		msg, err := s.Edit(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Edited %s (v%d)\n", msg.ID, msg.Version)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultTimeout)
		defer cancel()
		msg, err := s.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", msg.ID)
		return nil
	},
}

func printMessage(w io.Writer, self string, m message.Message) {
	who := m.SenderID
	if who == self {
		who = "you"
	}
	body := m.Text
	switch {
	case m.Deleted:
		body = "(deleted)"
	case m.Media != nil && body == "":
		body = fmt.Sprintf("[%s] %s", m.Media.Kind, m.Media.URL)
	case m.Media != nil:
		body = fmt.Sprintf("%s [%s] %s", body, m.Media.Kind, m.Media.URL)
	}
	if m.Edited && !m.Deleted {
		body += " (edited)"
	}
	fmt.Fprintf(w, "%s  %-10s %s  %s\n", m.CreatedAt.Local().Format(time.Kitchen), who, body, m.ID)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
