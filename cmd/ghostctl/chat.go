package main

import (
	"bufio"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nexus-im/ghost/client"
	"github.com/nexus-im/ghost/store/message"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <user-id>",
	Short: "Open an interactive conversation",
	Long: "Open a live conversation. Type a line to send it.\n" +
		"Commands: /edit <message-id> <text>, /delete <message-id>, /quit",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tl, err := s.OpenWith(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		p := newPrinter(out, s.UserID())
		p.render(tl.Messages())

		s.OnUpdate(func(u client.Update) {
			if u.ConversationID == tl.ConversationID() {
				p.render(tl.Messages())
			}
		})
		go func() {
			if err := s.Connect(ctx, client.RealtimeConfig{}); err != nil && ctx.Err() == nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "live updates stopped: %v\n", err)
			}
		}()

		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := runChatLine(cmd, s, tl.ConversationID(), line); quit {
					return nil
				}
			}
		}
	},
}

// runChatLine executes one line of input and reports whether to exit.
func runChatLine(cmd *cobra.Command, s *client.Session, conversationID, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	ctx := cmd.Context()
	var err error
	switch {
	case line == "/quit":
		return true
	case strings.HasPrefix(line, "/edit "):
		id, text, _ := strings.Cut(strings.TrimPrefix(line, "/edit "), " ")
		_, err = s.Edit(ctx, id, text)
	case strings.HasPrefix(line, "/delete "):
		_, err = s.Delete(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/delete ")))
	default:
		_, err = s.Send(ctx, conversationID, line)
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
	}
	return false
}

// printer writes each message once per version.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	self    string
	printed map[string]int64
}

func newPrinter(w io.Writer, self string) *printer {
	return &printer{w: w, self: self, printed: make(map[string]int64)}
}

func (p *printer) render(msgs []message.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if strings.HasPrefix(m.ID, client.PendingPrefix) {
			continue
		}
		if v, ok := p.printed[m.ID]; ok && v >= m.Version {
			continue
		}
		p.printed[m.ID] = m.Version
		printMessage(p.w, p.self, m)
	}
}
