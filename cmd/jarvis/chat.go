package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-jarvis/pkg/core/turn"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

func chatCmd(o *rootOptions) *cobra.Command {
	var (
		conversationID string
		remember       bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Long: `Starts an interactive chat. Replies stream as they arrive.

Commands: /new starts a fresh conversation, /memory folds the current
conversation into long-term memory, /exit quits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := openApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			s := &chatSession{
				turns:  a.turns,
				prefs:  a.stores.Preferences,
				out:    o.stdout,
				name:   cfg.PersonaName,
				convID: conversationID,
			}
			if err := s.loop(ctx, cmd.InOrStdin()); err != nil {
				return err
			}
			if remember && s.convID != "" {
				if _, err := a.turns.RefreshMemory(context.WithoutCancel(ctx), s.convID); err != nil {
					logger.Warn("memory update failed", "error", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation")
	cmd.Flags().BoolVar(&remember, "remember", true, "update long-term memory on exit")
	return cmd
}

type chatTurns interface {
	Run(ctx context.Context, req turn.Request) (*turn.Result, error)
	RefreshMemory(ctx context.Context, conversationID string) (string, error)
}

type chatSession struct {
	turns  chatTurns
	prefs  turn.PreferenceStore
	out    io.Writer
	name   string
	convID string
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(s.out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/exit", "/quit":
			return nil
		case "/new":
			s.convID = ""
			fmt.Fprintln(s.out, "(new conversation)")
		case "/memory":
			if s.convID == "" {
				fmt.Fprintln(s.out, "(nothing to remember yet)")
				break
			}
			mem, err := s.turns.RefreshMemory(ctx, s.convID)
			if err != nil {
				fmt.Fprintf(s.out, "memory update failed: %v\n", err)
				break
			}
			fmt.Fprintf(s.out, "(memory)\n%s\n", mem)
		default:
			if err := s.send(ctx, line); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(s.out, "> ")
	}
	return scanner.Err()
}

// send runs one turn, printing text as it grows. A reply that is replaced
// rather than extended (a failure message) is printed whole on a new line.
func (s *chatSession) send(ctx context.Context, prompt string) error {
	prefs := types.PreferencesFromMap(nil)
	if s.prefs != nil {
		p, err := s.prefs.Load(ctx)
		if err != nil {
			return err
		}
		prefs = p
	}

	fmt.Fprintf(s.out, "%s: ", s.name)
	printed := ""
	res, err := s.turns.Run(ctx, turn.Request{
		ConversationID: s.convID,
		Prompt:         prompt,
		Preferences:    prefs,
		OnUpdate: func(m types.Message) {
			if rest, ok := strings.CutPrefix(m.Text, printed); ok {
				fmt.Fprint(s.out, rest)
			} else {
				fmt.Fprintf(s.out, "\n%s", m.Text)
			}
			printed = m.Text
		},
	})
	fmt.Fprintln(s.out)
	if err != nil {
		return err
	}
	s.convID = res.Conversation.ID

	printMessageExtras(s.out, res.Message)
	return nil
}

func printMessageExtras(w io.Writer, m types.Message) {
	for i, src := range m.Sources {
		title := src.Title
		if title == "" {
			title = src.URI
		}
		fmt.Fprintf(w, "  [%d] %s (%s)\n", i+1, title, src.URI)
	}
	for _, a := range m.Actions {
		fmt.Fprintf(w, "  * %s: %s\n", a.Name, a.Result)
	}
	if m.Image != nil {
		fmt.Fprintf(w, "  (image: %s, %d bytes)\n", m.Image.MIMEType, len(m.Image.Data))
	}
}
