package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-jarvis/pkg/core/types"
	"github.com/vango-go/vai-jarvis/pkg/store"
)

func conversationsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect stored conversations",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, _, err := openStores(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer stores.Close()
			convs, err := stores.Conversations.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printConversationList(o.stdout, convs)
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of conversations")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, cfg, err := openStores(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer stores.Close()
			conv, err := stores.Conversations.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printConversation(o.stdout, conv, cfg.PersonaName)
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func printConversationList(w io.Writer, convs []types.Conversation) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tTITLE")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.UpdatedAt.Local().Format(time.DateTime), c.Title)
	}
	return tw.Flush()
}

func printConversation(w io.Writer, c *types.Conversation, botName string) {
	fmt.Fprintf(w, "%s\n\n", c.Title)
	for _, m := range c.Messages {
		who := "You"
		if m.Sender == types.SenderBot {
			who = botName
		}
		fmt.Fprintf(w, "%s: %s\n", who, m.Text)
		printMessageExtras(w, m)
	}
}

func prefsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read or change preferences",
	}

	get := &cobra.Command{
		Use:   "get [key]",
		Short: "Print one preference, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, _, err := openStores(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer stores.Close()
			return printPreferences(cmd, o.stdout, stores, args)
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a preference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, _, err := openStores(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer stores.Close()
			return stores.Preferences.Save(cmd.Context(), args[0], args[1])
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}

func printPreferences(cmd *cobra.Command, w io.Writer, stores *store.Stores, args []string) error {
	kv, err := stores.Preferences.All(cmd.Context())
	if err != nil {
		return err
	}
	if len(args) == 1 {
		if !types.IsPreferenceKey(args[0]) {
			return fmt.Errorf("unknown preference %q", args[0])
		}
		fmt.Fprintln(w, kv[args[0]])
		return nil
	}
	keys := append([]string(nil), types.PreferenceKeys...)
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%s\n", k, kv[k])
	}
	return nil
}
