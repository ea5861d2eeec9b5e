package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/soyeahso/lucai/internal/consumer"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var api apiFlags

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the conversation history grouped by day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, user, err := api.client()
			if err != nil {
				return err
			}
			days, err := client.Days(cmd.Context(), user)
			if consumer.IsNotFound(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
				return nil
			}
			if err != nil {
				return err
			}
			printDays(cmd.OutOrStdout(), days)
			return nil
		},
	}

	api.register(cmd)
	return cmd
}

// printDays renders day buckets newest first with local clock times.
func printDays(w io.Writer, days consumer.DaysResponse) {
	loc, err := time.LoadLocation(days.Timezone)
	if err != nil {
		loc = time.Local
	}
	for i, day := range days.Days {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "── %s ──\n", day.Key)
		for _, turn := range day.Turns {
			at := turn.Timestamp.In(loc).Format("15:04")
			fmt.Fprintf(w, "[%s] you:   %s\n", at, turn.UserMessage)
			fmt.Fprintf(w, "        lucai: %s\n", indent(turn.AIResponse, "               "))
		}
	}
}

func indent(s, prefix string) string {
	return strings.ReplaceAll(s, "\n", "\n"+prefix)
}

func newContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Read or replace what LucAI remembers about a user",
	}
	cmd.AddCommand(newContextGetCmd())
	cmd.AddCommand(newContextSetCmd())
	return cmd
}

func newContextGetCmd() *cobra.Command {
	var api apiFlags
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the long-term context object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, user, err := api.client()
			if err != nil {
				return err
			}
			tr, err := client.History(cmd.Context(), user)
			if consumer.IsNotFound(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "{}")
				return nil
			}
			if err != nil {
				return err
			}
			var pretty any
			if err := json.Unmarshal(tr.LongTermContext, &pretty); err != nil {
				return err
			}
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	api.register(cmd)
	return cmd
}

func newContextSetCmd() *cobra.Command {
	var api apiFlags
	cmd := &cobra.Command{
		Use:   "set <json-object>",
		Short: "Replace the long-term context object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[0])) {
				return fmt.Errorf("argument is not valid JSON")
			}
			client, user, err := api.client()
			if err != nil {
				return err
			}
			if err := client.SetContext(cmd.Context(), user, json.RawMessage(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Context updated for %s\n", user)
			return nil
		},
	}
	api.register(cmd)
	return cmd
}
