package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vitalhub/topicsync/internal/store"
	"github.com/vitalhub/topicsync/internal/topic"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Inspect the topic knowledge base",
	Long:  "Commands for listing, searching, and viewing stored topics.",
}

// -- topics list --

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		typeFilter, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		topics, err := env.catalog.List(ctx, store.ListParams{Type: typeFilter, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "topics list")
		}

		if len(topics) == 0 {
			fmt.Fprintln(os.Stderr, "No topics found.")
			return nil
		}

		formatTopicList(os.Stdout, topics)
		return nil
	},
}

// -- topics search --

var topicsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search topics by name or summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")

		topics, err := env.catalog.Search(ctx, args[0], store.ListParams{Limit: limit})
		if err != nil {
			return eris.Wrap(err, "topics search")
		}

		if len(topics) == 0 {
			fmt.Fprintln(os.Stderr, "No topics matched.")
			return nil
		}

		formatTopicList(os.Stdout, topics)
		return nil
	},
}

// -- topics get --

var topicsGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one topic as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		t, err := env.catalog.GetByName(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "topics get")
		}
		if t == nil {
			return eris.Errorf("topic %q not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	},
}

func formatTopicList(w io.Writer, topics []*topic.Topic) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tCATEGORY\tVER\tSUMMARY")
	for _, t := range topics {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			t.Name, strOrDash(t.TopicType), strOrDash(t.Category), t.Version, firstLine(t.Summary, 60))
	}
	tw.Flush() //nolint:errcheck
}

func strOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}

func init() {
	topicsListCmd.Flags().String("type", "", "filter by topic type")
	topicsListCmd.Flags().Int("limit", 50, "maximum topics to show")
	topicsSearchCmd.Flags().Int("limit", 50, "maximum topics to show")

	topicsCmd.AddCommand(topicsListCmd, topicsSearchCmd, topicsGetCmd)
	rootCmd.AddCommand(topicsCmd)
}
