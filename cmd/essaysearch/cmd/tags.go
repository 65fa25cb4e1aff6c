package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/james-andrews-coulter/essay-search-engine/internal/session"
)

func newTagsCmd() *cobra.Command {
	var prefix string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List dataset tags",
		Long:  `List the distinct tags in the cached dataset with chunk counts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTags(cmd.Context(), cmd, prefix, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Only show tags with this prefix")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output tags as JSON")

	return cmd
}

func runTags(ctx context.Context, cmd *cobra.Command, prefix string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sess := session.New(cfg, slog.Default())
	defer func() { _ = sess.Close() }()

	if err := sess.Load(ctx, nil); err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	idx, err := sess.Tags()
	if err != nil {
		return err
	}

	tags := idx.All()
	if prefix != "" {
		tags = idx.WithPrefix(prefix)
	}

	if jsonOutput {
		type tagCount struct {
			Tag   string `json:"tag"`
			Count int    `json:"count"`
		}
		counts := make([]tagCount, len(tags))
		for i, tag := range tags {
			counts[i] = tagCount{Tag: tag, Count: idx.Count(tag)}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(counts)
	}

	out := cmd.OutOrStdout()
	if len(tags) == 0 {
		fmt.Fprintln(out, "No tags found")
		return nil
	}
	for _, tag := range tags {
		fmt.Fprintf(out, "%-24s %d\n", tag, idx.Count(tag))
	}
	return nil
}
