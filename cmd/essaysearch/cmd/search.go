package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/james-andrews-coulter/essay-search-engine/internal/rank"
	"github.com/james-andrews-coulter/essay-search-engine/internal/session"
	"github.com/james-andrews-coulter/essay-search-engine/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	tags   []string
	page   int
	format string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the cached essay library",
		Long: `Search the cached essay library from the command line.

With a query, runs the dense-vector variant (falling back to boosted
keyword search when no embedder is available). Without a query, browses
chunks in manifest order, optionally filtered by tag.

Examples:
  essaysearch search "dealing with anxiety"
  essaysearch search "travel" --tags philosophy --page 2
  essaysearch search --tags calm
  essaysearch search "melancholy" --format json`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if query == "" && len(opts.tags) == 0 {
				return fmt.Errorf("provide a query or at least one --tags filter")
			}
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.tags, "tags", "t", nil, "Filter by tag (repeatable)")
	cmd.Flags().IntVarP(&opts.page, "page", "p", 1, "Result page")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sess := session.New(cfg, slog.Default())
	defer func() { _ = sess.Close() }()

	// First run downloads the dataset; afterwards this is instant and
	// works offline.
	if err := sess.Load(ctx, nil); err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	results, err := sess.Search(ctx, rank.Query{
		Text: query,
		Tags: opts.tags,
		Page: opts.page,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	switch opts.format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	default:
		return formatResults(cmd, query, results, cfg.Ranking.PageSize)
	}
}

// formatResults renders a result page as text.
func formatResults(cmd *cobra.Command, query string, results *rank.Results, pageSize int) error {
	out := cmd.OutOrStdout()
	styles := ui.GetStyles(noColor || !ui.IsTTY(out))

	if results.TotalHits == 0 {
		if query != "" {
			fmt.Fprintf(out, "No results for %q\n", query)
		} else {
			fmt.Fprintln(out, "No chunks match the given tags")
		}
		return nil
	}

	header := fmt.Sprintf("%d results (page %d/%d, %s variant)",
		results.TotalHits, results.Page, results.TotalPages, results.Variant)
	fmt.Fprintln(out, styles.Header.Render(header))
	fmt.Fprintln(out)

	base := (results.Page - 1) * pageSize
	for i, hit := range results.Hits {
		title := fmt.Sprintf("%d. %s — %s", base+i+1, hit.Chunk.BookTitle, hit.Chunk.ChapterTitle)
		fmt.Fprintln(out, styles.Active.Render(title))

		meta := fmt.Sprintf("   score %.3f", hit.Score)
		if hit.Chunk.Tags != "" {
			meta += "  [" + hit.Chunk.Tags + "]"
		}
		fmt.Fprintln(out, styles.Label.Render(meta))

		for _, line := range snippet(hit.Chunk.Content, 2) {
			fmt.Fprintln(out, styles.Dim.Render("   "+line))
		}
		fmt.Fprintln(out)
	}

	if results.Page < results.TotalPages {
		fmt.Fprintln(out, styles.Dim.Render(fmt.Sprintf("more: --page %d", results.Page+1)))
	}
	return nil
}

// snippet returns the first n non-empty lines of content.
func snippet(content string, n int) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, trimmed)
		if len(lines) == n {
			break
		}
	}
	return lines
}
