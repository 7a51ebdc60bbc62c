package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/marketcrawler/internal/budget"
	"github.com/nao1215/marketcrawler/internal/config"
	"github.com/nao1215/marketcrawler/internal/database"
	"github.com/nao1215/marketcrawler/internal/state"
)

// NewStateCmd creates the state command.
func NewStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <market>",
		Short: "Show the crawl progress of a market",
		Long: `State prints where the next crawl of a market resumes and how many
pages are stored.

For every category it shows the anchor path, the next page to fetch and
when the category last finished without new listings. Page counts are
split into fetched pages, pending placeholders and placeholders that ran
out of attempts.

Examples:
  # Show the progress of a market
  marketcrawler state bazaar

  # Include the 20 most recent request outcomes
  marketcrawler state --outcomes 20 bazaar

  # Machine-readable output
  marketcrawler state --json bazaar`,
		Args: cobra.ExactArgs(1),
		RunE: runStateCmd,
	}

	cmd.Flags().String("data-dir", config.XDGDataDir(), "Directory holding the crawl state")
	cmd.Flags().String("db-dir", config.XDGDataDir(), "Directory holding the SQLite database")
	cmd.Flags().IntP("outcomes", "n", 0, "Also list the most recent request outcomes")
	cmd.Flags().BoolP("json", "j", false, "Output in JSON format")

	return cmd
}

// marketState is everything the state command reports about a market.
type marketState struct {
	Market     string                    `json:"market"`
	StateFile  string                    `json:"state_file"`
	Categories map[string][]state.Status `json:"categories"`
	Counts     []database.ModelCount     `json:"counts"`
	Outcomes   []budget.Outcome          `json:"outcomes,omitempty"`
}

func runStateCmd(cmd *cobra.Command, args []string) error {
	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return err
	}
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("outcomes")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	db, err := database.Open(dbDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ms, err := loadMarketState(cmd.Context(), db, dataDir, args[0], limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ms)
	}
	printMarketState(cmd.OutOrStdout(), ms)
	return nil
}

func loadMarketState(ctx context.Context, db *database.CrawlDB, dataDir, market string, limit int) (*marketState, error) {
	st, err := state.New(dataDir, market)
	if err != nil {
		return nil, err
	}
	categories, err := st.Categories()
	if err != nil {
		return nil, fmt.Errorf("failed to read crawl state: %w", err)
	}
	counts, err := db.Counts(ctx, market)
	if err != nil {
		return nil, err
	}

	ms := &marketState{
		Market:     market,
		StateFile:  st.File(),
		Categories: categories,
		Counts:     counts,
	}
	if limit > 0 {
		if ms.Outcomes, err = db.Outcomes(ctx, limit); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

func printMarketState(w io.Writer, ms *marketState) {
	fmt.Fprintf(w, "Market: %s\n", ms.Market)
	fmt.Fprintf(w, "State:  %s\n\n", ms.StateFile)

	if len(ms.Categories) == 0 {
		fmt.Fprintln(w, "No categories crawled yet.")
	} else {
		fmt.Fprintf(w, "Categories (%d):\n\n", len(ms.Categories))
		for _, name := range slices.Sorted(maps.Keys(ms.Categories)) {
			fmt.Fprintf(w, "  %s\n", name)
			for _, s := range ms.Categories[name] {
				last := "never"
				if s.LastCrawl != nil {
					last = s.LastCrawl.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "    %-30s next: %-30s finished: %s\n", s.Path, s.Target(), last)
			}
		}
	}

	fmt.Fprintln(w)
	if len(ms.Counts) == 0 {
		fmt.Fprintln(w, "No pages stored yet.")
	} else {
		fmt.Fprintf(w, "  %-12s  %8s  %8s  %9s\n", "Model", "Fetched", "Pending", "Exhausted")
		fmt.Fprintln(w, "  "+strings.Repeat("-", 44))
		for _, c := range ms.Counts {
			fmt.Fprintf(w, "  %-12s  %8d  %8d  %9d\n", c.Model, c.Fetched, c.Pending, c.Exhausted)
		}
	}

	if len(ms.Outcomes) == 0 {
		return
	}
	fmt.Fprintf(w, "\nRecent outcomes (%d):\n\n", len(ms.Outcomes))
	for _, o := range ms.Outcomes {
		fmt.Fprintf(w, "  %s  %3d  %-12s  %8s  %s\n",
			o.Timestamp.Format("2006-01-02 15:04:05"), o.StatusCode, o.Budget, o.RespondTime, o.URL)
	}
}
