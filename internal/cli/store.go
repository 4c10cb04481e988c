package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raaihank/screen-tutor/internal/history"
)

var flagLimit int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the answer cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all cached answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		c := a.openCache()
		if c == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Cache is disabled.")
			return nil
		}
		if err := c.Clear(cmd.Context()); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
		return nil
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		c := a.openCache()
		if c == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Cache is disabled.")
			return nil
		}
		stats, err := c.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading cache stats: %w", err)
		}
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if !a.config.History.Enabled {
			fmt.Fprintln(cmd.OutOrStdout(), "History is disabled.")
			return nil
		}
		store := a.openHistory()
		if store == nil {
			return errors.New("history database unavailable")
		}

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		recent, err := store.Recent(cmd.Context(), flagLimit)
		if err != nil {
			return err
		}

		writeHistory(cmd.OutOrStdout(), stats, recent)
		return nil
	},
}

func writeHistory(w io.Writer, stats *history.Stats, recent []history.Analysis) {
	fmt.Fprintf(w, "Analyses: %d (%d distinct texts)\n", stats.TotalAnalyses, stats.DistinctTexts)
	if stats.LastAnalysis != nil {
		fmt.Fprintf(w, "Last:     %s\n", stats.LastAnalysis.Format(time.RFC3339))
	}

	for _, a := range recent {
		fmt.Fprintf(w, "\n#%d  %s  %s\n", a.ID, a.CreatedAt.Format("2006-01-02 15:04"), a.Model)
		fmt.Fprintf(w, "    %s\n", firstLine(a.RedactedText, 80))
		fmt.Fprintf(w, "    -> %s\n", firstLine(a.Answer, 80))
	}
}

// firstLine returns the first line of s, cut to n runes
func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	historyCmd.Flags().IntVar(&flagLimit, "limit", 10, "Number of analyses to show")
}
