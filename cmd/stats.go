package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arin/chatstream/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show streaming statistics",
	Long: `Display a dashboard of your chatstream usage: stream counts, success
rates, time to first token, generation speed and most-used models.

Data is collected automatically and stored locally in ~/.chatstream/stats.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := stats.Summarize()
		if err != nil {
			return fmt.Errorf("failed to load stats: %w", err)
		}

		cyan := color.New(color.FgCyan, color.Bold)
		green := color.New(color.FgGreen)
		yellow := color.New(color.FgYellow)
		dim := color.New(color.FgHiBlack)

		cyan.Fprintf(os.Stderr, "\n  📊 chatstream stats\n\n")

		if summary.TotalStreams == 0 {
			dim.Fprintln(os.Stderr, "  No data yet. Ask a few questions and come back.")
			fmt.Fprintln(os.Stderr)
			return nil
		}

		// Overview
		green.Fprintf(os.Stderr, "  Streams:   ")
		fmt.Fprintf(os.Stderr, "%d total", summary.TotalStreams)
		dim.Fprintf(os.Stderr, "  (%d today, %d this week)\n", summary.TodayCount, summary.ThisWeekCount)

		green.Fprintf(os.Stderr, "  Success:   ")
		if summary.SuccessRate >= 90 {
			fmt.Fprintf(os.Stderr, "%.0f%%", summary.SuccessRate)
		} else {
			yellow.Fprintf(os.Stderr, "%.0f%%", summary.SuccessRate)
		}
		if summary.CancelledCount > 0 {
			dim.Fprintf(os.Stderr, "  (%d cancelled)", summary.CancelledCount)
		}
		fmt.Fprintln(os.Stderr)

		// Latency
		green.Fprintf(os.Stderr, "  TTFT:      ")
		fmt.Fprintf(os.Stderr, "%dms avg\n", summary.AvgTTFTMs)
		green.Fprintf(os.Stderr, "  Latency:   ")
		fmt.Fprintf(os.Stderr, "%dms avg\n", summary.AvgLatencyMs)
		if summary.TokensPerSecond > 0 {
			green.Fprintf(os.Stderr, "  Speed:     ")
			fmt.Fprintf(os.Stderr, "%.1f tokens/s\n", summary.TokensPerSecond)
		}
		green.Fprintf(os.Stderr, "  Tokens:    ")
		fmt.Fprintf(os.Stderr, "%d\n", summary.TotalTokens)
		if summary.WebSearchCount > 0 {
			green.Fprintf(os.Stderr, "  Searches:  ")
			fmt.Fprintf(os.Stderr, "%d answers with sources\n", summary.WebSearchCount)
		}

		// Provider breakdown
		if len(summary.ProviderBreakdown) > 0 {
			fmt.Fprintln(os.Stderr)
			cyan.Fprintln(os.Stderr, "  Providers")
			for _, p := range sortedKeys(summary.ProviderBreakdown) {
				count := summary.ProviderBreakdown[p]
				pct := float64(count) / float64(summary.TotalStreams) * 100
				bar := strings.Repeat("█", int(pct/5))
				dim.Fprintf(os.Stderr, "  %-12s ", p)
				fmt.Fprintf(os.Stderr, "%s %d (%.0f%%)\n", bar, count, pct)
			}
		}

		// Subcommand breakdown
		if len(summary.SubcmdBreakdown) > 0 {
			fmt.Fprintln(os.Stderr)
			cyan.Fprintln(os.Stderr, "  Subcommands")
			for _, sub := range sortedKeys(summary.SubcmdBreakdown) {
				dim.Fprintf(os.Stderr, "  %-14s ", sub)
				fmt.Fprintf(os.Stderr, "%d\n", summary.SubcmdBreakdown[sub])
			}
		}

		// Top models
		if len(summary.TopModels) > 0 {
			fmt.Fprintln(os.Stderr)
			cyan.Fprintln(os.Stderr, "  Top Models")
			for i, tm := range summary.TopModels {
				name := tm.Model
				if len(name) > 50 {
					name = name[:50] + "..."
				}
				dim.Fprintf(os.Stderr, "  %d. ", i+1)
				fmt.Fprintf(os.Stderr, "%s ", name)
				dim.Fprintf(os.Stderr, "(%dx)\n", tm.Count)
			}
		}

		fmt.Fprintln(os.Stderr)
		return nil
	},
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
