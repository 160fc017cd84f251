package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arin/chatstream/internal/ai"
	"github.com/arin/chatstream/internal/ui"
)

var pullParallel int

var pullCmd = &cobra.Command{
	Use:   "pull <model>...",
	Short: "Download models to the local Ollama server",
	Long: `Download one or more models through Ollama's /api/pull endpoint,
showing progress as layers arrive.

Examples:
  chatstream pull qwen3:8b
  chatstream pull llama3.2 nomic-embed-text --parallel 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Provider != ai.ProviderOllama {
			return fmt.Errorf("pull only works with the ollama provider (current: %s)", cfg.Provider)
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ai.DefaultBaseURL(ai.ProviderOllama)
		}

		printer := ui.NewPullPrinter(os.Stderr, 500*time.Millisecond)
		puller := ai.NewPuller(baseURL, &http.Client{}, ai.Downloads, newLogger())

		// On Ctrl-C, report where each download stopped before the pulls
		// see the cancellation and leave the registry.
		pullCtx, cancelPull := context.WithCancel(context.WithoutCancel(cmd.Context()))
		defer cancelPull()
		stop := context.AfterFunc(cmd.Context(), func() {
			printer.Interrupted(ai.Downloads.Snapshot())
			cancelPull()
		})
		defer stop()

		fmt.Fprintln(os.Stderr)
		err = puller.PullAll(pullCtx, args, pullParallel, printer.Update)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			if cmd.Context().Err() != nil {
				color.New(color.FgYellow).Fprintln(os.Stderr, "  Pull cancelled.")
				return nil
			}
			return err
		}
		return nil
	},
}

func init() {
	pullCmd.Flags().IntVarP(&pullParallel, "parallel", "p", 1, "How many models to download at once")
}
