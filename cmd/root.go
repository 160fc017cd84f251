package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	verbosity int
	noSpinner bool

	flagModel    string
	flagProvider string
	flagURL      string

	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "chatstream [question]",
	Short: "Stream answers from local and hosted LLMs",
	Long: `chatstream talks to Ollama and OpenAI-compatible servers and streams
clean answers to your terminal. Reasoning blocks are hidden, stalls are
reported and every stream ends with exactly one result.

Examples:
  chatstream how do I reverse a slice in go
  chatstream --provider perplexity --model sonar what changed in go 1.25
  git diff | chatstream summarize this change
  chatstream chat
  chatstream pull qwen3:8b`,
	Args:                       cobra.ArbitraryArgs,
	RunE:                       ask,
	SilenceUsage:               true,
	SilenceErrors:              true,
	TraverseChildren:           true,
	SuggestionsMinimumDistance: 1,
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug, -vvv trace)")
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "Model to use for this run")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "Provider to use for this run (ollama, openai, openrouter, perplexity, zhipu, hunyuan)")
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "Base URL of the provider endpoint")
	rootCmd.Flags().BoolVar(&noSpinner, "no-spinner", false, "Don't show a spinner while waiting for the first token")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statsCmd)
}

// SetVersion records the build version shown by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the entry point called from main. Ctrl-C cancels the
// running stream instead of killing the process mid-write.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
