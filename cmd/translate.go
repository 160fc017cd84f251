package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/arin/chatstream/internal/stream"
	"github.com/arin/chatstream/internal/ui"
)

var translateTo string

var translateCmd = &cobra.Command{
	Use:   "translate [text]",
	Short: "Translate text, streaming the result",
	Long: `Translate text into another language. The text comes from the
arguments or from stdin.

Examples:
  chatstream translate --to French "where is the train station?"
  cat notes.md | chatstream translate --to Japanese`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			text = readStdin()
		}
		if text == "" {
			return fmt.Errorf("nothing to translate\n\nUsage: chatstream translate --to <language> <text>")
		}

		s, err := newSession()
		if err != nil {
			return err
		}

		sp := ui.NewSpinner("Translating...")
		sp.Start()
		started := time.Now()
		var ttft time.Duration
		printed := 0
		final := ""

		err = s.client.Translate(cmd.Context(), text, translateTo, func(acc string, complete bool) {
			if sp != nil {
				sp.Stop()
				sp = nil
			}
			if ttft == 0 && acc != "" {
				ttft = time.Since(started)
			}
			if len(acc) > printed {
				fmt.Fprint(os.Stdout, acc[printed:])
				printed = len(acc)
			}
			if complete {
				final = acc
				fmt.Fprintln(os.Stdout)
			}
		})
		if sp != nil {
			sp.Stop()
		}

		res := stream.Result{
			Text:       final,
			StopReason: stream.StopDone,
			Stats:      &stream.Stats{Chars: utf8.RuneCountInString(final), TTFT: ttft, Duration: time.Since(started)},
		}
		if cmd.Context().Err() != nil {
			res.StopReason = stream.StopCancelled
		}
		s.record("translate", res, err)
		return err
	},
}

func init() {
	translateCmd.Flags().StringVarP(&translateTo, "to", "t", "English", "Target language")
}
