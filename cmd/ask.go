package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arin/chatstream/internal/ui"
)

// maxStdin caps piped input so the prompt stays within typical context windows.
const maxStdin = 16000

func ask(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	input := readStdin()
	if question == "" && input == "" {
		return fmt.Errorf("please ask a question\n\nUsage: chatstream <question>\nExample: chatstream what does errgroup.SetLimit do")
	}

	s, err := newSession()
	if err != nil {
		return err
	}

	prompt := question
	switch {
	case input != "" && question != "":
		prompt = question + "\n\n" + input
	case input != "":
		prompt = input
	}

	r := &ui.StreamRenderer{Out: os.Stdout, Notices: os.Stderr}
	if !noSpinner {
		r.Spinner = ui.NewSpinner("Thinking...")
		r.Spinner.Start()
	}
	res, err := r.Render(s.client.Ask(cmd.Context(), prompt))
	s.record("ask", res, err)
	if err != nil {
		return err
	}

	if verbosity > 0 && res.Usage != nil {
		dim := color.New(color.FgHiBlack)
		approx := ""
		if res.Usage.Estimated {
			approx = "~"
		}
		dim.Fprintf(os.Stderr, "  %s%d prompt + %s%d completion tokens", approx, res.Usage.PromptTokens, approx, res.Usage.CompletionTokens)
		if res.Stats != nil {
			dim.Fprintf(os.Stderr, ", first token after %s", res.Stats.TTFT.Round(time.Millisecond))
		}
		fmt.Fprintln(os.Stderr)
	}
	return nil
}

// readStdin reads piped input if available.
func readStdin() string {
	info, err := os.Stdin.Stat()
	if err != nil {
		return ""
	}
	// Check if data is being piped in (not a terminal).
	if (info.Mode() & os.ModeCharDevice) != 0 {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxStdin+1))
	if err != nil {
		return ""
	}
	s := strings.TrimSpace(string(data))
	if len(s) > maxStdin {
		s = strings.ToValidUTF8(s[:maxStdin], "") + "\n... (truncated)"
	}
	return s
}
