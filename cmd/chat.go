package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arin/chatstream/internal/ai"
	"github.com/arin/chatstream/internal/stream"
	"github.com/arin/chatstream/internal/ui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start a conversational session. Replies stream as they are generated
and context carries over between messages.

Type 'exit' or 'quit' to end the session. Ctrl-C stops the current reply
and ends the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold)
		dim := color.New(color.FgHiBlack)
		green := color.New(color.FgGreen)
		ctx := cmd.Context()

		fmt.Fprintln(os.Stderr)
		cyan.Fprintln(os.Stderr, "  chatstream chat")
		dim.Fprintf(os.Stderr, "  %s via %s. Ask me anything.\n", s.backend.Model(), s.backend.Name())
		dim.Fprintf(os.Stderr, "  Type 'exit' to quit.\n\n")

		scanner := bufio.NewScanner(os.Stdin)
		var history []ai.ChatMessage

		for {
			green.Fprint(os.Stderr, "  you → ")
			if !scanner.Scan() {
				break
			}

			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}
			if input == "exit" || input == "quit" || input == "bye" {
				dim.Fprintf(os.Stderr, "\n  Later! 👋\n\n")
				break
			}

			history = append(history, ai.ChatMessage{Role: "user", Content: input})

			r := &ui.StreamRenderer{
				Out:     os.Stdout,
				Notices: os.Stderr,
				Prefix:  cyan.Sprint("  chatstream → "),
				Spinner: ui.NewSpinner("Thinking..."),
			}
			r.Spinner.Start()
			res, err := r.Render(s.client.ChatStream(ctx, history))
			s.record("chat", res, err)

			if err != nil {
				fmt.Fprintf(os.Stderr, "  Error: %v\n\n", err)
				// Drop the unanswered turn so the next one starts clean.
				history = history[:len(history)-1]
				continue
			}
			if res.StopReason == stream.StopCancelled && ctx.Err() != nil {
				dim.Fprintf(os.Stderr, "  (cancelled)\n\n")
				break
			}
			if res.Text == "" {
				history = history[:len(history)-1]
				continue
			}

			history = append(history, ai.ChatMessage{Role: "assistant", Content: res.Text})
		}

		return nil
	},
}
