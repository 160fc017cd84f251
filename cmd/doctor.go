package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arin/chatstream/internal/ai"
	"github.com/arin/chatstream/internal/config"
	"github.com/arin/chatstream/internal/stream"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check connectivity and configuration",
	Long: `Run a health check on your chatstream setup.
Verifies the configuration, provider connectivity, model availability
and that a short stream completes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		green := color.New(color.FgGreen)
		red := color.New(color.FgRed)
		yellow := color.New(color.FgYellow)
		dim := color.New(color.FgHiBlack)
		cyan := color.New(color.FgCyan, color.Bold)

		cyan.Fprintf(os.Stderr, "\n  🩺 chatstream doctor\n\n")

		pass, fail, warn := 0, 0, 0

		check := func(name string, fn func() (string, error)) bool {
			detail, err := fn()
			if err != nil {
				if strings.HasPrefix(err.Error(), "warn:") {
					yellow.Fprintf(os.Stderr, "  ⚠ %s\n", name)
					dim.Fprintf(os.Stderr, "    %s\n", strings.TrimPrefix(err.Error(), "warn:"))
					warn++
					return true
				}
				red.Fprintf(os.Stderr, "  ✗ %s\n", name)
				dim.Fprintf(os.Stderr, "    %s\n", err.Error())
				fail++
				return false
			}
			green.Fprintf(os.Stderr, "  ✓ %s", name)
			if detail != "" {
				dim.Fprintf(os.Stderr, " — %s", detail)
			}
			fmt.Fprintln(os.Stderr)
			pass++
			return true
		}

		// 1. Config directory
		check("Config directory", func() (string, error) {
			dir := config.Dir()
			info, err := os.Stat(dir)
			if err != nil {
				return "", fmt.Errorf("warn:%s not found — will be created on first use", dir)
			}
			if !info.IsDir() {
				return "", fmt.Errorf("%s exists but is not a directory", dir)
			}
			return config.Path(), nil
		})

		// 2. Configuration resolves to a backend
		var s *session
		ok := check("Configuration", func() (string, error) {
			var err error
			s, err = newSession()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s / %s", s.backend.Name(), s.backend.Model()), nil
		})

		// 3. API key for hosted providers
		if ok {
			check("API key", func() (string, error) {
				if s.backend.Name() == ai.ProviderOllama {
					return "not needed for ollama", nil
				}
				if s.cfg.APIKey == "" {
					return "", fmt.Errorf("warn:no API key set — run: chatstream config set-key <key>")
				}
				return config.MaskKey(s.cfg.APIKey), nil
			})
		}

		// 4. Provider reachable, 5. Model available
		var models []ai.ModelInfo
		if ok {
			ok = check("Provider reachable", func() (string, error) {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				var err error
				models, err = s.backend.ListModels(ctx)
				if err != nil {
					var te *stream.TransportError
					if errors.As(err, &te) && s.backend.Name() == ai.ProviderOllama {
						return "", fmt.Errorf("could not connect — run: ollama serve")
					}
					return "", err
				}
				return fmt.Sprintf("%d models", len(models)), nil
			})
		}
		if ok {
			check(fmt.Sprintf("Model available (%s)", s.backend.Model()), func() (string, error) {
				if ai.HasModel(models, s.backend.Model()) {
					return "ready", nil
				}
				if s.backend.Name() == ai.ProviderOllama {
					return "", fmt.Errorf("model not found — run: chatstream pull %s", s.backend.Model())
				}
				return "", fmt.Errorf("warn:model not listed by %s; requests may still work", s.backend.Name())
			})

			// 6. A short stream completes
			check("Streaming", func() (string, error) {
				ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
				defer cancel()
				res, err := stream.Collect(s.client.Ask(ctx, "Reply with the single word: ok"))
				if err != nil {
					return "", err
				}
				if res.StopReason == stream.StopCancelled {
					return "", fmt.Errorf("warn:no complete reply within 60s")
				}
				detail := "completed"
				if res.Stats != nil {
					detail = fmt.Sprintf("first token after %s", res.Stats.TTFT.Round(time.Millisecond))
				}
				return detail, nil
			})
		}

		// 7. OS and arch
		check("System info", func() (string, error) {
			return fmt.Sprintf("%s/%s, %s", runtime.GOOS, runtime.GOARCH, version), nil
		})

		// Summary
		fmt.Fprintln(os.Stderr)
		total := pass + fail + warn
		if fail == 0 && warn == 0 {
			green.Fprintf(os.Stderr, "  All %d checks passed. You're good to go.\n\n", total)
		} else if fail == 0 {
			yellow.Fprintf(os.Stderr, "  %d passed, %d warnings. Everything works, but some things could be better.\n\n", pass, warn)
		} else {
			red.Fprintf(os.Stderr, "  %d passed, %d failed, %d warnings. Fix the failures above.\n\n", pass, fail, warn)
		}

		return nil
	},
}
