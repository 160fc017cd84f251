package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/arin/chatstream/internal/ai"
	"github.com/arin/chatstream/internal/config"
	"github.com/arin/chatstream/internal/stats"
	"github.com/arin/chatstream/internal/stream"
)

// session bundles what a command needs to talk to a model.
type session struct {
	cfg     *config.Config
	log     *slog.Logger
	backend ai.Backend
	client  *ai.Client
}

// newLogger creates a structured logger with the configured verbosity.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbosity >= 3:
		level = stream.LevelTrace
	case verbosity == 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the configuration and applies per-run flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if flagProvider != "" {
		cfg.Provider = flagProvider
		if flagURL == "" {
			cfg.BaseURL = ""
		}
	}
	if flagURL != "" {
		cfg.BaseURL = flagURL
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	return cfg, nil
}

func newSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger()

	// No overall timeout: streams may legitimately run for minutes and the
	// stall watchdog reports silence instead.
	driver := stream.NewDriver(&http.Client{},
		stream.WithLogger(log),
		stream.WithStall(cfg.StallInterval, cfg.StallMaxRepeats),
	)
	backend, err := ai.NewBackend(ai.Settings{
		Provider:    cfg.Provider,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, &http.Client{Timeout: 10 * time.Second}, driver)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:     cfg,
		log:     log,
		backend: backend,
		client:  ai.NewClientWithProvider(backend, ai.WithEmptyPolicy(cfg.EmptyOutput)),
	}, nil
}

// record persists metrics for a finished stream. Failures are logged only.
func (s *session) record(subcommand string, res stream.Result, err error) {
	if cancelled(err) {
		res.StopReason = stream.StopCancelled
		err = nil
	}
	r := stats.FromResult(s.backend.Name(), s.backend.Model(), subcommand, res, err)
	if serr := stats.Save(r); serr != nil {
		s.log.Debug("could not save stats", "err", serr)
	}
}

func cancelled(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
