package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"adpilot/internal/config"
	"adpilot/internal/logger"
)

var version = "0.1.0"

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "adpilot",
		Short:         "Staged, auditable change management for Google Ads and Merchant Center accounts",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "configs/config.yaml", "Configuration file path")

	root.AddCommand(newSnapshotCmd(), newPlanCmd(), newReviewCmd(), newApplyCmd())

	if err := root.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.msg)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Exit codes: 0 success, 2 nothing to do, 3 validation or guardrail
// failure, 4 aborted or partial apply.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func exitError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, exitError(3, "loading config %s: %v", cfgPath, err)
	}
	logger.SetLevel(cfg.App.LogLevel)
	if err := setupLogOutput(cfg.App.LogPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogOutput(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil
	}
	if dir := filepath.Dir(trimmed); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}
