package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-digest/cmd"
	"github.com/dhcgn/mbox-digest/config"
	"github.com/dhcgn/mbox-digest/runner"
)

func main() {
	code := runner.ExitOK

	rootCmd := &cobra.Command{
		Use:   "mbox-digest [flags] MBOX EMAIL",
		Short: "Send the mails of an mbox as one PGP-encrypted digest, then remove the mbox",
		Args:  cobra.ExactArgs(2),
		// usage errors are reported by main with their own exit code
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mbox-digest", "mbox", cfg.MboxPath, "recipient", cfg.Email, "gpghome", cfg.GPGHome, "dryRun", cfg.DryRun)

			res := runner.New(cfg, logger).Run(context.Background())
			if res.Message != "" {
				fmt.Fprintln(os.Stdout, res.Message)
			}
			code = res.Code
			return nil
		},
	}

	config.RegisterFlags(rootCmd)
	rootCmd.AddCommand(cmd.NewPreviewCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stdout, "Error: %v\n", err)

		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		fmt.Fprintln(os.Stdout, rootCmd.UsageString())
		os.Exit(int(runner.ExitUsage))
	}

	os.Exit(int(code))
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	// standard output carries the user-facing lines only
	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mbox-digest-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}
