// Package main provides the intake binary: it feeds PDF selections to the
// answer backend, either one-shot from the command line or through the
// local console.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/trackshift/answer-intake/internal/config"
	"github.com/trackshift/answer-intake/internal/dlp"
	"github.com/trackshift/answer-intake/internal/gateway"
	"github.com/trackshift/answer-intake/internal/workflow"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "intake"
)

// errStageFailed marks a run whose outcome was already printed but carried
// a stage error.
var errStageFailed = errors.New("stage failed")

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	zerolog.TimeFieldFormat = time.RFC3339
	if err := rootCmd().Execute(); err != nil {
		if !errors.Is(err, errStageFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	source     string
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Submit PDF documents and RFPs to the answer backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.source, "source", "", "File source (local, s3, azure, sftp, ftps)")

	cmd.AddCommand(
		documentsCmd(opts),
		rfpCmd(opts),
		answerCmd(opts),
		serveCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

// app is the wiring shared by every subcommand.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	api     *gateway.API
	scanner dlp.Scanner
	metrics *workflow.Metrics
}

func newApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.logLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", opts.logLevel)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Str("service", appName).
		Logger()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.source != "" {
		cfg.Source.Kind = strings.ToLower(opts.source)
	}
	logger.Debug().
		Str("api_base", cfg.APIBase).
		Int("timeout_seconds", cfg.TimeoutSeconds()).
		Str("source", cfg.Source.Kind).
		Msg("configuration resolved")

	client := gateway.New(cfg.Timeout, gateway.WithLogger(logger))
	return &app{
		cfg:     cfg,
		logger:  logger,
		api:     gateway.NewAPI(client, cfg.APIBase),
		scanner: dlp.NewRuleScanner(cfg.DLP),
		metrics: workflow.NewMetrics(),
	}, nil
}

func (a *app) workflowOptions() []workflow.Option {
	return []workflow.Option{
		workflow.WithScanner(a.scanner),
		workflow.WithLogger(a.logger),
		workflow.WithMetrics(a.metrics),
	}
}
