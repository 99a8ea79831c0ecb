package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trackshift/answer-intake/internal/connectors"
	"github.com/trackshift/answer-intake/internal/console"
	"github.com/trackshift/answer-intake/internal/intake"
	"github.com/trackshift/answer-intake/internal/workflow"
)

// msgRejected is shown when a batch contained a non-PDF file.
const msgRejected = "Only PDF files are accepted; the selection was left unchanged."

func documentsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "documents [paths...]",
		Short: "Upload PDF documents to the knowledge base",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sel := intake.NewSelection(intake.ModeMulti)
			if len(args) > 0 {
				release, err := a.pick(ctx, sel, args)
				if err != nil {
					return err
				}
				defer release()
			}
			w := workflow.NewIngestion(sel, a.api, a.workflowOptions()...)
			if err := w.Submit(ctx); err != nil {
				return err
			}
			st := w.State()
			if err := printJSON(cmd.OutOrStdout(), st); err != nil {
				return err
			}
			if st.Error != "" {
				return errStageFailed
			}
			return nil
		},
	}
}

func rfpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rfp <path>",
		Short: "Upload an RFP and generate answers for its questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sel := intake.NewSelection(intake.ModeSingle)
			release, err := a.pick(ctx, sel, args)
			if err != nil {
				return err
			}
			defer release()
			w := workflow.NewRFP(sel, a.api, a.workflowOptions()...)
			if err := w.Submit(ctx); err != nil {
				return err
			}
			st := w.State()
			if err := printJSON(cmd.OutOrStdout(), st); err != nil {
				return err
			}
			if st.UploadError != "" || st.GenError != "" {
				return errStageFailed
			}
			return nil
		},
	}
}

func answerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answer",
		Short: "Generate or fetch single answers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "generate <question-id>",
			Short: "Generate an answer for one question",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				a, err := newApp(cmd, opts)
				if err != nil {
					return err
				}
				ans, err := a.api.GenerateAnswer(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ans)
			},
		},
		&cobra.Command{
			Use:   "get <answer-id>",
			Short: "Fetch a stored answer",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				a, err := newApp(cmd, opts)
				if err != nil {
					return err
				}
				ans, err := a.api.FetchAnswer(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ans)
			},
		},
	)
	return cmd
}

func serveCmd(opts *rootOptions) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local intake console",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			if bind == "" {
				bind = a.cfg.ConsoleBind
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ingestion := workflow.NewIngestion(intake.NewSelection(intake.ModeMulti), a.api, a.workflowOptions()...)
			rfp := workflow.NewRFP(intake.NewSelection(intake.ModeSingle), a.api, a.workflowOptions()...)
			srv := console.New(ctx, a.cfg, ingestion, rfp, a.metrics, a.logger)
			return srv.ListenAndServe(ctx, bind)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (default INTAKE_CONSOLE_BIND or 127.0.0.1:8085)")
	return cmd
}

// pick lists patterns from the configured source and feeds them to sel as
// one picker batch. The source stays open until release is called since
// file content is read during submission.
func (a *app) pick(ctx context.Context, sel *intake.Selection, patterns []string) (release func(), err error) {
	conn, err := connectors.Load(ctx, a.cfg.Source, a.logger)
	if err != nil {
		return nil, err
	}
	release = func() {
		if err := conn.Close(); err != nil {
			a.logger.Warn().Err(err).Str("source", conn.Name()).Msg("failed to close source")
		}
	}

	files, err := conn.List(ctx, patterns)
	if err != nil {
		release()
		return nil, fmt.Errorf("list %s source: %w", conn.Name(), err)
	}
	a.logger.Debug().Str("source", conn.Name()).Int("files", len(files)).Msg("listed candidate files")
	if sel.Add(files) {
		release()
		return nil, errors.New(msgRejected)
	}
	return release, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
