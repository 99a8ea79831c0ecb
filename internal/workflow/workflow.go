// Package workflow drives the two intake workflows: plain document
// ingestion, and RFP upload chained into bulk answer generation. Every
// failure is caught at its stage and stored in that stage's error slot.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/trackshift/answer-intake/internal/dlp"
	"github.com/trackshift/answer-intake/internal/gateway"
	"github.com/trackshift/answer-intake/internal/intake"
)

// ErrBusy is returned when a submission is already in flight. Callers are
// expected to disable their trigger while busy.
var ErrBusy = errors.New("a submission is already in progress")

// DocumentUploader is the ingestion backend.
type DocumentUploader interface {
	UploadDocuments(ctx context.Context, files []intake.CandidateFile) (*gateway.UploadResult, error)
}

// RFPBackend is the backend for the two RFP stages.
type RFPBackend interface {
	UploadRFP(ctx context.Context, file intake.CandidateFile) (*gateway.RfpUploadResult, error)
	GenerateBulkAnswers(ctx context.Context, rfpID int64) (*gateway.BulkAnswerResult, error)
}

type options struct {
	scanner dlp.Scanner
	logger  zerolog.Logger
	metrics *Metrics
}

// Option configures a workflow.
type Option func(*options)

// WithScanner runs s on every selected file before stage one.
func WithScanner(s dlp.Scanner) Option {
	return func(o *options) { o.scanner = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records stage outcomes into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// preflight scans files with the configured scanner. In monitor mode
// violations are logged and the submission continues.
func (o options) preflight(ctx context.Context, logger zerolog.Logger, files []intake.CandidateFile) error {
	if o.scanner == nil {
		return nil
	}
	for _, f := range files {
		err := o.scanner.ScanFile(ctx, f)
		if err == nil {
			continue
		}
		var violation *dlp.Violation
		if errors.As(err, &violation) && !o.scanner.Enforced() {
			logger.Warn().
				Str("file", f.Name).
				Str("rule", violation.Rule).
				Msg("policy violation on selected file")
			continue
		}
		return err
	}
	return nil
}

func (o options) observe(stage Stage, started time.Time, err error) {
	if o.metrics != nil {
		o.metrics.Record(stage, err == nil, time.Since(started))
	}
}

// errorKind labels err for logs.
func errorKind(err error) string {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		return string(gerr.Kind)
	}
	var violation *dlp.Violation
	if errors.As(err, &violation) {
		return "policy"
	}
	return "local"
}
