package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/trackshift/answer-intake/internal/gateway"
	"github.com/trackshift/answer-intake/internal/intake"
)

const (
	MsgPickRFP        = "Pick a PDF file."
	MsgPickOneRFPOnly = "Pick exactly one PDF file."
)

// RFP uploads one RFP document and, on success, immediately generates
// answers for it. The second stage is never issued before the first has
// succeeded and been recorded.
type RFP struct {
	mu        sync.Mutex
	state     RFPState
	selection *intake.Selection
	backend   RFPBackend
	opts      options
	logger    zerolog.Logger
}

// NewRFP wires the workflow to its single-mode picker selection and backend.
func NewRFP(selection *intake.Selection, backend RFPBackend, opts ...Option) *RFP {
	o := buildOptions(opts)
	return &RFP{
		state:     RFPState{Phase: PhaseIdle},
		selection: selection,
		backend:   backend,
		opts:      o,
		logger:    o.logger.With().Str("component", "rfp").Logger(),
	}
}

func (w *RFP) Selection() *intake.Selection {
	return w.selection
}

// State returns a snapshot of the display state.
func (w *RFP) State() RFPState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ClearAnswers resets the generated answers and the generation error. The
// upload slot is left as is.
func (w *RFP) ClearAnswers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.applyLocked(Event{Kind: EventClearAnswers})
}

// Submit runs one submission, both stages included, to completion.
func (w *RFP) Submit(ctx context.Context) error {
	done, err := w.Start(ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// Start validates the selection and begins the two-stage submission in the
// background. The returned channel is closed once the final state is recorded.
func (w *RFP) Start(ctx context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Phase.Busy() {
		return nil, ErrBusy
	}
	done := make(chan struct{})
	files := w.selection.Files()
	if msg := rfpSelectionProblem(files); msg != "" {
		w.applyLocked(Event{Kind: EventRejected, Message: msg})
		close(done)
		return done, nil
	}
	if !w.applyLocked(Event{Kind: EventSubmit}) {
		return nil, ErrBusy
	}

	logger := w.logger.With().Str("attempt_id", uuid.NewString()).Str("file", files[0].Name).Logger()
	go func() {
		defer close(done)
		w.run(ctx, logger, files[0])
	}()
	return done, nil
}

func rfpSelectionProblem(files []intake.CandidateFile) string {
	switch {
	case len(files) == 0:
		return MsgPickRFP
	case len(files) > 1:
		return MsgPickOneRFPOnly
	}
	return ""
}

func (w *RFP) run(ctx context.Context, logger zerolog.Logger, file intake.CandidateFile) {
	started := time.Now()
	logger.Info().Str("stage", string(StageRFP)).Msg("uploading rfp")

	res, err := w.upload(ctx, logger, file)
	w.opts.observe(StageRFP, started, err)
	if err != nil {
		logger.Error().Err(err).Str("stage", string(StageRFP)).Str("kind", errorKind(err)).Msg("rfp upload failed")
		w.apply(Event{Kind: EventUploadFailed, Message: err.Error()})
		return
	}

	w.mu.Lock()
	w.selection.Reset()
	w.applyLocked(Event{Kind: EventUploadSucceeded, Upload: res})
	w.applyLocked(Event{Kind: EventGenerate})
	w.mu.Unlock()

	w.generate(ctx, logger.With().Int64("rfp_id", res.RfpID).Logger(), res.RfpID)
}

func (w *RFP) upload(ctx context.Context, logger zerolog.Logger, file intake.CandidateFile) (*gateway.RfpUploadResult, error) {
	if err := w.opts.preflight(ctx, logger, []intake.CandidateFile{file}); err != nil {
		return nil, err
	}
	return w.backend.UploadRFP(ctx, file)
}

func (w *RFP) generate(ctx context.Context, logger zerolog.Logger, rfpID int64) {
	started := time.Now()
	logger.Info().Str("stage", string(StageGenerate)).Msg("generating answers")

	answers, err := w.backend.GenerateBulkAnswers(ctx, rfpID)
	w.opts.observe(StageGenerate, started, err)
	if err != nil {
		logger.Error().Err(err).Str("stage", string(StageGenerate)).Str("kind", errorKind(err)).Msg("answer generation failed")
		w.apply(Event{Kind: EventGenerationFailed, Message: err.Error()})
		return
	}
	logger.Info().Int("questions", len(answers.Questions)).Msg("answers generated")
	w.apply(Event{Kind: EventGenerationSucceeded, Answers: answers})
}

func (w *RFP) apply(ev Event) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applyLocked(ev)
}

func (w *RFP) applyLocked(ev Event) bool {
	next, err := Reduce(w.state, ev)
	if err != nil {
		w.logger.Error().Err(err).Msg("dropped workflow event")
		return false
	}
	w.state = next
	return true
}
