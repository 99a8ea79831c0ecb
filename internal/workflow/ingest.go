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

// MsgPickDocuments is shown when ingestion is submitted with nothing selected.
const MsgPickDocuments = "Pick one or more PDF files."

// IngestionState is the display state of the ingestion workflow.
type IngestionState struct {
	Busy   bool                  `json:"busy"`
	Result *gateway.UploadResult `json:"result"`
	Error  string                `json:"error,omitempty"`
}

// Ingestion uploads a multi-file selection to the document endpoint.
type Ingestion struct {
	mu        sync.Mutex
	state     IngestionState
	selection *intake.Selection
	backend   DocumentUploader
	opts      options
	logger    zerolog.Logger
}

// NewIngestion wires the workflow to its picker selection and backend.
func NewIngestion(selection *intake.Selection, backend DocumentUploader, opts ...Option) *Ingestion {
	o := buildOptions(opts)
	return &Ingestion{
		selection: selection,
		backend:   backend,
		opts:      o,
		logger:    o.logger.With().Str("component", "ingestion").Logger(),
	}
}

func (w *Ingestion) Selection() *intake.Selection {
	return w.selection
}

// State returns a snapshot of the display state.
func (w *Ingestion) State() IngestionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Submit runs one submission to completion.
func (w *Ingestion) Submit(ctx context.Context) error {
	done, err := w.Start(ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// Start validates the selection and, if it is non-empty, begins the upload
// in the background. The returned channel is closed once the state holds
// the outcome. ctx bounds the request and must outlive the caller when the
// caller returns before done.
func (w *Ingestion) Start(ctx context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Busy {
		return nil, ErrBusy
	}
	done := make(chan struct{})
	files := w.selection.Files()
	if len(files) == 0 {
		w.state.Error = MsgPickDocuments
		w.state.Result = nil
		close(done)
		return done, nil
	}
	w.state = IngestionState{Busy: true}

	logger := w.logger.With().Str("attempt_id", uuid.NewString()).Int("files", len(files)).Logger()
	go func() {
		defer close(done)
		w.run(ctx, logger, files)
	}()
	return done, nil
}

func (w *Ingestion) run(ctx context.Context, logger zerolog.Logger, files []intake.CandidateFile) {
	started := time.Now()
	logger.Info().Msg("uploading documents")

	res, err := w.upload(ctx, logger, files)
	w.opts.observe(StageIngest, started, err)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		logger.Error().Err(err).Str("kind", errorKind(err)).Msg("document upload failed")
		w.state = IngestionState{Error: err.Error()}
		return
	}
	w.selection.Reset()
	w.state = IngestionState{Result: res}
	logger.Info().
		Ints64("inserted_document_ids", res.InsertedDocumentIDs).
		Int("failed", len(res.Failed)).
		Msg("documents ingested")
}

func (w *Ingestion) upload(ctx context.Context, logger zerolog.Logger, files []intake.CandidateFile) (*gateway.UploadResult, error) {
	if err := w.opts.preflight(ctx, logger, files); err != nil {
		return nil, err
	}
	return w.backend.UploadDocuments(ctx, files)
}
