package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackshift/answer-intake/internal/config"
	"github.com/trackshift/answer-intake/internal/dlp"
	"github.com/trackshift/answer-intake/internal/gateway"
	"github.com/trackshift/answer-intake/internal/intake"
)

func pdfFile(name string) intake.CandidateFile {
	return intake.FromBytes(name, intake.MediaTypePDF, 1700000000000, []byte("%PDF-1.7 "+name))
}

// backendStub counts hits per endpoint and answers with canned responses.
type backendStub struct {
	mu        sync.Mutex
	hits      map[string]int
	responses map[string]func(w http.ResponseWriter, r *http.Request)
}

func newBackendStub() *backendStub {
	return &backendStub{
		hits:      make(map[string]int),
		responses: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}
}

func (b *backendStub) on(path string, status int, body string) {
	b.handle(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func (b *backendStub) handle(path string, fn func(w http.ResponseWriter, r *http.Request)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[path] = fn
}

func (b *backendStub) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func (b *backendStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits[r.URL.Path]++
	respond, ok := b.responses[r.URL.Path]
	b.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	respond(w, r)
}

func newAPI(t *testing.T, stub *backendStub, timeout time.Duration) *gateway.API {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return gateway.NewAPI(gateway.New(timeout), srv.URL)
}

func TestIngestionEmptySelection(t *testing.T) {
	stub := newBackendStub()
	w := NewIngestion(intake.NewSelection(intake.ModeMulti), newAPI(t, stub, 5*time.Second))

	require.NoError(t, w.Submit(context.Background()))

	st := w.State()
	assert.Equal(t, MsgPickDocuments, st.Error)
	assert.Nil(t, st.Result)
	assert.False(t, st.Busy)
	assert.Zero(t, stub.count("/api/documents/upload"))
}

func TestIngestionSuccessClearsSelection(t *testing.T) {
	stub := newBackendStub()
	stub.on("/api/documents/upload", http.StatusOK, `{"inserted_document_ids":[1,2],"received":2}`)
	sel := intake.NewSelection(intake.ModeMulti)
	require.False(t, sel.Add([]intake.CandidateFile{pdfFile("a.pdf"), pdfFile("b.pdf")}))
	metrics := NewMetrics()
	w := NewIngestion(sel, newAPI(t, stub, 5*time.Second), WithMetrics(metrics))

	require.NoError(t, w.Submit(context.Background()))

	st := w.State()
	require.NotNil(t, st.Result)
	assert.Equal(t, []int64{1, 2}, st.Result.InsertedDocumentIDs)
	assert.Equal(t, 2, st.Result.Received)
	assert.Empty(t, st.Error)
	assert.False(t, st.Busy)
	assert.Zero(t, sel.Len())
	assert.Equal(t, 1, stub.count("/api/documents/upload"))
	assert.Equal(t, 1, metrics.Snapshot()[StageIngest].Success)
}

func TestIngestionFailureKeepsSelection(t *testing.T) {
	stub := newBackendStub()
	stub.on("/api/documents/upload", http.StatusInternalServerError, `{"error":"disk full"}`)
	sel := intake.NewSelection(intake.ModeMulti)
	require.False(t, sel.Add([]intake.CandidateFile{pdfFile("a.pdf")}))
	w := NewIngestion(sel, newAPI(t, stub, 5*time.Second))

	require.NoError(t, w.Submit(context.Background()))

	st := w.State()
	assert.Equal(t, "disk full", st.Error)
	assert.Nil(t, st.Result)
	assert.Equal(t, 1, sel.Len())
}

func TestIngestionTimeout(t *testing.T) {
	stub := newBackendStub()
	stub.handle("/api/documents/upload", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	sel := intake.NewSelection(intake.ModeMulti)
	require.False(t, sel.Add([]intake.CandidateFile{pdfFile("a.pdf")}))
	w := NewIngestion(sel, newAPI(t, stub, time.Second))

	require.NoError(t, w.Submit(context.Background()))

	st := w.State()
	assert.Equal(t, "Request timed out after 1 seconds", st.Error)
	assert.NotContains(t, st.Error, "Network request")
}

// blockingUploader holds every upload until release is closed.
type blockingUploader struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingUploader) UploadDocuments(ctx context.Context, files []intake.CandidateFile) (*gateway.UploadResult, error) {
	b.calls.Add(1)
	close(b.started)
	<-b.release
	return &gateway.UploadResult{InsertedDocumentIDs: []int64{1}, Received: len(files)}, nil
}

func TestIngestionBusy(t *testing.T) {
	up := &blockingUploader{started: make(chan struct{}), release: make(chan struct{})}
	sel := intake.NewSelection(intake.ModeMulti)
	require.False(t, sel.Add([]intake.CandidateFile{pdfFile("a.pdf")}))
	w := NewIngestion(sel, up)

	done, err := w.Start(context.Background())
	require.NoError(t, err)
	<-up.started
	assert.True(t, w.State().Busy)

	_, err = w.Start(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(up.release)
	<-done
	assert.False(t, w.State().Busy)
	assert.EqualValues(t, 1, up.calls.Load())
}

func TestIngestionPolicyViolation(t *testing.T) {
	stub := newBackendStub()
	stub.on("/api/documents/upload", http.StatusOK, `{"inserted_document_ids":[1],"received":1}`)
	sel := intake.NewSelection(intake.ModeMulti)
	bad := intake.FromBytes("a.pdf", intake.MediaTypePDF, 1, []byte("MZ not a pdf"))
	require.False(t, sel.Add([]intake.CandidateFile{bad}))

	t.Run("enforced", func(t *testing.T) {
		w := NewIngestion(sel, newAPI(t, stub, 5*time.Second),
			WithScanner(dlp.NewRuleScanner(config.DLPConfig{RequirePDFMagic: true})))
		require.NoError(t, w.Submit(context.Background()))

		st := w.State()
		assert.Contains(t, st.Error, "rejected by policy")
		assert.Zero(t, stub.count("/api/documents/upload"))
		assert.Equal(t, 1, sel.Len())
	})

	t.Run("monitor", func(t *testing.T) {
		w := NewIngestion(sel, newAPI(t, stub, 5*time.Second),
			WithScanner(dlp.NewRuleScanner(config.DLPConfig{RequirePDFMagic: true, Monitor: true})))
		require.NoError(t, w.Submit(context.Background()))

		st := w.State()
		assert.Empty(t, st.Error)
		require.NotNil(t, st.Result)
		assert.Equal(t, 1, stub.count("/api/documents/upload"))
	})
}

const answersBody = `{"rfp_id":42,"questions":[{"id":1,"content":"Q?","answers":[{"id":9,"content":"A.","question_id":1}]}]}`

func rfpWorkflow(t *testing.T, stub *backendStub, opts ...Option) (*RFP, *intake.Selection) {
	t.Helper()
	sel := intake.NewSelection(intake.ModeSingle)
	require.False(t, sel.Add([]intake.CandidateFile{pdfFile("rfp.pdf")}))
	return NewRFP(sel, newAPI(t, stub, 5*time.Second), opts...), sel
}

func TestRFPCompleted(t *testing.T) {
	stub := newBackendStub()
	stub.on("/api/rfp/upload", http.StatusOK, `{"rfp_id":42,"questions":[1]}`)
	var gotRfpID atomic.Int64
	stub.handle("/api/answers/bulk-generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RfpID int64 `json:"rfp_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotRfpID.Store(req.RfpID)
		_, _ = w.Write([]byte(answersBody))
	})
	metrics := NewMetrics()
	w, sel := rfpWorkflow(t, stub, WithMetrics(metrics))

	require.NoError(t, w.Submit(context.Background()))

	st := w.State()
	assert.Equal(t, PhaseCompleted, st.Phase)
	require.NotNil(t, st.UploadResult)
	assert.EqualValues(t, 42, st.UploadResult.RfpID)
	require.NotNil(t, st.Answers)
	assert.Equal(t, "A.", st.Answers.Questions[0].Answers[0].Content)
	assert.Empty(t, st.UploadError)
	assert.Empty(t, st.GenError)
	assert.False(t, st.UploadBusy)
	assert.False(t, st.GenBusy)
	assert.EqualValues(t, 42, gotRfpID.Load())
	assert.Zero(t, sel.Len())

	kpi := metrics.Snapshot()
	assert.Equal(t, 1, kpi[StageRFP].Success)
	assert.Equal(t, 1, kpi[StageGenerate].Success)
}

func TestRFPGenerationFailsThenClear(t *testing.T) {
	stub := newBackendStub()
	stub.on("/api/rfp/upload", http.StatusOK, `{"rfp_id":42}`)
	stub.on("/api/answers/bulk-generate", http.StatusBadGateway, `{"error":"llm timeout"}`)
	w, sel := rfpWorkflow(t, stub)

	require.NoError(t, w.Submit(context.Background()))

	st := w.State()
	assert.Equal(t, PhaseGenerationFailed, st.Phase)
	require.NotNil(t, st.UploadResult)
	assert.EqualValues(t, 42, st.UploadResult.RfpID)
	assert.Empty(t, st.UploadError)
	assert.Nil(t, st.Answers)
	assert.Equal(t, "llm timeout", st.GenError)
	assert.Zero(t, sel.Len())

	w.ClearAnswers()

	st = w.State()
	assert.Nil(t, st.Answers)
	assert.Empty(t, st.GenError)
	require.NotNil(t, st.UploadResult)
	assert.EqualValues(t, 42, st.UploadResult.RfpID)
}

func TestRFPUploadFailsSkipsGeneration(t *testing.T) {
	stub := newBackendStub()
	stub.on("/api/rfp/upload", http.StatusBadRequest, `{"detail":"bad pdf"}`)
	stub.on("/api/answers/bulk-generate", http.StatusOK, answersBody)
	w, sel := rfpWorkflow(t, stub)

	require.NoError(t, w.Submit(context.Background()))

	st := w.State()
	assert.Equal(t, PhaseUploadFailed, st.Phase)
	assert.Equal(t, "bad pdf", st.UploadError)
	assert.Nil(t, st.UploadResult)
	assert.Nil(t, st.Answers)
	assert.Zero(t, stub.count("/api/answers/bulk-generate"))
	assert.Equal(t, 1, sel.Len())
}

func TestRFPSelectionProblems(t *testing.T) {
	stub := newBackendStub()

	t.Run("empty", func(t *testing.T) {
		w := NewRFP(intake.NewSelection(intake.ModeSingle), newAPI(t, stub, 5*time.Second))
		require.NoError(t, w.Submit(context.Background()))
		assert.Equal(t, MsgPickRFP, w.State().UploadError)
	})

	t.Run("more than one", func(t *testing.T) {
		// A multi-mode picker can hand the workflow more than one file.
		sel := intake.NewSelection(intake.ModeMulti)
		require.False(t, sel.Add([]intake.CandidateFile{pdfFile("a.pdf"), pdfFile("b.pdf")}))
		w := NewRFP(sel, newAPI(t, stub, 5*time.Second))
		require.NoError(t, w.Submit(context.Background()))
		assert.Equal(t, MsgPickOneRFPOnly, w.State().UploadError)
	})

	assert.Zero(t, stub.count("/api/rfp/upload"))
}

func TestRFPResubmitClearsPreviousOutcome(t *testing.T) {
	stub := newBackendStub()
	stub.on("/api/rfp/upload", http.StatusOK, `{"rfp_id":42}`)
	stub.on("/api/answers/bulk-generate", http.StatusOK, answersBody)
	w, sel := rfpWorkflow(t, stub)
	require.NoError(t, w.Submit(context.Background()))
	require.NotNil(t, w.State().Answers)

	stub.on("/api/rfp/upload", http.StatusBadRequest, `{"detail":"bad pdf"}`)
	require.False(t, sel.Add([]intake.CandidateFile{pdfFile("next.pdf")}))
	require.NoError(t, w.Submit(context.Background()))

	st := w.State()
	assert.Nil(t, st.Answers)
	assert.Nil(t, st.UploadResult)
	assert.Equal(t, "bad pdf", st.UploadError)
}

// gatedBackend blocks the upload stage until release is closed.
type gatedBackend struct {
	started chan struct{}
	release chan struct{}
	gen     atomic.Int32
}

func (g *gatedBackend) UploadRFP(context.Context, intake.CandidateFile) (*gateway.RfpUploadResult, error) {
	close(g.started)
	<-g.release
	return &gateway.RfpUploadResult{RfpID: 7}, nil
}

func (g *gatedBackend) GenerateBulkAnswers(context.Context, int64) (*gateway.BulkAnswerResult, error) {
	g.gen.Add(1)
	return nil, errors.New("no model")
}

func TestRFPBusy(t *testing.T) {
	backend := &gatedBackend{started: make(chan struct{}), release: make(chan struct{})}
	sel := intake.NewSelection(intake.ModeSingle)
	require.False(t, sel.Add([]intake.CandidateFile{pdfFile("rfp.pdf")}))
	w := NewRFP(sel, backend)

	done, err := w.Start(context.Background())
	require.NoError(t, err)
	<-backend.started
	assert.Equal(t, PhaseUploading, w.State().Phase)
	assert.True(t, w.State().UploadBusy)

	_, err = w.Start(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(backend.release)
	<-done
	st := w.State()
	assert.Equal(t, PhaseGenerationFailed, st.Phase)
	assert.Equal(t, "no model", st.GenError)
	assert.EqualValues(t, 1, backend.gen.Load())
}
