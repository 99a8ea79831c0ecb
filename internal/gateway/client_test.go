package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackshift/answer-intake/internal/intake"
)

func asGatewayError(t *testing.T, err error) *Error {
	t.Helper()
	var gerr *Error
	require.True(t, errors.As(err, &gerr), "expected *gateway.Error, got %T: %v", err, err)
	return gerr
}

func TestReadErrorBody(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        string
	}{
		{"json error field", 500, "application/json", `{"error":"llm timeout"}`, "llm timeout"},
		{"json detail field", 400, "application/json; charset=utf-8", `{"detail":"bad pdf"}`, "bad pdf"},
		{"error wins over detail", 400, "application/json", `{"detail":"d","error":"e"}`, "e"},
		{"empty error falls to detail", 400, "application/json", `{"error":"","detail":"d"}`, "d"},
		{"structured detail", 422, "application/json", `{"detail":[{"loc":["body","rfp_id"],"msg":"bad"}]}`, `[{"loc":["body","rfp_id"],"msg":"bad"}]`},
		{"neither field", 500, "application/json", "{\n  \"code\": 7\n}", `{"code":7}`},
		{"invalid json", 502, "application/json", `{oops`, "502 Bad Gateway"},
		{"plain text", 503, "text/plain", "upstream down", "upstream down"},
		{"empty text", 504, "text/html", "", "504 Gateway Timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Status:     fmt.Sprintf("%d %s", tt.status, http.StatusText(tt.status)),
				Header:     http.Header{"Content-Type": []string{tt.contentType}},
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}
			assert.Equal(t, tt.want, readErrorBody(resp))
		})
	}
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (failingBody) Close() error             { return nil }

func TestReadErrorBodyUnreadable(t *testing.T) {
	resp := &http.Response{
		StatusCode: 500,
		Status:     "500 Internal Server Error",
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       failingBody{},
	}
	assert.Equal(t, "500 Internal Server Error", readErrorBody(resp))
}

func TestSubmitMultipart(t *testing.T) {
	var gotNames []string
	var gotBodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		for _, fh := range r.MultipartForm.File[FieldDocuments] {
			gotNames = append(gotNames, fh.Filename)
			f, err := fh.Open()
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			f.Close()
			gotBodies = append(gotBodies, string(data))
			assert.Equal(t, intake.MediaTypePDF, fh.Header.Get("Content-Type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"inserted_document_ids":[1,2],"received":2}`))
	}))
	defer srv.Close()

	api := NewAPI(New(5*time.Second), srv.URL+"/")
	res, err := api.UploadDocuments(context.Background(), []intake.CandidateFile{
		intake.FromBytes("a.pdf", intake.MediaTypePDF, 1, []byte("%PDF-a")),
		intake.FromBytes(`quote"d.pdf`, "", 2, []byte("%PDF-b")),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, res.InsertedDocumentIDs)
	assert.Equal(t, 2, res.Received)
	assert.Equal(t, []string{"a.pdf", `quote"d.pdf`}, gotNames)
	assert.Equal(t, []string{"%PDF-a", "%PDF-b"}, gotBodies)
}

func TestSubmitJSONSendsRfpID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/answers/bulk-generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]int64{"rfp_id": 42}, req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rfp_id":42,"questions":[{"id":1,"content":"Q?","answers":[
			{"id":9,"content":"A.","created_at":"2025-03-01T10:00:00.123456","question_id":1,"answer_version_id":null}]}]}`))
	}))
	defer srv.Close()

	res, err := NewAPI(New(5*time.Second), srv.URL).GenerateBulkAnswers(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, res.Questions, 1)
	ans := res.Questions[0].Answers[0]
	assert.Equal(t, "A.", ans.Content)
	require.NotNil(t, ans.CreatedAt)
	assert.Equal(t, 2025, ans.CreatedAt.Year())
	assert.Nil(t, ans.AnswerVersionID)
}

func TestMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing rfp id", `{"questions":[]}`},
		{"wrong type", `{"rfp_id":"42"}`},
		{"not json", `<html>`},
		{"empty", ``},
		{"null", `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewAPI(New(5*time.Second), srv.URL).UploadRFP(context.Background(),
				intake.FromBytes("rfp.pdf", intake.MediaTypePDF, 1, []byte("%PDF")))
			gerr := asGatewayError(t, err)
			assert.Equal(t, KindMalformed, gerr.Kind)
			assert.Contains(t, gerr.Message, "Malformed response from /api/rfp/upload")
		})
	}
}

func TestMalformedNestedAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rfp_id":1,"questions":[{"id":1,"content":"Q","answers":[{"id":0,"content":"","question_id":1}]}]}`))
	}))
	defer srv.Close()

	_, err := NewAPI(New(5*time.Second), srv.URL).GenerateBulkAnswers(context.Background(), 1)
	gerr := asGatewayError(t, err)
	assert.Equal(t, KindMalformed, gerr.Kind)
	assert.Contains(t, gerr.Message, "questions[0].answers[0].id")
}

func TestGenerateAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/answers/generate", r.URL.Path)
		var req map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]int64{"question_id": 3}, req)
		_, _ = w.Write([]byte(`{"question":3,"answers":[{"id":9,"content":"Yes.","created_at":"2025-03-01T10:00:00","question_id":3,"answer_version_id":2}]}`))
	}))
	defer srv.Close()

	res, err := NewAPI(New(5*time.Second), srv.URL).GenerateAnswer(context.Background(), 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Question)
	require.Len(t, res.Answers, 1)
	assert.Equal(t, "Yes.", res.Answers[0].Content)
	require.NotNil(t, res.Answers[0].AnswerVersionID)
	assert.EqualValues(t, 2, *res.Answers[0].AnswerVersionID)
}

func TestGenerateAnswerNoContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"question":3,"answers":[]}`))
	}))
	defer srv.Close()

	res, err := NewAPI(New(5*time.Second), srv.URL).GenerateAnswer(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, res.Answers)
}

func TestFetchAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/answers/9", r.URL.Path)
		_, _ = w.Write([]byte(`{"answer":{"id":9,"content":"Yes.","created_at":null,"question_id":3,"answer_version_id":null}}`))
	}))
	defer srv.Close()

	ans, err := NewAPI(New(5*time.Second), srv.URL).FetchAnswer(context.Background(), 9)
	require.NoError(t, err)
	assert.EqualValues(t, 9, ans.ID)
	assert.EqualValues(t, 3, ans.QuestionID)
	assert.Nil(t, ans.CreatedAt)
}

func TestFetchAnswerUnwrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":9,"content":"Yes.","question_id":3}`))
	}))
	defer srv.Close()

	_, err := NewAPI(New(5*time.Second), srv.URL).FetchAnswer(context.Background(), 9)
	gerr := asGatewayError(t, err)
	assert.Equal(t, KindMalformed, gerr.Kind)
	assert.Contains(t, gerr.Message, "answer failed required")
}

func TestBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"bad pdf"}`))
	}))
	defer srv.Close()

	_, err := NewAPI(New(5*time.Second), srv.URL).FetchAnswer(context.Background(), 3)
	gerr := asGatewayError(t, err)
	assert.Equal(t, KindBackend, gerr.Kind)
	assert.Equal(t, http.StatusBadRequest, gerr.Status)
	assert.Equal(t, "bad pdf", gerr.Error())
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewAPI(New(1*time.Second), srv.URL).GenerateAnswer(context.Background(), 7)
	gerr := asGatewayError(t, err)
	assert.Equal(t, KindTimeout, gerr.Kind)
	assert.Equal(t, "Request timed out after 1 seconds", gerr.Message)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewAPI(New(time.Second), url).FetchAnswer(context.Background(), 1)
	gerr := asGatewayError(t, err)
	assert.Equal(t, KindTransport, gerr.Kind)
	assert.NotContains(t, gerr.Message, "timed out")
}

func TestCallerCancelIsNotTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := NewAPI(New(5*time.Second), srv.URL).FetchAnswer(ctx, 1)
	assert.Equal(t, KindTransport, asGatewayError(t, err).Kind)
}

func TestUnreadableFile(t *testing.T) {
	broken := intake.CandidateFile{Name: "gone.pdf", Open: func() (io.ReadCloser, error) {
		return nil, errors.New("no such file")
	}}
	err := writeParts(multipart.NewWriter(io.Discard), FieldRFP, []intake.CandidateFile{broken})
	var perr *partError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "gone.pdf", perr.name)

	req := httptest.NewRequest(http.MethodPost, "http://backend/api/rfp/upload", nil)
	wrapped := fmt.Errorf("Post %q: %w", req.URL, err)
	c := New(time.Second)
	gerr := asGatewayError(t, c.classify(context.Background(), context.Background(), req, wrapped))
	assert.Equal(t, "Could not read gone.pdf", gerr.Message)
}
