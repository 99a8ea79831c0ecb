package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/trackshift/answer-intake/internal/intake"
)

// Multipart field names expected by the backend.
const (
	FieldDocuments = "documents"
	FieldRFP       = "rfp"
)

// API binds the backend endpoints to one base URL. Documents and answers
// are served from the same base.
type API struct {
	client *Client
	base   string
}

// NewAPI returns the endpoint set rooted at base.
func NewAPI(client *Client, base string) *API {
	return &API{client: client, base: strings.TrimSuffix(base, "/")}
}

func (a *API) Base() string {
	return a.base
}

// Client exposes the underlying transport.
func (a *API) Client() *Client {
	return a.client
}

func (a *API) url(path string) string {
	return a.base + path
}

// UploadDocuments sends files to the ingestion endpoint.
func (a *API) UploadDocuments(ctx context.Context, files []intake.CandidateFile) (*UploadResult, error) {
	var out UploadResult
	if err := a.client.SubmitMultipart(ctx, a.url("/api/documents/upload"), FieldDocuments, files, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadRFP sends one RFP document for question extraction.
func (a *API) UploadRFP(ctx context.Context, file intake.CandidateFile) (*RfpUploadResult, error) {
	var out RfpUploadResult
	if err := a.client.SubmitMultipart(ctx, a.url("/api/rfp/upload"), FieldRFP, []intake.CandidateFile{file}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateBulkAnswers generates answers for every unanswered question of an RFP.
func (a *API) GenerateBulkAnswers(ctx context.Context, rfpID int64) (*BulkAnswerResult, error) {
	var out BulkAnswerResult
	if err := a.client.SubmitJSON(ctx, a.url("/api/answers/bulk-generate"), bulkAnswerRequest{RfpID: rfpID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateAnswer generates answers for a single question, or returns the
// ones already stored for it.
func (a *API) GenerateAnswer(ctx context.Context, questionID int64) (*SingleAnswerResult, error) {
	var out SingleAnswerResult
	if err := a.client.SubmitJSON(ctx, a.url("/api/answers/generate"), singleAnswerRequest{QuestionID: questionID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchAnswer loads a stored answer.
func (a *API) FetchAnswer(ctx context.Context, answerID int64) (*Answer, error) {
	var out answerEnvelope
	if err := a.client.FetchJSON(ctx, a.url(fmt.Sprintf("/api/answers/%d", answerID)), &out); err != nil {
		return nil, err
	}
	return out.Answer, nil
}
