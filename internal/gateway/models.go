package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// UploadResult is the response of the document ingestion endpoint.
type UploadResult struct {
	InsertedDocumentIDs []int64           `json:"inserted_document_ids" validate:"required,dive,gt=0"`
	Received            int               `json:"received,omitempty" validate:"gte=0"`
	Failed              map[string]string `json:"failed,omitempty"`
}

// RfpUploadResult is the response of the RFP upload endpoint.
type RfpUploadResult struct {
	RfpID       int64   `json:"rfp_id" validate:"required,gt=0"`
	QuestionIDs []int64 `json:"questions,omitempty"`
}

// BulkAnswerResult groups the generated answers of one RFP by question.
type BulkAnswerResult struct {
	RfpID     int64      `json:"rfp_id" validate:"required,gt=0"`
	Questions []Question `json:"questions" validate:"required,dive"`
}

type Question struct {
	ID      int64    `json:"id" validate:"required,gt=0"`
	Content string   `json:"content"`
	Answers []Answer `json:"answers" validate:"required,dive"`
}

type Answer struct {
	ID              int64      `json:"id" validate:"required,gt=0"`
	Content         string     `json:"content"`
	CreatedAt       *Timestamp `json:"created_at"`
	QuestionID      int64      `json:"question_id" validate:"required,gt=0"`
	AnswerVersionID *int64     `json:"answer_version_id"`
}

// SingleAnswerResult is the response of the single-question endpoint. An
// empty Answers means no matching context was found.
type SingleAnswerResult struct {
	Question int64    `json:"question" validate:"required,gt=0"`
	Answers  []Answer `json:"answers" validate:"dive"`
}

// answerEnvelope wraps a stored answer.
type answerEnvelope struct {
	Answer *Answer `json:"answer" validate:"required"`
}

type bulkAnswerRequest struct {
	RfpID int64 `json:"rfp_id"`
}

type singleAnswerRequest struct {
	QuestionID int64 `json:"question_id"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp accepts ISO-8601 values with or without a zone offset. Values
// without an offset are read as UTC.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
