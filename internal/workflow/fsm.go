package workflow

import (
	"fmt"

	"github.com/trackshift/answer-intake/internal/gateway"
)

// Phase is the progress of the latest RFP submission.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseUploading        Phase = "uploading"
	PhaseUploadFailed     Phase = "upload_failed"
	PhaseUploaded         Phase = "uploaded"
	PhaseGenerating       Phase = "generating"
	PhaseGenerationFailed Phase = "generation_failed"
	PhaseCompleted        Phase = "completed"
)

// Busy reports whether a request of the submission is outstanding.
func (p Phase) Busy() bool {
	return p == PhaseUploading || p == PhaseUploaded || p == PhaseGenerating
}

// EventKind enumerates what can happen to an RFP submission.
type EventKind string

const (
	EventSubmit              EventKind = "submit"
	EventRejected            EventKind = "rejected"
	EventUploadSucceeded     EventKind = "upload_succeeded"
	EventUploadFailed        EventKind = "upload_failed"
	EventGenerate            EventKind = "generate"
	EventGenerationSucceeded EventKind = "generation_succeeded"
	EventGenerationFailed    EventKind = "generation_failed"
	EventClearAnswers        EventKind = "clear_answers"
)

// Event is one input to Reduce. Upload, Answers and Message are only read
// for the kinds that carry them.
type Event struct {
	Kind    EventKind
	Upload  *gateway.RfpUploadResult
	Answers *gateway.BulkAnswerResult
	Message string
}

// RFPState is the display state of the RFP workflow. The upload and
// generation slots are independent; within a slot result and error are
// never both set.
type RFPState struct {
	Phase        Phase                     `json:"phase"`
	UploadBusy   bool                      `json:"upload_busy"`
	UploadResult *gateway.RfpUploadResult  `json:"upload_result"`
	UploadError  string                    `json:"upload_error,omitempty"`
	GenBusy      bool                      `json:"gen_busy"`
	GenError     string                    `json:"gen_error,omitempty"`
	Answers      *gateway.BulkAnswerResult `json:"answers"`
}

// InvalidTransitionError reports an event that is not allowed in a phase.
type InvalidTransitionError struct {
	From  Phase
	Event EventKind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s not allowed in phase %s", e.Event, e.From)
}

// Reduce applies ev to s. It has no side effects; on an invalid transition
// s is returned unchanged with an error.
func Reduce(s RFPState, ev Event) (RFPState, error) {
	if s.Phase == "" {
		s.Phase = PhaseIdle
	}
	invalid := func() (RFPState, error) {
		return s, &InvalidTransitionError{From: s.Phase, Event: ev.Kind}
	}
	next := s
	switch ev.Kind {
	case EventSubmit:
		if s.Phase.Busy() {
			return invalid()
		}
		next.UploadResult = nil
		next.UploadError = ""
		next.GenError = ""
		next.Answers = nil
		next.UploadBusy = true
		next.Phase = PhaseUploading
	case EventRejected:
		if s.Phase.Busy() {
			return invalid()
		}
		next.UploadError = ev.Message
		next.UploadResult = nil
		next.GenError = ""
		next.Answers = nil
		next.Phase = PhaseUploadFailed
	case EventUploadSucceeded:
		if s.Phase != PhaseUploading || ev.Upload == nil {
			return invalid()
		}
		next.UploadResult = ev.Upload
		next.UploadError = ""
		next.UploadBusy = false
		next.Phase = PhaseUploaded
	case EventUploadFailed:
		if s.Phase != PhaseUploading {
			return invalid()
		}
		next.UploadError = ev.Message
		next.UploadResult = nil
		next.UploadBusy = false
		next.Phase = PhaseUploadFailed
	case EventGenerate:
		if s.Phase != PhaseUploaded {
			return invalid()
		}
		next.GenBusy = true
		next.Phase = PhaseGenerating
	case EventGenerationSucceeded:
		if s.Phase != PhaseGenerating || ev.Answers == nil {
			return invalid()
		}
		next.Answers = ev.Answers
		next.GenError = ""
		next.GenBusy = false
		next.Phase = PhaseCompleted
	case EventGenerationFailed:
		if s.Phase != PhaseGenerating {
			return invalid()
		}
		next.GenError = ev.Message
		next.Answers = nil
		next.GenBusy = false
		next.Phase = PhaseGenerationFailed
	case EventClearAnswers:
		next.Answers = nil
		next.GenError = ""
	default:
		return invalid()
	}
	return next, nil
}
