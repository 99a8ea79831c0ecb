package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Kind classifies a failed request. Only the message reaches the user; the
// kind is kept for logs and callers that branch on it.
type Kind string

const (
	KindTransport Kind = "transport"
	KindTimeout   Kind = "timeout"
	KindBackend   Kind = "backend"
	KindMalformed Kind = "malformed"
)

const maxErrorBody = 1 << 20

// Error is the normalized failure of one request.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func timeoutError(timeout time.Duration, err error) *Error {
	secs := int(timeout.Round(time.Second) / time.Second)
	return &Error{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("Request timed out after %d seconds", secs),
		Err:     err,
	}
}

func transportError(req *http.Request, err error) *Error {
	return &Error{
		Kind:    KindTransport,
		Message: fmt.Sprintf("Network request to %s failed", req.URL.Host),
		Err:     err,
	}
}

func malformedError(endpoint string, err error) *Error {
	return &Error{
		Kind:    KindMalformed,
		Message: fmt.Sprintf("Malformed response from %s: %v", endpoint, err),
		Err:     err,
	}
}

func backendError(resp *http.Response) *Error {
	return &Error{
		Kind:    KindBackend,
		Status:  resp.StatusCode,
		Message: readErrorBody(resp),
	}
}

func statusLine(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// readErrorBody turns a non-2xx body into one message: the "error" field of
// a JSON body, else its "detail" field, else the JSON text; plain bodies are
// used verbatim. Anything unreadable falls back to the status line.
func readErrorBody(resp *http.Response) string {
	fallback := statusLine(resp)
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fallback
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var payload any
		if err := json.Unmarshal(data, &payload); err != nil {
			return fallback
		}
		if obj, ok := payload.(map[string]any); ok {
			for _, field := range []string{"error", "detail"} {
				if msg := fieldText(obj[field]); msg != "" {
					return msg
				}
			}
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return fallback
		}
		return buf.String()
	}
	if strings.TrimSpace(string(data)) == "" {
		return fallback
	}
	return string(data)
}

// fieldText returns "" for absent or falsy values.
func fieldText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
	case float64:
		if t == 0 {
			return ""
		}
	}
	out, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(out)
}
