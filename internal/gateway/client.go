// Package gateway is the transport boundary to the answer backend. Every
// request is single-attempt and bounded by a timeout; every failure comes
// back as *Error carrying one user-facing message.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/trackshift/answer-intake/internal/intake"
)

const maxResponseBody = 64 << 20

// Client issues requests against the backend.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client whose requests are aborted after timeout.
func New(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		timeout: timeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout is the per-request bound.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// SubmitMultipart posts files as repeated parts under field and decodes the response into out.
func (c *Client) SubmitMultipart(ctx context.Context, url, field string, files []intake.CandidateFile, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, field, files))
	}()
	defer pr.Close()
	return c.do(ctx, http.MethodPost, url, mw.FormDataContentType(), pr, out)
}

// SubmitJSON posts body as JSON and decodes the response into out.
func (c *Client) SubmitJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, "application/json", bytes.NewReader(payload), out)
}

// FetchJSON issues a GET and decodes the response into out.
func (c *Client) FetchJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, "", nil, out)
}

func (c *Client) do(parent context.Context, method, url, contentType string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return c.classify(parent, ctx, req, err)
	}
	defer resp.Body.Close()

	logger := c.logger.With().
		Str("method", method).
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Logger()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := backendError(resp)
		logger.Warn().Str("error", rerr.Message).Msg("backend rejected request")
		return rerr
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return c.classify(parent, ctx, req, err)
	}
	if err := decodeBody(data, out); err != nil {
		merr := malformedError(req.URL.Path, err)
		logger.Warn().Err(err).Msg("malformed response")
		return merr
	}
	logger.Debug().Msg("request completed")
	return nil
}

// classify separates our own deadline from other failures. Cancellation of
// the caller's context is a transport failure, not a timeout.
func (c *Client) classify(parent, ctx context.Context, req *http.Request, err error) error {
	var perr *partError
	if errors.As(err, &perr) {
		c.logger.Warn().Err(perr.err).Str("file", perr.name).Msg("could not read selected file")
		return &Error{
			Kind:    KindTransport,
			Message: fmt.Sprintf("Could not read %s", perr.name),
			Err:     err,
		}
	}
	if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.logger.Warn().Str("url", req.URL.String()).Dur("timeout", c.timeout).Msg("request timed out")
		return timeoutError(c.timeout, err)
	}
	c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("request failed")
	return transportError(req, err)
}

// partError marks a failure to read a local file while streaming the body.
type partError struct {
	name string
	err  error
}

func (e *partError) Error() string { return fmt.Sprintf("read %s: %v", e.name, e.err) }

func (e *partError) Unwrap() error { return e.err }

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeParts(mw *multipart.Writer, field string, files []intake.CandidateFile) error {
	for _, f := range files {
		if err := writePart(mw, field, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, field string, f intake.CandidateFile) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(f.Name)))
	h.Set("Content-Type", intake.MediaTypePDF)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	rc, err := f.Reader()
	if err != nil {
		return &partError{name: f.Name, err: err}
	}
	defer rc.Close()
	if _, err := io.Copy(part, rc); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return err
		}
		return &partError{name: f.Name, err: err}
	}
	return nil
}
