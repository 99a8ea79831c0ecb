package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/trackshift/answer-intake/internal/intake"
	"github.com/trackshift/answer-intake/internal/workflow"
)

// picker binds one selection to the workflow that submits it.
type picker struct {
	selection *intake.Selection
	state     func() any
	start     func(ctx context.Context) (<-chan struct{}, error)
}

type fileView struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"last_modified"`
	MediaType    string `json:"media_type,omitempty"`
}

type pickerView struct {
	Mode     intake.Mode `json:"mode"`
	Files    []fileView  `json:"files"`
	Rejected bool        `json:"rejected"`
	State    any         `json:"state"`
}

func (p picker) view() pickerView {
	files := p.selection.Files()
	out := pickerView{
		Mode:     p.selection.Mode(),
		Files:    make([]fileView, 0, len(files)),
		Rejected: p.selection.Rejected(),
		State:    p.state(),
	}
	for _, f := range files {
		out.Files = append(out.Files, fileView{
			Key:          f.Key().String(),
			Name:         f.Name,
			Size:         f.Size,
			LastModified: f.LastModified,
			MediaType:    f.MediaType,
		})
	}
	return out
}

func (s *Server) mountPicker(r chi.Router, p picker) {
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, p.view())
	})

	r.Post("/files", func(w http.ResponseWriter, r *http.Request) {
		batch, err := s.readBatch(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status := http.StatusOK
		if p.selection.Add(batch) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, p.view())
	})

	r.Delete("/files", func(w http.ResponseWriter, r *http.Request) {
		key, err := parseKey(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !p.selection.Remove(key) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s is not selected", key))
			return
		}
		writeJSON(w, http.StatusOK, p.view())
	})

	r.Post("/clear", func(w http.ResponseWriter, _ *http.Request) {
		p.selection.Clear()
		writeJSON(w, http.StatusOK, p.view())
	})

	r.Post("/submit", func(w http.ResponseWriter, r *http.Request) {
		if _, err := p.start(s.baseCtx); err != nil {
			if errors.Is(err, workflow.ErrBusy) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, p.view())
	})
}

// readBatch turns the "files" parts of a multipart request into one picker
// batch. Optional "last_modified" values pair with the files by position;
// files without one get 0 so a repeated post keeps the same identity key.
func (s *Server) readBatch(w http.ResponseWriter, r *http.Request) ([]intake.CandidateFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		return nil, errors.New("files is required")
	}
	stamps := r.MultipartForm.Value["last_modified"]
	batch := make([]intake.CandidateFile, 0, len(headers))
	for i, header := range headers {
		var modified int64
		if i < len(stamps) {
			v, err := strconv.ParseInt(stamps[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid last_modified %q", stamps[i])
			}
			modified = v
		}
		data, err := readPart(header)
		if err != nil {
			return nil, err
		}
		batch = append(batch, intake.FromBytes(header.Filename, header.Header.Get("Content-Type"), modified, data))
	}
	return batch, nil
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", header.Filename, err)
	}
	return data, nil
}

func parseKey(r *http.Request) (intake.IdentityKey, error) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		return intake.IdentityKey{}, errors.New("name is required")
	}
	size, err := strconv.ParseInt(q.Get("size"), 10, 64)
	if err != nil {
		return intake.IdentityKey{}, fmt.Errorf("invalid size %q", q.Get("size"))
	}
	modified, err := strconv.ParseInt(q.Get("last_modified"), 10, 64)
	if err != nil {
		return intake.IdentityKey{}, fmt.Errorf("invalid last_modified %q", q.Get("last_modified"))
	}
	return intake.IdentityKey{Name: name, Size: size, LastModified: modified}, nil
}
