// Package intake decides which files a picker may hold and keeps the
// per-picker selection.
package intake

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// MediaTypePDF is the only media type accepted without a name fallback.
const MediaTypePDF = "application/pdf"

// Opener returns the content of a candidate file. Each call yields a fresh reader.
type Opener func() (io.ReadCloser, error)

// CandidateFile is a user-provided blob. MediaType is a hint and may be empty or wrong.
type CandidateFile struct {
	Name         string
	Size         int64
	LastModified int64 // epoch milliseconds
	MediaType    string
	Open         Opener `json:"-"`
}

// IdentityKey identifies a selection entry without reading content.
type IdentityKey struct {
	Name         string
	Size         int64
	LastModified int64
}

func (k IdentityKey) String() string {
	return fmt.Sprintf("%s::%d::%d", k.Name, k.Size, k.LastModified)
}

// Key returns the identity key of f.
func (f CandidateFile) Key() IdentityKey {
	return IdentityKey{Name: f.Name, Size: f.Size, LastModified: f.LastModified}
}

// Reader opens the file content, failing when no opener was attached.
func (f CandidateFile) Reader() (io.ReadCloser, error) {
	if f.Open == nil {
		return nil, fmt.Errorf("file %q has no content source", f.Name)
	}
	return f.Open()
}

// FromBytes builds a candidate backed by an in-memory buffer.
func FromBytes(name, mediaType string, lastModified int64, data []byte) CandidateFile {
	return CandidateFile{
		Name:         name,
		Size:         int64(len(data)),
		LastModified: lastModified,
		MediaType:    mediaType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FromPath builds a candidate for a file on local disk. The media type hint
// is left to the caller.
func FromPath(path string, mediaType string) (CandidateFile, error) {
	st, err := os.Stat(path)
	if err != nil {
		return CandidateFile{}, err
	}
	if st.IsDir() {
		return CandidateFile{}, fmt.Errorf("%s is a directory", path)
	}
	return CandidateFile{
		Name:         st.Name(),
		Size:         st.Size(),
		LastModified: st.ModTime().UnixMilli(),
		MediaType:    mediaType,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}
