package connectors

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/trackshift/answer-intake/internal/intake"
)

type localConnector struct{}

// NewLocalConnector lists files from the local filesystem. Patterns are
// plain paths; the media type hint is sniffed from content.
func NewLocalConnector() Connector {
	return localConnector{}
}

func (localConnector) Name() string {
	return "local"
}

func (localConnector) Close() error {
	return nil
}

func (l localConnector) List(ctx context.Context, patterns []string) ([]intake.CandidateFile, error) {
	if len(patterns) == 0 {
		patterns = []string{"."}
	}
	var out []intake.CandidateFile
	for _, p := range patterns {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			f, err := l.candidate(p)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || !d.Type().IsRegular() || !isPDFName(d.Name()) {
				return nil
			}
			f, err := l.candidate(path)
			if err != nil {
				return err
			}
			out = append(out, f)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return out, nil
}

func (localConnector) candidate(path string) (intake.CandidateFile, error) {
	var hint string
	if mtype, err := mimetype.DetectFile(path); err == nil {
		hint = mtype.String()
	}
	return intake.FromPath(path, hint)
}
