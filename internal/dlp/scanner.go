// Package dlp runs local policy checks on selected files before they leave
// the machine.
package dlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/trackshift/answer-intake/internal/config"
	"github.com/trackshift/answer-intake/internal/intake"
)

// pdfMagic is the header the backend checks for.
var pdfMagic = []byte("%PDF")

const scanBlock = 64 << 10

// Violation describes a policy failure.
type Violation struct {
	Rule   string
	File   string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s rejected by policy (%s): %s", v.File, v.Rule, v.Detail)
}

// Scanner executes policy checks on candidate files.
type Scanner interface {
	ScanFile(ctx context.Context, f intake.CandidateFile) error
	Enforced() bool
}

// RuleScanner performs extension, size, header and signature checks.
type RuleScanner struct {
	blockedExt        map[string]struct{}
	maxFileSize       uint64
	avSignatures      [][]byte
	requirePDFMagic   bool
	enforceViolations bool
}

// NewRuleScanner builds a scanner from cfg. It returns nil when the scanner
// is disabled.
func NewRuleScanner(cfg config.DLPConfig) Scanner {
	if cfg.Disabled {
		return nil
	}
	s := &RuleScanner{
		blockedExt: map[string]struct{}{
			".exe": {},
			".bat": {},
			".ps1": {},
			".js":  {},
		},
		maxFileSize:       cfg.MaxFileSize,
		requirePDFMagic:   cfg.RequirePDFMagic,
		enforceViolations: !cfg.Monitor,
	}
	if len(cfg.BlockedExtensions) > 0 {
		s.blockedExt = make(map[string]struct{})
		for _, ext := range cfg.BlockedExtensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s.blockedExt[ext] = struct{}{}
		}
	}
	for _, pat := range cfg.AVPatterns {
		if trimmed := strings.TrimSpace(pat); trimmed != "" {
			s.avSignatures = append(s.avSignatures, []byte(trimmed))
		}
	}
	return s
}

func (s *RuleScanner) Enforced() bool {
	return s.enforceViolations
}

func (s *RuleScanner) ScanFile(ctx context.Context, f intake.CandidateFile) error {
	ext := strings.ToLower(filepath.Ext(f.Name))
	if _, blocked := s.blockedExt[ext]; blocked {
		return &Violation{
			Rule:   "blocked_extension",
			File:   f.Name,
			Detail: fmt.Sprintf("extension %q not allowed", ext),
		}
	}
	if s.maxFileSize > 0 && f.Size > 0 && uint64(f.Size) > s.maxFileSize {
		return &Violation{
			Rule:   "max_file_size",
			File:   f.Name,
			Detail: fmt.Sprintf("file size %d exceeds limit %d", f.Size, s.maxFileSize),
		}
	}
	if !s.requirePDFMagic && len(s.avSignatures) == 0 {
		return nil
	}
	rc, err := f.Reader()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return s.scanContent(ctx, f.Name, rc)
}

// scanContent streams r in blocks, keeping an overlap so signatures that
// straddle a block boundary still match.
func (s *RuleScanner) scanContent(ctx context.Context, name string, r io.Reader) error {
	overlap := 0
	for _, sig := range s.avSignatures {
		if len(sig)-1 > overlap {
			overlap = len(sig) - 1
		}
	}
	buf := make([]byte, 0, scanBlock+overlap)
	block := make([]byte, scanBlock)
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := io.ReadFull(r, block)
		buf = append(buf, block[:n]...)
		if first && s.requirePDFMagic {
			if !bytes.HasPrefix(buf, pdfMagic) {
				return &Violation{
					Rule:   "pdf_header",
					File:   name,
					Detail: "content does not start with a PDF header",
				}
			}
		}
		first = false
		for _, sig := range s.avSignatures {
			if bytes.Contains(buf, sig) {
				return &Violation{
					Rule:   "av_signature",
					File:   name,
					Detail: "matched AV signature",
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", name, readErr)
		}
		if len(buf) > overlap {
			buf = append(buf[:0], buf[len(buf)-overlap:]...)
		}
	}
}
