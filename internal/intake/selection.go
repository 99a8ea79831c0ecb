package intake

import "sync"

// Selection holds the accepted files of one picker. All mutations go through
// AcceptSelection, so it never contains a non-PDF entry.
type Selection struct {
	mu       sync.Mutex
	mode     Mode
	files    []CandidateFile
	rejected bool
}

// NewSelection returns an empty selection for the given mode.
func NewSelection(mode Mode) *Selection {
	if mode != ModeSingle {
		mode = ModeMulti
	}
	return &Selection{mode: mode}
}

func (s *Selection) Mode() Mode {
	return s.mode
}

// Files returns a copy of the current entries in order.
func (s *Selection) Files() []CandidateFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CandidateFile(nil), s.files...)
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Rejected reports whether the last batch contained a non-PDF file.
func (s *Selection) Rejected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Add applies a picker batch and returns the rejected flag for it.
func (s *Selection) Add(batch []CandidateFile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, rejected := AcceptSelection(s.mode, s.files, batch)
	s.files = append([]CandidateFile(nil), next...)
	s.rejected = rejected
	return rejected
}

// Remove drops the entry with key k. It reports whether anything was removed.
func (s *Selection) Remove(k IdentityKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = false
	for i, f := range s.files {
		if f.Key() == k {
			s.files = append(s.files[:i:i], s.files[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the selection and resets the rejected flag.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
	s.rejected = false
}

// Reset empties the selection after a successful submission. The rejected
// flag belongs to the picker and is left alone.
func (s *Selection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
}
