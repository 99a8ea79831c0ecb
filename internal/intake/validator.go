package intake

import "strings"

// Mode is the capacity of a picker.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// IsAcceptable reports whether f is a PDF. Browsers often misreport the
// media type on drag-and-drop, so a ".pdf" name is enough.
func IsAcceptable(f CandidateFile) bool {
	if f.MediaType == MediaTypePDF {
		return true
	}
	return strings.HasSuffix(strings.ToLower(f.Name), ".pdf")
}

// Dedupe returns existing followed by the incoming files whose identity key
// was not seen before, in first-seen order.
func Dedupe(existing, incoming []CandidateFile) []CandidateFile {
	seen := make(map[IdentityKey]struct{}, len(existing)+len(incoming))
	out := make([]CandidateFile, 0, len(existing)+len(incoming))
	for _, batch := range [][]CandidateFile{existing, incoming} {
		for _, f := range batch {
			k := f.Key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// AcceptSelection applies one picker batch to existing. A single non-PDF in
// the batch discards the whole batch and reports rejected. In single mode
// only the first file of an all-PDF batch is kept.
func AcceptSelection(mode Mode, existing, incoming []CandidateFile) ([]CandidateFile, bool) {
	if len(incoming) == 0 {
		return existing, false
	}
	accepted := make([]CandidateFile, 0, len(incoming))
	for _, f := range incoming {
		if !IsAcceptable(f) {
			return existing, true
		}
		accepted = append(accepted, f)
	}
	if mode == ModeSingle {
		return accepted[:1], false
	}
	return Dedupe(existing, accepted), false
}
