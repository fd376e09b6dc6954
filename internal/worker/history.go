package worker

import (
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

// defaultMaxHistory bounds the recency cache. Only the most recent entry is
// ever used for priming, but a small window is kept so repeated fragments can
// be recognized across more than one chunk boundary.
const defaultMaxHistory = 5

// nearDupThreshold is the Jaro-Winkler similarity above which a new fragment
// is considered an echo of the previous one. Chunk boundaries often replay
// the tail of the prior chunk with minor decoding differences, so exact
// comparison alone misses most repeats.
const nearDupThreshold = 0.95

// History is the bounded recency cache of accepted transcript fragments. Its
// only consumer-facing read is MostRecent, which primes the next
// transcription call.
//
// Safe for concurrent use, though the pipeline drives it from a single
// worker goroutine.
type History struct {
	mu      sync.Mutex
	max     int
	entries []string
}

// NewHistory creates a History holding up to max entries. max <= 0 uses the
// default of 5.
func NewHistory(max int) *History {
	if max <= 0 {
		max = defaultMaxHistory
	}
	return &History{max: max}
}

// Add appends text unless it repeats the most recent entry. Exact repeats
// and near-duplicates (Jaro-Winkler above 0.95, case-insensitive) are both
// suppressed. Returns true when the entry was stored.
func (h *History) Add(text string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if text == "" {
		return false
	}
	if n := len(h.entries); n > 0 {
		last := h.entries[n-1]
		if text == last {
			return false
		}
		if matchr.JaroWinkler(strings.ToLower(text), strings.ToLower(last), false) >= nearDupThreshold {
			return false
		}
	}

	h.entries = append(h.entries, text)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	return true
}

// MostRecent returns the last accepted entry, or "" when the history is
// empty.
func (h *History) MostRecent() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1]
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Reset clears all entries. Called on pipeline restart.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
