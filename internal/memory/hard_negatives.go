package memory

import (
	"sync"
	"time"

	"github.com/gocityvibes/emini/internal/prefilter"
)

// HardNegative captures the context of a losing trade so future advisory
// prompts can cite concrete counterexamples.
type HardNegative struct {
	TradeID     string              `json:"trade_id"`
	Fingerprint string              `json:"fingerprint"`
	Setup       prefilter.SetupType `json:"setup"`
	Direction   prefilter.Direction `json:"direction"`
	Session     string              `json:"session"`
	Score       float64             `json:"score"`
	Confidence  int                 `json:"confidence"`
	NetPoints   float64             `json:"net_points"`
	ExitReason  string              `json:"exit_reason"`
	Features    Features            `json:"features"`
	RecordedAt  time.Time           `json:"recorded_at"`
}

// HardNegativeStore is a bounded FIFO of losing examples. When full, the
// oldest entry is evicted. It never grows past its cap.
type HardNegativeStore struct {
	mu      sync.RWMutex
	cap     int
	entries []HardNegative
}

// NewHardNegativeStore creates a store holding at most cap entries.
func NewHardNegativeStore(cap int) *HardNegativeStore {
	if cap <= 0 {
		cap = 200
	}
	return &HardNegativeStore{cap: cap}
}

// Add records a losing example, evicting the oldest when at capacity.
func (h *HardNegativeStore) Add(neg HardNegative) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) >= h.cap {
		h.entries = h.entries[len(h.entries)-h.cap+1:]
	}
	h.entries = append(h.entries, neg)
}

// Recent returns up to n entries, newest first.
func (h *HardNegativeStore) Recent(n int) []HardNegative {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]HardNegative, n)
	for i := 0; i < n; i++ {
		out[i] = h.entries[len(h.entries)-1-i]
	}
	return out
}

// ForFingerprint returns entries matching a fingerprint, newest first.
func (h *HardNegativeStore) ForFingerprint(fp string) []HardNegative {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []HardNegative
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Fingerprint == fp {
			out = append(out, h.entries[i])
		}
	}
	return out
}

// Len returns the number of stored entries.
func (h *HardNegativeStore) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
