package memory

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/logging"
	"github.com/gocityvibes/emini/internal/prefilter"
)

// Status is a fingerprint's lifecycle state. Records are never deleted,
// only reclassified.
type Status string

const (
	StatusProbation   Status = "probation"
	StatusGold        Status = "gold"
	StatusQuarantined Status = "quarantined"
)

// Outcome is the closed-trade feedback applied to a fingerprint.
type Outcome struct {
	TradeID   string
	NetPoints float64
	Win       bool
	ClosedAt  time.Time
}

// Record is the accumulated history for one fingerprint.
type Record struct {
	Fingerprint string    `json:"fingerprint"`
	Features    Features  `json:"features"`
	Status      Status    `json:"status"`
	Samples     int       `json:"samples"`
	Wins        int       `json:"wins"`
	WinRate     float64   `json:"win_rate"`          // lifetime, percent
	TrailingWR  float64   `json:"trailing_win_rate"` // windowed, percent
	Expectancy  float64   `json:"expectancy"`        // EWMA of net points
	WilsonLower float64   `json:"wilson_lower"`      // lower bound, percent
	TotalPoints float64   `json:"total_points"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	StatusSince time.Time `json:"status_since"`

	recent  []bool // trailing outcome window, oldest first
	changed bool   // a status transition has occurred
}

// Store keeps fingerprint records in memory with read-modify-write done
// under one lock so concurrent trade closes cannot interleave updates.
type Store struct {
	mu      sync.RWMutex
	cfg     config.MemoryConfig
	log     zerolog.Logger
	records map[string]*Record
}

// NewStore creates an empty pattern store.
func NewStore(cfg config.MemoryConfig) *Store {
	return &Store{
		cfg:     cfg,
		log:     logging.Component("memory"),
		records: make(map[string]*Record),
	}
}

// Record applies one closed-trade outcome to the fingerprint derived from
// the candidate's features, creating the record on first sight, and
// returns a copy of the updated record.
func (s *Store) Record(cand *prefilter.Candidate, out Outcome) Record {
	feats := ExtractFeatures(cand)
	fp := Fingerprint(feats)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[fp]
	if !ok {
		r = &Record{
			Fingerprint: fp,
			Features:    feats,
			Status:      StatusProbation,
			FirstSeen:   out.ClosedAt,
			StatusSince: out.ClosedAt,
		}
		s.records[fp] = r
	}

	r.Samples++
	if out.Win {
		r.Wins++
	}
	r.TotalPoints += out.NetPoints
	r.LastSeen = out.ClosedAt
	r.WinRate = 100 * float64(r.Wins) / float64(r.Samples)

	alpha := s.cfg.EWMAAlpha
	if r.Samples == 1 {
		r.Expectancy = out.NetPoints
	} else {
		r.Expectancy = alpha*out.NetPoints + (1-alpha)*r.Expectancy
	}

	window := s.cfg.QuarantineMinSamples
	r.recent = append(r.recent, out.Win)
	if window > 0 && len(r.recent) > window {
		r.recent = r.recent[len(r.recent)-window:]
	}
	r.TrailingWR = trailingRate(r.recent)
	r.WilsonLower = wilsonLower(r.Wins, r.Samples)

	s.transitionLocked(r, out.ClosedAt)
	return snapshotRecord(r)
}

// transitionLocked applies status rules with cooldown hysteresis: after a
// change, the record holds its status for CooldownHours regardless of
// incoming results, so one streak cannot flap a pattern between tiers.
// Quarantine is terminal; quarantined patterns never re-promote.
func (s *Store) transitionLocked(r *Record, now time.Time) {
	if r.Status == StatusQuarantined {
		return
	}
	cooldown := time.Duration(s.cfg.CooldownHours) * time.Hour
	if r.changed && cooldown > 0 && now.Sub(r.StatusSince) < cooldown {
		return
	}

	prev := r.Status
	switch {
	case r.Samples >= s.cfg.QuarantineMinSamples &&
		len(r.recent) >= s.cfg.QuarantineMinSamples &&
		r.TrailingWR < s.cfg.QuarantineWinRate:
		r.Status = StatusQuarantined
	case r.Status == StatusProbation &&
		r.Samples >= s.cfg.MinSamplesForGold &&
		r.TrailingWR >= s.cfg.GoldWinRate:
		r.Status = StatusGold
	}

	if r.Status != prev {
		r.StatusSince = now
		r.changed = true
		s.log.Info().
			Str("fingerprint", r.Fingerprint).
			Str("from", string(prev)).
			Str("to", string(r.Status)).
			Int("samples", r.Samples).
			Float64("trailing_wr", r.TrailingWR).
			Msg("pattern status change")
	}
}

// Status returns the fingerprint's current status. Unknown fingerprints
// report probation, the state they would be created in.
func (s *Store) Status(fp string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.records[fp]; ok {
		return r.Status
	}
	return StatusProbation
}

// Get returns a copy of the record for a fingerprint.
func (s *Store) Get(fp string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[fp]
	if !ok {
		return Record{}, false
	}
	return snapshotRecord(r), true
}

// Lookup resolves a candidate's fingerprint and record in one call.
func (s *Store) Lookup(cand *prefilter.Candidate) (string, Record, bool) {
	fp := Fingerprint(ExtractFeatures(cand))
	rec, ok := s.Get(fp)
	return fp, rec, ok
}

// Summaries returns all records ordered by sample count descending.
func (s *Store) Summaries() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, snapshotRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Samples != out[j].Samples {
			return out[i].Samples > out[j].Samples
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// Restore loads persisted records on startup.
func (s *Store) Restore(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range records {
		r := records[i]
		// rebuild an approximate trailing window from aggregate counts
		window := s.cfg.QuarantineMinSamples
		n := r.Samples
		if n > window {
			n = window
		}
		wins := int(math.Round(r.TrailingWR / 100 * float64(n)))
		r.recent = make([]bool, 0, n)
		for k := 0; k < n; k++ {
			r.recent = append(r.recent, k < wins)
		}
		s.records[r.Fingerprint] = &r
	}
}

// Count returns the number of tracked fingerprints.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func snapshotRecord(r *Record) Record {
	cp := *r
	cp.recent = nil
	return cp
}

func trailingRate(recent []bool) float64 {
	if len(recent) == 0 {
		return 0
	}
	wins := 0
	for _, w := range recent {
		if w {
			wins++
		}
	}
	return 100 * float64(wins) / float64(len(recent))
}

// wilsonLower is the 95% Wilson score lower bound on the lifetime win
// rate, in percent. More honest than the raw rate at low sample counts.
func wilsonLower(wins, samples int) float64 {
	if samples == 0 {
		return 0
	}
	const z = 1.96
	n := float64(samples)
	p := float64(wins) / n
	denom := 1 + z*z/n
	center := p + z*z/(2*n)
	margin := z * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))
	return 100 * (center - margin) / denom
}
