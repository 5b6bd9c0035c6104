package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/gocityvibes/emini/internal/prefilter"
)

// ScriptedOracle replays a fixed sequence of decisions. Used by tests and
// by offline replay where no live advisory service is available. When the
// script runs out it falls back to the Default func, or skip.
type ScriptedOracle struct {
	mu      sync.Mutex
	script  []*Decision
	pos     int
	Calls   int
	Delay   time.Duration
	Err     error
	Default func(cand *prefilter.Candidate, octx Context) *Decision
}

// NewScriptedOracle builds a stub that returns the given decisions in order.
func NewScriptedOracle(script ...*Decision) *ScriptedOracle {
	return &ScriptedOracle{script: script}
}

// Evaluate pops the next scripted decision, stamping the candidate ID.
func (o *ScriptedOracle) Evaluate(ctx context.Context, cand *prefilter.Candidate, octx Context) (*Decision, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls++

	if o.Delay > 0 {
		select {
		case <-time.After(o.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if o.Err != nil {
		return nil, o.Err
	}

	if o.pos < len(o.script) {
		d := *o.script[o.pos]
		o.pos++
		d.CandidateID = cand.ID
		if d.DecidedAt.IsZero() {
			d.DecidedAt = time.Now().UTC()
		}
		if d.Source == "" {
			d.Source = "scripted"
		}
		return &d, nil
	}
	if o.Default != nil {
		return o.Default(cand, octx), nil
	}
	return SkipDecision(cand, "script_exhausted"), nil
}
