// Package hashrate estimates each worker's effective hashrate from the
// difficulty of the shares it submits, using a sliding window for the
// instantaneous figure and an EMA overlay to smooth display values.
package hashrate

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Diff1Target is 2^32, the expected hash count for a difficulty-1 share.
const Diff1Target = 4294967296.0

const (
	// DefaultWindow is how far back the sliding window looks.
	DefaultWindow = 300 * time.Second
	// DefaultHalfLife is the EMA's half-life.
	DefaultHalfLife = 120 * time.Second
	// MinSpan floors the instantaneous-rate denominator so one or two
	// shares in a fresh window can't produce a wild spike.
	MinSpan = 10 * time.Second
	// EMAClampMultiple bounds the EMA at a multiple of the current
	// instantaneous rate, so stale state left over from a quiet period
	// can't blow the displayed rate out of proportion once shares resume.
	EMAClampMultiple = 64.0
)

type shareRecord struct {
	ts       time.Time
	diff     float64
	accepted bool
}

type workerState struct {
	shares     []shareRecord
	ema        float64
	lastUpdate time.Time
}

// Rate is a worker's current hashrate estimate, in hashes per second.
type Rate struct {
	Instantaneous float64
	EMA           float64
}

// Tracker maintains a per-worker sliding window plus EMA overlay.
type Tracker struct {
	window   time.Duration
	halfLife time.Duration

	mu      sync.Mutex
	workers map[string]*workerState
}

// NewTracker builds a Tracker with the given window and EMA half-life.
func NewTracker(window, halfLife time.Duration) *Tracker {
	return &Tracker{
		window:   window,
		halfLife: halfLife,
		workers:  make(map[string]*workerState),
	}
}

// NewDefaultTracker builds a Tracker using the standard window and
// half-life.
func NewDefaultTracker() *Tracker {
	return NewTracker(DefaultWindow, DefaultHalfLife)
}

// AddShare records one share submission for worker at time now, using
// the difficulty the miner was actually assigned (not its achieved
// share difficulty, to avoid biasing the estimate toward shares that
// happened to clear).
func (t *Tracker) AddShare(worker string, difficulty float64, accepted bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ws, ok := t.workers[worker]
	if !ok {
		ws = &workerState{}
		t.workers[worker] = ws
	}

	ws.shares = append(ws.shares, shareRecord{ts: now, diff: difficulty, accepted: accepted})
	t.cleanupLocked(ws, now)

	inst := instantaneousLocked(ws, now)

	if ws.lastUpdate.IsZero() {
		ws.ema = inst
	} else {
		dt := now.Sub(ws.lastUpdate).Seconds()
		if dt < 0 {
			dt = 0
		}
		alpha := 1 - math.Exp(-dt/t.halfLife.Seconds())
		ws.ema = alpha*inst + (1-alpha)*ws.ema
	}

	if cap := EMAClampMultiple * inst; ws.ema > cap {
		ws.ema = cap
	}
	ws.lastUpdate = now
}

func (t *Tracker) cleanupLocked(ws *workerState, now time.Time) {
	cutoff := now.Add(-t.window)
	kept := ws.shares[:0:0]
	for _, s := range ws.shares {
		if s.ts.After(cutoff) {
			kept = append(kept, s)
		}
	}
	ws.shares = kept
}

func instantaneousLocked(ws *workerState, now time.Time) float64 {
	var sumDiff float64
	var earliest time.Time
	found := false
	for _, s := range ws.shares {
		if !s.accepted {
			continue
		}
		sumDiff += s.diff
		if !found || s.ts.Before(earliest) {
			earliest = s.ts
			found = true
		}
	}
	if !found {
		return 0
	}
	span := now.Sub(earliest)
	if span < MinSpan {
		span = MinSpan
	}
	return sumDiff * Diff1Target / span.Seconds()
}

// Rate returns the worker's current instantaneous and EMA hashrate
// estimates, pruning its window to now first.
func (t *Tracker) Rate(worker string, now time.Time) Rate {
	t.mu.Lock()
	defer t.mu.Unlock()

	ws, ok := t.workers[worker]
	if !ok {
		return Rate{}
	}
	t.cleanupLocked(ws, now)
	return Rate{
		Instantaneous: instantaneousLocked(ws, now),
		EMA:           ws.ema,
	}
}

// Remove drops a worker's tracked state, called on session disconnect.
func (t *Tracker) Remove(worker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.workers, worker)
}

// Format renders a hashrate in hashes/sec as a human-readable string
// with the appropriate SI-ish unit.
func Format(hashrate float64) string {
	if hashrate <= 0 {
		return "0.00 H/s"
	}

	units := []string{"H/s", "KH/s", "MH/s", "GH/s", "TH/s", "PH/s", "EH/s"}
	unitIndex := 0
	for hashrate >= 1000 && unitIndex < len(units)-1 {
		hashrate /= 1000
		unitIndex++
	}
	return fmt.Sprintf("%.2f %s", hashrate, units[unitIndex])
}
