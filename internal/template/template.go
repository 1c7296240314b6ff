// Package template owns the current mining job: the fields derived
// from the node's block template plus the set of live Stratum sessions
// waiting on (or already receiving) that job. It has exactly one
// writer — the updater — and many concurrent readers.
package template

import (
	"math/big"
	"sync"
)

// JobParams is the exact Stratum v1 positional parameter list sent in
// a mining.notify.
type JobParams struct {
	JobID         string
	PrevHashHex   string
	Coinbase1Hex  string
	Coinbase2Hex  string
	MerkleHex     []string
	VersionHex    string
	BitsHex       string
	NtimeHex      string
	Clean         bool
}

// Notifiee is the subset of stratum session behavior the template
// updater needs: sending the two notification types and tracking what
// difficulty a session was last told about. Defined here (not in
// internal/stratum) so this package never imports the session package.
type Notifiee interface {
	SendSetDifficulty(diff float64) error
	SendNotify(params JobParams) error
	CurrentDifficulty() float64
	SetCurrentDifficulty(diff float64)
}

// Template is the shared, lock-guarded job state.
type Template struct {
	mu sync.RWMutex

	height    int64
	version   int32
	bits      string
	bitsLE    []byte
	target    *big.Int
	targetHex string

	prevHashBE       []byte
	prevHashHeaderLE []byte
	prevHashNotifyLE []byte

	timestamp int64 // -1 until the first publish
	jobID     int64

	coinbaseTxid []byte
	coinbase1    []byte
	coinbase2    []byte
	merkleBranch [][]byte
	externalTxs  [][]byte // decoded raw transaction bytes, template order

	payoutScriptHash160 []byte
	networkDiff         float64
	lastParams          *JobParams

	newSessions map[Notifiee]struct{}
	allSessions map[Notifiee]struct{}
}

// New returns an empty Template, ready to receive its first publish.
func New() *Template {
	return &Template{
		timestamp:   -1,
		height:      -1,
		newSessions: make(map[Notifiee]struct{}),
		allSessions: make(map[Notifiee]struct{}),
	}
}

// AddNewSession registers a freshly-subscribed session. It will be
// migrated into the "all" set the next time a job is published.
func (t *Template) AddNewSession(s Notifiee) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.newSessions[s] = struct{}{}
}

// RemoveSession drops s from both sets (used on disconnect) and
// reports whether any session remains live.
func (t *Template) RemoveSession(s Notifiee) (anyRemaining bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.newSessions, s)
	delete(t.allSessions, s)
	return len(t.newSessions)+len(t.allSessions) > 0
}

// HasPayout reports whether a payout address has been claimed yet.
func (t *Template) HasPayout() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.payoutScriptHash160) == 20
}

// SetPayout claims the payout hash160 for this template, if unset.
// Returns false if a payout was already claimed (first-authorized-miner
// wins).
func (t *Template) SetPayout(h160 []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.payoutScriptHash160) == 20 {
		return false
	}
	t.payoutScriptHash160 = h160
	return true
}

// ClearPayout resets the payout, called when the last session
// disconnects so the next miner can reclaim it.
func (t *Template) ClearPayout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payoutScriptHash160 = nil
}

// Snapshot is an immutable, self-consistent copy of the fields the
// share validator needs, taken under a single read lock.
type Snapshot struct {
	JobID            int64
	Height           int64
	Version          int32
	Bits             string
	BitsLE           []byte
	Target           *big.Int
	PrevHashHeaderLE []byte
	Coinbase1        []byte
	Coinbase2        []byte
	MerkleBranch     [][]byte
	ExternalTxs      [][]byte
	Ready            bool // false until the first job has been published
}

// Snapshot copies out everything a concurrent reader needs without
// holding the lock across any subsequent work.
func (t *Template) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		JobID:            t.jobID,
		Height:           t.height,
		Version:          t.version,
		Bits:             t.bits,
		BitsLE:           t.bitsLE,
		Target:           t.target,
		PrevHashHeaderLE: t.prevHashHeaderLE,
		Coinbase1:        t.coinbase1,
		Coinbase2:        t.coinbase2,
		MerkleBranch:     t.merkleBranch,
		ExternalTxs:      t.externalTxs,
		Ready:            t.timestamp >= 0,
	}
}

// NetworkDifficulty returns the diff1-relative difficulty of the
// current target.
func (t *Template) NetworkDifficulty() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.networkDiff
}

// SetLastParams records the most recently published job parameters so a
// session that authorizes between publishes can be caught up immediately
// instead of waiting for the next refresh.
func (t *Template) SetLastParams(p JobParams) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := p
	t.lastParams = &cp
}

// LastParams returns the most recently published job parameters, if any
// job has been published yet.
func (t *Template) LastParams() (JobParams, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastParams == nil {
		return JobParams{}, false
	}
	return *t.lastParams, true
}
