// Package shares validates Stratum v1 mining.submit calls against the
// active template and reports accept/reject/block outcomes.
package shares

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/radiant-proxy/rxdproxy/internal/bitcoinserial"
	"github.com/radiant-proxy/rxdproxy/internal/merkle"
	"github.com/radiant-proxy/rxdproxy/internal/rpc"
	"github.com/radiant-proxy/rxdproxy/internal/template"
)

// Stratum v1 error codes this validator can raise.
const (
	ErrOther         = 20
	ErrStaleJob      = 21
	ErrDuplicate     = 22
	ErrLowDifficulty = 23
)

// ValidationError is a rejected-submission outcome, carrying the
// Stratum error code the session should report back to the miner.
type ValidationError struct {
	Code    int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("share rejected (%d): %s", e.Code, e.Message)
}

func reject(code int, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Submission is one mining.submit call, already decoded from the wire.
type Submission struct {
	WorkerID       string
	JobIDHex       string
	Extranonce1Hex string
	Extranonce2Hex string
	NtimeHex       string
	NonceHex       string
	SentDifficulty float64
}

// Result describes an accepted submission.
type Result struct {
	Block        bool
	ShareDiff    float64
	BlockHashHex string
}

// HashrateTracker is the subset of internal/hashrate.Tracker the
// validator needs.
type HashrateTracker interface {
	AddShare(worker string, difficulty float64, accepted bool, now time.Time)
}

// VarDiffRecorder is the subset of internal/vardiff.Manager the
// validator needs.
type VarDiffRecorder interface {
	RecordShare(worker string, diffUsed float64)
}

// EventSink receives a notification for every processed submission.
type EventSink interface {
	EmitShare(evt Event)
}

// Event is published for every processed submission, accepted or not.
type Event struct {
	Worker            string
	Accepted          bool
	Block             bool
	BlockAccepted     bool
	ShareDiff         float64
	SentDifficulty    float64
	NetworkDifficulty float64
	BlockHashHex      string
	RejectReason      string
}

// Validator implements spec section 4.G against a live Template.
type Validator struct {
	tmpl      *template.Template
	rpcClient *rpc.Client
	hashrate  HashrateTracker
	vardiff   VarDiffRecorder
	events    EventSink
	history   *HistoryWriter

	mu         sync.Mutex
	duplicates map[string]map[string]struct{} // job id hex -> dedupe key set
}

// NewValidator wires a Validator against its collaborators. hashrate,
// vardiff, events, and history may be nil, in which case that side
// effect is skipped (useful in tests exercising only the PoW path).
func NewValidator(tmpl *template.Template, rpcClient *rpc.Client, hashrate HashrateTracker, vardiff VarDiffRecorder, events EventSink, history *HistoryWriter) *Validator {
	return &Validator{
		tmpl:       tmpl,
		rpcClient:  rpcClient,
		hashrate:   hashrate,
		vardiff:    vardiff,
		events:     events,
		history:    history,
		duplicates: make(map[string]map[string]struct{}),
	}
}

// Validate processes one submission: reconstructs the header, checks
// proof of work, applies side effects, and submits the block to the
// node if one was found.
func (v *Validator) Validate(ctx context.Context, sub Submission) (*Result, error) {
	snap := v.tmpl.Snapshot()
	networkDiff := v.tmpl.NetworkDifficulty()

	if !snap.Ready {
		err := reject(ErrStaleJob, "no job published yet")
		v.recordOutcome(sub, false, false, false, 0, networkDiff, "", err.Message)
		return nil, err
	}

	activeJobID := fmt.Sprintf("%x", snap.JobID)
	if sub.JobIDHex != activeJobID {
		err := reject(ErrStaleJob, "job %s is not the active job", sub.JobIDHex)
		v.recordOutcome(sub, false, false, false, 0, networkDiff, "", err.Message)
		return nil, err
	}

	dupeKey := sub.Extranonce2Hex + "|" + sub.NtimeHex + "|" + sub.NonceHex
	if v.isDuplicate(sub.JobIDHex, dupeKey) {
		err := reject(ErrDuplicate, "duplicate share")
		v.recordOutcome(sub, false, false, false, 0, networkDiff, "", err.Message)
		return nil, err
	}

	extranonce1, err1 := hex.DecodeString(sub.Extranonce1Hex)
	extranonce2, err2 := hex.DecodeString(sub.Extranonce2Hex)
	ntimeBE, err3 := hex.DecodeString(sub.NtimeHex)
	nonceBE, err4 := hex.DecodeString(sub.NonceHex)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || len(ntimeBE) != 4 || len(nonceBE) != 4 {
		err := reject(ErrOther, "malformed submit parameters")
		v.recordOutcome(sub, false, false, false, 0, networkDiff, "", err.Message)
		return nil, err
	}

	coinbase := make([]byte, 0, len(snap.Coinbase1)+len(extranonce1)+len(extranonce2)+len(snap.Coinbase2))
	coinbase = append(coinbase, snap.Coinbase1...)
	coinbase = append(coinbase, extranonce1...)
	coinbase = append(coinbase, extranonce2...)
	coinbase = append(coinbase, snap.Coinbase2...)

	coinbaseTxidLE := bitcoinserial.Dsha256(coinbase)
	merkleRootLE := merkle.FoldBranchIndex0(coinbaseTxidLE, snap.MerkleBranch)

	header := make([]byte, 80)
	binary.LittleEndian.PutUint32(header[0:4], uint32(snap.Version))
	copy(header[4:36], snap.PrevHashHeaderLE)
	copy(header[36:68], merkleRootLE)
	header[68], header[69], header[70], header[71] = ntimeBE[3], ntimeBE[2], ntimeBE[1], ntimeBE[0]
	copy(header[72:76], snap.BitsLE)
	header[76], header[77], header[78], header[79] = nonceBE[3], nonceBE[2], nonceBE[1], nonceBE[0]

	powDigest := bitcoinserial.Sha512_256d(header)
	hInt := bitcoinserial.LEBytesToInt(powDigest)

	shareDiff := shareDifficulty(hInt)
	isBlock := snap.Target != nil && hInt.Cmp(snap.Target) <= 0

	if !isBlock && shareDiff < 0.99*sub.SentDifficulty {
		err := reject(ErrLowDifficulty, "insufficient difficulty: got %.4f, need %.4f", shareDiff, sub.SentDifficulty)
		v.recordOutcome(sub, false, false, false, shareDiff, networkDiff, "", err.Message)
		return nil, err
	}

	result := &Result{ShareDiff: shareDiff}
	blockAccepted := true

	if isBlock {
		result.Block = true
		blockHashLE := bitcoinserial.Sha512_256d(header)
		blockHashBE := bitcoinserial.ReverseBytes(blockHashLE)
		result.BlockHashHex = hex.EncodeToString(blockHashBE)

		blockHex, serr := v.serializeBlock(header, coinbase, snap.ExternalTxs)
		if serr != nil {
			log.Printf("⚠️ shares: serialize block %s: %v", result.BlockHashHex, serr)
			blockAccepted = false
		} else if v.rpcClient != nil {
			rejection, err := v.rpcClient.SubmitBlock(ctx, blockHex)
			switch {
			case err != nil:
				log.Printf("⚠️ shares: submitblock %s: %v", result.BlockHashHex, err)
				blockAccepted = false
			case rejection != "":
				log.Printf("⚠️ shares: node rejected block %s: %s", result.BlockHashHex, rejection)
				blockAccepted = false
			}
		}
	}

	if v.hashrate != nil {
		v.hashrate.AddShare(sub.WorkerID, sub.SentDifficulty, true, time.Now())
	}
	if v.vardiff != nil {
		v.vardiff.RecordShare(sub.WorkerID, sub.SentDifficulty)
	}
	v.recordOutcome(sub, true, result.Block, blockAccepted, result.ShareDiff, networkDiff, result.BlockHashHex, "")

	return result, nil
}

func (v *Validator) isDuplicate(jobID, key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	set, ok := v.duplicates[jobID]
	if !ok {
		set = make(map[string]struct{})
		v.duplicates[jobID] = set
	}
	if _, seen := set[key]; seen {
		return true
	}
	set[key] = struct{}{}
	return false
}

// ForgetStaleJobs drops duplicate-tracking state for any job id not in
// keep. Validate never prunes this state itself; entries for old jobs
// stay until ForgetStaleJobs is called.
func (v *Validator) ForgetStaleJobs(keep map[string]struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id := range v.duplicates {
		if _, ok := keep[id]; !ok {
			delete(v.duplicates, id)
		}
	}
}

func (v *Validator) recordOutcome(sub Submission, accepted, block, blockAccepted bool, shareDiff, networkDiff float64, blockHashHex, reason string) {
	if v.events != nil {
		v.events.EmitShare(Event{
			Worker:            sub.WorkerID,
			Accepted:          accepted,
			Block:             block,
			BlockAccepted:     blockAccepted,
			ShareDiff:         shareDiff,
			SentDifficulty:    sub.SentDifficulty,
			NetworkDifficulty: networkDiff,
			BlockHashHex:      blockHashHex,
			RejectReason:      reason,
		})
	}
	if v.history != nil {
		v.history.Record(HistoryRecord{
			Timestamp: time.Now().Unix(),
			Worker:    sub.WorkerID,
			JobID:     sub.JobIDHex,
			Accepted:  accepted,
			Block:     block,
			ShareDiff: shareDiff,
			SentDiff:  sub.SentDifficulty,
			Reason:    reason,
			BlockHash: blockHashHex,
		})
	}
}

func (v *Validator) serializeBlock(header, coinbase []byte, externalTxs [][]byte) (string, error) {
	block := make([]byte, 0, len(header)+len(coinbase)+len(externalTxs)*250+9)
	block = append(block, header...)
	block = append(block, bitcoinserial.VarInt(uint64(1+len(externalTxs)))...)
	block = append(block, coinbase...)
	for _, tx := range externalTxs {
		block = append(block, tx...)
	}
	return hex.EncodeToString(block), nil
}

// shareDifficulty computes diff1_target / max(1, h).
func shareDifficulty(h *big.Int) float64 {
	one := big.NewInt(1)
	divisor := h
	if h.Cmp(one) < 0 {
		divisor = one
	}
	f := new(big.Float).SetInt(bitcoinserial.Diff1Target)
	d := new(big.Float).SetInt(divisor)
	f.Quo(f, d)
	out, _ := f.Float64()
	return out
}
