package template

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/radiant-proxy/rxdproxy/internal/bitcoinserial"
	"github.com/radiant-proxy/rxdproxy/internal/coinbase"
	"github.com/radiant-proxy/rxdproxy/internal/merkle"
	"github.com/radiant-proxy/rxdproxy/internal/rpc"
)

// Config holds the updater's tunables, all sourced from the proxy's
// external configuration.
type Config struct {
	ProxySignature         string
	NtimeRollSeconds       int64
	StaticShareDifficulty  float64
	VarDiffEnabled         bool
	VarDiffStartDifficulty float64
}

// Updater drives update_once: one RPC round-trip per refresh, with
// refreshes serialized so a ZMQ-triggered forced refresh never overlaps
// a poll-driven one.
type Updater struct {
	rpcClient *rpc.Client
	tmpl      *Template
	cfg       Config

	mu            sync.Mutex
	lastHeight    int64
	lastTimestamp int64
}

// NewUpdater builds an updater bound to tmpl and rpcClient.
func NewUpdater(rpcClient *rpc.Client, tmpl *Template, cfg Config) *Updater {
	return &Updater{
		rpcClient:     rpcClient,
		tmpl:          tmpl,
		cfg:           cfg,
		lastHeight:    -1,
		lastTimestamp: -1,
	}
}

// UpdateOnce performs one refresh and reports whether it published a
// new job to any session.
func (u *Updater) UpdateOnce(ctx context.Context) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	bt, err := u.rpcClient.GetBlockTemplate(ctx)
	if err != nil {
		return false, fmt.Errorf("template: getblocktemplate: %w", err)
	}

	ts := time.Now().Unix()
	newBlock := u.lastHeight == -1 || u.lastHeight != bt.Height
	rollDue := u.lastTimestamp == -1 || u.lastTimestamp+u.cfg.NtimeRollSeconds <= ts
	u.lastHeight = bt.Height

	prevHashBE, err := hex.DecodeString(bt.PreviousHash)
	if err != nil {
		return false, fmt.Errorf("template: decode previousblockhash: %w", err)
	}
	prevHashHeaderLE := bitcoinserial.ReverseBytes(prevHashBE)
	prevHashNotifyLE := wordSwap(prevHashHeaderLE)

	bitsRaw, err := hex.DecodeString(bt.Bits)
	if err != nil {
		return false, fmt.Errorf("template: decode bits: %w", err)
	}

	targetInt, err := parseHexTarget(bt.Target)
	if err != nil {
		return false, fmt.Errorf("template: decode target: %w", err)
	}
	networkDiff := bitcoinserial.TargetToDiff1(targetInt)

	u.tmpl.mu.Lock()
	u.tmpl.height = bt.Height
	u.tmpl.version = bt.Version
	u.tmpl.bits = bt.Bits
	u.tmpl.bitsLE = bitcoinserial.ReverseBytes(bitsRaw)
	u.tmpl.prevHashBE = prevHashBE
	u.tmpl.prevHashHeaderLE = prevHashHeaderLE
	u.tmpl.prevHashNotifyLE = prevHashNotifyLE
	u.tmpl.target = targetInt
	u.tmpl.targetHex = bt.Target
	u.tmpl.networkDiff = networkDiff

	if !newBlock && !rollDue {
		u.tmpl.mu.Unlock()
		return false, nil
	}

	if len(u.tmpl.payoutScriptHash160) != 20 {
		u.tmpl.mu.Unlock()
		log.Printf("⚠️ template: no payout address claimed yet, skipping job build")
		return false, nil
	}

	var extraOutputs []coinbase.Output
	if bt.MinerFund != nil {
		for _, o := range bt.MinerFund.Outputs {
			if o.Value <= 0 {
				continue
			}
			script, err := hex.DecodeString(o.Script)
			if err != nil {
				continue
			}
			extraOutputs = append(extraOutputs, coinbase.Output{Value: o.Value, Script: script})
		}
	}

	sig := u.cfg.ProxySignature
	if sig == "" {
		sig = "/radiant-stratum-proxy/"
	}

	built, err := coinbase.Build(u.tmpl.payoutScriptHash160, bt.Height, []byte(sig), bt.CoinbaseValue, extraOutputs)
	if err != nil {
		u.tmpl.mu.Unlock()
		return false, fmt.Errorf("template: build coinbase: %w", err)
	}

	txids := make([][]byte, 0, 1+len(bt.Transactions))
	txids = append(txids, built.Txid)
	externalTxs := make([][]byte, 0, len(bt.Transactions))
	for _, tx := range bt.Transactions {
		raw, err := hex.DecodeString(tx.Data)
		if err != nil {
			u.tmpl.mu.Unlock()
			return false, fmt.Errorf("template: decode transaction data: %w", err)
		}
		externalTxs = append(externalTxs, raw)

		txidBE, err := hex.DecodeString(tx.Txid)
		if err != nil {
			u.tmpl.mu.Unlock()
			return false, fmt.Errorf("template: decode txid: %w", err)
		}
		txids = append(txids, bitcoinserial.ReverseBytes(txidBE))
	}

	merkleBranch := merkle.BranchForIndex0(txids)

	u.tmpl.coinbaseTxid = built.Txid
	u.tmpl.coinbase1 = built.Coinbase1
	u.tmpl.coinbase2 = built.Coinbase2
	u.tmpl.merkleBranch = merkleBranch
	u.tmpl.externalTxs = externalTxs
	u.tmpl.timestamp = ts
	u.tmpl.jobID = ts
	u.lastTimestamp = ts

	difficulty := u.cfg.StaticShareDifficulty
	if difficulty <= 0 {
		difficulty = 1
	}
	clean := newBlock || !rollDue

	params := JobParams{
		JobID:        strconv.FormatInt(ts, 16),
		PrevHashHex:  hex.EncodeToString(prevHashNotifyLE),
		Coinbase1Hex: hex.EncodeToString(built.Coinbase1),
		Coinbase2Hex: hex.EncodeToString(built.Coinbase2),
		MerkleHex:    merkle.BranchToHex(merkleBranch),
		VersionHex:   beUint32Hex(uint32(bt.Version)),
		BitsHex:      bt.Bits,
		NtimeHex:     beUint32Hex(uint32(ts)),
		Clean:        clean,
	}

	allSessions := u.tmpl.allSessions
	newSessions := u.tmpl.newSessions
	u.tmpl.newSessions = make(map[Notifiee]struct{})
	u.tmpl.mu.Unlock()

	u.tmpl.SetLastParams(params)

	alive := make(map[Notifiee]struct{}, len(allSessions))
	for sess := range allSessions {
		if u.cfg.VarDiffEnabled {
			if sess.CurrentDifficulty() <= 0 {
				sess.SetCurrentDifficulty(difficulty)
				if err := sess.SendSetDifficulty(difficulty); err != nil {
					continue
				}
			}
		} else {
			sess.SetCurrentDifficulty(difficulty)
			if err := sess.SendSetDifficulty(difficulty); err != nil {
				continue
			}
		}
		if err := sess.SendNotify(params); err != nil {
			continue
		}
		alive[sess] = struct{}{}
	}

	for sess := range newSessions {
		initial := difficulty
		if u.cfg.VarDiffEnabled {
			initial = u.cfg.VarDiffStartDifficulty
		}
		sess.SetCurrentDifficulty(initial)
		if err := sess.SendSetDifficulty(initial); err != nil {
			continue
		}
		if err := sess.SendNotify(params); err != nil {
			continue
		}
		alive[sess] = struct{}{}
	}

	u.tmpl.mu.Lock()
	u.tmpl.allSessions = alive
	u.tmpl.mu.Unlock()

	return true, nil
}

// wordSwap reverses each 4-byte word of b independently — the
// historical Stratum prev-hash quirk, distinct from a plain full
// reversal.
func wordSwap(b []byte) []byte {
	out := make([]byte, len(b))
	for i := 0; i+4 <= len(b); i += 4 {
		word := b[i : i+4]
		out[i], out[i+1], out[i+2], out[i+3] = word[3], word[2], word[1], word[0]
	}
	return out
}

func beUint32Hex(v uint32) string {
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return hex.EncodeToString(b)
}

// parseHexTarget decodes the node's hex target string (possibly
// odd-length, as getblocktemplate emits it) into a big.Int.
func parseHexTarget(h string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex target %q", h)
	}
	return n, nil
}
