// Package coinbase builds Radiant coinbase transactions: BIP34 height
// encoding plus the byte split Stratum framing needs to splice an
// 8-byte extranonce region into the scriptSig between two halves sent
// to miners as coinbase_1/coinbase_2.
package coinbase

import (
	"errors"

	"github.com/radiant-proxy/rxdproxy/internal/bitcoinserial"
)

// ExtranonceSize is the number of scriptSig bytes reserved for
// extranonce1 ∥ extranonce2 in every coinbase this package builds.
const ExtranonceSize = 8

// Output is an extra coinbase output beyond the miner payout, e.g. a
// development/miner-fund split.
type Output struct {
	Value  int64 // base units (satoshis-equivalent)
	Script []byte
}

// Built holds every artifact a template needs once a coinbase has been
// assembled for a given height and payout address.
type Built struct {
	Full      []byte // fully serialized transaction, extranonce bytes included as zeros
	Txid      []byte // dsha256(Full), little-endian internal order
	Coinbase1 []byte // bytes before the extranonce region
	Coinbase2 []byte // bytes after the extranonce region
}

// EncodeHeightBIP34 encodes a block height for the coinbase scriptSig.
//
// Height 0 emits OP_0 (0x00). Heights 1-16 emit the single opcode
// OP_1..OP_16 (0x50+height) with no length prefix — this is Radiant's
// refinement on plain BIP34, matching ScriptInt::fromIntUnchecked in
// the reference node. Heights above 16 use a minimally-encoded signed
// little-endian script number preceded by an op_push.
func EncodeHeightBIP34(height int64) []byte {
	switch {
	case height == 0:
		return []byte{0x00}
	case height >= 1 && height <= 16:
		return []byte{byte(0x50 + height)}
	}

	neg := height < 0
	abs := height
	if neg {
		abs = -height
	}

	var num []byte
	for abs != 0 {
		num = append(num, byte(abs&0xFF))
		abs >>= 8
	}
	if len(num) > 0 && num[len(num)-1]&0x80 != 0 {
		if neg {
			num = append(num, 0x80)
		} else {
			num = append(num, 0x00)
		}
	} else if neg {
		num[len(num)-1] |= 0x80
	}

	out := make([]byte, 0, len(num)+2)
	out = append(out, bitcoinserial.OpPush(len(num))...)
	out = append(out, num...)
	return out
}

// Build assembles a coinbase transaction paying h160 (a P2PKH hash160)
// coinbaseValue at the given height, with arbitrary embedded as the
// proxy's signature string, plus any extra outputs. The returned
// splits straddle an 8-byte zeroed placeholder for extranonce1 ∥
// extranonce2; callers splice the real extranonce bytes between
// Coinbase1 and Coinbase2 before hashing a share's coinbase.
func Build(h160 []byte, height int64, arbitrary []byte, coinbaseValue int64, extra []Output) (*Built, error) {
	if len(h160) != 20 {
		return nil, errors.New("coinbase: h160 must be 20 bytes")
	}

	heightScript := EncodeHeightBIP34(height)
	scriptPrefix := make([]byte, 0, len(heightScript)+len(arbitrary)+2)
	scriptPrefix = append(scriptPrefix, heightScript...)
	scriptPrefix = append(scriptPrefix, bitcoinserial.OpPush(len(arbitrary))...)
	scriptPrefix = append(scriptPrefix, arbitrary...)

	totalScriptLen := len(scriptPrefix) + ExtranonceSize

	txinStart := make([]byte, 0, 32+4+9+len(scriptPrefix))
	txinStart = append(txinStart, make([]byte, 32)...)      // null outpoint hash
	txinStart = append(txinStart, 0xFF, 0xFF, 0xFF, 0xFF)   // outpoint index
	txinStart = append(txinStart, bitcoinserial.VarInt(uint64(totalScriptLen))...)
	txinStart = append(txinStart, scriptPrefix...)

	txinEnd := []byte{0xFF, 0xFF, 0xFF, 0xFF} // sequence

	payoutScript := make([]byte, 0, 25)
	payoutScript = append(payoutScript, 0x76, 0xA9, 0x14)
	payoutScript = append(payoutScript, h160...)
	payoutScript = append(payoutScript, 0x88, 0xAC)

	outputs := make([][]byte, 0, 1+len(extra))
	outputs = append(outputs, encodeOutput(coinbaseValue, payoutScript))
	for _, o := range extra {
		outputs = append(outputs, encodeOutput(o.Value, o.Script))
	}

	var outputBytes []byte
	for _, o := range outputs {
		outputBytes = append(outputBytes, o...)
	}

	placeholder := make([]byte, ExtranonceSize)

	full := make([]byte, 0, 4+1+len(txinStart)+len(placeholder)+len(txinEnd)+9+len(outputBytes)+4)
	full = append(full, leUint32(1)...) // version
	full = append(full, 0x01)           // 1 input
	full = append(full, txinStart...)
	full = append(full, placeholder...)
	full = append(full, txinEnd...)
	full = append(full, bitcoinserial.VarInt(uint64(len(outputs)))...)
	full = append(full, outputBytes...)
	full = append(full, make([]byte, 4)...) // locktime

	coinbase1 := make([]byte, 0, 4+1+len(txinStart))
	coinbase1 = append(coinbase1, leUint32(1)...)
	coinbase1 = append(coinbase1, 0x01)
	coinbase1 = append(coinbase1, txinStart...)

	coinbase2 := make([]byte, 0, len(txinEnd)+9+len(outputBytes)+4)
	coinbase2 = append(coinbase2, txinEnd...)
	coinbase2 = append(coinbase2, bitcoinserial.VarInt(uint64(len(outputs)))...)
	coinbase2 = append(coinbase2, outputBytes...)
	coinbase2 = append(coinbase2, make([]byte, 4)...)

	return &Built{
		Full:      full,
		Txid:      bitcoinserial.Dsha256(full),
		Coinbase1: coinbase1,
		Coinbase2: coinbase2,
	}, nil
}

// Assemble recombines coinbase1/coinbase2 with a real extranonce,
// mirroring what a submitted share's proof has to reconstruct.
func Assemble(coinbase1, extranonce1, extranonce2, coinbase2 []byte) []byte {
	out := make([]byte, 0, len(coinbase1)+len(extranonce1)+len(extranonce2)+len(coinbase2))
	out = append(out, coinbase1...)
	out = append(out, extranonce1...)
	out = append(out, extranonce2...)
	out = append(out, coinbase2...)
	return out
}

func encodeOutput(value int64, script []byte) []byte {
	out := make([]byte, 0, 8+9+len(script))
	out = append(out, leUint64(uint64(value))...)
	out = append(out, bitcoinserial.OpPush(len(script))...)
	out = append(out, script...)
	return out
}

func leUint32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func leUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
