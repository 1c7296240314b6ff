// Package merkle builds and folds the merkle branch a Stratum job hands
// miners, so a miner never transmits the transaction set back to the
// proxy: only the coinbase hash they computed locally, folded against a
// branch fixed at job-creation time.
package merkle

import (
	"encoding/hex"

	"github.com/radiant-proxy/rxdproxy/internal/bitcoinserial"
)

// RootFromTxidsLE computes the merkle root over txids already in
// little-endian (internal) byte order, index 0 first.
func RootFromTxidsLE(txids [][]byte) []byte {
	if len(txids) == 0 {
		return bitcoinserial.Dsha256([]byte{})
	}
	if len(txids) == 1 {
		return txids[0]
	}

	level := make([][]byte, len(txids))
	copy(level, txids)

	for len(level) > 1 {
		if len(level)&1 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, dsha256Pair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// BranchForIndex0 computes the merkle branch siblings for the leaf at
// index 0 (the coinbase transaction), the only index the proxy ever
// needs since the coinbase is always placed first.
func BranchForIndex0(txids [][]byte) [][]byte {
	if len(txids) <= 1 {
		return nil
	}

	var branch [][]byte
	idx := 0
	level := make([][]byte, len(txids))
	copy(level, txids)

	for len(level) > 1 {
		if len(level)&1 == 1 {
			level = append(level, level[len(level)-1])
		}
		pair := idx ^ 1
		branch = append(branch, level[pair])

		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, dsha256Pair(level[i], level[i+1]))
		}
		level = next
		idx /= 2
	}
	return branch
}

// FoldBranchIndex0 recombines a coinbase leaf hash with a previously
// computed branch to recover the merkle root, the operation a miner's
// local root computation mirrors and the proxy re-derives to validate a
// submitted share's header.
func FoldBranchIndex0(leafLE []byte, branch [][]byte) []byte {
	h := leafLE
	for _, sib := range branch {
		h = dsha256Pair(h, sib)
	}
	return h
}

// BranchToHex renders a branch as the hex strings sent in a Stratum
// mining.notify payload.
func BranchToHex(branch [][]byte) []string {
	out := make([]string, len(branch))
	for i, h := range branch {
		out[i] = hex.EncodeToString(h)
	}
	return out
}

func dsha256Pair(left, right []byte) []byte {
	buf := make([]byte, 0, len(left)+len(right))
	buf = append(buf, left...)
	buf = append(buf, right...)
	return bitcoinserial.Dsha256(buf)
}
