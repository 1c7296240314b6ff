package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiant-proxy/rxdproxy/internal/bitcoinserial"
)

func leaf(s string) []byte {
	return bitcoinserial.Dsha256([]byte(s))
}

func TestRootFromTxidsLESingle(t *testing.T) {
	tx := leaf("coinbase")
	assert.Equal(t, tx, RootFromTxidsLE([][]byte{tx}))
}

func TestRootFromTxidsLEEmpty(t *testing.T) {
	assert.Equal(t, bitcoinserial.Dsha256([]byte{}), RootFromTxidsLE(nil))
}

func TestBranchForIndex0EmptyForSingleLeaf(t *testing.T) {
	assert.Nil(t, BranchForIndex0([][]byte{leaf("coinbase")}))
}

func TestBranchFoldReconstructsRootEvenCount(t *testing.T) {
	txids := [][]byte{leaf("coinbase"), leaf("tx1"), leaf("tx2"), leaf("tx3")}
	root := RootFromTxidsLE(txids)
	branch := BranchForIndex0(txids)
	require.Len(t, branch, 2)
	got := FoldBranchIndex0(txids[0], branch)
	assert.Equal(t, root, got)
}

func TestBranchFoldReconstructsRootOddCount(t *testing.T) {
	txids := [][]byte{leaf("coinbase"), leaf("tx1"), leaf("tx2")}
	root := RootFromTxidsLE(txids)
	branch := BranchForIndex0(txids)
	got := FoldBranchIndex0(txids[0], branch)
	assert.Equal(t, root, got)
}

func TestBranchFoldReconstructsRootManyTx(t *testing.T) {
	txids := make([][]byte, 0, 7)
	txids = append(txids, leaf("coinbase"))
	for i := 0; i < 6; i++ {
		txids = append(txids, leaf(string(rune('a'+i))))
	}
	root := RootFromTxidsLE(txids)
	branch := BranchForIndex0(txids)
	got := FoldBranchIndex0(txids[0], branch)
	assert.Equal(t, root, got)
}

func TestBranchToHexLength(t *testing.T) {
	txids := [][]byte{leaf("coinbase"), leaf("tx1")}
	branch := BranchForIndex0(txids)
	hexes := BranchToHex(branch)
	require.Len(t, hexes, 1)
	assert.Len(t, hexes[0], 64)
}
