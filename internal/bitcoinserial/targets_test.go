package bitcoinserial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitsToTargetRoundTripsToDiff1(t *testing.T) {
	// 0x1d00ffff is the classic Bitcoin genesis difficulty-1 bits value.
	target := BitsToTarget(0x1d00ffff)
	diff := TargetToDiff1(target)
	assert.InDelta(t, 1.0, diff, 0.01)
}

func TestBitsToTargetLowExponent(t *testing.T) {
	target := BitsToTarget(0x03000001)
	assert.Equal(t, int64(1), target.Int64())
}

func TestLEBytesToIntRoundTrip(t *testing.T) {
	be := []byte{0x01, 0x02, 0x03, 0x04}
	le := ReverseBytes(be)
	assert.Equal(t, BEBytesToInt(be), LEBytesToInt(le))
}
