package bitcoinserial

import (
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntRoundTrip(t *testing.T) {
	cases := []uint64{0, 0xFC, 0xFD, 0xFFFF, 0x10000, 0xFFFFFFFF, 0x100000000}
	for _, n := range cases {
		b := VarInt(n)
		got, consumed := parseVarInt(b)
		assert.Equal(t, n, got)
		assert.Equal(t, len(b), consumed)
	}
}

func TestVarIntPrefixes(t *testing.T) {
	assert.Equal(t, []byte{0x00}, VarInt(0))
	assert.Equal(t, []byte{0xFC}, VarInt(0xFC))
	assert.Equal(t, []byte{0xFD, 0xFD, 0x00}, VarInt(0xFD))
	assert.Equal(t, []byte{0xFE, 0x00, 0x00, 0x01, 0x00}, VarInt(0x10000))
}

func TestOpPush(t *testing.T) {
	assert.Equal(t, []byte{0x03}, OpPush(3))
	assert.Equal(t, []byte{0x4C, 0x4C}, OpPush(0x4C))
	assert.Equal(t, []byte{0x4D, 0x00, 0x01}, OpPush(0x100))
}

func TestDsha256Deterministic(t *testing.T) {
	a := Dsha256([]byte("radiant"))
	b := Dsha256([]byte("radiant"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, Dsha256([]byte("radiant2")))
}

// TestSha512_256dIsNotPlainSha512 guards against a truncated-SHA512
// substitute: the digest must differ from the same double hash built
// from the first 32 bytes of standard SHA-512 digests.
func TestSha512_256dIsNotPlainSha512(t *testing.T) {
	input := []byte("radiant proof of work")
	got := Sha512_256d(input)
	assert.Len(t, got, 32)

	t1 := sha512.Sum512(input)
	t2 := sha512.Sum512(t1[:32])
	assert.NotEqual(t, t2[:32], got)

	h1 := Sha512_256d(input)
	h2 := Sha512_256d(input)
	assert.Equal(t, h1, h2)
}

func TestReverseBytes(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03, 0x04}
	out := ReverseBytes(in)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, out)
	assert.Equal(t, in, ReverseBytes(out))
}

func TestBase58CheckDecode(t *testing.T) {
	// A well-known, checksum-valid Bitcoin mainnet P2PKH address.
	version, payload, err := Base58CheckDecode("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), version)
	assert.Len(t, payload, 20)
}

func TestBase58CheckDecodeBadChecksum(t *testing.T) {
	_, _, err := Base58CheckDecode("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN3")
	assert.Error(t, err)
}

func TestBase58CheckDecodeInvalidChar(t *testing.T) {
	_, _, err := Base58CheckDecode("0OIl")
	assert.Error(t, err)
}

func TestBase58CheckDecodeEmpty(t *testing.T) {
	_, _, err := Base58CheckDecode("")
	assert.Error(t, err)
}

// parseVarInt is a test-only decoder mirroring VarInt's encoding rules.
func parseVarInt(b []byte) (uint64, int) {
	if len(b) == 0 {
		return 0, 0
	}
	switch b[0] {
	case 0xFD:
		return uint64(b[1]) | uint64(b[2])<<8, 3
	case 0xFE:
		var v uint64
		for i := 0; i < 4; i++ {
			v |= uint64(b[1+i]) << (8 * i)
		}
		return v, 5
	case 0xFF:
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(b[1+i]) << (8 * i)
		}
		return v, 9
	default:
		return uint64(b[0]), 1
	}
}
