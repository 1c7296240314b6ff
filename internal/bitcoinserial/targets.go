package bitcoinserial

import "math/big"

// Diff1Target is the Bitcoin-convention unit-difficulty target,
// 0x00000000FFFF0000...0.
var Diff1Target = mustHex("00000000ffff0000000000000000000000000000000000000000000000000000")

// PowLimit is Radiant's consensus proof-of-work ceiling.
var PowLimit = mustHex("00000000ffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

func mustHex(h string) *big.Int {
	n := new(big.Int)
	n.SetString(h, 16)
	return n
}

// BitsToTarget expands a 4-byte compact ("nBits") encoding into a full
// target integer.
func BitsToTarget(bits uint32) *big.Int {
	exp := bits >> 24
	mant := int64(bits & 0xFFFFFF)

	target := big.NewInt(mant)
	if exp <= 3 {
		shift := uint(8 * (3 - exp))
		target.Rsh(target, shift)
	} else {
		shift := uint(8 * (exp - 3))
		target.Lsh(target, shift)
	}
	return target
}

// TargetToDiff1 converts a target integer to a diff1-relative
// difficulty. Returns 0 for a zero target, which cannot occur for any
// valid compact encoding.
func TargetToDiff1(target *big.Int) float64 {
	if target.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(Diff1Target)
	t := new(big.Float).SetInt(target)
	f.Quo(f, t)
	out, _ := f.Float64()
	return out
}

// BEBytesToInt interprets a big-endian byte slice as an unsigned
// integer.
func BEBytesToInt(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// LEBytesToInt interprets a little-endian byte slice as an unsigned
// integer — the form a PoW digest must be read in before comparison
// against a target.
func LEBytesToInt(b []byte) *big.Int {
	return new(big.Int).SetBytes(ReverseBytes(b))
}
