package identity

import (
	"fmt"
	"math/big"
)

// fieldPrime is the Curve25519/Ed25519 field prime 2^255 - 19.
var fieldPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}()

// edwardsYFromPublicKey decodes the little-endian, sign-bit-masked Y
// coordinate out of a 32-byte Ed25519 public key encoding.
func edwardsYFromPublicKey(pub []byte) (*big.Int, error) {
	if len(pub) != 32 {
		return nil, fmt.Errorf("identity: public key must be 32 bytes, got %d", len(pub))
	}
	buf := make([]byte, 32)
	copy(buf, pub)
	buf[31] &= 0x7f // clear the sign bit; only Y is needed for the birational map

	// Reverse to big-endian for big.Int.SetBytes.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	y := new(big.Int).SetBytes(buf)
	return y.Mod(y, fieldPrime), nil
}

// montgomeryUFromEdwardsY applies the standard birational map from the
// twisted Edwards curve (Ed25519) to the Montgomery curve (Curve25519):
//
//	u = (1 + y) / (1 - y)  (mod p)
//
// and writes the little-endian encoding of u into out.
func montgomeryUFromEdwardsY(y *big.Int, out *[32]byte) {
	one := big.NewInt(1)
	numerator := new(big.Int).Add(one, y)
	numerator.Mod(numerator, fieldPrime)

	denominator := new(big.Int).Sub(one, y)
	denominator.Mod(denominator, fieldPrime)
	denominator.ModInverse(denominator, fieldPrime)

	u := numerator.Mul(numerator, denominator)
	u.Mod(u, fieldPrime)

	b := u.Bytes() // big-endian, no leading zero padding
	for i := range out {
		out[i] = 0
	}
	for i, j := 0, len(b)-1; j >= 0 && i < 32; i, j = i+1, j-1 {
		out[i] = b[j]
	}
}
