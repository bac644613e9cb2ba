package tss

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/crypto"
	"github.com/bnb-chain/tss-lib/v2/tss"
)

// VerifySignature verifies an ECDSA signature over a 32-byte hash against pub.
func VerifySignature(pub *crypto.ECPoint, hash []byte, r, s *big.Int) bool {
	pk := &ecdsa.PublicKey{
		Curve: tss.S256(),
		X:     pub.X(),
		Y:     pub.Y(),
	}
	return ecdsa.Verify(pk, hash, r, s)
}
