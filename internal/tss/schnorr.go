package tss

import (
	"io"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/common"
	"github.com/bnb-chain/tss-lib/v2/crypto"
)

// SchnorrProof is a non-interactive proof of knowledge of the discrete log
// of a public point, bound to a session tag and the prover's index.
type SchnorrProof struct {
	A string   `json:"a"`
	Z *big.Int `json:"z"`
}

// ProveDLog proves knowledge of x for X = x·G.
func ProveDLog(rand io.Reader, tag []byte, index int, x *big.Int, X *crypto.ECPoint) *SchnorrProof {
	a := RandomScalar(rand)
	A := BaseMult(a)
	c := challenge(tag, index, X, A)
	z := common.ModInt(Order()).Add(a, new(big.Int).Mul(c, x))
	return &SchnorrProof{A: PointHex(A), Z: z}
}

// Verify checks the proof against X.
func (p *SchnorrProof) Verify(tag []byte, index int, X *crypto.ECPoint) bool {
	if p == nil || p.Z == nil || p.Z.Sign() < 0 || p.Z.Cmp(Order()) >= 0 {
		return false
	}
	A, err := ParsePointHex(p.A)
	if err != nil {
		return false
	}
	c := challenge(tag, index, X, A)
	rhs, err := A.Add(X.ScalarMult(c))
	if err != nil {
		return false
	}
	return BaseMult(p.Z).Equals(rhs)
}

func challenge(tag []byte, index int, X, A *crypto.ECPoint) *big.Int {
	c := common.SHA512_256i(
		new(big.Int).SetBytes(tag),
		big.NewInt(int64(index)),
		X.X(), X.Y(),
		A.X(), A.Y(),
	)
	return c.Mod(c, Order())
}
