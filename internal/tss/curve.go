// Package tss holds the secp256k1 helpers shared by the ECDSA round engines:
// point encoding, scalar sampling, Lagrange coefficients and signature checks.
// The engines themselves live in the dkg and dsg subpackages.
package tss

import (
	"custody-node/internal/mpcerr"
	"encoding/hex"
	"io"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/common"
	"github.com/bnb-chain/tss-lib/v2/crypto"
	"github.com/bnb-chain/tss-lib/v2/tss"
	"github.com/btcsuite/btcd/btcec/v2"
)

// Order returns the order of the secp256k1 group.
func Order() *big.Int {
	return tss.S256().Params().N
}

// RandomScalar samples a uniformly random non-zero scalar.
func RandomScalar(rand io.Reader) *big.Int {
	return common.GetRandomPositiveInt(rand, Order())
}

// ScalarBytes encodes k as 32 big-endian bytes.
func ScalarBytes(k *big.Int) []byte {
	out := make([]byte, 32)
	return k.FillBytes(out)
}

// BaseMult returns k·G.
func BaseMult(k *big.Int) *crypto.ECPoint {
	return crypto.ScalarBaseMult(tss.S256(), new(big.Int).Mod(k, Order()))
}

// EncodePoint returns the 33-byte compressed encoding of p.
func EncodePoint(p *crypto.ECPoint) []byte {
	out := make([]byte, 33)
	out[0] = 0x02
	if p.Y().Bit(0) == 1 {
		out[0] = 0x03
	}
	p.X().FillBytes(out[1:])
	return out
}

// PointHex returns the compressed encoding of p as hex.
func PointHex(p *crypto.ECPoint) string {
	return hex.EncodeToString(EncodePoint(p))
}

// DecodePoint parses a compressed or uncompressed secp256k1 point.
func DecodePoint(b []byte) (*crypto.ECPoint, error) {
	pk, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, mpcerr.Validationf("decode point: %v", err)
	}
	p, err := crypto.NewECPoint(tss.S256(), pk.X(), pk.Y())
	if err != nil {
		return nil, mpcerr.Validationf("decode point: %v", err)
	}
	return p, nil
}

// ParsePointHex parses a hex point as produced by PointHex.
func ParsePointHex(s string) (*crypto.ECPoint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, mpcerr.Validationf("decode point hex: %v", err)
	}
	return DecodePoint(b)
}

// SumPoints adds the given points.
func SumPoints(points ...*crypto.ECPoint) (*crypto.ECPoint, error) {
	if len(points) == 0 {
		return nil, mpcerr.Validationf("no points to add")
	}
	acc := points[0]
	for _, p := range points[1:] {
		var err error
		if acc, err = acc.Add(p); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// Lagrange returns the coefficient of index i when interpolating at zero
// over the given signer indexes.
func Lagrange(i int, signers []int) *big.Int {
	q := Order()
	mod := common.ModInt(q)
	num, den := big.NewInt(1), big.NewInt(1)
	xi := big.NewInt(int64(i))
	for _, j := range signers {
		if j == i {
			continue
		}
		xj := big.NewInt(int64(j))
		num = mod.Mul(num, xj)
		den = mod.Mul(den, new(big.Int).Sub(xj, xi))
	}
	return mod.Mul(num, mod.ModInverse(den))
}
