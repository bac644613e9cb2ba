package eddsa

import (
	"custody-node/internal/mpcerr"
	"encoding/binary"
	"encoding/hex"
	"io"

	"filippo.io/edwards25519"
)

func randomScalar(rand io.Reader) (*edwards25519.Scalar, error) {
	var seed [64]byte
	if _, err := io.ReadFull(rand, seed[:]); err != nil {
		return nil, err
	}
	return edwards25519.NewScalar().SetUniformBytes(seed[:])
}

func scalarFromInt(i int) *edwards25519.Scalar {
	var b [32]byte
	binary.LittleEndian.PutUint32(b[:], uint32(i))
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b[:])
	if err != nil {
		panic(err)
	}
	return s
}

func scalarHex(s *edwards25519.Scalar) string {
	return hex.EncodeToString(s.Bytes())
}

func parseScalar(s string) (*edwards25519.Scalar, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, mpcerr.Validationf("scalar hex: %v", err)
	}
	out, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return nil, mpcerr.Validationf("scalar: %v", err)
	}
	return out, nil
}

func pointHex(p *edwards25519.Point) string {
	return hex.EncodeToString(p.Bytes())
}

func parsePoint(s string) (*edwards25519.Point, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, mpcerr.Validationf("point hex: %v", err)
	}
	out, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return nil, mpcerr.Validationf("point: %v", err)
	}
	return out, nil
}

func baseMult(s *edwards25519.Scalar) *edwards25519.Point {
	return new(edwards25519.Point).ScalarBaseMult(s)
}

// evalPoly returns Σ coeffs[k]·x^k.
func evalPoly(coeffs []*edwards25519.Scalar, x int) *edwards25519.Scalar {
	xs := scalarFromInt(x)
	acc := edwards25519.NewScalar()
	for k := len(coeffs) - 1; k >= 0; k-- {
		acc = edwards25519.NewScalar().MultiplyAdd(acc, xs, coeffs[k])
	}
	return acc
}

// lagrange returns the coefficient of index i when interpolating at zero over set.
func lagrange(i int, set []int) *edwards25519.Scalar {
	num := scalarFromInt(1)
	den := scalarFromInt(1)
	xi := scalarFromInt(i)
	for _, j := range set {
		if j == i {
			continue
		}
		xj := scalarFromInt(j)
		num = edwards25519.NewScalar().Multiply(num, xj)
		den = edwards25519.NewScalar().Multiply(den, edwards25519.NewScalar().Subtract(xj, xi))
	}
	return edwards25519.NewScalar().Multiply(num, edwards25519.NewScalar().Invert(den))
}
