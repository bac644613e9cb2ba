package dkg

import (
	"context"
	"crypto/rand"
	"custody-node/internal/mpcerr"
	"io"
	"math/big"
	"runtime"

	"github.com/bnb-chain/tss-lib/v2/common"
	"github.com/bnb-chain/tss-lib/v2/crypto/paillier"
	"github.com/bnb-chain/tss-lib/v2/ecdsa/keygen"
)

// PreParamsSource supplies the Paillier key and ring-Pedersen parameters of
// the party with the given index. Generation takes seconds to minutes, so
// callers may produce them ahead of the ceremony.
type PreParamsSource func(ctx context.Context, index int) (*keygen.LocalPreParams, error)

// RingPedersen holds the commitment parameters a party's peers prove their
// MtA values against: NTilde = P·Q for safe primes P and Q, h1 and h2 = h1^α.
type RingPedersen struct {
	NTilde *big.Int `json:"nTilde"`
	H1     *big.Int `json:"h1"`
	H2     *big.Int `json:"h2"`
}

func (r RingPedersen) valid() bool {
	return r.NTilde != nil && r.H1 != nil && r.H2 != nil &&
		r.NTilde.BitLen() >= MinPaillierBits && r.NTilde.Bit(0) == 1 &&
		r.H1.Sign() > 0 && r.H2.Sign() > 0 &&
		r.H1.Cmp(r.NTilde) < 0 && r.H2.Cmp(r.NTilde) < 0 &&
		r.H1.Cmp(r.H2) != 0
}

// GeneratePreParams produces a Paillier key and ring-Pedersen parameters of
// the given modulus size. The production size goes through tss-lib's own
// generator.
func GeneratePreParams(ctx context.Context, bits int, rnd io.Reader) (*keygen.LocalPreParams, error) {
	if bits < MinPaillierBits+1 || bits%2 != 0 {
		return nil, mpcerr.Validationf("paillier modulus of %d bits is not supported", bits)
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	if bits == DefaultPaillierBits {
		return keygen.GeneratePreParamsWithContextAndRandom(ctx, rnd)
	}

	paiSK, _, err := paillier.GenerateKeyPair(ctx, rnd, bits)
	if err != nil {
		return nil, err
	}
	sgps, err := common.GetRandomSafePrimesConcurrent(ctx, bits/2, 2, runtime.NumCPU(), rnd)
	if err != nil {
		return nil, err
	}
	P, Q := sgps[0].SafePrime(), sgps[1].SafePrime()
	nTilde := new(big.Int).Mul(P, Q)
	modNTilde := common.ModInt(nTilde)

	p, q := sgps[0].Prime(), sgps[1].Prime()
	modPQ := common.ModInt(new(big.Int).Mul(p, q))
	f1 := common.GetRandomPositiveRelativelyPrimeInt(rnd, nTilde)
	alpha := common.GetRandomPositiveRelativelyPrimeInt(rnd, nTilde)
	beta := modPQ.ModInverse(alpha)
	h1 := modNTilde.Mul(f1, f1)
	h2 := modNTilde.Exp(h1, alpha)

	return &keygen.LocalPreParams{
		PaillierSK: paiSK,
		NTildei:    nTilde,
		H1i:        h1,
		H2i:        h2,
		Alpha:      alpha,
		Beta:       beta,
		P:          p,
		Q:          q,
	}, nil
}
