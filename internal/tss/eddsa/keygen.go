// Package eddsa implements threshold Ed25519 over Shamir secret sharing:
// single-round share generation with Feldman commitments, share combination,
// non-hardened derivation and a three-step signing flow.
package eddsa

import (
	"crypto/rand"
	"custody-node/internal/mpcerr"
	"encoding/hex"
	"fmt"
	"io"

	"filippo.io/edwards25519"
)

// UShare is the dealer-side record of a party's own polynomial.
type UShare struct {
	I         int    `json:"i"`
	T         int    `json:"t"`
	N         int    `json:"n"`
	Y         string `json:"y"`
	U         string `json:"u"`
	Prefix    string `json:"prefix"`
	ChainCode string `json:"chaincode"`
}

// YShare is the share of dealer I's polynomial evaluated at J, with the
// Feldman commitments V that let J verify it.
type YShare struct {
	I         int      `json:"i"`
	J         int      `json:"j"`
	Y         string   `json:"y"`
	V         []string `json:"v"`
	U         string   `json:"u"`
	ChainCode string   `json:"chaincode"`
}

// KeyShare is the output of GenerateShare. YShares holds one entry per party,
// including the party's own evaluation.
type KeyShare struct {
	UShare  UShare         `json:"uShare"`
	YShares map[int]YShare `json:"yShares"`
}

// PShare is a party's combined signing share.
type PShare struct {
	I         int    `json:"i"`
	T         int    `json:"t"`
	N         int    `json:"n"`
	Y         string `json:"y"`
	U         string `json:"u"`
	Prefix    string `json:"prefix"`
	ChainCode string `json:"chaincode"`
}

// JShare records a peer the combined share was built with.
type JShare struct {
	I int `json:"i"`
	J int `json:"j"`
}

// CombinedKey is a party's final EdDSA key material.
type CombinedKey struct {
	PShare         PShare         `json:"pShare"`
	JShares        map[int]JShare `json:"jShares"`
	CommonKeychain string         `json:"commonKeychain"`
}

// GenerateShare samples a secret for party index and splits it among total
// parties so that threshold of them can sign.
func GenerateShare(index, threshold, total int, rnd io.Reader) (*KeyShare, error) {
	if threshold < 2 || threshold > total || index < 1 || index > total {
		return nil, mpcerr.Validationf("invalid share parameters i=%d t=%d n=%d", index, threshold, total)
	}
	if rnd == nil {
		rnd = rand.Reader
	}

	coeffs := make([]*edwards25519.Scalar, threshold)
	for k := range coeffs {
		c, err := randomScalar(rnd)
		if err != nil {
			return nil, err
		}
		coeffs[k] = c
	}
	v := make([]string, threshold)
	for k, c := range coeffs {
		v[k] = pointHex(baseMult(c))
	}
	chainCode, err := randomScalar(rnd)
	if err != nil {
		return nil, err
	}
	prefix := make([]byte, 32)
	if _, err := io.ReadFull(rnd, prefix); err != nil {
		return nil, err
	}

	y := v[0]
	cc := scalarHex(chainCode)
	ks := &KeyShare{
		UShare: UShare{
			I: index, T: threshold, N: total,
			Y: y, U: scalarHex(coeffs[0]),
			Prefix: hex.EncodeToString(prefix), ChainCode: cc,
		},
		YShares: make(map[int]YShare, total),
	}
	for j := 1; j <= total; j++ {
		ks.YShares[j] = YShare{I: index, J: j, Y: y, V: v, U: scalarHex(evalPoly(coeffs, j)), ChainCode: cc}
	}
	return ks, nil
}

// PeerShares returns the y-shares to hand to the other parties.
func (k *KeyShare) PeerShares() []YShare {
	out := make([]YShare, 0, len(k.YShares)-1)
	for j := 1; j <= k.UShare.N; j++ {
		if j != k.UShare.I {
			out = append(out, k.YShares[j])
		}
	}
	return out
}

// Combine verifies the peers' y-shares and sums them with the party's own
// evaluation into its signing share.
func Combine(own *KeyShare, peers []YShare) (*CombinedKey, error) {
	u := own.UShare
	if len(peers) != u.N-1 {
		return nil, mpcerr.Validationf("expected %d peer shares, got %d", u.N-1, len(peers))
	}
	self, ok := own.YShares[u.I]
	if !ok {
		return nil, mpcerr.Validationf("own y-share is missing")
	}

	x, err := parseScalar(self.U)
	if err != nil {
		return nil, err
	}
	y, err := parsePoint(u.Y)
	if err != nil {
		return nil, err
	}
	cc, err := parseScalar(u.ChainCode)
	if err != nil {
		return nil, err
	}

	seen := map[int]bool{u.I: true}
	jShares := make(map[int]JShare, len(peers))
	for _, p := range peers {
		if p.J != u.I || p.I < 1 || p.I > u.N || seen[p.I] {
			return nil, mpcerr.InvalidProoff("y-share from %d to %d is misaddressed", p.I, p.J)
		}
		seen[p.I] = true
		share, err := verifyYShare(p, u.T)
		if err != nil {
			return nil, err
		}
		py, err := parsePoint(p.Y)
		if err != nil {
			return nil, err
		}
		pcc, err := parseScalar(p.ChainCode)
		if err != nil {
			return nil, err
		}
		x = edwards25519.NewScalar().Add(x, share)
		y = new(edwards25519.Point).Add(y, py)
		cc = edwards25519.NewScalar().Add(cc, pcc)
		jShares[p.I] = JShare{I: u.I, J: p.I}
	}

	return &CombinedKey{
		PShare: PShare{
			I: u.I, T: u.T, N: u.N,
			Y: pointHex(y), U: scalarHex(x),
			Prefix: u.Prefix, ChainCode: scalarHex(cc),
		},
		JShares:        jShares,
		CommonKeychain: CommonKeychain(y, cc.Bytes()),
	}, nil
}

func verifyYShare(p YShare, threshold int) (*edwards25519.Scalar, error) {
	if len(p.V) != threshold {
		return nil, mpcerr.InvalidProoff("y-share from %d has %d commitments", p.I, len(p.V))
	}
	if p.V[0] != p.Y {
		return nil, mpcerr.InvalidProoff("y-share from %d: first commitment is not the public key", p.I)
	}
	share, err := parseScalar(p.U)
	if err != nil {
		return nil, fmt.Errorf("%w: y-share from %d: %v", mpcerr.ErrInvalidShareProof, p.I, err)
	}
	// Σ v_k·j^k
	expected := edwards25519.NewIdentityPoint()
	jj := scalarFromInt(p.J)
	pow := scalarFromInt(1)
	for k, vk := range p.V {
		pt, err := parsePoint(vk)
		if err != nil {
			return nil, fmt.Errorf("%w: y-share from %d commitment %d: %v", mpcerr.ErrInvalidShareProof, p.I, k, err)
		}
		expected = new(edwards25519.Point).Add(expected, new(edwards25519.Point).ScalarMult(pow, pt))
		pow = edwards25519.NewScalar().Multiply(pow, jj)
	}
	if baseMult(share).Equal(expected) != 1 {
		return nil, mpcerr.InvalidProoff("y-share from %d fails feldman verification", p.I)
	}
	return share, nil
}

// CommonKeychain renders the public key followed by the chain code as hex.
func CommonKeychain(y *edwards25519.Point, chainCode []byte) string {
	return hex.EncodeToString(append(y.Bytes(), chainCode...))
}
