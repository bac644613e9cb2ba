package eddsa

import (
	"crypto/hmac"
	"crypto/sha512"
	"custody-node/internal/mpcerr"
	"custody-node/internal/tss/hd"
	"encoding/binary"
	"encoding/hex"

	"filippo.io/edwards25519"
)

// DerivedKey is a combined key shifted along a derivation path.
type DerivedKey struct {
	PShare PShare `json:"pShare"`
	Path   string `json:"path"`
}

// Derive applies non-hardened BIP32-Ed25519 style derivation. Every share
// moves by the same tweak, so the shares still interpolate to the child key.
func Derive(key *CombinedKey, path string) (*DerivedKey, error) {
	indexes, err := hd.ParsePath(path)
	if err != nil {
		return nil, err
	}
	u, err := parseScalar(key.PShare.U)
	if err != nil {
		return nil, err
	}
	y, err := parsePoint(key.PShare.Y)
	if err != nil {
		return nil, err
	}
	cc, err := hex.DecodeString(key.PShare.ChainCode)
	if err != nil || len(cc) != 32 {
		return nil, mpcerr.Validationf("chain code must be 32 hex-encoded bytes")
	}

	eight := scalarFromInt(8)
	for _, i := range indexes {
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], i)
		a := y.Bytes()

		z := hmac.New(sha512.New, cc)
		z.Write([]byte{0x02})
		z.Write(a)
		z.Write(idx[:])
		zs := z.Sum(nil)

		var zl [32]byte
		copy(zl[:28], zs[:28])
		tweak, err := edwards25519.NewScalar().SetCanonicalBytes(zl[:])
		if err != nil {
			return nil, err
		}
		tweak = edwards25519.NewScalar().Multiply(tweak, eight)

		c := hmac.New(sha512.New, cc)
		c.Write([]byte{0x03})
		c.Write(a)
		c.Write(idx[:])
		cc = c.Sum(nil)[32:]

		y = new(edwards25519.Point).Add(y, baseMult(tweak))
		u = edwards25519.NewScalar().Add(u, tweak)
	}

	ps := key.PShare
	ps.U = scalarHex(u)
	ps.Y = pointHex(y)
	ps.ChainCode = hex.EncodeToString(cc)
	return &DerivedKey{PShare: ps, Path: path}, nil
}
