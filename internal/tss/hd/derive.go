// Package hd implements non-hardened BIP32 public derivation on secp256k1.
// Derivation only needs the group public key and chain code, so every party
// computes the same tweak without exchanging messages.
package hd

import (
	"crypto/hmac"
	"crypto/sha512"
	"custody-node/internal/mpcerr"
	"custody-node/internal/tss"
	"encoding/binary"
	"math/big"
	"strconv"
	"strings"

	"github.com/bnb-chain/tss-lib/v2/common"
	"github.com/bnb-chain/tss-lib/v2/crypto"
)

const hardenedOffset = uint32(1) << 31

// Child is the result of deriving along a path.
type Child struct {
	PublicKey *crypto.ECPoint
	ChainCode []byte
	// Tweak is the sum of the per-level offsets, so the child private key is x + Tweak.
	Tweak *big.Int
}

// ParsePath parses a path such as "m/0/1". Hardened steps are rejected.
func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "m" {
		return nil, nil
	}
	path = strings.TrimPrefix(path, "m/")
	parts := strings.Split(path, "/")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		if strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h") {
			return nil, mpcerr.Validationf("hardened derivation %q not supported", p)
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, mpcerr.Validationf("derivation path %q: %v", path, err)
		}
		if uint32(v) >= hardenedOffset {
			return nil, mpcerr.Validationf("derivation index %d is hardened", v)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

// Derive walks path from the given public key and chain code.
func Derive(pub *crypto.ECPoint, chainCode []byte, path string) (*Child, error) {
	indexes, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if len(chainCode) != 32 {
		return nil, mpcerr.Validationf("chain code must be 32 bytes, got %d", len(chainCode))
	}

	q := tss.Order()
	mod := common.ModInt(q)
	child := &Child{PublicKey: pub, ChainCode: append([]byte(nil), chainCode...), Tweak: big.NewInt(0)}
	for _, i := range indexes {
		mac := hmac.New(sha512.New, child.ChainCode)
		mac.Write(tss.EncodePoint(child.PublicKey))
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], i)
		mac.Write(idx[:])
		sum := mac.Sum(nil)

		il := new(big.Int).SetBytes(sum[:32])
		if il.Cmp(q) >= 0 {
			return nil, mpcerr.Validationf("derivation index %d yields an invalid key", i)
		}
		next, err := child.PublicKey.Add(tss.BaseMult(il))
		if err != nil {
			return nil, mpcerr.Validationf("derivation index %d: %v", i, err)
		}
		child.PublicKey = next
		child.ChainCode = sum[32:]
		child.Tweak = mod.Add(child.Tweak, il)
	}
	return child, nil
}
