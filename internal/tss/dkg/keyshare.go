package dkg

import (
	"custody-node/internal/mpcerr"
	"custody-node/internal/tss"
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/crypto"
	"github.com/bnb-chain/tss-lib/v2/crypto/paillier"
)

// KeyShare is one party's output of a completed ECDSA DKG.
type KeyShare struct {
	Index          int                  `json:"index"`
	Threshold      int                  `json:"threshold"`
	Total          int                  `json:"total"`
	Xi             *big.Int             `json:"xi"`
	PublicKey      string               `json:"publicKey"`
	ChainCode      string               `json:"chainCode"`
	PublicShares   map[int]string       `json:"publicShares"`
	PaillierKey    *paillier.PrivateKey `json:"paillierKey"`
	PeerPaillier   map[int]*big.Int     `json:"peerPaillier"`
	RingPedersen   map[int]RingPedersen `json:"ringPedersen"`
	CommonKeychain string               `json:"commonKeychain"`
}

// ParseKeyShare decodes and validates a share loaded from custody.
func ParseKeyShare(b []byte) (*KeyShare, error) {
	var k KeyShare
	if err := json.Unmarshal(b, &k); err != nil {
		return nil, mpcerr.Validationf("decode key share: %v", err)
	}
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return &k, nil
}

// Validate checks that the share is internally consistent.
func (k *KeyShare) Validate() error {
	if k.Index < 1 || k.Index > k.Total || k.Xi == nil || k.PaillierKey == nil {
		return mpcerr.Validationf("key share is incomplete")
	}
	for j := 1; j <= k.Total; j++ {
		if !k.RingPedersen[j].valid() {
			return mpcerr.Validationf("key share has no ring-pedersen parameters for party %d", j)
		}
	}
	pub, err := k.GroupKey()
	if err != nil {
		return err
	}
	cc, err := k.ChainCodeBytes()
	if err != nil {
		return err
	}
	if CommonKeychain(pub, cc) != k.CommonKeychain {
		return mpcerr.Validationf("key share common keychain does not match its public key")
	}
	own, err := k.PublicShare(k.Index)
	if err != nil {
		return err
	}
	if !tss.BaseMult(k.Xi).Equals(own) {
		return mpcerr.Validationf("key share secret does not match public share %d", k.Index)
	}
	return nil
}

// GroupKey returns the group public key.
func (k *KeyShare) GroupKey() (*crypto.ECPoint, error) {
	return tss.ParsePointHex(k.PublicKey)
}

// PublicShare returns X_j = x_j·G for party j.
func (k *KeyShare) PublicShare(j int) (*crypto.ECPoint, error) {
	s, ok := k.PublicShares[j]
	if !ok {
		return nil, mpcerr.Validationf("no public share for party %d", j)
	}
	return tss.ParsePointHex(s)
}

// ChainCodeBytes returns the 32-byte chain code.
func (k *KeyShare) ChainCodeBytes() ([]byte, error) {
	cc, err := hex.DecodeString(k.ChainCode)
	if err != nil || len(cc) != 32 {
		return nil, mpcerr.Validationf("key share chain code is malformed")
	}
	return cc, nil
}

// PeerPaillierKey returns the Paillier public key of party j.
func (k *KeyShare) PeerPaillierKey(j int) (*paillier.PublicKey, error) {
	n, ok := k.PeerPaillier[j]
	if !ok || n == nil {
		return nil, mpcerr.Validationf("no paillier key for party %d", j)
	}
	return &paillier.PublicKey{N: n}, nil
}

// RingPedersenOf returns the ring-Pedersen parameters of party j.
func (k *KeyShare) RingPedersenOf(j int) (RingPedersen, error) {
	rp, ok := k.RingPedersen[j]
	if !ok || !rp.valid() {
		return RingPedersen{}, mpcerr.Validationf("no ring-pedersen parameters for party %d", j)
	}
	return rp, nil
}

// CommonKeychain renders the compressed group key followed by the chain code as hex.
func CommonKeychain(pub *crypto.ECPoint, chainCode []byte) string {
	return hex.EncodeToString(append(tss.EncodePoint(pub), chainCode...))
}

// ParseCommonKeychain splits a common keychain into its public key and chain code.
func ParseCommonKeychain(s string) (*crypto.ECPoint, []byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 65 {
		return nil, nil, mpcerr.Validationf("common keychain must be 65 hex-encoded bytes")
	}
	pub, err := tss.DecodePoint(b[:33])
	if err != nil {
		return nil, nil, err
	}
	return pub, b[33:], nil
}
