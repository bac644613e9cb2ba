package dsg

import (
	"custody-node/internal/mpcerr"
	"custody-node/internal/party"
	"custody-node/internal/tss"
	"custody-node/internal/tss/dkg"
	"io"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/common"
	"github.com/bnb-chain/tss-lib/v2/crypto"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Combine adds the signature shares of both signers, normalizes s to the
// lower half of the group order and verifies the result against publicKey.
// No signature is returned unless it verifies.
func Combine(shares []SignatureShare, hash []byte, publicKey string) (*Signature, error) {
	if len(shares) != party.Threshold {
		return nil, mpcerr.Combinationf("expected %d signature shares, got %d", party.Threshold, len(shares))
	}
	if shares[0].Index == shares[1].Index {
		return nil, mpcerr.Combinationf("duplicate signature share from party %d", shares[0].Index)
	}
	if shares[0].R != shares[1].R {
		return nil, mpcerr.Combinationf("signature shares disagree on R")
	}
	pub, err := tss.ParsePointHex(publicKey)
	if err != nil {
		return nil, err
	}
	R, err := tss.ParsePointHex(shares[0].R)
	if err != nil {
		return nil, mpcerr.Combinationf("R: %v", err)
	}

	q := tss.Order()
	mod := common.ModInt(q)
	r := new(big.Int).Mod(R.X(), q)
	s := big.NewInt(0)
	for _, sh := range shares {
		if sh.S == nil || sh.S.Sign() < 0 || sh.S.Cmp(q) >= 0 {
			return nil, mpcerr.Combinationf("signature share from party %d is out of range", sh.Index)
		}
		s = mod.Add(s, sh.S)
	}
	if r.Sign() == 0 || s.Sign() == 0 {
		return nil, mpcerr.Combinationf("degenerate signature")
	}

	recid := int(R.Y().Bit(0))
	if R.X().Cmp(q) >= 0 {
		recid |= 2
	}
	halfQ := new(big.Int).Rsh(q, 1)
	if s.Cmp(halfQ) > 0 {
		s = new(big.Int).Sub(q, s)
		recid ^= 1
	}

	if !tss.VerifySignature(pub, hash, r, s) {
		return nil, mpcerr.Combinationf("signature does not verify against the public key")
	}
	if err := confirmRecovery(pub, hash, recid, r, s); err != nil {
		return nil, err
	}
	return &Signature{RecoveryID: recid, R: r, S: s, Y: publicKey}, nil
}

func confirmRecovery(pub *crypto.ECPoint, hash []byte, recid int, r, s *big.Int) error {
	compact := make([]byte, 65)
	compact[0] = byte(27 + 4 + recid)
	r.FillBytes(compact[1:33])
	s.FillBytes(compact[33:])
	recovered, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return mpcerr.Combinationf("recover public key: %v", err)
	}
	if recovered.X().Cmp(pub.X()) != 0 || recovered.Y().Cmp(pub.Y()) != 0 {
		return mpcerr.Combinationf("recovery id %d does not recover the public key", recid)
	}
	return nil
}

// RecoverySign signs with the initiator and counterparty shares in one call,
// running both signers' rounds in memory. The coordinator is not involved.
func RecoverySign(initiator, counterparty *dkg.KeyShare, path string, hash []byte, rnd io.Reader) (*Signature, error) {
	if initiator == nil || counterparty == nil {
		return nil, mpcerr.Validationf("recovery needs both the initiator and counterparty shares")
	}
	if initiator.Index != party.Initiator.Index() || counterparty.Index != party.Counterparty.Index() {
		return nil, mpcerr.Validationf("recovery shares must belong to the initiator and counterparty, got %d and %d",
			initiator.Index, counterparty.Index)
	}
	if initiator.CommonKeychain != counterparty.CommonKeychain {
		return nil, mpcerr.ErrKeychainMismatch
	}

	a, b := initiator.Index, counterparty.Index
	stA, bcA, dA, err := Round1(initiator, Params{PeerIndex: b, Path: path, Hash: hash, Rand: rnd})
	if err != nil {
		return nil, err
	}
	stB, bcB, dB, err := Round1(counterparty, Params{PeerIndex: a, Path: path, Hash: hash, Rand: rnd})
	if err != nil {
		return nil, err
	}

	stA, r2A, err := Round2(stA, one(b, bcB), one(b, dB), rnd)
	if err != nil {
		return nil, err
	}
	stB, r2B, err := Round2(stB, one(a, bcA), one(a, dA), rnd)
	if err != nil {
		return nil, err
	}

	stA, r3A, err := Round3(stA, one(b, r2B))
	if err != nil {
		return nil, err
	}
	stB, r3B, err := Round3(stB, one(a, r2A))
	if err != nil {
		return nil, err
	}

	stA, shA, err := Share(stA, one(b, r3B))
	if err != nil {
		return nil, err
	}
	_, shB, err := Share(stB, one(a, r3A))
	if err != nil {
		return nil, err
	}
	return Combine([]SignatureShare{shA.Payload, shB.Payload}, hash, stA.PublicKey)
}

func one[M any](from int, m M) map[int]M {
	return map[int]M{from: m}
}
