// Package dsg runs two-party ECDSA signing over shares produced by the dkg
// package. The multiplicative-to-additive conversions use Paillier
// encryption under each signer's DKG Paillier key. The encrypted nonce
// carries a range proof against the receiver's ring-Pedersen parameters and
// every response carries a proof against the sender's, as in GG18. The
// combined signature is still verified before it is returned.
package dsg

import (
	"crypto/rand"
	"custody-node/internal/mpcerr"
	"custody-node/internal/network"
	"custody-node/internal/party"
	"custody-node/internal/tss"
	"custody-node/internal/tss/dkg"
	"custody-node/internal/tss/hd"
	"encoding/hex"
	"io"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/common"
	"github.com/bnb-chain/tss-lib/v2/crypto"
	"github.com/bnb-chain/tss-lib/v2/crypto/commitments"
	"github.com/bnb-chain/tss-lib/v2/crypto/mta"
	"github.com/bnb-chain/tss-lib/v2/crypto/paillier"
	tsslib "github.com/bnb-chain/tss-lib/v2/tss"
)

// Protocol names this ceremony on the wire.
const Protocol = "ecdsa-dsg"

// Params selects what is signed and with whom.
type Params struct {
	PeerIndex int
	Path      string
	Hash      []byte
	Rand      io.Reader
}

type Round1Broadcast struct {
	Commitment *big.Int `json:"commitment"`
}

type Round1Direct struct {
	EncK       *big.Int `json:"encK"`
	RangeProof [][]byte `json:"rangeProof"`
}

type Round2Direct struct {
	CGamma     *big.Int `json:"cGamma"`
	GammaProof [][]byte `json:"gammaProof"`
	CW         *big.Int `json:"cW"`
	WProof     [][]byte `json:"wProof"`
}

type Round3Broadcast struct {
	Delta        *big.Int   `json:"delta"`
	Decommitment []*big.Int `json:"decommitment"`
}

// SignatureShare is one signer's additive share of s, bound to R.
type SignatureShare struct {
	Index int      `json:"index"`
	R     string   `json:"r"`
	S     *big.Int `json:"s"`
}

// Round1 derives the signing key, turns the share into an additive share and
// samples the nonce material. It commits to Γ_i and sends Enc_i(k_i) with a
// proof that k_i is small.
func Round1(share *dkg.KeyShare, params Params) (*State, network.Broadcast[Round1Broadcast], network.PointToPoint[Round1Direct], error) {
	var bc network.Broadcast[Round1Broadcast]
	var direct network.PointToPoint[Round1Direct]

	if len(params.Hash) != 32 {
		return nil, bc, direct, mpcerr.Validationf("message hash must be 32 bytes, got %d", len(params.Hash))
	}
	if err := share.Validate(); err != nil {
		return nil, bc, direct, err
	}
	if params.PeerIndex == share.Index || params.PeerIndex < 1 || params.PeerIndex > party.Total {
		return nil, bc, direct, mpcerr.Validationf("invalid signing peer %d for party %d", params.PeerIndex, share.Index)
	}
	peerPK, err := share.PeerPaillierKey(params.PeerIndex)
	if err != nil {
		return nil, bc, direct, err
	}
	own, err := share.RingPedersenOf(share.Index)
	if err != nil {
		return nil, bc, direct, err
	}
	peer, err := share.RingPedersenOf(params.PeerIndex)
	if err != nil {
		return nil, bc, direct, err
	}
	rnd := params.Rand
	if rnd == nil {
		rnd = rand.Reader
	}

	// 1. Child key along the derivation path.
	y, err := share.GroupKey()
	if err != nil {
		return nil, bc, direct, err
	}
	cc, err := share.ChainCodeBytes()
	if err != nil {
		return nil, bc, direct, err
	}
	child, err := hd.Derive(y, cc, params.Path)
	if err != nil {
		return nil, bc, direct, err
	}

	// 2. Additive share of the child key; the lower index absorbs the tweak.
	mod := common.ModInt(tss.Order())
	signers := []int{share.Index, params.PeerIndex}
	w := mod.Mul(tss.Lagrange(share.Index, signers), share.Xi)
	if share.Index < params.PeerIndex {
		w = mod.Add(w, child.Tweak)
	}
	peerW, err := peerAdditiveKey(share, params.PeerIndex, signers, child.Tweak)
	if err != nil {
		return nil, bc, direct, err
	}

	// 3. Nonce shares.
	k := tss.RandomScalar(rnd)
	gamma := tss.RandomScalar(rnd)
	bigGamma := tss.BaseMult(gamma)
	cmt := commitments.NewHashCommitment(rnd, bigGamma.X(), bigGamma.Y())
	encK, rangeProof, err := mta.AliceInit(tsslib.S256(), &share.PaillierKey.PublicKey, k, peer.NTilde, peer.H1, peer.H2, rnd)
	if err != nil {
		return nil, bc, direct, err
	}
	rp := rangeProof.Bytes()

	st := &State{
		Round:        1,
		Index:        share.Index,
		PeerIndex:    params.PeerIndex,
		Hash:         hex.EncodeToString(params.Hash),
		Path:         params.Path,
		PublicKey:    tss.PointHex(child.PublicKey),
		K:            k,
		Gamma:        gamma,
		W:            w,
		Commitment:   cmt.C,
		Decommitment: cmt.D,
		PaillierKey:  share.PaillierKey,
		PeerN:        peerPK.N,
		EncK:         encK,
		PeerW:        tss.PointHex(peerW),
		Own:          own,
		Peer:         peer,
	}
	bc = network.Broadcast[Round1Broadcast]{From: st.Index, Payload: Round1Broadcast{Commitment: cmt.C}}
	direct = network.PointToPoint[Round1Direct]{
		From:    st.Index,
		To:      st.PeerIndex,
		Payload: Round1Direct{EncK: encK, RangeProof: rp[:]},
	}
	return st, bc, direct, nil
}

// peerAdditiveKey returns W_j = w_j·G for the peer's additive share, which its
// k·w response is proven against.
func peerAdditiveKey(share *dkg.KeyShare, peer int, signers []int, tweak *big.Int) (*crypto.ECPoint, error) {
	xj, err := share.PublicShare(peer)
	if err != nil {
		return nil, err
	}
	wj := xj.ScalarMult(tss.Lagrange(peer, signers))
	if peer < share.Index && tweak.Sign() != 0 {
		if wj, err = wj.Add(tss.BaseMult(tweak)); err != nil {
			return nil, mpcerr.Validationf("peer signing key: %v", err)
		}
	}
	return wj, nil
}

// Round2 checks the range proof on the peer's encrypted nonce and answers it
// with the two proven MtA responses for k_j·γ_i and k_j·w_i.
func Round2(prev *State, bc map[int]network.Broadcast[Round1Broadcast], direct map[int]network.PointToPoint[Round1Direct], rnd io.Reader) (*State, network.PointToPoint[Round2Direct], error) {
	var out network.PointToPoint[Round2Direct]
	if err := prev.expectRound(1); err != nil {
		return nil, out, err
	}
	peerBc, err := onlyFrom(bc, prev.PeerIndex)
	if err != nil {
		return nil, out, err
	}
	peerDirect, err := onlyFrom(direct, prev.PeerIndex)
	if err != nil {
		return nil, out, err
	}
	if peerBc.Payload.Commitment == nil {
		return nil, out, mpcerr.Validationf("round 1 commitment from party %d is missing", prev.PeerIndex)
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	st, err := prev.clone()
	if err != nil {
		return nil, out, err
	}

	peerPK := &paillier.PublicKey{N: st.PeerN}
	encK := peerDirect.Payload.EncK
	if encK == nil || encK.Sign() <= 0 || encK.Cmp(peerPK.NSquare()) >= 0 {
		return nil, out, mpcerr.Validationf("encrypted nonce from party %d is out of range", st.PeerIndex)
	}
	pf, err := mta.RangeProofAliceFromBytes(peerDirect.Payload.RangeProof)
	if err != nil {
		return nil, out, mpcerr.InvalidProoff("range proof from party %d: %v", st.PeerIndex, err)
	}
	st.PeerCommitment = peerBc.Payload.Commitment

	ec := tsslib.S256()
	session := st.mtaSession(st.Index)
	beta, cGamma, _, piGamma, err := mta.BobMid(session, ec, peerPK, pf, st.Gamma, encK,
		st.Peer.NTilde, st.Peer.H1, st.Peer.H2, st.Own.NTilde, st.Own.H1, st.Own.H2, rnd)
	if err != nil {
		return nil, out, mpcerr.InvalidProoff("MtA with party %d: %v", st.PeerIndex, err)
	}
	nu, cW, _, piW, err := mta.BobMidWC(session, ec, peerPK, pf, st.W, encK,
		st.Peer.NTilde, st.Peer.H1, st.Peer.H2, st.Own.NTilde, st.Own.H1, st.Own.H2, tss.BaseMult(st.W), rnd)
	if err != nil {
		return nil, out, mpcerr.InvalidProoff("MtA with party %d: %v", st.PeerIndex, err)
	}
	gammaProof, wProof := piGamma.Bytes(), piW.Bytes()

	st.Beta, st.Nu = beta, nu
	st.Round = 2
	out = network.PointToPoint[Round2Direct]{
		From: st.Index,
		To:   st.PeerIndex,
		Payload: Round2Direct{
			CGamma:     cGamma,
			GammaProof: gammaProof[:],
			CW:         cW,
			WProof:     wProof[:],
		},
	}
	return st, out, nil
}

// Round3 verifies and decrypts the MtA responses and reveals δ_i together
// with Γ_i.
func Round3(prev *State, direct map[int]network.PointToPoint[Round2Direct]) (*State, network.Broadcast[Round3Broadcast], error) {
	var out network.Broadcast[Round3Broadcast]
	if err := prev.expectRound(2); err != nil {
		return nil, out, err
	}
	msg, err := onlyFrom(direct, prev.PeerIndex)
	if err != nil {
		return nil, out, err
	}
	st, err := prev.clone()
	if err != nil {
		return nil, out, err
	}

	if msg.Payload.CGamma == nil || msg.Payload.CW == nil {
		return nil, out, mpcerr.Validationf("MtA response from party %d is incomplete", st.PeerIndex)
	}
	ec := tsslib.S256()
	pfGamma, err := mta.ProofBobFromBytes(msg.Payload.GammaProof)
	if err != nil {
		return nil, out, mpcerr.InvalidProoff("MtA proof from party %d: %v", st.PeerIndex, err)
	}
	pfW, err := mta.ProofBobWCFromBytes(ec, msg.Payload.WProof)
	if err != nil {
		return nil, out, mpcerr.InvalidProoff("MtA proof from party %d: %v", st.PeerIndex, err)
	}
	peerW, err := tss.ParsePointHex(st.PeerW)
	if err != nil {
		return nil, out, err
	}

	mod := common.ModInt(tss.Order())
	pk := &st.PaillierKey.PublicKey
	session := st.mtaSession(st.PeerIndex)
	alpha, err := mta.AliceEnd(session, ec, pk, pfGamma, st.Own.H1, st.Own.H2, st.EncK, msg.Payload.CGamma, st.Own.NTilde, st.PaillierKey)
	if err != nil {
		return nil, out, mpcerr.InvalidProoff("MtA response from party %d: %v", st.PeerIndex, err)
	}
	mu, err := mta.AliceEndWC(session, ec, pk, pfW, peerW, st.EncK, msg.Payload.CW, st.Own.NTilde, st.Own.H1, st.Own.H2, st.PaillierKey)
	if err != nil {
		return nil, out, mpcerr.InvalidProoff("MtA response from party %d: %v", st.PeerIndex, err)
	}

	delta := mod.Add(mod.Mul(st.K, st.Gamma), mod.Add(alpha, st.Beta))
	sigma := mod.Add(mod.Mul(st.K, st.W), mod.Add(mu, st.Nu))
	st.Delta, st.Sigma = delta, sigma
	st.Round = 3
	out = network.Broadcast[Round3Broadcast]{
		From:    st.Index,
		Payload: Round3Broadcast{Delta: delta, Decommitment: st.Decommitment},
	}
	return st, out, nil
}

// Share opens the peer's Γ_j, computes R and this signer's share of s.
func Share(prev *State, bc map[int]network.Broadcast[Round3Broadcast]) (*State, network.Broadcast[SignatureShare], error) {
	var out network.Broadcast[SignatureShare]
	if err := prev.expectRound(3); err != nil {
		return nil, out, err
	}
	msg, err := onlyFrom(bc, prev.PeerIndex)
	if err != nil {
		return nil, out, err
	}
	st, err := prev.clone()
	if err != nil {
		return nil, out, err
	}

	cmt := &commitments.HashCommitDecommit{C: st.PeerCommitment, D: msg.Payload.Decommitment}
	ok, secrets := cmt.DeCommit()
	if !ok || len(secrets) != 2 {
		return nil, out, mpcerr.InvalidProoff("party %d did not open its nonce commitment", st.PeerIndex)
	}
	peerGamma, err := crypto.NewECPoint(tsslib.S256(), secrets[0], secrets[1])
	if err != nil {
		return nil, out, mpcerr.InvalidProoff("nonce point from party %d: %v", st.PeerIndex, err)
	}
	if msg.Payload.Delta == nil {
		return nil, out, mpcerr.Validationf("delta from party %d is missing", st.PeerIndex)
	}

	q := tss.Order()
	mod := common.ModInt(q)
	bigGamma, err := tss.BaseMult(st.Gamma).Add(peerGamma)
	if err != nil {
		return nil, out, mpcerr.Combinationf("aggregate nonce: %v", err)
	}
	delta := mod.Add(st.Delta, msg.Payload.Delta)
	if delta.Sign() == 0 {
		return nil, out, mpcerr.Combinationf("delta is zero")
	}
	R := bigGamma.ScalarMult(mod.ModInverse(delta))
	r := new(big.Int).Mod(R.X(), q)
	if r.Sign() == 0 {
		return nil, out, mpcerr.Combinationf("r is zero")
	}

	hash, err := hex.DecodeString(st.Hash)
	if err != nil {
		return nil, out, mpcerr.Validationf("message hash: %v", err)
	}
	m := new(big.Int).SetBytes(hash)
	si := mod.Add(mod.Mul(m, st.K), mod.Mul(r, st.Sigma))

	st.R = tss.PointHex(R)
	st.S = si
	st.Round = 4
	out = network.Broadcast[SignatureShare]{From: st.Index, Payload: SignatureShare{Index: st.Index, R: st.R, S: si}}
	return st, out, nil
}

// Finish combines this signer's share, kept in the state, with the peer's share.
func Finish(st *State, bc map[int]network.Broadcast[SignatureShare]) (*Signature, error) {
	if err := st.expectRound(4); err != nil {
		return nil, err
	}
	msg, err := onlyFrom(bc, st.PeerIndex)
	if err != nil {
		return nil, err
	}
	if msg.Payload.Index != st.PeerIndex {
		return nil, mpcerr.Validationf("signature share from party %d claims index %d", st.PeerIndex, msg.Payload.Index)
	}
	hash, err := hex.DecodeString(st.Hash)
	if err != nil {
		return nil, mpcerr.Validationf("message hash: %v", err)
	}
	own := SignatureShare{Index: st.Index, R: st.R, S: st.S}
	return Combine([]SignatureShare{own, msg.Payload}, hash, st.PublicKey)
}

// mtaSession binds the responder's proofs to this signing session: both
// nonce commitments, the hash, the path and the responder's index.
func (s *State) mtaSession(responder int) []byte {
	lo, hi := s.Commitment, s.PeerCommitment
	if s.PeerIndex < s.Index {
		lo, hi = hi, lo
	}
	return common.SHA512_256i(
		new(big.Int).SetBytes([]byte(Protocol)),
		new(big.Int).SetBytes([]byte(s.Hash)),
		new(big.Int).SetBytes([]byte(s.Path)),
		lo, hi,
		big.NewInt(int64(responder)),
	).Bytes()
}

func onlyFrom[M any](in map[int]M, peer int) (M, error) {
	var zero M
	if len(in) != 1 {
		return zero, mpcerr.Validationf("expected one message from party %d, got %d", peer, len(in))
	}
	m, ok := in[peer]
	if !ok {
		return zero, mpcerr.Validationf("missing message from party %d", peer)
	}
	return m, nil
}
