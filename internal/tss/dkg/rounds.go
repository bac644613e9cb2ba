// Package dkg runs ECDSA distributed key generation on secp256k1 as four
// stateless rounds plus a finalize step. Every function takes the previous
// state and the messages of the round and returns the next state and the
// messages to send. The input state is never modified.
package dkg

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"custody-node/internal/mpcerr"
	"custody-node/internal/network"
	"custody-node/internal/party"
	"custody-node/internal/tss"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/common"
	"github.com/bnb-chain/tss-lib/v2/crypto"
	"github.com/bnb-chain/tss-lib/v2/crypto/commitments"
	"github.com/bnb-chain/tss-lib/v2/crypto/dlnproof"
	"github.com/bnb-chain/tss-lib/v2/crypto/facproof"
	"github.com/bnb-chain/tss-lib/v2/crypto/modproof"
	"github.com/bnb-chain/tss-lib/v2/crypto/vss"
	"github.com/bnb-chain/tss-lib/v2/ecdsa/keygen"
	tsslib "github.com/bnb-chain/tss-lib/v2/tss"
)

// Protocol names this ceremony on the wire.
const Protocol = "ecdsa-dkg"

const (
	// DefaultPaillierBits is the Paillier modulus size used in production.
	DefaultPaillierBits = 2048
	// MinPaillierBits is the smallest peer modulus accepted. A product of two
	// k-bit primes has 2k-1 or 2k bits, and the MtA masks values below q^5.
	MinPaillierBits = 1535

	degree = party.Threshold - 1
)

// Params configures round 1. PreParams, when set, replaces generating the
// Paillier key and ring-Pedersen parameters inline.
type Params struct {
	Index        int
	PaillierBits int
	PreParams    *keygen.LocalPreParams
	Rand         io.Reader
}

type Round1Payload struct {
	Commitment *big.Int `json:"commitment"`
	PaillierN  *big.Int `json:"paillierN"`
	NTilde     *big.Int `json:"nTilde"`
	H1         *big.Int `json:"h1"`
	H2         *big.Int `json:"h2"`
	DLNProof1  [][]byte `json:"dlnProof1"`
	DLNProof2  [][]byte `json:"dlnProof2"`
	ModProof   [][]byte `json:"modProof"`
}

type Round2Payload struct {
	Decommitment []*big.Int `json:"decommitment"`
	Share        *big.Int   `json:"share"`
	FacProof     [][]byte   `json:"facProof"`
}

type Round3Payload struct {
	Proof      *tss.SchnorrProof `json:"proof"`
	Transcript string            `json:"transcript"`
}

type Round4Payload struct {
	Finalization string `json:"finalization"`
}

// Round1 samples the party's secret and chain code contribution, splits the
// secret with Feldman VSS and commits to the VSS commitments. It publishes
// the party's Paillier modulus and ring-Pedersen parameters with proofs that
// both are well formed.
func Round1(ctx context.Context, params Params) (*State, network.Broadcast[Round1Payload], error) {
	var out network.Broadcast[Round1Payload]
	if params.Index < 1 || params.Index > party.Total {
		return nil, out, mpcerr.Validationf("dkg index %d out of range", params.Index)
	}
	rnd := params.Rand
	if rnd == nil {
		rnd = rand.Reader
	}
	bits := params.PaillierBits
	if bits == 0 {
		bits = DefaultPaillierBits
	}
	if bits <= MinPaillierBits {
		return nil, out, mpcerr.Validationf("paillier modulus of %d bits is too small", bits)
	}

	// 1. Secret, chain code contribution and their Feldman sharing.
	ui := tss.RandomScalar(rnd)
	ci := tss.RandomScalar(rnd)
	ids := make([]*big.Int, 0, party.Total)
	for j := 1; j <= party.Total; j++ {
		ids = append(ids, big.NewInt(int64(j)))
	}
	vs, shares, err := vss.Create(tsslib.S256(), degree, ui, ids, rnd)
	if err != nil {
		return nil, out, err
	}

	// 2. Hash commitment to (vs, c_i).
	cmt := commitments.NewHashCommitment(rnd, flatten(vs, ci)...)

	// 3. Paillier key and ring-Pedersen parameters for signing-time MtA.
	pre := params.PreParams
	if pre == nil {
		if pre, err = GeneratePreParams(ctx, bits, rnd); err != nil {
			return nil, out, err
		}
	}
	if !pre.ValidateWithProof() {
		return nil, out, mpcerr.Validationf("dkg pre-parameters are incomplete")
	}
	paiSK := pre.PaillierSK
	if paiSK.N.BitLen() < MinPaillierBits || pre.NTildei.BitLen() < MinPaillierBits {
		return nil, out, mpcerr.Validationf("dkg pre-parameters are too small")
	}

	// 4. Proofs: h1 and h2 generate the same group mod NTilde, and N is a
	// Paillier-Blum modulus.
	payload := Round1Payload{Commitment: cmt.C, PaillierN: paiSK.N, NTilde: pre.NTildei, H1: pre.H1i, H2: pre.H2i}
	dln1 := dlnproof.NewDLNProof(pre.H1i, pre.H2i, pre.Alpha, pre.P, pre.Q, pre.NTildei, rnd)
	dln2 := dlnproof.NewDLNProof(pre.H2i, pre.H1i, pre.Beta, pre.P, pre.Q, pre.NTildei, rnd)
	if payload.DLNProof1, err = dln1.Serialize(); err != nil {
		return nil, out, err
	}
	if payload.DLNProof2, err = dln2.Serialize(); err != nil {
		return nil, out, err
	}
	mp, err := modproof.NewProof(proofSession(params.Index, cmt.C), paiSK.N, paiSK.P, paiSK.Q, rnd)
	if err != nil {
		return nil, out, err
	}
	mpBytes := mp.Bytes()
	payload.ModProof = mpBytes[:]

	st := &State{
		Round:        1,
		Index:        params.Index,
		Shares:       make(map[int]*big.Int, len(shares)),
		Commitment:   cmt.C,
		Decommitment: cmt.D,
		PaillierKey:  paiSK,
		RingPedersen: RingPedersen{NTilde: pre.NTildei, H1: pre.H1i, H2: pre.H2i},
	}
	for _, sh := range shares {
		st.Shares[int(sh.ID.Int64())] = sh.Share
	}
	out = network.Broadcast[Round1Payload]{From: params.Index, Payload: payload}
	return st, out, nil
}

// Round2 verifies and records the peers' commitments, Paillier keys and
// ring-Pedersen parameters. It sends each peer its share, the decommitment
// and a proof that the own Paillier modulus has no small factors.
func Round2(prev *State, in map[int]network.Broadcast[Round1Payload], rnd io.Reader) (*State, []network.PointToPoint[Round2Payload], error) {
	if err := prev.expectRound(1); err != nil {
		return nil, nil, err
	}
	if err := requirePeers(prev.Index, len(in), func(j int) bool { _, ok := in[j]; return ok }); err != nil {
		return nil, nil, err
	}
	st, err := prev.clone()
	if err != nil {
		return nil, nil, err
	}

	if rnd == nil {
		rnd = rand.Reader
	}

	st.PeerCommitments = make(map[int]*big.Int, len(in))
	st.PeerPaillier = make(map[int]*big.Int, len(in))
	st.PeerRingPedersen = make(map[int]RingPedersen, len(in))
	seenH1 := map[string]int{st.RingPedersen.H1.String(): st.Index}
	for j, msg := range in {
		p := msg.Payload
		if p.Commitment == nil || p.Commitment.Sign() <= 0 {
			return nil, nil, mpcerr.Validationf("round 1 commitment from party %d is missing", j)
		}
		if p.PaillierN == nil || p.PaillierN.BitLen() < MinPaillierBits || p.PaillierN.Bit(0) == 0 {
			return nil, nil, mpcerr.Validationf("paillier modulus from party %d is invalid", j)
		}
		rp := RingPedersen{NTilde: p.NTilde, H1: p.H1, H2: p.H2}
		if !rp.valid() {
			return nil, nil, mpcerr.Validationf("ring-pedersen parameters from party %d are invalid", j)
		}
		if k, dup := seenH1[rp.H1.String()]; dup {
			return nil, nil, mpcerr.InvalidProoff("party %d reuses the h1 of party %d", j, k)
		}
		seenH1[rp.H1.String()] = j
		if err := verifyRound1Proofs(j, p); err != nil {
			return nil, nil, err
		}
		st.PeerCommitments[j] = p.Commitment
		st.PeerPaillier[j] = p.PaillierN
		st.PeerRingPedersen[j] = rp
	}

	out := make([]network.PointToPoint[Round2Payload], 0, len(in))
	for _, j := range peersOf(st.Index) {
		peer := st.PeerRingPedersen[j]
		fp, err := facproof.NewProof(proofSession(st.Index, st.Commitment), tsslib.S256(), st.PaillierKey.N,
			peer.NTilde, peer.H1, peer.H2, st.PaillierKey.P, st.PaillierKey.Q, rnd)
		if err != nil {
			return nil, nil, err
		}
		fpBytes := fp.Bytes()
		out = append(out, network.PointToPoint[Round2Payload]{
			From:    st.Index,
			To:      j,
			Payload: Round2Payload{Decommitment: st.Decommitment, Share: st.Shares[j], FacProof: fpBytes[:]},
		})
	}
	st.Round = 2
	return st, out, nil
}

func verifyRound1Proofs(j int, p Round1Payload) error {
	dln1, err := dlnproof.UnmarshalDLNProof(p.DLNProof1)
	if err != nil || !dln1.Verify(p.H1, p.H2, p.NTilde) {
		return mpcerr.InvalidProoff("h1/h2 discrete log proof from party %d is invalid", j)
	}
	dln2, err := dlnproof.UnmarshalDLNProof(p.DLNProof2)
	if err != nil || !dln2.Verify(p.H2, p.H1, p.NTilde) {
		return mpcerr.InvalidProoff("h2/h1 discrete log proof from party %d is invalid", j)
	}
	mp, err := modproof.NewProofFromBytes(p.ModProof)
	if err != nil || !mp.Verify(proofSession(j, p.Commitment), p.PaillierN) {
		return mpcerr.InvalidProoff("paillier modulus proof from party %d is invalid", j)
	}
	return nil
}

// proofSession binds a party's modulus proofs to its index and its round 1
// commitment.
func proofSession(index int, commitment *big.Int) []byte {
	return common.SHA512_256i(new(big.Int).SetBytes([]byte(Protocol)), big.NewInt(int64(index)), commitment).Bytes()
}

// Round3 verifies each decommitment and share, derives the party's signing
// share and the group key, and proves knowledge of the signing share.
func Round3(prev *State, in map[int]network.PointToPoint[Round2Payload], rnd io.Reader) (*State, []network.PointToPoint[Round3Payload], error) {
	if err := prev.expectRound(2); err != nil {
		return nil, nil, err
	}
	if err := requirePeers(prev.Index, len(in), func(j int) bool { _, ok := in[j]; return ok }); err != nil {
		return nil, nil, err
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	st, err := prev.clone()
	if err != nil {
		return nil, nil, err
	}
	ec := tsslib.S256()
	mod := common.ModInt(tss.Order())

	// 1. Own polynomial commitments.
	allVs := make(map[int]vss.Vs, party.Total)
	chainParts := make(map[int]*big.Int, party.Total)
	ownVs, ownC, err := unflatten(st.Decommitment[1:])
	if err != nil {
		return nil, nil, err
	}
	allVs[st.Index], chainParts[st.Index] = ownVs, ownC
	xi := new(big.Int).Set(st.Shares[st.Index])

	// 2. Peers' modulus proofs, decommitments and shares.
	for j, msg := range in {
		p := msg.Payload
		fp, err := facproof.NewProofFromBytes(p.FacProof)
		if err != nil || !fp.Verify(proofSession(j, st.PeerCommitments[j]), ec, st.PeerPaillier[j],
			st.RingPedersen.NTilde, st.RingPedersen.H1, st.RingPedersen.H2) {
			return nil, nil, mpcerr.InvalidProoff("paillier factor proof from party %d is invalid", j)
		}
		cmt := &commitments.HashCommitDecommit{C: st.PeerCommitments[j], D: p.Decommitment}
		ok, secrets := cmt.DeCommit()
		if !ok {
			return nil, nil, mpcerr.InvalidProoff("decommitment from party %d does not open its commitment", j)
		}
		vsj, cj, err := unflatten(secrets)
		if err != nil {
			return nil, nil, mpcerr.InvalidProoff("decommitment from party %d: %v", j, err)
		}
		if p.Share == nil || p.Share.Sign() < 0 || p.Share.Cmp(tss.Order()) >= 0 {
			return nil, nil, mpcerr.InvalidProoff("share from party %d is out of range", j)
		}
		share := &vss.Share{Threshold: degree, ID: big.NewInt(int64(st.Index)), Share: p.Share}
		if !share.Verify(ec, degree, vsj) {
			return nil, nil, mpcerr.InvalidProoff("share from party %d fails feldman verification", j)
		}
		allVs[j], chainParts[j] = vsj, cj
		xi = mod.Add(xi, p.Share)
	}

	// 3. Group key, chain code and every party's public share.
	var y *crypto.ECPoint
	chainCode := big.NewInt(0)
	for j := 1; j <= party.Total; j++ {
		if y == nil {
			y = allVs[j][0]
		} else if y, err = y.Add(allVs[j][0]); err != nil {
			return nil, nil, mpcerr.InvalidProoff("group key: %v", err)
		}
		chainCode = mod.Add(chainCode, chainParts[j])
	}
	publicShares := make(map[int]string, party.Total)
	var ownX *crypto.ECPoint
	for k := 1; k <= party.Total; k++ {
		xk, err := evalCommitments(allVs, k)
		if err != nil {
			return nil, nil, mpcerr.InvalidProoff("public share %d: %v", k, err)
		}
		publicShares[k] = tss.PointHex(xk)
		if k == st.Index {
			ownX = xk
		}
	}
	if !tss.BaseMult(xi).Equals(ownX) {
		return nil, nil, mpcerr.InvalidProoff("signing share does not match its public share")
	}

	// 4. Transcript over everything every party must have seen identically.
	transcript := transcriptHash(st, allVs, chainParts)

	st.Xi = xi
	st.PublicKey = tss.PointHex(y)
	st.ChainCode = hex.EncodeToString(tss.ScalarBytes(chainCode))
	st.PublicShares = publicShares
	st.Transcript = hex.EncodeToString(transcript)

	proof := tss.ProveDLog(rnd, transcript, st.Index, xi, ownX)
	out := make([]network.PointToPoint[Round3Payload], 0, len(in))
	for _, j := range peersOf(st.Index) {
		out = append(out, network.PointToPoint[Round3Payload]{
			From:    st.Index,
			To:      j,
			Payload: Round3Payload{Proof: proof, Transcript: st.Transcript},
		})
	}
	st.Round = 3
	return st, out, nil
}

// Round4 verifies the peers' proofs and transcripts and commits to the
// resulting common keychain.
func Round4(prev *State, in map[int]network.PointToPoint[Round3Payload]) (*State, network.Broadcast[Round4Payload], error) {
	var out network.Broadcast[Round4Payload]
	if err := prev.expectRound(3); err != nil {
		return nil, out, err
	}
	if err := requirePeers(prev.Index, len(in), func(j int) bool { _, ok := in[j]; return ok }); err != nil {
		return nil, out, err
	}
	st, err := prev.clone()
	if err != nil {
		return nil, out, err
	}
	transcript, err := hex.DecodeString(st.Transcript)
	if err != nil {
		return nil, out, mpcerr.Validationf("dkg transcript: %v", err)
	}

	for j, msg := range in {
		if msg.Payload.Transcript != st.Transcript {
			return nil, out, mpcerr.InvalidProoff("party %d saw a different transcript", j)
		}
		xj, err := tss.ParsePointHex(st.PublicShares[j])
		if err != nil {
			return nil, out, err
		}
		if !msg.Payload.Proof.Verify(transcript, j, xj) {
			return nil, out, mpcerr.InvalidProoff("proof of knowledge from party %d is invalid", j)
		}
	}

	keychain, err := st.commonKeychain()
	if err != nil {
		return nil, out, err
	}
	st.Finalization = finalization(transcript, keychain)
	st.Round = 4
	out = network.Broadcast[Round4Payload]{From: st.Index, Payload: Round4Payload{Finalization: st.Finalization}}
	return st, out, nil
}

// Finalize checks that every party committed to the same keychain and, when
// given, that it equals the coordinator's keychain. It returns the key share.
func Finalize(st *State, in map[int]network.Broadcast[Round4Payload], coordinatorKeychain string) (*KeyShare, error) {
	if err := st.expectRound(4); err != nil {
		return nil, err
	}
	if err := requirePeers(st.Index, len(in), func(j int) bool { _, ok := in[j]; return ok }); err != nil {
		return nil, err
	}
	for j, msg := range in {
		if msg.Payload.Finalization != st.Finalization {
			return nil, fmt.Errorf("%w: party %d finalized a different keychain", mpcerr.ErrKeychainMismatch, j)
		}
	}
	keychain, err := st.commonKeychain()
	if err != nil {
		return nil, err
	}
	if coordinatorKeychain != "" && coordinatorKeychain != keychain {
		return nil, fmt.Errorf("%w: local keychain differs from the coordinator's", mpcerr.ErrKeychainMismatch)
	}

	share := &KeyShare{
		Index:          st.Index,
		Threshold:      party.Threshold,
		Total:          party.Total,
		Xi:             st.Xi,
		PublicKey:      st.PublicKey,
		ChainCode:      st.ChainCode,
		PublicShares:   st.PublicShares,
		PaillierKey:    st.PaillierKey,
		PeerPaillier:   st.PeerPaillier,
		RingPedersen:   make(map[int]RingPedersen, party.Total),
		CommonKeychain: keychain,
	}
	share.RingPedersen[st.Index] = st.RingPedersen
	for j, rp := range st.PeerRingPedersen {
		share.RingPedersen[j] = rp
	}
	if err := share.Validate(); err != nil {
		return nil, err
	}
	return share, nil
}

func (s *State) commonKeychain() (string, error) {
	y, err := tss.ParsePointHex(s.PublicKey)
	if err != nil {
		return "", err
	}
	cc, err := hex.DecodeString(s.ChainCode)
	if err != nil {
		return "", mpcerr.Validationf("dkg chain code: %v", err)
	}
	return CommonKeychain(y, cc), nil
}

func finalization(transcript []byte, keychain string) string {
	h := sha256.New()
	h.Write([]byte(Protocol))
	h.Write(transcript)
	h.Write([]byte(keychain))
	return hex.EncodeToString(h.Sum(nil))
}

func transcriptHash(st *State, allVs map[int]vss.Vs, chainParts map[int]*big.Int) []byte {
	parts := make([]*big.Int, 0, 32)
	for j := 1; j <= party.Total; j++ {
		commitment, n, rp := st.Commitment, st.PaillierKey.N, st.RingPedersen
		if j != st.Index {
			commitment, n, rp = st.PeerCommitments[j], st.PeerPaillier[j], st.PeerRingPedersen[j]
		}
		parts = append(parts, big.NewInt(int64(j)), commitment, n, rp.NTilde, rp.H1, rp.H2)
		for _, v := range allVs[j] {
			parts = append(parts, v.X(), v.Y())
		}
		parts = append(parts, chainParts[j])
	}
	return tss.ScalarBytes(common.SHA512_256i(parts...))
}

// evalCommitments returns Σ_j Σ_l vs_j[l]·k^l, the public share of party k.
func evalCommitments(allVs map[int]vss.Vs, k int) (*crypto.ECPoint, error) {
	var acc *crypto.ECPoint
	kk := big.NewInt(int64(k))
	for j := 1; j <= party.Total; j++ {
		pow := big.NewInt(1)
		for _, v := range allVs[j] {
			term := v.ScalarMult(pow)
			if acc == nil {
				acc = term
			} else {
				var err error
				if acc, err = acc.Add(term); err != nil {
					return nil, err
				}
			}
			pow = new(big.Int).Mul(pow, kk)
		}
	}
	return acc, nil
}

func flatten(vs vss.Vs, chainPart *big.Int) []*big.Int {
	out := make([]*big.Int, 0, 2*len(vs)+1)
	for _, v := range vs {
		out = append(out, v.X(), v.Y())
	}
	return append(out, chainPart)
}

func unflatten(secrets []*big.Int) (vss.Vs, *big.Int, error) {
	if len(secrets) != 2*(degree+1)+1 {
		return nil, nil, mpcerr.Validationf("expected %d committed values, got %d", 2*(degree+1)+1, len(secrets))
	}
	vs := make(vss.Vs, 0, degree+1)
	for i := 0; i < degree+1; i++ {
		p, err := crypto.NewECPoint(tsslib.S256(), secrets[2*i], secrets[2*i+1])
		if err != nil {
			return nil, nil, mpcerr.Validationf("commitment point %d: %v", i, err)
		}
		vs = append(vs, p)
	}
	cj := secrets[len(secrets)-1]
	if cj.Sign() < 0 || cj.Cmp(tss.Order()) >= 0 {
		return nil, nil, mpcerr.Validationf("chain code contribution out of range")
	}
	return vs, cj, nil
}

func peersOf(index int) []int {
	out := make([]int, 0, party.Total-1)
	for j := 1; j <= party.Total; j++ {
		if j != index {
			out = append(out, j)
		}
	}
	return out
}

func requirePeers(index, n int, has func(int) bool) error {
	peers := peersOf(index)
	if n != len(peers) {
		return mpcerr.Validationf("expected %d peer messages, got %d", len(peers), n)
	}
	for _, j := range peers {
		if !has(j) {
			return mpcerr.Validationf("missing message from party %d", j)
		}
	}
	return nil
}
