package eddsa

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"custody-node/internal/mpcerr"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"filippo.io/edwards25519"
)

// Step is the last signing step a party completed.
type Step int

const (
	StepNone Step = iota
	StepCommitment
	StepRShare
	StepGShare
)

// SignState carries a signer between steps.
type SignState struct {
	Step        Step           `json:"step"`
	I           int            `json:"i"`
	Signers     []int          `json:"signers"`
	Message     string         `json:"message"`
	Y           string         `json:"y"`
	X           string         `json:"x"`
	RPoint      string         `json:"rPoint"`
	RShares     map[int]string `json:"rShares"`
	Commitments map[int]string `json:"commitments,omitempty"`
}

// Commitment binds a signer to its nonce point before any nonce is revealed.
type Commitment struct {
	I          int    `json:"i"`
	Commitment string `json:"commitment"`
}

// RShare reveals signer I's nonce point and its nonce share for signer J.
type RShare struct {
	I int    `json:"i"`
	J int    `json:"j"`
	R string `json:"r"`
	U string `json:"u"`
}

// GShare is a signer's share of S, together with the aggregate nonce point.
type GShare struct {
	I     int    `json:"i"`
	Y     string `json:"y"`
	Gamma string `json:"gamma"`
	R     string `json:"r"`
}

// Bytes serializes the state.
func (s *SignState) Bytes() ([]byte, error) {
	return json.Marshal(s)
}

// RestoreSignState decodes session bytes, rejecting non-canonical input.
func RestoreSignState(b []byte) (*SignState, error) {
	var s SignState
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, mpcerr.Validationf("decode session bytes: %v", err)
	}
	again, err := json.Marshal(&s)
	if err != nil || !bytes.Equal(again, b) {
		return nil, mpcerr.Validationf("session bytes are not canonical")
	}
	return &s, nil
}

func (s *SignState) expectStep(step Step) error {
	if s == nil {
		return mpcerr.Validationf("eddsa signing state is missing")
	}
	if s.Step != step {
		return fmt.Errorf("%w: expected step %d to be done, state is at step %d", mpcerr.ErrOutOfSequenceShare, step, s.Step)
	}
	return nil
}

func (s *SignState) clone() (*SignState, error) {
	b, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	var out SignState
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SignState) peers() []int {
	out := make([]int, 0, len(s.Signers)-1)
	for _, j := range s.Signers {
		if j != s.I {
			out = append(out, j)
		}
	}
	return out
}

// SignCommitment starts signing message with the given signer set. It derives
// the nonce from the key prefix, the message and fresh randomness, shares it
// among the signers and commits to the nonce point.
func SignCommitment(key *DerivedKey, message []byte, signers []int, rnd io.Reader) (*SignState, *Commitment, error) {
	ps := key.PShare
	set, err := signerSet(ps, signers)
	if err != nil {
		return nil, nil, err
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	prefix, err := hex.DecodeString(ps.Prefix)
	if err != nil {
		return nil, nil, mpcerr.Validationf("key prefix: %v", err)
	}

	// 1. Nonce r_i = H(prefix || message || random).
	var extra [32]byte
	if _, err := io.ReadFull(rnd, extra[:]); err != nil {
		return nil, nil, err
	}
	h := sha512.New()
	h.Write(prefix)
	h.Write(message)
	h.Write(extra[:])
	r, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return nil, nil, err
	}

	// 2. Shamir shares of r_i for every signer.
	coeffs := []*edwards25519.Scalar{r}
	for k := 1; k < ps.T; k++ {
		c, err := randomScalar(rnd)
		if err != nil {
			return nil, nil, err
		}
		coeffs = append(coeffs, c)
	}
	rShares := make(map[int]string, len(set))
	for _, j := range set {
		rShares[j] = scalarHex(evalPoly(coeffs, j))
	}

	R := baseMult(r)
	st := &SignState{
		Step:    StepCommitment,
		I:       ps.I,
		Signers: set,
		Message: hex.EncodeToString(message),
		Y:       ps.Y,
		X:       ps.U,
		RPoint:  pointHex(R),
		RShares: rShares,
	}
	return st, &Commitment{I: ps.I, Commitment: commit(ps.I, R)}, nil
}

// SignRShare records the peers' commitments and reveals R_i with each peer's nonce share.
func SignRShare(prev *SignState, commitments map[int]Commitment) (*SignState, []RShare, error) {
	if err := prev.expectStep(StepCommitment); err != nil {
		return nil, nil, err
	}
	peers := prev.peers()
	if len(commitments) != len(peers) {
		return nil, nil, mpcerr.Validationf("expected %d commitments, got %d", len(peers), len(commitments))
	}
	st, err := prev.clone()
	if err != nil {
		return nil, nil, err
	}
	st.Commitments = make(map[int]string, len(peers))
	out := make([]RShare, 0, len(peers))
	for _, j := range peers {
		c, ok := commitments[j]
		if !ok || c.I != j || c.Commitment == "" {
			return nil, nil, mpcerr.Validationf("missing commitment from signer %d", j)
		}
		st.Commitments[j] = c.Commitment
		out = append(out, RShare{I: st.I, J: j, R: st.RPoint, U: st.RShares[j]})
	}
	st.Step = StepRShare
	return st, out, nil
}

// SignGShare checks the revealed nonce points against their commitments and
// computes this signer's share of S.
func SignGShare(prev *SignState, rShares map[int]RShare) (*SignState, *GShare, error) {
	if err := prev.expectStep(StepRShare); err != nil {
		return nil, nil, err
	}
	peers := prev.peers()
	if len(rShares) != len(peers) {
		return nil, nil, mpcerr.Validationf("expected %d r-shares, got %d", len(peers), len(rShares))
	}
	st, err := prev.clone()
	if err != nil {
		return nil, nil, err
	}

	R, err := parsePoint(st.RPoint)
	if err != nil {
		return nil, nil, err
	}
	rSum, err := parseScalar(st.RShares[st.I])
	if err != nil {
		return nil, nil, err
	}
	for _, j := range peers {
		rs, ok := rShares[j]
		if !ok || rs.I != j || rs.J != st.I {
			return nil, nil, mpcerr.Validationf("missing r-share from signer %d", j)
		}
		Rj, err := parsePoint(rs.R)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: nonce point from signer %d: %v", mpcerr.ErrInvalidShareProof, j, err)
		}
		if commit(j, Rj) != st.Commitments[j] {
			return nil, nil, mpcerr.InvalidProoff("nonce point from signer %d does not match its commitment", j)
		}
		u, err := parseScalar(rs.U)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: nonce share from signer %d: %v", mpcerr.ErrInvalidShareProof, j, err)
		}
		R = new(edwards25519.Point).Add(R, Rj)
		rSum = edwards25519.NewScalar().Add(rSum, u)
	}

	msg, err := hex.DecodeString(st.Message)
	if err != nil {
		return nil, nil, mpcerr.Validationf("message: %v", err)
	}
	x, err := parseScalar(st.X)
	if err != nil {
		return nil, nil, err
	}
	y, err := parsePoint(st.Y)
	if err != nil {
		return nil, nil, err
	}
	k := challenge(R, y, msg)
	gamma := edwards25519.NewScalar().MultiplyAdd(k, x, rSum)

	st.Step = StepGShare
	return st, &GShare{I: st.I, Y: st.Y, Gamma: scalarHex(gamma), R: pointHex(R)}, nil
}

// SignCombine interpolates the signers' g-shares into R || S and verifies it.
func SignCombine(gShares []GShare, message []byte) ([]byte, error) {
	if len(gShares) < 2 {
		return nil, mpcerr.Combinationf("need at least 2 g-shares, got %d", len(gShares))
	}
	set := make([]int, 0, len(gShares))
	seen := map[int]bool{}
	for _, g := range gShares {
		if seen[g.I] {
			return nil, mpcerr.Combinationf("duplicate g-share from signer %d", g.I)
		}
		seen[g.I] = true
		set = append(set, g.I)
		if g.R != gShares[0].R || g.Y != gShares[0].Y {
			return nil, mpcerr.Combinationf("g-shares disagree on R or the public key")
		}
	}

	S := edwards25519.NewScalar()
	for _, g := range gShares {
		gamma, err := parseScalar(g.Gamma)
		if err != nil {
			return nil, mpcerr.Combinationf("g-share from signer %d: %v", g.I, err)
		}
		S = edwards25519.NewScalar().MultiplyAdd(lagrange(g.I, set), gamma, S)
	}
	R, err := hex.DecodeString(gShares[0].R)
	if err != nil {
		return nil, mpcerr.Combinationf("R: %v", err)
	}
	pub, err := hex.DecodeString(gShares[0].Y)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, mpcerr.Combinationf("public key is malformed")
	}
	sig := append(R, S.Bytes()...)
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return nil, mpcerr.Combinationf("signature does not verify against the public key")
	}
	return sig, nil
}

func signerSet(ps PShare, signers []int) ([]int, error) {
	set := append([]int(nil), signers...)
	sort.Ints(set)
	if len(set) < ps.T {
		return nil, mpcerr.Validationf("need at least %d signers, got %d", ps.T, len(set))
	}
	self := false
	for k, j := range set {
		if j < 1 || j > ps.N || (k > 0 && set[k-1] == j) {
			return nil, mpcerr.Validationf("invalid signer set %v", signers)
		}
		if j == ps.I {
			self = true
		}
	}
	if !self {
		return nil, mpcerr.Validationf("signer set %v does not include party %d", signers, ps.I)
	}
	return set, nil
}

func commit(i int, R *edwards25519.Point) string {
	h := sha256.New()
	h.Write([]byte("eddsa-nonce-commitment"))
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(i))
	h.Write(idx[:])
	h.Write(R.Bytes())
	return hex.EncodeToString(h.Sum(nil))
}

// challenge is the Ed25519 k = SHA-512(R || A || M) mod L.
func challenge(R, A *edwards25519.Point, msg []byte) *edwards25519.Scalar {
	h := sha512.New()
	h.Write(R.Bytes())
	h.Write(A.Bytes())
	h.Write(msg)
	k, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		panic(err)
	}
	return k
}
