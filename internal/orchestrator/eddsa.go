package orchestrator

import (
	"context"
	"custody-node/internal/dto"
	"custody-node/internal/mpcerr"
	"custody-node/internal/network"
	"custody-node/internal/party"
	"custody-node/internal/session"
	"custody-node/internal/tss/eddsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const (
	// EddsaDkgProtocol names the EdDSA key generation on the wire.
	EddsaDkgProtocol = "eddsa-dkg"
	// EddsaSignProtocol names the EdDSA signing ceremony on the wire.
	EddsaSignProtocol = "eddsa-dsg"

	eddsaDkgFinalizeRound = 3
	eddsaSignCombineRound = 4
)

// eddsaSignSession is the session payload of an EdDSA signer. GShare is set
// once the party computed its share of S.
type eddsaSignSession struct {
	State  json.RawMessage `json:"state"`
	GShare *eddsa.GShare   `json:"gShare,omitempty"`
}

// EddsaDkgInit samples the party's EdDSA polynomial. Its y-shares are only
// sent in round 2, once the peers' identity keys are known.
func (o *Orchestrator) EddsaDkgInit(ctx context.Context, req *dto.RoundRequest) (resp *dto.RoundResponse, err error) {
	defer o.track(EddsaDkgProtocol, req.Role, 1)(&err)

	st, err := session.New(EddsaDkgProtocol, req.Role, party.Peers(req.Role))
	if err != nil {
		return nil, err
	}
	if err := st.Pin(req.PeerPublicKeys); err != nil {
		return nil, err
	}
	if len(req.Messages) > 0 {
		return nil, mpcerr.Validationf("round 1 takes no messages, got %d", len(req.Messages))
	}
	share, err := eddsa.GenerateShare(req.Role.Index(), party.Threshold, party.Total, o.rand)
	if err != nil {
		return nil, err
	}
	sb, err := json.Marshal(share)
	if err != nil {
		return nil, err
	}
	return o.next(ctx, st, sb, nil)
}

// EddsaDkgRound sends each peer its y-share, encrypted to the peer's pinned key.
func (o *Orchestrator) EddsaDkgRound(ctx context.Context, round int, req *dto.RoundRequest) (resp *dto.RoundResponse, err error) {
	defer o.track(EddsaDkgProtocol, req.Role, round)(&err)

	if round != 2 {
		return nil, mpcerr.Validationf("eddsa dkg has no round %d", round)
	}
	st, inbox, err := o.open(ctx, EddsaDkgProtocol, round, req)
	if err != nil {
		return nil, err
	}
	if err := inbox.Close(); err != nil {
		return nil, err
	}
	var share eddsa.KeyShare
	if err := decodeStrict(st.SessionBytes, &share); err != nil {
		return nil, err
	}
	msgs := make([]wirer, 0, len(st.Peers))
	for _, y := range share.PeerShares() {
		msgs = append(msgs, network.PointToPoint[eddsa.YShare]{From: y.I, To: y.J, Payload: y})
	}
	out, err := encode(network.Header{Protocol: EddsaDkgProtocol, Round: round}, msgs...)
	if err != nil {
		return nil, err
	}
	return o.next(ctx, st, st.SessionBytes, out)
}

// EddsaDkgFinalize verifies the peers' y-shares, combines them into the
// party's signing share and hands it to custody.
func (o *Orchestrator) EddsaDkgFinalize(ctx context.Context, req *dto.DkgFinalizeRequest) (resp *dto.KeychainResponse, err error) {
	defer o.track(EddsaDkgProtocol, req.Role, eddsaDkgFinalizeRound)(&err)

	if req.Role != party.Coordinator && req.CoordinatorKeychain == "" {
		return nil, mpcerr.Validationf("%s must supply the coordinator's common keychain", req.Role)
	}
	st, inbox, err := o.open(ctx, EddsaDkgProtocol, eddsaDkgFinalizeRound, &req.RoundRequest)
	if err != nil {
		return nil, err
	}
	var share eddsa.KeyShare
	if err := decodeStrict(st.SessionBytes, &share); err != nil {
		return nil, err
	}
	msgs, err := network.TakeDirect[eddsa.YShare](inbox, network.Header{Protocol: EddsaDkgProtocol, Round: 2}, st.Peers)
	if err != nil {
		return nil, err
	}
	if err := inbox.Close(); err != nil {
		return nil, err
	}
	peers := make([]eddsa.YShare, 0, len(msgs))
	for _, p := range st.Peers {
		y := msgs[p.Index()].Payload
		if y.I != p.Index() {
			return nil, mpcerr.InvalidProoff("y-share from %s claims dealer %d", p, y.I)
		}
		peers = append(peers, y)
	}
	key, err := eddsa.Combine(&share, peers)
	if err != nil {
		return nil, err
	}
	if req.CoordinatorKeychain != "" && req.CoordinatorKeychain != key.CommonKeychain {
		return nil, fmt.Errorf("%w: local keychain differs from the coordinator's", mpcerr.ErrKeychainMismatch)
	}
	if err := o.putKey(ctx, key.CommonKeychain, st.Role, key); err != nil {
		return nil, err
	}
	return &dto.KeychainResponse{
		CommonKeychain: key.CommonKeychain,
		PublicKey:      key.PShare.Y,
		ChainCode:      key.PShare.ChainCode,
	}, nil
}

// EddsaSignInit loads the party's EdDSA key, derives the signing key along
// req.Path and commits to this signer's nonce.
func (o *Orchestrator) EddsaSignInit(ctx context.Context, req *dto.EddsaSignInitRequest) (resp *dto.RoundResponse, err error) {
	defer o.track(EddsaSignProtocol, req.Role, 1)(&err)

	if err := party.SigningPair(req.Role, req.Peer); err != nil {
		return nil, err
	}
	message, err := hex.DecodeString(req.Message)
	if err != nil {
		return nil, mpcerr.Validationf("message: %v", err)
	}
	key, err := o.loadEddsaKey(ctx, req.CommonKeychain, req.Role)
	if err != nil {
		return nil, err
	}
	derived, err := eddsa.Derive(key, req.Path)
	if err != nil {
		return nil, err
	}

	st, err := session.New(EddsaSignProtocol, req.Role, []party.Role{req.Peer})
	if err != nil {
		return nil, err
	}
	signers := party.Indexes([]party.Role{req.Role, req.Peer})
	ss, commitment, err := eddsa.SignCommitment(derived, message, signers, o.rand)
	if err != nil {
		return nil, err
	}
	sb, err := eddsaSession(ss, nil)
	if err != nil {
		return nil, err
	}
	out, err := encode(network.Header{Protocol: EddsaSignProtocol, Round: 1},
		network.Broadcast[eddsa.Commitment]{From: commitment.I, Payload: *commitment})
	if err != nil {
		return nil, err
	}
	return o.next(ctx, st, sb, out)
}

// EddsaSignRound runs signing round 2 (r-shares) or 3 (g-share).
func (o *Orchestrator) EddsaSignRound(ctx context.Context, round int, req *dto.RoundRequest) (resp *dto.RoundResponse, err error) {
	defer o.track(EddsaSignProtocol, req.Role, round)(&err)

	if round != 2 && round != 3 {
		return nil, mpcerr.Validationf("eddsa signing has no round %d", round)
	}
	st, inbox, err := o.open(ctx, EddsaSignProtocol, round, req)
	if err != nil {
		return nil, err
	}
	prev, _, err := restoreEddsaSession(st.SessionBytes)
	if err != nil {
		return nil, err
	}
	in := network.Header{Protocol: EddsaSignProtocol, Round: round - 1}
	h := network.Header{Protocol: EddsaSignProtocol, Round: round}

	var (
		sb  []byte
		out []network.WireMessage
	)
	switch round {
	case 2:
		bc, err := network.TakeBroadcasts[eddsa.Commitment](inbox, in, st.Peers)
		if err != nil {
			return nil, err
		}
		commitments := make(map[int]eddsa.Commitment, len(bc))
		for j, m := range bc {
			commitments[j] = m.Payload
		}
		ss, rShares, err := eddsa.SignRShare(prev, commitments)
		if err != nil {
			return nil, err
		}
		msgs := make([]wirer, 0, len(rShares))
		for _, r := range rShares {
			msgs = append(msgs, network.PointToPoint[eddsa.RShare]{From: r.I, To: r.J, Payload: r})
		}
		if out, err = encode(h, msgs...); err != nil {
			return nil, err
		}
		if sb, err = eddsaSession(ss, nil); err != nil {
			return nil, err
		}
	case 3:
		direct, err := network.TakeDirect[eddsa.RShare](inbox, in, st.Peers)
		if err != nil {
			return nil, err
		}
		rShares := make(map[int]eddsa.RShare, len(direct))
		for j, m := range direct {
			rShares[j] = m.Payload
		}
		ss, g, err := eddsa.SignGShare(prev, rShares)
		if err != nil {
			return nil, err
		}
		if out, err = encode(h, network.Broadcast[eddsa.GShare]{From: g.I, Payload: *g}); err != nil {
			return nil, err
		}
		if sb, err = eddsaSession(ss, g); err != nil {
			return nil, err
		}
	}
	if err := inbox.Close(); err != nil {
		return nil, err
	}
	return o.next(ctx, st, sb, out)
}

// EddsaSignCombine interpolates the party's g-share with the peer's into the
// final signature.
func (o *Orchestrator) EddsaSignCombine(ctx context.Context, req *dto.RoundRequest) (resp *dto.SignResponse, err error) {
	defer o.track(EddsaSignProtocol, req.Role, eddsaSignCombineRound)(&err)

	st, inbox, err := o.open(ctx, EddsaSignProtocol, eddsaSignCombineRound, req)
	if err != nil {
		return nil, err
	}
	prev, own, err := restoreEddsaSession(st.SessionBytes)
	if err != nil {
		return nil, err
	}
	if prev.Step != eddsa.StepGShare || own == nil {
		return nil, fmt.Errorf("%w: g-share has not been computed", mpcerr.ErrOutOfSequenceShare)
	}
	bc, err := network.TakeBroadcasts[eddsa.GShare](inbox, network.Header{Protocol: EddsaSignProtocol, Round: 3}, st.Peers)
	if err != nil {
		return nil, err
	}
	if err := inbox.Close(); err != nil {
		return nil, err
	}
	shares := []eddsa.GShare{*own}
	for j, m := range bc {
		if m.Payload.I != j {
			return nil, mpcerr.Combinationf("g-share from signer %d claims index %d", j, m.Payload.I)
		}
		shares = append(shares, m.Payload)
	}
	message, err := hex.DecodeString(prev.Message)
	if err != nil {
		return nil, mpcerr.Validationf("message: %v", err)
	}
	sig, err := eddsa.SignCombine(shares, message)
	if err != nil {
		return nil, err
	}
	return &dto.SignResponse{Eddsa: &dto.EddsaSignature{
		Signature: hex.EncodeToString(sig),
		PublicKey: own.Y,
	}}, nil
}

func (o *Orchestrator) loadEddsaKey(ctx context.Context, keychain string, role party.Role) (*eddsa.CombinedKey, error) {
	material, err := o.getKey(ctx, keychain, role)
	if err != nil {
		return nil, err
	}
	var key eddsa.CombinedKey
	if err := json.Unmarshal(material, &key); err != nil {
		return nil, mpcerr.Validationf("decode eddsa key: %v", err)
	}
	if key.PShare.I != role.Index() || key.CommonKeychain != keychain {
		return nil, mpcerr.Validationf("custody returned a key that does not belong to %s", role)
	}
	return &key, nil
}

func eddsaSession(ss *eddsa.SignState, g *eddsa.GShare) ([]byte, error) {
	state, err := ss.Bytes()
	if err != nil {
		return nil, err
	}
	return json.Marshal(eddsaSignSession{State: state, GShare: g})
}

func restoreEddsaSession(b []byte) (*eddsa.SignState, *eddsa.GShare, error) {
	var s eddsaSignSession
	if err := decodeStrict(b, &s); err != nil {
		return nil, nil, err
	}
	ss, err := eddsa.RestoreSignState(s.State)
	if err != nil {
		return nil, nil, err
	}
	return ss, s.GShare, nil
}
