package orchestrator

import (
	"context"
	"custody-node/internal/dto"
	"custody-node/internal/mpcerr"
	"custody-node/internal/network"
	"custody-node/internal/party"
	"custody-node/internal/session"
	"custody-node/internal/tss/dkg"
	"custody-node/internal/tss/dsg"
	"encoding/hex"
)

const (
	dsgShareRound   = 4
	dsgCombineRound = 5
)

// EcdsaSignInit loads the party's key share from custody and starts signing
// req.MessageHash together with req.Peer.
func (o *Orchestrator) EcdsaSignInit(ctx context.Context, req *dto.EcdsaSignInitRequest) (resp *dto.RoundResponse, err error) {
	defer o.track(dsg.Protocol, req.Role, 1)(&err)

	if err := party.SigningPair(req.Role, req.Peer); err != nil {
		return nil, err
	}
	hash, err := hex.DecodeString(req.MessageHash)
	if err != nil {
		return nil, mpcerr.Validationf("message hash: %v", err)
	}
	share, err := o.loadEcdsaShare(ctx, req.CommonKeychain, req.Role)
	if err != nil {
		return nil, err
	}

	st, err := session.New(dsg.Protocol, req.Role, []party.Role{req.Peer})
	if err != nil {
		return nil, err
	}
	ds, bc, direct, err := dsg.Round1(share, dsg.Params{
		PeerIndex: req.Peer.Index(),
		Path:      req.Path,
		Hash:      hash,
		Rand:      o.rand,
	})
	if err != nil {
		return nil, err
	}
	sb, err := ds.Bytes()
	if err != nil {
		return nil, err
	}
	out, err := encode(network.Header{Protocol: dsg.Protocol, Round: 1}, bc, direct)
	if err != nil {
		return nil, err
	}
	return o.next(ctx, st, sb, out)
}

// EcdsaSignRound runs signing round 2 or 3.
func (o *Orchestrator) EcdsaSignRound(ctx context.Context, round int, req *dto.RoundRequest) (resp *dto.RoundResponse, err error) {
	defer o.track(dsg.Protocol, req.Role, round)(&err)

	if round != 2 && round != 3 {
		return nil, mpcerr.Validationf("ecdsa signing has no round %d", round)
	}
	st, inbox, err := o.open(ctx, dsg.Protocol, round, req)
	if err != nil {
		return nil, err
	}
	prev, err := dsg.Restore(st.SessionBytes)
	if err != nil {
		return nil, err
	}
	in := network.Header{Protocol: dsg.Protocol, Round: round - 1}
	h := network.Header{Protocol: dsg.Protocol, Round: round}

	var (
		ds  *dsg.State
		out []network.WireMessage
	)
	switch round {
	case 2:
		bc, err := network.TakeBroadcasts[dsg.Round1Broadcast](inbox, in, st.Peers)
		if err != nil {
			return nil, err
		}
		direct, err := network.TakeDirect[dsg.Round1Direct](inbox, in, st.Peers)
		if err != nil {
			return nil, err
		}
		var p2p network.PointToPoint[dsg.Round2Direct]
		if ds, p2p, err = dsg.Round2(prev, bc, direct, o.rand); err != nil {
			return nil, err
		}
		if out, err = encode(h, p2p); err != nil {
			return nil, err
		}
	case 3:
		direct, err := network.TakeDirect[dsg.Round2Direct](inbox, in, st.Peers)
		if err != nil {
			return nil, err
		}
		var bc network.Broadcast[dsg.Round3Broadcast]
		if ds, bc, err = dsg.Round3(prev, direct); err != nil {
			return nil, err
		}
		if out, err = encode(h, bc); err != nil {
			return nil, err
		}
	}
	if err := inbox.Close(); err != nil {
		return nil, err
	}
	sb, err := ds.Bytes()
	if err != nil {
		return nil, err
	}
	return o.next(ctx, st, sb, out)
}

// EcdsaSignShare opens the peer's Γ, computes R and this party's share of s
// and broadcasts it.
func (o *Orchestrator) EcdsaSignShare(ctx context.Context, req *dto.RoundRequest) (resp *dto.RoundResponse, err error) {
	defer o.track(dsg.Protocol, req.Role, dsgShareRound)(&err)

	st, inbox, err := o.open(ctx, dsg.Protocol, dsgShareRound, req)
	if err != nil {
		return nil, err
	}
	prev, err := dsg.Restore(st.SessionBytes)
	if err != nil {
		return nil, err
	}
	bc, err := network.TakeBroadcasts[dsg.Round3Broadcast](inbox, network.Header{Protocol: dsg.Protocol, Round: 3}, st.Peers)
	if err != nil {
		return nil, err
	}
	if err := inbox.Close(); err != nil {
		return nil, err
	}
	ds, share, err := dsg.Share(prev, bc)
	if err != nil {
		return nil, err
	}
	sb, err := ds.Bytes()
	if err != nil {
		return nil, err
	}
	out, err := encode(network.Header{Protocol: dsg.Protocol, Round: dsgShareRound}, share)
	if err != nil {
		return nil, err
	}
	return o.next(ctx, st, sb, out)
}

// EcdsaSignCombine combines the party's share with the peer's into the final
// signature. The ceremony ends here; no state is returned.
func (o *Orchestrator) EcdsaSignCombine(ctx context.Context, req *dto.RoundRequest) (resp *dto.SignResponse, err error) {
	defer o.track(dsg.Protocol, req.Role, dsgCombineRound)(&err)

	st, inbox, err := o.open(ctx, dsg.Protocol, dsgCombineRound, req)
	if err != nil {
		return nil, err
	}
	prev, err := dsg.Restore(st.SessionBytes)
	if err != nil {
		return nil, err
	}
	bc, err := network.TakeBroadcasts[dsg.SignatureShare](inbox, network.Header{Protocol: dsg.Protocol, Round: dsgShareRound}, st.Peers)
	if err != nil {
		return nil, err
	}
	if err := inbox.Close(); err != nil {
		return nil, err
	}
	sig, err := dsg.Finish(prev, bc)
	if err != nil {
		return nil, err
	}
	hash, err := hex.DecodeString(prev.Hash)
	if err != nil {
		return nil, mpcerr.Validationf("message hash: %v", err)
	}
	return ecdsaResponse(sig, hash), nil
}

func (o *Orchestrator) loadEcdsaShare(ctx context.Context, keychain string, role party.Role) (*dkg.KeyShare, error) {
	material, err := o.getKey(ctx, keychain, role)
	if err != nil {
		return nil, err
	}
	share, err := dkg.ParseKeyShare(material)
	if err != nil {
		return nil, err
	}
	if share.Index != role.Index() || share.CommonKeychain != keychain {
		return nil, mpcerr.Validationf("custody returned a share that does not belong to %s", role)
	}
	return share, nil
}

func ecdsaResponse(sig *dsg.Signature, hash []byte) *dto.SignResponse {
	data := sig.SignatureData(hash)
	return &dto.SignResponse{Ecdsa: &dto.EcdsaSignature{
		RecoveryID:    sig.RecoveryID,
		R:             hex.EncodeToString(data.R),
		S:             hex.EncodeToString(data.S),
		Y:             sig.Y,
		Serialized:    sig.String(),
		SignatureData: data,
	}}
}
