package orchestrator

import (
	"context"
	"custody-node/internal/dto"
	"custody-node/internal/mpcerr"
	"custody-node/internal/network"
	"custody-node/internal/party"
	"custody-node/internal/session"
	"custody-node/internal/tss/dkg"
)

const dkgFinalizeRound = 5

// EcdsaDkgInit starts an ECDSA key generation for req.Role. The response
// carries the party's fresh identity key and its round 1 broadcast.
func (o *Orchestrator) EcdsaDkgInit(ctx context.Context, req *dto.RoundRequest) (resp *dto.RoundResponse, err error) {
	defer o.track(dkg.Protocol, req.Role, 1)(&err)

	st, err := session.New(dkg.Protocol, req.Role, party.Peers(req.Role))
	if err != nil {
		return nil, err
	}
	if err := st.Pin(req.PeerPublicKeys); err != nil {
		return nil, err
	}
	if len(req.Messages) > 0 {
		return nil, mpcerr.Validationf("round 1 takes no messages, got %d", len(req.Messages))
	}

	params := dkg.Params{Index: req.Role.Index(), PaillierBits: o.paillierBits, Rand: o.rand}
	if o.preParams != nil {
		if params.PreParams, err = o.preParams(ctx, params.Index); err != nil {
			return nil, err
		}
	}
	ds, bc, err := dkg.Round1(ctx, params)
	if err != nil {
		return nil, err
	}
	sb, err := ds.Bytes()
	if err != nil {
		return nil, err
	}
	out, err := encode(network.Header{Protocol: dkg.Protocol, Round: 1}, bc)
	if err != nil {
		return nil, err
	}
	return o.next(ctx, st, sb, out)
}

// EcdsaDkgRound runs DKG round 2, 3 or 4.
func (o *Orchestrator) EcdsaDkgRound(ctx context.Context, round int, req *dto.RoundRequest) (resp *dto.RoundResponse, err error) {
	defer o.track(dkg.Protocol, req.Role, round)(&err)

	if round < 2 || round > 4 {
		return nil, mpcerr.Validationf("ecdsa dkg has no round %d", round)
	}
	st, inbox, err := o.open(ctx, dkg.Protocol, round, req)
	if err != nil {
		return nil, err
	}
	prev, err := dkg.Restore(st.SessionBytes)
	if err != nil {
		return nil, err
	}
	in := network.Header{Protocol: dkg.Protocol, Round: round - 1}
	h := network.Header{Protocol: dkg.Protocol, Round: round}

	var (
		ds  *dkg.State
		out []network.WireMessage
	)
	switch round {
	case 2:
		msgs, err := network.TakeBroadcasts[dkg.Round1Payload](inbox, in, st.Peers)
		if err != nil {
			return nil, err
		}
		var p2p []network.PointToPoint[dkg.Round2Payload]
		if ds, p2p, err = dkg.Round2(prev, msgs, o.rand); err != nil {
			return nil, err
		}
		if out, err = encode(h, directs(p2p)...); err != nil {
			return nil, err
		}
	case 3:
		msgs, err := network.TakeDirect[dkg.Round2Payload](inbox, in, st.Peers)
		if err != nil {
			return nil, err
		}
		var p2p []network.PointToPoint[dkg.Round3Payload]
		if ds, p2p, err = dkg.Round3(prev, msgs, o.rand); err != nil {
			return nil, err
		}
		if out, err = encode(h, directs(p2p)...); err != nil {
			return nil, err
		}
	case 4:
		msgs, err := network.TakeDirect[dkg.Round3Payload](inbox, in, st.Peers)
		if err != nil {
			return nil, err
		}
		var bc network.Broadcast[dkg.Round4Payload]
		if ds, bc, err = dkg.Round4(prev, msgs); err != nil {
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

// EcdsaDkgFinalize checks the round 4 finalizations, hands the key share to
// custody and returns the common keychain. The initiator and the
// counterparty must supply the coordinator's keychain.
func (o *Orchestrator) EcdsaDkgFinalize(ctx context.Context, req *dto.DkgFinalizeRequest) (resp *dto.KeychainResponse, err error) {
	defer o.track(dkg.Protocol, req.Role, dkgFinalizeRound)(&err)

	if req.Role != party.Coordinator && req.CoordinatorKeychain == "" {
		return nil, mpcerr.Validationf("%s must supply the coordinator's common keychain", req.Role)
	}
	st, inbox, err := o.open(ctx, dkg.Protocol, dkgFinalizeRound, &req.RoundRequest)
	if err != nil {
		return nil, err
	}
	prev, err := dkg.Restore(st.SessionBytes)
	if err != nil {
		return nil, err
	}
	msgs, err := network.TakeBroadcasts[dkg.Round4Payload](inbox, network.Header{Protocol: dkg.Protocol, Round: 4}, st.Peers)
	if err != nil {
		return nil, err
	}
	if err := inbox.Close(); err != nil {
		return nil, err
	}
	share, err := dkg.Finalize(prev, msgs, req.CoordinatorKeychain)
	if err != nil {
		return nil, err
	}
	if err := o.putKey(ctx, share.CommonKeychain, st.Role, share); err != nil {
		return nil, err
	}
	return &dto.KeychainResponse{
		CommonKeychain: share.CommonKeychain,
		PublicKey:      share.PublicKey,
		ChainCode:      share.ChainCode,
		PublicShares:   share.PublicShares,
	}, nil
}
