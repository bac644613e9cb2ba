// Package orchestrator runs one protocol round per call for one party. Each
// call unseals the caller's round state, checks it against the request,
// authenticates the peers' messages, advances the engine by one step, and
// returns the resealed state with the outgoing messages signed and, from
// round 2 on, encrypted to the pinned peer keys. Nothing is kept between calls.
package orchestrator

import (
	"bytes"
	"context"
	"custody-node/internal/dto"
	"custody-node/internal/keyservice"
	"custody-node/internal/logger"
	"custody-node/internal/metrics"
	"custody-node/internal/mpcerr"
	"custody-node/internal/network"
	"custody-node/internal/party"
	"custody-node/internal/securechannel"
	"custody-node/internal/session"
	"custody-node/internal/tss/dkg"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ErrRecoveryDisabled is returned by the recovery operations when the
// orchestrator was built without the recovery capability.
var ErrRecoveryDisabled = fmt.Errorf("%w: recovery signing is disabled", mpcerr.ErrValidation)

// Options configures an Orchestrator.
type Options struct {
	Keys            keyservice.Service
	RecoveryEnabled bool
	PaillierBits    int       // 0 selects the engine default
	Rand            io.Reader // nil selects crypto/rand
	// PreParams, when set, supplies the Paillier and ring-Pedersen
	// parameters of ECDSA DKG round 1 instead of generating them inline.
	PreParams dkg.PreParamsSource
}

// Orchestrator dispatches protocol calls to the round engines.
type Orchestrator struct {
	keys         keyservice.Service
	recovery     bool
	paillierBits int
	preParams    dkg.PreParamsSource
	rand         io.Reader
}

// New returns an orchestrator backed by opts.Keys.
func New(opts Options) (*Orchestrator, error) {
	if opts.Keys == nil {
		return nil, errors.New("orchestrator needs a key service")
	}
	return &Orchestrator{
		keys:         opts.Keys,
		recovery:     opts.RecoveryEnabled,
		paillierBits: opts.PaillierBits,
		preParams:    opts.PreParams,
		rand:         opts.Rand,
	}, nil
}

// RecoveryEnabled reports whether the recovery operations are available.
func (o *Orchestrator) RecoveryEnabled() bool {
	return o.recovery
}

// track logs and measures one call. The returned func must be deferred with
// the call's named error.
func (o *Orchestrator) track(protocol string, role party.Role, round int) func(*error) {
	start := time.Now()
	log := logger.Round(protocol, string(role), round)
	log.Debug("round started")
	return func(errp *error) {
		elapsed := time.Since(start)
		category := ""
		if err := *errp; err != nil {
			category = mpcerr.Category(err)
			log.WithError(err).WithField("category", category).Warn("round failed")
		} else {
			log.WithField("elapsed", elapsed).Info("round completed")
		}
		metrics.RecordRound(protocol, strconv.Itoa(round), category, elapsed)
	}
}

// open unseals and checks the caller's state for round, pins the supplied
// peer keys and authenticates the delivered messages. Messages produced by
// round 1 are signed only; every later round is encrypted.
func (o *Orchestrator) open(ctx context.Context, protocol string, round int, req *dto.RoundRequest) (*session.State, *network.Inbox, error) {
	if req == nil {
		return nil, nil, mpcerr.Validationf("request is empty")
	}
	st, err := session.Open(ctx, o.keys, req.State)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Expect(protocol, req.Role, round); err != nil {
		return nil, nil, err
	}
	if err := st.Pin(req.PeerPublicKeys); err != nil {
		return nil, nil, err
	}
	senders, err := st.PeerKeys()
	if err != nil {
		return nil, nil, err
	}

	var msgs []network.WireMessage
	if round == 2 {
		msgs, err = securechannel.Verify(req.Messages, senders, st.Role)
	} else {
		key, kerr := st.Identity()
		if kerr != nil {
			return nil, nil, kerr
		}
		msgs, err = securechannel.VerifyAndDecrypt(req.Messages, senders, st.Role, key)
	}
	if err != nil {
		return nil, nil, err
	}
	return st, network.NewInbox(st.Role, msgs), nil
}

// next advances st by one round with sessionBytes, seals it and secures out.
func (o *Orchestrator) next(ctx context.Context, st *session.State, sessionBytes []byte, out []network.WireMessage) (*dto.RoundResponse, error) {
	nst := st.Advance(sessionBytes)
	key, err := nst.Identity()
	if err != nil {
		return nil, err
	}

	var sent []securechannel.SignedMessage
	if nst.Round == 1 {
		sent, err = securechannel.Sign(out, key)
	} else {
		recipients, perr := nst.PeerKeys()
		if perr != nil {
			return nil, perr
		}
		sent, err = securechannel.SignAndEncrypt(out, recipients, key)
	}
	if err != nil {
		return nil, err
	}

	env, err := nst.Seal(ctx, o.keys)
	if err != nil {
		return nil, err
	}
	pub, err := nst.PublicKey()
	if err != nil {
		return nil, err
	}
	return &dto.RoundResponse{Round: nst.Round, State: env, PublicKey: pub, Messages: sent}, nil
}

// getKey loads the share of role for keychain from custody.
func (o *Orchestrator) getKey(ctx context.Context, keychain string, role party.Role) ([]byte, error) {
	material, err := o.keys.GetKey(ctx, keychain, role)
	if errors.Is(err, keyservice.ErrKeyNotFound) {
		return nil, mpcerr.Validationf("no %s key share for keychain %s", role, keychain)
	}
	if errors.Is(err, mpcerr.ErrEnvelopeCorrupt) {
		return nil, err
	}
	if err != nil {
		return nil, mpcerr.Upstream("GetKey", err)
	}
	return material, nil
}

func (o *Orchestrator) putKey(ctx context.Context, keychain string, role party.Role, share any) error {
	material, err := json.Marshal(share)
	if err != nil {
		return err
	}
	return mpcerr.Upstream("PutKey", o.keys.PutKey(ctx, keychain, role, material))
}

type wirer interface {
	Wire(network.Header) (network.WireMessage, error)
}

// encode converts typed round messages to their wire form.
func encode(h network.Header, msgs ...wirer) ([]network.WireMessage, error) {
	out := make([]network.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		w, err := m.Wire(h)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func directs[P any](msgs []network.PointToPoint[P]) []wirer {
	out := make([]wirer, len(msgs))
	for i, m := range msgs {
		out[i] = m
	}
	return out
}

// decodeStrict decodes session bytes written by this package. The bytes must
// re-encode to exactly themselves, as the engines require of their states.
func decodeStrict(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return mpcerr.Validationf("decode session bytes: %v", err)
	}
	if dec.More() {
		return mpcerr.Validationf("trailing data after session bytes")
	}
	again, err := json.Marshal(v)
	if err != nil {
		return mpcerr.Validationf("re-encode session bytes: %v", err)
	}
	if !bytes.Equal(again, b) {
		return mpcerr.Validationf("session bytes are not canonical")
	}
	return nil
}
