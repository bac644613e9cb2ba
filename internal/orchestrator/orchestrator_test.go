package orchestrator

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"

	"custody-node/internal/dto"
	"custody-node/internal/envelope"
	"custody-node/internal/keyservice"
	"custody-node/internal/mpcerr"
	"custody-node/internal/party"
	"custody-node/internal/securechannel"
	"custody-node/internal/tss"
	"custody-node/internal/tss/dkg"
	"custody-node/internal/tss/dkg/dkgtest"
	"custody-node/internal/tss/hd"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type responses map[party.Role]*dto.RoundResponse

// inbox collects the messages addressed to me from the last responses.
func (rs responses) inbox(me party.Role) []securechannel.SignedMessage {
	var out []securechannel.SignedMessage
	for _, from := range party.All {
		resp, ok := rs[from]
		if !ok || from == me {
			continue
		}
		for _, m := range resp.Messages {
			if m.To == me || m.To == "" {
				out = append(out, m)
			}
		}
	}
	return out
}

func (rs responses) keys(me party.Role) map[party.Role]string {
	out := map[party.Role]string{}
	for r, resp := range rs {
		if r != me {
			out[r] = resp.PublicKey
		}
	}
	return out
}

func newOrchestrator(t *testing.T, keys keyservice.Service, recovery bool) *Orchestrator {
	t.Helper()
	o, err := New(Options{Keys: keys, RecoveryEnabled: recovery, PaillierBits: dkgtest.PaillierBits, PreParams: dkgtest.PreParams})
	require.NoError(t, err)
	return o
}

func newLocal(t *testing.T) *keyservice.Local {
	t.Helper()
	l, err := keyservice.NewLocal(bytes.Repeat([]byte{42}, envelope.KeySize))
	require.NoError(t, err)
	return l
}

// ecdsaDkgToRound4 runs the first four DKG rounds for every party.
func ecdsaDkgToRound4(t *testing.T, o *Orchestrator) responses {
	t.Helper()
	ctx := context.Background()
	rs := responses{}
	for _, r := range party.All {
		resp, err := o.EcdsaDkgInit(ctx, &dto.RoundRequest{Role: r})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Round)
		rs[r] = resp
	}
	for round := 2; round <= 4; round++ {
		next := responses{}
		for _, r := range party.All {
			req := &dto.RoundRequest{Role: r, State: rs[r].State, Messages: rs.inbox(r)}
			if round == 2 {
				req.PeerPublicKeys = rs.keys(r)
			}
			resp, err := o.EcdsaDkgRound(ctx, round, req)
			require.NoError(t, err, "round %d %s", round, r)
			next[r] = resp
		}
		rs = next
	}
	return rs
}

func ecdsaDkgFinalize(t *testing.T, o *Orchestrator, rs responses) string {
	t.Helper()
	ctx := context.Background()
	coord, err := o.EcdsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{RoundRequest: dto.RoundRequest{
		Role: party.Coordinator, State: rs[party.Coordinator].State, Messages: rs.inbox(party.Coordinator),
	}})
	require.NoError(t, err)
	for _, r := range []party.Role{party.Initiator, party.Counterparty} {
		got, err := o.EcdsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{
			RoundRequest:        dto.RoundRequest{Role: r, State: rs[r].State, Messages: rs.inbox(r)},
			CoordinatorKeychain: coord.CommonKeychain,
		})
		require.NoError(t, err)
		assert.Equal(t, coord.CommonKeychain, got.CommonKeychain)
	}
	return coord.CommonKeychain
}

var (
	ecdsaOnce     sync.Once
	ecdsaKeys     *keyservice.Local
	ecdsaKeychain string
)

// ecdsaKeyFixture runs one full DKG through the orchestrator and returns the
// key service holding the three shares.
func ecdsaKeyFixture(t *testing.T) (*keyservice.Local, string) {
	t.Helper()
	ecdsaOnce.Do(func() {
		ecdsaKeys = newLocal(t)
		o := newOrchestrator(t, ecdsaKeys, false)
		ecdsaKeychain = ecdsaDkgFinalize(t, o, ecdsaDkgToRound4(t, o))
	})
	require.NotEmpty(t, ecdsaKeychain, "dkg fixture failed")
	return ecdsaKeys, ecdsaKeychain
}

func verifyEcdsa(t *testing.T, keychain, path string, hash []byte, sig *dto.EcdsaSignature) {
	t.Helper()
	pub, cc, err := dkg.ParseCommonKeychain(keychain)
	require.NoError(t, err)
	child, err := hd.Derive(pub, cc, path)
	require.NoError(t, err)
	assert.Equal(t, tss.PointHex(child.PublicKey), sig.Y)

	r, _ := new(big.Int).SetString(sig.R, 16)
	s, _ := new(big.Int).SetString(sig.S, 16)
	assert.True(t, tss.VerifySignature(child.PublicKey, hash, r, s))
}

func TestEcdsaDkgAgreementAndSigning(t *testing.T) {
	keys, keychain := ecdsaKeyFixture(t)
	o := newOrchestrator(t, keys, false)
	ctx := context.Background()

	for _, r := range party.All {
		_, err := keys.GetKey(ctx, keychain, r)
		require.NoError(t, err, "%s share is in custody", r)
	}

	hash := sha256.Sum256([]byte("withdraw 1 BTC"))
	path := "m/0/7"
	pairs := [][2]party.Role{
		{party.Initiator, party.Coordinator},
		{party.Counterparty, party.Coordinator},
	}
	for _, pair := range pairs {
		a, b := pair[0], pair[1]
		rs := responses{}
		for _, self := range []party.Role{a, b} {
			peer := b
			if self == b {
				peer = a
			}
			resp, err := o.EcdsaSignInit(ctx, &dto.EcdsaSignInitRequest{
				Role: self, Peer: peer, CommonKeychain: keychain, Path: path,
				MessageHash: hex.EncodeToString(hash[:]),
			})
			require.NoError(t, err)
			rs[self] = resp
		}
		for round := 2; round <= 3; round++ {
			next := responses{}
			for _, self := range []party.Role{a, b} {
				req := &dto.RoundRequest{Role: self, State: rs[self].State, Messages: rs.inbox(self)}
				if round == 2 {
					req.PeerPublicKeys = rs.keys(self)
				}
				resp, err := o.EcdsaSignRound(ctx, round, req)
				require.NoError(t, err)
				next[self] = resp
			}
			rs = next
		}
		next := responses{}
		for _, self := range []party.Role{a, b} {
			resp, err := o.EcdsaSignShare(ctx, &dto.RoundRequest{Role: self, State: rs[self].State, Messages: rs.inbox(self)})
			require.NoError(t, err)
			next[self] = resp
		}
		rs = next

		var sigs []*dto.EcdsaSignature
		for _, self := range []party.Role{a, b} {
			resp, err := o.EcdsaSignCombine(ctx, &dto.RoundRequest{Role: self, State: rs[self].State, Messages: rs.inbox(self)})
			require.NoError(t, err)
			require.NotNil(t, resp.Ecdsa)
			sigs = append(sigs, resp.Ecdsa)
		}
		assert.Equal(t, sigs[0].Serialized, sigs[1].Serialized)
		verifyEcdsa(t, keychain, path, hash[:], sigs[0])
	}
}

func TestEcdsaSignInitRejectsBadPairs(t *testing.T) {
	keys, keychain := ecdsaKeyFixture(t)
	o := newOrchestrator(t, keys, false)
	hash := sha256.Sum256([]byte("m"))

	_, err := o.EcdsaSignInit(context.Background(), &dto.EcdsaSignInitRequest{
		Role: party.Initiator, Peer: party.Initiator, CommonKeychain: keychain,
		MessageHash: hex.EncodeToString(hash[:]),
	})
	assert.ErrorIs(t, err, mpcerr.ErrValidation)

	_, err = o.EcdsaSignInit(context.Background(), &dto.EcdsaSignInitRequest{
		Role: party.Initiator, Peer: party.Coordinator, CommonKeychain: "00",
		MessageHash: hex.EncodeToString(hash[:]),
	})
	assert.ErrorIs(t, err, mpcerr.ErrValidation, "unknown keychain")
}

func TestRoundMonotonicity(t *testing.T) {
	o := newOrchestrator(t, newLocal(t), false)
	ctx := context.Background()
	rs := responses{}
	for _, r := range party.All {
		resp, err := o.EddsaDkgInit(ctx, &dto.RoundRequest{Role: r})
		require.NoError(t, err)
		rs[r] = resp
	}

	me := party.Initiator
	_, err := o.EddsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{
		RoundRequest:        dto.RoundRequest{Role: me, State: rs[me].State, PeerPublicKeys: rs.keys(me)},
		CoordinatorKeychain: "00",
	})
	var mismatch *mpcerr.RoundMismatchError
	require.ErrorAs(t, err, &mismatch, "finalize before round 2")
	assert.Equal(t, 2, mismatch.Expected)
	assert.Equal(t, 1, mismatch.Got)

	r2, err := o.EddsaDkgRound(ctx, 2, &dto.RoundRequest{Role: me, State: rs[me].State, PeerPublicKeys: rs.keys(me)})
	require.NoError(t, err)
	_, err = o.EddsaDkgRound(ctx, 2, &dto.RoundRequest{Role: me, State: r2.State})
	assert.ErrorIs(t, err, mpcerr.ErrRoundMismatch, "repeating round 2")

	_, err = o.EcdsaDkgRound(ctx, 2, &dto.RoundRequest{Role: me, State: rs[me].State, PeerPublicKeys: rs.keys(me)})
	assert.ErrorIs(t, err, mpcerr.ErrValidation, "eddsa state replayed into ecdsa")

	_, err = o.EddsaDkgRound(ctx, 2, &dto.RoundRequest{Role: party.Counterparty, State: rs[me].State, PeerPublicKeys: rs.keys(me)})
	assert.ErrorIs(t, err, mpcerr.ErrValidation, "state of another role")
}

func TestPinningAndMessageChecks(t *testing.T) {
	o := newOrchestrator(t, newLocal(t), false)
	ctx := context.Background()
	rs := responses{}
	for _, r := range party.All {
		resp, err := o.EddsaDkgInit(ctx, &dto.RoundRequest{Role: r})
		require.NoError(t, err)
		assert.Empty(t, resp.Messages)
		rs[r] = resp
	}
	next := responses{}
	for _, r := range party.All {
		resp, err := o.EddsaDkgRound(ctx, 2, &dto.RoundRequest{Role: r, State: rs[r].State, PeerPublicKeys: rs.keys(r)})
		require.NoError(t, err)
		next[r] = resp
	}

	me := party.Counterparty
	t.Run("different peer key", func(t *testing.T) {
		other, err := securechannel.GenerateIdentity()
		require.NoError(t, err)
		armored, err := securechannel.ArmorPublic(&other.PublicKey)
		require.NoError(t, err)
		_, err = o.EddsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{
			RoundRequest: dto.RoundRequest{
				Role: me, State: next[me].State, Messages: next.inbox(me),
				PeerPublicKeys: map[party.Role]string{party.Coordinator: armored},
			},
			CoordinatorKeychain: "00",
		})
		assert.ErrorIs(t, err, mpcerr.ErrPinningViolation)
	})
	t.Run("missing message", func(t *testing.T) {
		msgs := next.inbox(me)
		_, err := o.EddsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{
			RoundRequest:        dto.RoundRequest{Role: me, State: next[me].State, Messages: msgs[:1]},
			CoordinatorKeychain: "00",
		})
		assert.ErrorIs(t, err, mpcerr.ErrValidation)
	})
	t.Run("message for someone else", func(t *testing.T) {
		_, err := o.EddsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{
			RoundRequest:        dto.RoundRequest{Role: me, State: next[me].State, Messages: next.inbox(party.Initiator)},
			CoordinatorKeychain: "00",
		})
		assert.ErrorIs(t, err, mpcerr.ErrAuthentication)
	})
	t.Run("corrupt state", func(t *testing.T) {
		bad := *next[me].State
		bad.Ciphertext = append([]byte(nil), bad.Ciphertext...)
		bad.Ciphertext[0] ^= 0xff
		_, err := o.EddsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{
			RoundRequest:        dto.RoundRequest{Role: me, State: &bad, Messages: next.inbox(me)},
			CoordinatorKeychain: "00",
		})
		assert.ErrorIs(t, err, mpcerr.ErrEnvelopeCorrupt)
		assert.True(t, mpcerr.Fatal(err))
	})
	t.Run("coordinator keychain required", func(t *testing.T) {
		_, err := o.EddsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{
			RoundRequest: dto.RoundRequest{Role: me, State: next[me].State, Messages: next.inbox(me)},
		})
		assert.ErrorIs(t, err, mpcerr.ErrValidation)
	})
	t.Run("keychain mismatch", func(t *testing.T) {
		_, err := o.EddsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{
			RoundRequest:        dto.RoundRequest{Role: me, State: next[me].State, Messages: next.inbox(me)},
			CoordinatorKeychain: "00",
		})
		assert.ErrorIs(t, err, mpcerr.ErrKeychainMismatch)
	})
}

// eddsaDkg runs a complete EdDSA key generation and returns the keychain.
func eddsaDkg(t *testing.T, o *Orchestrator) string {
	t.Helper()
	ctx := context.Background()
	rs := responses{}
	for _, r := range party.All {
		resp, err := o.EddsaDkgInit(ctx, &dto.RoundRequest{Role: r})
		require.NoError(t, err)
		rs[r] = resp
	}
	next := responses{}
	for _, r := range party.All {
		resp, err := o.EddsaDkgRound(ctx, 2, &dto.RoundRequest{Role: r, State: rs[r].State, PeerPublicKeys: rs.keys(r)})
		require.NoError(t, err)
		next[r] = resp
	}
	coord, err := o.EddsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{RoundRequest: dto.RoundRequest{
		Role: party.Coordinator, State: next[party.Coordinator].State, Messages: next.inbox(party.Coordinator),
	}})
	require.NoError(t, err)
	for _, r := range []party.Role{party.Initiator, party.Counterparty} {
		got, err := o.EddsaDkgFinalize(ctx, &dto.DkgFinalizeRequest{
			RoundRequest:        dto.RoundRequest{Role: r, State: next[r].State, Messages: next.inbox(r)},
			CoordinatorKeychain: coord.CommonKeychain,
		})
		require.NoError(t, err)
		assert.Equal(t, coord.CommonKeychain, got.CommonKeychain)
	}
	return coord.CommonKeychain
}

func TestEddsaEndToEnd(t *testing.T) {
	keys := newLocal(t)
	o := newOrchestrator(t, keys, true)
	ctx := context.Background()
	keychain := eddsaDkg(t, o)

	message := []byte("stake 32 SOL")
	path := "m/0/3"
	a, b := party.Counterparty, party.Coordinator
	rs := responses{}
	for _, self := range []party.Role{a, b} {
		peer := b
		if self == b {
			peer = a
		}
		resp, err := o.EddsaSignInit(ctx, &dto.EddsaSignInitRequest{
			Role: self, Peer: peer, CommonKeychain: keychain, Path: path, Message: hex.EncodeToString(message),
		})
		require.NoError(t, err)
		rs[self] = resp
	}
	for round := 2; round <= 3; round++ {
		next := responses{}
		for _, self := range []party.Role{a, b} {
			req := &dto.RoundRequest{Role: self, State: rs[self].State, Messages: rs.inbox(self)}
			if round == 2 {
				req.PeerPublicKeys = rs.keys(self)
			}
			resp, err := o.EddsaSignRound(ctx, round, req)
			require.NoError(t, err)
			next[self] = resp
		}
		rs = next
	}
	var sigs []*dto.EddsaSignature
	for _, self := range []party.Role{a, b} {
		resp, err := o.EddsaSignCombine(ctx, &dto.RoundRequest{Role: self, State: rs[self].State, Messages: rs.inbox(self)})
		require.NoError(t, err)
		sigs = append(sigs, resp.Eddsa)
	}
	assert.Equal(t, sigs[0], sigs[1])

	pub, err := hex.DecodeString(sigs[0].PublicKey)
	require.NoError(t, err)
	sig, err := hex.DecodeString(sigs[0].Signature)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, message, sig))

	rec, err := o.EddsaRecoverySign(ctx, &dto.RecoverySignRequest{
		CommonKeychain: keychain, Path: path, Message: hex.EncodeToString(message),
	})
	require.NoError(t, err)
	assert.Equal(t, sigs[0].PublicKey, rec.Eddsa.PublicKey, "recovery signs for the same key")
	rsig, err := hex.DecodeString(rec.Eddsa.Signature)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, message, rsig))
}

func TestEcdsaRecoverySign(t *testing.T) {
	keys, keychain := ecdsaKeyFixture(t)
	ctx := context.Background()
	hash := sha256.Sum256([]byte("sweep"))
	req := &dto.RecoverySignRequest{CommonKeychain: keychain, Path: "m/1", Message: hex.EncodeToString(hash[:])}

	_, err := newOrchestrator(t, keys, false).EcdsaRecoverySign(ctx, req)
	assert.ErrorIs(t, err, ErrRecoveryDisabled)
	assert.ErrorIs(t, err, mpcerr.ErrValidation)

	resp, err := newOrchestrator(t, keys, true).EcdsaRecoverySign(ctx, req)
	require.NoError(t, err)
	verifyEcdsa(t, keychain, "m/1", hash[:], resp.Ecdsa)
}

type failingKeys struct {
	*keyservice.Local
}

func (failingKeys) GenerateDataKey(context.Context, string) (*envelope.DataKey, error) {
	return nil, assert.AnError
}

func TestUpstreamFailureIsRetryable(t *testing.T) {
	o := newOrchestrator(t, failingKeys{newLocal(t)}, false)
	_, err := o.EddsaDkgInit(context.Background(), &dto.RoundRequest{Role: party.Initiator})
	assert.ErrorIs(t, err, mpcerr.ErrUpstreamKeyService)
	assert.True(t, mpcerr.Retryable(err))
}
