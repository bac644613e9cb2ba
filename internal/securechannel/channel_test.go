package securechannel

import (
	"crypto/ecdsa"
	"strings"
	"testing"

	"custody-node/internal/mpcerr"
	"custody-node/internal/network"
	"custody-node/internal/party"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	N int `json:"n"`
}

func identities(t *testing.T) map[party.Role]*ecdsa.PrivateKey {
	t.Helper()
	ids := make(map[party.Role]*ecdsa.PrivateKey, len(party.All))
	for _, r := range party.All {
		k, err := GenerateIdentity()
		require.NoError(t, err)
		ids[r] = k
	}
	return ids
}

func publics(ids map[party.Role]*ecdsa.PrivateKey, except party.Role) map[party.Role]*ecdsa.PublicKey {
	out := make(map[party.Role]*ecdsa.PublicKey)
	for r, k := range ids {
		if r != except {
			out[r] = &k.PublicKey
		}
	}
	return out
}

func TestArmorRoundTrip(t *testing.T) {
	k, err := GenerateIdentity()
	require.NoError(t, err)

	privStr, err := ArmorPrivate(k)
	require.NoError(t, err)
	pubStr, err := ArmorPublic(&k.PublicKey)
	require.NoError(t, err)
	assert.NotContains(t, pubStr, `"d"`)

	priv, err := ParsePrivate(privStr)
	require.NoError(t, err)
	assert.True(t, priv.Equal(k))

	pub, err := ParsePublic(pubStr)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&k.PublicKey))

	tp1, err := Thumbprint(privStr)
	require.NoError(t, err)
	tp2, err := Thumbprint(pubStr)
	require.NoError(t, err)
	assert.Equal(t, tp1, tp2)

	_, err = ParsePublic(privStr)
	assert.ErrorIs(t, err, mpcerr.ErrValidation)
	_, err = ParsePublic("not a key")
	assert.ErrorIs(t, err, mpcerr.ErrValidation)
}

func TestBroadcastAndDirectDelivery(t *testing.T) {
	ids := identities(t)
	h := network.Header{Protocol: "ecdsa-dkg", Round: 1}
	bc, err := network.Broadcast[testPayload]{From: 1, Payload: testPayload{N: 7}}.Wire(h)
	require.NoError(t, err)
	p2p, err := network.PointToPoint[testPayload]{From: 1, To: 3, Payload: testPayload{N: 9}}.Wire(h)
	require.NoError(t, err)

	sent, err := SignAndEncrypt([]network.WireMessage{bc, p2p}, publics(ids, party.Initiator), ids[party.Initiator])
	require.NoError(t, err)
	require.Len(t, sent, 3, "one per broadcast recipient plus one direct")

	for _, me := range []party.Role{party.Counterparty, party.Coordinator} {
		var mine []SignedMessage
		for _, m := range sent {
			if m.To == me {
				mine = append(mine, m)
			}
		}
		senders := map[party.Role]*ecdsa.PublicKey{party.Initiator: &ids[party.Initiator].PublicKey}
		got, err := VerifyAndDecrypt(mine, senders, me, ids[me])
		require.NoError(t, err)
		if me == party.Coordinator {
			require.Len(t, got, 2)
		} else {
			require.Len(t, got, 1)
		}
		assert.Equal(t, party.Initiator, got[0].From)
		assert.JSONEq(t, `{"n":7}`, string(got[0].Payload))
	}
}

func TestVerifyAndDecryptFailures(t *testing.T) {
	ids := identities(t)
	h := network.Header{Protocol: "ecdsa-dsg", Round: 2}
	msg, err := network.PointToPoint[testPayload]{From: 2, To: 1, Payload: testPayload{N: 1}}.Wire(h)
	require.NoError(t, err)
	senders := map[party.Role]*ecdsa.PublicKey{party.Counterparty: &ids[party.Counterparty].PublicKey}

	sent, err := SignAndEncrypt([]network.WireMessage{msg}, publics(ids, party.Counterparty), ids[party.Counterparty])
	require.NoError(t, err)
	require.Len(t, sent, 1)

	t.Run("tampered signature", func(t *testing.T) {
		bad := sent[0]
		parts := strings.Split(bad.Signature, ".")
		require.Len(t, parts, 3)
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		bad.Signature = parts[0] + "." + parts[1] + "." + string(sig)
		_, err := VerifyAndDecrypt([]SignedMessage{bad}, senders, party.Initiator, ids[party.Initiator])
		assert.ErrorIs(t, err, mpcerr.ErrAuthentication)
	})
	t.Run("wrong pinned key", func(t *testing.T) {
		wrong := map[party.Role]*ecdsa.PublicKey{party.Counterparty: &ids[party.Coordinator].PublicKey}
		_, err := VerifyAndDecrypt(sent, wrong, party.Initiator, ids[party.Initiator])
		assert.ErrorIs(t, err, mpcerr.ErrAuthentication)
	})
	t.Run("unknown sender", func(t *testing.T) {
		_, err := VerifyAndDecrypt(sent, map[party.Role]*ecdsa.PublicKey{}, party.Initiator, ids[party.Initiator])
		assert.ErrorIs(t, err, mpcerr.ErrAuthentication)
	})
	t.Run("relabelled header", func(t *testing.T) {
		bad := sent[0]
		bad.Round = 3
		_, err := VerifyAndDecrypt([]SignedMessage{bad}, senders, party.Initiator, ids[party.Initiator])
		assert.ErrorIs(t, err, mpcerr.ErrAuthentication)
	})
	t.Run("not addressed to me", func(t *testing.T) {
		_, err := VerifyAndDecrypt(sent, senders, party.Coordinator, ids[party.Coordinator])
		assert.ErrorIs(t, err, mpcerr.ErrAuthentication)
	})
	t.Run("wrong decryption key", func(t *testing.T) {
		_, err := VerifyAndDecrypt(sent, senders, party.Initiator, ids[party.Coordinator])
		assert.ErrorIs(t, err, mpcerr.ErrDecryption)
	})
	t.Run("unknown recipient", func(t *testing.T) {
		_, err := SignAndEncrypt([]network.WireMessage{msg}, map[party.Role]*ecdsa.PublicKey{}, ids[party.Counterparty])
		assert.ErrorIs(t, err, mpcerr.ErrValidation)
	})
}

func TestSignedPlaintextDelivery(t *testing.T) {
	ids := identities(t)
	h := network.Header{Protocol: "ecdsa-dsg", Round: 1}
	bc, err := network.Broadcast[testPayload]{From: 3, Payload: testPayload{N: 4}}.Wire(h)
	require.NoError(t, err)
	p2p, err := network.PointToPoint[testPayload]{From: 3, To: 2, Payload: testPayload{N: 5}}.Wire(h)
	require.NoError(t, err)

	sent, err := Sign([]network.WireMessage{bc, p2p}, ids[party.Coordinator])
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, party.Role(""), sent[0].To)

	senders := map[party.Role]*ecdsa.PublicKey{party.Coordinator: &ids[party.Coordinator].PublicKey}
	got, err := Verify(sent, senders, party.Counterparty)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"n":4}`, string(got[0].Payload))
	assert.Equal(t, party.Counterparty, got[1].To)

	_, err = Verify(sent, senders, party.Initiator)
	assert.ErrorIs(t, err, mpcerr.ErrAuthentication, "the direct message is not for the initiator")

	_, err = VerifyAndDecrypt(sent[:1], senders, party.Counterparty, ids[party.Counterparty])
	assert.ErrorIs(t, err, mpcerr.ErrDecryption, "plaintext where a ciphertext is expected")

	enc, err := SignAndEncrypt([]network.WireMessage{bc}, publics(ids, party.Coordinator), ids[party.Coordinator])
	require.NoError(t, err)
	_, err = Verify(enc[:1], senders, enc[0].To)
	assert.ErrorIs(t, err, mpcerr.ErrValidation)
}
