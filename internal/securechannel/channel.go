package securechannel

import (
	"crypto/ecdsa"
	"custody-node/internal/mpcerr"
	"custody-node/internal/network"
	"custody-node/internal/party"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// SignedMessage is a round message encrypted to one recipient and signed by its sender.
type SignedMessage struct {
	From      party.Role   `json:"from"`
	To        party.Role   `json:"to"`
	Protocol  string       `json:"protocol"`
	Round     int          `json:"round"`
	Kind      network.Kind `json:"kind"`
	Signature string       `json:"signature"`
}

// signedPayload is what the sender's JWS covers.
type signedPayload struct {
	From     party.Role      `json:"from"`
	To       party.Role      `json:"to"`
	Protocol string          `json:"protocol"`
	Round    int             `json:"round"`
	Kind     network.Kind    `json:"kind"`
	JWE      string          `json:"jwe,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
}

// SignAndEncrypt encrypts every message to its recipients and signs the
// result. Broadcasts yield one message per recipient.
func SignAndEncrypt(msgs []network.WireMessage, recipients map[party.Role]*ecdsa.PublicKey, signingKey *ecdsa.PrivateKey) ([]SignedMessage, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: signingKey}, nil)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	out := make([]SignedMessage, 0, len(msgs)*len(recipients))
	for _, m := range msgs {
		var targets []party.Role
		switch m.Kind {
		case network.KindBroadcast:
			for _, r := range party.All {
				if _, ok := recipients[r]; ok && r != m.From {
					targets = append(targets, r)
				}
			}
		case network.KindP2P:
			if _, ok := recipients[m.To]; !ok {
				return nil, mpcerr.Validationf("no public key for recipient %q", m.To)
			}
			targets = []party.Role{m.To}
		default:
			return nil, mpcerr.Validationf("unknown message kind %q", m.Kind)
		}

		plaintext, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		for _, to := range targets {
			jwe, err := encryptTo(recipients[to], plaintext)
			if err != nil {
				return nil, fmt.Errorf("encrypt %s message to %s: %w", m.Protocol, to, err)
			}
			payload, err := json.Marshal(signedPayload{
				From: m.From, To: to, Protocol: m.Protocol, Round: m.Round, Kind: m.Kind, JWE: jwe,
			})
			if err != nil {
				return nil, err
			}
			jws, err := signer.Sign(payload)
			if err != nil {
				return nil, fmt.Errorf("sign %s message to %s: %w", m.Protocol, to, err)
			}
			compact, err := jws.CompactSerialize()
			if err != nil {
				return nil, err
			}
			out = append(out, SignedMessage{
				From: m.From, To: to, Protocol: m.Protocol, Round: m.Round, Kind: m.Kind, Signature: compact,
			})
		}
	}
	return out, nil
}

func encryptTo(pub *ecdsa.PublicKey, plaintext []byte) (string, error) {
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.ECDH_ES_A256KW, Key: pub}, nil)
	if err != nil {
		return "", err
	}
	obj, err := enc.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return obj.CompactSerialize()
}

// VerifyAndDecrypt checks each message against the pinned key of its sender,
// then decrypts it with myKey.
func VerifyAndDecrypt(msgs []SignedMessage, senders map[party.Role]*ecdsa.PublicKey, me party.Role, myKey *ecdsa.PrivateKey) ([]network.WireMessage, error) {
	out := make([]network.WireMessage, 0, len(msgs))
	for _, sm := range msgs {
		m, err := open(sm, senders, me, myKey)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Sign signs messages without encrypting them. A ceremony's first round
// carries only public values and is sent before the peers' identity keys are
// known; recipients verify it once those keys are pinned. Broadcasts are
// signed once, with an empty recipient.
func Sign(msgs []network.WireMessage, signingKey *ecdsa.PrivateKey) ([]SignedMessage, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: signingKey}, nil)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	out := make([]SignedMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Kind != network.KindBroadcast && m.Kind != network.KindP2P {
			return nil, mpcerr.Validationf("unknown message kind %q", m.Kind)
		}
		plaintext, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(signedPayload{
			From: m.From, To: m.To, Protocol: m.Protocol, Round: m.Round, Kind: m.Kind, Message: plaintext,
		})
		if err != nil {
			return nil, err
		}
		jws, err := signer.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("sign %s message: %w", m.Protocol, err)
		}
		compact, err := jws.CompactSerialize()
		if err != nil {
			return nil, err
		}
		out = append(out, SignedMessage{
			From: m.From, To: m.To, Protocol: m.Protocol, Round: m.Round, Kind: m.Kind, Signature: compact,
		})
	}
	return out, nil
}

// Verify checks messages produced by Sign against the pinned keys of their senders.
func Verify(msgs []SignedMessage, senders map[party.Role]*ecdsa.PublicKey, me party.Role) ([]network.WireMessage, error) {
	out := make([]network.WireMessage, 0, len(msgs))
	for _, sm := range msgs {
		sp, err := verify(sm, senders, me)
		if err != nil {
			return nil, err
		}
		if sp.JWE != "" || len(sp.Message) == 0 {
			return nil, mpcerr.Validationf("message from %s is encrypted, expected a signed plaintext", sm.From)
		}
		m, err := inner(sm, sp, sp.Message)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// verify checks the signature and the signed header of sm.
func verify(sm SignedMessage, senders map[party.Role]*ecdsa.PublicKey, me party.Role) (signedPayload, error) {
	pub, ok := senders[sm.From]
	if !ok {
		return signedPayload{}, fmt.Errorf("%w: no pinned key for sender %q", mpcerr.ErrAuthentication, sm.From)
	}
	jws, err := jose.ParseSigned(sm.Signature, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return signedPayload{}, fmt.Errorf("%w: parse signature from %s: %v", mpcerr.ErrAuthentication, sm.From, err)
	}
	payload, err := jws.Verify(pub)
	if err != nil {
		return signedPayload{}, fmt.Errorf("%w: signature from %s: %v", mpcerr.ErrAuthentication, sm.From, err)
	}

	var sp signedPayload
	if err := json.Unmarshal(payload, &sp); err != nil {
		return signedPayload{}, fmt.Errorf("%w: signed payload from %s: %v", mpcerr.ErrAuthentication, sm.From, err)
	}
	if sp.From != sm.From || sp.To != sm.To || sp.Protocol != sm.Protocol || sp.Round != sm.Round || sp.Kind != sm.Kind {
		return signedPayload{}, fmt.Errorf("%w: header from %s does not match signed header", mpcerr.ErrAuthentication, sm.From)
	}
	if sp.To != me && !(sp.To == "" && sp.Kind == network.KindBroadcast) {
		return signedPayload{}, fmt.Errorf("%w: message from %s addressed to %q", mpcerr.ErrAuthentication, sm.From, sp.To)
	}
	return sp, nil
}

func open(sm SignedMessage, senders map[party.Role]*ecdsa.PublicKey, me party.Role, myKey *ecdsa.PrivateKey) (network.WireMessage, error) {
	sp, err := verify(sm, senders, me)
	if err != nil {
		return network.WireMessage{}, err
	}
	if sp.JWE == "" {
		return network.WireMessage{}, fmt.Errorf("%w: message from %s is not encrypted", mpcerr.ErrDecryption, sm.From)
	}

	obj, err := jose.ParseEncrypted(sp.JWE, []jose.KeyAlgorithm{jose.ECDH_ES_A256KW}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return network.WireMessage{}, fmt.Errorf("%w: parse ciphertext from %s: %v", mpcerr.ErrDecryption, sm.From, err)
	}
	plaintext, err := obj.Decrypt(myKey)
	if err != nil {
		return network.WireMessage{}, fmt.Errorf("%w: ciphertext from %s: %v", mpcerr.ErrDecryption, sm.From, err)
	}
	return inner(sm, sp, plaintext)
}

// inner decodes the wire message and checks it against the signed header.
func inner(sm SignedMessage, sp signedPayload, plaintext []byte) (network.WireMessage, error) {
	var m network.WireMessage
	if err := json.Unmarshal(plaintext, &m); err != nil {
		return network.WireMessage{}, mpcerr.Validationf("message from %s: %v", sm.From, err)
	}
	to := m.To
	if m.Kind == network.KindBroadcast && to == "" {
		to = sp.To
	}
	if m.From != sp.From || to != sp.To || m.Protocol != sp.Protocol || m.Round != sp.Round || m.Kind != sp.Kind {
		return network.WireMessage{}, fmt.Errorf("%w: inner header from %s does not match signed header", mpcerr.ErrAuthentication, sm.From)
	}
	return m, nil
}
