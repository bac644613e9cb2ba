// Package session carries a party's round state between protocol calls.
// The state never lives on the server: it is sealed into an envelope after
// every round and handed back by the caller with the next request.
package session

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"custody-node/internal/envelope"
	"custody-node/internal/mpcerr"
	"custody-node/internal/party"
	"custody-node/internal/securechannel"
	"encoding/json"
	"fmt"
)

// State is the plaintext round state of one party in one ceremony.
type State struct {
	Protocol           string                `json:"protocol"`
	Role               party.Role            `json:"role"`
	Round              int                   `json:"round"`
	Peers              []party.Role          `json:"peers"`
	SessionBytes       []byte                `json:"sessionBytes"`
	IdentityPrivateKey string                `json:"identityPrivateKey"`
	PeerPublicKeys     map[party.Role]string `json:"peerPublicKeys,omitempty"`
}

// New starts a ceremony for role with a fresh identity key. The state is at
// round 0 until the first round's session bytes are attached with Advance.
func New(protocol string, role party.Role, peers []party.Role) (*State, error) {
	if !role.Valid() {
		return nil, mpcerr.Validationf("unknown role %q", role)
	}
	for _, p := range peers {
		if !p.Valid() || p == role {
			return nil, mpcerr.Validationf("invalid peer %q for %s", p, role)
		}
	}
	key, err := securechannel.GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	armored, err := securechannel.ArmorPrivate(key)
	if err != nil {
		return nil, err
	}
	return &State{
		Protocol:           protocol,
		Role:               role,
		Peers:              append([]party.Role(nil), peers...),
		IdentityPrivateKey: armored,
		PeerPublicKeys:     map[party.Role]string{},
	}, nil
}

// Open unseals a state envelope through keys.
func Open(ctx context.Context, keys envelope.DataKeyProvider, env *envelope.Envelope) (*State, error) {
	plaintext, err := envelope.Open(ctx, keys, env)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(plaintext)

	var s State
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, mpcerr.Validationf("decode round state: %v", err)
	}
	if s.PeerPublicKeys == nil {
		s.PeerPublicKeys = map[party.Role]string{}
	}
	return &s, nil
}

// Seal encrypts the state under a fresh data key from keys.
func (s *State) Seal(ctx context.Context, keys envelope.DataKeyProvider) (*envelope.Envelope, error) {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(plaintext)
	return envelope.Seal(ctx, keys, plaintext)
}

// Expect checks that the state belongs to protocol and role and that the
// call for round is the next one.
func (s *State) Expect(protocol string, role party.Role, round int) error {
	if s.Protocol != protocol {
		return mpcerr.Validationf("state belongs to %s, not %s", s.Protocol, protocol)
	}
	if s.Role != role {
		return mpcerr.Validationf("state belongs to %s, not %s", s.Role, role)
	}
	if s.Round != round-1 {
		return &mpcerr.RoundMismatchError{Expected: round - 1, Got: s.Round}
	}
	return nil
}

// Pin records the supplied peer identity keys. A key already pinned for a
// role must be supplied unchanged, or not at all.
func (s *State) Pin(keys map[party.Role]string) error {
	expected := make(map[party.Role]bool, len(s.Peers))
	for _, p := range s.Peers {
		expected[p] = true
	}
	for role, key := range keys {
		if !expected[role] {
			return mpcerr.Validationf("%s is not a peer in this %s ceremony", role, s.Protocol)
		}
		pinned, ok := s.PeerPublicKeys[role]
		if !ok {
			if _, err := securechannel.ParsePublic(key); err != nil {
				return err
			}
			s.PeerPublicKeys[role] = key
			continue
		}
		if pinned == key {
			continue
		}
		want, err := securechannel.Thumbprint(pinned)
		if err != nil {
			return err
		}
		got, err := securechannel.Thumbprint(key)
		if err != nil || got != want {
			return &mpcerr.PinningError{Role: string(role)}
		}
	}
	return nil
}

// PeerKeys returns the pinned keys of every peer. All of them must be pinned.
func (s *State) PeerKeys() (map[party.Role]*ecdsa.PublicKey, error) {
	out := make(map[party.Role]*ecdsa.PublicKey, len(s.Peers))
	for _, p := range s.Peers {
		armored, ok := s.PeerPublicKeys[p]
		if !ok {
			return nil, mpcerr.Validationf("no identity key pinned for %s", p)
		}
		pub, err := securechannel.ParsePublic(armored)
		if err != nil {
			return nil, err
		}
		out[p] = pub
	}
	return out, nil
}

// Identity returns the party's own identity key.
func (s *State) Identity() (*ecdsa.PrivateKey, error) {
	return securechannel.ParsePrivate(s.IdentityPrivateKey)
}

// PublicKey returns the party's own armored identity public key.
func (s *State) PublicKey() (string, error) {
	key, err := s.Identity()
	if err != nil {
		return "", err
	}
	return securechannel.ArmorPublic(&key.PublicKey)
}

// Advance returns a copy of the state one round further, carrying sessionBytes.
func (s *State) Advance(sessionBytes []byte) *State {
	next := *s
	next.Round = s.Round + 1
	next.SessionBytes = sessionBytes
	next.Peers = append([]party.Role(nil), s.Peers...)
	next.PeerPublicKeys = make(map[party.Role]string, len(s.PeerPublicKeys))
	for r, k := range s.PeerPublicKeys {
		next.PeerPublicKeys[r] = k
	}
	return &next
}
