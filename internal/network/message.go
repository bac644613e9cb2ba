// Package network defines the round message variants exchanged between the
// custody parties and their untyped wire form.
package network

import (
	"bytes"
	"custody-node/internal/mpcerr"
	"custody-node/internal/party"
	"encoding/json"
	"fmt"
)

// Kind tells whether a wire message is addressed to every peer or to one.
type Kind string

const (
	KindBroadcast Kind = "broadcast"
	KindP2P       Kind = "p2p"
)

// Header ties a message to the protocol and round that produced it.
type Header struct {
	Protocol string
	Round    int
}

func (h Header) String() string {
	return fmt.Sprintf("%s/%d", h.Protocol, h.Round)
}

// WireMessage is the untyped form of a round message as it travels between parties.
type WireMessage struct {
	Protocol string          `json:"protocol"`
	Round    int             `json:"round"`
	Kind     Kind            `json:"kind"`
	From     party.Role      `json:"from"`
	To       party.Role      `json:"to,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Broadcast is a message sent by party index From to every other party.
type Broadcast[P any] struct {
	From    int
	Payload P
}

// PointToPoint is a message sent by party index From to party index To only.
type PointToPoint[P any] struct {
	From    int
	To      int
	Payload P
}

// Wire encodes the broadcast for transport.
func (b Broadcast[P]) Wire(h Header) (WireMessage, error) {
	from, err := party.FromIndex(b.From)
	if err != nil {
		return WireMessage{}, err
	}
	payload, err := json.Marshal(b.Payload)
	if err != nil {
		return WireMessage{}, fmt.Errorf("encode %s broadcast payload: %w", h, err)
	}
	return WireMessage{Protocol: h.Protocol, Round: h.Round, Kind: KindBroadcast, From: from, Payload: payload}, nil
}

// Wire encodes the point-to-point message for transport.
func (m PointToPoint[P]) Wire(h Header) (WireMessage, error) {
	from, err := party.FromIndex(m.From)
	if err != nil {
		return WireMessage{}, err
	}
	to, err := party.FromIndex(m.To)
	if err != nil {
		return WireMessage{}, err
	}
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return WireMessage{}, fmt.Errorf("encode %s p2p payload: %w", h, err)
	}
	return WireMessage{Protocol: h.Protocol, Round: h.Round, Kind: KindP2P, From: from, To: to, Payload: payload}, nil
}

// Inbox holds the messages delivered for one round and makes sure each of
// them is consumed exactly once.
type Inbox struct {
	me    party.Role
	msgs  []WireMessage
	taken []bool
}

// NewInbox wraps the decrypted messages addressed to me.
func NewInbox(me party.Role, msgs []WireMessage) *Inbox {
	return &Inbox{me: me, msgs: msgs, taken: make([]bool, len(msgs))}
}

// TakeBroadcasts removes one broadcast per expected sender from the inbox.
func TakeBroadcasts[P any](in *Inbox, h Header, from []party.Role) (map[int]Broadcast[P], error) {
	out := make(map[int]Broadcast[P], len(from))
	err := in.take(h, KindBroadcast, from, func(m WireMessage) error {
		var p P
		if err := decodeStrict(m.Payload, &p); err != nil {
			return mpcerr.Validationf("%s broadcast from %s: %v", h, m.From, err)
		}
		out[m.From.Index()] = Broadcast[P]{From: m.From.Index(), Payload: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TakeDirect removes one point-to-point message per expected sender from the inbox.
func TakeDirect[P any](in *Inbox, h Header, from []party.Role) (map[int]PointToPoint[P], error) {
	out := make(map[int]PointToPoint[P], len(from))
	err := in.take(h, KindP2P, from, func(m WireMessage) error {
		var p P
		if err := decodeStrict(m.Payload, &p); err != nil {
			return mpcerr.Validationf("%s p2p from %s: %v", h, m.From, err)
		}
		out[m.From.Index()] = PointToPoint[P]{From: m.From.Index(), To: m.To.Index(), Payload: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close fails if any delivered message was not consumed by the round.
func (in *Inbox) Close() error {
	for i, m := range in.msgs {
		if !in.taken[i] {
			return mpcerr.Validationf("unexpected %s message %s/%d from %s", m.Kind, m.Protocol, m.Round, m.From)
		}
	}
	return nil
}

func (in *Inbox) take(h Header, kind Kind, from []party.Role, decode func(WireMessage) error) error {
	expected := make(map[party.Role]bool, len(from))
	for _, r := range from {
		expected[r] = false
	}
	for i, m := range in.msgs {
		if in.taken[i] || m.Protocol != h.Protocol || m.Round != h.Round || m.Kind != kind {
			continue
		}
		seen, ok := expected[m.From]
		if !ok {
			return mpcerr.Validationf("%s %s message from unexpected sender %q", h, kind, m.From)
		}
		if seen {
			return mpcerr.Validationf("duplicate %s %s message from %s", h, kind, m.From)
		}
		switch kind {
		case KindP2P:
			if m.To != in.me {
				return mpcerr.Validationf("%s p2p message from %s addressed to %q", h, m.From, m.To)
			}
		case KindBroadcast:
			if m.To != "" && m.To != in.me {
				return mpcerr.Validationf("%s broadcast from %s addressed to %q", h, m.From, m.To)
			}
		}
		if err := decode(m); err != nil {
			return err
		}
		expected[m.From] = true
		in.taken[i] = true
	}
	for _, r := range from {
		if !expected[r] {
			return mpcerr.Validationf("missing %s %s message from %s", h, kind, r)
		}
	}
	return nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
