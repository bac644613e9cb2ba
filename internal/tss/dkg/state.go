package dkg

import (
	"bytes"
	"custody-node/internal/mpcerr"
	"encoding/json"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/crypto/paillier"
)

// State is everything a party carries between DKG rounds. It is serialized
// into the session bytes of the encrypted round state.
type State struct {
	Round int `json:"round"`
	Index int `json:"index"`

	Shares       map[int]*big.Int     `json:"shares"`
	Commitment   *big.Int             `json:"commitment"`
	Decommitment []*big.Int           `json:"decommitment"`
	PaillierKey  *paillier.PrivateKey `json:"paillierKey"`
	RingPedersen RingPedersen         `json:"ringPedersen"`

	PeerCommitments  map[int]*big.Int     `json:"peerCommitments,omitempty"`
	PeerPaillier     map[int]*big.Int     `json:"peerPaillier,omitempty"`
	PeerRingPedersen map[int]RingPedersen `json:"peerRingPedersen,omitempty"`

	Xi           *big.Int       `json:"xi,omitempty"`
	PublicKey    string         `json:"publicKey,omitempty"`
	ChainCode    string         `json:"chainCode,omitempty"`
	PublicShares map[int]string `json:"publicShares,omitempty"`
	Transcript   string         `json:"transcript,omitempty"`

	Finalization string `json:"finalization,omitempty"`
}

// Bytes serializes the state.
func (s *State) Bytes() ([]byte, error) {
	return json.Marshal(s)
}

// Restore decodes session bytes. The bytes must re-encode to exactly the same
// value, so truncated, padded or hand-edited state is rejected.
func Restore(b []byte) (*State, error) {
	var s State
	if err := restoreStrict(b, &s); err != nil {
		return nil, err
	}
	if s.Index < 1 || s.Index > 3 || s.Round < 1 || s.Round > 4 {
		return nil, mpcerr.Validationf("dkg state has index %d round %d", s.Index, s.Round)
	}
	return &s, nil
}

func (s *State) clone() (*State, error) {
	b, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *State) expectRound(round int) error {
	if s == nil {
		return mpcerr.Validationf("dkg state is missing")
	}
	if s.Round != round {
		return &mpcerr.RoundMismatchError{Expected: round, Got: s.Round}
	}
	return nil
}

func restoreStrict(b []byte, v any) error {
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
