package dsg

import (
	"bytes"
	"custody-node/internal/mpcerr"
	"encoding/json"
	"custody-node/internal/tss/dkg"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/crypto/paillier"
)

// State is everything a signer carries between signing rounds.
type State struct {
	Round     int    `json:"round"`
	Index     int    `json:"index"`
	PeerIndex int    `json:"peerIndex"`
	Hash      string `json:"hash"`
	Path      string `json:"path"`
	PublicKey string `json:"publicKey"`

	K            *big.Int             `json:"k"`
	Gamma        *big.Int             `json:"gamma"`
	W            *big.Int             `json:"w"`
	Commitment   *big.Int             `json:"commitment"`
	Decommitment []*big.Int           `json:"decommitment"`
	PaillierKey  *paillier.PrivateKey `json:"paillierKey"`
	PeerN        *big.Int             `json:"peerN"`
	EncK         *big.Int             `json:"encK"`
	PeerW        string               `json:"peerW"`
	Own          dkg.RingPedersen     `json:"own"`
	Peer         dkg.RingPedersen     `json:"peer"`

	PeerCommitment *big.Int `json:"peerCommitment,omitempty"`
	Beta           *big.Int `json:"beta,omitempty"`
	Nu             *big.Int `json:"nu,omitempty"`

	Delta *big.Int `json:"delta,omitempty"`
	Sigma *big.Int `json:"sigma,omitempty"`

	R string   `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
}

// Bytes serializes the state.
func (s *State) Bytes() ([]byte, error) {
	return json.Marshal(s)
}

// Restore decodes session bytes, rejecting anything that does not re-encode
// to the same bytes.
func Restore(b []byte) (*State, error) {
	var s State
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, mpcerr.Validationf("decode session bytes: %v", err)
	}
	again, err := json.Marshal(&s)
	if err != nil || !bytes.Equal(again, b) {
		return nil, mpcerr.Validationf("session bytes are not canonical")
	}
	if s.Round < 1 || s.Round > 4 || s.Index == s.PeerIndex {
		return nil, mpcerr.Validationf("dsg state has round %d signers %d/%d", s.Round, s.Index, s.PeerIndex)
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
		return mpcerr.Validationf("dsg state is missing")
	}
	if s.Round != round {
		return &mpcerr.RoundMismatchError{Expected: round, Got: s.Round}
	}
	return nil
}
