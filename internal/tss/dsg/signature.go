package dsg

import (
	"custody-node/internal/tss"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/common"
)

// Signature is a combined ECDSA signature.
type Signature struct {
	RecoveryID int      `json:"recid"`
	R          *big.Int `json:"r"`
	S          *big.Int `json:"s"`
	Y          string   `json:"y"`
}

// String renders the signature as recid:r:s:y with hex fields.
func (s *Signature) String() string {
	return fmt.Sprintf("%d:%s:%s:%s",
		s.RecoveryID,
		hex.EncodeToString(tss.ScalarBytes(s.R)),
		hex.EncodeToString(tss.ScalarBytes(s.S)),
		s.Y,
	)
}

// SignatureData converts the signature into the tss-lib wire structure.
func (s *Signature) SignatureData(hash []byte) *common.SignatureData {
	r, sb := tss.ScalarBytes(s.R), tss.ScalarBytes(s.S)
	return &common.SignatureData{
		Signature:         append(append([]byte{}, r...), sb...),
		SignatureRecovery: []byte{byte(s.RecoveryID)},
		R:                 r,
		S:                 sb,
		M:                 hash,
	}
}
