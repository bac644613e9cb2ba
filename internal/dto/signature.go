package dto

import "github.com/bnb-chain/tss-lib/v2/common"

// EcdsaSignature is the combined ECDSA signature. Serialized is the
// recoveryId:r:s:y form consumed by transaction builders.
type EcdsaSignature struct {
	RecoveryID    int                   `json:"recoveryId"`
	R             string                `json:"r"`
	S             string                `json:"s"`
	Y             string                `json:"y"`
	Serialized    string                `json:"serialized"`
	SignatureData *common.SignatureData `json:"signatureData"`
}

// EddsaSignature is an Ed25519 signature R || S, hex encoded.
type EddsaSignature struct {
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

// SignResponse is returned by the combine and recovery endpoints.
// Exactly one of the signatures is set.
type SignResponse struct {
	Ecdsa *EcdsaSignature `json:"ecdsa,omitempty"`
	Eddsa *EddsaSignature `json:"eddsa,omitempty"`
}
