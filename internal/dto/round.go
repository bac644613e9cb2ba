// Package dto defines the request and response bodies of the round HTTP
// surface. The orchestrator consumes and produces them directly.
package dto

import (
	"custody-node/internal/envelope"
	"custody-node/internal/party"
	"custody-node/internal/securechannel"
)

// RoundRequest advances one party by one round.
type RoundRequest struct {
	Role           party.Role                    `json:"role" binding:"required"`
	State          *envelope.Envelope            `json:"state,omitempty"`
	PeerPublicKeys map[party.Role]string         `json:"peerPublicKeys,omitempty"`
	Messages       []securechannel.SignedMessage `json:"messages,omitempty"`
}

// RoundResponse carries the new sealed state and the messages to deliver.
type RoundResponse struct {
	Round     int                           `json:"round"`
	State     *envelope.Envelope            `json:"state"`
	PublicKey string                        `json:"publicKey"` // the party's identity key for this ceremony
	Messages  []securechannel.SignedMessage `json:"messages"`
}

// DkgFinalizeRequest completes key generation. The initiator and the
// counterparty must supply the keychain the coordinator reported.
type DkgFinalizeRequest struct {
	RoundRequest
	CoordinatorKeychain string `json:"coordinatorKeychain,omitempty"`
}

// EcdsaSignInitRequest starts a two-party ECDSA signing ceremony.
type EcdsaSignInitRequest struct {
	Role           party.Role `json:"role" binding:"required"`
	Peer           party.Role `json:"peer" binding:"required"`
	CommonKeychain string     `json:"commonKeychain" binding:"required"`
	Path           string     `json:"path"`
	MessageHash    string     `json:"messageHash" binding:"required"` // hex, 32 bytes
}

// EddsaSignInitRequest starts a two-party EdDSA signing ceremony.
type EddsaSignInitRequest struct {
	Role           party.Role `json:"role" binding:"required"`
	Peer           party.Role `json:"peer" binding:"required"`
	CommonKeychain string     `json:"commonKeychain" binding:"required"`
	Path           string     `json:"path"`
	Message        string     `json:"message" binding:"required"` // hex
}

// RecoverySignRequest signs with the initiator and counterparty shares only.
// Message is the 32-byte hash for ECDSA and the raw message for EdDSA, hex encoded.
type RecoverySignRequest struct {
	CommonKeychain string `json:"commonKeychain" binding:"required"`
	Path           string `json:"path"`
	Message        string `json:"message" binding:"required"`
}

// ErrorResponse is returned for every failed call.
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category"`
	Retry    bool   `json:"retryable"`
}
