// Package keyservice connects the orchestrator to the external key service:
// data keys for round state envelopes and custody of finished key shares.
package keyservice

import (
	"context"
	"custody-node/internal/envelope"
	"custody-node/internal/party"
	"errors"
)

// ErrKeyNotFound is returned by a KeyStore that holds no share for the request.
var ErrKeyNotFound = errors.New("key not found")

// DataKeyProvider issues and unwraps envelope data keys.
type DataKeyProvider = envelope.DataKeyProvider

// KeyStore keeps finished key shares, addressed by the common keychain and role.
type KeyStore interface {
	GetKey(ctx context.Context, publicID string, role party.Role) ([]byte, error)
	PutKey(ctx context.Context, publicID string, role party.Role, material []byte) error
}

// Service is the full key service collaborator.
type Service interface {
	DataKeyProvider
	KeyStore
}

type composite struct {
	DataKeyProvider
	KeyStore
}

// Compose joins a data key provider and a key store into one Service.
func Compose(keys DataKeyProvider, store KeyStore) Service {
	return composite{DataKeyProvider: keys, KeyStore: store}
}
