package keyservice

import (
	"context"
	"crypto/rand"
	"custody-node/internal/envelope"
	"custody-node/internal/party"
	"encoding/hex"
	"fmt"
	"sync"
)

// Local wraps data keys under an in-process master key and keeps shares in
// memory, sealed under the same master key. It is meant for development and tests.
type Local struct {
	master []byte

	mu     sync.RWMutex
	shares map[string][]byte
}

// NewLocal creates a Local service from a 32-byte master key.
func NewLocal(master []byte) (*Local, error) {
	if len(master) != envelope.KeySize {
		return nil, fmt.Errorf("local master key must be %d bytes, got %d", envelope.KeySize, len(master))
	}
	return &Local{master: append([]byte(nil), master...), shares: make(map[string][]byte)}, nil
}

// NewLocalFromHex creates a Local service from a hex master key.
func NewLocalFromHex(s string) (*Local, error) {
	master, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode local master key: %w", err)
	}
	return NewLocal(master)
}

func (l *Local) GenerateDataKey(_ context.Context, keyType string) (*envelope.DataKey, error) {
	if keyType != envelope.DataKeyType {
		return nil, fmt.Errorf("unsupported data key type %q", keyType)
	}
	pt := make([]byte, envelope.KeySize)
	if _, err := rand.Read(pt); err != nil {
		return nil, err
	}
	wrapped, err := envelope.Encrypt(pt, l.master)
	if err != nil {
		return nil, err
	}
	return &envelope.DataKey{Plaintext: pt, EncryptedKey: wrapped}, nil
}

func (l *Local) DecryptDataKey(_ context.Context, encryptedKey []byte) ([]byte, error) {
	return envelope.Decrypt(encryptedKey, l.master)
}

func (l *Local) GetKey(_ context.Context, publicID string, role party.Role) ([]byte, error) {
	l.mu.RLock()
	sealed, ok := l.shares[storeKey(publicID, role)]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, publicID, role)
	}
	return envelope.Decrypt(sealed, l.master)
}

func (l *Local) PutKey(_ context.Context, publicID string, role party.Role, material []byte) error {
	sealed, err := envelope.Encrypt(material, l.master)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.shares[storeKey(publicID, role)] = sealed
	l.mu.Unlock()
	return nil
}

func storeKey(publicID string, role party.Role) string {
	return publicID + "/" + string(role)
}
