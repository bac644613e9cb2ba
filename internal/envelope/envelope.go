package envelope

import (
	"context"
	"custody-node/internal/mpcerr"
	"errors"
)

// DataKeyType is the key spec requested from the key service.
const DataKeyType = "AES_256"

// Envelope is an encrypted blob together with the encrypted data key that opens it.
type Envelope struct {
	Ciphertext       []byte `json:"ciphertext"`
	DataKeyReference []byte `json:"dataKeyReference"`
}

// DataKey is a freshly generated data key in plaintext and in its encrypted form.
type DataKey struct {
	Plaintext    []byte
	EncryptedKey []byte
}

// DataKeyProvider issues and unwraps data keys.
type DataKeyProvider interface {
	GenerateDataKey(ctx context.Context, keyType string) (*DataKey, error)
	DecryptDataKey(ctx context.Context, encryptedKey []byte) ([]byte, error)
}

// Seal encrypts plaintext under a new data key from keys.
func Seal(ctx context.Context, keys DataKeyProvider, plaintext []byte) (*Envelope, error) {
	dk, err := keys.GenerateDataKey(ctx, DataKeyType)
	if err != nil {
		return nil, mpcerr.Upstream("GenerateDataKey", err)
	}
	defer Zero(dk.Plaintext)

	ciphertext, err := Encrypt(plaintext, dk.Plaintext)
	if err != nil {
		return nil, err
	}
	return &Envelope{Ciphertext: ciphertext, DataKeyReference: dk.EncryptedKey}, nil
}

// Open decrypts env after unwrapping its data key through keys.
func Open(ctx context.Context, keys DataKeyProvider, env *Envelope) ([]byte, error) {
	if env == nil || len(env.Ciphertext) == 0 || len(env.DataKeyReference) == 0 {
		return nil, mpcerr.Validationf("encrypted envelope is empty")
	}
	key, err := keys.DecryptDataKey(ctx, env.DataKeyReference)
	if err != nil {
		if errors.Is(err, mpcerr.ErrEnvelopeCorrupt) {
			return nil, err
		}
		return nil, mpcerr.Upstream("DecryptDataKey", err)
	}
	defer Zero(key)

	return Decrypt(env.Ciphertext, key)
}
