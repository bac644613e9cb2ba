package keyservice

import (
	"context"
	"custody-node/internal/envelope"
	"custody-node/internal/mpcerr"
	"custody-node/internal/party"
	"custody-node/internal/storage"
	"custody-node/internal/storage/models"
	"errors"
	"fmt"
)

// RecordRepository persists sealed key records. *storage.Repository satisfies it.
type RecordRepository interface {
	SaveKeyRecord(ctx context.Context, commonKeychain, role string, ciphertext, dataKeyReference []byte) error
	FindKeyRecord(ctx context.Context, commonKeychain, role string) (*models.KeyRecord, error)
}

// DBStore keeps key shares in the database, each sealed under its own data key.
type DBStore struct {
	repo RecordRepository
	keys DataKeyProvider
}

// NewDBStore seals shares with data keys from keys before writing them to repo.
func NewDBStore(repo RecordRepository, keys DataKeyProvider) *DBStore {
	return &DBStore{repo: repo, keys: keys}
}

func (d *DBStore) GetKey(ctx context.Context, publicID string, role party.Role) ([]byte, error) {
	record, err := d.repo.FindKeyRecord(ctx, publicID, string(role))
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, publicID, role)
	}
	if err != nil {
		return nil, mpcerr.Upstream("db:FindKeyRecord", err)
	}
	return envelope.Open(ctx, d.keys, &envelope.Envelope{
		Ciphertext:       record.Ciphertext,
		DataKeyReference: record.DataKeyReference,
	})
}

func (d *DBStore) PutKey(ctx context.Context, publicID string, role party.Role, material []byte) error {
	env, err := envelope.Seal(ctx, d.keys, material)
	if err != nil {
		return err
	}
	if err := d.repo.SaveKeyRecord(ctx, publicID, string(role), env.Ciphertext, env.DataKeyReference); err != nil {
		return mpcerr.Upstream("db:SaveKeyRecord", err)
	}
	return nil
}
