package keyservice

import (
	"context"
	"custody-node/internal/config"
	"custody-node/internal/storage"
	"fmt"
)

// New builds the key service selected by cfg. repo is only used by the
// "db" key store and may be nil otherwise.
func New(ctx context.Context, cfg config.KeyServiceConfig, repo *storage.Repository) (Service, error) {
	var (
		keys  DataKeyProvider
		local *Local
		err   error
	)
	switch cfg.DataKeys {
	case "local":
		local, err = NewLocalFromHex(cfg.MasterKey)
		if err != nil {
			return nil, err
		}
		keys = local
	case "kms":
		keys, err = NewKMS(ctx, cfg.KMS)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown data key provider %q", cfg.DataKeys)
	}

	var store KeyStore
	switch cfg.KeyStore {
	case "local":
		if local == nil {
			return nil, fmt.Errorf("the local key store needs local data keys")
		}
		store = local
	case "vault":
		store, err = NewVault(cfg.Vault)
		if err != nil {
			return nil, err
		}
	case "db":
		if repo == nil {
			return nil, fmt.Errorf("the db key store needs a database")
		}
		store = NewDBStore(repo, keys)
	default:
		return nil, fmt.Errorf("unknown key store %q", cfg.KeyStore)
	}
	return Compose(keys, store), nil
}
