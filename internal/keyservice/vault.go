package keyservice

import (
	"context"
	"custody-node/internal/config"
	"custody-node/internal/mpcerr"
	"custody-node/internal/party"
	"encoding/base64"
	"fmt"
	"path"

	vault "github.com/hashicorp/vault/api"
)

// VaultLogical is the subset of the Vault logical client used for key custody.
// *vault.Logical satisfies it.
type VaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vault.Secret, error)
}

// Vault keeps key shares in a KV version 2 secrets engine.
type Vault struct {
	logical VaultLogical
	mount   string
}

// NewVault connects to the Vault server described by cfg.
func NewVault(cfg config.VaultConfig) (*Vault, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	return NewVaultWithLogical(client.Logical(), cfg.Mount), nil
}

// NewVaultWithLogical wraps an existing logical client.
func NewVaultWithLogical(logical VaultLogical, mount string) *Vault {
	if mount == "" {
		mount = "secret"
	}
	return &Vault{logical: logical, mount: mount}
}

func (v *Vault) secretPath(publicID string, role party.Role) string {
	return path.Join(v.mount, "data", publicID, string(role))
}

func (v *Vault) GetKey(ctx context.Context, publicID string, role party.Role) ([]byte, error) {
	secret, err := v.logical.ReadWithContext(ctx, v.secretPath(publicID, role))
	if err != nil {
		return nil, mpcerr.Upstream("vault:read", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, publicID, role)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, mpcerr.Upstream("vault:read", fmt.Errorf("secret has no data"))
	}
	encoded, ok := data["material"].(string)
	if !ok {
		return nil, mpcerr.Upstream("vault:read", fmt.Errorf("secret has no key material"))
	}
	material, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, mpcerr.Upstream("vault:read", fmt.Errorf("decode key material: %w", err))
	}
	return material, nil
}

func (v *Vault) PutKey(ctx context.Context, publicID string, role party.Role, material []byte) error {
	_, err := v.logical.WriteWithContext(ctx, v.secretPath(publicID, role), map[string]interface{}{
		"data": map[string]interface{}{
			"material": base64.StdEncoding.EncodeToString(material),
			"role":     string(role),
		},
	})
	if err != nil {
		return mpcerr.Upstream("vault:write", err)
	}
	return nil
}
