package keyservice

import (
	"bytes"
	"context"
	"custody-node/internal/config"
	"custody-node/internal/envelope"
	"custody-node/internal/mpcerr"
	"custody-node/internal/party"
	"custody-node/internal/storage"
	"custody-node/internal/storage/models"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(bytes.Repeat([]byte{7}, envelope.KeySize))
	require.NoError(t, err)
	return l
}

func TestLocalDataKeys(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)

	env, err := envelope.Seal(ctx, l, []byte("round state"))
	require.NoError(t, err)
	pt, err := envelope.Open(ctx, l, env)
	require.NoError(t, err)
	assert.Equal(t, []byte("round state"), pt)

	other, err := NewLocal(bytes.Repeat([]byte{8}, envelope.KeySize))
	require.NoError(t, err)
	_, err = envelope.Open(ctx, other, env)
	assert.ErrorIs(t, err, mpcerr.ErrEnvelopeCorrupt)
	assert.False(t, mpcerr.Retryable(err))

	_, err = l.GenerateDataKey(ctx, "AES_128")
	assert.Error(t, err)
}

func TestLocalKeyStore(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)

	_, err := l.GetKey(ctx, "abc", party.Initiator)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, l.PutKey(ctx, "abc", party.Initiator, []byte("share-1")))
	require.NoError(t, l.PutKey(ctx, "abc", party.Counterparty, []byte("share-2")))

	got, err := l.GetKey(ctx, "abc", party.Initiator)
	require.NoError(t, err)
	assert.Equal(t, []byte("share-1"), got)
	got, err = l.GetKey(ctx, "abc", party.Counterparty)
	require.NoError(t, err)
	assert.Equal(t, []byte("share-2"), got)
}

func TestNewLocalRejectsBadMasterKey(t *testing.T) {
	_, err := NewLocal([]byte("short"))
	assert.Error(t, err)
	_, err = NewLocalFromHex("zz")
	assert.Error(t, err)
}

// mockKMSClient lets each test plug in the calls it needs.
type mockKMSClient struct {
	GenerateDataKeyFunc func(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	DecryptFunc         func(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

func (m *mockKMSClient) GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	return m.GenerateDataKeyFunc(ctx, params, optFns...)
}

func (m *mockKMSClient) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	return m.DecryptFunc(ctx, params, optFns...)
}

func TestKMSDataKeys(t *testing.T) {
	ctx := context.Background()
	plain := bytes.Repeat([]byte{3}, envelope.KeySize)
	blob := []byte("wrapped-by-kms")

	mock := &mockKMSClient{
		GenerateDataKeyFunc: func(_ context.Context, params *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
			assert.Equal(t, "alias/custody", aws.ToString(params.KeyId))
			assert.Equal(t, kmstypes.DataKeySpecAes256, params.KeySpec)
			return &kms.GenerateDataKeyOutput{
				Plaintext:      append([]byte(nil), plain...),
				CiphertextBlob: blob,
			}, nil
		},
		DecryptFunc: func(_ context.Context, params *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
			if !bytes.Equal(params.CiphertextBlob, blob) {
				return nil, &kmstypes.InvalidCiphertextException{Message: aws.String("bad blob")}
			}
			return &kms.DecryptOutput{Plaintext: append([]byte(nil), plain...)}, nil
		},
	}
	k := NewKMSWithClient(mock, "alias/custody")

	env, err := envelope.Seal(ctx, k, []byte("state"))
	require.NoError(t, err)
	assert.Equal(t, blob, env.DataKeyReference)

	pt, err := envelope.Open(ctx, k, env)
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), pt)

	env.DataKeyReference = []byte("forged")
	_, err = envelope.Open(ctx, k, env)
	assert.ErrorIs(t, err, mpcerr.ErrEnvelopeCorrupt)
}

func TestKMSFailuresAreUpstream(t *testing.T) {
	ctx := context.Background()
	mock := &mockKMSClient{
		GenerateDataKeyFunc: func(context.Context, *kms.GenerateDataKeyInput, ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
			return nil, errors.New("throttled")
		},
		DecryptFunc: func(context.Context, *kms.DecryptInput, ...func(*kms.Options)) (*kms.DecryptOutput, error) {
			return nil, errors.New("connection reset")
		},
	}
	k := NewKMSWithClient(mock, "alias/custody")

	_, err := envelope.Seal(ctx, k, []byte("state"))
	assert.ErrorIs(t, err, mpcerr.ErrUpstreamKeyService)
	assert.True(t, mpcerr.Retryable(err))

	_, err = envelope.Open(ctx, k, &envelope.Envelope{Ciphertext: []byte{1}, DataKeyReference: []byte{2}})
	assert.ErrorIs(t, err, mpcerr.ErrUpstreamKeyService)
}

type mockLogical struct {
	data   map[string]map[string]interface{}
	err    error
	writes []string
}

func (m *mockLogical) ReadWithContext(_ context.Context, path string) (*vault.Secret, error) {
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.data[path]
	if !ok {
		return nil, nil
	}
	return &vault.Secret{Data: d}, nil
}

func (m *mockLogical) WriteWithContext(_ context.Context, path string, data map[string]interface{}) (*vault.Secret, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.writes = append(m.writes, path)
	m.data[path] = data
	return &vault.Secret{}, nil
}

func TestVaultKeyStore(t *testing.T) {
	ctx := context.Background()
	logical := &mockLogical{data: map[string]map[string]interface{}{}}
	v := NewVaultWithLogical(logical, "")

	require.NoError(t, v.PutKey(ctx, "kc", party.Coordinator, []byte("share")))
	assert.Equal(t, []string{"secret/data/kc/coordinator"}, logical.writes)

	got, err := v.GetKey(ctx, "kc", party.Coordinator)
	require.NoError(t, err)
	assert.Equal(t, []byte("share"), got)

	_, err = v.GetKey(ctx, "kc", party.Initiator)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	logical.data["secret/data/kc/initiator"] = map[string]interface{}{
		"data": map[string]interface{}{"material": "%%%"},
	}
	_, err = v.GetKey(ctx, "kc", party.Initiator)
	assert.ErrorIs(t, err, mpcerr.ErrUpstreamKeyService)

	logical.err = errors.New("sealed")
	err = v.PutKey(ctx, "kc", party.Initiator, []byte("x"))
	assert.ErrorIs(t, err, mpcerr.ErrUpstreamKeyService)
}

type memRepo struct {
	records map[string]*models.KeyRecord
}

func (m *memRepo) SaveKeyRecord(_ context.Context, kc, role string, ct, ref []byte) error {
	m.records[kc+"/"+role] = &models.KeyRecord{Role: role, Ciphertext: ct, DataKeyReference: ref}
	return nil
}

func (m *memRepo) FindKeyRecord(_ context.Context, kc, role string) (*models.KeyRecord, error) {
	r, ok := m.records[kc+"/"+role]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return r, nil
}

func TestDBStoreSealsMaterial(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{records: map[string]*models.KeyRecord{}}
	store := NewDBStore(repo, newLocal(t))

	require.NoError(t, store.PutKey(ctx, "kc", party.Counterparty, []byte("secret share")))
	rec := repo.records["kc/counterparty"]
	require.NotNil(t, rec)
	assert.NotContains(t, string(rec.Ciphertext), "secret share")
	assert.NotEmpty(t, rec.DataKeyReference)

	got, err := store.GetKey(ctx, "kc", party.Counterparty)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret share"), got)

	_, err = store.GetKey(ctx, "kc", party.Initiator)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestNewSelectsBackends(t *testing.T) {
	ctx := context.Background()
	svc, err := New(ctx, config.KeyServiceConfig{
		DataKeys:  "local",
		KeyStore:  "local",
		MasterKey: strings.Repeat("ab", envelope.KeySize),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.PutKey(ctx, "kc", party.Initiator, []byte("m")))

	_, err = New(ctx, config.KeyServiceConfig{
		DataKeys:  "local",
		KeyStore:  "db",
		MasterKey: strings.Repeat("ab", envelope.KeySize),
	}, nil)
	assert.Error(t, err)

	_, err = New(ctx, config.KeyServiceConfig{DataKeys: "hsm"}, nil)
	assert.Error(t, err)
}
