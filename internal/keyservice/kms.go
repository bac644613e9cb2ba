package keyservice

import (
	"context"
	"custody-node/internal/config"
	"custody-node/internal/envelope"
	"custody-node/internal/mpcerr"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSClient is the subset of the AWS KMS API used for data keys.
type KMSClient interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMS issues data keys from an AWS KMS key.
type KMS struct {
	client KMSClient
	keyID  string
}

// NewKMS builds an AWS KMS client from cfg.
func NewKMS(ctx context.Context, cfg config.KMSConfig) (*KMS, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*kms.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return NewKMSWithClient(kms.NewFromConfig(awsCfg, clientOpts...), cfg.KeyID), nil
}

// NewKMSWithClient wraps an existing client.
func NewKMSWithClient(client KMSClient, keyID string) *KMS {
	return &KMS{client: client, keyID: keyID}
}

func (k *KMS) GenerateDataKey(ctx context.Context, keyType string) (*envelope.DataKey, error) {
	if keyType != envelope.DataKeyType {
		return nil, fmt.Errorf("unsupported data key type %q", keyType)
	}
	out, err := k.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(k.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, mpcerr.Upstream("kms:GenerateDataKey", err)
	}
	if len(out.Plaintext) != envelope.KeySize || len(out.CiphertextBlob) == 0 {
		return nil, mpcerr.Upstream("kms:GenerateDataKey", errors.New("unexpected data key shape"))
	}
	return &envelope.DataKey{Plaintext: out.Plaintext, EncryptedKey: out.CiphertextBlob}, nil
}

func (k *KMS) DecryptDataKey(ctx context.Context, encryptedKey []byte) ([]byte, error) {
	out, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: encryptedKey,
		KeyId:          aws.String(k.keyID),
	})
	if err != nil {
		var invalid *types.InvalidCiphertextException
		if errors.As(err, &invalid) {
			return nil, fmt.Errorf("%w: %v", mpcerr.ErrEnvelopeCorrupt, err)
		}
		return nil, mpcerr.Upstream("kms:Decrypt", err)
	}
	return out.Plaintext, nil
}
