// Package encryption resolves the token signing secret, optionally unwrapping
// it with AWS KMS so the plaintext never sits in the environment.
package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"colleague-auth/internal/config"
)

var ErrDecryptionFailed = errors.New("decryption failed")

// Decrypter is the part of the KMS API used here. *kms.Client satisfies it.
type Decrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// NewKMSClient builds a KMS client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, cfg config.KMSConfig) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// SigningKey returns the HS256 secret. With KMS enabled and a ciphertext
// configured, the base64 ciphertext is decrypted with kmsClient; otherwise
// the plaintext secret from the environment is used.
func SigningKey(ctx context.Context, jwtCfg config.JWTConfig, kmsCfg config.KMSConfig, kmsClient Decrypter, logger *zap.Logger) ([]byte, error) {
	if !kmsCfg.Enabled || jwtCfg.SecretCiphertext == "" {
		if jwtCfg.Secret == "" {
			return nil, errors.New("no token signing secret configured")
		}
		return []byte(jwtCfg.Secret), nil
	}
	if kmsClient == nil {
		return nil, errors.New("kms is enabled but no client was provided")
	}

	blob, err := base64.StdEncoding.DecodeString(jwtCfg.SecretCiphertext)
	if err != nil {
		return nil, fmt.Errorf("signing secret ciphertext is not base64: %w", err)
	}

	input := &kms.DecryptInput{CiphertextBlob: blob}
	if kmsCfg.KeyID != "" {
		input.KeyId = aws.String(kmsCfg.KeyID)
	}

	out, err := kmsClient.Decrypt(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(out.Plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecryptionFailed)
	}

	logger.Info("Token signing secret decrypted with KMS", zap.String("key_id", aws.ToString(out.KeyId)))
	return out.Plaintext, nil
}
