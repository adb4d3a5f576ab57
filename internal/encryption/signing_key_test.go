package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"colleague-auth/internal/config"
)

type fakeKMS struct {
	input *kms.DecryptInput
	out   []byte
	err   error
}

func (f *fakeKMS) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &kms.DecryptOutput{Plaintext: f.out, KeyId: params.KeyId}, nil
}

func TestSigningKeyPlain(t *testing.T) {
	key, err := SigningKey(context.Background(), config.JWTConfig{Secret: "plain"}, config.KMSConfig{}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), key)

	_, err = SigningKey(context.Background(), config.JWTConfig{}, config.KMSConfig{}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestSigningKeyKMS(t *testing.T) {
	blob := []byte{1, 2, 3}
	jwtCfg := config.JWTConfig{Secret: "ignored", SecretCiphertext: base64.StdEncoding.EncodeToString(blob)}
	kmsCfg := config.KMSConfig{Enabled: true, KeyID: "alias/jwt"}

	fake := &fakeKMS{out: []byte("from-kms")}
	key, err := SigningKey(context.Background(), jwtCfg, kmsCfg, fake, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []byte("from-kms"), key)
	assert.Equal(t, blob, fake.input.CiphertextBlob)
	assert.Equal(t, "alias/jwt", aws.ToString(fake.input.KeyId))

	_, err = SigningKey(context.Background(), jwtCfg, kmsCfg, &fakeKMS{err: errors.New("AccessDenied")}, zap.NewNop())
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = SigningKey(context.Background(), jwtCfg, kmsCfg, &fakeKMS{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	bad := jwtCfg
	bad.SecretCiphertext = "%%%"
	_, err = SigningKey(context.Background(), bad, kmsCfg, fake, zap.NewNop())
	assert.Error(t, err)

	_, err = SigningKey(context.Background(), jwtCfg, kmsCfg, nil, zap.NewNop())
	assert.Error(t, err)
}
