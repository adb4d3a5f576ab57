package sms

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	topic string
	key   []byte
	value []byte
	err   error
}

func (f *fakeWriter) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.topic, f.key, f.value = topic, key, value
	return f.err
}

func TestKafkaSender(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSender(w, "sms.verification")

	require.NoError(t, s.SendVerificationCode(context.Background(), "12345678910", "482913"))
	assert.Equal(t, "sms.verification", w.topic)
	assert.Equal(t, "12345678910", string(w.key))

	var msg verificationMessage
	require.NoError(t, json.Unmarshal(w.value, &msg))
	assert.Equal(t, "482913", msg.Code)
	assert.Equal(t, "verification_code", msg.Template)

	w.err = errors.New("no leader")
	assert.ErrorContains(t, s.SendVerificationCode(context.Background(), "1", "2"), "failed to queue sms")
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(zap.NewNop()).SendVerificationCode(context.Background(), "12345678910", "1"))
}
