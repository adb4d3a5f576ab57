// Package sms hands verification codes to the delivery channel.
package sms

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"colleague-auth/internal/util"
)

type Sender interface {
	SendVerificationCode(ctx context.Context, mobile, code string) error
}

// LogSender only logs that a code was issued. Used in development where the
// code is returned to the client directly.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendVerificationCode(ctx context.Context, mobile, code string) error {
	s.logger.Info("Verification code issued", util.Mobile(mobile))
	return nil
}

// MessageWriter is satisfied by *client.KafkaProducer.
type MessageWriter interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSender queues the SMS on a topic consumed by the SMS gateway worker.
type KafkaSender struct {
	writer MessageWriter
	topic  string
}

func NewKafkaSender(w MessageWriter, topic string) *KafkaSender {
	return &KafkaSender{writer: w, topic: topic}
}

type verificationMessage struct {
	Mobile   string `json:"mobile"`
	Code     string `json:"code"`
	Template string `json:"template"`
}

func (s *KafkaSender) SendVerificationCode(ctx context.Context, mobile, code string) error {
	payload, err := json.Marshal(verificationMessage{Mobile: mobile, Code: code, Template: "verification_code"})
	if err != nil {
		return fmt.Errorf("failed to encode sms request: %w", err)
	}
	if err := s.writer.ProduceMessage(ctx, s.topic, []byte(mobile), payload, nil); err != nil {
		return fmt.Errorf("failed to queue sms: %w", err)
	}
	return nil
}
