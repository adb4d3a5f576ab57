// Package events delivers security events of the auth flow to audit sinks.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"colleague-auth/internal/bucketing"
	"colleague-auth/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, event models.SecurityEvent) error
}

// MessageWriter is satisfied by *client.KafkaProducer.
type MessageWriter interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Execer is satisfied by *client.ClickHouseClient.
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// KafkaPublisher writes events as JSON keyed by user id.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

func NewKafkaPublisher(w MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event models.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}
	key := event.UserID
	if key == "" {
		key = event.Mobile
	}
	return p.writer.ProduceMessage(ctx, p.topic, []byte(key), payload, map[string]string{
		"event_type": event.EventType,
	})
}

// ClickHouseSink inserts events into an auth_events table.
type ClickHouseSink struct {
	db    Execer
	table string
}

func NewClickHouseSink(db Execer, table string) *ClickHouseSink {
	return &ClickHouseSink{db: db, table: table}
}

// Schema returns the DDL for the sink table.
func (s *ClickHouseSink) Schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id     UUID,
	event_bucket UInt16,
	event_date   Date,
	event_time   DateTime64(3, 'UTC'),
	event_type   LowCardinality(String),
	user_id      String,
	mobile       String,
	device_id    String,
	ip_address   String,
	success      Bool,
	reason       String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (event_type, event_bucket, event_time)`, s.table)
}

func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	if err := s.db.Exec(ctx, s.Schema()); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

func (s *ClickHouseSink) Publish(ctx context.Context, e models.SecurityEvent) error {
	query := fmt.Sprintf(`INSERT INTO %s (event_id, event_bucket, event_date, event_time, event_type, user_id, mobile, device_id, ip_address, success, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	eventDate, err := time.Parse("2006-01-02", e.EventDate)
	if err != nil {
		eventDate = e.EventTime.UTC().Truncate(24 * time.Hour)
	}
	return s.db.Exec(ctx, query,
		e.EventID, uint16(e.EventBucket), eventDate, e.EventTime, e.EventType,
		e.UserID, e.Mobile, e.DeviceID, e.IPAddress, e.Success, e.Reason)
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event models.SecurityEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder stamps events with id, time and bucket and publishes them without
// blocking the caller on sink failures.
type Recorder struct {
	publisher Publisher
	buckets   *bucketing.BucketingManager
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time
}

func NewRecorder(p Publisher, buckets *bucketing.BucketingManager, logger *zap.Logger) *Recorder {
	return &Recorder{publisher: p, buckets: buckets, logger: logger, timeout: 2 * time.Second, now: time.Now}
}

// Record publishes event. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, event models.SecurityEvent) {
	if r == nil || r.publisher == nil {
		return
	}

	now := r.now().UTC()
	event.EventID = uuid.NewString()
	event.EventTime = now
	event.EventDate = r.buckets.DateBucket(now)
	key := event.UserID
	if key == "" {
		key = event.Mobile
	}
	event.EventBucket = r.buckets.EventBucket(key)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("Failed to publish security event",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}
