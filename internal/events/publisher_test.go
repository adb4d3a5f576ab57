package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"colleague-auth/internal/bucketing"
	"colleague-auth/internal/config"
	"colleague-auth/internal/models"
)

type producedMessage struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeWriter struct {
	msgs []producedMessage
	err  error
}

func (f *fakeWriter) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.msgs = append(f.msgs, producedMessage{topic: topic, key: key, value: value, headers: headers})
	return f.err
}

type fakeExecer struct {
	queries []string
	args    [][]interface{}
}

func (f *fakeExecer) Exec(ctx context.Context, query string, args ...interface{}) error {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return nil
}

type capture struct {
	mu     sync.Mutex
	events []models.SecurityEvent
	err    error
}

func (c *capture) Publish(ctx context.Context, e models.SecurityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, "auth.security-events")

	err := p.Publish(context.Background(), models.SecurityEvent{EventType: models.EventLogin, UserID: "u1", Success: true})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "auth.security-events", msg.topic)
	assert.Equal(t, "u1", string(msg.key))
	assert.Equal(t, models.EventLogin, msg.headers["event_type"])

	var decoded models.SecurityEvent
	require.NoError(t, json.Unmarshal(msg.value, &decoded))
	assert.Equal(t, "u1", decoded.UserID)
	assert.True(t, decoded.Success)

	require.NoError(t, p.Publish(context.Background(), models.SecurityEvent{EventType: models.EventVerificationSent, Mobile: "123****8910"}))
	assert.Equal(t, "123****8910", string(w.msgs[1].key), "falls back to mobile key")
}

func TestClickHouseSink(t *testing.T) {
	db := &fakeExecer{}
	sink := NewClickHouseSink(db, "auth_events")

	require.NoError(t, sink.EnsureSchema(context.Background()))
	assert.Contains(t, db.queries[0], "CREATE TABLE IF NOT EXISTS auth_events")

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Publish(context.Background(), models.SecurityEvent{
		EventID: "e1", EventBucket: 3, EventDate: "2024-05-01", EventTime: ts,
		EventType: models.EventLogout, UserID: "u1", DeviceID: "d1", Success: true,
	}))
	assert.True(t, strings.HasPrefix(db.queries[1], "INSERT INTO auth_events"))
	require.Len(t, db.args[1], 11)
	assert.Equal(t, uint16(3), db.args[1][1])
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), db.args[1][2])
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &capture{}
	bad := &capture{err: errors.New("broker down")}

	err := Fanout{ok, bad}.Publish(context.Background(), models.SecurityEvent{EventType: models.EventLogin})
	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, bad.events, 1)
}

func TestRecorderStampsAndSwallowsErrors(t *testing.T) {
	sink := &capture{err: errors.New("unavailable")}
	buckets := bucketing.NewBucketingManager(config.BucketingConfig{UserBuckets: 8, EventBuckets: 8})
	r := NewRecorder(sink, buckets, zap.NewNop())
	r.now = func() time.Time { return time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC) }

	r.Record(context.Background(), models.SecurityEvent{EventType: models.EventRefresh, UserID: "u1"})

	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, "2024-05-01", e.EventDate)
	assert.Equal(t, buckets.EventBucket("u1"), e.EventBucket)

	var nilRecorder *Recorder
	assert.NotPanics(t, func() { nilRecorder.Record(context.Background(), e) })
}
