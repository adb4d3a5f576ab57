package bucketing

import (
	"hash"
	"sync"
	"time"

	"colleague-auth/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager maps identifiers onto a fixed number of buckets with
// murmur3, which keeps the assignment stable across processes and restarts.
type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg config.BucketingConfig) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  cfg.UserBuckets,
		eventBuckets: cfg.EventBuckets,
	}
	if bm.userBuckets <= 0 {
		bm.userBuckets = 1
	}
	if bm.eventBuckets <= 0 {
		bm.eventBuckets = 1
	}
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// UserBucket is the partition of a user row, in [0, UserBuckets).
func (bm *BucketingManager) UserBucket(userID string) int {
	return bm.bucket(userID, bm.userBuckets)
}

// EventBucket spreads security events of one key over [0, EventBuckets).
func (bm *BucketingManager) EventBucket(key string) int {
	return bm.bucket(key, bm.eventBuckets)
}

// DateBucket is the UTC day of t.
func (bm *BucketingManager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) UserBuckets() int {
	return bm.userBuckets
}

func (bm *BucketingManager) bucket(key string, n int) int {
	h := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(n))
}
