package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-delivery-service/internal/app"
	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/logging"
	"quiz-delivery-service/internal/telemetry"
)

// Catalog caches quiz headers and questions in Redis and falls back to a
// loader on cache miss.
// Headers are stored as:   SET quiz:{quizID}:header {json}
// Questions are stored as: SET quiz:{quizID}:question:{seq} {json}
type Catalog struct {
	client redis.UniversalClient
	loader app.Catalog
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewCatalog(client redis.UniversalClient, loader app.Catalog, ttl time.Duration) *Catalog {
	return &Catalog{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Catalog) Header(ctx context.Context, quizID int64) (domain.QuizHeader, error) {
	var h domain.QuizHeader
	err := c.get(ctx, headerKey(quizID), &h, func() (any, error) {
		return c.loader.Header(ctx, quizID)
	})
	return h, err
}

func (c *Catalog) QuestionAt(ctx context.Context, quizID int64, sequenceNum int) (domain.Question, error) {
	var q domain.Question
	err := c.get(ctx, questionKey(quizID, sequenceNum), &q, func() (any, error) {
		return c.loader.QuestionAt(ctx, quizID, sequenceNum)
	})
	return q, err
}

// SearchHeaders is not cached; filters are too varied to hit often.
func (c *Catalog) SearchHeaders(ctx context.Context, f domain.HeaderFilter) ([]domain.QuizHeader, error) {
	return c.loader.SearchHeaders(ctx, f)
}

// Invalidate removes the cached header and questions of a quiz so every
// instance reloads it from the source on next use.
func Invalidate(ctx context.Context, client redis.UniversalClient, quizID int64) error {
	prefix := "quiz:" + strconv.FormatInt(quizID, 10) + ":"
	keys := []string{headerKey(quizID)}
	iter := client.Scan(ctx, 0, prefix+"question:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return domain.Storage("scan cached questions", err)
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		return domain.Storage("invalidate quiz cache", err)
	}
	return nil
}

func (c *Catalog) get(ctx context.Context, key string, dst any, load func() (any, error)) error {
	if c.read(ctx, key, dst) {
		telemetry.CacheLookups.WithLabelValues("redis", "hit").Inc()
		return nil
	}

	raw, err, _ := c.sf.Do(key, func() (any, error) {
		// Re-check cache in case another goroutine filled it.
		if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
			return data, nil
		}
		telemetry.CacheLookups.WithLabelValues("redis", "miss").Inc()

		v, err := load()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, data, c.ttlWithJitter()).Err(); err != nil {
			logging.WithContext(ctx).WithError(err).WithField("key", key).Warn("redis: cache fill failed")
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dst)
}

func (c *Catalog) read(ctx context.Context, key string, dst any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithContext(ctx).WithError(err).WithField("key", key).Warn("redis: cache read failed")
		}
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func headerKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":header"
}

func questionKey(quizID int64, seq int) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":question:" + strconv.Itoa(seq)
}

func (c *Catalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
