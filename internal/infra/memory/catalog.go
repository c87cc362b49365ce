package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-delivery-service/internal/app"
	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/telemetry"
)

// Catalog caches headers and questions with TTL to avoid repeated DB hits.
// Searches go straight to the loader.
type Catalog struct {
	loader app.Catalog
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cached
}

type cached struct {
	value     any
	expiresAt time.Time
}

func NewCatalog(loader app.Catalog, ttl time.Duration) *Catalog {
	return &Catalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cached),
	}
}

func (c *Catalog) Header(ctx context.Context, quizID int64) (domain.QuizHeader, error) {
	v, err := c.get(ctx, "h:"+strconv.FormatInt(quizID, 10), func() (any, error) {
		return c.loader.Header(ctx, quizID)
	})
	if err != nil {
		return domain.QuizHeader{}, err
	}
	return v.(domain.QuizHeader), nil
}

func (c *Catalog) QuestionAt(ctx context.Context, quizID int64, sequenceNum int) (domain.Question, error) {
	key := "q:" + strconv.FormatInt(quizID, 10) + ":" + strconv.Itoa(sequenceNum)
	v, err := c.get(ctx, key, func() (any, error) {
		return c.loader.QuestionAt(ctx, quizID, sequenceNum)
	})
	if err != nil {
		return domain.Question{}, err
	}
	return v.(domain.Question), nil
}

func (c *Catalog) SearchHeaders(ctx context.Context, f domain.HeaderFilter) ([]domain.QuizHeader, error) {
	return c.loader.SearchHeaders(ctx, f)
}

func (c *Catalog) get(_ context.Context, key string, load func() (any, error)) (any, error) {
	if v, ok := c.lookup(key); ok {
		telemetry.CacheLookups.WithLabelValues("memory", "hit").Inc()
		return v, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		telemetry.CacheLookups.WithLabelValues("memory", "miss").Inc()

		v, err := load()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[key] = cached{value: v, expiresAt: c.clock().Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return v, nil
	})
	return v, err
}

func (c *Catalog) lookup(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return entry.value, true
}

func (c *Catalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
