package redis

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-delivery-service/internal/app"
	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/logging"
)

// unlockScript deletes the lock only while it still belongs to the caller.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions stay in a local map so timers and broadcast run in process.
//   - Redis marks session liveness and holds the attempt lock, so two
//     instances behind a load balancer cannot drive the same attempt.
type SessionStore struct {
	client   redis.UniversalClient
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[int64]*app.LiveSession
}

func NewSessionStore(client redis.UniversalClient, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[int64]*app.LiveSession),
	}
}

func (s *SessionStore) GetOrCreate(resultID int64, create func() *app.LiveSession) *app.LiveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[resultID]; ok {
		return session
	}
	session := create()
	s.sessions[resultID] = session
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), sessionKey(resultID), session.UserID(), s.ttl).Err()
	return session
}

func (s *SessionStore) Get(resultID int64) (*app.LiveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[resultID]
	return session, ok
}

func (s *SessionStore) Delete(resultID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[resultID]; !ok {
		return
	}
	delete(s.sessions, resultID)
	_ = s.client.Del(context.Background(), sessionKey(resultID)).Err()
}

func (s *SessionStore) List() []*app.LiveSession {
	s.mu.RLock()
	out := make([]*app.LiveSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ResultID() < out[j].ResultID() })
	return out
}

// Lock claims the attempt with SET NX. The owner may re-lock, which extends
// the lease.
func (s *SessionStore) Lock(ctx context.Context, resultID int64, owner string) error {
	key := lockKey(resultID)
	ok, err := s.client.SetNX(ctx, key, owner, s.ttl).Result()
	if err != nil {
		return domain.Storage("lock attempt", err)
	}
	if ok {
		return nil
	}

	held, err := s.client.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
		// Expired between the two calls.
		return s.Lock(ctx, resultID, owner)
	case err != nil:
		return domain.Storage("read attempt lock", err)
	case held != owner:
		return domain.ErrAttemptBusy
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return domain.Storage("renew attempt lock", err)
		}
	}
	return nil
}

func (s *SessionStore) Unlock(ctx context.Context, resultID int64, owner string) {
	if err := unlockScript.Run(ctx, s.client, []string{lockKey(resultID)}, owner).Err(); err != nil && err != redis.Nil {
		logging.WithContext(ctx).WithError(err).WithField("resultId", resultID).Warn("redis: unlock attempt failed")
	}
}

func sessionKey(resultID int64) string {
	return "quiz:session:" + strconv.FormatInt(resultID, 10)
}

func lockKey(resultID int64) string {
	return "quiz:attempt:" + strconv.FormatInt(resultID, 10) + ":lock"
}
