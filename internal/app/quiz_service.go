package app

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-delivery-service/internal/delivery"
	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/event"
	"quiz-delivery-service/internal/logging"
	"quiz-delivery-service/internal/scoring"
	"quiz-delivery-service/internal/telemetry"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
	maxPageSize     = 100
)

// Catalog loads quiz content (from cache/backing store).
type Catalog interface {
	delivery.Catalog
	SearchHeaders(ctx context.Context, filter domain.HeaderFilter) ([]domain.QuizHeader, error)
}

// AttemptStore persists attempts and their responses.
type AttemptStore interface {
	delivery.ResponseStore
	scoring.Store
	Assign(ctx context.Context, userID, quizID int64, at time.Time) (domain.Attempt, error)
	AttemptsForUser(ctx context.Context, userID int64) ([]domain.AttemptHeader, error)
	// OverdueAttempts lists started, unsubmitted attempts whose quiz time
	// limit elapsed before now.
	OverdueAttempts(ctx context.Context, now time.Time) ([]int64, error)
}

// SessionRepository abstracts where live sessions are kept (in-memory, Redis, etc).
type SessionRepository interface {
	GetOrCreate(resultID int64, create func() *LiveSession) *LiveSession
	Get(resultID int64) (*LiveSession, bool)
	Delete(resultID int64)
	List() []*LiveSession
	// Lock claims the attempt for owner. It fails with domain.ErrAttemptBusy
	// while another owner holds it.
	Lock(ctx context.Context, resultID int64, owner string) error
	Unlock(ctx context.Context, resultID int64, owner string)
}

type Config struct {
	Catalog  Catalog
	Attempts AttemptStore
	Sessions SessionRepository
	// EventBus is optional.
	EventBus event.Publisher
	// Now defaults to time.Now.
	Now func() time.Time
	// LockRenewal is how often Tick refreshes the claim of a connected
	// owner. It must stay below the session store's lock TTL.
	LockRenewal time.Duration
}

const defaultLockRenewal = 30 * time.Second

// QuizService contains the quiz delivery and scoring use cases.
type QuizService struct {
	catalog  Catalog
	attempts AttemptStore
	sessions SessionRepository
	recorder *delivery.Recorder
	scorer   *scoring.Service
	now      func() time.Time
	renewal  time.Duration
}

func NewQuizService(c Config) *QuizService {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	renewal := c.LockRenewal
	if renewal <= 0 {
		renewal = defaultLockRenewal
	}
	return &QuizService{
		catalog:  c.Catalog,
		attempts: c.Attempts,
		sessions: c.Sessions,
		recorder: delivery.NewRecorder(c.Attempts, c.EventBus, now),
		scorer:   scoring.NewService(scoring.Config{Store: c.Attempts, EventBus: c.EventBus}),
		now:      now,
		renewal:  renewal,
	}
}

// Header returns the quiz header with its question count.
func (s *QuizService) Header(ctx context.Context, quizID int64) (domain.QuizHeader, error) {
	return s.catalog.Header(ctx, quizID)
}

// QuestionAt returns the question at a 1-based sequence position.
func (s *QuizService) QuestionAt(ctx context.Context, quizID int64, sequenceNum int) (domain.Question, error) {
	header, err := s.catalog.Header(ctx, quizID)
	if err != nil {
		return domain.Question{}, err
	}
	return delivery.NewCursor(s.catalog, quizID, header.TotalQuestions).Load(ctx, sequenceNum)
}

// SearchHeaders pages through quiz headers matching name and description fragments.
func (s *QuizService) SearchHeaders(ctx context.Context, filter domain.HeaderFilter) ([]domain.QuizHeader, error) {
	if filter.Page == 0 {
		filter.Page = defaultPage
	}
	if filter.PageSize == 0 {
		filter.PageSize = defaultPageSize
	}
	if filter.Page < 1 {
		return nil, domain.Validationf("page must be at least 1")
	}
	if filter.PageSize < 1 || filter.PageSize > maxPageSize {
		return nil, domain.Validationf("pageSize must be between 1 and %d", maxPageSize)
	}
	filter.Name = strings.TrimSpace(filter.Name)
	filter.Description = strings.TrimSpace(filter.Description)
	return s.catalog.SearchHeaders(ctx, filter)
}

// Assign creates a new attempt of quizID for userID.
func (s *QuizService) Assign(ctx context.Context, userID, quizID int64) (domain.Attempt, error) {
	if _, err := s.catalog.Header(ctx, quizID); err != nil {
		return domain.Attempt{}, err
	}
	a, err := s.attempts.Assign(ctx, userID, quizID, s.now().UTC())
	if err != nil {
		return domain.Attempt{}, domain.Storage("assign quiz", err)
	}
	return a, nil
}

// UserAttempts lists every attempt assigned to userID.
func (s *QuizService) UserAttempts(ctx context.Context, userID int64) ([]domain.AttemptHeader, error) {
	out, err := s.attempts.AttemptsForUser(ctx, userID)
	if err != nil {
		return nil, domain.Storage("list attempts", err)
	}
	return out, nil
}

type SubmitAnswerRequest struct {
	ResultID            int64
	UserID              int64
	QuizID              int64
	QuestionID          int64
	AnswerIDs           []int64
	ResponseTimeSeconds int
	TimedOut            bool
}

// SubmitAnswer records an answer outside a live session.
func (s *QuizService) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) error {
	return s.recorder.RecordAnswer(ctx, delivery.Submission{
		ResultID:            req.ResultID,
		UserID:              req.UserID,
		QuizID:              req.QuizID,
		QuestionID:          req.QuestionID,
		AnswerIDs:           req.AnswerIDs,
		ResponseTimeSeconds: req.ResponseTimeSeconds,
		TimedOut:            req.TimedOut,
	})
}

// StartQuiz stamps the attempt's start time; repeated calls keep the first.
func (s *QuizService) StartQuiz(ctx context.Context, resultID int64) (time.Time, error) {
	return s.recorder.MarkStarted(ctx, resultID)
}

// SubmitQuiz closes the attempt and stores its final score.
func (s *QuizService) SubmitQuiz(ctx context.Context, resultID int64) (domain.ScoreReport, error) {
	if err := s.recorder.MarkSubmitted(ctx, resultID); err != nil {
		return domain.ScoreReport{}, err
	}
	telemetry.AttemptsCompleted.WithLabelValues("submitted").Inc()
	return s.scorer.Finalize(ctx, resultID)
}

func (s *QuizService) Score(ctx context.Context, resultID int64, weighted bool) (domain.ScoreReport, error) {
	return s.scorer.Score(ctx, resultID, weighted)
}

// Responses returns the newest recorded answer batch per question.
func (s *QuizService) Responses(ctx context.Context, resultID int64) ([]domain.Response, error) {
	return s.scorer.Responses(ctx, resultID)
}

// Attach claims an attempt for owner and returns its live session, creating
// it on first use.
func (s *QuizService) Attach(ctx context.Context, resultID, userID int64, owner string) (*LiveSession, error) {
	attempt, err := s.attempts.Attempt(ctx, resultID)
	if err != nil {
		return nil, domain.Storage("load attempt", err)
	}
	if attempt.UserID != userID {
		return nil, domain.NotFoundf("attempt %d not found for user %d", resultID, userID)
	}
	if attempt.Submitted() {
		return nil, domain.ErrAttemptSubmitted
	}
	if err := s.sessions.Lock(ctx, resultID, owner); err != nil {
		return nil, err
	}

	live := s.sessions.GetOrCreate(resultID, func() *LiveSession {
		telemetry.LiveSessions.Inc()
		return newLiveSessionWithClock(resultID, userID, delivery.NewSession(delivery.Config{
			ResultID:  resultID,
			UserID:    userID,
			QuizID:    attempt.QuizID,
			Catalog:   s.catalog,
			Recorder:  s.recorder,
			Finalizer: s.scorer,
			Progress:  s.attempts,
			Now:       s.now,
		}), s.now)
	})
	live.claim(owner)
	return live, nil
}

// Detach releases owner's claim. Finished sessions are dropped; open ones stay
// for a reconnect until the sweeper evicts them.
func (s *QuizService) Detach(ctx context.Context, live *LiveSession, owner string) {
	live.release(owner)
	s.sessions.Unlock(ctx, live.ResultID(), owner)
	switch live.State() {
	case delivery.StateCompleted, delivery.StateFailed:
		s.drop(live.ResultID())
	}
}

func (s *QuizService) drop(resultID int64) {
	if _, ok := s.sessions.Get(resultID); ok {
		s.sessions.Delete(resultID)
		telemetry.LiveSessions.Dec()
	}
}

// Run ticks every live session once per interval until ctx is done.
func (s *QuizService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick advances the clock of every live session by one second and keeps
// the claims of connected owners from expiring.
func (s *QuizService) Tick(ctx context.Context) {
	for _, live := range s.sessions.List() {
		log := logging.WithContext(ctx).WithFields(logrus.Fields{"resultId": live.ResultID()})
		if _, err := live.tick(ctx); err != nil {
			log.WithError(err).Warn("app: session tick failed")
		}
		if owner, due := live.leaseDue(s.renewal); due {
			if err := s.sessions.Lock(ctx, live.ResultID(), owner); err != nil {
				log.WithError(err).WithField("owner", owner).Warn("app: renew attempt lock failed")
				continue
			}
			live.renewed(owner)
		}
	}
}

// EvictIdle drops live sessions nobody watched for longer than idle. Finished
// sessions without subscribers go right away.
func (s *QuizService) EvictIdle(ctx context.Context, idle time.Duration) int {
	evicted := 0
	for _, live := range s.sessions.List() {
		if !live.IsIdle() {
			continue
		}
		state := live.State()
		done := state == delivery.StateCompleted || state == delivery.StateFailed
		if !done && live.IdleFor() < idle {
			continue
		}
		s.drop(live.ResultID())
		evicted++
	}
	if evicted > 0 {
		logging.WithContext(ctx).WithField("evicted", evicted).Info("app: idle sessions evicted")
	}
	return evicted
}

// FinalizeOverdue closes attempts whose time limit ran out while nobody was
// delivering them.
func (s *QuizService) FinalizeOverdue(ctx context.Context) (int, error) {
	ids, err := s.attempts.OverdueAttempts(ctx, s.now().UTC())
	if err != nil {
		return 0, domain.Storage("list overdue attempts", err)
	}

	closed := 0
	for _, id := range ids {
		if live, ok := s.sessions.Get(id); ok && live.State() == delivery.StateInProgress {
			continue
		}
		log := logging.WithContext(ctx).WithField("resultId", id)
		if err := s.recorder.MarkSubmitted(ctx, id); err != nil {
			if domain.KindOf(err) != domain.KindState {
				log.WithError(err).Warn("app: close overdue attempt failed")
			}
			continue
		}
		telemetry.AttemptsCompleted.WithLabelValues("expired").Inc()
		if _, err := s.scorer.Finalize(ctx, id); err != nil {
			log.WithError(err).Warn("app: score overdue attempt failed")
		}
		closed++
	}
	return closed, nil
}
