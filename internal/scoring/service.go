package scoring

import (
	"context"

	"github.com/sirupsen/logrus"

	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/event"
	"quiz-delivery-service/internal/logging"
)

// Store reads what scoring needs and keeps the final score.
type Store interface {
	Attempt(ctx context.Context, resultID int64) (domain.Attempt, error)
	ResponsesFor(ctx context.Context, resultID int64) ([]domain.Response, error)
	SaveScore(ctx context.Context, resultID int64, score int) error
}

type Config struct {
	Store Store
	// EventBus is optional.
	EventBus event.Publisher
}

type Service struct {
	store Store
	eb    event.Publisher
}

func NewService(c Config) *Service {
	return &Service{store: c.Store, eb: c.EventBus}
}

// Score computes the report of an attempt from its persisted responses.
func (s *Service) Score(ctx context.Context, resultID int64, weighted bool) (domain.ScoreReport, error) {
	attempt, err := s.store.Attempt(ctx, resultID)
	if err != nil {
		return domain.ScoreReport{}, domain.Storage("load attempt", err)
	}
	responses, err := s.store.ResponsesFor(ctx, resultID)
	if err != nil {
		return domain.ScoreReport{}, domain.Storage("load responses", err)
	}

	report := Compute(responses, weighted)
	switch {
	case attempt.EndedAt != nil:
		report.Summary.TakenAt = attempt.EndedAt
	case attempt.StartedAt != nil:
		report.Summary.TakenAt = attempt.StartedAt
	}
	return report, nil
}

// Finalize scores a submitted attempt without weighting and stores the score.
func (s *Service) Finalize(ctx context.Context, resultID int64) (domain.ScoreReport, error) {
	report, err := s.Score(ctx, resultID, false)
	if err != nil {
		return domain.ScoreReport{}, err
	}
	if err := s.store.SaveScore(ctx, resultID, *report.Summary.Score); err != nil {
		return domain.ScoreReport{}, domain.Storage("save score", err)
	}

	logging.WithContext(ctx).WithFields(logrus.Fields{
		"resultId": resultID,
		"score":    *report.Summary.Score,
		"of":       report.Summary.NumberOfQuestions,
	}).Info("scoring: attempt finalized")

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventAttemptScored{ResultID: resultID, Summary: report.Summary})
	}
	return report, nil
}

// Responses returns the newest recorded answers of an attempt per question.
func (s *Service) Responses(ctx context.Context, resultID int64) ([]domain.Response, error) {
	if _, err := s.store.Attempt(ctx, resultID); err != nil {
		return nil, domain.Storage("load attempt", err)
	}
	responses, err := s.store.ResponsesFor(ctx, resultID)
	if err != nil {
		return nil, domain.Storage("load responses", err)
	}
	return History(responses), nil
}
