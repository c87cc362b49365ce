package scoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/scoring"
)

var base = time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

func answered(id, questionID, answerID int64, correct bool, seq int, diff domain.Difficulty, at time.Duration) domain.Response {
	return domain.Response{
		ResponseID:     id,
		QuestionID:     questionID,
		QuestionText:   "question",
		AnswerID:       &answerID,
		IsCorrect:      &correct,
		Difficulty:     diff,
		SequenceNum:    seq,
		CorrectOptions: 1,
		RespondedAt:    base.Add(at),
	}
}

func TestCompute(t *testing.T) {
	tests := map[string]struct {
		arrange func() ([]domain.Response, bool)
		assert  func(t *testing.T, r domain.ScoreReport)
	}{
		"unweighted counts correct questions": {
			arrange: func() ([]domain.Response, bool) {
				return []domain.Response{
					answered(1, 10, 100, true, 1, domain.DifficultyEasy, 0),
					answered(2, 20, 200, false, 2, domain.DifficultyEasy, time.Second),
					answered(3, 30, 300, true, 3, domain.DifficultyEasy, 2*time.Second),
				}, false
			},
			assert: func(t *testing.T, r domain.ScoreReport) {
				require.NotNil(t, r.Summary.Score)
				assert.Equal(t, 2, *r.Summary.Score)
				assert.Equal(t, 3, r.Summary.NumberOfQuestions)
				assert.Equal(t, 2, r.Summary.NumberOfCorrectAnswers)
			},
		},
		"weighted uses difficulty ordinals": {
			arrange: func() ([]domain.Response, bool) {
				return []domain.Response{
					answered(1, 10, 100, true, 1, domain.DifficultyEasy, 0),
					answered(2, 20, 200, false, 2, domain.DifficultyHard, time.Second),
				}, true
			},
			assert: func(t *testing.T, r domain.ScoreReport) {
				assert.Equal(t, 1, r.Summary.EarnedWeight)
				assert.Equal(t, 4, r.Summary.TotalWeight)
				require.NotNil(t, r.Summary.Score)
				assert.Equal(t, 25, *r.Summary.Score)
			},
		},
		"weighted percentage rounds half away from zero": {
			arrange: func() ([]domain.Response, bool) {
				return []domain.Response{
					answered(1, 10, 100, true, 1, domain.DifficultyEasy, 0),
					answered(2, 20, 200, false, 2, domain.DifficultyEasy, 0),
					answered(3, 30, 300, false, 3, domain.DifficultyEasy, 0),
					answered(4, 40, 400, false, 4, domain.DifficultyEasy, 0),
					answered(5, 50, 500, false, 5, domain.DifficultyEasy, 0),
					answered(6, 60, 600, false, 6, domain.DifficultyEasy, 0),
					answered(7, 70, 700, false, 7, domain.DifficultyEasy, 0),
					answered(8, 80, 800, false, 8, domain.DifficultyEasy, 0),
				}, true
			},
			assert: func(t *testing.T, r domain.ScoreReport) {
				require.NotNil(t, r.Summary.Score)
				assert.Equal(t, 13, *r.Summary.Score, "12.5 rounds up")
			},
		},
		"weighted without weight is unscored": {
			arrange: func() ([]domain.Response, bool) {
				return []domain.Response{
					answered(1, 10, 100, true, 1, domain.DifficultyUnknown, 0),
				}, true
			},
			assert: func(t *testing.T, r domain.ScoreReport) {
				assert.Nil(t, r.Summary.Score)
				assert.Equal(t, 1, r.Summary.NumberOfCorrectAnswers)
			},
		},
		"latest batch per question wins": {
			arrange: func() ([]domain.Response, bool) {
				return []domain.Response{
					answered(1, 10, 100, true, 1, domain.DifficultyEasy, 0),
					answered(2, 10, 101, false, 1, domain.DifficultyEasy, time.Second),
				}, false
			},
			assert: func(t *testing.T, r domain.ScoreReport) {
				assert.Equal(t, 0, *r.Summary.Score)
				assert.Equal(t, 1, r.Summary.NumberOfQuestions)
			},
		},
		"unanswered rows are incorrect": {
			arrange: func() ([]domain.Response, bool) {
				return []domain.Response{{
					ResponseID: 1, QuestionID: 10, SequenceNum: 1, TimedOut: true,
					Difficulty: domain.DifficultyMedium, RespondedAt: base,
				}}, true
			},
			assert: func(t *testing.T, r domain.ScoreReport) {
				assert.Equal(t, 0, *r.Summary.Score)
				assert.Equal(t, 2, r.Summary.TotalWeight)
				assert.False(t, r.Details[0].IsCorrect)
			},
		},
		"multi-select needs every correct option": {
			arrange: func() ([]domain.Response, bool) {
				partial := answered(1, 10, 100, true, 1, domain.DifficultyEasy, 0)
				partial.CorrectOptions = 2
				full1 := answered(2, 20, 200, true, 2, domain.DifficultyEasy, 0)
				full1.CorrectOptions = 2
				full2 := answered(3, 20, 201, true, 2, domain.DifficultyEasy, 0)
				full2.CorrectOptions = 2
				return []domain.Response{partial, full1, full2}, false
			},
			assert: func(t *testing.T, r domain.ScoreReport) {
				require.Len(t, r.Details, 2)
				assert.False(t, r.Details[0].IsCorrect)
				assert.True(t, r.Details[1].IsCorrect)
			},
		},
		"details follow sequence order": {
			arrange: func() ([]domain.Response, bool) {
				return []domain.Response{
					answered(1, 30, 300, true, 3, domain.DifficultyEasy, 0),
					answered(2, 10, 100, true, 1, domain.DifficultyEasy, time.Second),
					answered(3, 40, 400, true, 0, domain.DifficultyEasy, 2*time.Second),
					answered(4, 20, 200, true, 2, domain.DifficultyEasy, 3*time.Second),
				}, false
			},
			assert: func(t *testing.T, r domain.ScoreReport) {
				ids := make([]int64, 0, len(r.Details))
				for _, d := range r.Details {
					ids = append(ids, d.QuestionID)
				}
				assert.Equal(t, []int64{10, 20, 30, 40}, ids)
			},
		},
		"no responses yields zero counts": {
			arrange: func() ([]domain.Response, bool) {
				return nil, false
			},
			assert: func(t *testing.T, r domain.ScoreReport) {
				assert.Equal(t, 0, *r.Summary.Score)
				assert.Zero(t, r.Summary.NumberOfQuestions)
				assert.Empty(t, r.Details)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			responses, weighted := tc.arrange()
			tc.assert(t, scoring.Compute(responses, weighted))
		})
	}
}

func TestHistoryKeepsLatestBatch(t *testing.T) {
	first := answered(1, 10, 100, true, 1, domain.DifficultyEasy, 0)
	second := answered(2, 10, 101, false, 1, domain.DifficultyEasy, time.Second)
	second.TimeTakenSeconds = 7

	history := scoring.History([]domain.Response{second, first})
	require.Len(t, history, 1)
	assert.Equal(t, int64(2), history[0].ResponseID)
	assert.Equal(t, 7, history[0].TimeTakenSeconds)
}

type stubStore struct {
	attempts  map[int64]domain.Attempt
	responses map[int64][]domain.Response
	saved     map[int64]int
}

func (s *stubStore) Attempt(_ context.Context, resultID int64) (domain.Attempt, error) {
	a, ok := s.attempts[resultID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return a, nil
}

func (s *stubStore) ResponsesFor(_ context.Context, resultID int64) ([]domain.Response, error) {
	return s.responses[resultID], nil
}

func (s *stubStore) SaveScore(_ context.Context, resultID int64, score int) error {
	s.saved[resultID] = score
	return nil
}

func TestService(t *testing.T) {
	ended := base.Add(time.Minute)
	store := &stubStore{
		attempts: map[int64]domain.Attempt{1: {ResultID: 1, EndedAt: &ended}},
		responses: map[int64][]domain.Response{1: {
			answered(1, 10, 100, true, 1, domain.DifficultyEasy, 0),
			answered(2, 20, 200, true, 2, domain.DifficultyHard, 0),
		}},
		saved: map[int64]int{},
	}
	svc := scoring.NewService(scoring.Config{Store: store})
	ctx := context.Background()

	_, err := svc.Score(ctx, 99, false)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	report, err := svc.Score(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 100, *report.Summary.Score)
	assert.Equal(t, &ended, report.Summary.TakenAt)

	report, err = svc.Finalize(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, *report.Summary.Score)
	assert.Equal(t, 2, store.saved[1])

	history, err := svc.Responses(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
