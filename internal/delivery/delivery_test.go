package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/telemetry"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeCatalog struct {
	header        domain.QuizHeader
	questions     map[int]domain.Question
	questionCalls int
}

func (c *fakeCatalog) Header(_ context.Context, quizID int64) (domain.QuizHeader, error) {
	if quizID != c.header.QuizID {
		return domain.QuizHeader{}, domain.ErrQuizNotFound
	}
	return c.header, nil
}

func (c *fakeCatalog) QuestionAt(_ context.Context, _ int64, sequenceNum int) (domain.Question, error) {
	c.questionCalls++
	q, ok := c.questions[sequenceNum]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

type fakeStore struct {
	batches    [][]domain.ResponseRecord
	started    map[int64]time.Time
	submitted  map[int64]time.Time
	calls      int
	recordErr  error
	submitErrs []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{started: map[int64]time.Time{}, submitted: map[int64]time.Time{}}
}

func (s *fakeStore) RecordResponses(_ context.Context, records []domain.ResponseRecord) error {
	s.calls++
	if s.recordErr != nil {
		return s.recordErr
	}
	s.batches = append(s.batches, records)
	return nil
}

func (s *fakeStore) MarkStarted(_ context.Context, resultID int64, at time.Time) (time.Time, error) {
	s.calls++
	if t, ok := s.started[resultID]; ok {
		return t, nil
	}
	s.started[resultID] = at
	return at, nil
}

func (s *fakeStore) MarkSubmitted(_ context.Context, resultID int64, at time.Time) error {
	s.calls++
	if len(s.submitErrs) > 0 {
		err := s.submitErrs[0]
		s.submitErrs = s.submitErrs[1:]
		return err
	}
	if _, ok := s.submitted[resultID]; ok {
		return domain.ErrAttemptSubmitted
	}
	s.submitted[resultID] = at
	return nil
}

type fakeFinalizer struct {
	calls int
}

func (f *fakeFinalizer) Finalize(_ context.Context, resultID int64) (domain.ScoreReport, error) {
	f.calls++
	score := 1
	return domain.ScoreReport{Summary: domain.ScoreSummary{Score: &score, NumberOfQuestions: 2}}, nil
}

func intPtr(v int) *int { return &v }

func sampleCatalog() *fakeCatalog {
	return &fakeCatalog{
		header: domain.QuizHeader{QuizID: 7, Name: "Go basics", TimeLimitMinutes: intPtr(1), TotalQuestions: 2},
		questions: map[int]domain.Question{
			1: {
				QuestionID: 100, QuizID: 7, SequenceNum: 1, Text: "Zero value of int?",
				Difficulty: domain.DifficultyEasy, TimeLimitSeconds: intPtr(10),
				Answers: []domain.Answer{
					{AnswerID: 1000, Text: "0", IsCorrect: true},
					{AnswerID: 1001, Text: "nil"},
				},
			},
			2: {
				QuestionID: 200, QuizID: 7, SequenceNum: 2, Text: "Reference types?",
				Difficulty: domain.DifficultyHard,
				Answers: []domain.Answer{
					{AnswerID: 2000, Text: "map", IsCorrect: true},
					{AnswerID: 2001, Text: "slice", IsCorrect: true},
					{AnswerID: 2002, Text: "array"},
				},
			},
		},
	}
}

type harness struct {
	session   *Session
	store     *fakeStore
	catalog   *fakeCatalog
	clock     *fakeClock
	finalizer *fakeFinalizer
}

func newHarness(catalog *fakeCatalog) harness {
	clock := newFakeClock()
	store := newFakeStore()
	fin := &fakeFinalizer{}
	s := NewSession(Config{
		ResultID:  42,
		UserID:    5,
		QuizID:    7,
		Catalog:   catalog,
		Recorder:  NewRecorder(store, nil, clock.Now),
		Finalizer: fin,
		Now:       clock.Now,
	})
	return harness{session: s, store: store, catalog: catalog, clock: clock, finalizer: fin}
}

func TestTimer(t *testing.T) {
	t.Run("fires once when the countdown reaches zero", func(t *testing.T) {
		fired := 0
		timer := NewTimer(func() { fired++ })
		timer.Start(2)

		assert.False(t, timer.Tick())
		assert.True(t, timer.Tick())
		assert.False(t, timer.Tick())
		assert.Equal(t, 1, fired)

		_, active := timer.Remaining()
		assert.False(t, active)
	})

	t.Run("non-positive duration is inert", func(t *testing.T) {
		fired := 0
		timer := NewTimer(func() { fired++ })
		timer.Start(0)
		timer.Tick()
		timer.Start(-3)
		timer.Tick()
		assert.Zero(t, fired)
	})

	t.Run("restart replaces and stop cancels", func(t *testing.T) {
		fired := 0
		timer := NewTimer(func() { fired++ })
		timer.Start(1)
		timer.Start(3)
		timer.Tick()
		secs, active := timer.Remaining()
		assert.Equal(t, 2, secs)
		assert.True(t, active)

		timer.Stop()
		timer.Tick()
		timer.Tick()
		assert.Zero(t, fired)
	})
}

func TestCursor(t *testing.T) {
	catalog := sampleCatalog()
	cursor := NewCursor(catalog, 7, 2)

	q, err := cursor.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), q.QuestionID)
	assert.False(t, cursor.IsLast())

	q, err = cursor.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), q.QuestionID)
	assert.Equal(t, 2, cursor.Position())
	assert.True(t, cursor.IsLast())

	calls := catalog.questionCalls
	_, err = cursor.Advance(context.Background())
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, calls, catalog.questionCalls, "positions past the total must not reach the catalog")
	assert.Equal(t, 2, cursor.Position())
}

func TestCollector(t *testing.T) {
	var c Collector
	c.Select(1, false)
	c.Select(2, false)
	assert.Equal(t, []int64{2}, c.Current())

	c.Select(2, false)
	assert.Len(t, c.Current(), 1)

	c.Clear()
	c.Select(3, true)
	c.Select(1, true)
	c.Select(3, true)
	assert.Equal(t, []int64{1}, c.Current())

	c.Select(4, true)
	assert.Equal(t, []int64{1, 4}, c.Current())

	c.Clear()
	assert.True(t, c.Empty())
}

func TestRecorder_RecordAnswer(t *testing.T) {
	clock := newFakeClock()

	tests := map[string]struct {
		sub     Submission
		arrange func(s *fakeStore)
		assert  func(t *testing.T, s *fakeStore, err error)
	}{
		"negative time is rejected before storage": {
			sub: Submission{ResultID: 1, QuestionID: 2, ResponseTimeSeconds: -1},
			assert: func(t *testing.T, s *fakeStore, err error) {
				assert.Equal(t, domain.KindValidation, domain.KindOf(err))
				assert.Zero(t, s.calls)
			},
		},
		"empty selection records one unanswered timed-out row": {
			sub: Submission{ResultID: 1, QuestionID: 2, ResponseTimeSeconds: 4},
			assert: func(t *testing.T, s *fakeStore, err error) {
				require.NoError(t, err)
				require.Len(t, s.batches, 1)
				require.Len(t, s.batches[0], 1)
				assert.Nil(t, s.batches[0][0].AnswerID)
				assert.True(t, s.batches[0][0].TimedOut)
			},
		},
		"multi-select picks share one timestamp": {
			sub: Submission{ResultID: 1, QuestionID: 2, AnswerIDs: []int64{10, 11}, ResponseTimeSeconds: 3},
			assert: func(t *testing.T, s *fakeStore, err error) {
				require.NoError(t, err)
				require.Len(t, s.batches[0], 2)
				assert.Equal(t, int64(10), *s.batches[0][0].AnswerID)
				assert.Equal(t, int64(11), *s.batches[0][1].AnswerID)
				assert.Equal(t, s.batches[0][0].RespondedAt, s.batches[0][1].RespondedAt)
				assert.False(t, s.batches[0][0].TimedOut)
			},
		},
		"store failures surface as storage errors": {
			sub: Submission{ResultID: 1, QuestionID: 2, AnswerIDs: []int64{10}},
			arrange: func(s *fakeStore) {
				s.recordErr = errors.New("connection reset")
			},
			assert: func(t *testing.T, s *fakeStore, err error) {
				assert.Equal(t, domain.KindStorage, domain.KindOf(err))
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore()
			if tc.arrange != nil {
				tc.arrange(store)
			}
			r := NewRecorder(store, nil, clock.Now)
			err := r.RecordAnswer(context.Background(), tc.sub)
			tc.assert(t, store, err)
		})
	}
}

func TestRecorder_CountsOutcomeByErrorKind(t *testing.T) {
	clock := newFakeClock()

	tests := map[string]struct {
		sub       Submission
		recordErr error
		outcome   string
	}{
		"stored": {
			sub:     Submission{ResultID: 1, QuestionID: 2, AnswerIDs: []int64{10}},
			outcome: "ok",
		},
		"negative time": {
			sub:     Submission{ResultID: 1, QuestionID: 2, ResponseTimeSeconds: -3},
			outcome: "validation",
		},
		"foreign answer": {
			sub:       Submission{ResultID: 1, QuestionID: 2, AnswerIDs: []int64{99}},
			recordErr: domain.ErrAnswerNotFound,
			outcome:   "validation",
		},
		"unknown attempt": {
			sub:       Submission{ResultID: 5, QuestionID: 2, AnswerIDs: []int64{10}},
			recordErr: domain.ErrAttemptNotFound,
			outcome:   "not_found",
		},
		"closed attempt": {
			sub:       Submission{ResultID: 1, QuestionID: 2, AnswerIDs: []int64{10}},
			recordErr: domain.ErrAttemptSubmitted,
			outcome:   "state",
		},
		"driver failure": {
			sub:       Submission{ResultID: 1, QuestionID: 2, AnswerIDs: []int64{10}},
			recordErr: errors.New("connection reset"),
			outcome:   "storage",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore()
			store.recordErr = tc.recordErr
			counter := telemetry.ResponsesRecorded.WithLabelValues(tc.outcome)
			before := testutil.ToFloat64(counter)

			_ = NewRecorder(store, nil, clock.Now).RecordAnswer(context.Background(), tc.sub)

			assert.Equal(t, before+1, testutil.ToFloat64(counter))
		})
	}
}

func TestRecorder_MarkStartedKeepsFirstTime(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore()
	r := NewRecorder(store, nil, clock.Now)

	first, err := r.MarkStarted(context.Background(), 9)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := r.MarkStarted(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSession_OperationsBeforeStart(t *testing.T) {
	h := newHarness(sampleCatalog())
	ctx := context.Background()

	assert.Equal(t, domain.KindState, domain.KindOf(h.session.Advance(ctx, true)))
	assert.Equal(t, domain.KindState, domain.KindOf(h.session.Submit(ctx)))
	assert.Equal(t, domain.KindState, domain.KindOf(h.session.Select(ctx, 1000)))
	fired, err := h.session.Tick(ctx)
	assert.NoError(t, err)
	assert.False(t, fired)
	assert.Zero(t, h.store.calls)
}

func TestSession_Start(t *testing.T) {
	h := newHarness(sampleCatalog())
	ctx := context.Background()

	require.NoError(t, h.session.Start(ctx))
	v := h.session.View()
	assert.Equal(t, "in_progress", v.State)
	assert.Equal(t, 1, v.Position)
	require.NotNil(t, v.Question)
	assert.Equal(t, int64(100), v.Question.QuestionID)
	assert.False(t, v.Question.MultiSelect)
	require.NotNil(t, v.OverallRemaining)
	assert.Equal(t, 60, *v.OverallRemaining)
	require.NotNil(t, v.QuestionRemaining)
	assert.Equal(t, 10, *v.QuestionRemaining)
	assert.Contains(t, h.store.started, int64(42))

	assert.Equal(t, domain.KindState, domain.KindOf(h.session.Start(ctx)))
}

func TestSession_StartRejectsEmptyQuiz(t *testing.T) {
	catalog := sampleCatalog()
	catalog.header.TotalQuestions = 0
	h := newHarness(catalog)

	err := h.session.Start(context.Background())
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, StateNotStarted, h.session.State())
}

func TestSession_ManualAdvanceNeedsConfirmation(t *testing.T) {
	h := newHarness(sampleCatalog())
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))

	err := h.session.Advance(ctx, false)
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Equal(t, 1, h.session.View().Position)

	require.NoError(t, h.session.Advance(ctx, true))
	assert.Equal(t, 2, h.session.View().Position)
	assert.Empty(t, h.store.batches, "a confirmed skip records nothing")
}

func TestSession_AnswerAndAdvance(t *testing.T) {
	h := newHarness(sampleCatalog())
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))

	assert.ErrorIs(t, h.session.Select(ctx, 2000), domain.ErrAnswerNotFound)
	require.NoError(t, h.session.Select(ctx, 1001))
	require.NoError(t, h.session.Select(ctx, 1000))
	assert.Equal(t, []int64{1000}, h.session.View().Selected)

	h.clock.Advance(3400 * time.Millisecond)
	require.NoError(t, h.session.Advance(ctx, false))

	require.Len(t, h.store.batches, 1)
	rec := h.store.batches[0][0]
	assert.Equal(t, int64(100), rec.QuestionID)
	assert.Equal(t, int64(1000), *rec.AnswerID)
	assert.Equal(t, 3, rec.ResponseTimeSeconds)
	assert.False(t, rec.TimedOut)

	v := h.session.View()
	assert.Equal(t, 2, v.Position)
	assert.True(t, v.Question.MultiSelect)
	assert.Empty(t, v.Selected)
	assert.Nil(t, v.QuestionRemaining, "question 2 has no limit")

	require.NoError(t, h.session.Select(ctx, 2001))
	require.NoError(t, h.session.Select(ctx, 2000))
	require.NoError(t, h.session.Advance(ctx, false))

	assert.Equal(t, StateCompleted, h.session.State())
	require.Len(t, h.store.batches, 2)
	assert.Len(t, h.store.batches[1], 2)
	assert.Contains(t, h.store.submitted, int64(42))
	assert.Equal(t, 1, h.finalizer.calls)
	assert.NotNil(t, h.session.View().Summary)
}

func TestSession_QuestionTimerExpiry(t *testing.T) {
	h := newHarness(sampleCatalog())
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))

	for i := 0; i < 9; i++ {
		fired, err := h.session.Tick(ctx)
		require.NoError(t, err)
		require.False(t, fired)
	}
	fired, err := h.session.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, fired)

	require.Len(t, h.store.batches, 1)
	assert.Nil(t, h.store.batches[0][0].AnswerID)
	assert.True(t, h.store.batches[0][0].TimedOut)
	assert.Equal(t, 2, h.session.View().Position)
}

func TestSession_QuestionTimerKeepsSelection(t *testing.T) {
	h := newHarness(sampleCatalog())
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Select(ctx, 1001))

	for i := 0; i < 10; i++ {
		_, err := h.session.Tick(ctx)
		require.NoError(t, err)
	}

	require.Len(t, h.store.batches, 1)
	assert.Equal(t, int64(1001), *h.store.batches[0][0].AnswerID)
	assert.True(t, h.store.batches[0][0].TimedOut)
}

func TestSession_OverallTimerExpiry(t *testing.T) {
	catalog := sampleCatalog()
	catalog.header.TimeLimitMinutes = intPtr(1)
	q1 := catalog.questions[1]
	q1.TimeLimitSeconds = nil
	catalog.questions[1] = q1
	h := newHarness(catalog)
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))

	for i := 0; i < 60; i++ {
		_, err := h.session.Tick(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, StateCompleted, h.session.State())
	require.Len(t, h.store.batches, 1)
	assert.True(t, h.store.batches[0][0].TimedOut)
	assert.Nil(t, h.store.batches[0][0].AnswerID)
	assert.Equal(t, 1, h.finalizer.calls)
}

func TestSession_SubmitWithEmptySelectionRecordsNothing(t *testing.T) {
	h := newHarness(sampleCatalog())
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))

	require.NoError(t, h.session.Exit(ctx))
	assert.Equal(t, StateCompleted, h.session.State())
	assert.Empty(t, h.store.batches)
	assert.ErrorIs(t, h.session.Submit(ctx), domain.ErrAttemptSubmitted)
}

func TestSession_SubmitRetriesAfterStorageFailure(t *testing.T) {
	h := newHarness(sampleCatalog())
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))
	require.NoError(t, h.session.Select(ctx, 1000))

	h.store.submitErrs = []error{errors.New("db down")}
	err := h.session.Submit(ctx)
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
	assert.Equal(t, StateInProgress, h.session.State())
	assert.Zero(t, h.finalizer.calls)

	fired, err := h.session.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, StateCompleted, h.session.State())
	assert.Len(t, h.store.batches, 1, "the answer is recorded once")
}

func TestSession_MissingNextQuestionFails(t *testing.T) {
	catalog := sampleCatalog()
	delete(catalog.questions, 2)
	h := newHarness(catalog)
	ctx := context.Background()
	require.NoError(t, h.session.Start(ctx))

	err := h.session.Advance(ctx, true)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, StateFailed, h.session.State())
	assert.Contains(t, h.store.submitted, int64(42))
	assert.Equal(t, 1, h.finalizer.calls)

	fired, err := h.session.Tick(ctx)
	assert.NoError(t, err)
	assert.False(t, fired)
}

func TestSession_FullRunVisitsEveryPositionOnce(t *testing.T) {
	const n = 5
	catalog := &fakeCatalog{
		header:    domain.QuizHeader{QuizID: 7, Name: "Sequence", TotalQuestions: n},
		questions: map[int]domain.Question{},
	}
	for i := 1; i <= n; i++ {
		catalog.questions[i] = domain.Question{
			QuestionID: int64(i * 10), QuizID: 7, SequenceNum: i,
			Answers: []domain.Answer{{AnswerID: int64(i*10 + 1), IsCorrect: true}},
		}
	}
	h := newHarness(catalog)
	ctx := context.Background()

	require.NoError(t, h.session.Start(ctx))
	visited := []int{h.session.View().Position}
	for i := 0; i < n-1; i++ {
		require.NoError(t, h.session.Advance(ctx, true))
		visited = append(visited, h.session.View().Position)
	}
	require.NoError(t, h.session.Submit(ctx))

	assert.Equal(t, []int{1, 2, 3, 4, 5}, visited)
	assert.Equal(t, StateCompleted, h.session.State())
	assert.Equal(t, n, catalog.questionCalls)
}

type fakeProgress struct {
	responses []domain.Response
	err       error
}

func (p *fakeProgress) ResponsesFor(_ context.Context, _ int64) ([]domain.Response, error) {
	return p.responses, p.err
}

func TestSession_StartResumesAfterRecordedPositions(t *testing.T) {
	tests := map[string]struct {
		progress *fakeProgress
		assert   func(t *testing.T, s *Session, err error)
	}{
		"nothing recorded starts at the first question": {
			progress: &fakeProgress{},
			assert: func(t *testing.T, s *Session, err error) {
				require.NoError(t, err)
				assert.Equal(t, 1, s.View().Position)
			},
		},
		"answered first question resumes at the second": {
			progress: &fakeProgress{responses: []domain.Response{{QuestionID: 100, SequenceNum: 1}}},
			assert: func(t *testing.T, s *Session, err error) {
				require.NoError(t, err)
				v := s.View()
				assert.Equal(t, 2, v.Position)
				require.NotNil(t, v.Question)
				assert.Equal(t, int64(200), v.Question.QuestionID)
				assert.True(t, v.IsLast)
			},
		},
		"every question answered completes": {
			progress: &fakeProgress{responses: []domain.Response{
				{QuestionID: 100, SequenceNum: 1},
				{QuestionID: 200, SequenceNum: 2},
			}},
			assert: func(t *testing.T, s *Session, err error) {
				require.NoError(t, err)
				assert.Equal(t, StateCompleted, s.State())
			},
		},
		"progress failure is a storage error": {
			progress: &fakeProgress{err: errors.New("connection reset")},
			assert: func(t *testing.T, s *Session, err error) {
				assert.Equal(t, domain.KindStorage, domain.KindOf(err))
				assert.Equal(t, StateNotStarted, s.State())
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			store := newFakeStore()
			s := NewSession(Config{
				ResultID:  42,
				UserID:    5,
				QuizID:    7,
				Catalog:   sampleCatalog(),
				Recorder:  NewRecorder(store, nil, clock.Now),
				Finalizer: &fakeFinalizer{},
				Progress:  tc.progress,
				Now:       clock.Now,
			})
			tc.assert(t, s, s.Start(context.Background()))
		})
	}
}
