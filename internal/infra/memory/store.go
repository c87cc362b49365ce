package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/fixtures"
)

// Store keeps quizzes, attempts and responses in process memory. It backs the
// service when no database is configured, and tests.
type Store struct {
	mu         sync.RWMutex
	users      map[int64]struct{}
	quizzes    map[int64]*quiz
	questions  map[int64]*domain.Question
	attempts   map[int64]*domain.Attempt
	responses  map[int64][]domain.Response
	nextResult int64
	nextResp   int64
}

type quiz struct {
	header    domain.QuizHeader
	createdBy *int64
	// ranked holds question ids in delivery order.
	ranked []int64
}

func NewStore() *Store {
	return &Store{
		users:     make(map[int64]struct{}),
		quizzes:   make(map[int64]*quiz),
		questions: make(map[int64]*domain.Question),
		attempts:  make(map[int64]*domain.Attempt),
		responses: make(map[int64][]domain.Response),
	}
}

// Load adds fixture content. Existing ids are overwritten.
func (s *Store) Load(f fixtures.File) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range f.Users {
		s.users[u.ID] = struct{}{}
	}

	var seq int64
	for _, fq := range f.Quizzes {
		qz := &quiz{
			header: domain.QuizHeader{
				QuizID:           fq.ID,
				Name:             fq.Title,
				Description:      fq.Description,
				TimeLimitMinutes: fq.TimeLimitMinutes,
				TotalQuestions:   len(fq.Questions),
			},
			createdBy: fq.CreatedBy,
		}
		for _, fqu := range fq.Questions {
			seq++
			q := &domain.Question{
				QuestionID:       fqu.ID,
				QuizID:           fq.ID,
				SequenceID:       seq,
				Text:             fqu.Text,
				Difficulty:       domain.Difficulty(fqu.Difficulty),
				TimeLimitSeconds: fqu.TimeLimitSeconds,
			}
			if fqu.SequenceNum != nil {
				q.SequenceNum = *fqu.SequenceNum
			}
			for _, a := range fqu.Answers {
				q.Answers = append(q.Answers, domain.Answer{AnswerID: a.ID, Text: a.Text, IsCorrect: a.Correct})
			}
			s.questions[q.QuestionID] = q
			qz.ranked = append(qz.ranked, q.QuestionID)
		}
		s.rank(qz)
		s.quizzes[fq.ID] = qz
	}

	for _, a := range f.Assignments {
		s.attempts[a.ResultID] = &domain.Attempt{
			ResultID:   a.ResultID,
			UserID:     a.UserID,
			QuizID:     a.QuizID,
			AssignedAt: time.Now().UTC(),
		}
		if a.ResultID > s.nextResult {
			s.nextResult = a.ResultID
		}
	}
}

// rank orders by sequence number with unnumbered questions last, then by
// sequence id.
func (s *Store) rank(qz *quiz) {
	sort.SliceStable(qz.ranked, func(i, j int) bool {
		a, b := s.questions[qz.ranked[i]], s.questions[qz.ranked[j]]
		switch {
		case a.SequenceNum == 0 && b.SequenceNum != 0:
			return false
		case a.SequenceNum != 0 && b.SequenceNum == 0:
			return true
		case a.SequenceNum != b.SequenceNum:
			return a.SequenceNum < b.SequenceNum
		default:
			return a.SequenceID < b.SequenceID
		}
	})
}

func (s *Store) Header(_ context.Context, quizID int64) (domain.QuizHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qz, ok := s.quizzes[quizID]
	if !ok {
		return domain.QuizHeader{}, domain.ErrQuizNotFound
	}
	return qz.header, nil
}

func (s *Store) QuestionAt(_ context.Context, quizID int64, sequenceNum int) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Question{}, domain.ErrQuizNotFound
	}
	if sequenceNum < 1 || sequenceNum > len(qz.ranked) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	q := *s.questions[qz.ranked[sequenceNum-1]]
	q.Answers = append([]domain.Answer(nil), q.Answers...)
	return q, nil
}

func (s *Store) SearchHeaders(_ context.Context, f domain.HeaderFilter) ([]domain.QuizHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name := strings.ToLower(f.Name)
	desc := strings.ToLower(f.Description)
	matched := make([]domain.QuizHeader, 0)
	for _, qz := range s.quizzes {
		if name != "" && !strings.Contains(strings.ToLower(qz.header.Name), name) {
			continue
		}
		if desc != "" && !strings.Contains(strings.ToLower(qz.header.Description), desc) {
			continue
		}
		matched = append(matched, qz.header)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].QuizID < matched[j].QuizID })

	from := f.Offset()
	if from >= len(matched) {
		return []domain.QuizHeader{}, nil
	}
	to := from + f.PageSize
	if to > len(matched) {
		to = len(matched)
	}
	return matched[from:to], nil
}

func (s *Store) Assign(_ context.Context, userID, quizID int64, at time.Time) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return domain.Attempt{}, domain.NotFoundf("user %d not found", userID)
	}
	if _, ok := s.quizzes[quizID]; !ok {
		return domain.Attempt{}, domain.ErrQuizNotFound
	}
	s.nextResult++
	a := &domain.Attempt{ResultID: s.nextResult, UserID: userID, QuizID: quizID, AssignedAt: at}
	s.attempts[a.ResultID] = a
	return *a, nil
}

func (s *Store) Attempt(_ context.Context, resultID int64) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[resultID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return *a, nil
}

func (s *Store) AttemptsForUser(_ context.Context, userID int64) ([]domain.AttemptHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AttemptHeader, 0)
	for _, a := range s.attempts {
		if a.UserID != userID {
			continue
		}
		h := domain.AttemptHeader{Attempt: *a}
		if qz, ok := s.quizzes[a.QuizID]; ok {
			h.Title = qz.header.Name
			h.Description = qz.header.Description
			h.CreatedBy = qz.createdBy
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.After(out[j].AssignedAt)
		}
		return out[i].ResultID > out[j].ResultID
	})
	return out, nil
}

func (s *Store) MarkStarted(_ context.Context, resultID int64, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[resultID]
	if !ok {
		return time.Time{}, domain.ErrAttemptNotFound
	}
	if a.Submitted() {
		return time.Time{}, domain.ErrAttemptSubmitted
	}
	if a.StartedAt == nil {
		a.StartedAt = &at
	}
	return *a.StartedAt, nil
}

func (s *Store) MarkSubmitted(_ context.Context, resultID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[resultID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if a.Submitted() {
		return domain.ErrAttemptSubmitted
	}
	a.EndedAt = &at
	return nil
}

func (s *Store) SaveScore(_ context.Context, resultID int64, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[resultID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	a.Score = &score
	return nil
}

func (s *Store) OverdueAttempts(_ context.Context, now time.Time) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0)
	for _, a := range s.attempts {
		if a.StartedAt == nil || a.Submitted() {
			continue
		}
		qz, ok := s.quizzes[a.QuizID]
		if !ok {
			continue
		}
		limit := qz.header.TimeLimitSeconds()
		if limit <= 0 {
			continue
		}
		if !a.StartedAt.Add(time.Duration(limit) * time.Second).After(now) {
			ids = append(ids, a.ResultID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// RecordResponses appends a batch after checking the attempt is open and every
// answer belongs to the question. Nothing is written when a check fails.
func (s *Store) RecordResponses(_ context.Context, records []domain.ResponseRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	first := records[0]
	a, ok := s.attempts[first.ResultID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if a.Submitted() {
		return domain.ErrAttemptSubmitted
	}
	for _, rec := range records {
		if rec.UserID != a.UserID {
			return domain.ErrAttemptOwner
		}
	}
	q, ok := s.questions[first.QuestionID]
	if !ok || q.QuizID != a.QuizID {
		return domain.ErrQuestionNotFound
	}

	batch := make([]domain.Response, 0, len(records))
	for _, rec := range records {
		r := domain.Response{
			ResultID:         rec.ResultID,
			QuestionID:       rec.QuestionID,
			QuestionText:     q.Text,
			TimeTakenSeconds: rec.ResponseTimeSeconds,
			TimedOut:         rec.TimedOut,
			RespondedAt:      rec.RespondedAt,
		}
		if rec.AnswerID != nil {
			ans, found := findAnswer(q, *rec.AnswerID)
			if !found {
				return domain.ErrAnswerNotFound
			}
			id, text, correct := ans.AnswerID, ans.Text, ans.IsCorrect
			r.AnswerID, r.AnswerText, r.IsCorrect = &id, &text, &correct
		}
		batch = append(batch, r)
	}
	for i := range batch {
		s.nextResp++
		batch[i].ResponseID = s.nextResp
	}
	s.responses[first.ResultID] = append(s.responses[first.ResultID], batch...)
	return nil
}

// ResponsesFor returns every recorded row of an attempt, joined with the
// question's current difficulty, position and correct option count.
func (s *Store) ResponsesFor(_ context.Context, resultID int64) ([]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[resultID]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	positions := map[int64]int{}
	if qz, ok := s.quizzes[a.QuizID]; ok {
		for i, id := range qz.ranked {
			positions[id] = i + 1
		}
	}

	rows := s.responses[resultID]
	out := make([]domain.Response, 0, len(rows))
	for _, r := range rows {
		if q, ok := s.questions[r.QuestionID]; ok {
			r.Difficulty = q.Difficulty
			r.LevelName = q.Difficulty.String()
			r.CorrectOptions = q.CorrectCount()
		}
		r.SequenceNum = positions[r.QuestionID]
		out = append(out, r)
	}
	return out, nil
}

func findAnswer(q *domain.Question, answerID int64) (domain.Answer, bool) {
	for _, a := range q.Answers {
		if a.AnswerID == answerID {
			return a, true
		}
	}
	return domain.Answer{}, false
}
