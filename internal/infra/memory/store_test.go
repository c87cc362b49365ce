package memory

import (
	"context"
	"testing"
	"time"

	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/fixtures"
)

func intPtr(v int) *int { return &v }

func sampleFixture() fixtures.File {
	return fixtures.File{
		Users: []fixtures.User{{ID: 1, Username: "ada"}},
		Quizzes: []fixtures.Quiz{{
			ID:               10,
			Title:            "Go basics",
			Description:      "Warm-up questions",
			TimeLimitMinutes: intPtr(1),
			Questions: []fixtures.Question{
				{
					ID: 102, Text: "Unsequenced", Difficulty: 2,
					Answers: []fixtures.Answer{{ID: 1020, Text: "yes", Correct: true}},
				},
				{
					ID: 101, Text: "Second", Difficulty: 3, SequenceNum: intPtr(5),
					Answers: []fixtures.Answer{
						{ID: 1010, Text: "map", Correct: true},
						{ID: 1011, Text: "slice", Correct: true},
						{ID: 1012, Text: "array"},
					},
				},
				{
					ID: 100, Text: "First", Difficulty: 1, SequenceNum: intPtr(1),
					Answers: []fixtures.Answer{
						{ID: 1000, Text: "0", Correct: true},
						{ID: 1001, Text: "nil"},
					},
				},
			},
		}},
		Assignments: []fixtures.Assignment{{ResultID: 7, UserID: 1, QuizID: 10}},
	}
}

func newLoadedStore() *Store {
	s := NewStore()
	s.Load(sampleFixture())
	return s
}

func TestStoreSequenceRanking(t *testing.T) {
	ctx := context.Background()
	store := newLoadedStore()

	header, err := store.Header(ctx, 10)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if header.TotalQuestions != 3 {
		t.Fatalf("expected 3 questions, got %d", header.TotalQuestions)
	}

	want := []int64{100, 101, 102}
	for i, id := range want {
		q, err := store.QuestionAt(ctx, 10, i+1)
		if err != nil {
			t.Fatalf("question %d: %v", i+1, err)
		}
		if q.QuestionID != id {
			t.Fatalf("position %d: expected question %d, got %d", i+1, id, q.QuestionID)
		}
	}

	if _, err := store.QuestionAt(ctx, 10, 4); err != domain.ErrQuestionNotFound {
		t.Fatalf("expected not found past the end, got %v", err)
	}
	if _, err := store.Header(ctx, 99); err != domain.ErrQuizNotFound {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestStoreAttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newLoadedStore()
	t0 := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)

	started, err := store.MarkStarted(ctx, 7, t0)
	if err != nil || !started.Equal(t0) {
		t.Fatalf("mark started: %v %v", started, err)
	}
	again, _ := store.MarkStarted(ctx, 7, t0.Add(time.Minute))
	if !again.Equal(t0) {
		t.Fatalf("start time must not be overwritten, got %v", again)
	}

	if ids, _ := store.OverdueAttempts(ctx, t0.Add(30*time.Second)); len(ids) != 0 {
		t.Fatalf("attempt is not overdue yet: %v", ids)
	}
	if ids, _ := store.OverdueAttempts(ctx, t0.Add(time.Minute)); len(ids) != 1 || ids[0] != 7 {
		t.Fatalf("expected attempt 7 overdue, got %v", ids)
	}

	if err := store.MarkSubmitted(ctx, 7, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("mark submitted: %v", err)
	}
	if err := store.MarkSubmitted(ctx, 7, t0.Add(3*time.Minute)); err != domain.ErrAttemptSubmitted {
		t.Fatalf("expected state error on second submit, got %v", err)
	}
	if _, err := store.MarkStarted(ctx, 7, t0); err != domain.ErrAttemptSubmitted {
		t.Fatalf("expected state error starting a submitted attempt, got %v", err)
	}
	if _, err := store.MarkStarted(ctx, 404, t0); err != domain.ErrAttemptNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreRecordResponses(t *testing.T) {
	ctx := context.Background()
	store := newLoadedStore()
	at := time.Date(2024, 11, 22, 9, 0, 5, 0, time.UTC)

	wrong := int64(1001)
	err := store.RecordResponses(ctx, []domain.ResponseRecord{{
		ResultID: 7, UserID: 1, QuestionID: 100, AnswerID: &wrong, ResponseTimeSeconds: 4, RespondedAt: at,
	}})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	foreign := int64(1010)
	err = store.RecordResponses(ctx, []domain.ResponseRecord{{
		ResultID: 7, UserID: 1, QuestionID: 100, AnswerID: &foreign, RespondedAt: at,
	}})
	if err != domain.ErrAnswerNotFound {
		t.Fatalf("expected answer validation error, got %v", err)
	}

	err = store.RecordResponses(ctx, []domain.ResponseRecord{{
		ResultID: 7, UserID: 1, QuestionID: 101, ResponseTimeSeconds: 9, TimedOut: true, RespondedAt: at,
	}})
	if err != nil {
		t.Fatalf("record timeout: %v", err)
	}

	rows, err := store.ResponsesFor(ctx, 7)
	if err != nil {
		t.Fatalf("responses: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	first := rows[0]
	if first.AnswerText == nil || *first.AnswerText != "nil" || first.IsCorrect == nil || *first.IsCorrect {
		t.Fatalf("expected answer snapshot, got %+v", first)
	}
	if first.TimeTakenSeconds != 4 || first.SequenceNum != 1 || first.Difficulty != domain.DifficultyEasy {
		t.Fatalf("unexpected joined fields: %+v", first)
	}
	second := rows[1]
	if second.AnswerID != nil || !second.TimedOut || second.CorrectOptions != 2 || second.SequenceNum != 2 {
		t.Fatalf("unexpected timeout row: %+v", second)
	}
}

func TestStoreRecordResponsesChecksOwner(t *testing.T) {
	ctx := context.Background()
	store := newLoadedStore()
	at := time.Date(2024, 11, 22, 9, 0, 5, 0, time.UTC)
	answer := int64(1000)

	cases := map[string][]domain.ResponseRecord{
		"another user": {
			{ResultID: 7, UserID: 2, QuestionID: 100, AnswerID: &answer, RespondedAt: at},
		},
		"missing user": {
			{ResultID: 7, QuestionID: 100, AnswerID: &answer, RespondedAt: at},
		},
		"mixed batch": {
			{ResultID: 7, UserID: 1, QuestionID: 100, AnswerID: &answer, RespondedAt: at},
			{ResultID: 7, UserID: 2, QuestionID: 100, RespondedAt: at},
		},
	}
	for name, records := range cases {
		err := store.RecordResponses(ctx, records)
		if err != domain.ErrAttemptOwner {
			t.Fatalf("%s: expected owner error, got %v", name, err)
		}
		if domain.KindOf(err) != domain.KindValidation {
			t.Fatalf("%s: expected validation kind, got %v", name, domain.KindOf(err))
		}
	}

	rows, err := store.ResponsesFor(ctx, 7)
	if err != nil {
		t.Fatalf("responses: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rejected batches must not be stored, got %d rows", len(rows))
	}
}

func TestStoreSearchHeaders(t *testing.T) {
	ctx := context.Background()
	store := newLoadedStore()

	got, err := store.SearchHeaders(ctx, domain.HeaderFilter{Name: "go", Page: 1, PageSize: 10})
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one match, got %v %v", got, err)
	}
	got, _ = store.SearchHeaders(ctx, domain.HeaderFilter{Description: "missing", Page: 1, PageSize: 10})
	if len(got) != 0 {
		t.Fatalf("expected no match, got %v", got)
	}
	got, _ = store.SearchHeaders(ctx, domain.HeaderFilter{Page: 2, PageSize: 10})
	if len(got) != 0 {
		t.Fatalf("expected empty second page, got %v", got)
	}
}

func TestStoreAssign(t *testing.T) {
	ctx := context.Background()
	store := newLoadedStore()
	at := time.Now().UTC()

	a, err := store.Assign(ctx, 1, 10, at)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.ResultID != 8 {
		t.Fatalf("expected ids to continue after fixtures, got %d", a.ResultID)
	}
	if _, err := store.Assign(ctx, 2, 10, at); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected unknown user to be not found, got %v", err)
	}

	list, _ := store.AttemptsForUser(ctx, 1)
	if len(list) != 2 || list[0].Title != "Go basics" {
		t.Fatalf("unexpected attempts: %+v", list)
	}
}
