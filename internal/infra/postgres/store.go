package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-delivery-service/internal/domain"
)

// rankedSequences numbers the questions of quiz $1 in delivery order. Gaps
// and duplicate sequence numbers are tolerated; unnumbered rows go last.
const rankedSequences = `
	SELECT qs.sequence_id, qs.question_id, qs.sequence_num,
	       ROW_NUMBER() OVER (ORDER BY qs.sequence_num ASC NULLS LAST, qs.sequence_id ASC) AS position
	FROM question_sequences qs
	WHERE qs.quiz_id = $1`

// Store reads quiz content and persists attempts with pgx.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Header(ctx context.Context, quizID int64) (domain.QuizHeader, error) {
	var h domain.QuizHeader
	err := s.pool.QueryRow(ctx, `
		SELECT q.quiz_id, q.title, q.description, q.time_limit,
		       (SELECT COUNT(*) FROM questions qu WHERE qu.quiz_id = q.quiz_id)
		FROM quizzes q
		WHERE q.quiz_id = $1`, quizID,
	).Scan(&h.QuizID, &h.Name, &h.Description, &h.TimeLimitMinutes, &h.TotalQuestions)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizHeader{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.QuizHeader{}, fmt.Errorf("load header: %w", err)
	}
	return h, nil
}

func (s *Store) QuestionAt(ctx context.Context, quizID int64, sequenceNum int) (domain.Question, error) {
	q := domain.Question{QuizID: quizID}
	var seq *int
	var difficulty int
	err := s.pool.QueryRow(ctx, `
		WITH ranked AS (`+rankedSequences+`)
		SELECT r.sequence_id, r.sequence_num, qu.question_id, qu.question_text,
		       COALESCE(qu.difficulty_id, 0), qu.time_limit
		FROM ranked r
		JOIN questions qu ON qu.question_id = r.question_id
		WHERE r.position = $2`, quizID, sequenceNum,
	).Scan(&q.SequenceID, &seq, &q.QuestionID, &q.Text, &difficulty, &q.TimeLimitSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	if seq != nil {
		q.SequenceNum = *seq
	}
	q.Difficulty = domain.Difficulty(difficulty)

	rows, err := s.pool.Query(ctx, `
		SELECT answer_id, answer_text, is_correct
		FROM answers
		WHERE question_id = $1
		ORDER BY answer_id`, q.QuestionID)
	if err != nil {
		return domain.Question{}, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.AnswerID, &a.Text, &a.IsCorrect); err != nil {
			return domain.Question{}, fmt.Errorf("scan answer: %w", err)
		}
		q.Answers = append(q.Answers, a)
	}
	if err := rows.Err(); err != nil {
		return domain.Question{}, fmt.Errorf("load answers: %w", err)
	}
	return q, nil
}

func (s *Store) SearchHeaders(ctx context.Context, f domain.HeaderFilter) ([]domain.QuizHeader, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT q.quiz_id, q.title, q.description, q.time_limit, COUNT(qu.question_id)
		FROM quizzes q
		LEFT JOIN questions qu ON qu.quiz_id = q.quiz_id
		WHERE ($1::text = '' OR q.title ILIKE '%' || $1::text || '%')
		  AND ($2::text = '' OR q.description ILIKE '%' || $2::text || '%')
		GROUP BY q.quiz_id
		ORDER BY q.quiz_id
		LIMIT $3 OFFSET $4`, f.Name, f.Description, f.PageSize, f.Offset())
	if err != nil {
		return nil, fmt.Errorf("search headers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.QuizHeader, 0)
	for rows.Next() {
		var h domain.QuizHeader
		if err := rows.Scan(&h.QuizID, &h.Name, &h.Description, &h.TimeLimitMinutes, &h.TotalQuestions); err != nil {
			return nil, fmt.Errorf("scan header: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) Assign(ctx context.Context, userID, quizID int64, at time.Time) (domain.Attempt, error) {
	a := domain.Attempt{UserID: userID, QuizID: quizID, AssignedAt: at}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO results (user_id, quiz_id, assigned_at)
		SELECT $1, $2, $3
		WHERE EXISTS (SELECT 1 FROM users WHERE user_id = $1)
		RETURNING result_id`, userID, quizID, at,
	).Scan(&a.ResultID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.NotFoundf("user %d not found", userID)
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("insert result: %w", err)
	}
	return a, nil
}

func (s *Store) Attempt(ctx context.Context, resultID int64) (domain.Attempt, error) {
	var a domain.Attempt
	err := s.pool.QueryRow(ctx, `
		SELECT result_id, user_id, quiz_id, assigned_at, start_time, end_time, score
		FROM results
		WHERE result_id = $1`, resultID,
	).Scan(&a.ResultID, &a.UserID, &a.QuizID, &a.AssignedAt, &a.StartedAt, &a.EndedAt, &a.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("load result: %w", err)
	}
	return a, nil
}

func (s *Store) AttemptsForUser(ctx context.Context, userID int64) ([]domain.AttemptHeader, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.result_id, r.user_id, r.quiz_id, r.assigned_at, r.start_time, r.end_time, r.score,
		       q.title, q.description, q.created_by
		FROM results r
		JOIN quizzes q ON q.quiz_id = r.quiz_id
		WHERE r.user_id = $1
		ORDER BY r.assigned_at DESC, r.result_id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AttemptHeader, 0)
	for rows.Next() {
		var h domain.AttemptHeader
		if err := rows.Scan(&h.ResultID, &h.UserID, &h.QuizID, &h.AssignedAt, &h.StartedAt, &h.EndedAt, &h.Score,
			&h.Title, &h.Description, &h.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) MarkStarted(ctx context.Context, resultID int64, at time.Time) (time.Time, error) {
	var started time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE results SET start_time = COALESCE(start_time, $2)
		WHERE result_id = $1 AND end_time IS NULL
		RETURNING start_time`, resultID, at,
	).Scan(&started)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, s.closedOrMissing(ctx, resultID)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mark started: %w", err)
	}
	return started, nil
}

func (s *Store) MarkSubmitted(ctx context.Context, resultID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE results SET end_time = $2
		WHERE result_id = $1 AND end_time IS NULL`, resultID, at)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.closedOrMissing(ctx, resultID)
	}
	return nil
}

func (s *Store) SaveScore(ctx context.Context, resultID int64, score int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE results SET score = $2 WHERE result_id = $1`, resultID, score)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (s *Store) OverdueAttempts(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.result_id
		FROM results r
		JOIN quizzes q ON q.quiz_id = r.quiz_id
		WHERE r.start_time IS NOT NULL
		  AND r.end_time IS NULL
		  AND q.time_limit > 0
		  AND r.start_time + make_interval(mins => q.time_limit) <= $1
		ORDER BY r.result_id`, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue results: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordResponses writes one batch in a transaction. The result row is locked
// so a concurrent submit cannot slip between the check and the insert.
func (s *Store) RecordResponses(ctx context.Context, records []domain.ResponseRecord) error {
	if len(records) == 0 {
		return nil
	}
	first := records[0]

	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		var quizID, userID int64
		var endedAt *time.Time
		err := tx.QueryRow(ctx, `SELECT quiz_id, user_id, end_time FROM results WHERE result_id = $1 FOR UPDATE`,
			first.ResultID).Scan(&quizID, &userID, &endedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAttemptNotFound
		}
		if err != nil {
			return fmt.Errorf("lock result: %w", err)
		}
		if endedAt != nil {
			return domain.ErrAttemptSubmitted
		}
		for _, rec := range records {
			if rec.UserID != userID {
				return domain.ErrAttemptOwner
			}
		}

		var questionText string
		err = tx.QueryRow(ctx, `SELECT question_text FROM questions WHERE question_id = $1 AND quiz_id = $2`,
			first.QuestionID, quizID).Scan(&questionText)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrQuestionNotFound
		}
		if err != nil {
			return fmt.Errorf("load question: %w", err)
		}

		batch := &pgx.Batch{}
		for _, rec := range records {
			var answerText *string
			var correct *bool
			if rec.AnswerID != nil {
				var text string
				var ok bool
				err := tx.QueryRow(ctx, `SELECT answer_text, is_correct FROM answers WHERE answer_id = $1 AND question_id = $2`,
					*rec.AnswerID, rec.QuestionID).Scan(&text, &ok)
				if errors.Is(err, pgx.ErrNoRows) {
					return domain.ErrAnswerNotFound
				}
				if err != nil {
					return fmt.Errorf("load answer: %w", err)
				}
				answerText, correct = &text, &ok
			}
			batch.Queue(`
				INSERT INTO user_responses (result_id, user_id, quiz_id, question_id, question_text,
				                            answer_id, answer_text, is_correct, response_time, timed_out, responded_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				rec.ResultID, userID, quizID, rec.QuestionID, questionText,
				rec.AnswerID, answerText, correct, rec.ResponseTimeSeconds, rec.TimedOut, rec.RespondedAt)
		}

		br := tx.SendBatch(ctx, batch)
		for range records {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert response: %w", err)
			}
		}
		return br.Close()
	})
}

// ResponsesFor returns every response row of an attempt joined with the
// question's current difficulty, delivery position and correct option count.
func (s *Store) ResponsesFor(ctx context.Context, resultID int64) ([]domain.Response, error) {
	rows, err := s.pool.Query(ctx, `
		WITH positions AS (
			SELECT question_id, MIN(position) AS position
			FROM (
				SELECT qs.question_id,
				       ROW_NUMBER() OVER (ORDER BY qs.sequence_num ASC NULLS LAST, qs.sequence_id ASC) AS position
				FROM question_sequences qs
				WHERE qs.quiz_id = (SELECT quiz_id FROM results WHERE result_id = $1)
			) ranked
			GROUP BY question_id
		)
		SELECT ur.response_id, ur.result_id, ur.question_id, ur.question_text,
		       ur.answer_id, ur.answer_text, ur.is_correct, ur.response_time, ur.timed_out, ur.responded_at,
		       COALESCE(qu.difficulty_id, 0), COALESCE(dl.level_name, ''), COALESCE(p.position, 0),
		       (SELECT COUNT(*) FROM answers a WHERE a.question_id = ur.question_id AND a.is_correct)
		FROM user_responses ur
		LEFT JOIN questions qu ON qu.question_id = ur.question_id
		LEFT JOIN difficulty_levels dl ON dl.difficulty_id = qu.difficulty_id
		LEFT JOIN positions p ON p.question_id = ur.question_id
		WHERE ur.result_id = $1
		ORDER BY ur.response_id`, resultID)
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Response, 0)
	for rows.Next() {
		var r domain.Response
		var difficulty int
		if err := rows.Scan(&r.ResponseID, &r.ResultID, &r.QuestionID, &r.QuestionText,
			&r.AnswerID, &r.AnswerText, &r.IsCorrect, &r.TimeTakenSeconds, &r.TimedOut, &r.RespondedAt,
			&difficulty, &r.LevelName, &r.SequenceNum, &r.CorrectOptions); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		r.Difficulty = domain.Difficulty(difficulty)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) closedOrMissing(ctx context.Context, resultID int64) error {
	a, err := s.Attempt(ctx, resultID)
	if err != nil {
		return err
	}
	if a.Submitted() {
		return domain.ErrAttemptSubmitted
	}
	return fmt.Errorf("result %d changed concurrently", resultID)
}
