package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-delivery-service/internal/fixtures"
	"quiz-delivery-service/internal/logging"
)

type userModel struct {
	bun.BaseModel `bun:"table:users"`

	ID       int64   `bun:"user_id,pk"`
	Username string  `bun:"username"`
	Email    *string `bun:"email"`
	Role     string  `bun:"role"`
}

type difficultyModel struct {
	bun.BaseModel `bun:"table:difficulty_levels"`

	ID   int    `bun:"difficulty_id,pk"`
	Name string `bun:"level_name"`
}

type categoryModel struct {
	bun.BaseModel `bun:"table:categories"`

	ID   int64  `bun:"category_id,pk"`
	Name string `bun:"category_name"`
}

type quizModel struct {
	bun.BaseModel `bun:"table:quizzes"`

	ID          int64  `bun:"quiz_id,pk"`
	Title       string `bun:"title"`
	Description string `bun:"description"`
	CreatedBy   *int64 `bun:"created_by"`
	TimeLimit   *int   `bun:"time_limit"`
}

type quizCategoryModel struct {
	bun.BaseModel `bun:"table:quiz_categories"`

	QuizID     int64 `bun:"quiz_id,pk"`
	CategoryID int64 `bun:"category_id,pk"`
}

type questionModel struct {
	bun.BaseModel `bun:"table:questions"`

	ID           int64  `bun:"question_id,pk"`
	QuizID       int64  `bun:"quiz_id"`
	Text         string `bun:"question_text"`
	DifficultyID *int   `bun:"difficulty_id"`
	TimeLimit    *int   `bun:"time_limit"`
}

type answerModel struct {
	bun.BaseModel `bun:"table:answers"`

	ID         int64  `bun:"answer_id,pk"`
	QuestionID int64  `bun:"question_id"`
	Text       string `bun:"answer_text"`
	IsCorrect  bool   `bun:"is_correct"`
}

type sequenceModel struct {
	bun.BaseModel `bun:"table:question_sequences"`

	ID          int64 `bun:"sequence_id,pk,autoincrement"`
	QuizID      int64 `bun:"quiz_id"`
	QuestionID  int64 `bun:"question_id"`
	SequenceNum *int  `bun:"sequence_num"`
}

type resultModel struct {
	bun.BaseModel `bun:"table:results"`

	ID     int64 `bun:"result_id,pk"`
	UserID int64 `bun:"user_id"`
	QuizID int64 `bun:"quiz_id"`
}

// serials lists tables whose id sequence must move past seeded explicit ids.
var serials = []struct{ table, column string }{
	{"users", "user_id"},
	{"quizzes", "quiz_id"},
	{"categories", "category_id"},
	{"questions", "question_id"},
	{"answers", "answer_id"},
	{"results", "result_id"},
}

// OpenDB opens a bun handle over the pg driver.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Seeder writes fixture content through bun. Seeding is idempotent: rows are
// upserted by id and a quiz's sequence rows are replaced.
type Seeder struct {
	db *bun.DB
}

func NewSeeder(db *bun.DB) *Seeder {
	return &Seeder{db: db}
}

func (s *Seeder) Seed(ctx context.Context, f fixtures.File) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := seedUsers(ctx, tx, f.Users); err != nil {
			return err
		}
		if err := seedLevels(ctx, tx, f.Difficulty); err != nil {
			return err
		}
		if err := seedCategories(ctx, tx, f.Categories); err != nil {
			return err
		}
		for _, q := range f.Quizzes {
			if err := seedQuiz(ctx, tx, q); err != nil {
				return fmt.Errorf("seed quiz %d: %w", q.ID, err)
			}
		}
		if err := seedAssignments(ctx, tx, f.Assignments); err != nil {
			return err
		}
		for _, sr := range serials {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`SELECT setval(pg_get_serial_sequence('%s', '%s'), COALESCE((SELECT MAX(%s) FROM %s), 0) + 1, false)`,
				sr.table, sr.column, sr.column, sr.table)); err != nil {
				return fmt.Errorf("advance %s sequence: %w", sr.table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.Logger().WithFields(logrus.Fields{
		"users":       len(f.Users),
		"quizzes":     len(f.Quizzes),
		"assignments": len(f.Assignments),
	}).Info("postgres: fixtures seeded")
	return nil
}

func seedUsers(ctx context.Context, tx bun.Tx, users []fixtures.User) error {
	if len(users) == 0 {
		return nil
	}
	models := make([]userModel, 0, len(users))
	for _, u := range users {
		m := userModel{ID: u.ID, Username: u.Username, Role: u.Role}
		if m.Role == "" {
			m.Role = "user"
		}
		if u.Email != "" {
			email := u.Email
			m.Email = &email
		}
		models = append(models, m)
	}
	_, err := tx.NewInsert().Model(&models).
		On("CONFLICT (user_id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("email = EXCLUDED.email").
		Set("role = EXCLUDED.role").
		Exec(ctx)
	return err
}

func seedLevels(ctx context.Context, tx bun.Tx, levels []fixtures.Level) error {
	if len(levels) == 0 {
		return nil
	}
	models := make([]difficultyModel, 0, len(levels))
	for _, l := range levels {
		models = append(models, difficultyModel{ID: l.ID, Name: l.Name})
	}
	_, err := tx.NewInsert().Model(&models).
		On("CONFLICT (difficulty_id) DO UPDATE").
		Set("level_name = EXCLUDED.level_name").
		Exec(ctx)
	return err
}

func seedCategories(ctx context.Context, tx bun.Tx, categories []fixtures.Category) error {
	if len(categories) == 0 {
		return nil
	}
	models := make([]categoryModel, 0, len(categories))
	for _, c := range categories {
		models = append(models, categoryModel{ID: c.ID, Name: c.Name})
	}
	_, err := tx.NewInsert().Model(&models).
		On("CONFLICT (category_id) DO UPDATE").
		Set("category_name = EXCLUDED.category_name").
		Exec(ctx)
	return err
}

func seedQuiz(ctx context.Context, tx bun.Tx, q fixtures.Quiz) error {
	quiz := quizModel{
		ID:          q.ID,
		Title:       q.Title,
		Description: q.Description,
		CreatedBy:   q.CreatedBy,
		TimeLimit:   q.TimeLimitMinutes,
	}
	if _, err := tx.NewInsert().Model(&quiz).
		On("CONFLICT (quiz_id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("description = EXCLUDED.description").
		Set("created_by = EXCLUDED.created_by").
		Set("time_limit = EXCLUDED.time_limit").
		Exec(ctx); err != nil {
		return err
	}

	for _, c := range q.Categories {
		link := quizCategoryModel{QuizID: q.ID, CategoryID: c}
		if _, err := tx.NewInsert().Model(&link).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return err
		}
	}

	if _, err := tx.NewDelete().Model((*sequenceModel)(nil)).Where("quiz_id = ?", q.ID).Exec(ctx); err != nil {
		return err
	}

	for _, qu := range q.Questions {
		question := questionModel{ID: qu.ID, QuizID: q.ID, Text: qu.Text, TimeLimit: qu.TimeLimitSeconds}
		if qu.Difficulty > 0 {
			d := qu.Difficulty
			question.DifficultyID = &d
		}
		if _, err := tx.NewInsert().Model(&question).
			On("CONFLICT (question_id) DO UPDATE").
			Set("quiz_id = EXCLUDED.quiz_id").
			Set("question_text = EXCLUDED.question_text").
			Set("difficulty_id = EXCLUDED.difficulty_id").
			Set("time_limit = EXCLUDED.time_limit").
			Exec(ctx); err != nil {
			return err
		}

		if len(qu.Answers) > 0 {
			answers := make([]answerModel, 0, len(qu.Answers))
			for _, a := range qu.Answers {
				answers = append(answers, answerModel{ID: a.ID, QuestionID: qu.ID, Text: a.Text, IsCorrect: a.Correct})
			}
			if _, err := tx.NewInsert().Model(&answers).
				On("CONFLICT (answer_id) DO UPDATE").
				Set("question_id = EXCLUDED.question_id").
				Set("answer_text = EXCLUDED.answer_text").
				Set("is_correct = EXCLUDED.is_correct").
				Exec(ctx); err != nil {
				return err
			}
		}

		seq := sequenceModel{QuizID: q.ID, QuestionID: qu.ID, SequenceNum: qu.SequenceNum}
		if _, err := tx.NewInsert().Model(&seq).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func seedAssignments(ctx context.Context, tx bun.Tx, assignments []fixtures.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	models := make([]resultModel, 0, len(assignments))
	for _, a := range assignments {
		models = append(models, resultModel{ID: a.ResultID, UserID: a.UserID, QuizID: a.QuizID})
	}
	_, err := tx.NewInsert().Model(&models).On("CONFLICT (result_id) DO NOTHING").Exec(ctx)
	return err
}
