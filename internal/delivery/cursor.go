package delivery

import (
	"context"
	"fmt"

	"quiz-delivery-service/internal/domain"
)

// Catalog resolves quiz content by sequence position.
type Catalog interface {
	Header(ctx context.Context, quizID int64) (domain.QuizHeader, error)
	QuestionAt(ctx context.Context, quizID int64, sequenceNum int) (domain.Question, error)
}

// Cursor tracks the 1-based position inside a quiz's question sequence.
type Cursor struct {
	catalog  Catalog
	quizID   int64
	total    int
	position int
}

func NewCursor(catalog Catalog, quizID int64, total int) *Cursor {
	return &Cursor{catalog: catalog, quizID: quizID, total: total}
}

func (c *Cursor) Position() int { return c.position }

func (c *Cursor) Total() int { return c.total }

// IsLast reports whether the cursor sits on the final question.
func (c *Cursor) IsLast() bool {
	return c.position >= c.total
}

// Load resolves the question at position. Positions past the total are
// rejected without touching the catalog.
func (c *Cursor) Load(ctx context.Context, position int) (domain.Question, error) {
	if position < 1 || position > c.total {
		return domain.Question{}, fmt.Errorf("position %d of %d: %w", position, c.total, domain.ErrQuestionNotFound)
	}
	q, err := c.catalog.QuestionAt(ctx, c.quizID, position)
	if err != nil {
		return domain.Question{}, err
	}
	c.position = position
	return q, nil
}

// Advance loads the question after the current one.
func (c *Cursor) Advance(ctx context.Context) (domain.Question, error) {
	return c.Load(ctx, c.position+1)
}
