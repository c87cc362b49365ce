package delivery

import (
	"context"
	"time"

	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/event"
	"quiz-delivery-service/internal/telemetry"
)

// ResponseStore persists attempt progress.
type ResponseStore interface {
	// RecordResponses appends one batch atomically. Every record of the batch
	// belongs to the same question and shares RespondedAt.
	RecordResponses(ctx context.Context, records []domain.ResponseRecord) error
	// MarkStarted sets the start time when unset and returns the effective one.
	MarkStarted(ctx context.Context, resultID int64, at time.Time) (time.Time, error)
	MarkSubmitted(ctx context.Context, resultID int64, at time.Time) error
}

// Submission is the answer state of one question at the moment it is flushed.
type Submission struct {
	ResultID            int64
	UserID              int64
	QuizID              int64
	QuestionID          int64
	AnswerIDs           []int64
	ResponseTimeSeconds int
	TimedOut            bool
}

// Recorder writes submissions and attempt transitions to a ResponseStore.
type Recorder struct {
	store  ResponseStore
	events event.Publisher
	now    func() time.Time
}

// NewRecorder builds a recorder. events may be nil; now defaults to time.Now.
func NewRecorder(store ResponseStore, events event.Publisher, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: store, events: events, now: now}
}

// RecordAnswer appends one row per picked answer, all stamped with the same
// time. An empty pick list records a single unanswered, timed-out row.
func (r *Recorder) RecordAnswer(ctx context.Context, sub Submission) error {
	if sub.ResponseTimeSeconds < 0 {
		err := domain.Validationf("response time must not be negative, got %d", sub.ResponseTimeSeconds)
		telemetry.ResponsesRecorded.WithLabelValues(domain.KindOf(err).String()).Inc()
		return err
	}

	at := r.now().UTC()
	base := domain.ResponseRecord{
		ResultID:            sub.ResultID,
		UserID:              sub.UserID,
		QuizID:              sub.QuizID,
		QuestionID:          sub.QuestionID,
		ResponseTimeSeconds: sub.ResponseTimeSeconds,
		TimedOut:            sub.TimedOut,
		RespondedAt:         at,
	}

	var records []domain.ResponseRecord
	if len(sub.AnswerIDs) == 0 {
		rec := base
		rec.TimedOut = true
		records = []domain.ResponseRecord{rec}
	} else {
		records = make([]domain.ResponseRecord, 0, len(sub.AnswerIDs))
		for _, id := range sub.AnswerIDs {
			id := id
			rec := base
			rec.AnswerID = &id
			records = append(records, rec)
		}
	}

	if err := r.store.RecordResponses(ctx, records); err != nil {
		err = domain.Storage("record responses", err)
		telemetry.ResponsesRecorded.WithLabelValues(domain.KindOf(err).String()).Inc()
		return err
	}
	telemetry.ResponsesRecorded.WithLabelValues("ok").Inc()

	r.publish(ctx, domain.EventResponseRecorded{
		ResultID:   sub.ResultID,
		QuestionID: sub.QuestionID,
		AnswerIDs:  sub.AnswerIDs,
		TimedOut:   records[0].TimedOut,
	})
	return nil
}

// MarkStarted stamps the attempt's start time once; repeated calls keep the first.
func (r *Recorder) MarkStarted(ctx context.Context, resultID int64) (time.Time, error) {
	started, err := r.store.MarkStarted(ctx, resultID, r.now().UTC())
	if err != nil {
		return time.Time{}, domain.Storage("mark started", err)
	}
	r.publish(ctx, domain.EventAttemptStarted{ResultID: resultID, StartedAt: started})
	return started, nil
}

// MarkSubmitted stamps the attempt's end time.
func (r *Recorder) MarkSubmitted(ctx context.Context, resultID int64) error {
	at := r.now().UTC()
	if err := r.store.MarkSubmitted(ctx, resultID, at); err != nil {
		return domain.Storage("mark submitted", err)
	}
	r.publish(ctx, domain.EventAttemptSubmitted{ResultID: resultID, EndedAt: at})
	return nil
}

func (r *Recorder) publish(ctx context.Context, e event.Event) {
	if r.events != nil {
		r.events.Publish(ctx, e)
	}
}
