package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-delivery-service/internal/domain"
	"quiz-delivery-service/internal/logging"
	"quiz-delivery-service/internal/telemetry"
)

type State int

const (
	StateNotStarted State = iota
	StateInProgress
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrConfirmationRequired is returned by Advance when nothing is selected and
// the user has not confirmed moving on.
var ErrConfirmationRequired = domain.Statef("no answer selected, confirm to move on")

// Finalizer scores a submitted attempt and persists the result.
type Finalizer interface {
	Finalize(ctx context.Context, resultID int64) (domain.ScoreReport, error)
}

// Progress reads back what an attempt already recorded.
type Progress interface {
	ResponsesFor(ctx context.Context, resultID int64) ([]domain.Response, error)
}

type Config struct {
	ResultID  int64
	UserID    int64
	QuizID    int64
	Catalog   Catalog
	Recorder  *Recorder
	Finalizer Finalizer
	// Progress is optional. When set, a restarted attempt resumes after the
	// last position holding a response.
	Progress Progress
	// Now defaults to time.Now.
	Now func() time.Time
}

// Session drives one attempt from start to submission. All methods are safe
// for concurrent use; timers advance only through Tick.
type Session struct {
	c   Config
	now func() time.Time

	mu              sync.Mutex
	state           State
	header          domain.QuizHeader
	cursor          *Cursor
	question        domain.Question
	questionStarted time.Time
	collector       Collector
	flushed         bool
	completing      string
	overall         *Timer
	perQuestion     *Timer
	report          *domain.ScoreReport
}

func NewSession(c Config) *Session {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		c:           c,
		now:         now,
		overall:     NewTimer(nil),
		perQuestion: NewTimer(nil),
	}
}

func (s *Session) ResultID() int64 { return s.c.ResultID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start marks the attempt started, arms the overall timer and shows the first
// question without a response.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNotStarted {
		return domain.Statef("cannot start a session that is %s", s.state)
	}

	header, err := s.c.Catalog.Header(ctx, s.c.QuizID)
	if err != nil {
		return err
	}
	if header.TotalQuestions == 0 {
		return domain.Validationf("quiz %d has no questions", s.c.QuizID)
	}

	started, err := s.c.Recorder.MarkStarted(ctx, s.c.ResultID)
	if err != nil {
		return err
	}
	position, err := s.resumePosition(ctx)
	if err != nil {
		return err
	}

	cursor := NewCursor(s.c.Catalog, s.c.QuizID, header.TotalQuestions)
	if position > header.TotalQuestions {
		// Every question already has a response; only submission is left.
		s.header = header
		s.cursor = cursor
		s.state = StateInProgress
		return s.completeLocked(ctx, "resumed")
	}
	q, err := cursor.Load(ctx, position)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			s.header = header
			s.cursor = cursor
			s.failLocked(ctx, err)
		}
		return err
	}

	s.header = header
	s.cursor = cursor
	s.state = StateInProgress

	if limit := header.TimeLimitSeconds(); limit > 0 {
		// A resumed attempt keeps counting from its original start.
		remaining := limit - int(s.now().Sub(started)/time.Second)
		if remaining < 1 {
			remaining = 1
		}
		s.overall.Start(remaining)
	}
	s.showLocked(q)
	return nil
}

// resumePosition is one past the furthest position with a recorded response.
func (s *Session) resumePosition(ctx context.Context) (int, error) {
	if s.c.Progress == nil {
		return 1, nil
	}
	responses, err := s.c.Progress.ResponsesFor(ctx, s.c.ResultID)
	if err != nil {
		return 0, domain.Storage("load progress", err)
	}
	furthest := 0
	for _, r := range responses {
		if r.SequenceNum > furthest {
			furthest = r.SequenceNum
		}
	}
	if furthest > 0 {
		logging.WithContext(ctx).WithFields(logrus.Fields{
			"resultId": s.c.ResultID,
			"position": furthest + 1,
		}).Info("delivery: resuming attempt")
	}
	return furthest + 1, nil
}

// Select adds answerID to the current picks.
func (s *Session) Select(_ context.Context, answerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgressLocked(); err != nil {
		return err
	}
	if !s.question.HasAnswer(answerID) {
		return domain.ErrAnswerNotFound
	}
	s.collector.Select(answerID, s.question.MultiSelect())
	return nil
}

// Advance moves to the next question on user request. With nothing selected
// it needs confirm, and then records nothing for the skipped question.
func (s *Session) Advance(ctx context.Context, confirm bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgressLocked(); err != nil {
		return err
	}
	if s.collector.Empty() && !confirm && !s.flushed {
		return ErrConfirmationRequired
	}
	s.flushLocked(ctx, false, false)
	return s.nextLocked(ctx, "manual")
}

// Submit ends the attempt on user request.
func (s *Session) Submit(ctx context.Context) error {
	return s.finish(ctx, "submitted")
}

// Exit ends the attempt because the user left it.
func (s *Session) Exit(ctx context.Context) error {
	return s.finish(ctx, "exit")
}

func (s *Session) finish(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgressLocked(); err != nil {
		return err
	}
	s.flushLocked(ctx, false, false)
	return s.completeLocked(ctx, reason)
}

// Tick advances both timers by one second and reports whether a timer fired
// or a pending completion went through.
func (s *Session) Tick(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInProgress {
		return false, nil
	}
	if s.completing != "" {
		err := s.completeLocked(ctx, s.completing)
		return err == nil, err
	}

	if s.overall.Tick() {
		s.flushLocked(ctx, true, true)
		return true, s.completeLocked(ctx, "overall_timeout")
	}
	if s.perQuestion.Tick() {
		s.flushLocked(ctx, true, true)
		return true, s.nextLocked(ctx, "question_timeout")
	}
	return false, nil
}

func (s *Session) requireInProgressLocked() error {
	switch s.state {
	case StateInProgress:
		if s.completing != "" {
			return domain.Statef("session is completing, retry submit")
		}
		return nil
	case StateCompleted:
		return domain.ErrAttemptSubmitted
	default:
		return domain.Statef("session is %s", s.state)
	}
}

func (s *Session) showLocked(q domain.Question) {
	s.question = q
	s.collector.Clear()
	s.flushed = false
	s.questionStarted = s.now()
	s.perQuestion.Start(q.QuestionLimitSeconds())
}

// flushLocked hands the current picks to the recorder once per question.
// Storage failures are logged and delivery carries on.
func (s *Session) flushLocked(ctx context.Context, timedOut, recordEmpty bool) {
	if s.flushed {
		return
	}
	s.flushed = true
	if s.collector.Empty() && !recordEmpty {
		return
	}

	sub := Submission{
		ResultID:            s.c.ResultID,
		UserID:              s.c.UserID,
		QuizID:              s.c.QuizID,
		QuestionID:          s.question.QuestionID,
		AnswerIDs:           s.collector.Current(),
		ResponseTimeSeconds: int(s.now().Sub(s.questionStarted).Round(time.Second) / time.Second),
		TimedOut:            timedOut,
	}
	if sub.ResponseTimeSeconds < 0 {
		sub.ResponseTimeSeconds = 0
	}
	s.collector.Clear()

	if err := s.c.Recorder.RecordAnswer(ctx, sub); err != nil {
		logging.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"resultId":   s.c.ResultID,
			"questionId": sub.QuestionID,
		}).Warn("delivery: record answer failed")
	}
}

func (s *Session) nextLocked(ctx context.Context, reason string) error {
	if s.cursor.IsLast() {
		return s.completeLocked(ctx, reason)
	}
	q, err := s.cursor.Advance(ctx)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			s.failLocked(ctx, err)
		}
		return err
	}
	s.showLocked(q)
	return nil
}

// completeLocked submits and scores the attempt. When submitting fails the
// session stays in progress with the completion pending, so a later Submit or
// Tick retries it.
func (s *Session) completeLocked(ctx context.Context, reason string) error {
	s.completing = reason
	s.overall.Stop()
	s.perQuestion.Stop()

	if err := s.c.Recorder.MarkSubmitted(ctx, s.c.ResultID); err != nil && domain.KindOf(err) != domain.KindState {
		return err
	}

	s.completing = ""
	s.state = StateCompleted
	telemetry.AttemptsCompleted.WithLabelValues(reason).Inc()
	s.finalizeLocked(ctx)
	return nil
}

func (s *Session) failLocked(ctx context.Context, cause error) {
	s.state = StateFailed
	s.overall.Stop()
	s.perQuestion.Stop()
	telemetry.AttemptsCompleted.WithLabelValues("failed").Inc()

	log := logging.WithContext(ctx).WithFields(logrus.Fields{"resultId": s.c.ResultID})
	log.WithError(cause).Warn("delivery: question missing, attempt failed")
	if err := s.c.Recorder.MarkSubmitted(ctx, s.c.ResultID); err != nil && domain.KindOf(err) != domain.KindState {
		log.WithError(err).Warn("delivery: submit failed attempt")
		return
	}
	s.finalizeLocked(ctx)
}

func (s *Session) finalizeLocked(ctx context.Context) {
	if s.c.Finalizer == nil {
		return
	}
	report, err := s.c.Finalizer.Finalize(ctx, s.c.ResultID)
	if err != nil {
		logging.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"resultId": s.c.ResultID,
		}).Warn("delivery: finalize score failed")
		return
	}
	s.report = &report
}

// OptionView is an answer option as shown to the user, without correctness.
type OptionView struct {
	AnswerID int64  `json:"answerId"`
	Text     string `json:"answerText"`
}

type QuestionView struct {
	QuestionID       int64        `json:"questionId"`
	Position         int          `json:"position"`
	Text             string       `json:"questionText"`
	Difficulty       string       `json:"difficulty,omitempty"`
	MultiSelect      bool         `json:"multiSelect"`
	TimeLimitSeconds *int         `json:"timeLimitSeconds,omitempty"`
	Options          []OptionView `json:"options"`
}

// NewQuestionView strips correctness from q for display at position.
func NewQuestionView(q domain.Question, position int) QuestionView {
	qv := QuestionView{
		QuestionID:       q.QuestionID,
		Position:         position,
		Text:             q.Text,
		Difficulty:       q.Difficulty.String(),
		MultiSelect:      q.MultiSelect(),
		TimeLimitSeconds: q.TimeLimitSeconds,
		Options:          make([]OptionView, 0, len(q.Answers)),
	}
	for _, a := range q.Answers {
		qv.Options = append(qv.Options, OptionView{AnswerID: a.AnswerID, Text: a.Text})
	}
	return qv
}

// View is a snapshot of the session for rendering.
type View struct {
	ResultID          int64                `json:"resultId"`
	QuizID            int64                `json:"quizId"`
	State             string               `json:"state"`
	QuizName          string               `json:"quizName,omitempty"`
	Position          int                  `json:"position"`
	TotalQuestions    int                  `json:"totalQuestions"`
	IsLast            bool                 `json:"isLast"`
	Question          *QuestionView        `json:"question,omitempty"`
	Selected          []int64              `json:"selected"`
	QuestionRemaining *int                 `json:"questionRemainingSeconds,omitempty"`
	OverallRemaining  *int                 `json:"overallRemainingSeconds,omitempty"`
	Summary           *domain.ScoreSummary `json:"summary,omitempty"`
	Details           []domain.ScoreDetail `json:"details,omitempty"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ResultID:       s.c.ResultID,
		QuizID:         s.c.QuizID,
		State:          s.state.String(),
		QuizName:       s.header.Name,
		TotalQuestions: s.header.TotalQuestions,
		Selected:       s.collector.Current(),
	}
	if s.cursor != nil {
		v.Position = s.cursor.Position()
		v.IsLast = s.cursor.IsLast()
	}
	if s.state == StateInProgress {
		qv := NewQuestionView(s.question, v.Position)
		v.Question = &qv
		if secs, ok := s.perQuestion.Remaining(); ok {
			v.QuestionRemaining = &secs
		}
		if secs, ok := s.overall.Remaining(); ok {
			v.OverallRemaining = &secs
		}
	}
	if s.report != nil {
		summary := s.report.Summary
		v.Summary = &summary
		v.Details = s.report.Details
	}
	return v
}
