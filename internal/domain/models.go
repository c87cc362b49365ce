package domain

import "time"

// Difficulty is the ordinal difficulty tier of a question. Its value doubles as the
// question's weight in difficulty-weighted scoring.
type Difficulty int

const (
	DifficultyUnknown Difficulty = 0
	DifficultyEasy    Difficulty = 1
	DifficultyMedium  Difficulty = 2
	DifficultyHard    Difficulty = 3
)

func (d Difficulty) Weight() int {
	if d < DifficultyEasy || d > DifficultyHard {
		return 0
	}
	return int(d)
}

func (d Difficulty) String() string {
	switch d {
	case DifficultyEasy:
		return "Easy"
	case DifficultyMedium:
		return "Medium"
	case DifficultyHard:
		return "Hard"
	default:
		return ""
	}
}

// QuizHeader summarizes a quiz for delivery.
type QuizHeader struct {
	QuizID           int64  `json:"quizId"`
	Name             string `json:"quizName"`
	Description      string `json:"description"`
	TimeLimitMinutes *int   `json:"timeLimitMinutes,omitempty"`
	TotalQuestions   int    `json:"totalQuestions"`
}

// TimeLimitSeconds returns the overall limit in seconds, zero when unlimited.
func (h QuizHeader) TimeLimitSeconds() int {
	if h.TimeLimitMinutes == nil {
		return 0
	}
	return *h.TimeLimitMinutes * 60
}

// Answer is one option of a question.
type Answer struct {
	AnswerID  int64  `json:"answerId"`
	Text      string `json:"answerText"`
	IsCorrect bool   `json:"isCorrect"`
}

// Question is a question resolved at a sequence position, with its options.
type Question struct {
	QuestionID       int64      `json:"questionId"`
	QuizID           int64      `json:"quizId"`
	SequenceID       int64      `json:"sequenceId"`
	SequenceNum      int        `json:"sequenceNum"`
	Text             string     `json:"questionText"`
	Difficulty       Difficulty `json:"difficultyId"`
	TimeLimitSeconds *int       `json:"timeLimitSeconds,omitempty"`
	Answers          []Answer   `json:"answers"`
}

// MultiSelect reports whether more than one option is marked correct.
func (q Question) MultiSelect() bool {
	correct := 0
	for _, a := range q.Answers {
		if a.IsCorrect {
			correct++
		}
	}
	return correct > 1
}

// CorrectCount returns the number of correct options.
func (q Question) CorrectCount() int {
	n := 0
	for _, a := range q.Answers {
		if a.IsCorrect {
			n++
		}
	}
	return n
}

// HasAnswer reports whether answerID is one of the question's options.
func (q Question) HasAnswer(answerID int64) bool {
	for _, a := range q.Answers {
		if a.AnswerID == answerID {
			return true
		}
	}
	return false
}

// QuestionLimitSeconds returns the per-question limit, zero when unlimited.
func (q Question) QuestionLimitSeconds() int {
	if q.TimeLimitSeconds == nil {
		return 0
	}
	return *q.TimeLimitSeconds
}

// Attempt is one user's run through a quiz (a result row).
type Attempt struct {
	ResultID   int64      `json:"resultId"`
	UserID     int64      `json:"userId"`
	QuizID     int64      `json:"quizId"`
	AssignedAt time.Time  `json:"assignedOn"`
	StartedAt  *time.Time `json:"startTime,omitempty"`
	EndedAt    *time.Time `json:"endTime,omitempty"`
	Score      *int       `json:"score,omitempty"`
}

func (a Attempt) Submitted() bool {
	return a.EndedAt != nil
}

// AttemptHeader lists an attempt together with its quiz for a user's dashboard.
type AttemptHeader struct {
	Attempt
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   *int64 `json:"createdBy,omitempty"`
}

// ResponseRecord is a single row to append to an attempt's responses.
type ResponseRecord struct {
	ResultID            int64
	UserID              int64
	QuizID              int64
	QuestionID          int64
	AnswerID            *int64
	ResponseTimeSeconds int
	TimedOut            bool
	RespondedAt         time.Time
}

// Response is a recorded answer with the question context needed by scoring and history.
type Response struct {
	ResponseID       int64      `json:"userResponseId"`
	ResultID         int64      `json:"resultId"`
	QuestionID       int64      `json:"questionId"`
	QuestionText     string     `json:"questionText"`
	AnswerID         *int64     `json:"answerId,omitempty"`
	AnswerText       *string    `json:"answerText,omitempty"`
	IsCorrect        *bool      `json:"isCorrect,omitempty"`
	TimeTakenSeconds int        `json:"timeTakenSeconds"`
	TimedOut         bool       `json:"answerTimedOut"`
	Difficulty       Difficulty `json:"difficultyId"`
	LevelName        string     `json:"levelName,omitempty"`
	SequenceNum      int        `json:"sequenceNum"`
	CorrectOptions   int        `json:"-"`
	RespondedAt      time.Time  `json:"respondedAt"`
}

// ScoreSummary is the headline of a scored attempt.
type ScoreSummary struct {
	TakenAt                *time.Time `json:"takenAt,omitempty"`
	Score                  *int       `json:"score"`
	NumberOfQuestions      int        `json:"numberOfQuestions"`
	NumberOfCorrectAnswers int        `json:"numberOfCorrectAnswers"`
	Weighted               bool       `json:"weighted"`
	EarnedWeight           int        `json:"earnedWeight,omitempty"`
	TotalWeight            int        `json:"totalWeight,omitempty"`
}

// ScoreDetail is the per-question line of a scored attempt.
type ScoreDetail struct {
	QuestionID   int64  `json:"questionId"`
	QuestionText string `json:"questionText"`
	IsCorrect    bool   `json:"isCorrect"`
}

// ScoreReport bundles summary and details.
type ScoreReport struct {
	Summary ScoreSummary  `json:"summary"`
	Details []ScoreDetail `json:"details"`
}

// HeaderFilter narrows a quiz header search.
type HeaderFilter struct {
	Name        string
	Description string
	Page        int
	PageSize    int
}

// Offset returns the zero-based row offset of the page.
func (f HeaderFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}
