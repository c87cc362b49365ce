package domain

import "time"

const (
	EventNameAttemptStarted   = "attempt.started"
	EventNameResponseRecorded = "response.recorded"
	EventNameAttemptSubmitted = "attempt.submitted"
	EventNameAttemptScored    = "attempt.scored"
)

type EventAttemptStarted struct {
	ResultID  int64     `json:"resultId"`
	StartedAt time.Time `json:"startTime"`
}

func (EventAttemptStarted) Name() string { return EventNameAttemptStarted }

type EventResponseRecorded struct {
	ResultID   int64   `json:"resultId"`
	QuestionID int64   `json:"questionId"`
	AnswerIDs  []int64 `json:"answerIds"`
	TimedOut   bool    `json:"answerTimedOut"`
}

func (EventResponseRecorded) Name() string { return EventNameResponseRecorded }

type EventAttemptSubmitted struct {
	ResultID int64     `json:"resultId"`
	EndedAt  time.Time `json:"endTime"`
}

func (EventAttemptSubmitted) Name() string { return EventNameAttemptSubmitted }

type EventAttemptScored struct {
	ResultID int64        `json:"resultId"`
	Summary  ScoreSummary `json:"summary"`
}

func (EventAttemptScored) Name() string { return EventNameAttemptScored }
