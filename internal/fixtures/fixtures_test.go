package fixtures

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	f, err := Parse([]byte(`
users:
  - id: 1
    username: ada
quizzes:
  - id: 10
    title: Go basics
    timeLimitMinutes: 5
    questions:
      - id: 100
        text: Zero value of int?
        difficulty: 1
        sequence: 1
        answers:
          - {id: 1000, text: "0", correct: true}
          - {id: 1001, text: "nil"}
assignments:
  - {resultId: 7, userId: 1, quizId: 10}
`))
	require.NoError(t, err)
	require.Len(t, f.Quizzes, 1)
	assert.Equal(t, 5, *f.Quizzes[0].TimeLimitMinutes)
	assert.Equal(t, 1, *f.Quizzes[0].Questions[0].SequenceNum)
	assert.True(t, f.Quizzes[0].Questions[0].Answers[0].Correct)
	assert.Equal(t, int64(7), f.Assignments[0].ResultID)
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	_, err := Parse([]byte(`
quizzes:
  - id: 10
    questions:
      - {id: 100, answers: [{id: 1}]}
      - {id: 100, answers: [{id: 2}]}
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
quizzes:
  - id: 10
assignments:
  - {resultId: 1, userId: 1, quizId: 11}
`))
	assert.Error(t, err)
}
