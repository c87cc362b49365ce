// Package fixtures reads quiz content and users from YAML files for seeding
// stores.
package fixtures

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type File struct {
	Users       []User       `yaml:"users"`
	Difficulty  []Level      `yaml:"difficultyLevels"`
	Categories  []Category   `yaml:"categories"`
	Quizzes     []Quiz       `yaml:"quizzes"`
	Assignments []Assignment `yaml:"assignments"`
}

type User struct {
	ID       int64  `yaml:"id"`
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
}

type Level struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

type Category struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

type Quiz struct {
	ID               int64      `yaml:"id"`
	Title            string     `yaml:"title"`
	Description      string     `yaml:"description"`
	CreatedBy        *int64     `yaml:"createdBy"`
	TimeLimitMinutes *int       `yaml:"timeLimitMinutes"`
	Categories       []int64    `yaml:"categories"`
	Questions        []Question `yaml:"questions"`
}

type Question struct {
	ID               int64    `yaml:"id"`
	Text             string   `yaml:"text"`
	Difficulty       int      `yaml:"difficulty"`
	TimeLimitSeconds *int     `yaml:"timeLimitSeconds"`
	SequenceNum      *int     `yaml:"sequence"`
	Answers          []Answer `yaml:"answers"`
}

type Answer struct {
	ID      int64  `yaml:"id"`
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

type Assignment struct {
	ResultID int64 `yaml:"resultId"`
	UserID   int64 `yaml:"userId"`
	QuizID   int64 `yaml:"quizId"`
}

// Load reads and validates a fixture file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return Parse(data)
}

// Parse decodes fixture YAML and checks that ids are set and unique.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("decode fixtures: %w", err)
	}
	if err := f.validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f File) validate() error {
	quizzes := map[int64]bool{}
	questions := map[int64]bool{}
	answers := map[int64]bool{}
	for _, q := range f.Quizzes {
		if q.ID <= 0 || quizzes[q.ID] {
			return fmt.Errorf("fixtures: quiz id %d missing or duplicated", q.ID)
		}
		quizzes[q.ID] = true
		for _, qu := range q.Questions {
			if qu.ID <= 0 || questions[qu.ID] {
				return fmt.Errorf("fixtures: question id %d missing or duplicated", qu.ID)
			}
			questions[qu.ID] = true
			for _, a := range qu.Answers {
				if a.ID <= 0 || answers[a.ID] {
					return fmt.Errorf("fixtures: answer id %d missing or duplicated", a.ID)
				}
				answers[a.ID] = true
			}
		}
	}
	for _, a := range f.Assignments {
		if !quizzes[a.QuizID] {
			return fmt.Errorf("fixtures: assignment %d references unknown quiz %d", a.ResultID, a.QuizID)
		}
	}
	return nil
}
