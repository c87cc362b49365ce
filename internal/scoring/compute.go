package scoring

import (
	"sort"

	"github.com/shopspring/decimal"

	"quiz-delivery-service/internal/domain"
)

// Latest groups responses by question and keeps the newest submission batch
// of each. Rows sharing the newest timestamp form the batch. Groups come back
// in sequence order, then by question id; rows inside a group by response id.
func Latest(responses []domain.Response) [][]domain.Response {
	byQuestion := make(map[int64][]domain.Response)
	order := make([]int64, 0)
	for _, r := range responses {
		if _, ok := byQuestion[r.QuestionID]; !ok {
			order = append(order, r.QuestionID)
		}
		byQuestion[r.QuestionID] = append(byQuestion[r.QuestionID], r)
	}

	groups := make([][]domain.Response, 0, len(order))
	for _, qid := range order {
		rows := byQuestion[qid]
		newest := rows[0].RespondedAt
		for _, r := range rows[1:] {
			if r.RespondedAt.After(newest) {
				newest = r.RespondedAt
			}
		}
		batch := make([]domain.Response, 0, len(rows))
		for _, r := range rows {
			if r.RespondedAt.Equal(newest) {
				batch = append(batch, r)
			}
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].ResponseID < batch[j].ResponseID })
		groups = append(groups, batch)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i][0], groups[j][0]
		if a.SequenceNum != b.SequenceNum {
			return sequenceLess(a.SequenceNum, b.SequenceNum)
		}
		return a.QuestionID < b.QuestionID
	})
	return groups
}

// Unsequenced questions (position 0) sort last.
func sequenceLess(a, b int) bool {
	switch {
	case a == 0:
		return false
	case b == 0:
		return true
	default:
		return a < b
	}
}

// Correct reports whether a submission batch answers its question fully. Every
// pick must be correct and, on multi-select questions, all correct options
// must be picked.
func Correct(batch []domain.Response) bool {
	if len(batch) == 0 {
		return false
	}
	picked := make(map[int64]struct{}, len(batch))
	for _, r := range batch {
		if r.AnswerID == nil || r.IsCorrect == nil || !*r.IsCorrect {
			return false
		}
		picked[*r.AnswerID] = struct{}{}
	}
	if need := batch[0].CorrectOptions; need > 1 {
		return len(picked) == need
	}
	return true
}

// Compute scores an attempt from its recorded responses. Without weighting the
// score is the number of correct questions. With weighting each question counts
// its difficulty ordinal and the score is the rounded percentage of weight
// earned; it is absent when no answered question carries weight.
func Compute(responses []domain.Response, weighted bool) domain.ScoreReport {
	groups := Latest(responses)

	report := domain.ScoreReport{
		Summary: domain.ScoreSummary{
			NumberOfQuestions: len(groups),
			Weighted:          weighted,
		},
		Details: make([]domain.ScoreDetail, 0, len(groups)),
	}

	correct, earned, total := 0, 0, 0
	for _, batch := range groups {
		ok := Correct(batch)
		weight := batch[0].Difficulty.Weight()
		total += weight
		if ok {
			correct++
			earned += weight
		}
		report.Details = append(report.Details, domain.ScoreDetail{
			QuestionID:   batch[0].QuestionID,
			QuestionText: batch[0].QuestionText,
			IsCorrect:    ok,
		})
	}
	report.Summary.NumberOfCorrectAnswers = correct

	if !weighted {
		score := correct
		report.Summary.Score = &score
		return report
	}

	report.Summary.EarnedWeight = earned
	report.Summary.TotalWeight = total
	if total > 0 {
		pct := decimal.NewFromInt(int64(earned)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(total))).
			Round(0)
		score := int(pct.IntPart())
		report.Summary.Score = &score
	}
	return report
}

// History flattens the newest batch of every question in score order.
func History(responses []domain.Response) []domain.Response {
	groups := Latest(responses)
	out := make([]domain.Response, 0, len(groups))
	for _, batch := range groups {
		out = append(out, batch...)
	}
	return out
}
