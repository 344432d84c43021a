package grading

import (
	"context"
	"math"

	"github.com/pavelanni/escuela/internal/i18n"
	"github.com/pavelanni/escuela/internal/model"
)

// ScoreMarkers grades a legacy worksheet by counting key points that have a
// student mark closer than MarkerTolerance pixels.
func ScoreMarkers(ctx context.Context, keys, marks []model.Point) (Raw, error) {
	if len(keys) == 0 {
		return Raw{}, ErrNoInteractiveData
	}
	matched := 0
	for _, k := range keys {
		for _, m := range marks {
			if math.Hypot(k.X-m.X, k.Y-m.Y) < MarkerTolerance {
				matched++
				break
			}
		}
	}
	return Raw{
		Score: Round1(float64(matched) / float64(len(keys)) * 10),
		Feedback: i18n.Td(ctx, "MarkersFeedback", map[string]any{
			"Matched": matched,
			"Total":   len(keys),
		}),
	}, nil
}

// ScoreQuiz grades a multiple-choice quiz with whole-number rounding. Missing
// answers count as wrong.
func ScoreQuiz(ctx context.Context, quiz *model.Quiz, answers []int) (Raw, error) {
	if quiz == nil || len(quiz.Questions) == 0 {
		return Raw{}, ErrNoQuestions
	}
	correct := 0
	for i, q := range quiz.Questions {
		if i < len(answers) && answers[i] == q.CorrectIndex {
			correct++
		}
	}
	total := len(quiz.Questions)
	return Raw{
		Score: math.Round(float64(correct) / float64(total) * 10),
		Feedback: i18n.Td(ctx, "QuizFeedback", map[string]any{
			"Correct": correct,
			"Total":   total,
		}),
	}, nil
}
