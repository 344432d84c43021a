// Package grading scores worksheet and quiz submissions.
//
// Every function here is deterministic: the same definition and state always
// produce the same result. The model-assisted path lives in package llm and only
// meets this package again in Finalize.
package grading

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/pavelanni/escuela/internal/i18n"
	"github.com/pavelanni/escuela/internal/model"
)

const (
	// DefaultMinScore is the passing score when an assignment does not set one.
	DefaultMinScore = 6.0
	// LateMultiplier scales scores submitted after the due date.
	LateMultiplier = 0.6
	// MarkerTolerance is the pixel distance under which a mark hits a key point.
	MarkerTolerance = 5.0
)

var (
	ErrNoInteractiveData = errors.New("worksheet has no interactive data")
	ErrNoQuestions       = errors.New("quiz has no questions")
	ErrWrongType         = errors.New("assignment type does not match submission")
)

// Raw is a score before the late penalty and pass rule are applied.
type Raw struct {
	Score    float64
	Feedback string
}

// Options tunes zone grading.
type Options struct {
	// DropOffsetX/Y are added to a dragged item's top-left position to find the
	// point checked against drop zones. They approximate half the rendered item.
	DropOffsetX float64
	DropOffsetY float64
}

// DefaultOptions matches the 60x30 px draggable chips rendered by the worksheet UI.
func DefaultOptions() Options {
	return Options{DropOffsetX: 30, DropOffsetY: 15}
}

// Round1 rounds x to one decimal.
func Round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// ResolveMode infers the grading mode of a legacy worksheet definition. Zones
// win over answer-key points, which win over model-assisted grading.
func ResolveMode(ws *model.Worksheet) model.GradingMode {
	switch {
	case ws != nil && len(ws.Zones) > 0:
		return model.ModeZones
	case ws != nil && len(ws.AnswerKeyPoints) > 0:
		return model.ModeGeometric
	default:
		return model.ModeModel
	}
}

// IsLate reports whether now falls after the end of the due day. An empty or
// unparsable due date is never late.
func IsLate(dueDate string, now time.Time) bool {
	if dueDate == "" {
		return false
	}
	day, err := time.ParseInLocation("2006-01-02", dueDate, now.Location())
	if err != nil {
		return false
	}
	return !now.Before(day.AddDate(0, 0, 1))
}

// Passed applies the pass threshold, defaulting to DefaultMinScore.
func Passed(score float64, minScore *float64) bool {
	threshold := DefaultMinScore
	if minScore != nil {
		threshold = *minScore
	}
	return score >= threshold
}

// Finalize applies the late penalty and the pass rule to a raw score.
func Finalize(ctx context.Context, raw Raw, a model.Assignment, now time.Time) model.GradingResult {
	res := model.GradingResult{Score: Round1(raw.Score), Feedback: raw.Feedback}
	if IsLate(a.DueDate, now) {
		res.Late = true
		res.Score = Round1(res.Score * LateMultiplier)
		notice := i18n.T(ctx, "LatePenalty")
		if res.Feedback != "" {
			res.Feedback += " "
		}
		res.Feedback += notice
	}
	res.Passed = Passed(res.Score, a.MinScoreToPass)
	return res
}

// AttemptFor maps a result to its progress change. A passing result sets the
// score and completes the assignment. A failing one only sets the score, leaving
// the assignment open for retries. A nil result completes it without touching
// an earlier score.
func AttemptFor(res *model.GradingResult) model.Attempt {
	if res == nil {
		return model.Attempt{Completed: true}
	}
	score := res.Score
	return model.Attempt{Score: &score, Completed: res.Passed}
}
