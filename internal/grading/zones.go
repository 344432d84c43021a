package grading

import (
	"context"
	"math"
	"strings"

	"github.com/pavelanni/escuela/internal/i18n"
	"github.com/pavelanni/escuela/internal/model"
)

// ZoneScore is the per-zone breakdown of a zone-mode grading.
type ZoneScore struct {
	ZoneID  string
	Points  float64
	Correct bool
}

// EvaluateZones checks every zone against the state and returns per-zone results.
func EvaluateZones(zones []model.InteractiveZone, state model.WorksheetState, opts Options) []ZoneScore {
	byID := make(map[string]model.InteractiveZone, len(zones))
	for _, z := range zones {
		byID[z.ID] = z
	}
	selected := make(map[string]bool, len(state.SelectedZoneIDs))
	for _, id := range state.SelectedZoneIDs {
		selected[id] = true
	}

	scores := make([]ZoneScore, 0, len(zones))
	for _, z := range zones {
		points := 1.0
		if z.Points != nil {
			points = *z.Points
		}
		var correct bool
		switch z.Type {
		case model.ZoneTextInput:
			correct = normalize(state.TextAnswers[z.ID]) == normalize(z.CorrectAnswer)
		case model.ZoneDrop:
			correct = dropZoneCorrect(z, state, opts)
		case model.ZoneSelectable:
			correct = z.IsCorrect && selected[z.ID]
		case model.ZoneMatchSource, model.ZoneMatchTarget:
			correct = matchCorrect(z, byID, state.MatchedPairs)
		}
		scores = append(scores, ZoneScore{ZoneID: z.ID, Points: points, Correct: correct})
	}
	return scores
}

// ScoreZones grades a zone-based worksheet on a 0-10 scale.
func ScoreZones(ctx context.Context, zones []model.InteractiveZone, state model.WorksheetState, opts Options) (Raw, error) {
	if len(zones) == 0 {
		return Raw{}, ErrNoInteractiveData
	}
	var correct, total float64
	for _, zs := range EvaluateZones(zones, state, opts) {
		total += zs.Points
		if zs.Correct {
			correct += zs.Points
		}
	}
	score := 0.0
	if total > 0 {
		score = Round1(correct / total * 10)
	}
	return Raw{
		Score: score,
		Feedback: i18n.Td(ctx, "PointsFeedback", map[string]any{
			"Correct": formatPoints(correct),
			"Total":   formatPoints(total),
		}),
	}, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// dropZoneCorrect is true when some placed item with the right content has its
// effective center inside the zone.
func dropZoneCorrect(z model.InteractiveZone, state model.WorksheetState, opts Options) bool {
	if state.ContainerWidth <= 0 || state.ContainerHeight <= 0 {
		return false
	}
	want := normalize(z.CorrectAnswer)
	for _, item := range state.Placed {
		cx := (item.X + opts.DropOffsetX) / state.ContainerWidth * 100
		cy := (item.Y + opts.DropOffsetY) / state.ContainerHeight * 100
		inside := cx >= z.X && cx <= z.X+z.Width && cy >= z.Y && cy <= z.Y+z.Height
		if inside && normalize(item.Content) == want {
			return true
		}
	}
	return false
}

// matchCorrect is true when a pair links z to a zone of the opposite match type
// carrying the same match id.
func matchCorrect(z model.InteractiveZone, byID map[string]model.InteractiveZone, pairs []model.MatchPair) bool {
	if z.MatchID == "" {
		return false
	}
	want := model.ZoneMatchTarget
	if z.Type == model.ZoneMatchTarget {
		want = model.ZoneMatchSource
	}
	for _, p := range pairs {
		var other string
		switch z.ID {
		case p.SourceID:
			other = p.TargetID
		case p.TargetID:
			other = p.SourceID
		default:
			continue
		}
		o, ok := byID[other]
		if ok && o.Type == want && o.MatchID == z.MatchID {
			return true
		}
	}
	return false
}

// formatPoints drops the decimal part of whole point totals.
func formatPoints(p float64) any {
	if p == math.Trunc(p) {
		return int(p)
	}
	return Round1(p)
}
