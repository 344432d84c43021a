package model

import "time"

// AssignmentType distinguishes interactive worksheets from multiple-choice quizzes.
type AssignmentType string

const (
	AssignmentWorksheet AssignmentType = "WORKSHEET"
	AssignmentQuiz      AssignmentType = "QUIZ"
)

// GradingMode selects how a worksheet submission is scored. It is fixed when the
// assignment is authored.
type GradingMode string

const (
	ModeUnset     GradingMode = ""
	ModeZones     GradingMode = "zones"
	ModeGeometric GradingMode = "geometric"
	ModeModel     GradingMode = "model"
)

// ZoneType is the interaction a zone accepts.
type ZoneType string

const (
	ZoneTextInput   ZoneType = "TEXT_INPUT"
	ZoneDrop        ZoneType = "DROP_ZONE"
	ZoneSelectable  ZoneType = "SELECTABLE"
	ZoneMatchSource ZoneType = "MATCH_SOURCE"
	ZoneMatchTarget ZoneType = "MATCH_TARGET"
)

// InteractiveZone is a rectangle over the worksheet image. Coordinates are
// percentages of the container.
type InteractiveZone struct {
	ID            string   `json:"id" validate:"required"`
	Type          ZoneType `json:"type" validate:"required,oneof=TEXT_INPUT DROP_ZONE SELECTABLE MATCH_SOURCE MATCH_TARGET"`
	X             float64  `json:"x" validate:"gte=0,lte=100"`
	Y             float64  `json:"y" validate:"gte=0,lte=100"`
	Width         float64  `json:"width" validate:"gte=0,lte=100"`
	Height        float64  `json:"height" validate:"gte=0,lte=100"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
	IsCorrect     bool     `json:"is_correct,omitempty"`
	MatchID       string   `json:"match_id,omitempty"`
	Points        *float64 `json:"points,omitempty" validate:"omitempty,gte=0"`
}

// DraggableKind is the content type of a draggable item.
type DraggableKind string

const (
	DraggableText  DraggableKind = "TEXT"
	DraggableImage DraggableKind = "IMAGE"
)

// DraggableItem is a piece the student drags onto drop zones.
type DraggableItem struct {
	ID      string        `json:"id" validate:"required"`
	Content string        `json:"content"`
	Type    DraggableKind `json:"type" validate:"omitempty,oneof=TEXT IMAGE"`
}

// Point is a pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Worksheet is the definition of an interactive worksheet.
type Worksheet struct {
	Zones           []InteractiveZone `json:"zones,omitempty" validate:"dive"`
	Draggables      []DraggableItem   `json:"draggables,omitempty" validate:"dive"`
	AnswerKeyPoints []Point           `json:"answer_key_points,omitempty"`
}

// QuizQuestion is a single multiple-choice question.
type QuizQuestion struct {
	Text         string   `json:"text" validate:"required"`
	Options      []string `json:"options" validate:"min=2"`
	CorrectIndex int      `json:"correct_index" validate:"gte=0"`
}

// Quiz is the definition of a QUIZ assignment.
type Quiz struct {
	Questions []QuizQuestion `json:"questions" validate:"dive"`
}

// Assignment is a unit of coursework a student can submit.
type Assignment struct {
	ID             string         `json:"id"`
	Title          string         `json:"title" validate:"required"`
	Type           AssignmentType `json:"type" validate:"required,oneof=WORKSHEET QUIZ"`
	Mode           GradingMode    `json:"mode,omitempty" validate:"omitempty,oneof=zones geometric model"`
	DueDate        string         `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	MinScoreToPass *float64       `json:"min_score_to_pass,omitempty" validate:"omitempty,gte=0,lte=10"`
	Criteria       string         `json:"criteria,omitempty"`
	Worksheet      *Worksheet     `json:"worksheet,omitempty"`
	Quiz           *Quiz          `json:"quiz,omitempty"`
	HasBackground  bool           `json:"has_background"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PublicQuestion is a quiz question without its answer.
type PublicQuestion struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// PublicQuiz is a quiz without its answers.
type PublicQuiz struct {
	Questions []PublicQuestion `json:"questions"`
}

// PublicAssignment is an assignment as students and parents see it: the layout
// they need to work on it, with the answer key removed.
type PublicAssignment struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Type           AssignmentType `json:"type"`
	Mode           GradingMode    `json:"mode,omitempty"`
	DueDate        string         `json:"due_date,omitempty"`
	MinScoreToPass *float64       `json:"min_score_to_pass,omitempty"`
	Criteria       string         `json:"criteria,omitempty"`
	Worksheet      *Worksheet     `json:"worksheet,omitempty"`
	Quiz           *PublicQuiz    `json:"quiz,omitempty"`
	HasBackground  bool           `json:"has_background"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Public returns a without correct answers, correct selections, match pairings,
// answer-key points or correct quiz options. a is not modified.
func (a Assignment) Public() PublicAssignment {
	out := PublicAssignment{
		ID:             a.ID,
		Title:          a.Title,
		Type:           a.Type,
		Mode:           a.Mode,
		DueDate:        a.DueDate,
		MinScoreToPass: a.MinScoreToPass,
		Criteria:       a.Criteria,
		HasBackground:  a.HasBackground,
		CreatedAt:      a.CreatedAt,
	}
	if a.Worksheet != nil {
		ws := &Worksheet{Draggables: a.Worksheet.Draggables}
		for _, z := range a.Worksheet.Zones {
			z.CorrectAnswer = ""
			z.IsCorrect = false
			z.MatchID = ""
			ws.Zones = append(ws.Zones, z)
		}
		out.Worksheet = ws
	}
	if a.Quiz != nil {
		q := &PublicQuiz{Questions: make([]PublicQuestion, 0, len(a.Quiz.Questions))}
		for _, qq := range a.Quiz.Questions {
			q.Questions = append(q.Questions, PublicQuestion{Text: qq.Text, Options: qq.Options})
		}
		out.Quiz = q
	}
	return out
}

// PlacedItem is a draggable item at its current pixel position.
type PlacedItem struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// MatchPair connects a MATCH_SOURCE zone with a MATCH_TARGET zone.
type MatchPair struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// WorksheetState is the interaction state recorded during a worksheet session.
type WorksheetState struct {
	TextAnswers     map[string]string `json:"text_answers"`
	Placed          []PlacedItem      `json:"placed_items"`
	SelectedZoneIDs []string          `json:"selected_zone_ids"`
	MatchedPairs    []MatchPair       `json:"matched_pairs"`
	StudentMarks    []Point           `json:"student_marks"`
	ContainerWidth  float64           `json:"container_width"`
	ContainerHeight float64           `json:"container_height"`
}

// GradingResult is the outcome of scoring one attempt.
type GradingResult struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
	Passed   bool    `json:"passed"`
	Late     bool    `json:"late"`
}

// Progress is a student's coursework record. A nil result means the assignment
// was marked complete without a score.
type Progress struct {
	Results   map[string]*float64 `json:"assignment_results"`
	Completed map[string]bool     `json:"completed_assignment_ids"`
}

// NewProgress returns an empty progress record.
func NewProgress() Progress {
	return Progress{
		Results:   make(map[string]*float64),
		Completed: make(map[string]bool),
	}
}

// Attempt is the change one graded attempt makes to a single assignment's
// progress entry. A nil Score keeps whatever score was stored before, and
// Completed never reopens an assignment that is already complete.
type Attempt struct {
	Score     *float64
	Completed bool
}

// SubmissionOutcome is returned to the student after a submission.
type SubmissionOutcome struct {
	AssignmentID string         `json:"assignment_id"`
	Result       *GradingResult `json:"result,omitempty"`
	Mode         GradingMode    `json:"mode"`
	EvidenceID   string         `json:"evidence_id,omitempty"`
	FailedOpen   bool           `json:"failed_open"`
}

// Evidence is a stored composite image of a submission.
type Evidence struct {
	ID           string    `json:"id"`
	StudentID    int64     `json:"student_id"`
	AssignmentID string    `json:"assignment_id"`
	PNG          []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
