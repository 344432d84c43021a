package model

// ResultsExport is the top-level JSON structure for coursework export.
type ResultsExport struct {
	School      string          `json:"school"`
	GeneratedAt string          `json:"generated_at"`
	Assignments []Assignment    `json:"assignments"`
	Students    []StudentResult `json:"students"`
}

// StudentResult holds one student's coursework for export.
type StudentResult struct {
	StudentID int64              `json:"student_id"`
	Name      string             `json:"name"`
	Grade     string             `json:"grade"`
	Group     string             `json:"group"`
	Results   []AssignmentResult `json:"results"`
}

// AssignmentResult holds per-assignment data for export.
type AssignmentResult struct {
	AssignmentID string   `json:"assignment_id"`
	Title        string   `json:"title"`
	Score        *float64 `json:"score"`
	Completed    bool     `json:"completed"`
}
