package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/escuela/internal/model"
)

// definition is the JSON payload stored alongside an assignment row.
type definition struct {
	Worksheet *model.Worksheet `json:"worksheet,omitempty"`
	Quiz      *model.Quiz      `json:"quiz,omitempty"`
}

const assignmentColumns = `id, title, type, mode, due_date, min_score, criteria, definition,
	background IS NOT NULL AND length(background) > 0, created_at`

func scanAssignment(row interface{ Scan(...any) error }) (*model.Assignment, error) {
	var (
		a        model.Assignment
		minScore sql.NullFloat64
		def      string
	)
	err := row.Scan(&a.ID, &a.Title, &a.Type, &a.Mode, &a.DueDate, &minScore, &a.Criteria, &def, &a.HasBackground, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if minScore.Valid {
		v := minScore.Float64
		a.MinScoreToPass = &v
	}
	var d definition
	if err := json.Unmarshal([]byte(def), &d); err != nil {
		return nil, fmt.Errorf("decode assignment %s definition: %w", a.ID, err)
	}
	a.Worksheet, a.Quiz = d.Worksheet, d.Quiz
	return &a, nil
}

// CreateAssignment stores an assignment. The caller assigns the ID.
func (s *Store) CreateAssignment(a model.Assignment) error {
	def, err := json.Marshal(definition{Worksheet: a.Worksheet, Quiz: a.Quiz})
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO assignments (id, title, type, mode, due_date, min_score, criteria, definition, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Type, a.Mode, a.DueDate, a.MinScoreToPass, a.Criteria, string(def), time.Now(),
	)
	return err
}

// GetAssignment returns an assignment by ID, or nil if none exists.
func (s *Store) GetAssignment(id string) (*model.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRow(`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListAssignments returns all assignments, newest first.
func (s *Store) ListAssignments() ([]model.Assignment, error) {
	rows, err := s.db.Query(`SELECT ` + assignmentColumns + ` FROM assignments ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// SetBackground stores the worksheet image for an assignment.
func (s *Store) SetBackground(id string, img []byte) error {
	res, err := s.db.Exec(`UPDATE assignments SET background = ? WHERE id = ?`, img, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetBackground returns the worksheet image, or nil when none was uploaded.
func (s *Store) GetBackground(id string) ([]byte, error) {
	var img []byte
	err := s.db.QueryRow(`SELECT background FROM assignments WHERE id = ?`, id).Scan(&img)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return img, err
}

// InsertEvidence stores an evidence image.
func (s *Store) InsertEvidence(e model.Evidence) error {
	_, err := s.db.Exec(
		`INSERT INTO evidence (id, student_id, assignment_id, png, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.StudentID, e.AssignmentID, e.PNG, time.Now(),
	)
	return err
}

// GetEvidence returns an evidence record with its image, or nil if none exists.
func (s *Store) GetEvidence(id string) (*model.Evidence, error) {
	var e model.Evidence
	err := s.db.QueryRow(
		`SELECT id, student_id, assignment_id, png, created_at FROM evidence WHERE id = ?`, id,
	).Scan(&e.ID, &e.StudentID, &e.AssignmentID, &e.PNG, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
