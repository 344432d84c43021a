package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/escuela/internal/model"
)

// ExportResults builds an export of every student's coursework.
func (s *Store) ExportResults(school string) (*model.ResultsExport, error) {
	assignments, err := s.ListAssignments()
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	students, err := s.ListStudents()
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	out := &model.ResultsExport{
		School:      school,
		GeneratedAt: time.Now().Format(time.RFC3339),
		Assignments: assignments,
	}
	for _, st := range students {
		p, err := s.GetProgress(st.ID)
		if err != nil {
			return nil, fmt.Errorf("get progress for student %d: %w", st.ID, err)
		}

		sr := model.StudentResult{
			StudentID: st.ID,
			Name:      st.Name,
			Grade:     st.Grade,
			Group:     st.Group,
		}
		// Follow assignment order so every student lists results the same way.
		for _, a := range assignments {
			score, attempted := p.Results[a.ID]
			if !attempted && !p.Completed[a.ID] {
				continue
			}
			sr.Results = append(sr.Results, model.AssignmentResult{
				AssignmentID: a.ID,
				Title:        a.Title,
				Score:        score,
				Completed:    p.Completed[a.ID],
			})
		}
		out.Students = append(out.Students, sr)
	}
	return out, nil
}
