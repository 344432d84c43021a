package store

import (
	"database/sql"
	"time"

	"github.com/pavelanni/escuela/internal/model"
)

// InsertStaff stores a staff member. The category must already be resolved.
func (s *Store) InsertStaff(m model.StaffMember) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO staff (name, role, grp, category) VALUES (?, ?, ?, ?)`,
		m.Name, m.Role, m.Group, m.Category,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListStaff returns the staff directory in insertion order, which is also the
// rotation's unshuffled order.
func (s *Store) ListStaff() ([]model.StaffMember, error) {
	rows, err := s.db.Query(`SELECT id, name, role, grp, category FROM staff ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var staff []model.StaffMember
	for rows.Next() {
		var m model.StaffMember
		if err := rows.Scan(&m.ID, &m.Name, &m.Role, &m.Group, &m.Category); err != nil {
			return nil, err
		}
		staff = append(staff, m)
	}
	return staff, rows.Err()
}

// StaffCount returns the number of staff rows.
func (s *Store) StaffCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM staff`).Scan(&count)
	return count, err
}

// InsertStudent stores a student.
func (s *Store) InsertStudent(st model.Student) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO students (name, grade, grp, guardian, bap, usaer, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.Name, st.Grade, st.Group, st.Guardian, st.BAP, st.USAER, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetStudent returns a student by ID, or nil if none exists.
func (s *Store) GetStudent(id int64) (*model.Student, error) {
	var st model.Student
	err := s.db.QueryRow(
		`SELECT id, name, grade, grp, guardian, bap, usaer, created_at FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.Name, &st.Grade, &st.Group, &st.Guardian, &st.BAP, &st.USAER, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStudents returns all students ordered by name.
func (s *Store) ListStudents() ([]model.Student, error) {
	rows, err := s.db.Query(`SELECT id, name, grade, grp, guardian, bap, usaer, created_at FROM students ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []model.Student
	for rows.Next() {
		var st model.Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Grade, &st.Group, &st.Guardian, &st.BAP, &st.USAER, &st.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// GetProgress loads a student's results and completed set.
func (s *Store) GetProgress(studentID int64) (model.Progress, error) {
	p := model.NewProgress()
	rows, err := s.db.Query(
		`SELECT assignment_id, score, completed FROM assignment_results WHERE student_id = ?`, studentID,
	)
	if err != nil {
		return p, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id        string
			score     sql.NullFloat64
			completed bool
		)
		if err := rows.Scan(&id, &score, &completed); err != nil {
			return p, err
		}
		if score.Valid {
			v := score.Float64
			p.Results[id] = &v
		} else {
			p.Results[id] = nil
		}
		if completed {
			p.Completed[id] = true
		}
	}
	return p, rows.Err()
}

// SaveAttempt merges one attempt into the student's entry for assignmentID.
// Only that row is written: a nil score keeps the stored one and completion is
// never cleared, so concurrent attempts on other assignments are unaffected.
func (s *Store) SaveAttempt(studentID int64, assignmentID string, at model.Attempt) error {
	_, err := s.db.Exec(
		`INSERT INTO assignment_results (student_id, assignment_id, score, completed, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, assignment_id) DO UPDATE SET
		   score = COALESCE(excluded.score, assignment_results.score),
		   completed = MAX(assignment_results.completed, excluded.completed),
		   updated_at = excluded.updated_at`,
		studentID, assignmentID, at.Score, at.Completed, time.Now(),
	)
	return err
}
