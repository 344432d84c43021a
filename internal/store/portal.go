package store

import (
	"time"

	"github.com/pavelanni/escuela/internal/model"
)

// AddMessage stores a portal message.
func (s *Store) AddMessage(m model.Message) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO messages (student_id, sender, channel, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.StudentID, m.Sender, m.Channel, m.Content, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListMessages returns a student's messages on every channel, oldest first.
func (s *Store) ListMessages(studentID int64) ([]model.Message, error) {
	return s.queryMessages(
		`SELECT id, student_id, sender, channel, content, created_at FROM messages
		 WHERE student_id = ? ORDER BY id`, studentID)
}

// ListMessagesByChannel returns all messages on a channel, newest first.
func (s *Store) ListMessagesByChannel(ch model.MessageChannel, limit int) ([]model.Message, error) {
	return s.queryMessages(
		`SELECT id, student_id, sender, channel, content, created_at FROM messages
		 WHERE channel = ? ORDER BY id DESC LIMIT ?`, ch, limit)
}

func (s *Store) queryMessages(query string, args ...any) ([]model.Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.StudentID, &m.Sender, &m.Channel, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AddNotification stores a notification. A nil StudentID makes it school-wide.
func (s *Store) AddNotification(n model.Notification) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO notifications (student_id, title, body, created_at) VALUES (?, ?, ?, ?)`,
		n.StudentID, n.Title, n.Body, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListNotifications returns school-wide notifications plus those for studentID,
// newest first. A studentID of 0 returns only school-wide ones.
func (s *Store) ListNotifications(studentID int64) ([]model.Notification, error) {
	rows, err := s.db.Query(
		`SELECT id, student_id, title, body, created_at FROM notifications
		 WHERE student_id IS NULL OR student_id = ? ORDER BY id DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.StudentID, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// SaveEvent inserts an event, or updates it when e.ID is set.
func (s *Store) SaveEvent(e model.Event) (int64, error) {
	if e.ID != 0 {
		_, err := s.db.Exec(
			`UPDATE events SET title = ?, date = ?, description = ? WHERE id = ?`,
			e.Title, e.Date, e.Description, e.ID,
		)
		return e.ID, err
	}
	res, err := s.db.Exec(
		`INSERT INTO events (title, date, description) VALUES (?, ?, ?)`,
		e.Title, e.Date, e.Description,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEvents returns calendar events ordered by date.
func (s *Store) ListEvents() ([]model.Event, error) {
	rows, err := s.db.Query(`SELECT id, title, date, description FROM events ORDER BY date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Date, &e.Description); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// AddBehaviorLog records a conduct note.
func (s *Store) AddBehaviorLog(b model.BehaviorLog) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO behavior_logs (student_id, kind, note, created_at) VALUES (?, ?, ?, ?)`,
		b.StudentID, b.Kind, b.Note, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListBehaviorLogs returns a student's conduct notes, newest first.
func (s *Store) ListBehaviorLogs(studentID int64) ([]model.BehaviorLog, error) {
	rows, err := s.db.Query(
		`SELECT id, student_id, kind, note, created_at FROM behavior_logs
		 WHERE student_id = ? ORDER BY id DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []model.BehaviorLog
	for rows.Next() {
		var b model.BehaviorLog
		if err := rows.Scan(&b.ID, &b.StudentID, &b.Kind, &b.Note, &b.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, b)
	}
	return logs, rows.Err()
}
