package store

import (
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/pavelanni/escuela/internal/model"
)

// Parents keep the portal open on a phone for days.
const authSessionTTL = 7 * 24 * time.Hour

// CreateAuthSession opens a session for userID and returns its token.
func (s *Store) CreateAuthSession(userID int64) (string, error) {
	token := rand.Text()
	now := time.Now()
	if _, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(authSessionTTL),
	); err != nil {
		return "", err
	}
	return token, nil
}

// SessionUser resolves a session token to its user. It returns nil when the
// token is unknown or expired, or when the account has been deactivated.
func (s *Store) SessionUser(token string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(
		`SELECT u.id, u.username, u.display_name, u.password_hash, u.role, u.active, u.student_id, u.created_at
		 FROM auth_sessions a JOIN users u ON u.id = a.user_id
		 WHERE a.id = ? AND a.expires_at > ? AND u.active = 1`,
		token, time.Now(),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// DeleteUserSessions signs a user out everywhere.
func (s *Store) DeleteUserSessions(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE user_id = ?`, userID)
	return err
}

// CleanupExpiredSessions returns how many expired sessions were removed.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at <= ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
