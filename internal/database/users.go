package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"chatrelay/pkg/types"
)

const userColumns = `user_id, username, email, full_name, status_message, user_status, avatar_url, created_at, last_login`

func scanUser(row rowScanner) (*types.User, error) {
	var (
		u         types.User
		status    string
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.UserID, &u.Username, &u.Email, &u.FullName, &u.StatusMessage,
		&status, &u.AvatarURL, &u.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	u.UserStatus = types.UserStatus(status)
	u.LastLogin = nullTimePtr(lastLogin)
	return &u, nil
}

func collectUsers(rows *sql.Rows) ([]*types.User, error) {
	defer func() { _ = rows.Close() }()

	users := make([]*types.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateUser inserts a new account.
func (m *Manager) CreateUser(ctx context.Context, reg *types.Registration, passwordHash string) (*types.User, error) {
	var id int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO users (username, email, password_hash, full_name, created_at) VALUES (?, ?, ?, ?, ?)`,
			reg.Username, reg.Email, passwordHash, reg.FullName, time.Now().UTC())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, translate(err, "create user")
	}
	return m.GetUserByID(ctx, id)
}

// GetUserByID loads one user.
func (m *Manager) GetUserByID(ctx context.Context, userID int64) (*types.User, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	u, err := scanUser(row)
	if err != nil {
		return nil, translate(err, "get user")
	}
	return u, nil
}

// GetCredentials loads a user together with the stored password hash.
func (m *Manager) GetCredentials(ctx context.Context, username string) (*types.User, string, error) {
	var (
		u         types.User
		status    string
		lastLogin sql.NullTime
		hash      string
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE username = ?`, username,
	).Scan(&u.UserID, &u.Username, &u.Email, &u.FullName, &u.StatusMessage,
		&status, &u.AvatarURL, &u.CreatedAt, &lastLogin, &hash)
	if err != nil {
		return nil, "", translate(err, "get credentials")
	}
	u.UserStatus = types.UserStatus(status)
	u.LastLogin = nullTimePtr(lastLogin)
	return &u, hash, nil
}

// UsernameExists reports whether the username is taken.
func (m *Manager) UsernameExists(ctx context.Context, username string) (bool, error) {
	return m.exists(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username)
}

// EmailExists reports whether the email is taken.
func (m *Manager) EmailExists(ctx context.Context, email string) (bool, error) {
	return m.exists(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email)
}

func (m *Manager) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var count int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, translate(err, "existence check")
	}
	return count > 0, nil
}

// SearchUsers matches keyword against username, full name and email.
func (m *Manager) SearchUsers(ctx context.Context, keyword string, limit int) ([]*types.User, error) {
	pattern := "%" + escapeLike(keyword) + "%"
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE username LIKE ? ESCAPE '\' OR full_name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\'
		 ORDER BY username LIMIT ?`,
		pattern, pattern, pattern, limit)
	if err != nil {
		return nil, translate(err, "search users")
	}
	users, err := collectUsers(rows)
	return users, translate(err, "search users")
}

// UpdateProfile sets full name and status message.
func (m *Manager) UpdateProfile(ctx context.Context, userID int64, fullName, statusMessage string) error {
	return m.updateOne(ctx, "update profile",
		`UPDATE users SET full_name = ?, status_message = ? WHERE user_id = ?`,
		fullName, statusMessage, userID)
}

// UpdateStatus sets the advertised status.
func (m *Manager) UpdateStatus(ctx context.Context, userID int64, status types.UserStatus) error {
	return m.updateOne(ctx, "update status",
		`UPDATE users SET user_status = ? WHERE user_id = ?`, string(status), userID)
}

// ResetPresence marks every user OFFLINE and returns how many rows
// changed. Presence lives in memory, so no stored ONLINE survives a
// process that is starting up or shutting down.
func (m *Manager) ResetPresence(ctx context.Context) (int64, error) {
	var n int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE users SET user_status = ? WHERE user_status <> ?`,
			string(types.StatusOffline), string(types.StatusOffline))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, translate(err, "reset presence")
}

// TouchLastLogin records the current time as the last login.
func (m *Manager) TouchLastLogin(ctx context.Context, userID int64) error {
	return m.updateOne(ctx, "touch last login",
		`UPDATE users SET last_login = ? WHERE user_id = ?`, time.Now().UTC(), userID)
}

// updateOne runs an UPDATE on the writer and fails with ErrNotFound when
// no row matched.
func (m *Manager) updateOne(ctx context.Context, what, query string, args ...interface{}) error {
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
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
	})
	return translate(err, what)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
