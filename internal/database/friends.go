package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"chatrelay/pkg/types"
)

const friendRequestSelect = `
	SELECT fr.request_id, fr.sender_id, fr.receiver_id, fr.request_status, fr.created_at, fr.updated_at,
	       s.username, s.full_name, r.username, r.full_name
	FROM friend_requests fr
	JOIN users s ON fr.sender_id = s.user_id
	JOIN users r ON fr.receiver_id = r.user_id`

func scanFriendRequest(row rowScanner) (*types.FriendRequest, error) {
	var (
		fr     types.FriendRequest
		status string
	)
	if err := row.Scan(&fr.RequestID, &fr.SenderID, &fr.ReceiverID, &status, &fr.CreatedAt, &fr.UpdatedAt,
		&fr.SenderUsername, &fr.SenderFullName, &fr.ReceiverUsername, &fr.ReceiverFullName); err != nil {
		return nil, err
	}
	fr.RequestStatus = types.RequestStatus(status)
	return &fr, nil
}

// AreFriends reports whether a friendship row exists from a to b.
func (m *Manager) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	return m.exists(ctx, `SELECT COUNT(*) FROM friends WHERE user_id = ? AND friend_id = ?`, a, b)
}

// HasPendingRequest checks for a pending request in either direction.
func (m *Manager) HasPendingRequest(ctx context.Context, a, b int64) (bool, error) {
	return m.exists(ctx,
		`SELECT COUNT(*) FROM friend_requests
		 WHERE request_status = 'PENDING'
		   AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`,
		a, b, b, a)
}

// CreateFriendRequest inserts a pending request.
func (m *Manager) CreateFriendRequest(ctx context.Context, senderID, receiverID int64) (*types.FriendRequest, error) {
	var id int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		now := time.Now().UTC()
		res, err := db.ExecContext(ctx,
			`INSERT INTO friend_requests (sender_id, receiver_id, request_status, created_at, updated_at)
			 VALUES (?, ?, 'PENDING', ?, ?)`,
			senderID, receiverID, now, now)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, translate(err, "create friend request")
	}
	return m.GetFriendRequest(ctx, id)
}

// GetFriendRequest loads one request with both parties' names.
func (m *Manager) GetFriendRequest(ctx context.Context, requestID int64) (*types.FriendRequest, error) {
	fr, err := scanFriendRequest(m.db.QueryRowContext(ctx, friendRequestSelect+` WHERE fr.request_id = ?`, requestID))
	if err != nil {
		return nil, translate(err, "get friend request")
	}
	return fr, nil
}

// AcceptFriendRequest flips a PENDING request to ACCEPTED and inserts both
// friendship directions in one transaction.
func (m *Manager) AcceptFriendRequest(ctx context.Context, requestID int64) error {
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var senderID, receiverID int64
		err = tx.QueryRowContext(ctx,
			`SELECT sender_id, receiver_id FROM friend_requests WHERE request_id = ? AND request_status = 'PENDING'`,
			requestID).Scan(&senderID, &receiverID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE friend_requests SET request_status = 'ACCEPTED', updated_at = ? WHERE request_id = ?`,
			time.Now().UTC(), requestID); err != nil {
			return err
		}

		for _, pair := range [][2]int64{{senderID, receiverID}, {receiverID, senderID}} {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO friends (user_id, friend_id) VALUES (?, ?)`, pair[0], pair[1]); err != nil {
				return errors.Wrap(err, "insert friendship")
			}
		}
		return tx.Commit()
	})
	return translate(err, "accept friend request")
}

// RejectFriendRequest flips a PENDING request to REJECTED.
func (m *Manager) RejectFriendRequest(ctx context.Context, requestID int64) error {
	return m.updateOne(ctx, "reject friend request",
		`UPDATE friend_requests SET request_status = 'REJECTED', updated_at = ?
		 WHERE request_id = ? AND request_status = 'PENDING'`,
		time.Now().UTC(), requestID)
}

// ListPendingRequests returns pending requests received by a user, newest first.
func (m *Manager) ListPendingRequests(ctx context.Context, receiverID int64) ([]*types.FriendRequest, error) {
	rows, err := m.db.QueryContext(ctx,
		friendRequestSelect+` WHERE fr.receiver_id = ? AND fr.request_status = 'PENDING'
		ORDER BY fr.created_at DESC, fr.request_id DESC`, receiverID)
	if err != nil {
		return nil, translate(err, "list friend requests")
	}
	defer func() { _ = rows.Close() }()

	requests := make([]*types.FriendRequest, 0)
	for rows.Next() {
		fr, err := scanFriendRequest(rows)
		if err != nil {
			return nil, translate(err, "list friend requests")
		}
		requests = append(requests, fr)
	}
	return requests, translate(rows.Err(), "list friend requests")
}

// ListFriends returns a user's friends, online first then by name.
func (m *Manager) ListFriends(ctx context.Context, userID int64) ([]*types.User, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT u.user_id, u.username, u.email, u.full_name, u.status_message, u.user_status,
		        u.avatar_url, u.created_at, u.last_login
		 FROM users u JOIN friends f ON u.user_id = f.friend_id
		 WHERE f.user_id = ?
		 ORDER BY u.user_status DESC, u.full_name`, userID)
	if err != nil {
		return nil, translate(err, "list friends")
	}
	users, err := collectUsers(rows)
	return users, translate(err, "list friends")
}

// ListFriendIDs returns only the ids of a user's friends.
func (m *Manager) ListFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	return m.listIDs(ctx, "list friend ids", `SELECT friend_id FROM friends WHERE user_id = ?`, userID)
}

func (m *Manager) listIDs(ctx context.Context, what, query string, args ...interface{}) ([]int64, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err, what)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, translate(err, what)
		}
		ids = append(ids, id)
	}
	return ids, translate(rows.Err(), what)
}
