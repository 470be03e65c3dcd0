package database

import (
	"context"
	"database/sql"
	"time"

	"chatrelay/pkg/types"
)

const messageSelect = `
	SELECT m.message_id, m.sender_id, m.receiver_id, m.group_id, m.message_type, m.message_content,
	       m.file_url, m.file_name, m.file_size, m.is_read, m.sent_at,
	       s.username, COALESCE(r.username, '')
	FROM messages m
	JOIN users s ON m.sender_id = s.user_id
	LEFT JOIN users r ON m.receiver_id = r.user_id`

func scanMessage(row rowScanner) (*types.Message, error) {
	var (
		msg      types.Message
		receiver sql.NullInt64
		group    sql.NullInt64
		msgType  string
	)
	if err := row.Scan(&msg.MessageID, &msg.SenderID, &receiver, &group, &msgType, &msg.MessageContent,
		&msg.FileURL, &msg.FileName, &msg.FileSize, &msg.IsRead, &msg.SentAt,
		&msg.SenderName, &msg.ReceiverName); err != nil {
		return nil, err
	}
	msg.ReceiverID = nullInt64Ptr(receiver)
	msg.GroupID = nullInt64Ptr(group)
	msg.MessageType = types.MessageType(msgType)
	return &msg, nil
}

// CreateMessage stores a private or group message.
func (m *Manager) CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	var id int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO messages (sender_id, receiver_id, group_id, message_type, message_content,
			                       file_url, file_name, file_size, sent_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.SenderID, msg.ReceiverID, msg.GroupID, string(msg.MessageType), msg.MessageContent,
			msg.FileURL, msg.FileName, msg.FileSize, time.Now().UTC())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, translate(err, "create message")
	}

	stored, err := scanMessage(m.db.QueryRowContext(ctx, messageSelect+` WHERE m.message_id = ?`, id))
	if err != nil {
		return nil, translate(err, "load message")
	}
	return stored, nil
}

// ListPrivateMessages returns the conversation between a and b, newest first.
func (m *Manager) ListPrivateMessages(ctx context.Context, a, b int64, limit int) ([]*types.Message, error) {
	return m.queryMessages(ctx, "list private messages",
		messageSelect+` WHERE (m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?)
		ORDER BY m.sent_at DESC, m.message_id DESC LIMIT ?`,
		a, b, b, a, limit)
}

// ListGroupMessages returns a group's messages, newest first.
func (m *Manager) ListGroupMessages(ctx context.Context, groupID int64, limit int) ([]*types.Message, error) {
	return m.queryMessages(ctx, "list group messages",
		messageSelect+` WHERE m.group_id = ? ORDER BY m.sent_at DESC, m.message_id DESC LIMIT ?`,
		groupID, limit)
}

func (m *Manager) queryMessages(ctx context.Context, what, query string, args ...interface{}) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err, what)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, translate(err, what)
		}
		messages = append(messages, msg)
	}
	return messages, translate(rows.Err(), what)
}
