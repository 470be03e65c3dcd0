package database

import (
	"context"
	"database/sql"
	"time"

	"chatrelay/pkg/types"
)

const groupColumns = `g.group_id, g.group_name, g.group_description, g.creator_id, g.group_avatar_url, g.created_at`

func scanGroup(row rowScanner) (*types.Group, error) {
	var g types.Group
	if err := row.Scan(&g.GroupID, &g.GroupName, &g.GroupDescription, &g.CreatorID, &g.GroupAvatarURL, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.MemberIDs = []int64{}
	return &g, nil
}

// CreateGroup inserts a group and its creator as ADMIN.
func (m *Manager) CreateGroup(ctx context.Context, name, description string, creatorID int64) (*types.Group, error) {
	var id int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO chat_groups (group_name, group_description, creator_id, created_at) VALUES (?, ?, ?, ?)`,
			name, description, creatorID, time.Now().UTC())
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id, member_role) VALUES (?, ?, ?)`,
			id, creatorID, string(types.RoleAdmin)); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, translate(err, "create group")
	}
	return m.GetGroup(ctx, id)
}

// GetGroup loads a group with its member ids.
func (m *Manager) GetGroup(ctx context.Context, groupID int64) (*types.Group, error) {
	g, err := scanGroup(m.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM chat_groups g WHERE g.group_id = ?`, groupID))
	if err != nil {
		return nil, translate(err, "get group")
	}
	if g.MemberIDs, err = m.ListGroupMemberIDs(ctx, groupID); err != nil {
		return nil, err
	}
	return g, nil
}

// AddGroupMember adds userID as a MEMBER. Adding an existing member fails
// with ErrConflict.
func (m *Manager) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id, member_role) VALUES (?, ?, ?)`,
			groupID, userID, string(types.RoleMember))
		return err
	})
	return translate(err, "add group member")
}

// IsGroupMember reports membership.
func (m *Manager) IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	return m.exists(ctx, `SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
}

// ListUserGroups returns a user's groups, newest first, with member ids.
func (m *Manager) ListUserGroups(ctx context.Context, userID int64) ([]*types.Group, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM chat_groups g
		 JOIN group_members gm ON g.group_id = gm.group_id
		 WHERE gm.user_id = ?
		 ORDER BY g.created_at DESC, g.group_id DESC`, userID)
	if err != nil {
		return nil, translate(err, "list groups")
	}

	groups := make([]*types.Group, 0)
	byID := make(map[int64]*types.Group)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			_ = rows.Close()
			return nil, translate(err, "list groups")
		}
		groups = append(groups, g)
		byID[g.GroupID] = g
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, translate(err, "list groups")
	}
	_ = rows.Close()

	if len(groups) == 0 {
		return groups, nil
	}

	members, err := m.db.QueryContext(ctx,
		`SELECT gm.group_id, gm.user_id FROM group_members gm
		 JOIN group_members mine ON mine.group_id = gm.group_id
		 WHERE mine.user_id = ?
		 ORDER BY gm.group_id, gm.joined_at, gm.user_id`, userID)
	if err != nil {
		return nil, translate(err, "list group members")
	}
	defer func() { _ = members.Close() }()

	for members.Next() {
		var groupID, memberID int64
		if err := members.Scan(&groupID, &memberID); err != nil {
			return nil, translate(err, "list group members")
		}
		if g, ok := byID[groupID]; ok {
			g.MemberIDs = append(g.MemberIDs, memberID)
		}
	}
	return groups, translate(members.Err(), "list group members")
}

// ListGroupMembers returns members, admins first then by name.
func (m *Manager) ListGroupMembers(ctx context.Context, groupID int64) ([]*types.User, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT u.user_id, u.username, u.email, u.full_name, u.status_message, u.user_status,
		        u.avatar_url, u.created_at, u.last_login
		 FROM users u JOIN group_members gm ON u.user_id = gm.user_id
		 WHERE gm.group_id = ?
		 ORDER BY gm.member_role, u.full_name`, groupID)
	if err != nil {
		return nil, translate(err, "list group members")
	}
	users, err := collectUsers(rows)
	return users, translate(err, "list group members")
}

// ListGroupMemberIDs returns only member ids.
func (m *Manager) ListGroupMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	return m.listIDs(ctx, "list group member ids",
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY joined_at, user_id`, groupID)
}
