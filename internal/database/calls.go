package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"chatrelay/pkg/types"
)

const callSelect = `
	SELECT c.call_id, c.caller_id, c.receiver_id, c.call_type, c.call_status, c.started_at, c.ended_at, c.duration,
	       caller.full_name, receiver.full_name
	FROM calls c
	JOIN users caller ON c.caller_id = caller.user_id
	JOIN users receiver ON c.receiver_id = receiver.user_id`

func scanCall(row rowScanner) (*types.CallInfo, error) {
	var (
		call     types.CallInfo
		callType string
		status   string
		endedAt  sql.NullTime
	)
	if err := row.Scan(&call.CallID, &call.CallerID, &call.ReceiverID, &callType, &status,
		&call.StartedAt, &endedAt, &call.Duration, &call.CallerName, &call.ReceiverName); err != nil {
		return nil, err
	}
	call.CallType = types.CallType(callType)
	call.CallStatus = types.CallStatus(status)
	call.EndedAt = nullTimePtr(endedAt)
	return &call, nil
}

// CreateCall records a RINGING call.
func (m *Manager) CreateCall(ctx context.Context, callerID, receiverID int64, callType types.CallType) (*types.CallInfo, error) {
	var id int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO calls (caller_id, receiver_id, call_type, call_status, started_at) VALUES (?, ?, ?, ?, ?)`,
			callerID, receiverID, string(callType), string(types.CallRinging), time.Now().UTC())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, translate(err, "create call")
	}
	return m.GetCall(ctx, id)
}

// GetCall loads one call with both parties' names.
func (m *Manager) GetCall(ctx context.Context, callID int64) (*types.CallInfo, error) {
	call, err := scanCall(m.db.QueryRowContext(ctx, callSelect+` WHERE c.call_id = ?`, callID))
	if err != nil {
		return nil, translate(err, "get call")
	}
	return call, nil
}

// TransitionCall moves a call from one of `from` to `to`. Terminal
// statuses stamp ended_at; ENDED also stores the duration in seconds.
func (m *Manager) TransitionCall(ctx context.Context, callID int64, from []types.CallStatus, to types.CallStatus) (*types.CallInfo, error) {
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		var (
			current   string
			startedAt time.Time
		)
		err := db.QueryRowContext(ctx, `SELECT call_status, started_at FROM calls WHERE call_id = ?`, callID).
			Scan(&current, &startedAt)
		if err != nil {
			return err
		}
		if !containsStatus(from, types.CallStatus(current)) {
			return sql.ErrNoRows
		}

		now := time.Now().UTC()
		switch to {
		case types.CallAccepted:
			_, err = db.ExecContext(ctx, `UPDATE calls SET call_status = ? WHERE call_id = ?`, string(to), callID)
		case types.CallEnded:
			_, err = db.ExecContext(ctx,
				`UPDATE calls SET call_status = ?, ended_at = ?, duration = ? WHERE call_id = ?`,
				string(to), now, int64(now.Sub(startedAt).Seconds()), callID)
		default:
			_, err = db.ExecContext(ctx,
				`UPDATE calls SET call_status = ?, ended_at = ? WHERE call_id = ?`, string(to), now, callID)
		}
		return err
	})
	if err != nil {
		return nil, translate(err, "transition call to "+strings.ToLower(string(to)))
	}
	return m.GetCall(ctx, callID)
}

func containsStatus(set []types.CallStatus, s types.CallStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
