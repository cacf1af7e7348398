package queue

import (
	"database/sql"
	"fmt"
	"time"
)

const messageSelect = `
	SELECT id, session_db_id, content_session_id, message_type,
		COALESCE(tool_name, ''), COALESCE(tool_input, ''), COALESCE(tool_response, ''),
		COALESCE(cwd, ''), COALESCE(last_user_message, ''), COALESCE(last_assistant_message, ''),
		prompt_number, status, retry_count, created_at_epoch,
		started_processing_at_epoch, completed_at_epoch, failed_at_epoch
	FROM pending_messages`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.SessionDBID, &m.ContentSessionID, &m.MessageType,
		&m.ToolName, &m.ToolInput, &m.ToolResponse,
		&m.CWD, &m.LastUserMessage, &m.LastAssistantMessage,
		&m.PromptNumber, &m.Status, &m.RetryCount, &m.CreatedAtEpoch,
		&m.StartedProcessingAtEpoch, &m.CompletedAtEpoch, &m.FailedAtEpoch,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (q *Queue) collect(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MessageByID returns one message, or an error when it does not exist.
func (q *Queue) MessageByID(id int64) (*Message, error) {
	m, err := scanMessage(q.db.QueryRow(messageSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read message %d: %w", id, err)
	}
	return m, nil
}

// Messages returns queue rows filtered by status, oldest first. An empty
// status returns everything.
func (q *Queue) Messages(status string, limit int) ([]Message, error) {
	query := messageSelect
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at_epoch, id LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return q.collect(rows)
}

// RecentlyProcessed returns the newest processed messages, newest first.
func (q *Queue) RecentlyProcessed(limit int) ([]Message, error) {
	rows, err := q.db.Query(
		messageSelect+` WHERE status = 'processed' ORDER BY completed_at_epoch DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return q.collect(rows)
}

// PendingCount returns how many messages await processing.
func (q *Queue) PendingCount() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM pending_messages WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// StuckCount counts processing rows older than the threshold.
func (q *Queue) StuckCount(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold).UnixMilli()
	var n int
	err := q.db.QueryRow(
		`SELECT COUNT(*) FROM pending_messages WHERE status = 'processing' AND started_processing_at_epoch < ?`,
		cutoff,
	).Scan(&n)
	return n, err
}

// HasPendingWork reports whether anything is pending or processing.
func (q *Queue) HasPendingWork() (bool, error) {
	var n int
	err := q.db.QueryRow(
		`SELECT COUNT(*) FROM pending_messages WHERE status IN ('pending', 'processing')`,
	).Scan(&n)
	return n > 0, err
}

// OldestPendingEpoch returns the created_at_epoch of the oldest pending
// message, or 0 when the queue is empty. Used to surface backlog age.
func (q *Queue) OldestPendingEpoch() (int64, error) {
	var epoch sql.NullInt64
	err := q.db.QueryRow(
		`SELECT MIN(created_at_epoch) FROM pending_messages WHERE status = 'pending'`,
	).Scan(&epoch)
	if err != nil {
		return 0, err
	}
	return epoch.Int64, nil
}

// SessionsWithPendingWork lists content session ids with unfinished
// messages, oldest backlog first.
func (q *Queue) SessionsWithPendingWork() ([]string, error) {
	rows, err := q.db.Query(`
		SELECT content_session_id FROM pending_messages
		WHERE status IN ('pending', 'processing')
		GROUP BY content_session_id
		ORDER BY MIN(created_at_epoch)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RetryFailed returns terminal failed rows to pending with a fresh retry
// budget. Operator action; returns how many rows were re-queued.
func (q *Queue) RetryFailed() (int64, error) {
	res, err := q.db.Exec(`
		UPDATE pending_messages
		SET status = 'pending', retry_count = 0, failed_at_epoch = NULL
		WHERE status = 'failed'
	`)
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed deletes terminal failed rows.
func (q *Queue) ClearFailed() (int64, error) {
	res, err := q.db.Exec(`DELETE FROM pending_messages WHERE status = 'failed'`)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// PurgeProcessed deletes processed audit rows older than the retention
// window. The payload columns are already nulled; this drops the rows
// themselves.
func (q *Queue) PurgeProcessed(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := q.db.Exec(
		`DELETE FROM pending_messages WHERE status = 'processed' AND completed_at_epoch < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge processed: %w", err)
	}
	return res.RowsAffected()
}
