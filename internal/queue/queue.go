// Package queue is the durable pending-message queue feeding the
// summarization worker. Rows live in pending_messages and survive process
// restarts; delivery is at-least-once.
package queue

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// Message statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// Message types
const (
	TypeObservation = "observation"
	TypeSummarize   = "summarize"
)

// Message is one queued unit of summarization work.
type Message struct {
	ID                       int64  `json:"id"`
	SessionDBID              int64  `json:"sessionDbId"`
	ContentSessionID         string `json:"contentSessionId"`
	MessageType              string `json:"messageType"`
	ToolName                 string `json:"toolName,omitempty"`
	ToolInput                string `json:"toolInput,omitempty"`
	ToolResponse             string `json:"toolResponse,omitempty"`
	CWD                      string `json:"cwd,omitempty"`
	LastUserMessage          string `json:"lastUserMessage,omitempty"`
	LastAssistantMessage     string `json:"lastAssistantMessage,omitempty"`
	PromptNumber             *int   `json:"promptNumber,omitempty"`
	Status                   string `json:"status"`
	RetryCount               int    `json:"retryCount"`
	CreatedAtEpoch           int64  `json:"createdAtEpoch"`
	StartedProcessingAtEpoch *int64 `json:"startedProcessingAtEpoch,omitempty"`
	CompletedAtEpoch         *int64 `json:"completedAtEpoch,omitempty"`
	FailedAtEpoch            *int64 `json:"failedAtEpoch,omitempty"`
}

// Queue wraps the pending_messages table. It shares the store's database
// connection so completions can join the store's transactions.
type Queue struct {
	db         *sql.DB
	log        *log.Logger
	maxRetries int
}

// New creates a Queue. maxRetries bounds how often a failing message is
// put back before it goes terminal.
func New(db *sql.DB, logger *log.Logger, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Queue{db: db, log: logger, maxRetries: maxRetries}
}

// Enqueue persists a message in pending status and returns its id. The row
// is on disk before this returns; a crash after Enqueue loses nothing.
func (q *Queue) Enqueue(m *Message) (int64, error) {
	if m.MessageType != TypeObservation && m.MessageType != TypeSummarize {
		return 0, fmt.Errorf("invalid message type %q", m.MessageType)
	}

	res, err := q.db.Exec(`
		INSERT INTO pending_messages (
			session_db_id, content_session_id, message_type,
			tool_name, tool_input, tool_response, cwd,
			last_user_message, last_assistant_message,
			prompt_number, status, created_at_epoch
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
	`,
		m.SessionDBID, m.ContentSessionID, m.MessageType,
		nullable(m.ToolName), nullable(m.ToolInput), nullable(m.ToolResponse), nullable(m.CWD),
		nullable(m.LastUserMessage), nullable(m.LastAssistantMessage),
		m.PromptNumber, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	q.log.Debug("enqueued message", "id", id, "type", m.MessageType, "session", m.ContentSessionID)
	return id, nil
}

// Claim moves the oldest pending message to processing and returns it, or
// nil when the queue is empty. The transition itself is one conditional
// update guarded on status, so two workers racing for the same row see
// exactly one winner; the loser retries against the next candidate.
// Within a session, messages come out in enqueue order.
func (q *Queue) Claim() (*Message, error) {
	for {
		var id int64
		err := q.db.QueryRow(`
			SELECT id FROM pending_messages
			WHERE status = 'pending'
			ORDER BY created_at_epoch, id
			LIMIT 1
		`).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claim candidate: %w", err)
		}

		res, err := q.db.Exec(`
			UPDATE pending_messages
			SET status = 'processing', started_processing_at_epoch = ?
			WHERE id = ? AND status = 'pending'
		`, time.Now().UnixMilli(), id)
		if err != nil {
			return nil, fmt.Errorf("claim: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Another worker won this row
			continue
		}
		return q.MessageByID(id)
	}
}

// CompleteTx marks a processing message processed and nulls its payload
// columns, inside the caller's transaction. The caller commits it together
// with the observation rows the message produced. Completing a row that is
// not processing is a no-op; duplicate completion signals are harmless.
func (q *Queue) CompleteTx(tx *sql.Tx, messageID int64) error {
	_, err := tx.Exec(`
		UPDATE pending_messages
		SET status = 'processed',
			completed_at_epoch = ?,
			tool_input = NULL,
			tool_response = NULL
		WHERE id = ? AND status = 'processing'
	`, time.Now().UnixMilli(), messageID)
	if err != nil {
		return fmt.Errorf("complete message %d: %w", messageID, err)
	}
	return nil
}

// Complete is CompleteTx in its own transaction, for callers with no
// companion writes.
func (q *Queue) Complete(messageID int64) error {
	tx, err := q.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := q.CompleteTx(tx, messageID); err != nil {
		return err
	}
	return tx.Commit()
}

// Fail records a processing failure. Under the retry limit the message
// goes back to pending for another attempt; at the limit it goes terminal.
func (q *Queue) Fail(messageID int64) error {
	now := time.Now().UnixMilli()
	res, err := q.db.Exec(`
		UPDATE pending_messages
		SET retry_count = retry_count + 1,
			failed_at_epoch = ?,
			started_processing_at_epoch = NULL,
			status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'pending' END
		WHERE id = ? AND status = 'processing'
	`, now, q.maxRetries, messageID)
	if err != nil {
		return fmt.Errorf("fail message %d: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	var status string
	var retries int
	if err := q.db.QueryRow(
		`SELECT status, retry_count FROM pending_messages WHERE id = ?`, messageID,
	).Scan(&status, &retries); err != nil {
		return err
	}
	if status == StatusFailed {
		q.log.Warn("message failed terminally", "id", messageID, "retries", retries)
	} else {
		q.log.Info("message returned to queue", "id", messageID, "retries", retries)
	}
	return nil
}

// RecoverStuck resets processing rows whose claim predates now-threshold
// back to pending. A crashed worker leaves such rows behind; after the
// threshold they are indistinguishable from abandoned work. Returns how
// many rows were reset.
func (q *Queue) RecoverStuck(threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold).UnixMilli()
	res, err := q.db.Exec(`
		UPDATE pending_messages
		SET status = 'pending', started_processing_at_epoch = NULL
		WHERE status = 'processing' AND started_processing_at_epoch < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stuck: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.Warn("recovered stuck messages", "count", n)
	}
	return n, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
