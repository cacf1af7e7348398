package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// Store wraps the shared database connection. All writes that must be
// atomic go through explicit transactions here; nothing else in the
// process touches these tables directly.
type Store struct {
	db  *sql.DB
	log *log.Logger
}

// New creates a Store on an already-migrated database.
func New(db *sql.DB, logger *log.Logger) *Store {
	return &Store{db: db, log: logger}
}

// DB exposes the underlying connection for components that share the
// store's transactions, such as the queue.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateSession inserts a session row for contentSessionID if none exists
// and returns the row id either way. Any number of event sources may call
// this concurrently for the same session; they all converge on one row.
func (s *Store) CreateSession(contentSessionID, project, userPrompt string) (int64, error) {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO sdk_sessions
			(content_session_id, project, user_prompt, started_at, started_at_epoch)
		VALUES (?, ?, ?, ?, ?)
	`, contentSessionID, project, userPrompt, now.Format(time.RFC3339), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}

	var id int64
	err = s.db.QueryRow(
		`SELECT id FROM sdk_sessions WHERE content_session_id = ?`, contentSessionID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("fetch session id: %w", err)
	}
	return id, nil
}

// UpdateMemorySessionID records the agent's session id, exactly once. The
// write is verified by readback rather than trusted. The memory session id
// must never equal the content session id; equality means the caller
// confused the two streams.
func (s *Store) UpdateMemorySessionID(contentSessionID, memorySessionID string) error {
	if memorySessionID == "" {
		return fmt.Errorf("memory session id is empty")
	}
	if memorySessionID == contentSessionID {
		return fmt.Errorf("memory session id equals content session id %q", contentSessionID)
	}

	_, err := s.db.Exec(`
		UPDATE sdk_sessions SET memory_session_id = ?
		WHERE content_session_id = ? AND memory_session_id IS NULL
	`, memorySessionID, contentSessionID)
	if err != nil {
		return fmt.Errorf("update memory session id: %w", err)
	}

	sess, err := s.SessionByContentID(contentSessionID)
	if err != nil {
		return fmt.Errorf("readback after memory session update: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session %q not found after memory session update", contentSessionID)
	}
	if sess.MemorySessionID == nil || *sess.MemorySessionID != memorySessionID {
		got := "<nil>"
		if sess.MemorySessionID != nil {
			got = *sess.MemorySessionID
		}
		return fmt.Errorf("memory session id readback mismatch for %q: wrote %q, read %q",
			contentSessionID, memorySessionID, got)
	}
	return nil
}

// SessionByContentID returns the session row, or nil when absent.
func (s *Store) SessionByContentID(contentSessionID string) (*Session, error) {
	return s.scanSession(s.db.QueryRow(
		sessionSelect+` WHERE content_session_id = ?`, contentSessionID))
}

// SessionByMemoryID returns the session owning a memory session id.
func (s *Store) SessionByMemoryID(memorySessionID string) (*Session, error) {
	return s.scanSession(s.db.QueryRow(
		sessionSelect+` WHERE memory_session_id = ?`, memorySessionID))
}

const sessionSelect = `
	SELECT id, content_session_id, memory_session_id, project,
		COALESCE(user_prompt, ''), started_at, started_at_epoch,
		completed_at, completed_at_epoch, status, prompt_counter
	FROM sdk_sessions`

func (s *Store) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.ContentSessionID, &sess.MemorySessionID, &sess.Project,
		&sess.UserPrompt, &sess.StartedAt, &sess.StartedAtEpoch,
		&sess.CompletedAt, &sess.CompletedAtEpoch, &sess.Status, &sess.PromptCounter,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}

// CompleteSession marks a session finished with the given terminal status.
func (s *Store) CompleteSession(contentSessionID, status string) error {
	if status != "completed" && status != "failed" {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	now := time.Now()
	_, err := s.db.Exec(`
		UPDATE sdk_sessions
		SET status = ?, completed_at = ?, completed_at_epoch = ?
		WHERE content_session_id = ?
	`, status, now.Format(time.RFC3339), now.UnixMilli(), contentSessionID)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// SaveUserPrompt stores a prompt and returns its per-session number. The
// number is derived by counting existing rows for the session.
func (s *Store) SaveUserPrompt(contentSessionID, promptText string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM user_prompts WHERE content_session_id = ?`, contentSessionID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count prompts: %w", err)
	}
	number := count + 1

	now := time.Now()
	if _, err := tx.Exec(`
		INSERT INTO user_prompts (content_session_id, prompt_number, prompt_text, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)
	`, contentSessionID, number, promptText, now.Format(time.RFC3339), now.UnixMilli()); err != nil {
		return 0, fmt.Errorf("insert prompt: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE sdk_sessions SET prompt_counter = ? WHERE content_session_id = ?`,
		number, contentSessionID,
	); err != nil {
		return 0, fmt.Errorf("update prompt counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return number, nil
}

// PromptCount returns how many prompts a session has recorded.
func (s *Store) PromptCount(contentSessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM user_prompts WHERE content_session_id = ?`, contentSessionID,
	).Scan(&n)
	return n, err
}

// StoreResult reports what a StoreObservations call created.
type StoreResult struct {
	ObservationIDs []int64
	SummaryID      *int64
	CreatedAtEpoch int64
}

// StoreObservations inserts observations and an optional summary in one
// transaction. All rows share one timestamp; overrideEpoch, when nonzero,
// replaces "now" so backlog replays keep historical timestamps. The inTx
// hook runs inside the same transaction before commit; the queue uses it
// to mark the source message processed, so the rows and the completion
// either both land or neither does. A foreign key violation (no session
// row for memorySessionID) aborts the whole batch.
func (s *Store) StoreObservations(
	memorySessionID, project string,
	observations []Observation,
	summary *Summary,
	promptNumber *int,
	discoveryTokens int,
	overrideEpoch int64,
	inTx func(*sql.Tx) error,
) (*StoreResult, error) {
	epoch := overrideEpoch
	if epoch == 0 {
		epoch = time.Now().UnixMilli()
	}
	createdAt := time.UnixMilli(epoch).UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result := &StoreResult{CreatedAtEpoch: epoch}

	var tokens *int
	if discoveryTokens > 0 {
		tokens = &discoveryTokens
	}

	for _, obs := range observations {
		if !IsValidObservationType(obs.Type) {
			return nil, fmt.Errorf("invalid observation type %q", obs.Type)
		}
		var narrative *string
		if obs.Narrative != "" {
			narrative = &obs.Narrative
		}
		res, err := tx.Exec(`
			INSERT INTO observations (
				memory_session_id, project, text, type, title, subtitle,
				facts, concepts, files_read, files_modified,
				prompt_number, discovery_tokens, created_at, created_at_epoch
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			memorySessionID, project, narrative, obs.Type, obs.Title, obs.Subtitle,
			encodeList(obs.Facts), encodeList(obs.Concepts),
			encodeList(obs.FilesRead), encodeList(obs.FilesModified),
			promptNumber, tokens, createdAt, epoch,
		)
		if err != nil {
			return nil, fmt.Errorf("insert observation: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		result.ObservationIDs = append(result.ObservationIDs, id)
	}

	if summary != nil {
		res, err := tx.Exec(`
			INSERT INTO session_summaries (
				memory_session_id, project, request, investigated, learned,
				completed, next_steps, files_read, files_edited, notes,
				prompt_number, discovery_tokens, created_at, created_at_epoch
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			memorySessionID, project, summary.Request, summary.Investigated, summary.Learned,
			summary.Completed, summary.NextSteps,
			encodeList(summary.FilesRead), encodeList(summary.FilesEdited), summary.Notes,
			promptNumber, tokens, createdAt, epoch,
		)
		if err != nil {
			return nil, fmt.Errorf("insert summary: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		result.SummaryID = &id
	}

	if inTx != nil {
		if err := inTx(tx); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit observations: %w", err)
	}

	s.log.Debug("stored observations",
		"session", memorySessionID,
		"observations", len(result.ObservationIDs),
		"summary", result.SummaryID != nil)
	return result, nil
}
