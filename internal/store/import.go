package store

import (
	"fmt"
	"time"
)

// ImportSessions bulk-inserts session rows, keeping their original ids and
// timestamps. Existing content session ids are skipped.
func (s *Store) ImportSessions(sessions []Session) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	imported := 0
	for _, sess := range sessions {
		startedAt := sess.StartedAt
		if startedAt == "" {
			startedAt = time.UnixMilli(sess.StartedAtEpoch).UTC().Format(time.RFC3339)
		}
		status := sess.Status
		if status == "" {
			status = "completed"
		}
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO sdk_sessions
				(content_session_id, memory_session_id, project, user_prompt,
				 started_at, started_at_epoch, completed_at, completed_at_epoch, status, prompt_counter)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			sess.ContentSessionID, sess.MemorySessionID, sess.Project, sess.UserPrompt,
			startedAt, sess.StartedAtEpoch, sess.CompletedAt, sess.CompletedAtEpoch,
			status, sess.PromptCounter,
		)
		if err != nil {
			return imported, fmt.Errorf("import session %q: %w", sess.ContentSessionID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}

	if err := tx.Commit(); err != nil {
		return imported, err
	}
	return imported, nil
}

// ImportObservations bulk-inserts historical observations with their
// original timestamps. Parents must already exist; a missing session row
// fails the whole batch.
func (s *Store) ImportObservations(observations []Observation) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, o := range observations {
		if !IsValidObservationType(o.Type) {
			return 0, fmt.Errorf("invalid observation type %q", o.Type)
		}
		var narrative *string
		if o.Narrative != "" {
			narrative = &o.Narrative
		}
		createdAt := o.CreatedAt
		if createdAt == "" {
			createdAt = time.UnixMilli(o.CreatedAtEpoch).UTC().Format(time.RFC3339)
		}
		if _, err := tx.Exec(`
			INSERT INTO observations (
				memory_session_id, project, text, type, title, subtitle,
				facts, concepts, files_read, files_modified,
				prompt_number, discovery_tokens, created_at, created_at_epoch
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			o.MemorySessionID, o.Project, narrative, o.Type, o.Title, o.Subtitle,
			encodeList(o.Facts), encodeList(o.Concepts),
			encodeList(o.FilesRead), encodeList(o.FilesModified),
			o.PromptNumber, o.DiscoveryTokens, createdAt, o.CreatedAtEpoch,
		); err != nil {
			return 0, fmt.Errorf("import observation %q: %w", o.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(observations), nil
}

// ImportSummaries bulk-inserts historical summaries.
func (s *Store) ImportSummaries(summaries []Summary) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, m := range summaries {
		createdAt := m.CreatedAt
		if createdAt == "" {
			createdAt = time.UnixMilli(m.CreatedAtEpoch).UTC().Format(time.RFC3339)
		}
		if _, err := tx.Exec(`
			INSERT INTO session_summaries (
				memory_session_id, project, request, investigated, learned,
				completed, next_steps, files_read, files_edited, notes,
				prompt_number, discovery_tokens, created_at, created_at_epoch
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			m.MemorySessionID, m.Project, m.Request, m.Investigated, m.Learned,
			m.Completed, m.NextSteps,
			encodeList(m.FilesRead), encodeList(m.FilesEdited), m.Notes,
			m.PromptNumber, m.DiscoveryTokens, createdAt, m.CreatedAtEpoch,
		); err != nil {
			return 0, fmt.Errorf("import summary for %q: %w", m.MemorySessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(summaries), nil
}

// ImportPrompts bulk-inserts historical user prompts with their original
// per-session numbering.
func (s *Store) ImportPrompts(prompts []UserPrompt) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, p := range prompts {
		createdAt := p.CreatedAt
		if createdAt == "" {
			createdAt = time.UnixMilli(p.CreatedAtEpoch).UTC().Format(time.RFC3339)
		}
		if _, err := tx.Exec(`
			INSERT INTO user_prompts (content_session_id, prompt_number, prompt_text, created_at, created_at_epoch)
			VALUES (?, ?, ?, ?, ?)
		`, p.ContentSessionID, p.PromptNumber, p.PromptText, createdAt, p.CreatedAtEpoch); err != nil {
			return 0, fmt.Errorf("import prompt %d for %q: %w", p.PromptNumber, p.ContentSessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(prompts), nil
}
