package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const observationSelect = `
	SELECT id, memory_session_id, project, COALESCE(text, ''), type,
		COALESCE(title, ''), COALESCE(subtitle, ''),
		facts, concepts, files_read, files_modified,
		prompt_number, discovery_tokens, created_at, created_at_epoch
	FROM observations`

const summarySelect = `
	SELECT id, memory_session_id, project,
		COALESCE(request, ''), COALESCE(investigated, ''), COALESCE(learned, ''),
		COALESCE(completed, ''), COALESCE(next_steps, ''),
		files_read, files_edited, COALESCE(notes, ''),
		prompt_number, discovery_tokens, created_at, created_at_epoch
	FROM session_summaries`

const promptSelect = `
	SELECT id, content_session_id, prompt_number, prompt_text, created_at, created_at_epoch
	FROM user_prompts`

func scanObservation(rows *sql.Rows) (*Observation, error) {
	var o Observation
	var facts, concepts, filesRead, filesModified *string
	err := rows.Scan(
		&o.ID, &o.MemorySessionID, &o.Project, &o.Narrative, &o.Type,
		&o.Title, &o.Subtitle,
		&facts, &concepts, &filesRead, &filesModified,
		&o.PromptNumber, &o.DiscoveryTokens, &o.CreatedAt, &o.CreatedAtEpoch,
	)
	if err != nil {
		return nil, err
	}
	o.Facts = decodeList(facts)
	o.Concepts = decodeList(concepts)
	o.FilesRead = decodeList(filesRead)
	o.FilesModified = decodeList(filesModified)
	return &o, nil
}

func scanSummary(rows *sql.Rows) (*Summary, error) {
	var m Summary
	var filesRead, filesEdited *string
	err := rows.Scan(
		&m.ID, &m.MemorySessionID, &m.Project,
		&m.Request, &m.Investigated, &m.Learned,
		&m.Completed, &m.NextSteps,
		&filesRead, &filesEdited, &m.Notes,
		&m.PromptNumber, &m.DiscoveryTokens, &m.CreatedAt, &m.CreatedAtEpoch,
	)
	if err != nil {
		return nil, err
	}
	m.FilesRead = decodeList(filesRead)
	m.FilesEdited = decodeList(filesEdited)
	return &m, nil
}

func scanPrompt(rows *sql.Rows) (*UserPrompt, error) {
	var p UserPrompt
	err := rows.Scan(&p.ID, &p.ContentSessionID, &p.PromptNumber, &p.PromptText, &p.CreatedAt, &p.CreatedAtEpoch)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) collectObservations(rows *sql.Rows) ([]Observation, error) {
	defer rows.Close()
	var out []Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) collectSummaries(rows *sql.Rows) ([]Summary, error) {
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		m, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) collectPrompts(rows *sql.Rows) ([]UserPrompt, error) {
	defer rows.Close()
	var out []UserPrompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// RecentObservations returns the newest observations, newest first. An
// empty project means all projects.
func (s *Store) RecentObservations(project string, limit int) ([]Observation, error) {
	q := observationSelect
	args := []interface{}{}
	if project != "" {
		q += ` WHERE project = ?`
		args = append(args, project)
	}
	q += ` ORDER BY created_at_epoch DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("recent observations: %w", err)
	}
	return s.collectObservations(rows)
}

// RecentSummaries returns the newest summaries, newest first.
func (s *Store) RecentSummaries(project string, limit int) ([]Summary, error) {
	q := summarySelect
	args := []interface{}{}
	if project != "" {
		q += ` WHERE project = ?`
		args = append(args, project)
	}
	q += ` ORDER BY created_at_epoch DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("recent summaries: %w", err)
	}
	return s.collectSummaries(rows)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ObservationsByIDs fetches observations by id, oldest first.
func (s *Store) ObservationsByIDs(ids []int64) ([]Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		observationSelect+` WHERE id IN (`+placeholders(len(ids))+`) ORDER BY created_at_epoch, id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return s.collectObservations(rows)
}

// SummariesByIDs fetches summaries by id, oldest first.
func (s *Store) SummariesByIDs(ids []int64) ([]Summary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		summarySelect+` WHERE id IN (`+placeholders(len(ids))+`) ORDER BY created_at_epoch, id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return s.collectSummaries(rows)
}

// PromptsByIDs fetches prompts by id, oldest first.
func (s *Store) PromptsByIDs(ids []int64) ([]UserPrompt, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		promptSelect+` WHERE id IN (`+placeholders(len(ids))+`) ORDER BY created_at_epoch, id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return s.collectPrompts(rows)
}

// SearchObservations filters observations by substring match against the
// title, narrative and the JSON-encoded concept and file columns.
func (s *Store) SearchObservations(project, term string, limit int) ([]Observation, error) {
	like := "%" + term + "%"
	q := observationSelect + `
		WHERE (title LIKE ? OR text LIKE ? OR concepts LIKE ? OR files_read LIKE ? OR files_modified LIKE ?)`
	args := []interface{}{like, like, like, like, like}
	if project != "" {
		q += ` AND project = ?`
		args = append(args, project)
	}
	q += ` ORDER BY created_at_epoch DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search observations: %w", err)
	}
	return s.collectObservations(rows)
}

// SearchPrompts runs a full-text query over user prompts.
func (s *Store) SearchPrompts(query string, limit int) ([]UserPrompt, error) {
	rows, err := s.db.Query(`
		SELECT p.id, p.content_session_id, p.prompt_number, p.prompt_text, p.created_at, p.created_at_epoch
		FROM user_prompts_fts f
		JOIN user_prompts p ON p.id = f.rowid
		WHERE user_prompts_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search prompts: %w", err)
	}
	return s.collectPrompts(rows)
}

// FilesForSession returns the union of files read and modified across a
// session's observations, deduplicated, in first-seen order.
func (s *Store) FilesForSession(memorySessionID string) (read []string, modified []string, err error) {
	rows, err := s.db.Query(
		observationSelect+` WHERE memory_session_id = ? ORDER BY created_at_epoch, id`,
		memorySessionID,
	)
	if err != nil {
		return nil, nil, err
	}
	observations, err := s.collectObservations(rows)
	if err != nil {
		return nil, nil, err
	}

	seenRead := map[string]bool{}
	seenModified := map[string]bool{}
	for _, o := range observations {
		for _, f := range o.FilesRead {
			if !seenRead[f] {
				seenRead[f] = true
				read = append(read, f)
			}
		}
		for _, f := range o.FilesModified {
			if !seenModified[f] {
				seenModified[f] = true
				modified = append(modified, f)
			}
		}
	}
	return read, modified, nil
}

// LatestUserPrompt returns the most recent prompt for a session, or nil.
func (s *Store) LatestUserPrompt(contentSessionID string) (*UserPrompt, error) {
	rows, err := s.db.Query(
		promptSelect+` WHERE content_session_id = ? ORDER BY prompt_number DESC LIMIT 1`,
		contentSessionID,
	)
	if err != nil {
		return nil, err
	}
	prompts, err := s.collectPrompts(rows)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, nil
	}
	return &prompts[0], nil
}

// Projects lists distinct project names, most recently active first.
func (s *Store) Projects() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT project FROM sdk_sessions
		GROUP BY project
		ORDER BY MAX(started_at_epoch) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
