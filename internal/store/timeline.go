package store

import (
	"database/sql"
	"fmt"
)

// Timeline is a symmetric window of records around an anchor point.
type Timeline struct {
	AnchorEpoch  int64        `json:"anchorEpoch"`
	FromEpoch    int64        `json:"fromEpoch"`
	ToEpoch      int64        `json:"toEpoch"`
	Observations []Observation `json:"observations"`
	Summaries    []Summary     `json:"summaries"`
	Prompts      []UserPrompt  `json:"prompts"`
}

// TimelineAroundObservation anchors the window on an observation row.
func (s *Store) TimelineAroundObservation(observationID int64, before, after int) (*Timeline, error) {
	var epoch int64
	var project string
	err := s.db.QueryRow(
		`SELECT created_at_epoch, project FROM observations WHERE id = ?`, observationID,
	).Scan(&epoch, &project)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("observation %d not found", observationID)
	}
	if err != nil {
		return nil, err
	}
	return s.TimelineAround(project, epoch, before, after)
}

// TimelineAround builds a window around anchorEpoch: the window boundaries
// are the timestamps of the Nth observation before and after the anchor,
// and all record types falling inside are returned. Records exactly on a
// boundary timestamp are included on both ends.
func (s *Store) TimelineAround(project string, anchorEpoch int64, before, after int) (*Timeline, error) {
	from, err := s.boundaryEpoch(project, anchorEpoch, before, true)
	if err != nil {
		return nil, err
	}
	to, err := s.boundaryEpoch(project, anchorEpoch, after, false)
	if err != nil {
		return nil, err
	}

	tl := &Timeline{AnchorEpoch: anchorEpoch, FromEpoch: from, ToEpoch: to}

	obsRows, err := s.db.Query(
		observationSelect+` WHERE project = ? AND created_at_epoch >= ? AND created_at_epoch <= ?
			ORDER BY created_at_epoch, id`,
		project, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("timeline observations: %w", err)
	}
	if tl.Observations, err = s.collectObservations(obsRows); err != nil {
		return nil, err
	}

	sumRows, err := s.db.Query(
		summarySelect+` WHERE project = ? AND created_at_epoch >= ? AND created_at_epoch <= ?
			ORDER BY created_at_epoch, id`,
		project, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("timeline summaries: %w", err)
	}
	if tl.Summaries, err = s.collectSummaries(sumRows); err != nil {
		return nil, err
	}

	promptRows, err := s.db.Query(`
		SELECT p.id, p.content_session_id, p.prompt_number, p.prompt_text, p.created_at, p.created_at_epoch
		FROM user_prompts p
		JOIN sdk_sessions s ON s.content_session_id = p.content_session_id
		WHERE s.project = ? AND p.created_at_epoch >= ? AND p.created_at_epoch <= ?
		ORDER BY p.created_at_epoch, p.id
	`, project, from, to)
	if err != nil {
		return nil, fmt.Errorf("timeline prompts: %w", err)
	}
	if tl.Prompts, err = s.collectPrompts(promptRows); err != nil {
		return nil, err
	}

	return tl, nil
}

// boundaryEpoch finds the timestamp of the Nth observation strictly before
// (or after) the anchor. When fewer than N exist the anchor itself bounds
// the window on that side.
func (s *Store) boundaryEpoch(project string, anchorEpoch int64, n int, backwards bool) (int64, error) {
	if n <= 0 {
		return anchorEpoch, nil
	}

	cmp, order := "<", "DESC"
	if !backwards {
		cmp, order = ">", "ASC"
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT created_at_epoch FROM observations
		WHERE project = ? AND created_at_epoch %s ?
		ORDER BY created_at_epoch %s
		LIMIT ?
	`, cmp, order), project, anchorEpoch, n)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	boundary := anchorEpoch
	for rows.Next() {
		if err := rows.Scan(&boundary); err != nil {
			return 0, err
		}
	}
	return boundary, rows.Err()
}
