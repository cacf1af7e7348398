// Package store is the only reader and writer of session, observation,
// summary and prompt rows.
package store

import "encoding/json"

// Observation types. Anything outside this set is rejected by the store
// and by the table's CHECK constraint.
var ValidObservationTypes = []string{"decision", "bugfix", "feature", "refactor", "discovery", "change"}

// IsValidObservationType reports whether t is an allowed observation type.
func IsValidObservationType(t string) bool {
	for _, v := range ValidObservationTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Session is one row of sdk_sessions. ContentSessionID is the id of the
// conversation being observed; MemorySessionID is the observing agent's own
// session id and is nil until the agent's first response arrives. The two
// ids are never equal.
type Session struct {
	ID               int64
	ContentSessionID string
	MemorySessionID  *string
	Project          string
	UserPrompt       string
	StartedAt        string
	StartedAtEpoch   int64
	CompletedAt      *string
	CompletedAtEpoch *int64
	Status           string
	PromptCounter    int
}

// Observation is one unit of derived knowledge about a tool-use event.
// Narrative maps to the legacy nullable text column; the structured fields
// are the source of truth.
type Observation struct {
	ID              int64    `json:"id"`
	MemorySessionID string   `json:"memorySessionId"`
	Project         string   `json:"project"`
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	Subtitle        string   `json:"subtitle"`
	Narrative       string   `json:"narrative,omitempty"`
	Facts           []string `json:"facts"`
	Concepts        []string `json:"concepts"`
	FilesRead       []string `json:"filesRead"`
	FilesModified   []string `json:"filesModified"`
	PromptNumber    *int     `json:"promptNumber,omitempty"`
	DiscoveryTokens *int     `json:"discoveryTokens,omitempty"`
	CreatedAt       string   `json:"createdAt"`
	CreatedAtEpoch  int64    `json:"createdAtEpoch"`
}

// Summary is a per-session rollup. Sessions may accumulate several over a
// long conversation.
type Summary struct {
	ID              int64    `json:"id"`
	MemorySessionID string   `json:"memorySessionId"`
	Project         string   `json:"project"`
	Request         string   `json:"request"`
	Investigated    string   `json:"investigated"`
	Learned         string   `json:"learned"`
	Completed       string   `json:"completed"`
	NextSteps       string   `json:"nextSteps"`
	FilesRead       []string `json:"filesRead"`
	FilesEdited     []string `json:"filesEdited"`
	Notes           string   `json:"notes"`
	PromptNumber    *int     `json:"promptNumber,omitempty"`
	DiscoveryTokens *int     `json:"discoveryTokens,omitempty"`
	CreatedAt       string   `json:"createdAt"`
	CreatedAtEpoch  int64    `json:"createdAtEpoch"`
}

// UserPrompt is one user-submitted prompt. PromptNumber is monotonic per
// session, derived by counting rows rather than a stored counter.
type UserPrompt struct {
	ID               int64  `json:"id"`
	ContentSessionID string `json:"contentSessionId"`
	PromptNumber     int    `json:"promptNumber"`
	PromptText       string `json:"promptText"`
	CreatedAt        string `json:"createdAt"`
	CreatedAtEpoch   int64  `json:"createdAtEpoch"`
}

// encodeList serializes a string list for a JSON text column. Empty lists
// are stored as [] rather than NULL so readers never branch on both.
func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

// decodeList parses a JSON list column; NULL and malformed values decode to
// an empty list, matching how legacy rows were written.
func decodeList(raw *string) []string {
	if raw == nil || *raw == "" {
		return []string{}
	}
	var items []string
	if err := json.Unmarshal([]byte(*raw), &items); err != nil {
		return []string{}
	}
	return items
}
