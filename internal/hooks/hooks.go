// Package hooks implements the editor-facing entry points. Each hook
// reads one JSON event from stdin, touches the store or queue, and writes
// a JSON response to stdout. Hooks are the only write path besides the
// worker, and both of their writes (create-or-continue a session, enqueue
// a tool use) are retry-safe.
package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/roelfdiedericks/memclaw/internal/contextpack"
	"github.com/roelfdiedericks/memclaw/internal/queue"
	"github.com/roelfdiedericks/memclaw/internal/store"
)

// Event is the JSON payload hooks receive. Fields are a union across hook
// kinds; absent ones decode to zero values.
type Event struct {
	SessionID    string          `json:"session_id"`
	CWD          string          `json:"cwd"`
	Prompt       string          `json:"prompt"`
	ToolName     string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input"`
	ToolResponse json.RawMessage `json:"tool_response"`
	LastMessage  string          `json:"last_assistant_message"`
	Reason       string          `json:"reason"`
}

// Handler serves the four hook kinds.
type Handler struct {
	store   *store.Store
	queue   *queue.Queue
	context *contextpack.Builder
	log     *log.Logger
}

func New(s *store.Store, q *queue.Queue, cb *contextpack.Builder, logger *log.Logger) *Handler {
	return &Handler{store: s, queue: q, context: cb, log: logger}
}

// Run dispatches one hook invocation by name.
func (h *Handler) Run(name string, in io.Reader, out io.Writer) error {
	var ev Event
	if err := json.NewDecoder(in).Decode(&ev); err != nil {
		return fmt.Errorf("decode hook event: %w", err)
	}
	if ev.SessionID == "" {
		return fmt.Errorf("hook event has no session_id")
	}

	switch name {
	case "session-start":
		return h.sessionStart(&ev, out)
	case "user-prompt":
		return h.userPrompt(&ev, out)
	case "tool-use":
		return h.toolUse(&ev, out)
	case "stop":
		return h.stop(&ev, out)
	default:
		return fmt.Errorf("unknown hook %q", name)
	}
}

// sessionStart creates (or re-finds) the session and injects the memory
// context for the project.
func (h *Handler) sessionStart(ev *Event, out io.Writer) error {
	project := projectName(ev.CWD)
	if _, err := h.store.CreateSession(ev.SessionID, project, ev.Prompt); err != nil {
		return err
	}

	context, err := h.context.Build(project)
	if err != nil {
		// Context is best effort; a session without memory still works.
		h.log.Warn("context build failed", "error", err)
		context = ""
	}

	resp := map[string]any{
		"continue":       true,
		"suppressOutput": true,
	}
	if context != "" {
		resp["hookSpecificOutput"] = map[string]any{
			"hookEventName":     "SessionStart",
			"additionalContext": context,
		}
	}
	return json.NewEncoder(out).Encode(resp)
}

// userPrompt records the prompt and bumps its per-session number.
func (h *Handler) userPrompt(ev *Event, out io.Writer) error {
	if _, err := h.store.CreateSession(ev.SessionID, projectName(ev.CWD), ev.Prompt); err != nil {
		return err
	}
	number, err := h.store.SaveUserPrompt(ev.SessionID, ev.Prompt)
	if err != nil {
		return err
	}
	h.log.Debug("prompt recorded", "session", ev.SessionID, "number", number)
	return writeStandardResponse(out)
}

// toolUse enqueues one observation message. The row is durable before the
// response is written, so the tool use is captured even if the worker is
// down.
func (h *Handler) toolUse(ev *Event, out io.Writer) error {
	sessionDBID, err := h.store.CreateSession(ev.SessionID, projectName(ev.CWD), "")
	if err != nil {
		return err
	}

	promptNumber, err := h.store.PromptCount(ev.SessionID)
	if err != nil {
		return err
	}
	var pn *int
	if promptNumber > 0 {
		pn = &promptNumber
	}

	if _, err := h.queue.Enqueue(&queue.Message{
		SessionDBID:      sessionDBID,
		ContentSessionID: ev.SessionID,
		MessageType:      queue.TypeObservation,
		ToolName:         ev.ToolName,
		ToolInput:        string(ev.ToolInput),
		ToolResponse:     string(ev.ToolResponse),
		CWD:              ev.CWD,
		PromptNumber:     pn,
	}); err != nil {
		return err
	}
	return writeStandardResponse(out)
}

// stop enqueues a summarize message and marks the session completed.
func (h *Handler) stop(ev *Event, out io.Writer) error {
	sessionDBID, err := h.store.CreateSession(ev.SessionID, projectName(ev.CWD), "")
	if err != nil {
		return err
	}

	promptNumber, err := h.store.PromptCount(ev.SessionID)
	if err != nil {
		return err
	}
	var pn *int
	if promptNumber > 0 {
		pn = &promptNumber
	}

	var lastUser string
	if p, err := h.store.LatestUserPrompt(ev.SessionID); err == nil && p != nil {
		lastUser = p.PromptText
	}

	if _, err := h.queue.Enqueue(&queue.Message{
		SessionDBID:          sessionDBID,
		ContentSessionID:     ev.SessionID,
		MessageType:          queue.TypeSummarize,
		CWD:                  ev.CWD,
		LastUserMessage:      lastUser,
		LastAssistantMessage: ev.LastMessage,
		PromptNumber:         pn,
	}); err != nil {
		return err
	}

	if err := h.store.CompleteSession(ev.SessionID, "completed"); err != nil {
		return err
	}
	return writeStandardResponse(out)
}

// writeStandardResponse tells the editor to continue and hide hook output.
func writeStandardResponse(out io.Writer) error {
	return json.NewEncoder(out).Encode(map[string]any{
		"continue":       true,
		"suppressOutput": true,
	})
}

func projectName(cwd string) string {
	if cwd == "" {
		return "unknown"
	}
	return filepath.Base(filepath.Clean(cwd))
}
