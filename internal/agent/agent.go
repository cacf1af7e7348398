// Package agent wraps the LLM providers behind the summarization agent
// interface. The agent keeps per-session conversation state; its session
// ids are its own and are distinct from the observed conversation's ids.
package agent

import (
	"context"
	"errors"
)

// ErrNoAPIKey is returned at construction when no credential is available.
var ErrNoAPIKey = errors.New("no API key configured")

// Request is one prompt sent to the agent. An empty MemorySessionID starts
// a new agent session; a non-empty one resumes an existing conversation.
type Request struct {
	MemorySessionID string
	Prompt          string
}

// Response is the agent's reply. MemorySessionID identifies the agent
// session the reply belongs to; for a new session it is freshly assigned
// and must be recorded by the caller.
type Response struct {
	MemorySessionID string
	Text            string
	InputTokens     int
	OutputTokens    int
}

// Agent is a conversational LLM session host.
type Agent interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
