package agent

import (
	"context"

	"github.com/google/uuid"
)

// Stub is a canned agent for tests. Responses are returned in order and
// the last one repeats; recorded requests can be inspected afterwards.
type Stub struct {
	Responses []string
	Err       error
	Requests  []Request
	Ended     []string

	next int
}

func (s *Stub) EndSession(sessionID string) {
	s.Ended = append(s.Ended, sessionID)
}

func (s *Stub) Complete(ctx context.Context, req *Request) (*Response, error) {
	s.Requests = append(s.Requests, *req)
	if s.Err != nil {
		return nil, s.Err
	}

	sessionID := req.MemorySessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	text := ""
	if len(s.Responses) > 0 {
		if s.next < len(s.Responses) {
			text = s.Responses[s.next]
			s.next++
		} else {
			text = s.Responses[len(s.Responses)-1]
		}
	}

	return &Response{MemorySessionID: sessionID, Text: text}, nil
}
