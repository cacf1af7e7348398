package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// AnthropicAgent hosts agent sessions on the Anthropic Messages API. Each
// memory session id maps to a conversation transcript replayed on every
// turn; session ids are freshly minted UUIDs and therefore can never
// collide with an observed conversation's id.
type AnthropicAgent struct {
	client        anthropic.Client
	model         string
	fallbackModel string
	maxTokens     int
	log           *log.Logger

	mu       sync.Mutex
	sessions map[string][]anthropic.MessageParam
}

// NewAnthropic builds an agent on the Anthropic API. When fallbackModel is
// set, a turn that fails with a capacity error is retried once on it.
func NewAnthropic(apiKey, model, fallbackModel string, maxTokens int, logger *log.Logger) (*AnthropicAgent, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicAgent{
		client:        anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:         model,
		fallbackModel: fallbackModel,
		maxTokens:     maxTokens,
		log:           logger,
		sessions:      make(map[string][]anthropic.MessageParam),
	}, nil
}

func (a *AnthropicAgent) Complete(ctx context.Context, req *Request) (*Response, error) {
	sessionID := req.MemorySessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
		a.log.Debug("starting agent session", "session", sessionID)
	}

	a.mu.Lock()
	history := append([]anthropic.MessageParam{}, a.sessions[sessionID]...)
	a.mu.Unlock()

	history = append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))

	message, err := a.complete(ctx, a.model, history)
	if err != nil && a.fallbackModel != "" && isCapacityError(err) {
		a.log.Warn("primary model unavailable, retrying on fallback",
			"model", a.model, "fallback", a.fallbackModel, "error", err)
		message, err = a.complete(ctx, a.fallbackModel, history)
	}
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	history = append(history, message.ToParam())
	a.mu.Lock()
	a.sessions[sessionID] = history
	a.mu.Unlock()

	return &Response{
		MemorySessionID: sessionID,
		Text:            text.String(),
		InputTokens:     int(message.Usage.InputTokens),
		OutputTokens:    int(message.Usage.OutputTokens),
	}, nil
}

func (a *AnthropicAgent) complete(ctx context.Context, model string, history []anthropic.MessageParam) (*anthropic.Message, error) {
	return a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(a.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemIdentity},
		},
		Messages: history,
	})
}

// isCapacityError matches the API errors worth retrying on a different
// model: overload, rate limiting and model rollout gaps.
func isCapacityError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"overloaded", "rate_limit", "rate limit", "529", "model_not_found", "not_found_error"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// EndSession drops a session's transcript.
func (a *AnthropicAgent) EndSession(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}
