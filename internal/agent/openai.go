package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAgent is the fallback provider, same session model as the
// Anthropic agent.
type OpenAIAgent struct {
	client    *openai.Client
	model     string
	maxTokens int
	log       *log.Logger

	mu       sync.Mutex
	sessions map[string][]openai.ChatCompletionMessage
}

// NewOpenAI builds an agent on the OpenAI chat completion API.
func NewOpenAI(apiKey, model string, maxTokens int, logger *log.Logger) (*OpenAIAgent, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAIAgent{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
		log:       logger,
		sessions:  make(map[string][]openai.ChatCompletionMessage),
	}, nil
}

func (a *OpenAIAgent) Complete(ctx context.Context, req *Request) (*Response, error) {
	sessionID := req.MemorySessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
		a.log.Debug("starting agent session", "session", sessionID)
	}

	a.mu.Lock()
	history := append([]openai.ChatCompletionMessage{}, a.sessions[sessionID]...)
	a.mu.Unlock()

	if len(history) == 0 {
		history = append(history, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemIdentity,
		})
	}
	history = append(history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  history,
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: empty choice list")
	}

	text := resp.Choices[0].Message.Content
	history = append(history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: text,
	})

	a.mu.Lock()
	a.sessions[sessionID] = history
	a.mu.Unlock()

	return &Response{
		MemorySessionID: sessionID,
		Text:            text,
		InputTokens:     resp.Usage.PromptTokens,
		OutputTokens:    resp.Usage.CompletionTokens,
	}, nil
}

// EndSession drops a session's transcript.
func (a *OpenAIAgent) EndSession(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}
