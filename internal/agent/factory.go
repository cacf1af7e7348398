package agent

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/roelfdiedericks/memclaw/internal/config"
)

// FromConfig builds the configured provider.
func FromConfig(cfg *config.AgentConfig, logger *log.Logger) (Agent, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.FallbackModel, cfg.MaxTokens, logger)
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.MaxTokens, logger)
	default:
		return nil, fmt.Errorf("unknown agent provider %q", cfg.Provider)
	}
}
