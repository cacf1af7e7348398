package agent

import (
	"errors"
	"strings"
	"testing"
)

func TestIsCapacityError(t *testing.T) {
	retryable := []string{
		"anthropic: overloaded_error",
		"429 rate_limit_error",
		"Rate limit exceeded",
		"529 upstream overload",
		"model_not_found: claude-sonnet-4-5",
	}
	for _, msg := range retryable {
		if !isCapacityError(errors.New(msg)) {
			t.Errorf("%q should be retryable", msg)
		}
	}

	terminal := []string{
		"invalid_request_error: max_tokens out of range",
		"authentication_error: invalid api key",
		"context deadline exceeded",
	}
	for _, msg := range terminal {
		if isCapacityError(errors.New(msg)) {
			t.Errorf("%q should not be retryable", msg)
		}
	}
}

func TestInitPromptNamesProject(t *testing.T) {
	p := InitPrompt("memclaw", "fix the watcher debounce")
	if !strings.Contains(p, "memclaw") {
		t.Error("project name missing from init prompt")
	}
	if !strings.Contains(p, "fix the watcher debounce") {
		t.Error("user prompt missing from init prompt")
	}
}

func TestObservationPromptCarriesToolEvent(t *testing.T) {
	p := ObservationPrompt(&ToolEvent{
		ToolName:     "Read",
		ToolInput:    `{"file_path":"internal/db/migrate.go"}`,
		ToolResponse: "package db ...",
		CWD:          "/work/memclaw",
	})
	for _, want := range []string{"Read", "migrate.go", "/work/memclaw"} {
		if !strings.Contains(p, want) {
			t.Errorf("observation prompt missing %q", want)
		}
	}
}

func TestSummaryPromptIncludesLastMessage(t *testing.T) {
	p := SummaryPrompt("All migrations are ledger-driven now.")
	if !strings.Contains(p, "ledger-driven") {
		t.Error("summary prompt missing the assistant message")
	}
}
