package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roelfdiedericks/memclaw/internal/agent"
	"github.com/roelfdiedericks/memclaw/internal/bus"
	"github.com/roelfdiedericks/memclaw/internal/config"
	"github.com/roelfdiedericks/memclaw/internal/db"
	"github.com/roelfdiedericks/memclaw/internal/logging"
	"github.com/roelfdiedericks/memclaw/internal/queue"
	"github.com/roelfdiedericks/memclaw/internal/store"
)

func setupWorker(t *testing.T, stub *agent.Stub) (*Worker, *store.Store, *queue.Queue, func()) {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "worker_test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.RunAll(conn, logging.Discard()); err != nil {
		conn.Close()
		t.Fatalf("migrate: %v", err)
	}

	s := store.New(conn, logging.Discard())
	q := queue.New(conn, logging.Discard(), 3)
	w := New(s, q, stub, bus.New(logging.Discard()), config.Default(), logging.Discard())
	return w, s, q, func() { conn.Close() }
}

const discoveryResponse = `
<observation>
  <type>discovery</type>
  <title>Session file layout documented</title>
  <facts>
    <fact>Sessions live under ~/.memclaw</fact>
  </facts>
  <files_read>
    <file>internal/config/config.go</file>
  </files_read>
</observation>
`

func enqueueToolUse(t *testing.T, s *store.Store, q *queue.Queue, contentID string) *queue.Message {
	t.Helper()

	sid, err := s.CreateSession(contentID, "memclaw", "explain the config layout")
	if err != nil {
		t.Fatal(err)
	}
	id, err := q.Enqueue(&queue.Message{
		SessionDBID:      sid,
		ContentSessionID: contentID,
		MessageType:      queue.TypeObservation,
		ToolName:         "Read",
		ToolInput:        `{"file_path":"internal/config/config.go"}`,
		ToolResponse:     "package config ...",
	})
	if err != nil {
		t.Fatal(err)
	}
	m, err := q.MessageByID(id)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestProcessMessageHappyPath(t *testing.T) {
	stub := &agent.Stub{Responses: []string{discoveryResponse}}
	w, s, q, cleanup := setupWorker(t, stub)
	defer cleanup()

	enqueueToolUse(t, s, q, "content-1")
	msg, err := q.Claim()
	if err != nil || msg == nil {
		t.Fatalf("claim: %v %v", msg, err)
	}

	w.processMessage(context.Background(), msg)

	// Memory session id captured from the agent's first response
	sess, err := s.SessionByContentID("content-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.MemorySessionID == nil {
		t.Fatal("memory session id not captured")
	}
	if *sess.MemorySessionID == sess.ContentSessionID {
		t.Error("memory session id must differ from content session id")
	}

	// Observation landed
	observations, err := s.RecentObservations("memclaw", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(observations) != 1 || observations[0].Title != "Session file layout documented" {
		t.Fatalf("observations = %+v", observations)
	}
	if observations[0].DiscoveryTokens == nil || *observations[0].DiscoveryTokens == 0 {
		t.Error("discovery tokens not recorded")
	}

	// Message processed in the same transaction, payload nulled
	done, err := q.MessageByID(msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != queue.StatusProcessed {
		t.Errorf("message status = %q", done.Status)
	}
	if done.ToolInput != "" || done.ToolResponse != "" {
		t.Error("payload not nulled after processing")
	}

	// First prompt carries the session opener
	if len(stub.Requests) != 1 || stub.Requests[0].MemorySessionID != "" {
		t.Fatalf("requests = %+v", stub.Requests)
	}
}

func TestProcessMessageResumesSession(t *testing.T) {
	stub := &agent.Stub{Responses: []string{discoveryResponse, "nothing worth recording"}}
	w, s, q, cleanup := setupWorker(t, stub)
	defer cleanup()

	enqueueToolUse(t, s, q, "content-1")
	msg, _ := q.Claim()
	w.processMessage(context.Background(), msg)

	sess, _ := s.SessionByContentID("content-1")
	memoryID := *sess.MemorySessionID

	enqueueToolUse(t, s, q, "content-1")
	msg, _ = q.Claim()
	w.processMessage(context.Background(), msg)

	if len(stub.Requests) != 2 {
		t.Fatalf("expected 2 agent calls, got %d", len(stub.Requests))
	}
	if stub.Requests[1].MemorySessionID != memoryID {
		t.Errorf("second call did not resume session: %q", stub.Requests[1].MemorySessionID)
	}

	// A blockless response still completes the message
	done, _ := q.MessageByID(msg.ID)
	if done.Status != queue.StatusProcessed {
		t.Errorf("blockless response left message %q", done.Status)
	}
}

func TestNewUserPromptReanchorsAgentSession(t *testing.T) {
	stub := &agent.Stub{Responses: []string{discoveryResponse, "noted"}}
	w, s, q, cleanup := setupWorker(t, stub)
	defer cleanup()

	sid, err := s.CreateSession("content-1", "memclaw", "explain the config layout")
	if err != nil {
		t.Fatal(err)
	}
	one := 1
	if _, err := s.SaveUserPrompt("content-1", "explain the config layout"); err != nil {
		t.Fatal(err)
	}
	id, err := q.Enqueue(&queue.Message{
		SessionDBID:      sid,
		ContentSessionID: "content-1",
		MessageType:      queue.TypeObservation,
		ToolName:         "Read",
		ToolInput:        `{"file_path":"internal/config/config.go"}`,
		ToolResponse:     "package config ...",
		PromptNumber:     &one,
	})
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := q.Claim()
	if msg == nil || msg.ID != id {
		t.Fatalf("claimed %+v", msg)
	}
	w.processMessage(context.Background(), msg)

	if _, err := s.SaveUserPrompt("content-1", "now wire the watcher"); err != nil {
		t.Fatal(err)
	}
	two := 2
	id, err = q.Enqueue(&queue.Message{
		SessionDBID:      sid,
		ContentSessionID: "content-1",
		MessageType:      queue.TypeObservation,
		ToolName:         "Edit",
		ToolInput:        `{"file_path":"internal/config/watch.go"}`,
		ToolResponse:     "ok",
		PromptNumber:     &two,
	})
	if err != nil {
		t.Fatal(err)
	}
	msg, _ = q.Claim()
	if msg == nil || msg.ID != id {
		t.Fatalf("claimed %+v", msg)
	}
	w.processMessage(context.Background(), msg)

	if len(stub.Requests) != 2 {
		t.Fatalf("expected 2 agent calls, got %d", len(stub.Requests))
	}
	if !strings.Contains(stub.Requests[1].Prompt, "now wire the watcher") {
		t.Error("second call did not carry the new user prompt")
	}
	if strings.Contains(stub.Requests[0].Prompt, "now wire the watcher") {
		t.Error("first call should predate the second prompt")
	}
}

func TestProcessMessageAgentFailure(t *testing.T) {
	stub := &agent.Stub{Err: errors.New("model overloaded")}
	w, s, q, cleanup := setupWorker(t, stub)
	defer cleanup()

	enqueueToolUse(t, s, q, "content-1")
	msg, _ := q.Claim()

	w.processMessage(context.Background(), msg)

	// Routed through fail: back to pending with a retry recorded
	after, err := q.MessageByID(msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != queue.StatusPending {
		t.Errorf("status = %q, want pending", after.Status)
	}
	if after.RetryCount != 1 {
		t.Errorf("retry count = %d", after.RetryCount)
	}
}

func TestProcessMessageAbortLeavesRecoverable(t *testing.T) {
	stub := &agent.Stub{Err: context.Canceled}
	w, s, q, cleanup := setupWorker(t, stub)
	defer cleanup()

	enqueueToolUse(t, s, q, "content-1")
	msg, _ := q.Claim()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.processMessage(ctx, msg)

	// Neither processed nor failed; the stuck sweep owns it now
	after, err := q.MessageByID(msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != queue.StatusProcessing {
		t.Errorf("aborted message status = %q, want processing", after.Status)
	}
	if after.RetryCount != 0 {
		t.Errorf("aborted message consumed a retry: %d", after.RetryCount)
	}
}

func TestProcessResponseRequiresMemorySession(t *testing.T) {
	w, s, q, cleanup := setupWorker(t, &agent.Stub{})
	defer cleanup()

	msg := enqueueToolUse(t, s, q, "content-1")
	sess, err := s.SessionByContentID("content-1")
	if err != nil {
		t.Fatal(err)
	}

	err = w.ProcessResponse(discoveryResponse, sess, msg)
	if !errors.Is(err, ErrMissingMemorySession) {
		t.Errorf("err = %v, want ErrMissingMemorySession", err)
	}
}

func TestProcessMessageSummarize(t *testing.T) {
	summaryResponse := `<summary>
  <request>explain the config layout</request>
  <learned>settings are debounce-reloaded</learned>
</summary>`
	stub := &agent.Stub{Responses: []string{discoveryResponse, summaryResponse}}
	w, s, q, cleanup := setupWorker(t, stub)
	defer cleanup()

	// First message establishes the memory session
	enqueueToolUse(t, s, q, "content-1")
	msg, _ := q.Claim()
	w.processMessage(context.Background(), msg)

	sess, _ := s.SessionByContentID("content-1")
	id, err := q.Enqueue(&queue.Message{
		SessionDBID:          sess.ID,
		ContentSessionID:     "content-1",
		MessageType:          queue.TypeSummarize,
		LastAssistantMessage: "I documented the config layout end to end.",
	})
	if err != nil {
		t.Fatal(err)
	}
	msg, _ = q.Claim()
	if msg == nil || msg.ID != id {
		t.Fatalf("claimed %+v", msg)
	}
	w.processMessage(context.Background(), msg)

	summaries, err := s.RecentSummaries("memclaw", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].Request != "explain the config layout" {
		t.Fatalf("summaries = %+v", summaries)
	}

	if len(stub.Ended) != 1 || stub.Ended[0] != *sess.MemorySessionID {
		t.Errorf("ended sessions = %v, want [%s]", stub.Ended, *sess.MemorySessionID)
	}
}

func TestProcessMessageMissingSession(t *testing.T) {
	w, s, q, cleanup := setupWorker(t, &agent.Stub{})
	defer cleanup()

	// Enqueue against a real session row, then delete it
	msg := enqueueToolUse(t, s, q, "content-1")
	if _, err := s.DB().Exec(`DELETE FROM sdk_sessions WHERE content_session_id = 'content-1'`); err != nil {
		t.Fatal(err)
	}

	claimed, err := q.Claim()
	if err != nil {
		t.Fatal(err)
	}
	if claimed == nil {
		// Cascade delete took the message with the session; acceptable
		return
	}
	if claimed.ID != msg.ID {
		t.Fatalf("claimed unexpected message %d", claimed.ID)
	}
	w.processMessage(context.Background(), claimed)

	after, err := q.MessageByID(claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status == queue.StatusProcessed {
		t.Error("message for a missing session must not be processed")
	}
}

func TestFailedRetriesExhaustEventually(t *testing.T) {
	stub := &agent.Stub{Err: fmt.Errorf("permanently broken")}
	w, s, q, cleanup := setupWorker(t, stub)
	defer cleanup()

	enqueueToolUse(t, s, q, "content-1")

	for i := 0; i < 3; i++ {
		msg, err := q.Claim()
		if err != nil {
			t.Fatal(err)
		}
		if msg == nil {
			t.Fatalf("message unavailable on attempt %d", i+1)
		}
		w.processMessage(context.Background(), msg)
	}

	failed, err := q.Messages(queue.StatusFailed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 terminally failed message, got %d", len(failed))
	}
	if failed[0].RetryCount != 3 {
		t.Errorf("retry count = %d", failed[0].RetryCount)
	}
}
