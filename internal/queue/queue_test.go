package queue

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/memclaw/internal/db"
	"github.com/roelfdiedericks/memclaw/internal/logging"
	"github.com/roelfdiedericks/memclaw/internal/store"
)

func setupTestQueue(t *testing.T) (*Queue, *store.Store, func()) {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "queue_test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.RunAll(conn, logging.Discard()); err != nil {
		conn.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	s := store.New(conn, logging.Discard())
	q := New(conn, logging.Discard(), 3)
	return q, s, func() { conn.Close() }
}

func testSession(t *testing.T, s *store.Store, contentID string) int64 {
	t.Helper()
	id, err := s.CreateSession(contentID, "memclaw", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return id
}

func enqueueN(t *testing.T, q *Queue, sessionDBID int64, contentID string, n int) []int64 {
	t.Helper()
	var ids []int64
	for i := 0; i < n; i++ {
		id, err := q.Enqueue(&Message{
			SessionDBID:      sessionDBID,
			ContentSessionID: contentID,
			MessageType:      TypeObservation,
			ToolName:         "Read",
			ToolInput:        fmt.Sprintf(`{"file":"%d.go"}`, i),
			ToolResponse:     "file contents",
		})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		ids = append(ids, id)
		// Distinct created_at_epoch values keep ordering deterministic
		time.Sleep(2 * time.Millisecond)
	}
	return ids
}

func TestEnqueueAndClaim(t *testing.T) {
	q, s, cleanup := setupTestQueue(t)
	defer cleanup()

	sid := testSession(t, s, "content-1")
	ids := enqueueN(t, q, sid, "content-1", 1)

	m, err := q.Claim()
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if m == nil || m.ID != ids[0] {
		t.Fatalf("claimed %+v, want id %d", m, ids[0])
	}
	if m.Status != StatusProcessing {
		t.Errorf("status = %q", m.Status)
	}
	if m.StartedProcessingAtEpoch == nil {
		t.Error("claim did not stamp started_processing_at_epoch")
	}

	// Nothing else to claim
	m2, err := q.Claim()
	if err != nil {
		t.Fatal(err)
	}
	if m2 != nil {
		t.Errorf("claimed %+v from an empty queue", m2)
	}
}

func TestClaimFIFOWithinSession(t *testing.T) {
	q, s, cleanup := setupTestQueue(t)
	defer cleanup()

	sid := testSession(t, s, "content-1")
	ids := enqueueN(t, q, sid, "content-1", 3)

	for i, want := range ids {
		m, err := q.Claim()
		if err != nil {
			t.Fatal(err)
		}
		if m == nil || m.ID != want {
			t.Fatalf("claim %d: got %+v, want id %d", i, m, want)
		}
		if err := q.Complete(m.ID); err != nil {
			t.Fatal(err)
		}
	}
}

func TestClaimExclusive(t *testing.T) {
	q, s, cleanup := setupTestQueue(t)
	defer cleanup()

	sid := testSession(t, s, "content-1")
	const total = 20
	enqueueN(t, q, sid, "content-1", total)

	var mu sync.Mutex
	claimed := map[int64]int{}
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, err := q.Claim()
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if m == nil {
					return
				}
				mu.Lock()
				claimed[m.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != total {
		t.Errorf("claimed %d distinct messages, want %d", len(claimed), total)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("message %d claimed %d times", id, n)
		}
	}
}

func TestCompleteNullsPayload(t *testing.T) {
	q, s, cleanup := setupTestQueue(t)
	defer cleanup()

	sid := testSession(t, s, "content-1")
	enqueueN(t, q, sid, "content-1", 1)

	m, err := q.Claim()
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(m.ID); err != nil {
		t.Fatal(err)
	}

	done, err := q.MessageByID(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != StatusProcessed {
		t.Errorf("status = %q", done.Status)
	}
	if done.ToolInput != "" || done.ToolResponse != "" {
		t.Error("payload columns not nulled after completion")
	}
	if done.CompletedAtEpoch == nil {
		t.Error("completed_at_epoch not stamped")
	}
	// Audit fields survive
	if done.ToolName != "Read" {
		t.Errorf("tool name lost: %q", done.ToolName)
	}
}

func TestCompleteOnlyFromProcessing(t *testing.T) {
	q, s, cleanup := setupTestQueue(t)
	defer cleanup()

	sid := testSession(t, s, "content-1")
	ids := enqueueN(t, q, sid, "content-1", 1)

	// Still pending: complete must be a no-op
	if err := q.Complete(ids[0]); err != nil {
		t.Fatal(err)
	}
	m, err := q.MessageByID(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != StatusPending {
		t.Errorf("completing a pending row changed status to %q", m.Status)
	}

	// Processed: a duplicate completion signal is also a no-op
	if _, err := q.Claim(); err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(ids[0]); err != nil {
		t.Fatal(err)
	}
	first, _ := q.MessageByID(ids[0])
	time.Sleep(2 * time.Millisecond)
	if err := q.Complete(ids[0]); err != nil {
		t.Fatal(err)
	}
	second, _ := q.MessageByID(ids[0])
	if *first.CompletedAtEpoch != *second.CompletedAtEpoch {
		t.Error("duplicate completion restamped completed_at_epoch")
	}
}

func TestFailRetriesThenTerminal(t *testing.T) {
	q, s, cleanup := setupTestQueue(t)
	defer cleanup()

	sid := testSession(t, s, "content-1")
	ids := enqueueN(t, q, sid, "content-1", 1)

	// Three attempts allowed; the third failure is terminal
	for attempt := 1; attempt <= 3; attempt++ {
		m, err := q.Claim()
		if err != nil {
			t.Fatal(err)
		}
		if attempt == 3 {
			if m == nil {
				t.Fatal("message unavailable before retries exhausted")
			}
		}
		if err := q.Fail(m.ID); err != nil {
			t.Fatal(err)
		}

		after, err := q.MessageByID(ids[0])
		if err != nil {
			t.Fatal(err)
		}
		if after.RetryCount != attempt {
			t.Errorf("attempt %d: retry_count = %d", attempt, after.RetryCount)
		}
		wantStatus := StatusPending
		if attempt == 3 {
			wantStatus = StatusFailed
		}
		if after.Status != wantStatus {
			t.Errorf("attempt %d: status = %q, want %q", attempt, after.Status, wantStatus)
		}
		if after.FailedAtEpoch == nil {
			t.Error("failed_at_epoch not stamped")
		}
	}

	// Terminal rows are not claimable
	m, err := q.Claim()
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("claimed terminally failed message %d", m.ID)
	}

	// Operator retry resurrects it
	n, err := q.RetryFailed()
	if err != nil || n != 1 {
		t.Fatalf("retry failed: n=%d err=%v", n, err)
	}
	if m, err = q.Claim(); err != nil || m == nil {
		t.Fatalf("claim after retry: m=%v err=%v", m, err)
	}
}

func TestRecoverStuck(t *testing.T) {
	q, s, cleanup := setupTestQueue(t)
	defer cleanup()

	sid := testSession(t, s, "content-1")
	ids := enqueueN(t, q, sid, "content-1", 2)

	// Claim both; backdate one claim beyond the threshold
	if _, err := q.Claim(); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Claim(); err != nil {
		t.Fatal(err)
	}
	backdate(t, q.db, ids[0], time.Now().Add(-10*time.Minute))

	n, err := q.RecoverStuck(5 * time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("recovered %d rows, want 1", n)
	}

	stale, _ := q.MessageByID(ids[0])
	if stale.Status != StatusPending {
		t.Errorf("stale row status = %q", stale.Status)
	}
	fresh, _ := q.MessageByID(ids[1])
	if fresh.Status != StatusProcessing {
		t.Errorf("fresh processing row was reset to %q", fresh.Status)
	}
}

func TestPurgeProcessed(t *testing.T) {
	q, s, cleanup := setupTestQueue(t)
	defer cleanup()

	sid := testSession(t, s, "content-1")
	ids := enqueueN(t, q, sid, "content-1", 1)

	m, err := q.Claim()
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(m.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := q.db.Exec(
		`UPDATE pending_messages SET completed_at_epoch = ? WHERE id = ?`,
		time.Now().Add(-48*time.Hour).UnixMilli(), ids[0],
	); err != nil {
		t.Fatal(err)
	}

	n, err := q.PurgeProcessed(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
}

func TestQueueCounts(t *testing.T) {
	q, s, cleanup := setupTestQueue(t)
	defer cleanup()

	sid1 := testSession(t, s, "content-1")
	sid2 := testSession(t, s, "content-2")
	enqueueN(t, q, sid1, "content-1", 2)
	enqueueN(t, q, sid2, "content-2", 1)

	if n, err := q.PendingCount(); err != nil || n != 3 {
		t.Errorf("pending count = %d, err = %v", n, err)
	}
	busy, err := q.HasPendingWork()
	if err != nil || !busy {
		t.Errorf("has pending work = %v, err = %v", busy, err)
	}
	sessions, err := q.SessionsWithPendingWork()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 || sessions[0] != "content-1" {
		t.Errorf("sessions with pending work = %v", sessions)
	}
	oldest, err := q.OldestPendingEpoch()
	if err != nil || oldest == 0 {
		t.Errorf("oldest pending epoch = %d, err = %v", oldest, err)
	}
}

func backdate(t *testing.T, conn *sql.DB, id int64, to time.Time) {
	t.Helper()
	if _, err := conn.Exec(
		`UPDATE pending_messages SET started_processing_at_epoch = ? WHERE id = ?`,
		to.UnixMilli(), id,
	); err != nil {
		t.Fatalf("backdate: %v", err)
	}
}
