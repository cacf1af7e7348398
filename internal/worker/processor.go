package worker

import (
	"database/sql"
	"fmt"

	"github.com/roelfdiedericks/memclaw/internal/bus"
	"github.com/roelfdiedericks/memclaw/internal/queue"
	"github.com/roelfdiedericks/memclaw/internal/store"
	"github.com/roelfdiedericks/memclaw/internal/tokens"
)

// ProcessResponse turns one agent response into stored rows. The
// observation and summary inserts commit in the same transaction that
// marks the source message processed; a crash can therefore never leave
// rows without a completed message or a completed message without its
// rows. A response with no markup blocks is normal and still completes
// the message.
func (w *Worker) ProcessResponse(rawText string, sess *store.Session, msg *queue.Message) error {
	if sess.MemorySessionID == nil {
		return fmt.Errorf("%w: session %q", ErrMissingMemorySession, sess.ContentSessionID)
	}
	memoryID := *sess.MemorySessionID

	observations := w.parser.Observations(rawText)
	summary := w.parser.Summary(rawText)

	discoveryTokens := tokens.Estimate(msg.ToolInput) + tokens.Estimate(msg.ToolResponse)
	if msg.MessageType == queue.TypeSummarize {
		discoveryTokens = tokens.Estimate(msg.LastAssistantMessage)
	}

	var complete func(tx *sql.Tx) error
	if msg.ID != 0 {
		complete = func(tx *sql.Tx) error {
			return w.queue.CompleteTx(tx, msg.ID)
		}
	}

	result, err := w.store.StoreObservations(
		memoryID, sess.Project,
		observations, summary,
		msg.PromptNumber, discoveryTokens, 0,
		complete,
	)
	if err != nil {
		return err
	}

	// Notifications are best effort and happen after the commit; the
	// stored rows are the source of truth.
	if stored, err := w.store.ObservationsByIDs(result.ObservationIDs); err == nil {
		for i := range stored {
			w.bus.Publish(bus.TopicObservationCreated, stored[i])
		}
	} else {
		w.log.Warn("observation readback for broadcast failed", "error", err)
	}
	if result.SummaryID != nil {
		if stored, err := w.store.SummariesByIDs([]int64{*result.SummaryID}); err == nil && len(stored) == 1 {
			w.bus.Publish(bus.TopicSummaryCreated, stored[0])
		}
	}

	return nil
}
