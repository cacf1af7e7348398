// Package worker owns the queue consumer loop: it claims pending
// messages, relays them to the summarization agent, and lands the parsed
// results atomically.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/roelfdiedericks/memclaw/internal/agent"
	"github.com/roelfdiedericks/memclaw/internal/bus"
	"github.com/roelfdiedericks/memclaw/internal/config"
	"github.com/roelfdiedericks/memclaw/internal/logging"
	"github.com/roelfdiedericks/memclaw/internal/parser"
	"github.com/roelfdiedericks/memclaw/internal/queue"
	"github.com/roelfdiedericks/memclaw/internal/store"
)

// ErrMissingMemorySession means a response arrived for a session whose
// memory session id was never captured. That is a protocol violation
// upstream, not something to paper over.
var ErrMissingMemorySession = errors.New("session has no memory session id")

// Status is broadcast on the bus whenever queue state changes.
type Status struct {
	IsProcessing       bool  `json:"isProcessing"`
	QueueDepth         int   `json:"queueDepth"`
	StuckCount         int   `json:"stuckCount,omitempty"`
	OldestPendingEpoch int64 `json:"oldestPendingEpoch,omitempty"`
}

// Worker is the single queue consumer. One claim/process cycle runs at a
// time; the only long suspension is the agent call.
type Worker struct {
	store  *store.Store
	queue  *queue.Queue
	parser *parser.Parser
	agent  agent.Agent
	bus    *bus.Bus
	log    *log.Logger

	pollInterval   time.Duration
	stuckThreshold time.Duration
	purgeAfter     time.Duration

	// last prompt number relayed per content session, so a new user
	// prompt re-anchors the agent session exactly once
	lastPrompt map[string]int
}

// New wires a worker from its collaborators.
func New(s *store.Store, q *queue.Queue, a agent.Agent, b *bus.Bus, cfg *config.Config, logger *log.Logger) *Worker {
	return &Worker{
		store:          s,
		queue:          q,
		parser:         parser.New(logger),
		agent:          a,
		bus:            b,
		log:            logger,
		pollInterval:   time.Duration(cfg.Worker.PollMs) * time.Millisecond,
		stuckThreshold: time.Duration(cfg.Queue.StuckThresholdMs) * time.Millisecond,
		purgeAfter:     time.Duration(cfg.Worker.PurgeAfterMs) * time.Millisecond,
		lastPrompt:     make(map[string]int),
	}
}

// Run consumes the queue until ctx is cancelled. On entry it resets stuck
// processing rows left behind by a previous crash; a maintenance schedule
// keeps sweeping while the loop runs.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.queue.RecoverStuck(w.stuckThreshold); err != nil {
		return err
	} else if n > 0 {
		w.log.Info("recovered messages from previous run", "count", n)
	}

	sched := cron.New()
	sched.AddFunc("@every 1m", func() {
		if _, err := w.queue.RecoverStuck(w.stuckThreshold); err != nil {
			w.log.Error("stuck sweep failed", "error", err)
		}
	})
	sched.AddFunc("@every 1h", func() {
		if n, err := w.queue.PurgeProcessed(w.purgeAfter); err != nil {
			w.log.Error("purge failed", "error", err)
		} else if n > 0 {
			w.log.Info("purged processed messages", "count", n)
		}
	})
	sched.Start()
	defer sched.Stop()

	w.log.Info("worker started", "poll", w.pollInterval, "stuck_threshold", w.stuckThreshold)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return ctx.Err()
		default:
		}

		msg, err := w.queue.Claim()
		if err != nil {
			w.log.Error("claim failed", "error", err)
			msg = nil
		}
		if msg == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.publishStatus(true)
		w.processMessage(ctx, msg)
		w.publishStatus(false)
	}
}

// processMessage runs one claimed message through the agent and lands the
// result. Errors route through Fail so the message retries; a cancelled
// context leaves the row in processing for the stuck sweep to recover.
func (w *Worker) processMessage(ctx context.Context, msg *queue.Message) {
	logger := w.log.With("message", msg.ID, "type", msg.MessageType, "correlation", uuid.NewString()[:8])

	sess, err := w.store.SessionByContentID(msg.ContentSessionID)
	if err != nil || sess == nil {
		logger.Error("session lookup failed", "session", msg.ContentSessionID, "error", err)
		w.fail(msg.ID, logger)
		return
	}

	req := &agent.Request{Prompt: w.buildPrompt(sess, msg)}
	if sess.MemorySessionID != nil {
		req.MemorySessionID = *sess.MemorySessionID
	}

	start := time.Now()
	resp, err := w.agent.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Aborted mid-flight. The row stays in processing and the
			// stuck sweep will return it to pending.
			logger.Warn("agent call aborted", "error", err)
			return
		}
		logger.Error("agent call failed", "error", err)
		w.fail(msg.ID, logger)
		return
	}
	logger.Debug("agent responded", "elapsed", time.Since(start).String(), "tokens_out", resp.OutputTokens)

	// First response for this session: capture the agent's session id,
	// verified by readback inside the store.
	if sess.MemorySessionID == nil {
		if err := w.store.UpdateMemorySessionID(sess.ContentSessionID, resp.MemorySessionID); err != nil {
			logger.Error("capturing memory session id failed", "error", err)
			w.fail(msg.ID, logger)
			return
		}
		if sess, err = w.store.SessionByContentID(sess.ContentSessionID); err != nil || sess == nil {
			logger.Error("session reload failed", "error", err)
			w.fail(msg.ID, logger)
			return
		}
	}

	if err := w.ProcessResponse(resp.Text, sess, msg); err != nil {
		logger.Error("processing response failed", "error", err)
		w.fail(msg.ID, logger)
		return
	}

	// The summarize message is the last one a session enqueues; the
	// agent transcript is no longer needed after it lands.
	if msg.MessageType == queue.TypeSummarize && sess.MemorySessionID != nil {
		if ender, ok := w.agent.(interface{ EndSession(string) }); ok {
			ender.EndSession(*sess.MemorySessionID)
		}
		delete(w.lastPrompt, sess.ContentSessionID)
	}
	logging.Elapsed(logger, start, "message processed", "session", sess.ContentSessionID)
}

func (w *Worker) fail(messageID int64, logger *log.Logger) {
	if err := w.queue.Fail(messageID); err != nil {
		logger.Error("marking message failed errored", "error", err)
	}
}

func (w *Worker) buildPrompt(sess *store.Session, msg *queue.Message) string {
	if msg.MessageType == queue.TypeSummarize {
		return agent.SummaryPrompt(msg.LastAssistantMessage)
	}

	observation := agent.ObservationPrompt(&agent.ToolEvent{
		ToolName:       msg.ToolName,
		ToolInput:      msg.ToolInput,
		ToolResponse:   msg.ToolResponse,
		CWD:            msg.CWD,
		CreatedAtEpoch: msg.CreatedAtEpoch,
	})

	if sess.MemorySessionID == nil {
		if msg.PromptNumber != nil {
			w.lastPrompt[sess.ContentSessionID] = *msg.PromptNumber
		}
		return agent.InitPrompt(sess.Project, sess.UserPrompt) + "\n\n" + observation
	}

	// A higher prompt number means the user has asked for something new
	// since the agent session last heard from them.
	if msg.PromptNumber != nil && *msg.PromptNumber > w.lastPrompt[sess.ContentSessionID] {
		w.lastPrompt[sess.ContentSessionID] = *msg.PromptNumber
		if prompt, err := w.store.LatestUserPrompt(sess.ContentSessionID); err == nil && prompt != nil {
			return agent.ContinuationPrompt(prompt.PromptText, *msg.PromptNumber) + "\n\n" + observation
		}
	}
	return observation
}

func (w *Worker) publishStatus(processing bool) {
	depth, err := w.queue.PendingCount()
	if err != nil {
		w.log.Error("queue depth read failed", "error", err)
		return
	}
	oldest, _ := w.queue.OldestPendingEpoch()
	stuck, _ := w.queue.StuckCount(w.stuckThreshold)
	w.bus.Publish(bus.TopicQueueStatus, Status{
		IsProcessing:       processing,
		QueueDepth:         depth,
		StuckCount:         stuck,
		OldestPendingEpoch: oldest,
	})
}
