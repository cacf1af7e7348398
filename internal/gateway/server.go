// Package gateway serves the worker's observability surface: a JSON API
// over queue and store state, and a websocket feed of live events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/roelfdiedericks/memclaw/internal/bus"
	"github.com/roelfdiedericks/memclaw/internal/queue"
	"github.com/roelfdiedericks/memclaw/internal/store"
)

// Server is the worker-local HTTP server. It binds loopback only.
type Server struct {
	store *store.Store
	queue *queue.Queue
	bus   *bus.Bus
	log   *log.Logger
	hub   *hub

	httpServer *http.Server
}

func New(s *store.Store, q *queue.Queue, b *bus.Bus, port int, logger *log.Logger) *Server {
	srv := &Server{
		store: s,
		queue: q,
		bus:   b,
		log:   logger,
		hub:   newHub(logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWS)
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/queue", srv.handleQueue)
	mux.HandleFunc("/api/observations", srv.handleObservations)
	mux.HandleFunc("/api/summaries", srv.handleSummaries)
	mux.HandleFunc("/api/projects", srv.handleProjects)
	mux.HandleFunc("/api/timeline", srv.handleTimeline)

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Start begins serving and relaying bus events to websocket clients.
// Blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	for _, topic := range []string{bus.TopicObservationCreated, bus.TopicSummaryCreated, bus.TopicQueueStatus} {
		s.bus.Subscribe(topic, func(ev bus.Event) {
			s.hub.broadcast(ev)
		})
	}

	s.log.Info("gateway listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encoding failed", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.PendingCount()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	busy, err := s.queue.HasPendingWork()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	oldest, _ := s.queue.OldestPendingEpoch()
	sessions, _ := s.queue.SessionsWithPendingWork()

	s.writeJSON(w, map[string]any{
		"queueDepth":         depth,
		"hasPendingWork":     busy,
		"oldestPendingEpoch": oldest,
		"sessions":           sessions,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 50)

	// Processed rows are audit history; newest first reads better there.
	if status == queue.StatusProcessed {
		messages, err := s.queue.RecentlyProcessed(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, messages)
		return
	}

	messages, err := s.queue.Messages(status, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, messages)
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	limit := queryInt(r, "limit", 50)

	if term := r.URL.Query().Get("q"); term != "" {
		observations, err := s.store.SearchObservations(project, term, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, observations)
		return
	}

	observations, err := s.store.RecentObservations(project, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, observations)
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.RecentSummaries(r.URL.Query().Get("project"), queryInt(r, "limit", 20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, summaries)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.Projects()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, projects)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	anchor := queryInt(r, "observation", 0)
	if anchor == 0 {
		http.Error(w, "observation query parameter required", http.StatusBadRequest)
		return
	}
	before := queryInt(r, "before", 3)
	after := queryInt(r, "after", 3)

	tl, err := s.store.TimelineAroundObservation(int64(anchor), before, after)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, tl)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
