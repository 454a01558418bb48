package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/queue"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := s.store.Queues(r.Context())
	if err != nil {
		s.logger.Error("failed to list queues", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list queues")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"queues": queues,
		"count":  len(queues),
	})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.queueByID(r, chi.URLParam(r, "queueID"))
	if err != nil {
		s.logger.Error("failed to load queue", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load queue")
		return
	}
	if q == nil {
		s.respondError(w, http.StatusNotFound, "queue not found")
		return
	}
	s.respondJSON(w, http.StatusOK, q)
}

func (s *Server) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.queueByID(r, chi.URLParam(r, "queueID"))
	if err != nil {
		s.logger.Error("failed to load queue", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load queue")
		return
	}
	if q == nil {
		s.respondError(w, http.StatusNotFound, "queue not found")
		return
	}
	for _, e := range q.Entries {
		if e.Status.IsInFlight() {
			s.respondError(w, http.StatusConflict, "queue has an entry being processed")
			return
		}
	}

	if err := s.store.DeleteQueue(r.Context(), q.ID); err != nil {
		if errors.Is(err, queue.ErrQueueNotFound) {
			s.respondError(w, http.StatusNotFound, "queue not found")
			return
		}
		s.logger.Error("failed to delete queue", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to delete queue")
		return
	}

	s.logger.Info("queue deleted",
		zap.String("queue", q.ID),
		zap.String("branch", q.BaseBranch),
		zap.Int("entries", q.Len()))
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	queueID := chi.URLParam(r, "queueID")
	entryID := chi.URLParam(r, "entryID")

	q, err := s.queueByID(r, queueID)
	if err != nil {
		s.logger.Error("failed to load queue", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load queue")
		return
	}
	if q == nil {
		s.respondError(w, http.StatusNotFound, "queue not found")
		return
	}
	if e := q.EntryByID(entryID); e != nil && e.Status.IsInFlight() {
		s.respondError(w, http.StatusConflict, "entry is being processed")
		return
	}

	if err := s.service.RemoveEntry(r.Context(), queueID, entryID); err != nil {
		if errors.Is(err, queue.ErrEntryNotFound) {
			s.respondError(w, http.StatusNotFound, "entry not found")
			return
		}
		s.logger.Error("failed to remove entry", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to remove entry")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.SystemConfig(r.Context())
	if err != nil {
		s.logger.Error("failed to load system config", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load configuration")
		return
	}
	s.respondJSON(w, http.StatusOK, sc)
}

// handlePutConfig replaces the system configuration. The check graph is
// validated before saving; the processor and webhook read the row fresh on
// every pass, so a successful save is live immediately.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var sc queue.SystemConfig
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed configuration")
		return
	}
	if err := sc.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SaveSystemConfig(r.Context(), &sc); err != nil {
		s.logger.Error("failed to save system config", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to save configuration")
		return
	}

	s.logger.Info("system configuration replaced",
		zap.String("trigger_label", sc.TriggerLabel),
		zap.Int("checks", len(sc.Checks.Checks)))
	s.respondJSON(w, http.StatusOK, &sc)
}

// queueByID scans the queue list for an id. Queue counts track base
// branches, so the linear scan stays short.
func (s *Server) queueByID(r *http.Request, id string) (*queue.Queue, error) {
	queues, err := s.store.Queues(r.Context())
	if err != nil {
		return nil, err
	}
	for _, q := range queues {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, nil
}
