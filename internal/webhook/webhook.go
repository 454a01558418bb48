// Package webhook receives GitHub webhook deliveries, verifies their
// signatures, and turns pull request label activity into queue mutations.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/cache"
	"github.com/imq-dev/imq/internal/metrics"
	"github.com/imq-dev/imq/internal/queue"
)

const (
	// maxBodySize caps a delivery's body at 1 MiB.
	maxBodySize = 1 << 20

	// handleTimeout bounds one delivery's queue mutations.
	handleTimeout = 10 * time.Second

	// dedupTTL is how long delivery ids are remembered for redelivery
	// detection.
	dedupTTL = 10 * time.Minute
)

// Handler verifies, deduplicates, and routes webhook deliveries. It mutates
// queues through the service and never does pipeline work inline.
type Handler struct {
	secret  string
	store   queue.ConfigStore
	service *queue.Service
	results *cache.ResultCache
	dedup   *gocache.Cache
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHandler wires the webhook ingress. An empty secret disables signature
// verification; results may be nil when no check cache is in play.
func NewHandler(secret string, store queue.ConfigStore, service *queue.Service, results *cache.ResultCache, logger *zap.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		secret:  secret,
		store:   store,
		service: service,
		results: results,
		dedup:   gocache.New(dedupTTL, 2*dedupTTL),
		logger:  logger,
		metrics: m,
	}
}

// ServeHTTP handles POST /webhook/github.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.reject(w, http.StatusBadRequest, "unreadable body", "body")
		return
	}

	if h.secret != "" && !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		h.reject(w, http.StatusUnauthorized, "signature mismatch", "signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if event == "" {
		h.reject(w, http.StatusBadRequest, "missing X-GitHub-Event header", "missing_event")
		return
	}

	if delivery := r.Header.Get("X-GitHub-Delivery"); delivery != "" {
		if _, seen := h.dedup.Get(delivery); seen {
			h.logger.Debug("duplicate delivery acknowledged",
				zap.String("delivery", delivery),
				zap.String("event", event))
			respond(w, http.StatusOK, "duplicate delivery")
			return
		}
		h.dedup.SetDefault(delivery, struct{}{})
	}

	ctx, cancel := context.WithTimeout(r.Context(), handleTimeout)
	defer cancel()

	switch event {
	case "ping":
		h.countEvent(event, "")
		respond(w, http.StatusOK, "pong")
	case "pull_request":
		h.handlePullRequest(ctx, w, body)
	default:
		h.logger.Debug("ignoring event", zap.String("event", event))
		h.countEvent(event, "ignored")
		respond(w, http.StatusOK, "ignored")
	}
}

func (h *Handler) handlePullRequest(ctx context.Context, w http.ResponseWriter, body []byte) {
	var evt pullRequestEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		h.reject(w, http.StatusBadRequest, "malformed payload", "bad_payload")
		return
	}

	h.countEvent("pull_request", evt.Action)

	sc, err := h.store.SystemConfig(ctx)
	if err != nil {
		h.fail(w, fmt.Errorf("failed to load system config: %w", err))
		return
	}

	repo := queue.Repo{Owner: evt.Repository.Owner.Login, Name: evt.Repository.Name}
	number := evt.PullRequest.Number
	logger := h.logger.With(
		zap.String("repo", repo.String()),
		zap.Int("pr", number),
		zap.String("action", evt.Action))

	switch evt.Action {
	case "labeled":
		if !evt.hasLabel(sc.TriggerLabel) {
			respond(w, http.StatusOK, "label not relevant")
			return
		}
		entry, err := h.service.Enqueue(ctx, evt.toDomain(repo))
		if err != nil {
			h.fail(w, err)
			return
		}
		logger.Info("pull request enqueued", zap.Int("position", entry.Position))

	case "unlabeled":
		if evt.hasLabel(sc.TriggerLabel) {
			respond(w, http.StatusOK, "trigger label still present")
			return
		}
		removed, err := h.service.Remove(ctx, repo, number)
		if err != nil {
			h.fail(w, err)
			return
		}
		if removed != nil {
			logger.Info("pull request dequeued")
		}

	case "synchronize":
		if !evt.hasLabel(sc.TriggerLabel) {
			respond(w, http.StatusOK, "not queued")
			return
		}
		// New commits invalidate any check results for the old head.
		if h.results != nil && evt.Before != "" {
			h.results.InvalidateSHA(evt.Before)
		}
		entry, err := h.service.Requeue(ctx, evt.toDomain(repo))
		if err != nil {
			h.fail(w, err)
			return
		}
		logger.Info("pull request requeued",
			zap.String("head_sha", evt.PullRequest.Head.SHA),
			zap.Int("position", entry.Position))

	case "closed":
		if err := h.service.Close(ctx, repo, number); err != nil {
			h.fail(w, err)
			return
		}
		logger.Info("pull request closed")

	default:
		logger.Debug("ignoring action")
	}

	respond(w, http.StatusOK, "ok")
}

// verifySignature checks the hex HMAC-SHA256 of the body in constant time.
func (h *Handler) verifySignature(body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimPrefix(header, prefix)))
}

func (h *Handler) reject(w http.ResponseWriter, status int, msg, reason string) {
	if h.metrics != nil {
		h.metrics.WebhookFailures.WithLabelValues(reason).Inc()
	}
	h.logger.Warn("webhook delivery rejected",
		zap.Int("status", status),
		zap.String("reason", msg))
	respond(w, status, msg)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if h.metrics != nil {
		h.metrics.WebhookFailures.WithLabelValues("handler_error").Inc()
	}
	h.logger.Error("webhook handling failed", zap.Error(err))
	respond(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) countEvent(event, action string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(event, action).Inc()
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func respond(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
