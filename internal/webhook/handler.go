package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/user/reposync/internal/github"
	"github.com/user/reposync/internal/storage"
	"github.com/user/reposync/internal/task"
	"github.com/user/reposync/pkg/logger"
)

// Enqueuer is the dispatcher surface the handler needs.
type Enqueuer interface {
	Enqueue(task.Job) bool
}

// Handler processes inbound webhook deliveries. It only verifies,
// records and enqueues; all provider API work happens in workers, so
// the response never waits on an external call.
type Handler struct {
	repos      *storage.RepositoryStore
	webhooks   *storage.WebhookStore
	dispatcher Enqueuer
}

// NewHandler creates a webhook receiver handler.
func NewHandler(repos *storage.RepositoryStore, webhooks *storage.WebhookStore, dispatcher Enqueuer) *Handler {
	return &Handler{
		repos:      repos,
		webhooks:   webhooks,
		dispatcher: dispatcher,
	}
}

// envelope is the minimal payload shape the handler inspects. The raw
// body is stored verbatim; nothing else is parsed at the boundary.
type envelope struct {
	Action     string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
}

// ServeHTTP handles POST deliveries from GitHub.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read webhook body")
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	signature := r.Header.Get("X-Hub-Signature-256")
	if eventType == "" || deliveryID == "" || signature == "" {
		http.Error(w, "Missing required headers", http.StatusBadRequest)
		return
	}

	var payload envelope
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	}
	if payload.Repository.FullName == "" {
		http.Error(w, "Missing repository", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	repo, err := h.repos.GetByFullName(ctx, payload.Repository.FullName)
	if err != nil {
		logger.Error().Err(err).Msg("Repository lookup failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if repo == nil {
		http.Error(w, "Unknown repository", http.StatusNotFound)
		return
	}

	sub, err := h.webhooks.GetSubscription(ctx, repo.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Subscription lookup failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "Webhook not configured", http.StatusNotFound)
		return
	}

	// Verification runs over the exact raw bytes received.
	if !github.VerifySignature(body, signature, sub.Secret) {
		logger.Warn().Str("repo", repo.FullName).Str("delivery_id", deliveryID).
			Msg("Invalid webhook signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	err = h.webhooks.RecordDelivery(ctx, repo.ID, deliveryID, eventType, body)
	if errors.Is(err, storage.ErrDuplicateDelivery) {
		// Already handled; tell the sender everything is fine.
		logger.Info().Str("delivery_id", deliveryID).Msg("Duplicate delivery acknowledged")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("delivery_id", deliveryID).Msg("Failed to record delivery")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	kind := github.ParseEventKind(eventType)
	if kind == github.EventUnknown {
		logger.Info().Str("event_type", eventType).Str("delivery_id", deliveryID).
			Msg("Unrecognized event type acknowledged")
	}

	jobs := Route(kind, payload.Action, repo.ID, payload.PullRequest.Number)
	for _, job := range jobs {
		if !h.dispatcher.Enqueue(job) {
			if merr := h.webhooks.MarkFailed(ctx, deliveryID, "job queue full"); merr != nil {
				logger.Error().Err(merr).Str("delivery_id", deliveryID).Msg("Failed to mark delivery failed")
			}
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
	}

	if err := h.webhooks.MarkProcessed(ctx, deliveryID); err != nil {
		logger.Error().Err(err).Str("delivery_id", deliveryID).Msg("Failed to mark delivery processed")
	}

	logger.Info().
		Str("event_type", eventType).
		Str("repo", repo.FullName).
		Str("delivery_id", deliveryID).
		Int("jobs", len(jobs)).
		Msg("Webhook delivery processed")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
