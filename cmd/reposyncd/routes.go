package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/user/reposync/internal/github"
	"github.com/user/reposync/internal/storage"
	"github.com/user/reposync/internal/task"
	"github.com/user/reposync/internal/webhook"
	"github.com/user/reposync/pkg/logger"
)

type api struct {
	repos      *storage.RepositoryStore
	manager    *webhook.Manager
	dispatcher *task.Dispatcher
	ghClient   *github.Client
}

// newRouter wires the HTTP surface: the webhook receiver plus a small
// admin API for provisioning hooks and forcing syncs.
func newRouter(a *api, receiver *webhook.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhooks/github", receiver.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/repos/{owner}/{name}/webhook", a.provisionWebhook)
		r.Get("/repos/{owner}/{name}/webhook", a.webhookStatus)
		r.Delete("/repos/{owner}/{name}/webhook", a.removeWebhook)
		r.Post("/repos/{owner}/{name}/sync", a.triggerSync)
		r.Get("/rate_limit", a.rateLimit)
	})

	return r
}

// subscriptionView is the status payload; the shared secret never
// leaves the store.
type subscriptionView struct {
	HookID           int64      `json:"hook_id"`
	Events           []string   `json:"events"`
	IsActive         bool       `json:"is_active"`
	TotalDeliveries  int        `json:"total_deliveries"`
	FailedDeliveries int        `json:"failed_deliveries"`
	LastDeliveryAt   *time.Time `json:"last_delivery_at,omitempty"`
}

func viewSubscription(sub *storage.WebhookSubscription) subscriptionView {
	var events []string
	if err := json.Unmarshal([]byte(sub.Events), &events); err != nil {
		events = nil
	}
	view := subscriptionView{
		HookID:           sub.HookID,
		Events:           events,
		IsActive:         sub.IsActive,
		TotalDeliveries:  sub.TotalDeliveries,
		FailedDeliveries: sub.FailedDeliveries,
	}
	if sub.LastDeliveryAt.Valid {
		t := sub.LastDeliveryAt.Time
		view.LastDeliveryAt = &t
	}
	return view
}

func (a *api) provisionWebhook(w http.ResponseWriter, r *http.Request) {
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	sub, err := a.manager.Provision(r.Context(), fullName)
	if err != nil {
		logger.Error().Err(err).Str("repo", fullName).Msg("Webhook provisioning failed")
		respondWithError(w, providerStatus(err), "Failed to provision webhook")
		return
	}

	respondWithJSON(w, http.StatusCreated, viewSubscription(sub))
}

func (a *api) webhookStatus(w http.ResponseWriter, r *http.Request) {
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	sub, err := a.manager.Status(r.Context(), fullName)
	if errors.Is(err, webhook.ErrUnknownRepository) {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if sub == nil {
		respondWithError(w, http.StatusNotFound, "Webhook not configured")
		return
	}

	respondWithJSON(w, http.StatusOK, viewSubscription(sub))
}

func (a *api) removeWebhook(w http.ResponseWriter, r *http.Request) {
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	err := a.manager.Remove(r.Context(), fullName)
	if errors.Is(err, webhook.ErrUnknownRepository) {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("repo", fullName).Msg("Webhook removal failed")
		respondWithError(w, providerStatus(err), "Failed to remove webhook")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *api) triggerSync(w http.ResponseWriter, r *http.Request) {
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	repo, err := a.repos.GetByFullName(r.Context(), fullName)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if repo == nil {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return
	}

	if !a.dispatcher.Enqueue(task.Job{Kind: task.KindFullRefresh, RepoID: repo.ID}) {
		respondWithError(w, http.StatusServiceUnavailable, "Job queue full")
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (a *api) rateLimit(w http.ResponseWriter, r *http.Request) {
	info, err := a.ghClient.GetRateLimit(r.Context())
	if err != nil {
		respondWithError(w, providerStatus(err), "Failed to fetch rate limit")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset":     info.Reset,
	})
}

// providerStatus maps a classified provider error onto an HTTP status.
func providerStatus(err error) int {
	switch {
	case github.IsNotFound(err):
		return http.StatusNotFound
	case github.IsAuth(err):
		return http.StatusBadGateway
	case github.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
