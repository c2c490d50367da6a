package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/user/reposync/internal/github"
	"github.com/user/reposync/internal/storage"
	"github.com/user/reposync/pkg/logger"
)

// ErrUnknownRepository is returned when status or removal is requested
// for a repository the store has never seen.
var ErrUnknownRepository = errors.New("repository not present in store")

// HookProvider is the subset of the GitHub client the manager consumes.
type HookProvider interface {
	GetRepository(ctx context.Context, fullName string) (*github.RepoInfo, error)
	CreateWebhook(ctx context.Context, fullName, url, secret string, events []string) (int64, error)
	DeleteWebhook(ctx context.Context, fullName string, hookID int64) error
}

// Manager provisions and tears down per-repository webhook
// subscriptions.
type Manager struct {
	provider  HookProvider
	repos     *storage.RepositoryStore
	webhooks  *storage.WebhookStore
	publicURL string
}

// NewManager creates a webhook subscription manager. publicURL is the
// externally reachable receiver endpoint registered with GitHub.
func NewManager(provider HookProvider, repos *storage.RepositoryStore, webhooks *storage.WebhookStore, publicURL string) *Manager {
	return &Manager{
		provider:  provider,
		repos:     repos,
		webhooks:  webhooks,
		publicURL: publicURL,
	}
}

// Provision registers a hook upstream with a fresh random secret and
// stores the subscription. A repository not yet tracked locally is
// fetched and inserted first, so provisioning doubles as onboarding.
func (m *Manager) Provision(ctx context.Context, fullName string) (*storage.WebhookSubscription, error) {
	if m.publicURL == "" {
		return nil, errors.New("webhook public_url is not configured")
	}

	repo, err := m.repos.GetByFullName(ctx, fullName)
	if err != nil {
		return nil, err
	}

	var repoID int64
	if repo == nil {
		info, err := m.provider.GetRepository(ctx, fullName)
		if err != nil {
			return nil, err
		}
		repoID, err = m.repos.Upsert(ctx, &storage.Repository{
			GithubID:        info.ID,
			FullName:        info.FullName,
			Description:     info.Description,
			HTMLURL:         info.HTMLURL,
			Language:        info.Language,
			DefaultBranch:   info.DefaultBranch,
			StarsCount:      info.Stars,
			ForksCount:      info.Forks,
			OpenIssuesCount: info.OpenIssues,
			WatchersCount:   info.Watchers,
			SizeKB:          info.SizeKB,
		})
		if err != nil {
			return nil, err
		}
	} else {
		repoID = repo.ID
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	events := github.SubscribedEvents()
	hookID, err := m.provider.CreateWebhook(ctx, fullName, m.publicURL, secret, events)
	if err != nil {
		return nil, err
	}

	if err := m.webhooks.SaveSubscription(ctx, repoID, hookID, secret, events); err != nil {
		return nil, fmt.Errorf("hook %d created upstream but not stored: %w", hookID, err)
	}

	logger.Info().Str("repo", fullName).Int64("hook_id", hookID).Msg("Webhook provisioned")
	return m.webhooks.GetSubscription(ctx, repoID)
}

// Status returns the repository's subscription with its delivery
// counters, or nil when no hook is configured.
func (m *Manager) Status(ctx context.Context, fullName string) (*storage.WebhookSubscription, error) {
	repo, err := m.repos.GetByFullName(ctx, fullName)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, ErrUnknownRepository
	}
	return m.webhooks.GetSubscription(ctx, repo.ID)
}

// Remove deletes the hook upstream and drops the subscription.
func (m *Manager) Remove(ctx context.Context, fullName string) error {
	repo, err := m.repos.GetByFullName(ctx, fullName)
	if err != nil {
		return err
	}
	if repo == nil {
		return ErrUnknownRepository
	}

	sub, err := m.webhooks.GetSubscription(ctx, repo.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	if sub.HookID != 0 {
		if err := m.provider.DeleteWebhook(ctx, fullName, sub.HookID); err != nil && !github.IsNotFound(err) {
			return err
		}
	}

	return m.webhooks.DeleteSubscription(ctx, repo.ID)
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
