package webhook

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/reposync/internal/github"
	"github.com/user/reposync/internal/storage"
)

type fakeHookProvider struct {
	repo      *github.RepoInfo
	hookID    int64
	createErr error
	deleteErr error

	created []string
	deleted []int64
}

func (f *fakeHookProvider) GetRepository(ctx context.Context, fullName string) (*github.RepoInfo, error) {
	if f.repo == nil {
		return nil, &github.ProviderError{Kind: github.KindNotFound, Op: "get repository", Err: fmt.Errorf("no such repo")}
	}
	return f.repo, nil
}

func (f *fakeHookProvider) CreateWebhook(ctx context.Context, fullName, url, secret string, events []string) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.created = append(f.created, url)
	return f.hookID, nil
}

func (f *fakeHookProvider) DeleteWebhook(ctx context.Context, fullName string, hookID int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, hookID)
	return nil
}

func newManagerFixture(t *testing.T, publicURL string) (*Manager, *fakeHookProvider, *storage.RepositoryStore, *storage.WebhookStore) {
	t.Helper()
	db, err := storage.NewMemoryDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	provider := &fakeHookProvider{
		repo:   &github.RepoInfo{ID: 42, FullName: "acme/widgets", Language: "Go"},
		hookID: 900,
	}
	repos := storage.NewRepositoryStore(db)
	webhooks := storage.NewWebhookStore(db)
	return NewManager(provider, repos, webhooks, publicURL), provider, repos, webhooks
}

func TestProvisionOnboardsUnknownRepository(t *testing.T) {
	m, provider, repos, _ := newManagerFixture(t, "https://hooks.example.com/webhooks/github")
	ctx := context.Background()

	sub, err := m.Provision(ctx, "acme/widgets")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, int64(900), sub.HookID)
	assert.Len(t, sub.Secret, 64, "secret is 32 random bytes hex encoded")
	assert.True(t, sub.IsActive)

	repo, err := repos.GetByFullName(ctx, "acme/widgets")
	require.NoError(t, err)
	require.NotNil(t, repo, "provisioning onboards the repository")
	assert.Equal(t, int64(42), repo.GithubID)

	require.Len(t, provider.created, 1)
	assert.Equal(t, "https://hooks.example.com/webhooks/github", provider.created[0])
}

func TestProvisionRotatesSecret(t *testing.T) {
	m, _, _, _ := newManagerFixture(t, "https://hooks.example.com/webhooks/github")
	ctx := context.Background()

	first, err := m.Provision(ctx, "acme/widgets")
	require.NoError(t, err)
	second, err := m.Provision(ctx, "acme/widgets")
	require.NoError(t, err)

	assert.NotEqual(t, first.Secret, second.Secret)
}

func TestProvisionRequiresPublicURL(t *testing.T) {
	m, _, _, _ := newManagerFixture(t, "")

	_, err := m.Provision(context.Background(), "acme/widgets")
	require.Error(t, err)
}

func TestProvisionUnknownUpstreamRepository(t *testing.T) {
	m, provider, _, _ := newManagerFixture(t, "https://hooks.example.com/webhooks/github")
	provider.repo = nil

	_, err := m.Provision(context.Background(), "acme/widgets")
	require.Error(t, err)
	assert.True(t, github.IsNotFound(err))
}

func TestStatusUnknownRepository(t *testing.T) {
	m, _, _, _ := newManagerFixture(t, "https://hooks.example.com/webhooks/github")

	_, err := m.Status(context.Background(), "acme/widgets")
	require.ErrorIs(t, err, ErrUnknownRepository)
}

func TestStatusWithoutSubscription(t *testing.T) {
	m, _, repos, _ := newManagerFixture(t, "https://hooks.example.com/webhooks/github")
	ctx := context.Background()
	_, err := repos.Upsert(ctx, &storage.Repository{GithubID: 42, FullName: "acme/widgets"})
	require.NoError(t, err)

	sub, err := m.Status(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestRemoveDeletesUpstreamAndLocal(t *testing.T) {
	m, provider, _, webhooks := newManagerFixture(t, "https://hooks.example.com/webhooks/github")
	ctx := context.Background()

	sub, err := m.Provision(ctx, "acme/widgets")
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, "acme/widgets"))
	assert.Equal(t, []int64{sub.HookID}, provider.deleted)

	gone, err := webhooks.GetSubscription(ctx, sub.RepositoryID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRemoveToleratesMissingUpstreamHook(t *testing.T) {
	m, provider, _, webhooks := newManagerFixture(t, "https://hooks.example.com/webhooks/github")
	ctx := context.Background()

	sub, err := m.Provision(ctx, "acme/widgets")
	require.NoError(t, err)

	provider.deleteErr = &github.ProviderError{
		Kind: github.KindNotFound,
		Op:   "delete webhook",
		Err:  fmt.Errorf("hook gone"),
	}
	require.NoError(t, m.Remove(ctx, "acme/widgets"))

	gone, err := webhooks.GetSubscription(ctx, sub.RepositoryID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
