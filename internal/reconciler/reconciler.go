// Package reconciler maps provider records onto the local store with
// idempotent natural-key upserts.
package reconciler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/user/reposync/internal/analysis"
	"github.com/user/reposync/internal/github"
	"github.com/user/reposync/internal/storage"
	"github.com/user/reposync/internal/task"
	"github.com/user/reposync/pkg/logger"
)

// Terminal job failures. Neither will succeed on retry without
// external intervention, so the dispatcher never retries them.
var (
	ErrRepositoryNotFound = errors.New("repository not present in store")
	ErrNoCredential       = errors.New("no provider credential configured")
)

// Provider is the subset of the GitHub client the reconciler consumes.
type Provider interface {
	GetRepository(ctx context.Context, fullName string) (*github.RepoInfo, error)
	ListPullRequests(ctx context.Context, fullName, state string, limit int) ([]github.PullRequestInfo, error)
	ListIssues(ctx context.Context, fullName, state string, limit int) ([]github.IssueInfo, error)
	ListCommits(ctx context.Context, fullName string, limit int) ([]github.CommitInfo, error)
	ListContributors(ctx context.Context, fullName string) ([]github.ContributorInfo, error)
	GetPullRequestDiff(ctx context.Context, fullName string, number int) (string, error)
}

const reviewSystemPrompt = "You are a senior engineer reviewing a pull request. " +
	"Summarize what the change does, call out risks, and keep it under 300 words."

// Maximum diff bytes handed to the collaborator.
const maxDiffBytes = 64 * 1024

// Reconciler executes sync jobs. Each resource kind applies inside one
// transaction per repository, so a failed attempt leaves no partial
// page behind and re-running is always safe.
type Reconciler struct {
	provider  Provider
	repos     *storage.RepositoryStore
	store     *storage.SyncStore
	generator *analysis.Generator
	pageLimit int
	hasToken  bool
}

// New creates a reconciler. generator may be nil when analysis is
// disabled.
func New(provider Provider, repos *storage.RepositoryStore, store *storage.SyncStore, generator *analysis.Generator, pageLimit int, hasToken bool) *Reconciler {
	return &Reconciler{
		provider:  provider,
		repos:     repos,
		store:     store,
		generator: generator,
		pageLimit: pageLimit,
		hasToken:  hasToken,
	}
}

// Run implements task.Handler.
func (r *Reconciler) Run(ctx context.Context, job task.Job) error {
	if !r.hasToken {
		return fmt.Errorf("repository %d: %w", job.RepoID, ErrNoCredential)
	}

	repo, err := r.repos.GetByID(ctx, job.RepoID)
	if err != nil {
		return err
	}
	if repo == nil {
		return fmt.Errorf("repository %d: %w", job.RepoID, ErrRepositoryNotFound)
	}

	switch job.Kind {
	case task.KindFullRefresh:
		return r.fullRefresh(ctx, repo)
	case task.KindSyncPulls:
		return r.syncPullRequests(ctx, repo)
	case task.KindSyncIssues:
		return r.syncIssues(ctx, repo)
	case task.KindSyncCommits:
		return r.syncCommits(ctx, repo)
	case task.KindSyncContributors:
		return r.syncContributors(ctx, repo)
	case task.KindAnalyzePull:
		return r.analyzePullRequest(ctx, repo, job.Number)
	default:
		return fmt.Errorf("unknown job kind %d", int(job.Kind))
	}
}

// fullRefresh syncs every resource kind in a fixed order. The order
// bounds peak API usage against one repository; each stage is
// independently idempotent, so a mid-sequence failure retries the
// whole job safely.
func (r *Reconciler) fullRefresh(ctx context.Context, repo *storage.Repository) error {
	log := logger.Component("reconciler").With().Str("repo", repo.FullName).Logger()
	log.Info().Msg("Starting full refresh")

	if err := r.syncMetadata(ctx, repo); err != nil {
		return err
	}
	if err := r.syncPullRequests(ctx, repo); err != nil {
		return err
	}
	if err := r.syncIssues(ctx, repo); err != nil {
		return err
	}
	if err := r.syncCommits(ctx, repo); err != nil {
		return err
	}
	if err := r.syncContributors(ctx, repo); err != nil {
		return err
	}

	log.Info().Msg("Full refresh complete")
	return nil
}

// syncMetadata refreshes repository metrics and the last_synced_at
// watermark. The upsert keys on the immutable GitHub id, so upstream
// renames converge onto the same row.
func (r *Reconciler) syncMetadata(ctx context.Context, repo *storage.Repository) error {
	info, err := r.provider.GetRepository(ctx, repo.FullName)
	if err != nil {
		return err
	}

	id, err := r.repos.Upsert(ctx, &storage.Repository{
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
		return err
	}

	return r.repos.MarkSynced(ctx, id, time.Now())
}

func (r *Reconciler) syncPullRequests(ctx context.Context, repo *storage.Repository) error {
	infos, err := r.provider.ListPullRequests(ctx, repo.FullName, "all", r.pageLimit)
	if err != nil {
		return err
	}

	rows := make([]storage.PullRequest, 0, len(infos))
	for _, pr := range infos {
		rows = append(rows, storage.PullRequest{
			GithubID:      pr.ID,
			Number:        pr.Number,
			Title:         pr.Title,
			Body:          pr.Body,
			State:         pr.State,
			HTMLURL:       pr.HTMLURL,
			AuthorLogin:   pr.AuthorLogin,
			HeadBranch:    pr.HeadBranch,
			BaseBranch:    pr.BaseBranch,
			Additions:     pr.Additions,
			Deletions:     pr.Deletions,
			ChangedFiles:  pr.ChangedFiles,
			CommitsCount:  pr.CommitsCount,
			CommentsCount: pr.CommentsCount,
			Merged:        pr.Merged,
			MergedAt:      nullTime(pr.MergedAt),
			ClosedAt:      nullTime(pr.ClosedAt),
			GHCreatedAt:   nullTime(pr.CreatedAt),
			GHUpdatedAt:   nullTime(pr.UpdatedAt),
		})
	}

	if err := r.store.UpsertPullRequests(ctx, repo.ID, rows); err != nil {
		return err
	}
	logger.Debug().Str("repo", repo.FullName).Int("count", len(rows)).Msg("Synced pull requests")
	return nil
}

func (r *Reconciler) syncIssues(ctx context.Context, repo *storage.Repository) error {
	infos, err := r.provider.ListIssues(ctx, repo.FullName, "all", r.pageLimit)
	if err != nil {
		return err
	}

	rows := make([]storage.Issue, 0, len(infos))
	for _, issue := range infos {
		rows = append(rows, storage.Issue{
			GithubID:      issue.ID,
			Number:        issue.Number,
			Title:         issue.Title,
			Body:          issue.Body,
			State:         issue.State,
			HTMLURL:       issue.HTMLURL,
			AuthorLogin:   issue.AuthorLogin,
			Labels:        marshalStrings(issue.Labels),
			Assignees:     marshalStrings(issue.Assignees),
			CommentsCount: issue.CommentsCount,
			ClosedAt:      nullTime(issue.ClosedAt),
			GHCreatedAt:   nullTime(issue.CreatedAt),
			GHUpdatedAt:   nullTime(issue.UpdatedAt),
		})
	}

	if err := r.store.UpsertIssues(ctx, repo.ID, rows); err != nil {
		return err
	}
	logger.Debug().Str("repo", repo.FullName).Int("count", len(rows)).Msg("Synced issues")
	return nil
}

func (r *Reconciler) syncCommits(ctx context.Context, repo *storage.Repository) error {
	infos, err := r.provider.ListCommits(ctx, repo.FullName, r.pageLimit)
	if err != nil {
		return err
	}

	rows := make([]storage.Commit, 0, len(infos))
	for _, c := range infos {
		rows = append(rows, storage.Commit{
			SHA:          c.SHA,
			Message:      c.Message,
			HTMLURL:      c.HTMLURL,
			AuthorName:   c.AuthorName,
			AuthorEmail:  c.AuthorEmail,
			AuthorLogin:  c.AuthorLogin,
			CommittedAt:  nullTime(c.CommittedAt),
		})
	}

	if err := r.store.UpsertCommits(ctx, repo.ID, rows); err != nil {
		return err
	}
	logger.Debug().Str("repo", repo.FullName).Int("count", len(rows)).Msg("Synced commits")
	return nil
}

// syncContributors replaces the whole snapshot: contribution counts
// are cumulative totals recomputed upstream, so diffing against the
// previous rows would only preserve staleness.
func (r *Reconciler) syncContributors(ctx context.Context, repo *storage.Repository) error {
	infos, err := r.provider.ListContributors(ctx, repo.FullName)
	if err != nil {
		return err
	}

	rows := make([]storage.Contributor, 0, len(infos))
	for _, c := range infos {
		rows = append(rows, storage.Contributor{
			Login:         c.Login,
			AvatarURL:     c.AvatarURL,
			HTMLURL:       c.HTMLURL,
			Contributions: c.Contributions,
		})
	}

	if err := r.store.ReplaceContributors(ctx, repo.ID, rows); err != nil {
		return err
	}
	logger.Debug().Str("repo", repo.FullName).Int("count", len(rows)).Msg("Replaced contributors")
	return nil
}

// analyzePullRequest asks the collaborator for a review summary of the
// PR's diff. If the PR is not yet in the store (webhook raced the
// sweep), pull requests are re-synced first.
func (r *Reconciler) analyzePullRequest(ctx context.Context, repo *storage.Repository, number int) error {
	if r.generator == nil || !r.generator.Enabled() {
		logger.Debug().Str("repo", repo.FullName).Int("number", number).Msg("Analysis disabled, skipping")
		return nil
	}

	pr, err := r.store.GetPullRequest(ctx, repo.ID, number)
	if err != nil {
		return err
	}
	if pr == nil {
		if err := r.syncPullRequests(ctx, repo); err != nil {
			return err
		}
		pr, err = r.store.GetPullRequest(ctx, repo.ID, number)
		if err != nil {
			return err
		}
		if pr == nil {
			return fmt.Errorf("pull request %s#%d not found after resync", repo.FullName, number)
		}
	}

	diff, err := r.provider.GetPullRequestDiff(ctx, repo.FullName, number)
	if err != nil {
		return err
	}
	if diff == "" {
		logger.Warn().Str("repo", repo.FullName).Int("number", number).Msg("Empty diff, skipping analysis")
		return nil
	}
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes]
	}

	content := fmt.Sprintf("Title: %s\n\nDescription: %s\n\nDiff:\n%s", pr.Title, pr.Body, diff)
	result, err := r.generator.Generate(ctx, reviewSystemPrompt, content)
	if err != nil {
		return err
	}

	if err := r.store.SaveAnalysis(ctx, &storage.PullRequestAnalysis{
		PullRequestID: pr.ID,
		Summary:       result.Content,
		TokensUsed:    result.TokensUsed,
	}); err != nil {
		return err
	}

	logger.Info().Str("repo", repo.FullName).Int("number", number).
		Int("tokens", result.TokensUsed).Msg("Stored pull request analysis")
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}
