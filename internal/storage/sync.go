package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SyncStore applies reconciler upserts. Every method runs inside a
// single transaction so a page of records either fully applies or
// rolls back; re-running with the same input is a no-op.
type SyncStore struct {
	db *Database
}

// NewSyncStore creates a new sync store.
func NewSyncStore(db *Database) *SyncStore {
	return &SyncStore{db: db}
}

// UpsertPullRequests applies one fetched page of pull requests for a
// repository, keyed by (repository_id, number).
func (s *SyncStore) UpsertPullRequests(ctx context.Context, repoID int64, prs []PullRequest) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO pull_requests (
			repository_id, github_id, number, title, body, state, html_url,
			author_login, head_branch, base_branch, additions, deletions,
			changed_files, commits_count, comments_count, merged,
			merged_at, closed_at, gh_created_at, gh_updated_at, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_id, number) DO UPDATE SET
			github_id = excluded.github_id,
			title = excluded.title,
			body = excluded.body,
			state = excluded.state,
			html_url = excluded.html_url,
			author_login = excluded.author_login,
			head_branch = excluded.head_branch,
			base_branch = excluded.base_branch,
			additions = excluded.additions,
			deletions = excluded.deletions,
			changed_files = excluded.changed_files,
			commits_count = excluded.commits_count,
			comments_count = excluded.comments_count,
			merged = excluded.merged,
			merged_at = excluded.merged_at,
			closed_at = excluded.closed_at,
			gh_created_at = excluded.gh_created_at,
			gh_updated_at = excluded.gh_updated_at,
			synced_at = excluded.synced_at
	`
	now := time.Now().UTC()
	for _, pr := range prs {
		_, err = tx.ExecContext(ctx, query,
			repoID, pr.GithubID, pr.Number, pr.Title, pr.Body, pr.State,
			pr.HTMLURL, pr.AuthorLogin, pr.HeadBranch, pr.BaseBranch,
			pr.Additions, pr.Deletions, pr.ChangedFiles, pr.CommitsCount,
			pr.CommentsCount, pr.Merged, pr.MergedAt, pr.ClosedAt,
			pr.GHCreatedAt, pr.GHUpdatedAt, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpsertIssues applies one fetched page of issues for a repository,
// keyed by (repository_id, number).
func (s *SyncStore) UpsertIssues(ctx context.Context, repoID int64, issues []Issue) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO issues (
			repository_id, github_id, number, title, body, state, html_url,
			author_login, labels, assignees, comments_count,
			closed_at, gh_created_at, gh_updated_at, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_id, number) DO UPDATE SET
			github_id = excluded.github_id,
			title = excluded.title,
			body = excluded.body,
			state = excluded.state,
			html_url = excluded.html_url,
			author_login = excluded.author_login,
			labels = excluded.labels,
			assignees = excluded.assignees,
			comments_count = excluded.comments_count,
			closed_at = excluded.closed_at,
			gh_created_at = excluded.gh_created_at,
			gh_updated_at = excluded.gh_updated_at,
			synced_at = excluded.synced_at
	`
	now := time.Now().UTC()
	for _, issue := range issues {
		_, err = tx.ExecContext(ctx, query,
			repoID, issue.GithubID, issue.Number, issue.Title, issue.Body,
			issue.State, issue.HTMLURL, issue.AuthorLogin, issue.Labels,
			issue.Assignees, issue.CommentsCount, issue.ClosedAt,
			issue.GHCreatedAt, issue.GHUpdatedAt, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpsertCommits applies one fetched page of commits, keyed globally by
// SHA. The repository reference follows the most recent observation.
func (s *SyncStore) UpsertCommits(ctx context.Context, repoID int64, commits []Commit) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO commits (
			repository_id, sha, message, html_url, author_name, author_email,
			author_login, additions, deletions, total_changes, committed_at, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sha) DO UPDATE SET
			repository_id = excluded.repository_id,
			message = excluded.message,
			html_url = excluded.html_url,
			author_name = excluded.author_name,
			author_email = excluded.author_email,
			author_login = excluded.author_login,
			additions = excluded.additions,
			deletions = excluded.deletions,
			total_changes = excluded.total_changes,
			committed_at = excluded.committed_at,
			synced_at = excluded.synced_at
	`
	now := time.Now().UTC()
	for _, c := range commits {
		_, err = tx.ExecContext(ctx, query,
			repoID, c.SHA, c.Message, c.HTMLURL, c.AuthorName, c.AuthorEmail,
			c.AuthorLogin, c.Additions, c.Deletions, c.TotalChanges,
			c.CommittedAt, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ReplaceContributors swaps the repository's contributor snapshot for a
// fresh one. Delete and bulk insert share one transaction, so readers
// never observe the empty window and stale rows never linger.
func (s *SyncStore) ReplaceContributors(ctx context.Context, repoID int64, contributors []Contributor) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM contributors WHERE repository_id = ?`, repoID); err != nil {
		return err
	}

	query := `
		INSERT INTO contributors (repository_id, login, avatar_url, html_url, contributions, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	for _, c := range contributors {
		_, err = tx.ExecContext(ctx, query,
			repoID, c.Login, c.AvatarURL, c.HTMLURL, c.Contributions, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetPullRequest returns a pull request by its natural key, or nil if
// absent.
func (s *SyncStore) GetPullRequest(ctx context.Context, repoID int64, number int) (*PullRequest, error) {
	var pr PullRequest
	err := s.db.GetContext(ctx, &pr,
		`SELECT * FROM pull_requests WHERE repository_id = ? AND number = ?`, repoID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// ListContributors returns the current contributor snapshot.
func (s *SyncStore) ListContributors(ctx context.Context, repoID int64) ([]Contributor, error) {
	var contributors []Contributor
	err := s.db.SelectContext(ctx, &contributors,
		`SELECT * FROM contributors WHERE repository_id = ? ORDER BY contributions DESC`, repoID)
	return contributors, err
}

// CountByRepo returns row counts per resource kind, used by the status
// endpoint and by idempotence tests.
func (s *SyncStore) CountByRepo(ctx context.Context, repoID int64, table string) (int, error) {
	var count int
	var query string
	switch table {
	case "pull_requests":
		query = `SELECT COUNT(*) FROM pull_requests WHERE repository_id = ?`
	case "issues":
		query = `SELECT COUNT(*) FROM issues WHERE repository_id = ?`
	case "commits":
		query = `SELECT COUNT(*) FROM commits WHERE repository_id = ?`
	case "contributors":
		query = `SELECT COUNT(*) FROM contributors WHERE repository_id = ?`
	default:
		return 0, errors.New("unknown table: " + table)
	}
	err := s.db.GetContext(ctx, &count, query, repoID)
	return count, err
}

// SaveAnalysis stores (or refreshes) the collaborator's review summary
// for a pull request.
func (s *SyncStore) SaveAnalysis(ctx context.Context, a *PullRequestAnalysis) error {
	query := `
		INSERT INTO pr_analyses (pull_request_id, summary, tokens_used, generated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pull_request_id) DO UPDATE SET
			summary = excluded.summary,
			tokens_used = excluded.tokens_used,
			generated_at = excluded.generated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		a.PullRequestID, a.Summary, a.TokensUsed, time.Now().UTC())
	return err
}
