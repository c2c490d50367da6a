// Package github provides the GitHub API client, webhook signature
// verification and the inbound event taxonomy.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/user/reposync/pkg/logger"
)

const perPage = 100

// Client wraps the GitHub API client. All list operations paginate
// transparently and return normalized records so callers never depend
// on SDK types.
type Client struct {
	gh *github.Client
}

// NewClient creates a new GitHub API client.
// If token is empty, an unauthenticated client is created (with lower rate limits).
func NewClient(token string) *Client {
	var client *github.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	return &Client{gh: client}
}

// WithBaseURL points the client at an alternate API endpoint, used by
// tests running against a local fake.
func (c *Client) WithBaseURL(baseURL string) error {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return err
	}
	c.gh.BaseURL = u
	c.gh.UploadURL = u
	return nil
}

// RepoInfo contains normalized repository metadata.
type RepoInfo struct {
	ID            int64
	FullName      string
	Description   string
	HTMLURL       string
	Language      string
	DefaultBranch string
	Stars         int
	Forks         int
	OpenIssues    int
	Watchers      int
	SizeKB        int
}

// PullRequestInfo contains normalized pull request data.
type PullRequestInfo struct {
	ID            int64
	Number        int
	Title         string
	Body          string
	State         string
	HTMLURL       string
	AuthorLogin   string
	HeadBranch    string
	BaseBranch    string
	Additions     int
	Deletions     int
	ChangedFiles  int
	CommitsCount  int
	CommentsCount int
	Merged        bool
	MergedAt      time.Time
	ClosedAt      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IssueInfo contains normalized issue data.
type IssueInfo struct {
	ID            int64
	Number        int
	Title         string
	Body          string
	State         string
	HTMLURL       string
	AuthorLogin   string
	Labels        []string
	Assignees     []string
	CommentsCount int
	ClosedAt      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CommitInfo contains normalized commit data.
type CommitInfo struct {
	SHA         string
	Message     string
	HTMLURL     string
	AuthorName  string
	AuthorEmail string
	AuthorLogin string
	CommittedAt time.Time
}

// ContributorInfo contains normalized contributor data. Contributions
// is a cumulative total recomputed upstream, not a delta.
type ContributorInfo struct {
	Login         string
	AvatarURL     string
	HTMLURL       string
	Contributions int
}

// RateInfo reports the core API rate limit status.
type RateInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// GetRepository retrieves normalized metadata for a repository.
func (c *Client) GetRepository(ctx context.Context, fullName string) (*RepoInfo, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	r, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, classify("get repository", err)
	}

	return &RepoInfo{
		ID:            r.GetID(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		HTMLURL:       r.GetHTMLURL(),
		Language:      r.GetLanguage(),
		DefaultBranch: r.GetDefaultBranch(),
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
		Watchers:      r.GetWatchersCount(),
		SizeKB:        r.GetSize(),
	}, nil
}

// ListPullRequests fetches up to limit pull requests in the given
// state, newest first. Records missing a number are skipped with a
// warning rather than failing the page.
func (c *Client) ListPullRequests(ctx context.Context, fullName, state string, limit int) ([]PullRequestInfo, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	opts := &github.PullRequestListOptions{
		State:       state,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var out []PullRequestInfo
	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, classify("list pull requests", err)
		}

		for _, pr := range prs {
			if pr.GetNumber() == 0 {
				logger.Warn().Str("repo", fullName).Msg("Skipping pull request without number")
				continue
			}
			out = append(out, PullRequestInfo{
				ID:            pr.GetID(),
				Number:        pr.GetNumber(),
				Title:         pr.GetTitle(),
				Body:          pr.GetBody(),
				State:         pr.GetState(),
				HTMLURL:       pr.GetHTMLURL(),
				AuthorLogin:   pr.GetUser().GetLogin(),
				HeadBranch:    pr.GetHead().GetRef(),
				BaseBranch:    pr.GetBase().GetRef(),
				Additions:     pr.GetAdditions(),
				Deletions:     pr.GetDeletions(),
				ChangedFiles:  pr.GetChangedFiles(),
				CommitsCount:  pr.GetCommits(),
				CommentsCount: pr.GetComments(),
				Merged:        pr.GetMerged() || !pr.GetMergedAt().IsZero(),
				MergedAt:      pr.GetMergedAt().Time,
				ClosedAt:      pr.GetClosedAt().Time,
				CreatedAt:     pr.GetCreatedAt().Time,
				UpdatedAt:     pr.GetUpdatedAt().Time,
			})
			if len(out) >= limit {
				return out, nil
			}
		}

		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListIssues fetches up to limit issues in the given state. The issues
// API reports pull requests too; those are filtered out here.
func (c *Client) ListIssues(ctx context.Context, fullName, state string, limit int) ([]IssueInfo, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	opts := &github.IssueListByRepoOptions{
		State:       state,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var out []IssueInfo
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, classify("list issues", err)
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			if issue.GetNumber() == 0 {
				logger.Warn().Str("repo", fullName).Msg("Skipping issue without number")
				continue
			}

			labels := make([]string, 0, len(issue.Labels))
			for _, l := range issue.Labels {
				labels = append(labels, l.GetName())
			}
			assignees := make([]string, 0, len(issue.Assignees))
			for _, a := range issue.Assignees {
				assignees = append(assignees, a.GetLogin())
			}

			out = append(out, IssueInfo{
				ID:            issue.GetID(),
				Number:        issue.GetNumber(),
				Title:         issue.GetTitle(),
				Body:          issue.GetBody(),
				State:         issue.GetState(),
				HTMLURL:       issue.GetHTMLURL(),
				AuthorLogin:   issue.GetUser().GetLogin(),
				Labels:        labels,
				Assignees:     assignees,
				CommentsCount: issue.GetComments(),
				ClosedAt:      issue.GetClosedAt().Time,
				CreatedAt:     issue.GetCreatedAt().Time,
				UpdatedAt:     issue.GetUpdatedAt().Time,
			})
			if len(out) >= limit {
				return out, nil
			}
		}

		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListCommits fetches up to limit recent commits. Records missing a
// SHA are skipped with a warning.
func (c *Client) ListCommits(ctx context.Context, fullName string, limit int) ([]CommitInfo, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var out []CommitInfo
	for {
		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return nil, classify("list commits", err)
		}

		for _, commit := range commits {
			if commit.GetSHA() == "" {
				logger.Warn().Str("repo", fullName).Msg("Skipping commit without SHA")
				continue
			}
			out = append(out, CommitInfo{
				SHA:         commit.GetSHA(),
				Message:     commit.GetCommit().GetMessage(),
				HTMLURL:     commit.GetHTMLURL(),
				AuthorName:  commit.GetCommit().GetAuthor().GetName(),
				AuthorEmail: commit.GetCommit().GetAuthor().GetEmail(),
				AuthorLogin: commit.GetAuthor().GetLogin(),
				CommittedAt: commit.GetCommit().GetAuthor().GetDate().Time,
			})
			if len(out) >= limit {
				return out, nil
			}
		}

		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListContributors fetches the full contributor list with cumulative
// contribution counts.
func (c *Client) ListContributors(ctx context.Context, fullName string) ([]ContributorInfo, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	opts := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var out []ContributorInfo
	for {
		contributors, resp, err := c.gh.Repositories.ListContributors(ctx, owner, name, opts)
		if err != nil {
			return nil, classify("list contributors", err)
		}

		for _, contributor := range contributors {
			if contributor.GetLogin() == "" {
				logger.Warn().Str("repo", fullName).Msg("Skipping contributor without login")
				continue
			}
			out = append(out, ContributorInfo{
				Login:         contributor.GetLogin(),
				AvatarURL:     contributor.GetAvatarURL(),
				HTMLURL:       contributor.GetHTMLURL(),
				Contributions: contributor.GetContributions(),
			})
		}

		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetPullRequestDiff fetches the raw diff of a pull request, used by
// the analysis collaborator.
func (c *Client) GetPullRequestDiff(ctx context.Context, fullName string, number int) (string, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return "", err
	}

	diff, _, err := c.gh.PullRequests.GetRaw(ctx, owner, name, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", classify("get pull request diff", err)
	}
	return diff, nil
}

// CreateWebhook registers a push/PR/issues hook on the repository and
// returns its provider-issued id.
func (c *Client) CreateWebhook(ctx context.Context, fullName, url, secret string, events []string) (int64, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return 0, err
	}

	hook := &github.Hook{
		Active: github.Bool(true),
		Events: events,
		Config: map[string]interface{}{
			"url":          url,
			"content_type": "json",
			"secret":       secret,
			"insecure_ssl": "0",
		},
	}

	created, _, err := c.gh.Repositories.CreateHook(ctx, owner, name, hook)
	if err != nil {
		return 0, classify("create webhook", err)
	}
	return created.GetID(), nil
}

// DeleteWebhook removes a hook from the repository.
func (c *Client) DeleteWebhook(ctx context.Context, fullName string, hookID int64) error {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return err
	}

	if _, err := c.gh.Repositories.DeleteHook(ctx, owner, name, hookID); err != nil {
		return classify("delete webhook", err)
	}
	return nil
}

// GetRateLimit returns the current core rate limit status.
func (c *Client) GetRateLimit(ctx context.Context) (*RateInfo, error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return nil, classify("get rate limit", err)
	}

	core := limits.GetCore()
	return &RateInfo{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Reset:     core.Reset.Time,
	}, nil
}

// splitFullName splits "owner/name" into its parts. A malformed name
// is a terminal error: no retry will fix it.
func splitFullName(fullName string) (string, string, error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &ProviderError{
			Kind: KindTerminal,
			Op:   "split full name",
			Err:  fmt.Errorf("invalid repository name %q, expected owner/name", fullName),
		}
	}
	return parts[0], parts[1], nil
}
