// Package storage provides database operations and data models.
package storage

import (
	"database/sql"
	"time"
)

// Repository is the local replica of a GitHub repository.
type Repository struct {
	ID              int64        `db:"id"`
	GithubID        int64        `db:"github_id"`
	FullName        string       `db:"full_name"`
	Description     string       `db:"description"`
	HTMLURL         string       `db:"html_url"`
	Language        string       `db:"language"`
	DefaultBranch   string       `db:"default_branch"`
	StarsCount      int          `db:"stars_count"`
	ForksCount      int          `db:"forks_count"`
	OpenIssuesCount int          `db:"open_issues_count"`
	WatchersCount   int          `db:"watchers_count"`
	SizeKB          int          `db:"size_kb"`
	IsActive        bool         `db:"is_active"`
	LastSyncedAt    sql.NullTime `db:"last_synced_at"`
	CreatedAt       time.Time    `db:"created_at"`
}

// PullRequest is keyed by (repository_id, number).
type PullRequest struct {
	ID            int64        `db:"id"`
	RepositoryID  int64        `db:"repository_id"`
	GithubID      int64        `db:"github_id"`
	Number        int          `db:"number"`
	Title         string       `db:"title"`
	Body          string       `db:"body"`
	State         string       `db:"state"`
	HTMLURL       string       `db:"html_url"`
	AuthorLogin   string       `db:"author_login"`
	HeadBranch    string       `db:"head_branch"`
	BaseBranch    string       `db:"base_branch"`
	Additions     int          `db:"additions"`
	Deletions     int          `db:"deletions"`
	ChangedFiles  int          `db:"changed_files"`
	CommitsCount  int          `db:"commits_count"`
	CommentsCount int          `db:"comments_count"`
	Merged        bool         `db:"merged"`
	MergedAt      sql.NullTime `db:"merged_at"`
	ClosedAt      sql.NullTime `db:"closed_at"`
	GHCreatedAt   sql.NullTime `db:"gh_created_at"`
	GHUpdatedAt   sql.NullTime `db:"gh_updated_at"`
	SyncedAt      time.Time    `db:"synced_at"`
}

// Issue is keyed by (repository_id, number). Pull requests never appear
// here even though the upstream issues API conflates them.
type Issue struct {
	ID            int64        `db:"id"`
	RepositoryID  int64        `db:"repository_id"`
	GithubID      int64        `db:"github_id"`
	Number        int          `db:"number"`
	Title         string       `db:"title"`
	Body          string       `db:"body"`
	State         string       `db:"state"`
	HTMLURL       string       `db:"html_url"`
	AuthorLogin   string       `db:"author_login"`
	Labels        string       `db:"labels"`    // JSON array of label names
	Assignees     string       `db:"assignees"` // JSON array of logins
	CommentsCount int          `db:"comments_count"`
	ClosedAt      sql.NullTime `db:"closed_at"`
	GHCreatedAt   sql.NullTime `db:"gh_created_at"`
	GHUpdatedAt   sql.NullTime `db:"gh_updated_at"`
	SyncedAt      time.Time    `db:"synced_at"`
}

// Commit is keyed globally by SHA. A commit re-observed from another
// repository updates the existing row.
type Commit struct {
	ID           int64        `db:"id"`
	RepositoryID int64        `db:"repository_id"`
	SHA          string       `db:"sha"`
	Message      string       `db:"message"`
	HTMLURL      string       `db:"html_url"`
	AuthorName   string       `db:"author_name"`
	AuthorEmail  string       `db:"author_email"`
	AuthorLogin  string       `db:"author_login"`
	Additions    int          `db:"additions"`
	Deletions    int          `db:"deletions"`
	TotalChanges int          `db:"total_changes"`
	CommittedAt  sql.NullTime `db:"committed_at"`
	SyncedAt     time.Time    `db:"synced_at"`
}

// Contributor rows are a full-replace snapshot per repository.
type Contributor struct {
	ID            int64     `db:"id"`
	RepositoryID  int64     `db:"repository_id"`
	Login         string    `db:"login"`
	AvatarURL     string    `db:"avatar_url"`
	HTMLURL       string    `db:"html_url"`
	Contributions int       `db:"contributions"`
	SyncedAt      time.Time `db:"synced_at"`
}

// WebhookSubscription holds the shared secret and delivery counters for
// a repository's hook. One per repository.
type WebhookSubscription struct {
	ID                int64        `db:"id"`
	RepositoryID      int64        `db:"repository_id"`
	HookID            int64        `db:"hook_id"`
	Secret            string       `db:"secret"`
	Events            string       `db:"events"` // JSON array of event names
	IsActive          bool         `db:"is_active"`
	TotalDeliveries   int          `db:"total_deliveries"`
	FailedDeliveries  int          `db:"failed_deliveries"`
	LastDeliveryAt    sql.NullTime `db:"last_delivery_at"`
	CreatedAt         time.Time    `db:"created_at"`
}

// WebhookDelivery is the dedup log of inbound deliveries.
type WebhookDelivery struct {
	ID           int64        `db:"id"`
	DeliveryID   string       `db:"delivery_id"`
	RepositoryID int64        `db:"repository_id"`
	EventType    string       `db:"event_type"`
	Payload      []byte       `db:"payload"`
	Processed    bool         `db:"processed"`
	ProcessedAt  sql.NullTime `db:"processed_at"`
	ErrorMessage string       `db:"error_message"`
	ReceivedAt   time.Time    `db:"received_at"`
}

// PullRequestAnalysis stores the text-generation collaborator's review
// output for a pull request.
type PullRequestAnalysis struct {
	ID            int64     `db:"id"`
	PullRequestID int64     `db:"pull_request_id"`
	Summary       string    `db:"summary"`
	TokensUsed    int       `db:"tokens_used"`
	GeneratedAt   time.Time `db:"generated_at"`
}
