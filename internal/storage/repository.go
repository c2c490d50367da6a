package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RepositoryStore handles repository-related database operations.
type RepositoryStore struct {
	db *Database
}

// NewRepositoryStore creates a new repository store.
func NewRepositoryStore(db *Database) *RepositoryStore {
	return &RepositoryStore{db: db}
}

// Upsert inserts or updates a repository keyed by its GitHub id. The
// full name is overwritten on conflict so upstream renames converge.
func (s *RepositoryStore) Upsert(ctx context.Context, repo *Repository) (int64, error) {
	query := `
		INSERT INTO repositories (
			github_id, full_name, description, html_url, language, default_branch,
			stars_count, forks_count, open_issues_count, watchers_count, size_kb
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_id) DO UPDATE SET
			full_name = excluded.full_name,
			description = excluded.description,
			html_url = excluded.html_url,
			language = excluded.language,
			default_branch = excluded.default_branch,
			stars_count = excluded.stars_count,
			forks_count = excluded.forks_count,
			open_issues_count = excluded.open_issues_count,
			watchers_count = excluded.watchers_count,
			size_kb = excluded.size_kb
	`
	_, err := s.db.ExecContext(ctx, query,
		repo.GithubID, repo.FullName, repo.Description, repo.HTMLURL,
		repo.Language, repo.DefaultBranch, repo.StarsCount, repo.ForksCount,
		repo.OpenIssuesCount, repo.WatchersCount, repo.SizeKB)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.GetContext(ctx, &id, `SELECT id FROM repositories WHERE github_id = ?`, repo.GithubID)
	return id, err
}

// GetByID returns a repository by its local id, or nil if absent.
func (s *RepositoryStore) GetByID(ctx context.Context, id int64) (*Repository, error) {
	var repo Repository
	err := s.db.GetContext(ctx, &repo, `SELECT * FROM repositories WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// GetByFullName returns a repository by its canonical full name, or nil
// if absent.
func (s *RepositoryStore) GetByFullName(ctx context.Context, fullName string) (*Repository, error) {
	var repo Repository
	err := s.db.GetContext(ctx, &repo, `SELECT * FROM repositories WHERE full_name = ?`, fullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// ListActive returns every repository included in the periodic sweep.
func (s *RepositoryStore) ListActive(ctx context.Context) ([]Repository, error) {
	var repos []Repository
	err := s.db.SelectContext(ctx, &repos, `SELECT * FROM repositories WHERE is_active = 1 ORDER BY id`)
	return repos, err
}

// MarkSynced refreshes the repository's last_synced_at watermark.
func (s *RepositoryStore) MarkSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET last_synced_at = ? WHERE id = ?`, at.UTC(), id)
	return err
}

// SetActive flips the is_active flag gating the sweep.
func (s *RepositoryStore) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET is_active = ? WHERE id = ?`, active, id)
	return err
}
