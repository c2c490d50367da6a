package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("")
	require.NoError(t, c.WithBaseURL(srv.URL))
	return c, srv
}

func TestGetRepository(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": 42,
			"full_name": "acme/widgets",
			"description": "Widget factory",
			"html_url": "https://github.com/acme/widgets",
			"language": "Go",
			"default_branch": "main",
			"stargazers_count": 7,
			"forks_count": 2,
			"open_issues_count": 3,
			"watchers_count": 7,
			"size": 128
		}`)
	})

	c, _ := newTestClient(t, mux)

	info, err := c.GetRepository(context.Background(), "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, int64(42), info.ID)
	assert.Equal(t, "acme/widgets", info.FullName)
	assert.Equal(t, "Go", info.Language)
	assert.Equal(t, "main", info.DefaultBranch)
	assert.Equal(t, 7, info.Stars)
	assert.Equal(t, 128, info.SizeKB)
}

func TestGetRepositoryInvalidName(t *testing.T) {
	c := NewClient("")

	for _, name := range []string{"", "acme", "acme/widgets/extra", "/widgets", "acme/"} {
		_, err := c.GetRepository(context.Background(), name)
		require.Error(t, err, "name %q", name)
		assert.False(t, IsTransient(err), "name %q", name)
	}
}

func TestListPullRequestsPaginates(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id": 3, "number": 3, "title": "third", "state": "open"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/widgets/pulls?page=2>; rel="next"`, srvURL))
		fmt.Fprint(w, `[
			{"id": 1, "number": 1, "title": "first", "state": "open", "user": {"login": "alice"}},
			{"id": 2, "number": 2, "title": "second", "state": "open"}
		]`)
	})

	c, srv := newTestClient(t, mux)
	srvURL = srv.URL

	prs, err := c.ListPullRequests(context.Background(), "acme/widgets", "open", 10)
	require.NoError(t, err)
	require.Len(t, prs, 3)
	assert.Equal(t, 1, prs[0].Number)
	assert.Equal(t, "alice", prs[0].AuthorLogin)
	assert.Equal(t, 3, prs[2].Number)
}

func TestListPullRequestsHonorsLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id": 1, "number": 1, "state": "open"},
			{"id": 2, "number": 2, "state": "open"},
			{"id": 3, "number": 3, "state": "open"}
		]`)
	})

	c, _ := newTestClient(t, mux)

	prs, err := c.ListPullRequests(context.Background(), "acme/widgets", "open", 2)
	require.NoError(t, err)
	assert.Len(t, prs, 2)
}

func TestListIssuesFiltersPullRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id": 1, "number": 10, "title": "real issue", "state": "open",
			 "labels": [{"name": "bug"}], "assignees": [{"login": "bob"}]},
			{"id": 2, "number": 11, "title": "actually a PR", "state": "open",
			 "pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/11"}},
			{"id": 3, "title": "no number", "state": "open"}
		]`)
	})

	c, _ := newTestClient(t, mux)

	issues, err := c.ListIssues(context.Background(), "acme/widgets", "open", 10)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, 10, issues[0].Number)
	assert.Equal(t, []string{"bug"}, issues[0].Labels)
	assert.Equal(t, []string{"bob"}, issues[0].Assignees)
}

func TestListCommitsSkipsMissingSHA(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/commits", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"sha": "abc123", "commit": {"message": "fix build",
			 "author": {"name": "Alice", "email": "alice@example.com", "date": "2024-03-01T10:00:00Z"}},
			 "author": {"login": "alice"}},
			{"commit": {"message": "orphan record"}}
		]`)
	})

	c, _ := newTestClient(t, mux)

	commits, err := c.ListCommits(context.Background(), "acme/widgets", 10)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "abc123", commits[0].SHA)
	assert.Equal(t, "fix build", commits[0].Message)
	assert.Equal(t, "alice", commits[0].AuthorLogin)
}

func TestListContributors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/contributors", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"login": "alice", "contributions": 12},
			{"login": "bob", "contributions": 5},
			{"contributions": 1}
		]`)
	})

	c, _ := newTestClient(t, mux)

	contributors, err := c.ListContributors(context.Background(), "acme/widgets")
	require.NoError(t, err)
	require.Len(t, contributors, 2)
	assert.Equal(t, "alice", contributors[0].Login)
	assert.Equal(t, 12, contributors[0].Contributions)
}

func TestGetPullRequestDiff(t *testing.T) {
	const diff = "diff --git a/main.go b/main.go\n"
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, diff)
	})

	c, _ := newTestClient(t, mux)

	got, err := c.GetPullRequestDiff(context.Background(), "acme/widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, diff, got)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"not found", http.StatusNotFound, IsNotFound},
		{"unauthorized", http.StatusUnauthorized, IsAuth},
		{"forbidden", http.StatusForbidden, IsAuth},
		{"server error", http.StatusInternalServerError, IsTransient},
		{"bad gateway", http.StatusBadGateway, IsTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"message": "nope"}`)
			})

			c, _ := newTestClient(t, mux)

			_, err := c.GetRepository(context.Background(), "acme/widgets")
			require.Error(t, err)
			assert.True(t, tc.check(err))

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, pe.Kind == KindTransient, pe.Transient())
		})
	}
}

func TestUnprocessableIsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/hooks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Hook already exists"}`)
	})

	c, _ := newTestClient(t, mux)

	_, err := c.CreateWebhook(context.Background(), "acme/widgets", "https://example.com/hook", "s", SubscribedEvents())
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsAuth(err))
}
