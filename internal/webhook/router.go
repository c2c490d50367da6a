// Package webhook receives, verifies, deduplicates and routes inbound
// GitHub deliveries, and manages per-repository hook subscriptions.
package webhook

import (
	"github.com/user/reposync/internal/github"
	"github.com/user/reposync/internal/task"
)

// Route maps a verified delivery onto the sync jobs it should trigger.
// The mapping is exhaustive over the event taxonomy; ping and unknown
// events produce no work and are acknowledged by the handler.
func Route(kind github.EventKind, action string, repoID int64, prNumber int) []task.Job {
	switch kind {
	case github.EventPush:
		return []task.Job{{Kind: task.KindSyncCommits, RepoID: repoID}}

	case github.EventPullRequest:
		jobs := []task.Job{{Kind: task.KindSyncPulls, RepoID: repoID}}
		// Opened and synchronize deliveries also trigger downstream
		// analysis; the analysis job re-syncs first when the PR is not
		// yet stored.
		if (action == "opened" || action == "synchronize") && prNumber > 0 {
			jobs = append(jobs, task.Job{Kind: task.KindAnalyzePull, RepoID: repoID, Number: prNumber})
		}
		return jobs

	case github.EventIssues:
		return []task.Job{{Kind: task.KindSyncIssues, RepoID: repoID}}

	case github.EventPing, github.EventUnknown:
		return nil

	default:
		return nil
	}
}
