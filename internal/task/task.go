// Package task provides the job queue, the worker dispatcher with its
// retry policy, and the periodic sweep scheduler.
package task

import "fmt"

// Kind identifies what a job does.
type Kind int

const (
	// KindFullRefresh syncs every resource kind for one repository.
	KindFullRefresh Kind = iota
	// KindSyncPulls re-syncs pull requests for one repository.
	KindSyncPulls
	// KindSyncIssues re-syncs issues for one repository.
	KindSyncIssues
	// KindSyncCommits re-syncs commits for one repository.
	KindSyncCommits
	// KindSyncContributors replaces the contributor snapshot.
	KindSyncContributors
	// KindAnalyzePull runs the text-generation review of one PR.
	KindAnalyzePull
)

func (k Kind) String() string {
	switch k {
	case KindFullRefresh:
		return "full_refresh"
	case KindSyncPulls:
		return "sync_pulls"
	case KindSyncIssues:
		return "sync_issues"
	case KindSyncCommits:
		return "sync_commits"
	case KindSyncContributors:
		return "sync_contributors"
	case KindAnalyzePull:
		return "analyze_pull"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Job is one unit of work scoped to a repository. Number is only set
// for pull-request analysis. Attempt starts at 0 and is bumped by the
// dispatcher on each retry.
type Job struct {
	Kind    Kind
	RepoID  int64
	Number  int
	Attempt int
}

func (j Job) String() string {
	return fmt.Sprintf("%s repo=%d number=%d attempt=%d", j.Kind, j.RepoID, j.Number, j.Attempt)
}
