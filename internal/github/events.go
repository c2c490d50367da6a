package github

// EventKind is the closed set of webhook event types the router
// understands, plus an explicit unknown variant. Unknown events are
// acknowledged and logged, never rejected.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPush
	EventPullRequest
	EventIssues
	EventPing
)

// ParseEventKind maps an X-GitHub-Event header value onto the taxonomy.
func ParseEventKind(s string) EventKind {
	switch s {
	case "push":
		return EventPush
	case "pull_request":
		return EventPullRequest
	case "issues":
		return EventIssues
	case "ping":
		return EventPing
	default:
		return EventUnknown
	}
}

func (k EventKind) String() string {
	switch k {
	case EventPush:
		return "push"
	case EventPullRequest:
		return "pull_request"
	case EventIssues:
		return "issues"
	case EventPing:
		return "ping"
	default:
		return "unknown"
	}
}

// SubscribedEvents is the default event set requested when a hook is
// provisioned.
func SubscribedEvents() []string {
	return []string{"push", "pull_request", "issues"}
}
