package api

import "time"

// Repository is the subset of GitHub's repository object the client exposes.
type Repository struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	FullName      string          `json:"full_name"`
	Private       bool            `json:"private"`
	Description   string          `json:"description"`
	HTMLURL       string          `json:"html_url"`
	DefaultBranch string          `json:"default_branch"`
	Permissions   RepoPermissions `json:"permissions"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RepoPermissions mirrors the permissions block GitHub attaches to
// repositories visible to the token.
type RepoPermissions struct {
	Admin    bool `json:"admin"`
	Maintain bool `json:"maintain"`
	Push     bool `json:"push"`
	Triage   bool `json:"triage"`
	Pull     bool `json:"pull"`
}

// CanWrite reports whether the token may push to the repository.
func (p RepoPermissions) CanWrite() bool {
	return p.Push || p.Maintain || p.Admin
}

// CanRead reports whether the token may read the repository.
func (p RepoPermissions) CanRead() bool {
	return p.Pull || p.CanWrite()
}

// IssueUser identifies the author of an issue or comment.
type IssueUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// IssueLabel is a label attached to an issue.
type IssueLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Issue is the subset of GitHub's issue object the client exposes.
type Issue struct {
	ID      int64        `json:"id"`
	Number  int          `json:"number"`
	Title   string       `json:"title"`
	Body    string       `json:"body"`
	State   string       `json:"state"`
	HTMLURL string       `json:"html_url"`
	User    IssueUser    `json:"user"`
	Labels  []IssueLabel `json:"labels"`
}

// IssueComment is a comment on an issue.
type IssueComment struct {
	ID      int64     `json:"id"`
	Body    string    `json:"body"`
	HTMLURL string    `json:"html_url"`
	User    IssueUser `json:"user"`
}

// ListReposQuery narrows the repositories returned by ListRepos.
type ListReposQuery struct {
	Visibility  string
	Affiliation string
	Sort        string
	Direction   string
	PerPage     int
	Page        int
}

// ListIssuesQuery narrows the issues returned by ListIssues.
type ListIssuesQuery struct {
	State     string
	Labels    []string
	Sort      string
	Direction string
	Since     time.Time
	PerPage   int
	Page      int
}

// TokenInfo describes the authenticated user and the scopes GitHub reports
// for the current token.
type TokenInfo struct {
	UserID int64
	Login  string
	Scopes []string
}

// RateQuota is one resource bucket of the rate limit response.
type RateQuota struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// ResetTime returns the quota reset moment.
func (q RateQuota) ResetTime() time.Time {
	return time.Unix(q.Reset, 0)
}

// RateLimits groups the quotas the health check reports.
type RateLimits struct {
	Core    RateQuota `json:"core"`
	Search  RateQuota `json:"search"`
	GraphQL RateQuota `json:"graphql"`
}

// RepoAccess is the result of a repository access probe.
type RepoAccess struct {
	FullName    string
	Private     bool
	Permissions RepoPermissions
}
