package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is one inbound webhook delivery, exactly as received. The body
// is kept raw so signature verification operates on the original bytes.
type Envelope struct {
	Body       []byte
	Signature  string // X-Hub-Signature-256
	Event      string // X-GitHub-Event
	DeliveryID string // X-GitHub-Delivery
}

// Payload mirrors the subset of the GitHub pull_request webhook schema
// this service reads.
type Payload struct {
	Action      string       `json:"action"`
	PullRequest *pullRequest `json:"pull_request"`
	Repository  *repository  `json:"repository"`
}

type pullRequest struct {
	Number       int     `json:"number"`
	Title        string  `json:"title"`
	HTMLURL      string  `json:"html_url"`
	Body         string  `json:"body"`
	Merged       bool    `json:"merged"`
	CreatedAt    string  `json:"created_at"`
	MergedAt     string  `json:"merged_at"`
	ChangedFiles int     `json:"changed_files"`
	Additions    int     `json:"additions"`
	Deletions    int     `json:"deletions"`
	User         *user   `json:"user"`
	MergedBy     *user   `json:"merged_by"`
	Base         *ref    `json:"base"`
	Head         *ref    `json:"head"`
	Labels       []label `json:"labels"`
}

type user struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

type ref struct {
	Ref string `json:"ref"`
}

type label struct {
	Name string `json:"name"`
}

// Identity is an actor on a pull request.
type Identity struct {
	Login      string `json:"login"`
	AvatarURL  string `json:"avatarUrl"`
	ProfileURL string `json:"profileUrl"`
}

// PullRequestEvent is the structured business event derived from an
// accepted webhook. Created once per accepted delivery, never mutated.
// The field names match what the template API expects.
type PullRequestEvent struct {
	PRNumber      int      `json:"prNumber"`
	PRTitle       string   `json:"prTitle"`
	PRURL         string   `json:"prUrl"`
	PRDescription string   `json:"prDescription"`
	Author        Identity `json:"author"`
	MergedBy      Identity `json:"mergedBy"`
	CreatedAt     string   `json:"createdAt"`
	MergedAt      string   `json:"mergedAt"`
	BaseBranch    string   `json:"baseBranch"`
	HeadBranch    string   `json:"headBranch"`
	FilesChanged  int      `json:"filesChanged"`
	Additions     int      `json:"additions"`
	Deletions     int      `json:"deletions"`
	Labels        []string `json:"labels"`
	RepoName      string   `json:"repoName"`
	RepoURL       string   `json:"repoUrl"`
}

type repository struct {
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

// ErrNotPullRequestPayload indicates the payload lacked the required
// pull_request or repository objects.
var ErrNotPullRequestPayload = errors.New("payload missing pull_request or repository")

// ParsePayload decodes a pull_request webhook body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}
	return &p, nil
}

// Filter decides which pull_request deliveries trigger a notification.
// Each guard short-circuits with a human-readable reason; a reason is an
// "ignored" outcome for the gateway, never an error.
type Filter struct {
	// AllowedBranches lists base branches that trigger notifications.
	AllowedBranches []string
}

// Ignore returns a non-empty reason when the payload should not produce a
// notification. Order matters: action, merged flag, then base branch.
func (f *Filter) Ignore(p *Payload) string {
	if p.Action != "closed" {
		return fmt.Sprintf("action %q ignored; only closed PRs are processed", p.Action)
	}
	if p.PullRequest == nil || !p.PullRequest.Merged {
		return "PR not merged; only merged PRs trigger notifications"
	}

	baseBranch := ""
	if p.PullRequest.Base != nil {
		baseBranch = p.PullRequest.Base.Ref
	}
	for _, allowed := range f.AllowedBranches {
		if baseBranch == allowed {
			return ""
		}
	}
	return fmt.Sprintf("PR merged to %q; only merges to %v trigger notifications", baseBranch, f.AllowedBranches)
}

// ExtractPullRequest builds the business event from an accepted payload.
// Missing required nested objects yield ErrNotPullRequestPayload; missing
// optional fields fall back to the defaults the templates expect.
func ExtractPullRequest(p *Payload) (*PullRequestEvent, error) {
	pr := p.PullRequest
	repo := p.Repository
	if pr == nil || repo == nil {
		return nil, ErrNotPullRequestPayload
	}

	author := identityFrom(pr.User)
	mergedBy := identityFrom(pr.MergedBy)
	if mergedBy.Login == "unknown" {
		mergedBy = author
	}

	description := pr.Body
	if description == "" {
		description = "No description provided."
	}

	baseBranch := "main"
	if pr.Base != nil && pr.Base.Ref != "" {
		baseBranch = pr.Base.Ref
	}
	headBranch := "unknown"
	if pr.Head != nil && pr.Head.Ref != "" {
		headBranch = pr.Head.Ref
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.Name)
	}

	return &PullRequestEvent{
		PRNumber:      pr.Number,
		PRTitle:       pr.Title,
		PRURL:         pr.HTMLURL,
		PRDescription: description,
		Author:        author,
		MergedBy:      mergedBy,
		CreatedAt:     formatIST(pr.CreatedAt),
		MergedAt:      formatIST(pr.MergedAt),
		BaseBranch:    baseBranch,
		HeadBranch:    headBranch,
		FilesChanged:  pr.ChangedFiles,
		Additions:     pr.Additions,
		Deletions:     pr.Deletions,
		Labels:        labels,
		RepoName:      repo.FullName,
		RepoURL:       repo.HTMLURL,
	}, nil
}

func identityFrom(u *user) Identity {
	if u == nil {
		return Identity{Login: "unknown"}
	}
	return Identity{
		Login:      u.Login,
		AvatarURL:  u.AvatarURL,
		ProfileURL: u.HTMLURL,
	}
}

// istZone avoids a tzdata dependency; IST has no DST.
var istZone = time.FixedZone("IST", 5*3600+30*60)

// formatIST renders an RFC 3339 timestamp in Indian Standard Time for the
// notification templates. Unparseable input is passed through unchanged.
func formatIST(isoTimestamp string) string {
	ts, err := time.Parse(time.RFC3339, isoTimestamp)
	if err != nil {
		return isoTimestamp
	}
	return ts.In(istZone).Format("Monday, 2 January 2006 at 3:04:05 PM MST")
}
