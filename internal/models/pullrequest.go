// Package models defines the pull request and app-data types shared by the
// daemon and the terminal client.
package models

import "time"

type ReviewStatus string

const (
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes-requested"
	ReviewPending          ReviewStatus = "pending"
)

type CIStatus string

const (
	CIPassing CIStatus = "passing"
	CIFailing CIStatus = "failing"
	CIPending CIStatus = "pending"
)

// PullRequest is a value object; it is owned by the AppData document it
// appears in.
type PullRequest struct {
	ID                 int64        `json:"id"`
	Number             int          `json:"number"`
	Title              string       `json:"title"`
	URL                string       `json:"html_url"`
	Repository         string       `json:"repository"`
	State              string       `json:"state"`
	Draft              bool         `json:"draft"`
	CreatedAt          time.Time    `json:"created_at"`
	RequestedReviewers []string     `json:"requested_reviewers,omitempty"`
	ReviewStatus       ReviewStatus `json:"review_status,omitempty"`
	CIStatus           CIStatus     `json:"ci_status,omitempty"`
	Author             string       `json:"author,omitempty"`
	Hidden             bool         `json:"hidden,omitempty"`
}

// Richness scores how much detail a record carries. When the same pull
// request arrives twice, the richer record wins.
func (p PullRequest) Richness() int {
	score := 0
	if p.ReviewStatus != "" {
		score++
	}
	if p.CIStatus != "" {
		score++
	}
	if p.Author != "" {
		score++
	}
	if len(p.RequestedReviewers) > 0 {
		score++
	}
	if p.Number != 0 {
		score++
	}
	return score
}

// IDSet returns the ids of prs as a set.
func IDSet(prs []PullRequest) map[int64]struct{} {
	set := make(map[int64]struct{}, len(prs))
	for _, pr := range prs {
		set[pr.ID] = struct{}{}
	}
	return set
}

// Dedupe keeps one record per id, preferring the richer one, and preserves
// first-seen order.
func Dedupe(prs []PullRequest) []PullRequest {
	index := make(map[int64]int, len(prs))
	out := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		if i, ok := index[pr.ID]; ok {
			if pr.Richness() > out[i].Richness() {
				out[i] = pr
			}
			continue
		}
		index[pr.ID] = len(out)
		out = append(out, pr)
	}
	return out
}
