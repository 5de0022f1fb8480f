package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/models"
)

const searchPageSize = 100

type searchItem struct {
	ID            int64     `json:"id"`
	Number        int       `json:"number"`
	Title         string    `json:"title"`
	HTMLURL       string    `json:"html_url"`
	State         string    `json:"state"`
	Draft         bool      `json:"draft"`
	CreatedAt     time.Time `json:"created_at"`
	RepositoryURL string    `json:"repository_url"`
	User          User      `json:"user"`
	PullRequest   *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

// SearchPullRequests runs an issue search and keeps only pull requests.
// Only the first page of results is read.
func (c *Client) SearchPullRequests(ctx context.Context, query string) ([]models.PullRequest, error) {
	var resp struct {
		TotalCount int          `json:"total_count"`
		Items      []searchItem `json:"items"`
	}
	q := url.Values{"q": {query}, "per_page": {strconv.Itoa(searchPageSize)}}
	if _, err := c.get(ctx, "/search/issues", q, &resp); err != nil {
		return nil, err
	}

	prs := make([]models.PullRequest, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.PullRequest == nil {
			continue
		}
		prs = append(prs, models.PullRequest{
			ID:         it.ID,
			Number:     it.Number,
			Title:      it.Title,
			URL:        it.HTMLURL,
			Repository: repoFromURL(it.RepositoryURL),
			State:      it.State,
			Draft:      it.Draft,
			CreatedAt:  it.CreatedAt,
			Author:     it.User.Login,
		})
	}
	return prs, nil
}

// PullRequestDetail is the subset of GET /repos/{repo}/pulls/{n} used for
// enrichment.
type PullRequestDetail struct {
	Draft              bool   `json:"draft"`
	RequestedReviewers []User `json:"requested_reviewers"`
	Head               struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

func (c *Client) PullRequestDetail(ctx context.Context, repo string, number int) (PullRequestDetail, error) {
	var d PullRequestDetail
	if _, err := c.get(ctx, fmt.Sprintf("/repos/%s/pulls/%d", repo, number), nil, &d); err != nil {
		return PullRequestDetail{}, err
	}
	return d, nil
}

type Review struct {
	User        User      `json:"user"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (c *Client) Reviews(ctx context.Context, repo string, number int) ([]Review, error) {
	var rs []Review
	if _, err := c.get(ctx, fmt.Sprintf("/repos/%s/pulls/%d/reviews", repo, number), nil, &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

type CheckRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

func (c *Client) CheckRuns(ctx context.Context, repo, ref string) ([]CheckRun, error) {
	var resp struct {
		CheckRuns []CheckRun `json:"check_runs"`
	}
	if _, err := c.get(ctx, fmt.Sprintf("/repos/%s/commits/%s/check-runs", repo, ref), nil, &resp); err != nil {
		return nil, err
	}
	return resp.CheckRuns, nil
}

// ReviewStatusOf reduces reviews to one status using each reviewer's latest
// decisive review. Comments alone do not change a reviewer's verdict.
func ReviewStatusOf(reviews []Review) models.ReviewStatus {
	latest := make(map[string]Review)
	for _, r := range reviews {
		switch r.State {
		case "APPROVED", "CHANGES_REQUESTED", "DISMISSED":
		default:
			continue
		}
		if prev, ok := latest[r.User.Login]; ok && prev.SubmittedAt.After(r.SubmittedAt) {
			continue
		}
		latest[r.User.Login] = r
	}

	approved := false
	for _, r := range latest {
		switch r.State {
		case "CHANGES_REQUESTED":
			return models.ReviewChangesRequested
		case "APPROVED":
			approved = true
		}
	}
	if approved {
		return models.ReviewApproved
	}
	return models.ReviewPending
}

// CIStatusOf reduces check runs to one status. It returns "" when there are
// no runs.
func CIStatusOf(runs []CheckRun) models.CIStatus {
	if len(runs) == 0 {
		return ""
	}
	pending := false
	for _, r := range runs {
		if r.Status != "completed" {
			pending = true
			continue
		}
		switch r.Conclusion {
		case "failure", "timed_out", "cancelled", "action_required", "startup_failure":
			return models.CIFailing
		}
	}
	if pending {
		return models.CIPending
	}
	return models.CIPassing
}

func repoFromURL(u string) string {
	const marker = "/repos/"
	if i := strings.Index(u, marker); i >= 0 {
		return u[i+len(marker):]
	}
	return u
}
