package github

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/models"
)

const defaultEnrichLimit = 4

// DefaultQueries are the searches run when the user has not set a custom
// query: pull requests they opened and pull requests awaiting their review.
func DefaultQueries(login string) []string {
	return []string{
		"is:open is:pr author:" + login,
		"is:open is:pr review-requested:" + login,
	}
}

// Fetcher runs searches and enriches each hit with reviewers, review status
// and CI status.
type Fetcher struct {
	client *Client
	logger logging.Logger
	limit  int
}

func NewFetcher(client *Client, logger logging.Logger) *Fetcher {
	return &Fetcher{client: client, logger: logger.With("module", "github"), limit: defaultEnrichLimit}
}

// Login returns the authenticated user's login.
func (f *Fetcher) Login(ctx context.Context) (string, error) {
	u, err := f.client.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	return u.Login, nil
}

// Fetch runs every query and returns the enriched hits, deduplicated by id.
// Enrichment failures other than auth, permission and rate-limit errors are
// logged and leave that pull request as the search returned it.
func (f *Fetcher) Fetch(ctx context.Context, queries []string) ([]models.PullRequest, error) {
	var all []models.PullRequest
	for _, q := range queries {
		prs, err := f.client.SearchPullRequests(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", q, err)
		}
		all = append(all, prs...)
	}
	all = models.Dedupe(all)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.limit)
	for i := range all {
		g.Go(func() error {
			if err := f.enrich(gctx, &all[i]); err != nil {
				if fatal(err) {
					return err
				}
				f.logger.Warn(gctx, "enrich pull request", "repository", all[i].Repository, "number", all[i].Number, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func (f *Fetcher) enrich(ctx context.Context, pr *models.PullRequest) error {
	if pr.Repository == "" || pr.Number == 0 {
		return nil
	}

	d, err := f.client.PullRequestDetail(ctx, pr.Repository, pr.Number)
	if err != nil {
		return fmt.Errorf("detail: %w", err)
	}
	pr.Draft = d.Draft
	pr.RequestedReviewers = pr.RequestedReviewers[:0]
	for _, u := range d.RequestedReviewers {
		pr.RequestedReviewers = append(pr.RequestedReviewers, u.Login)
	}

	reviews, err := f.client.Reviews(ctx, pr.Repository, pr.Number)
	if err != nil {
		return fmt.Errorf("reviews: %w", err)
	}
	pr.ReviewStatus = ReviewStatusOf(reviews)

	if d.Head.SHA == "" {
		return nil
	}
	runs, err := f.client.CheckRuns(ctx, pr.Repository, d.Head.SHA)
	if err != nil {
		return fmt.Errorf("check runs: %w", err)
	}
	pr.CIStatus = CIStatusOf(runs)
	return nil
}
