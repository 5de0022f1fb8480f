package models

import (
	"sort"
	"strings"
)

// View filters and orders prs for display. Hidden pull requests are dropped
// unless showHidden is set.
func View(prs []PullRequest, login, filter, order string, showHidden bool) []PullRequest {
	out := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		if pr.Hidden && !showHidden {
			continue
		}
		switch filter {
		case FilterAuthored:
			if !strings.EqualFold(pr.Author, login) {
				continue
			}
		case FilterReviewRequested:
			if !containsFold(pr.RequestedReviewers, login) {
				continue
			}
		}
		out = append(out, pr)
	}

	switch order {
	case SortOldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	case SortRepository:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Repository != out[j].Repository {
				return out[i].Repository < out[j].Repository
			}
			return out[i].Number < out[j].Number
		})
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
