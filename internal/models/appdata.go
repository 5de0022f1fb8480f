package models

import "time"

// Filter values understood by View.
const (
	FilterAll             = "all"
	FilterAuthored        = "authored"
	FilterReviewRequested = "review-requested"
)

// Sort values understood by View.
const (
	SortNewest     = "newest"
	SortOldest     = "oldest"
	SortRepository = "repository"
)

// Preferences live inside the encrypted document.
type Preferences struct {
	// NotificationsEnabled is nil until the user decides; nil means enabled.
	NotificationsEnabled *bool  `json:"notificationsEnabled,omitempty"`
	CustomQuery          string `json:"customQuery,omitempty"`
	Filter               string `json:"filter,omitempty"`
	SortOrder            string `json:"sortOrder,omitempty"`
}

func (p Preferences) NotificationsOn() bool {
	return p.NotificationsEnabled == nil || *p.NotificationsEnabled
}

// AppData is the single encrypted document holding all cross-session state.
// It is always rewritten as a whole.
type AppData struct {
	PullRequests    []PullRequest `json:"pullRequests,omitempty"`
	LastUpdated     time.Time     `json:"lastUpdated,omitzero"`
	Preferences     Preferences   `json:"preferences"`
	OldPullRequests []PullRequest `json:"oldPullRequests,omitempty"`
	// Login is the GitHub user the list was fetched for.
	Login string `json:"login,omitempty"`
}

// PreferencesPatch carries optional preference updates; nil fields are left
// unchanged.
type PreferencesPatch struct {
	NotificationsEnabled *bool   `json:"notificationsEnabled,omitempty"`
	CustomQuery          *string `json:"customQuery,omitempty"`
	Filter               *string `json:"filter,omitempty"`
	SortOrder            *string `json:"sortOrder,omitempty"`
}

func (p *Preferences) Apply(patch PreferencesPatch) {
	if patch.NotificationsEnabled != nil {
		v := *patch.NotificationsEnabled
		p.NotificationsEnabled = &v
	}
	if patch.CustomQuery != nil {
		p.CustomQuery = *patch.CustomQuery
	}
	if patch.Filter != nil {
		p.Filter = *patch.Filter
	}
	if patch.SortOrder != nil {
		p.SortOrder = *patch.SortOrder
	}
}
