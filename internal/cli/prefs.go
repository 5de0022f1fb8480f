package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/prwatch/internal/models"
)

var errUsage = errors.New(`usage: set notify on|off | set firstrun on|off | set query [search] | set filter all|authored|review-requested | set sort newest|oldest|repository`)

// Prefs shows the preferences, or changes one when args are given.
func (a *App) Prefs(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.showPrefs(ctx)
	}

	patch, firstRun, err := parsePref(args)
	if err != nil {
		return a.fail(err)
	}
	if err := a.daemon.UpdatePreferences(ctx, patch, firstRun); err != nil {
		return a.fail(err)
	}
	a.println(successStyle.Render("✓ Saved"))
	return nil
}

func (a *App) showPrefs(ctx context.Context) error {
	d, err := a.daemon.Data(ctx, false)
	if err != nil {
		return a.fail(err)
	}
	p := d.Preferences
	query := p.CustomQuery
	if query == "" {
		query = "(default: authored + review requested)"
	}
	a.println(fmt.Sprintf("notify   %s\nfirstrun %s\nquery    %s\nfilter   %s\nsort     %s",
		onOff(p.NotificationsOn()), onOff(d.FirstRunNotify), query,
		orDefault(p.Filter, models.FilterAll), orDefault(p.SortOrder, models.SortNewest)))
	return nil
}

func parsePref(args []string) (models.PreferencesPatch, *bool, error) {
	var patch models.PreferencesPatch
	key, rest := args[0], args[1:]

	switch key {
	case "notify", "firstrun":
		if len(rest) != 1 {
			return patch, nil, errUsage
		}
		on, err := parseOnOff(rest[0])
		if err != nil {
			return patch, nil, err
		}
		if key == "firstrun" {
			return patch, &on, nil
		}
		patch.NotificationsEnabled = &on

	case "query":
		q := strings.Join(rest, " ")
		patch.CustomQuery = &q

	case "filter":
		v, err := oneOf(rest, models.FilterAll, models.FilterAuthored, models.FilterReviewRequested)
		if err != nil {
			return patch, nil, err
		}
		patch.Filter = &v

	case "sort":
		v, err := oneOf(rest, models.SortNewest, models.SortOldest, models.SortRepository)
		if err != nil {
			return patch, nil, err
		}
		patch.SortOrder = &v

	default:
		return patch, nil, errUsage
	}
	return patch, nil, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	default:
		return false, errUsage
	}
}

func oneOf(rest []string, allowed ...string) (string, error) {
	if len(rest) != 1 || !slices.Contains(allowed, rest[0]) {
		return "", errUsage
	}
	return rest[0], nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
