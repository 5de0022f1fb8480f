package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/dmitrijs2005/prwatch/internal/background"
	"github.com/dmitrijs2005/prwatch/internal/models"
)

const maxTitle = 60

// List prints the pull requests using the stored filter and sort order.
func (a *App) List(ctx context.Context, showHidden bool) error {
	d, err := a.daemon.Data(ctx, showHidden)
	if err != nil {
		return a.fail(err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	render(a.out, d, a.now())
	return nil
}

// Refresh asks the daemon for a manual check and lists the result. A
// rejected or failed check is reported by the daemon's broadcast.
func (a *App) Refresh(ctx context.Context, query string) error {
	ok, err := a.daemon.CheckPRs(ctx, true, query)
	if err != nil {
		return a.fail(err)
	}
	if !ok {
		a.println(mutedStyle.Render("refresh did not run"))
		return nil
	}
	return a.List(ctx, false)
}

func render(w io.Writer, d background.Data, now time.Time) {
	header := fmt.Sprintf("%d open pull requests", len(d.PullRequests))
	if d.Login != "" {
		header = d.Login + " · " + header
	}
	if !d.LastUpdated.IsZero() {
		header += " · updated " + humanize.RelTime(d.LastUpdated, now, "ago", "from now")
	}
	fmt.Fprintln(w, titleStyle.Render(header))

	if len(d.PullRequests) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("Nothing to review."))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PR", "Title", "Review", "CI", "Opened").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
	for _, pr := range d.PullRequests {
		t.Row(
			fmt.Sprintf("%s#%d", pr.Repository, pr.Number),
			title(pr),
			string(pr.ReviewStatus),
			string(pr.CIStatus),
			humanize.RelTime(pr.CreatedAt, now, "ago", "from now"),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func title(pr models.PullRequest) string {
	s := pr.Title
	if r := []rune(s); len(r) > maxTitle {
		s = string(r[:maxTitle-1]) + "…"
	}
	var tags []string
	if pr.Draft {
		tags = append(tags, "draft")
	}
	if pr.Hidden {
		tags = append(tags, "hidden")
	}
	if len(tags) > 0 {
		s += " [" + strings.Join(tags, ",") + "]"
	}
	return s
}
