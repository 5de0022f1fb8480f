package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/prwatch/internal/alarm"
	"github.com/dmitrijs2005/prwatch/internal/common"
	"github.com/dmitrijs2005/prwatch/internal/github"
	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/models"
	"github.com/dmitrijs2005/prwatch/internal/notify"
	"github.com/dmitrijs2005/prwatch/internal/repositories/hidden"
	"github.com/dmitrijs2005/prwatch/internal/repositories/kv"
	"github.com/dmitrijs2005/prwatch/internal/securestore"
	"github.com/dmitrijs2005/prwatch/internal/session"
	"github.com/dmitrijs2005/prwatch/internal/storage"
	"github.com/dmitrijs2005/prwatch/internal/timex"
	"github.com/dmitrijs2005/prwatch/internal/vault"
)

const password = "abcdefgh"

type fakeSource struct {
	mu       sync.Mutex
	prs      []models.PullRequest
	loginErr error
	queries  [][]string
	fetches  atomic.Int32
	tokens   []string

	// block, when set, holds Fetch until closed; started is signalled first.
	started chan struct{}
	block   chan struct{}
	panics  bool
}

func (s *fakeSource) factory(token string) Source {
	s.mu.Lock()
	s.tokens = append(s.tokens, token)
	s.mu.Unlock()
	return s
}

func (s *fakeSource) Login(context.Context) (string, error) {
	if s.loginErr != nil {
		return "", s.loginErr
	}
	return "alice", nil
}

func (s *fakeSource) Fetch(_ context.Context, queries []string) ([]models.PullRequest, error) {
	s.fetches.Add(1)
	if s.panics {
		panic("decoder exploded")
	}
	if s.started != nil {
		s.started <- struct{}{}
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, queries)
	return append([]models.PullRequest(nil), s.prs...), nil
}

func (s *fakeSource) set(prs []models.PullRequest) {
	s.mu.Lock()
	s.prs = prs
	s.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	data   int
	errors []string
}

func (p *recordingPublisher) DataUpdated(context.Context) {
	p.mu.Lock()
	p.data++
	p.mu.Unlock()
}

func (p *recordingPublisher) ShowError(_ context.Context, msg string) {
	p.mu.Lock()
	p.errors = append(p.errors, msg)
	p.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	c         *Coordinator
	clock     *timex.FakeClock
	store     *securestore.Store
	hidden    *hidden.SQLiteRepository
	session   *session.Manager
	source    *fakeSource
	publisher *recordingPublisher
	notifier  *recordingNotifier
	badge     *notify.BadgeState
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := kv.NewSQLiteRepository(db)
	store := securestore.New(repo, vault.New(repo, vault.WithIterations(1000)))
	require.NoError(t, store.EncryptToken(ctx, "ghp_valid", password))

	clock := timex.NewFakeClock(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	alarms := alarm.NewScheduler(clock, logging.Nop())
	t.Cleanup(alarms.Stop)
	sess := session.NewManager(session.NewMemoryStore(), alarms, clock, logging.Nop())
	require.NoError(t, sess.SetPassword(ctx, password, false))

	f := &fixture{
		clock:     clock,
		store:     store,
		hidden:    hidden.NewSQLiteRepository(db),
		session:   sess,
		source:    &fakeSource{prs: prs(1, 2, 3)},
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
		badge:     notify.NewBadgeState(nil),
	}
	gate := notify.NewGate(f.notifier, store, sess, logging.Nop(), notify.WithClock(clock))
	f.c = New(Deps{
		Session:   sess,
		Store:     store,
		Hidden:    f.hidden,
		Sources:   f.source.factory,
		Gate:      gate,
		Badge:     f.badge,
		Publisher: f.publisher,
		Clock:     clock,
		Logger:    logging.Nop(),
	}, DefaultOptions())
	return f
}

func prs(ids ...int64) []models.PullRequest {
	out := make([]models.PullRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.PullRequest{
			ID:         id,
			Number:     int(id),
			Title:      fmt.Sprintf("PR %d", id),
			Repository: "o/r",
			State:      "open",
		})
	}
	return out
}

func (f *fixture) appData(t *testing.T) *models.AppData {
	t.Helper()
	data, err := f.store.DecryptAppData(context.Background(), password)
	require.NoError(t, err)
	require.NotNil(t, data)
	return data
}

var manual = Request{Manual: true}
var auto = Request{}

func TestManualRun_PersistsBadgesAndBroadcasts(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.c.CheckPullRequests(context.Background(), manual))

	data := f.appData(t)
	assert.Len(t, data.PullRequests, 3)
	assert.Len(t, data.OldPullRequests, 3)
	assert.Equal(t, "alice", data.Login)
	assert.Equal(t, f.clock.Now(), data.LastUpdated.UTC())
	assert.Equal(t, "3", f.badge.Text())
	assert.Equal(t, 1, f.publisher.data)
	assert.Equal(t, []string{"ghp_valid"}, f.source.tokens)
	assert.Equal(t, [][]string{github.DefaultQueries("alice")}, f.source.queries)
	assert.False(t, f.session.Snapshot().CheckingPRs)
}

func TestEmptyResultClearsBadge(t *testing.T) {
	f := newFixture(t)
	f.source.set(nil)

	require.NoError(t, f.c.CheckPullRequests(context.Background(), manual))
	assert.Equal(t, "", f.badge.Text())
}

func TestAutomaticCallsWithinGapRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.c.CheckPullRequests(ctx, auto))
	f.clock.Advance(5 * time.Second)
	err := f.c.CheckPullRequests(ctx, auto)

	require.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, Dropped(err))
	assert.Equal(t, int32(1), f.source.fetches.Load())
	assert.Empty(t, f.publisher.errors, "drops are silent")
}

func TestManualCallsWithinGapRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.c.CheckPullRequests(ctx, manual))
	f.clock.Advance(2 * time.Second)
	require.ErrorIs(t, f.c.CheckPullRequests(ctx, manual), ErrRateLimited)
	assert.Equal(t, int32(1), f.source.fetches.Load())

	f.clock.Advance(3 * time.Second)
	require.NoError(t, f.c.CheckPullRequests(ctx, manual), "manual calls skip the interval guard")
	assert.Equal(t, int32(2), f.source.fetches.Load())
}

func TestManualAndAutomaticLimitsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.c.CheckPullRequests(ctx, manual))
	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.c.CheckPullRequests(ctx, auto))
	f.clock.Advance(time.Second)
	require.ErrorIs(t, f.c.CheckPullRequests(ctx, auto), ErrRateLimited)
	f.clock.Advance(4 * time.Second)
	require.NoError(t, f.c.CheckPullRequests(ctx, manual))
}

func TestIntervalGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.c.CheckPullRequests(ctx, auto))

	f.clock.Advance(time.Minute)
	require.ErrorIs(t, f.c.CheckPullRequests(ctx, auto), ErrTooSoon)

	f.clock.Advance(4 * time.Minute)
	require.NoError(t, f.c.CheckPullRequests(ctx, auto))
	assert.Equal(t, int32(2), f.source.fetches.Load())
}

func TestAutomaticCallDroppedWhileCheckInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.started = make(chan struct{})
	f.source.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.c.CheckPullRequests(ctx, manual) }()
	<-f.source.started

	assert.True(t, f.session.Snapshot().CheckingPRs)
	require.ErrorIs(t, f.c.CheckPullRequests(ctx, auto), ErrInFlight)

	close(f.source.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), f.source.fetches.Load())
}

func TestManualCallsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.started = make(chan struct{})
	f.source.block = make(chan struct{})

	first := make(chan error, 1)
	go func() { first <- f.c.CheckPullRequests(ctx, manual) }()
	<-f.source.started

	// A manual call past the gap waits for the running one instead of
	// racing it on the encrypted document.
	f.clock.Advance(5 * time.Second)
	second := make(chan error, 1)
	go func() { second <- f.c.CheckPullRequests(ctx, manual) }()

	select {
	case err := <-second:
		t.Fatalf("second manual call returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(f.source.block)
	require.NoError(t, <-first)
	<-f.source.started
	require.NoError(t, <-second)
	assert.Equal(t, int32(2), f.source.fetches.Load())
}

func TestSessionExpiredIsForcedAndDoesNotCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	off := false
	_, err := f.store.UpdateAppData(ctx, password, func(d *models.AppData) error {
		d.Preferences.NotificationsEnabled = &off
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.session.Clear(ctx))

	err = f.c.CheckPullRequests(ctx, auto)
	require.ErrorIs(t, err, common.ErrSessionUnavailable)
	assert.False(t, Dropped(err))
	assert.Equal(t, []string{MessageSessionExpired}, f.publisher.errors)
	assert.Equal(t, []string{notify.KindSessionExpired}, f.notifier.kinds())
	assert.Zero(t, f.source.fetches.Load())

	require.NoError(t, f.session.SetPassword(ctx, password, false))
	require.NoError(t, f.c.CheckPullRequests(ctx, auto), "the failed call did not use up the rate limit")
}

func TestUnauthorizedIsClassifiedAndForced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.loginErr = &github.APIError{StatusCode: http.StatusUnauthorized, Message: "Bad credentials"}

	err := f.c.CheckPullRequests(ctx, manual)
	require.Error(t, err)
	assert.True(t, github.IsUnauthorized(err))

	require.Len(t, f.publisher.errors, 1)
	assert.Contains(t, f.publisher.errors[0], "token revoked or expired, re-enter or reset")
	assert.Equal(t, []string{notify.KindError}, f.notifier.kinds())
}

func TestWrongSessionPasswordReportsLockedToken(t *testing.T) {
	f := newFixture(t)
	f.session.UsePassword("not-the-password")

	err := f.c.CheckPullRequests(context.Background(), manual)
	require.ErrorIs(t, err, common.ErrWrongPassword)
	assert.Equal(t, []string{MessageTokenLocked}, f.publisher.errors)
}

func TestNewPullRequestsNotifyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.c.CheckPullRequests(ctx, manual))
	assert.Empty(t, f.notifier.kinds(), "first run without opt-in is silent")

	f.source.set(prs(1, 2, 3, 4, 5))
	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.c.CheckPullRequests(ctx, manual))

	require.Equal(t, []string{notify.KindNewPullRequests}, f.notifier.kinds())
	assert.Equal(t, "2 new pull requests", f.notifier.sent[0].Message)
	assert.Equal(t, f.clock.Now(), f.session.Snapshot().LastNewPRNotification)

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.c.CheckPullRequests(ctx, manual))
	assert.Len(t, f.notifier.kinds(), 1, "unchanged set does not notify")
}

func TestFirstRun(t *testing.T) {
	seven := prs(1, 2, 3, 4, 5, 6, 7)

	t.Run("suppressed without opt-in", func(t *testing.T) {
		f := newFixture(t)
		f.source.set(seven)
		require.NoError(t, f.c.CheckPullRequests(context.Background(), manual))
		assert.Empty(t, f.notifier.kinds())
	})

	t.Run("one notification with opt-in", func(t *testing.T) {
		f := newFixture(t)
		f.source.set(seven)
		require.NoError(t, f.store.SetFirstRunNotify(context.Background(), true))
		require.NoError(t, f.c.CheckPullRequests(context.Background(), manual))
		require.Equal(t, []string{notify.KindNewPullRequests}, f.notifier.kinds())
		assert.Equal(t, "7 new pull requests", f.notifier.sent[0].Message)
	})
}

func TestHiddenIDsAreMerged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.hidden.Hide(ctx, 2))

	require.NoError(t, f.c.CheckPullRequests(ctx, manual))

	data := f.appData(t)
	require.Len(t, data.PullRequests, 3)
	assert.False(t, data.PullRequests[0].Hidden)
	assert.True(t, data.PullRequests[1].Hidden)
}

func TestPreferencesSurviveRefreshAndSelectQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.UpdateAppData(ctx, password, func(d *models.AppData) error {
		d.Preferences.CustomQuery = "is:open is:pr org:acme"
		d.Preferences.SortOrder = models.SortOldest
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.c.CheckPullRequests(ctx, manual))
	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.c.CheckPullRequests(ctx, Request{Manual: true, CustomQuery: "is:pr draft:true"}))

	assert.Equal(t, [][]string{{"is:open is:pr org:acme"}, {"is:pr draft:true"}}, f.source.queries)
	prefs := f.appData(t).Preferences
	assert.Equal(t, "is:open is:pr org:acme", prefs.CustomQuery)
	assert.Equal(t, models.SortOldest, prefs.SortOrder)
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.source.panics = true

	var err error
	require.NotPanics(t, func() { err = f.c.CheckPullRequests(context.Background(), manual) })
	require.ErrorIs(t, err, ErrUnexpected)
	assert.Equal(t, []string{MessageUnexpected}, f.publisher.errors)
	assert.False(t, f.session.Snapshot().CheckingPRs)

	f.source.panics = false
	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.c.CheckPullRequests(context.Background(), manual), "the coordinator keeps working")
}

type panickingSession struct {
	*session.Manager
	panics atomic.Bool
}

func (p *panickingSession) Password(ctx context.Context) (string, bool, error) {
	if p.panics.Load() {
		panic("volatile store exploded")
	}
	return p.Manager.Password(ctx)
}

func TestPanicInGuardsIsRecovered(t *testing.T) {
	f := newFixture(t)
	sess := &panickingSession{Manager: f.session}
	sess.panics.Store(true)
	c := New(Deps{
		Session:   sess,
		Store:     f.store,
		Hidden:    f.hidden,
		Sources:   f.source.factory,
		Gate:      notify.NewGate(f.notifier, f.store, sess, logging.Nop(), notify.WithClock(f.clock)),
		Badge:     f.badge,
		Publisher: f.publisher,
		Clock:     f.clock,
		Logger:    logging.Nop(),
	}, DefaultOptions())

	var err error
	require.NotPanics(t, func() { err = c.CheckPullRequests(context.Background(), manual) })
	require.ErrorIs(t, err, ErrUnexpected)
	assert.Equal(t, []string{MessageUnexpected}, f.publisher.errors)
	assert.False(t, f.session.Snapshot().CheckingPRs)

	sess.panics.Store(false)
	require.NoError(t, c.CheckPullRequests(context.Background(), manual), "the run lock was released")
}

func TestReportSessionExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.c.ReportSessionExpired(ctx)
	f.c.ReportSessionExpired(ctx)

	assert.Equal(t, []string{MessageSessionExpired, MessageSessionExpired}, f.publisher.errors)
	assert.Equal(t, []string{notify.KindSessionExpired, notify.KindSessionExpired}, f.notifier.kinds(), "forced past the throttle")
}

func TestDropped(t *testing.T) {
	assert.True(t, Dropped(fmt.Errorf("x: %w", ErrTooSoon)))
	assert.False(t, Dropped(errors.New("boom")))
	assert.False(t, Dropped(common.ErrSessionUnavailable))
}
