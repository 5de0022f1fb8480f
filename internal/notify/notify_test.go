package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/models"
	"github.com/dmitrijs2005/prwatch/internal/timex"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type fakePrefs struct {
	data     *models.AppData
	dataErr  error
	firstRun bool
}

func (f *fakePrefs) DecryptAppData(context.Context, string) (*models.AppData, error) {
	return f.data, f.dataErr
}

func (f *fakePrefs) FirstRunNotify(context.Context) (bool, error) { return f.firstRun, nil }

type fakeSession struct{ password string }

func (f fakeSession) Password(context.Context) (string, bool, error) {
	return f.password, f.password != "", nil
}

func ids(n ...int64) []int64 { return n }

func set(n ...int64) map[int64]struct{} {
	s := make(map[int64]struct{}, len(n))
	for _, v := range n {
		s[v] = struct{}{}
	}
	return s
}

func newGate(prefs *fakePrefs, session PasswordSource) (*Gate, *recordingNotifier, *timex.FakeClock) {
	rec := &recordingNotifier{}
	clock := timex.NewFakeClock(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	return NewGate(rec, prefs, session, logging.Nop(), WithClock(clock)), rec, clock
}

func TestNewIDs(t *testing.T) {
	assert.Equal(t, ids(4, 5), NewIDs(set(1, 2, 3), ids(1, 2, 3, 4, 5)))
	assert.Empty(t, NewIDs(set(1, 2, 3), ids(3, 1)))
	assert.Equal(t, ids(7), NewIDs(nil, ids(7)))
}

func TestShouldNotify(t *testing.T) {
	ctx := context.Background()

	t.Run("new ids after a previous run", func(t *testing.T) {
		g, _, _ := newGate(&fakePrefs{}, fakeSession{})
		assert.True(t, g.ShouldNotify(ctx, 3, set(1, 2, 3), ids(1, 2, 3, 4, 5), false))
	})

	t.Run("nothing new", func(t *testing.T) {
		g, _, _ := newGate(&fakePrefs{firstRun: true}, fakeSession{})
		assert.False(t, g.ShouldNotify(ctx, 3, set(1, 2, 3), ids(2, 3), false))
	})

	t.Run("first run without opt-in", func(t *testing.T) {
		g, _, _ := newGate(&fakePrefs{firstRun: false}, fakeSession{})
		assert.False(t, g.ShouldNotify(ctx, 0, nil, ids(1, 2, 3, 4, 5, 6, 7), true))
	})

	t.Run("first run with opt-in", func(t *testing.T) {
		g, _, _ := newGate(&fakePrefs{firstRun: true}, fakeSession{})
		assert.True(t, g.ShouldNotify(ctx, 0, nil, ids(1, 2, 3, 4, 5, 6, 7), true))
	})

	t.Run("empty previous list that is not a first run", func(t *testing.T) {
		g, _, _ := newGate(&fakePrefs{firstRun: false}, fakeSession{})
		assert.True(t, g.ShouldNotify(ctx, 0, nil, ids(1), false))
	})
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Message
	}
	return out
}

func TestNotify_Throttle(t *testing.T) {
	ctx := context.Background()
	g, rec, clock := newGate(&fakePrefs{}, fakeSession{})

	sent, err := g.Notify(ctx, KindNewPullRequests, "2 new pull requests", false)
	require.NoError(t, err)
	assert.True(t, sent)

	clock.Advance(10 * time.Second)
	sent, err = g.Notify(ctx, KindNewPullRequests, "3 new pull requests", false)
	require.NoError(t, err)
	assert.False(t, sent, "same kind inside the window is held back")

	sent, err = g.Notify(ctx, KindError, "boom", false)
	require.NoError(t, err)
	assert.True(t, sent, "kinds are throttled independently")

	assert.Equal(t, []string{"2 new pull requests", "boom"}, rec.messages())
	clock.Advance(20 * time.Second)
	assert.Equal(t, []string{"2 new pull requests", "boom", "3 new pull requests"}, rec.messages(),
		"the held-back notification goes out when the window reopens")
	assert.Zero(t, clock.Pending())
}

func TestNotify_BurstCollapsesIntoMostRecent(t *testing.T) {
	ctx := context.Background()
	g, rec, clock := newGate(&fakePrefs{}, fakeSession{})

	for i, msg := range []string{"1 new pull request", "2 new pull requests", "4 new pull requests", "3 new pull requests"} {
		if i > 0 {
			clock.Advance(5 * time.Second)
		}
		_, err := g.Notify(ctx, KindNewPullRequests, msg, false)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, clock.Pending(), "one deferred delivery per kind")

	clock.Advance(DefaultThrottle)
	assert.Equal(t, []string{"1 new pull request", "3 new pull requests"}, rec.messages())

	clock.Advance(DefaultThrottle)
	sent, err := g.Notify(ctx, KindNewPullRequests, "5 new pull requests", false)
	require.NoError(t, err)
	assert.True(t, sent, "a quiet window lets the next one straight through")
}

func TestNotify_DeferredRespectsPreference(t *testing.T) {
	ctx := context.Background()
	prefs := &fakePrefs{data: &models.AppData{}}
	g, rec, clock := newGate(prefs, fakeSession{password: "abcdefgh"})

	_, err := g.Notify(ctx, KindError, "first", false)
	require.NoError(t, err)
	_, err = g.Notify(ctx, KindError, "second", false)
	require.NoError(t, err)

	off := false
	prefs.data = &models.AppData{Preferences: models.Preferences{NotificationsEnabled: &off}}
	clock.Advance(DefaultThrottle)
	assert.Equal(t, []string{"first"}, rec.messages())
}

func TestNotify_StopDropsDeferred(t *testing.T) {
	ctx := context.Background()
	g, rec, clock := newGate(&fakePrefs{}, fakeSession{})

	_, err := g.Notify(ctx, KindError, "first", false)
	require.NoError(t, err)
	_, err = g.Notify(ctx, KindError, "second", false)
	require.NoError(t, err)

	g.Stop()
	clock.Advance(DefaultThrottle)
	assert.Equal(t, 1, rec.count())
}

func TestNotify_Preference(t *testing.T) {
	ctx := context.Background()
	off := false

	t.Run("disabled", func(t *testing.T) {
		prefs := &fakePrefs{data: &models.AppData{Preferences: models.Preferences{NotificationsEnabled: &off}}}
		g, rec, _ := newGate(prefs, fakeSession{password: "abcdefgh"})

		sent, err := g.Notify(ctx, KindNewPullRequests, "x", false)
		require.NoError(t, err)
		assert.False(t, sent)
		assert.Equal(t, 0, rec.count())
	})

	t.Run("force bypasses preference and throttle", func(t *testing.T) {
		prefs := &fakePrefs{data: &models.AppData{Preferences: models.Preferences{NotificationsEnabled: &off}}}
		g, rec, _ := newGate(prefs, fakeSession{password: "abcdefgh"})

		for range 3 {
			sent, err := g.Notify(ctx, KindSessionExpired, "session expired, sign in again", true)
			require.NoError(t, err)
			assert.True(t, sent)
		}
		assert.Equal(t, 3, rec.count())
	})

	t.Run("fails open without a session", func(t *testing.T) {
		prefs := &fakePrefs{data: &models.AppData{Preferences: models.Preferences{NotificationsEnabled: &off}}}
		g, _, _ := newGate(prefs, fakeSession{})

		sent, err := g.Notify(ctx, KindNewPullRequests, "x", false)
		require.NoError(t, err)
		assert.True(t, sent)
	})

	t.Run("fails open when undecryptable", func(t *testing.T) {
		g, _, _ := newGate(&fakePrefs{data: nil}, fakeSession{password: "wrong"})

		sent, err := g.Notify(ctx, KindNewPullRequests, "x", false)
		require.NoError(t, err)
		assert.True(t, sent)
	})
}

func TestNotify_NotifierError(t *testing.T) {
	g, rec, _ := newGate(&fakePrefs{}, fakeSession{})
	rec.err = errors.New("dbus unavailable")

	sent, err := g.Notify(context.Background(), KindError, "x", true)
	require.Error(t, err)
	assert.False(t, sent)
}

func TestMultiAndBadge(t *testing.T) {
	ctx := context.Background()
	a, b := &recordingNotifier{}, &recordingNotifier{err: errors.New("b failed")}

	err := Multi(a, b).Notify(ctx, Notification{Kind: KindError})
	require.EqualError(t, err, "b failed")
	assert.Equal(t, 1, a.count())

	var forwarded string
	badge := NewBadgeState(BadgeFunc(func(_ context.Context, text string) error {
		forwarded = text
		return nil
	}))
	require.NoError(t, badge.SetBadge(ctx, "5"))
	assert.Equal(t, "5", badge.Text())
	assert.Equal(t, "5", forwarded)
}
