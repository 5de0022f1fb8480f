// Package alarm schedules named one-shot and periodic callbacks, the
// daemon's equivalent of browser extension alarms. Creating an alarm with a
// name that already exists replaces it.
package alarm

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/timex"
)

// Well-known alarm names.
const (
	CheckPRs      = "check-prs"
	SessionExpiry = "session-expiry"
)

type Handler func(ctx context.Context)

type Scheduler struct {
	mu     sync.Mutex
	clock  timex.Clock
	logger logging.Logger
	alarms map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entry struct {
	timer   timex.Timer
	at      time.Time
	period  time.Duration
	handler Handler
}

func NewScheduler(clock timex.Clock, logger logging.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:  clock,
		logger: logger.With("module", "alarm"),
		alarms: make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Create arms name to fire after delay, and then every period if period is
// positive.
func (s *Scheduler) Create(name string, delay, period time.Duration, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if old, ok := s.alarms[name]; ok {
		old.timer.Stop()
	}

	e := &entry{at: s.clock.Now().Add(delay), period: period, handler: h}
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(name, e) })
	s.alarms[name] = e

	s.logger.Debug(s.ctx, "alarm created", "name", name, "delay", delay, "period", period)
}

// Clear disarms name and reports whether it was armed.
func (s *Scheduler) Clear(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.alarms[name]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.alarms, name)
	return true
}

// Next returns when name fires next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.alarms[name]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Stop disarms every alarm, cancels the context passed to running handlers
// and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for name, e := range s.alarms {
		e.timer.Stop()
		delete(s.alarms, name)
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) fire(name string, e *entry) {
	s.mu.Lock()
	if current, ok := s.alarms[name]; !ok || current != e || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if e.period > 0 {
		e.at = s.clock.Now().Add(e.period)
		e.timer = s.clock.AfterFunc(e.period, func() { s.fire(name, e) })
	} else {
		delete(s.alarms, name)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error(s.ctx, "alarm handler panicked", "name", name, "panic", p)
		}
	}()

	s.logger.Debug(s.ctx, "alarm fired", "name", name)
	e.handler(s.ctx)
}
