// Package timer provides the periodic Timer Source. On each fire it only
// posts wakes; it never does I/O or computation on behalf of a task.
package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lautenbacher.net/gomeasure/metrics"
	"lautenbacher.net/gomeasure/util"
)

type Source struct {
	name   string
	period time.Duration
	wakes  []*util.Wake
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func New(name string, period time.Duration) *Source {
	return &Source{name: name, period: period}
}

func (s *Source) Name() string {
	return s.name
}

func (s *Source) Period() time.Duration {
	return s.period
}

// Attach registers a wake to be posted on every fire. Must be called before
// Start.
func (s *Source) Attach(w *util.Wake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakes = append(s.wakes, w)
}

// Start runs the ticker until Stop is called or ctx is done. A fire that
// finds a wake still pending is counted as coalesced; there is no catch-up.
func (s *Source) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		slog.Warn("Timer already running", "timer", s.name)
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	wakes := append([]*util.Wake(nil), s.wakes...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		slog.Debug("Timer started", "timer", s.name, "period", s.period)
		for {
			select {
			case <-ticker.C:
				s.fire(wakes)
			case <-ctx.Done():
				slog.Debug("Timer stopped", "timer", s.name)
				return
			}
		}
	}()
}

func (s *Source) fire(wakes []*util.Wake) {
	metrics.TimerFires.WithLabelValues(s.name).Inc()
	for _, w := range wakes {
		if !w.TrySend() {
			metrics.WakesCoalesced.WithLabelValues(s.name, w.Name()).Inc()
		}
	}
}

// Stop halts the ticker and waits for its goroutine to exit.
func (s *Source) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}
