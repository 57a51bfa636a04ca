package timer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"lautenbacher.net/gomeasure/metrics"
	"lautenbacher.net/gomeasure/util"
)

func TestSourceWakesAttachedTasks(t *testing.T) {
	s := New("sample", 5*time.Millisecond)
	a := util.NewWake("a")
	b := util.NewWake("b")
	s.Attach(a)
	s.Attach(b)

	s.Start(context.Background())
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, a.Wait(ctx))
	assert.NoError(t, b.Wait(ctx))
}

func TestSourceCoalescesMissedFires(t *testing.T) {
	s := New("coalesce-test", 2*time.Millisecond)
	w := util.NewWake("slow")
	s.Attach(w)

	before := testutil.ToFloat64(metrics.WakesCoalesced.WithLabelValues("coalesce-test", "slow"))
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	assert.True(t, w.Pending(), "one wake must be pending")
	<-w.C()
	assert.False(t, w.Pending(), "missed fires must not queue up")
	after := testutil.ToFloat64(metrics.WakesCoalesced.WithLabelValues("coalesce-test", "slow"))
	assert.Greater(t, after, before, "coalesced wakes should be counted")
}

func TestSourceStop(t *testing.T) {
	s := New("stop-test", time.Millisecond)
	w := util.NewWake("t")
	s.Attach(w)

	s.Start(context.Background())
	s.Stop()
	s.Stop()

	// drain whatever was posted before Stop returned
	select {
	case <-w.C():
	default:
	}
	time.Sleep(10 * time.Millisecond)
	assert.False(t, w.Pending(), "no wake may arrive after Stop")
}

func TestSourceStopsWithContext(t *testing.T) {
	s := New("ctx-test", time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
