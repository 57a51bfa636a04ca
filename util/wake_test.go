package util

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewWake(t *testing.T) {
	w := NewWake("sampler")
	assert.NotNil(t, w, "NewWake should not return nil")
	assert.NotNil(t, w.notify, "notify channel should be initialized")
	assert.Equal(t, "sampler", w.Name())
	assert.False(t, w.Pending())
}

func TestWakeCoalesces(t *testing.T) {
	w := NewWake("test")

	assert.True(t, w.TrySend(), "first wake should be accepted")
	assert.False(t, w.TrySend(), "second wake should be coalesced")
	assert.False(t, w.TrySend(), "third wake should be coalesced")
	assert.True(t, w.Pending())

	select {
	case <-w.C():
		// Good, got the single pending wake
	default:
		t.Fatal("should have received a wake")
	}

	select {
	case <-w.C():
		t.Fatal("channel should be empty")
	default:
		// Good, channel is empty
	}
	assert.False(t, w.Pending())
}

func TestWakeWait(t *testing.T) {
	w := NewWake("test")

	go func() {
		time.Sleep(10 * time.Millisecond)
		w.TrySend()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, w.Wait(ctx))
}

func TestWakeWaitCancelled(t *testing.T) {
	w := NewWake("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Wait(ctx), context.Canceled)
}

func TestWakeConcurrentSenders(t *testing.T) {
	w := NewWake("test")
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.TrySend() {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted, "only one of the concurrent wakes may be pending")
}
