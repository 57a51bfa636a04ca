package task

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lautenbacher.net/gomeasure/util"
)

// AbstractTask carries what all tasks share: a uid, the wake the task blocks
// on and the start/stop handling of its goroutine. The concrete task sets
// cycle to the work done once per wake.
type AbstractTask struct {
	uid       string
	wake      *util.Wake
	isRunning bool
	lastStart time.Time
	cycles    atomic.Uint64
	// Guards isRunning, lastStart, stop and done
	updateMutex sync.Mutex
	// one unit of work, run on every wake. MUST be set by the concrete task
	cycle func()
	stop  chan struct{}
	done  chan struct{}
}

// NewAbstractTask creates the shared part of a task. The uid must be unique
// and also names the task's wake.
func NewAbstractTask(uid string) *AbstractTask {
	return &AbstractTask{
		uid:  uid,
		wake: util.NewWake(uid),
	}
}

func (s *AbstractTask) UID() string {
	return s.uid
}

// Wake returns the wake timers and other tasks post to.
func (s *AbstractTask) Wake() *util.Wake {
	return s.wake
}

// Cycles returns how many wakes the task has handled.
func (s *AbstractTask) Cycles() uint64 {
	return s.cycles.Load()
}

func (s *AbstractTask) IsRunning() bool {
	s.updateMutex.Lock()
	defer s.updateMutex.Unlock()
	return s.isRunning
}

// Start launches the task goroutine. It never blocks and does nothing when
// the task is already running.
func (s *AbstractTask) Start() {
	s.updateMutex.Lock()
	defer s.updateMutex.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.lastStart = time.Now()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
}

func (s *AbstractTask) run(stop, done chan struct{}) {
	defer close(done)
	slog.Debug("Task started", "uid", s.uid)
	for {
		select {
		case <-s.wake.C():
			s.cycles.Add(1)
			s.cycle()
		case <-stop:
			slog.Debug("Task stopped", "uid", s.uid)
			return
		}
	}
}

// Stop signals the task goroutine and waits until the current cycle, if
// any, has finished.
func (s *AbstractTask) Stop() {
	s.updateMutex.Lock()
	defer s.updateMutex.Unlock()
	if !s.isRunning {
		return
	}
	close(s.stop)
	<-s.done
	s.isRunning = false
}
