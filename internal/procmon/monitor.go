// Package procmon watches a single process and reports its termination.
//
// The callback contract is what the grab lifecycle depends on: it fires
// exactly once, from the monitor's own goroutine, and never after Cancel
// has returned.
package procmon

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const probeInterval = time.Second

// Monitor watches one pid and invokes its callback once when the process
// terminates.
type Monitor struct {
	pid      int
	interval time.Duration
	isAlive  func(int) bool
	onExit   func()

	mu        sync.Mutex
	cancelled bool
	fired     bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Watch starts monitoring pid. The callback runs on the monitor's
// goroutine and must not call Cancel on this monitor.
func Watch(pid int, onExit func()) *Monitor {
	return watch(pid, probeInterval, processAlive, onExit)
}

func watch(pid int, interval time.Duration, isAlive func(int) bool, onExit func()) *Monitor {
	m := &Monitor{
		pid:      pid,
		interval: interval,
		isAlive:  isAlive,
		onExit:   onExit,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Monitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if m.isAlive(m.pid) {
				continue
			}
			m.fire()
			return
		}
	}
}

// fire runs the callback under the monitor mutex, so a concurrent Cancel
// blocks until the callback completes and a cancelled monitor stays quiet.
func (m *Monitor) fire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled || m.fired {
		return
	}
	m.fired = true
	slog.Info("watched process exited", "pid", m.pid)
	m.onExit()
}

// Cancel stops the monitor and waits for its goroutine to finish. Once
// Cancel returns the callback is guaranteed not to fire; a callback already
// in flight completes first. Safe to call more than once.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	m.cancelled = true
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
