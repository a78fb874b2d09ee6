package reporting

import (
	"sync"
	"time"
)

// Ticker is the periodic progress timer of one playback surface. At most
// one timer runs at a time: Start cancels the previous one first.
type Ticker struct {
	mu   sync.Mutex
	stop chan struct{}
}

// Start calls fn every interval until Cancel or the next Start.
func (t *Ticker) Start(interval time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	stop := make(chan struct{})
	t.stop = stop

	go func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				select {
				case <-stop:
					return
				default:
				}
				fn()
			}
		}
	}()
}

// Cancel stops the running timer. It is safe to call when none is running.
// A tick already being handled may still complete.
func (t *Ticker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *Ticker) cancelLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// Running reports whether a timer is active.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}
