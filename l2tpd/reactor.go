package l2tpd

import (
	"sync"
	"time"
)

// reactor serializes all protocol work onto one goroutine.
// Connection, session and transport state is only ever touched from the
// reactor loop, so none of it needs locking.  Timers fire back onto the
// loop, and a stopped timer's pending fire is discarded there rather
// than raced against.
type reactor struct {
	events    chan func()
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// reactorTimer is a timer whose callback runs on the reactor loop.
type reactorTimer struct {
	r       *reactor
	t       *time.Timer
	stopped bool
}

func newReactor() *reactor {
	r := &reactor{
		events: make(chan func(), 16),
		closed: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *reactor) run() {
	defer r.wg.Done()
	for {
		select {
		case f := <-r.events:
			f()
		case <-r.closed:
			return
		}
	}
}

// do runs f on the reactor loop and blocks until it has completed.
// Calling do from within the loop would deadlock; loop-side code calls
// its functions directly instead.
func (r *reactor) do(f func()) {
	done := make(chan struct{})
	select {
	case r.events <- func() {
		f()
		close(done)
	}:
	case <-r.closed:
		return
	}
	select {
	case <-done:
	case <-r.closed:
	}
}

// after schedules f to run on the reactor loop once d has elapsed.
func (r *reactor) after(d time.Duration, f func()) *reactorTimer {
	rt := &reactorTimer{r: r}
	rt.t = time.AfterFunc(d, func() {
		select {
		case r.events <- func() {
			if !rt.stopped {
				f()
			}
		}:
		case <-r.closed:
		}
	})
	return rt
}

// stop cancels the timer.  Must be called from the reactor loop: a fire
// already queued behind the caller is discarded via the stopped flag.
func (rt *reactorTimer) stop() {
	rt.stopped = true
	rt.t.Stop()
}

// close shuts the loop down and waits for it to exit.  Safe to call
// more than once.
func (r *reactor) close() {
	r.closeOnce.Do(func() {
		close(r.closed)
	})
	r.wg.Wait()
}
