package relay

import (
	"time"

	"github.com/RussellLuo/slidingwindow"
)

func windowFunc() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

const (
	// a window untouched for this long holds no counts and can be dropped
	limiterIdleTTL = 3 * time.Second
	sweepInterval  = 30 * time.Second
)

type originWindow struct {
	lim      *slidingwindow.Limiter
	lastUsed time.Time
}

// originLimits tracks connection counts and event rate windows per origin. It is owned by
// the shard actor and must not be touched from any other goroutine. Rate windows outlive
// connections, so reconnecting does not reset an origin's budget.
type originLimits struct {
	maxConns        int
	eventsPerSecond int64

	conns     map[string]int
	limiters  map[string]*originWindow
	lastSweep time.Time
}

func newOriginLimits(maxConns int, eventsPerSecond int) *originLimits {
	return &originLimits{
		maxConns:        maxConns,
		eventsPerSecond: int64(eventsPerSecond),
		conns:           make(map[string]int),
		limiters:        make(map[string]*originWindow),
	}
}

// acquireConn takes a connection slot for the origin, returning false at the cap.
func (l *originLimits) acquireConn(origin string) bool {
	if l.maxConns > 0 && l.conns[origin] >= l.maxConns {
		return false
	}
	l.conns[origin]++
	return true
}

// releaseConn gives back a slot.
func (l *originLimits) releaseConn(origin string) {
	n := l.conns[origin] - 1
	if n > 0 {
		l.conns[origin] = n
		return
	}
	delete(l.conns, origin)
}

// allowEvent counts one event submission against the origin's rolling one-second window.
func (l *originLimits) allowEvent(origin string, now time.Time) bool {
	if l.eventsPerSecond <= 0 {
		return true
	}
	l.sweep(now)

	w, ok := l.limiters[origin]
	if !ok {
		lim, _ := slidingwindow.NewLimiter(time.Second, l.eventsPerSecond, windowFunc)
		w = &originWindow{lim: lim}
		l.limiters[origin] = w
	}
	w.lastUsed = now
	return w.lim.AllowN(now, 1)
}

// sweep drops idle rate windows, at most once per sweepInterval.
func (l *originLimits) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	for origin, w := range l.limiters {
		if now.Sub(w.lastUsed) > limiterIdleTTL {
			delete(l.limiters, origin)
		}
	}
}
