package sse

import "time"

// DefaultConnectTimeout bounds time-to-first-headers.
const DefaultConnectTimeout = 45 * time.Second

// DefaultIdleTimeout bounds time since the last received event.
const DefaultIdleTimeout = 60 * time.Second

// Watchdog aborts a client read loop cleanly when either no connection is
// established within ConnectTimeout, or no event arrives within
// IdleTimeout of the last one. It arms the connect timeout until Connected
// is called and the idle timeout after. Both failure modes close the same
// Expired channel; the Watchdog does not report which one tripped.
type Watchdog struct {
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration

	connected bool
	timer     *time.Timer
	expired   chan struct{}
}

// NewWatchdog starts the connect-phase timer. Call Connected once headers
// arrive, and Reset after every received event.
func NewWatchdog(connectTimeout, idleTimeout time.Duration) *Watchdog {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	wd := &Watchdog{ConnectTimeout: connectTimeout, IdleTimeout: idleTimeout, expired: make(chan struct{})}
	wd.timer = time.AfterFunc(connectTimeout, wd.trip)
	return wd
}

func (wd *Watchdog) trip() {
	select {
	case <-wd.expired:
		// already tripped
	default:
		close(wd.expired)
	}
}

// Connected switches the watchdog from the connect phase to the idle
// phase, resetting its timer to IdleTimeout.
func (wd *Watchdog) Connected() {
	wd.connected = true
	wd.timer.Reset(wd.IdleTimeout)
}

// Reset extends the idle timer after receiving an event.
func (wd *Watchdog) Reset() {
	if wd.connected {
		wd.timer.Reset(wd.IdleTimeout)
	}
}

// Expired returns a channel that is closed when the watchdog trips.
func (wd *Watchdog) Expired() <-chan struct{} {
	return wd.expired
}

// Stop releases the underlying timer.
func (wd *Watchdog) Stop() {
	wd.timer.Stop()
}
