// Package gateway implements the Write Gateway: HTTP ingress, admission
// control, and durable-queue publication for mutation requests.
package gateway

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgo/writeway/internal/config"
)

// Sentinel errors returned by Admitter.Admit. Callers map these to HTTP
// responses; neither wraps an underlying cause since both are pure
// admission-control decisions, not I/O failures.
var (
	// ErrBackpressure indicates the in-flight request cap has been reached.
	ErrBackpressure = errors.New("gateway: admission at in-flight capacity")

	// ErrCircuitOpen indicates the publish circuit breaker has tripped.
	ErrCircuitOpen = errors.New("gateway: publish circuit open")
)

// breakerState is the circuit breaker's three-state machine.
type breakerState int32

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Admitter enforces the in-flight cap and circuit breaker described in
// spec.md §4.1. All state transitions are atomic or mutex-protected and
// never perform I/O while held, so admission decisions never block on
// the publish call they gate.
type Admitter struct {
	maxInFlight int64
	threshold   int32
	resetDelay  time.Duration

	inFlight atomic.Int64

	mu            sync.Mutex
	state         breakerState
	consecutiveFails int32
	openedAt      time.Time
	probeInFlight bool
}

// NewAdmitter builds an Admitter from the gateway's admission config.
func NewAdmitter(cfg config.AdmissionConfig) *Admitter {
	return &Admitter{
		maxInFlight: int64(cfg.MaxInFlight),
		threshold:   int32(cfg.BreakerThreshold),
		resetDelay:  time.Duration(cfg.BreakerResetMS) * time.Millisecond,
		state:       breakerClosed,
	}
}

// Release is returned by Admit to report the outcome of the gated work
// and decrement the in-flight counter exactly once.
type Release func(success bool)

// Admit decides whether a publish attempt may proceed. On success it
// returns a Release the caller must invoke exactly once, in every exit
// path including timeout, to report the outcome and free the in-flight
// slot.
func (a *Admitter) Admit() (Release, error) {
	if a.inFlight.Add(1) > a.maxInFlight {
		a.inFlight.Add(-1)
		return nil, ErrBackpressure
	}

	isProbe, err := a.checkBreaker()
	if err != nil {
		a.inFlight.Add(-1)
		return nil, err
	}

	released := false
	return func(success bool) {
		if released {
			return
		}
		released = true
		a.inFlight.Add(-1)
		a.reportOutcome(isProbe, success)
	}, nil
}

// checkBreaker evaluates the breaker state and, if the breaker is open
// past its reset delay, admits exactly one half-open probe.
func (a *Admitter) checkBreaker() (isProbe bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case breakerClosed:
		return false, nil
	case breakerHalfOpen:
		return false, ErrCircuitOpen
	case breakerOpen:
		if time.Since(a.openedAt) < a.resetDelay {
			return false, ErrCircuitOpen
		}
		if a.probeInFlight {
			return false, ErrCircuitOpen
		}
		a.state = breakerHalfOpen
		a.probeInFlight = true
		return true, nil
	default:
		return false, ErrCircuitOpen
	}
}

// reportOutcome records a publish attempt's success or failure against
// the breaker. Called once per Admit() via its returned Release.
func (a *Admitter) reportOutcome(isProbe, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if isProbe {
		a.probeInFlight = false
		if success {
			a.state = breakerClosed
			a.consecutiveFails = 0
		} else {
			a.state = breakerOpen
			a.openedAt = time.Now()
		}
		return
	}

	if success {
		a.consecutiveFails = 0
		return
	}

	a.consecutiveFails++
	if a.state == breakerClosed && a.consecutiveFails >= a.threshold {
		a.state = breakerOpen
		a.openedAt = time.Now()
	}
}

// Snapshot reports the admission state for /health.
type Snapshot struct {
	InFlight         int64
	BreakerState     string
	ConsecutiveFails int32
}

// Status returns a point-in-time snapshot for the health endpoint.
func (a *Admitter) Status() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var state string
	switch a.state {
	case breakerClosed:
		state = "closed"
	case breakerOpen:
		state = "open"
	case breakerHalfOpen:
		state = "half-open"
	}

	return Snapshot{
		InFlight:         a.inFlight.Load(),
		BreakerState:     state,
		ConsecutiveFails: a.consecutiveFails,
	}
}

// ResetSeconds returns the remaining whole seconds of the breaker's
// reset delay, for the Retry-After header. Returns 1 if the delay has
// already elapsed (a probe may be admitted on the very next call).
func (a *Admitter) ResetSeconds() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	remaining := a.resetDelay - time.Since(a.openedAt)
	secs := int(remaining.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
