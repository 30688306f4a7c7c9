package runner

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

// RegState is the client registration state of a session destination
type RegState int32

// Registration states. Illegal transitions are unrepresentable: the only
// paths are Unregistered -> Registering -> {Registered, Unregistered,
// Failed}, Registered -> Unregistered (unauthorized send) and
// Failed -> Unregistered (external reset).
const (
	Unregistered RegState = iota
	Registering
	Registered
	Failed
)

func (s RegState) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	default:
		return "failed"
	}
}

// registrar drives the registration state machine for one destination.
// Destinations that do not implement types.Registrable are always ready.
type registrar struct {
	dest    types.Registrable
	bound   int
	mu      sync.Mutex
	state   int32
	retries int

	stateGauge *monitor.Gauge
	retryCount *monitor.Counter
	logger     *logrus.Entry
}

func newRegistrar(dest types.Destination, bound int, rec *monitor.MetricsRecord, logger *logrus.Entry) *registrar {
	r := &registrar{
		bound:      bound,
		stateGauge: rec.Gauge(monitor.MetricFlusherRegisterState),
		retryCount: rec.Counter(monitor.MetricFlusherRegisterRetryTotal),
		logger:     logger,
	}
	if d, ok := dest.(types.Registrable); ok {
		r.dest = d
	} else {
		r.setState(Registered)
	}
	return r
}

// State returns the current registration state
func (r *registrar) State() RegState {
	return RegState(atomic.LoadInt32(&r.state))
}

func (r *registrar) setState(s RegState) {
	atomic.StoreInt32(&r.state, int32(s))
	r.stateGauge.Set(int64(s))
}

// Ready reports whether a worker may attempt delivery
func (r *registrar) Ready() bool {
	return r.State() == Registered
}

// GaveUp reports whether registration exhausted its retry budget. Sends for
// a failed destination short-circuit to counted discard.
func (r *registrar) GaveUp() bool {
	return r.State() == Failed
}

// EnsureRegistered runs one registration attempt if needed. Only one worker
// registers at a time; the rest keep scanning other keys meanwhile. Returns
// whether the destination is ready afterwards.
func (r *registrar) EnsureRegistered() bool {
	if r.Ready() {
		return true
	}
	if r.GaveUp() || r.dest == nil {
		return r.Ready()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock: another worker may have finished
	switch r.State() {
	case Registered:
		return true
	case Failed:
		return false
	}

	r.setState(Registering)
	if r.dest.Register() == types.RegistrationSuccess {
		r.retries = 0
		r.setState(Registered)
		return true
	}

	r.retries++
	r.retryCount.Inc()
	if r.retries > r.bound {
		r.logger.Warnf("Registration failed %d times, marking destination failed", r.retries)
		r.setState(Failed)
	} else {
		r.setState(Unregistered)
	}
	return false
}

// Demote drops a registered session after an unauthorized send so the next
// scan re-registers before retrying
func (r *registrar) Demote() {
	atomic.CompareAndSwapInt32(&r.state, int32(Registered), int32(Unregistered))
	r.stateGauge.Set(int64(r.State()))
}

// Reset is the external trigger that takes a failed destination back to
// unregistered, e.g. after credentials were rotated
func (r *registrar) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() == Failed {
		r.retries = 0
		r.setState(Unregistered)
	}
}
