/**
 * @description
 * Generic circuit-breaker gateway protecting every outbound biller call. The
 * breaker keeps per-command-class health state in an injected store so all
 * concurrent request handlers (and worker processes) contribute to and
 * observe the same open/closed view.
 *
 * State machine per command class:
 *   closed -> open      when the failure ratio over the rolling window
 *                       crosses the threshold (with a minimum request count)
 *   open -> half-open   after the cool-down elapses; one probe is let through
 *   half-open -> closed on probe success
 *   half-open -> open   on probe failure
 *
 * Expected business outcomes (already-processed, malformed callback) bypass
 * the failure accounting entirely and are re-thrown to the caller unchanged.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/velora/purchase-service/internal/domain"
)

// Circuit states persisted in the shared store.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// CommandClass names one protected operation class, e.g. "rocketgate.charge".
type CommandClass string

// Command builds the command class for a biller operation.
func Command(biller domain.BillerName, op string) CommandClass {
	return CommandClass(fmt.Sprintf("%s.%s", biller, op))
}

// CircuitState is the persisted health snapshot for one command class.
type CircuitState struct {
	State        string
	Failures     int64
	Total        int64
	OpenedAtUnix int64
}

// CircuitStateStore is the shared storage behind the breaker. Implementations
// must make counter increments and state transitions atomic so concurrent
// purchases see a consistent view.
type CircuitStateStore interface {
	Get(ctx context.Context, cmd CommandClass) (CircuitState, error)
	// RecordCall increments the rolling window counters and returns the
	// updated failure/total counts.
	RecordCall(ctx context.Context, cmd CommandClass, success bool, window time.Duration) (failures, total int64, err error)
	// CompareAndSwapState transitions the circuit state only when it still
	// holds `from`, resetting the rolling counters on success.
	CompareAndSwapState(ctx context.Context, cmd CommandClass, from, to string, openedAt time.Time) (bool, error)
}

// BreakerSettings tune the gateway.
type BreakerSettings struct {
	FailureRatio float64       // open when failures/total >= ratio
	MinRequests  int64         // window volume required before opening
	Window       time.Duration // rolling counter window
	Cooldown     time.Duration // open -> half-open delay
	ExecTimeout  time.Duration // per-call timeout
}

// DefaultBreakerSettings mirror the platform's biller SLAs.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureRatio: 0.5,
		MinRequests:  10,
		Window:       60 * time.Second,
		Cooldown:     30 * time.Second,
		ExecTimeout:  35 * time.Second,
	}
}

// CircuitBreakerGateway executes named commands against wrapped adapter
// calls, substituting the fixed fallback failure when the circuit is open or
// the call faults.
type CircuitBreakerGateway struct {
	store    CircuitStateStore
	settings BreakerSettings
	now      func() time.Time
}

// NewCircuitBreakerGateway wires the gateway to a shared state store.
func NewCircuitBreakerGateway(store CircuitStateStore, settings BreakerSettings) *CircuitBreakerGateway {
	if settings.FailureRatio <= 0 {
		settings.FailureRatio = 0.5
	}
	if settings.MinRequests <= 0 {
		settings.MinRequests = 1
	}
	return &CircuitBreakerGateway{store: store, settings: settings, now: time.Now}
}

// ExecuteCommand runs `call` under the named command's circuit. On an open
// circuit or a faulted call it returns the zero value and a fallback error
// wrapping ErrUnableToProcessTransaction; business outcomes pass through
// unchanged with no failure accounting.
func ExecuteCommand[T any](ctx context.Context, g *CircuitBreakerGateway, cmd CommandClass, call func(context.Context) (T, error)) (T, error) {
	var zero T

	state, err := g.store.Get(ctx, cmd)
	if err != nil {
		// A store outage must not take the billers down with it; fail open.
		log.Printf("level=warn component=circuit_breaker cmd=%s msg=\"state store read failed; passing call through\" err=%v", cmd, err)
		state = CircuitState{State: CircuitClosed}
	}

	switch state.State {
	case CircuitOpen:
		openedAt := time.Unix(state.OpenedAtUnix, 0)
		if g.now().Sub(openedAt) < g.settings.Cooldown {
			return zero, fmt.Errorf("%w: circuit open for %s", domain.ErrUnableToProcessTransaction, cmd)
		}
		// Cool-down elapsed: exactly one caller wins the probe slot.
		swapped, casErr := g.store.CompareAndSwapState(ctx, cmd, CircuitOpen, CircuitHalfOpen, g.now())
		if casErr != nil || !swapped {
			return zero, fmt.Errorf("%w: circuit open for %s", domain.ErrUnableToProcessTransaction, cmd)
		}
		log.Printf("level=info component=circuit_breaker cmd=%s msg=\"probe allowed\" state=%s", cmd, CircuitHalfOpen)
		state.State = CircuitHalfOpen
	case CircuitHalfOpen, CircuitClosed:
	default:
		state.State = CircuitClosed
	}

	execCtx := ctx
	if g.settings.ExecTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, g.settings.ExecTimeout)
		defer cancel()
	}

	result, callErr := call(execCtx)
	if callErr != nil {
		if domain.IsBusinessOutcome(callErr) {
			// Expected alternate outcome: no accounting, propagate unchanged.
			return zero, callErr
		}
		g.recordFailure(ctx, cmd, state.State)
		return zero, fmt.Errorf("%w: %s failed: %v", domain.ErrUnableToProcessTransaction, cmd, callErr)
	}

	g.recordSuccess(ctx, cmd, state.State)
	return result, nil
}

func (g *CircuitBreakerGateway) recordSuccess(ctx context.Context, cmd CommandClass, observedState string) {
	if observedState == CircuitHalfOpen {
		if _, err := g.store.CompareAndSwapState(ctx, cmd, CircuitHalfOpen, CircuitClosed, g.now()); err != nil {
			log.Printf("level=warn component=circuit_breaker cmd=%s msg=\"close transition failed\" err=%v", cmd, err)
		} else {
			log.Printf("level=info component=circuit_breaker cmd=%s msg=\"circuit closed after probe success\"", cmd)
		}
		return
	}
	if _, _, err := g.store.RecordCall(ctx, cmd, true, g.settings.Window); err != nil {
		log.Printf("level=warn component=circuit_breaker cmd=%s msg=\"success accounting failed\" err=%v", cmd, err)
	}
}

func (g *CircuitBreakerGateway) recordFailure(ctx context.Context, cmd CommandClass, observedState string) {
	if observedState == CircuitHalfOpen {
		if _, err := g.store.CompareAndSwapState(ctx, cmd, CircuitHalfOpen, CircuitOpen, g.now()); err != nil {
			log.Printf("level=warn component=circuit_breaker cmd=%s msg=\"reopen transition failed\" err=%v", cmd, err)
		} else {
			log.Printf("level=warn component=circuit_breaker cmd=%s msg=\"circuit reopened after probe failure\"", cmd)
		}
		return
	}

	failures, total, err := g.store.RecordCall(ctx, cmd, false, g.settings.Window)
	if err != nil {
		log.Printf("level=warn component=circuit_breaker cmd=%s msg=\"failure accounting failed\" err=%v", cmd, err)
		return
	}
	if total >= g.settings.MinRequests && float64(failures)/float64(total) >= g.settings.FailureRatio {
		swapped, casErr := g.store.CompareAndSwapState(ctx, cmd, CircuitClosed, CircuitOpen, g.now())
		if casErr != nil {
			log.Printf("level=warn component=circuit_breaker cmd=%s msg=\"open transition failed\" err=%v", cmd, casErr)
			return
		}
		if swapped {
			log.Printf("level=warn component=circuit_breaker cmd=%s msg=\"circuit opened\" failures=%d total=%d", cmd, failures, total)
		}
	}
}
