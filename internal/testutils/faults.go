package testutils

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// OperationSiteverify is the fault target FaultyDoer consults.
const OperationSiteverify = "siteverify"

// FaultInjector fails named operations on demand.
type FaultInjector struct {
	mu      sync.Mutex
	targets map[string]*FaultTarget
}

// FaultTarget configures failures for one operation.
type FaultTarget struct {
	Name      string
	Error     error
	Delay     time.Duration
	Remaining int64 // -1 for unlimited
	Injected  int64
}

// NewFaultInjector creates an injector with no targets.
func NewFaultInjector() *FaultInjector {
	return &FaultInjector{targets: make(map[string]*FaultTarget)}
}

// InjectError fails every call of operation with err.
func (fi *FaultInjector) InjectError(operation string, err error) {
	fi.inject(operation, err, 0, -1)
}

// InjectErrorCount fails the next count calls of operation with err.
func (fi *FaultInjector) InjectErrorCount(operation string, err error, count int64) {
	fi.inject(operation, err, 0, count)
}

// InjectDelay stalls every call of operation for delay before it proceeds.
// A nil err lets the call through after the delay.
func (fi *FaultInjector) InjectDelay(operation string, delay time.Duration, err error) {
	fi.inject(operation, err, delay, -1)
}

func (fi *FaultInjector) inject(operation string, err error, delay time.Duration, remaining int64) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	fi.targets[operation] = &FaultTarget{
		Name:      operation,
		Error:     err,
		Delay:     delay,
		Remaining: remaining,
	}
}

// Clear removes every target.
func (fi *FaultInjector) Clear() {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.targets = make(map[string]*FaultTarget)
}

// Injected reports how many faults operation has produced.
func (fi *FaultInjector) Injected(operation string) int64 {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if target, ok := fi.targets[operation]; ok {
		return target.Injected
	}
	return 0
}

// ShouldFail waits out any configured delay and returns the error to fail
// operation with, or nil. Cancelling ctx ends the delay early with the
// context's error.
func (fi *FaultInjector) ShouldFail(ctx context.Context, operation string) error {
	fi.mu.Lock()
	target, ok := fi.targets[operation]
	if !ok || target.Remaining == 0 {
		fi.mu.Unlock()
		return nil
	}
	target.Injected++
	if target.Remaining > 0 {
		target.Remaining--
	}
	delay, err := target.Delay, target.Error
	fi.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// FaultyDoer sends requests through Next unless the injector fails them.
type FaultyDoer struct {
	Next     interface{ Do(*http.Request) (*http.Response, error) }
	Injector *FaultInjector
}

// Do implements the verifier's Doer.
func (d *FaultyDoer) Do(req *http.Request) (*http.Response, error) {
	if err := d.Injector.ShouldFail(req.Context(), OperationSiteverify); err != nil {
		return nil, err
	}
	return d.Next.Do(req)
}
