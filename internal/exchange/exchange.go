// Package exchange models the lifecycle of one intercepted
// request/response pair.
package exchange

import (
	"fmt"
	"sync"
	"time"

	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

// State is the disposition of an exchange.
type State int

const (
	StatePending State = iota
	StateContinued
	StateAborted
	StateFulfilled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateContinued:
		return "continued"
	case StateAborted:
		return "aborted"
	case StateFulfilled:
		return "fulfilled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool { return s != StatePending }

// Exchange is one in-flight intercepted request/response pair. It is
// owned by the bridge for the duration of one paused event and becomes
// immutable once resolved.
type Exchange struct {
	ID      string
	Target  domain.TargetID
	Stage   rulespec.Stage
	Request *traffic.Request
	// Response carries status and headers at the response stage; nil at
	// the request stage.
	Response *traffic.Response
	Started  time.Time

	mu    sync.Mutex
	state State
}

// New creates a pending exchange for a paused driver event.
func New(id string, target domain.TargetID, stage rulespec.Stage, req *traffic.Request, res *traffic.Response) *Exchange {
	return &Exchange{
		ID:       id,
		Target:   target,
		Stage:    stage,
		Request:  req,
		Response: res,
		Started:  time.Now(),
	}
}

// State returns the current disposition.
func (x *Exchange) State() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// Resolve transitions the exchange into a terminal state. Exactly one
// resolution succeeds; every later attempt fails with
// ErrAlreadyResolved regardless of the requested state.
func (x *Exchange) Resolve(s State) error {
	if !s.Terminal() {
		return fmt.Errorf("exchange %s: cannot resolve to %s", x.ID, s)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state.Terminal() {
		return fmt.Errorf("%w: exchange %s is %s", domain.ErrAlreadyResolved, x.ID, x.state)
	}
	x.state = s
	return nil
}
