package domain

import "errors"

// Error kinds surfaced by the interception bridge. Callers are expected
// to test them with errors.Is after unwrapping.
var (
	// ErrDuplicateRule is returned when a rule with an identical match
	// and action is already registered.
	ErrDuplicateRule = errors.New("duplicate rule")

	// ErrRuleNotFound is returned when unregistering an unknown rule ID.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrInvalidTransformation is returned when a transform references a
	// field incompatible with the exchange's current stage.
	ErrInvalidTransformation = errors.New("invalid transformation")

	// ErrAlreadyResolved is returned on a second resolution attempt for
	// the same exchange.
	ErrAlreadyResolved = errors.New("exchange already resolved")

	// ErrTimeout is reported when an exchange was not resolved before
	// its processing deadline.
	ErrTimeout = errors.New("exchange processing timed out")

	// ErrDriverDisconnected is reported when the underlying automation
	// session terminates mid-interception.
	ErrDriverDisconnected = errors.New("driver disconnected")

	// ErrSessionNotFound is returned for operations on unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
)
