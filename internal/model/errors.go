package model

import "errors"

// Error taxonomy of §7. Adapters and callers compare with errors.Is;
// nothing in the workbench panics on these paths.
var (
	// ErrValidation: bad arguments, quantity < 100 lot, empty assignments,
	// missing broker credentials, unsupported broker type.
	ErrValidation = errors.New("validation error")

	// ErrTransport: non-2xx HTTP, timeout. Retried only inside the
	// throttler's explicit retry budget; otherwise bubbles to the adapter.
	ErrTransport = errors.New("transport error")

	// ErrParse: bad response structure. The REST adapter wraps it with %w
	// and returns it to the caller together with an empty result; it is
	// not passed to the error callback and not logged there.
	ErrParse = errors.New("parse error")

	// ErrState: e.g. sendOrder before login.
	ErrState = errors.New("state error")
)

// OrderResult is what SendOrder returns instead of raising — a StateError
// such as sending before login flows through this shape. CancelOrder and
// ModifyOrder return a bool; risk rejections come back as (bool, reason).
type OrderResult struct {
	Success bool
	Message string
	Order   *Order
}
