package rate

import "errors"

var (
	// ErrLimited is returned alongside a denied Decision.
	ErrLimited = errors.New("admission limit reached")
	// ErrUnavailable wraps counter backend failures.
	ErrUnavailable = errors.New("admission counter unavailable")
)
