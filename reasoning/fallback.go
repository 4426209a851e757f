// Package reasoning turns free-text model output into intent, query and
// sufficiency state. Every operation degrades to a fixed default instead of failing.
package reasoning

import (
	"errors"
	"log"
)

// ErrMalformed marks a backend response that arrived but lacked the expected fields.
var ErrMalformed = errors.New("malformed model output")

// WithFallback runs op and returns fallback if op fails or panics. Failures
// wrapping ErrMalformed are logged as malformed output and all others as
// transport failures; the returned value is the same either way.
func WithFallback[T any](logger *log.Logger, component string, fallback T, op func() (T, error)) (result T) {
	if logger == nil {
		logger = log.Default()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Printf("%s panic, using fallback: %v", component, r)
			result = fallback
		}
	}()

	value, err := op()
	if err == nil {
		return value
	}

	kind := "transport"
	if errors.Is(err, ErrMalformed) {
		kind = "malformed"
	}
	logger.Printf("%s %s failure, using fallback: %v", component, kind, err)
	return fallback
}
