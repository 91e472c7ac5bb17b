package history

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrHistoryUnavailable means prior messages could not be fetched.
	ErrHistoryUnavailable = errors.New("history unavailable")
	// ErrProfileUnavailable means the counterpart profile could not be fetched.
	ErrProfileUnavailable = errors.New("profile unavailable")
	// ErrLoginFailed means the backend rejected the credentials or could not be reached.
	ErrLoginFailed = errors.New("login failed")
	// ErrCacheMiss is returned by a ProfileCache that has no entry.
	ErrCacheMiss = errors.New("cache miss")
)

// StatusError is a non-2xx backend answer.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}
