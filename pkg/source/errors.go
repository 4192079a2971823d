package source

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrTimeout marks an attempt that exceeded the per-attempt deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrEmptyBody marks a 2xx answer with nothing usable in it.
	ErrEmptyBody = errors.New("empty response body")
	// ErrNoAPIKey is returned for a Sheets API source without a key.
	ErrNoAPIKey = errors.New("sheets api key not configured")
	// ErrNoURL is returned for a source whose address cannot be derived.
	ErrNoURL = errors.New("source has no url")
)

// TransportError is a single failed request: network failure, timeout,
// non-2xx status or empty body.
type TransportError struct {
	URL    string
	Tier   Tier
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: HTTP %d", e.Tier, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Tier, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Blocked reports whether the origin refused us rather than failed: an
// auth/legal refusal status or a connection that could not be dialed.
// Only blocked failures are worth retrying through a relay.
func (e *TransportError) Blocked() bool {
	if blockedStatus(e.Status) {
		return true
	}
	if e.Status != 0 {
		return false
	}
	var op *net.OpError
	return errors.As(e.Err, &op) && op.Op == "dial"
}

func blockedStatus(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden,
		http.StatusProxyAuthRequired, http.StatusUnavailableForLegalReasons:
		return true
	}
	return false
}

// IsBlocked reports whether err carries a blocked TransportError.
func IsBlocked(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Blocked()
}

// FetchExhaustedError is returned once every tier for a source has failed.
type FetchExhaustedError struct {
	Source   string
	Attempts int
	Last     error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s exhausted after %d attempts: %v", e.Source, e.Attempts, e.Last)
}

func (e *FetchExhaustedError) Unwrap() error { return e.Last }
