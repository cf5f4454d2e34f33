package bank

import (
	"errors"
	"fmt"
)

// AuthError reports a credential the aggregator no longer accepts. The user
// has to run the link flow again; retrying the same call cannot succeed.
type AuthError struct {
	Code string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("aggregator auth expired (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("aggregator auth expired: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError reports a failure worth retrying later: rate limits, 5xx
// responses, network trouble. Sync is idempotent, so redelivery is safe.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("aggregator unavailable: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsAuth reports whether an AuthError sits anywhere in err's chain.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether a TransientError sits anywhere in err's chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
