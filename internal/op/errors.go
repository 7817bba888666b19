package op

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that an endpoint or resource is absent. Disabled
// optional modules (budgets, cost types) surface as 404 on their collection
// endpoint, so callers treat this as "zero records", never as a failure.
var ErrNotFound = errors.New("resource not found")

// APIError is a terminal API failure: a non-404 4xx, or a 5xx that survived
// every retry. The response body is kept because OpenProject puts the
// validation message there.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 500 {
		body = body[:500] + "..."
	}
	return fmt.Sprintf("API returned %d: %s", e.StatusCode, body)
}

// IsNotFound reports whether err (possibly wrapped) is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
