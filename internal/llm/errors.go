package llm

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential  = errors.New("missing API key: configure one or set ZENREPLY_API_KEY")
	ErrClientConstruction = errors.New("create HTTP request")
	ErrConnect            = errors.New("call model endpoint")
	ErrHTTPStatus         = errors.New("model endpoint returned an error status")
	ErrTransportRead      = errors.New("read streaming response")
)

// StatusError is a non-2xx answer from the endpoint. Body is the raw
// response text, kept for diagnostics.
type StatusError struct {
	StatusCode int
	Status     string // e.g. "401 Unauthorized"
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}
