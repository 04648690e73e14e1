package chain

import (
	"errors"
	"fmt"
)

var (
	ErrNoEndpoints   = errors.New("no chain endpoints available")
	ErrTxRejected    = errors.New("transaction rejected")
	ErrUnknownTx     = errors.New("transaction unknown to node")
	ErrInvalidRID    = errors.New("invalid blockchain rid")
	ErrNoEndpointURL = errors.New("directory returned no api urls")
)

// Error is a non-retryable answer from a node: a rejected query or transaction.
type Error struct {
	Status   int
	Endpoint string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chain node %s returned %d: %s", e.Endpoint, e.Status, e.Message)
}

// EndpointError is the last failure of an endpoint that exhausted its attempts.
type EndpointError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("endpoint %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }
