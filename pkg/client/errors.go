package client

import (
	"errors"
	"fmt"

	"github.com/piconnect/piconnect-go/pkg/wire"
)

// Client errors.
var (
	// ErrNotConnected indicates no server connection is open.
	ErrNotConnected = errors.New("not connected")

	// ErrNoSession indicates no session has been opened yet.
	ErrNoSession = errors.New("no open session")

	// ErrRequestTimeout indicates the server did not answer in time.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrDiscoveryTimeout indicates no server was found within the
	// discovery bound.
	ErrDiscoveryTimeout = errors.New("discovery timed out")

	// ErrDigestMismatch indicates a fetched artifact failed its
	// integrity check.
	ErrDigestMismatch = errors.New("artifact digest mismatch")
)

// StatusError is a non-success response from the server.
type StatusError struct {
	Status  wire.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %s", e.Status)
	}
	return fmt.Sprintf("server returned %s: %s", e.Status, e.Message)
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status wire.Status) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
