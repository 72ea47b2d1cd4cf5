package persistence

import (
	"context"
	"errors"
	"net"
	"syscall"
)

var (
	// ErrNetwork is returned when the backend could not be reached in time.
	// Local state must be kept; the write is retried later.
	ErrNetwork = errors.New("persistence backend unreachable")

	// ErrNotFound is returned for HTTP 404. For deletes this means the event is
	// already gone and is not an error.
	ErrNotFound = errors.New("event not found")

	// ErrRejected is returned when the backend answered with any other failure.
	ErrRejected = errors.New("persistence backend rejected the request")
)

// Class is the failure taxonomy used by the event service.
type Class int

const (
	ClassNone Class = iota
	// ClassNetwork covers timeouts and connection failures.
	ClassNetwork
	// ClassNotFound covers 404 answers.
	ClassNotFound
	// ClassRejected covers every other failure.
	ClassRejected
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassNetwork:
		return "network"
	case ClassNotFound:
		return "not_found"
	default:
		return "rejected"
	}
}

// Classify maps an error returned by a Persister to its class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrNetwork), isNetworkError(err):
		return ClassNetwork
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	default:
		return ClassRejected
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
