package poll

import "errors"

var (
	// ErrNoDescriptor is returned when the descriptor backend is given an
	// endpoint that is not a *File
	ErrNoDescriptor = errors.New("endpoint has no descriptor")

	// ErrForeignEndpoint is returned when the async backend is given an
	// endpoint it did not create
	ErrForeignEndpoint = errors.New("endpoint not created by this poller")

	// ErrUnsupported is returned where the descriptor backend is unavailable
	ErrUnsupported = errors.New("descriptor backend not supported on this platform")

	// ErrWriteClosed is returned by writes after CloseWrite
	ErrWriteClosed = errors.New("write half closed")
)
