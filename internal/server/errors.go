package server

import "errors"

var (
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrMaxSubscribers       = errors.New("maximum subscribers reached")
	ErrRateLimited          = errors.New("too many connection attempts")
	ErrInvalidConfig        = errors.New("invalid server configuration")
)
