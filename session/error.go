// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package session

import "errors"

// Errors returned by the session engine.
var (
	ErrUseClosedConnection = errors.New("session: use of closed connection")
	ErrQueueFull            = errors.New("session: outstanding-command queue is full")
	ErrNotStarted           = errors.New("session: link is not started")
	ErrAlreadyStarted       = errors.New("session: already started")
	ErrNoEndpoint           = errors.New("session: no device endpoint configured")
	ErrUnknownScheme        = errors.New("session: unknown endpoint scheme")
	ErrRequestTimeout       = errors.New("session: request timed out waiting for confirmation")
)
