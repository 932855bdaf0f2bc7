// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package session

// LinkState is the session's connection lifecycle state.
type LinkState uint32

// Session lifecycle states, see companion standard 104 subclass 5.2.
const (
	Disconnected LinkState = iota
	Connecting
	Started
	Stopping
)

func (sf LinkState) String() string {
	switch sf {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Started:
		return "Started"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}
