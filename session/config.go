// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package session

import (
	"errors"
	"time"
)

const (
	// Port is the IANA registered port number for unsecured IEC-104.
	Port = 2404

	// PortSecure is the IANA registered port number for secured IEC-104.
	PortSecure = 19998
)

// Timer and flow-control ranges defined by companion standard 104.
const (
	ConnectTimeout0Min = 1 * time.Second
	ConnectTimeout0Max = 255 * time.Second

	SendUnAckTimeout1Min = 1 * time.Second
	SendUnAckTimeout1Max = 255 * time.Second

	RecvUnAckTimeout2Min = 1 * time.Second
	RecvUnAckTimeout2Max = 255 * time.Second

	IdleTimeout3Min = 1 * time.Second
	IdleTimeout3Max = 48 * time.Hour

	SendUnAckLimitKMin = 1
	SendUnAckLimitKMax = 32767

	RecvUnAckLimitWMin = 1
	RecvUnAckLimitWMax = 32767
)

// ReconnectDelay is the fixed backoff before a new connect attempt after a
// non-user-initiated disconnect.
const ReconnectDelay = 3 * time.Second

// SendQueueCapDefault bounds the outstanding-command queue (send_list).
// Once reached, new user-originated call/ctrl submissions are rejected.
const SendQueueCapDefault = 256

// Config is a per-device IEC-104 session configuration. The zero value of
// each timer, limit, interval and capacity field is replaced by its default
// in Valid; PauseOnKLimit is left as given.
type Config struct {
	// "t0" range [1, 255]s, default 30s: bounds the socket open + STARTDT handshake.
	ConnectTimeout0 time.Duration

	// "k" range [1, 32767], default 12: max unconfirmed outbound I-frames.
	SendUnAckLimitK uint16

	// "t1" range [1, 255]s, default 15s: ack-wait timeout for sent act-frames.
	SendUnAckTimeout1 time.Duration

	// "w" range [1, 32767], default 8: inbound I-frames before a forced ack.
	RecvUnAckLimitW uint16

	// "t2" range [1, 255]s, default 10s: max delay before acking received I-frames.
	RecvUnAckTimeout2 time.Duration

	// "t3" range [1s, 48h], default 20s: idle interval triggering TESTFR_ACT.
	IdleTimeout3 time.Duration

	// CollInterval is the periodic scheduler's clock-sync + interrogation cadence.
	CollInterval time.Duration

	// SendQueueCap bounds send_list; default SendQueueCapDefault.
	SendQueueCap int

	// PauseOnKLimit selects between standards-compliant pausing of queued
	// I-frame transmission at k=K (true, default) and the permissive
	// log-and-continue behavior some RTU fleets rely on (false).
	PauseOnKLimit bool
}

// Valid fills in IEC-104 defaults for unspecified fields and rejects values
// outside the standard's configuration ranges.
func (sf *Config) Valid() error {
	if sf == nil {
		return errors.New("session: nil config")
	}

	if sf.ConnectTimeout0 == 0 {
		sf.ConnectTimeout0 = 30 * time.Second
	} else if sf.ConnectTimeout0 < ConnectTimeout0Min || sf.ConnectTimeout0 > ConnectTimeout0Max {
		return errors.New(`session: ConnectTimeout0 "t0" not in [1, 255]s`)
	}

	if sf.SendUnAckLimitK == 0 {
		sf.SendUnAckLimitK = 12
	} else if sf.SendUnAckLimitK < SendUnAckLimitKMin || sf.SendUnAckLimitK > SendUnAckLimitKMax {
		return errors.New(`session: SendUnAckLimitK "k" not in [1, 32767]`)
	}

	if sf.SendUnAckTimeout1 == 0 {
		sf.SendUnAckTimeout1 = 15 * time.Second
	} else if sf.SendUnAckTimeout1 < SendUnAckTimeout1Min || sf.SendUnAckTimeout1 > SendUnAckTimeout1Max {
		return errors.New(`session: SendUnAckTimeout1 "t1" not in [1, 255]s`)
	}

	if sf.RecvUnAckLimitW == 0 {
		sf.RecvUnAckLimitW = 8
	} else if sf.RecvUnAckLimitW < RecvUnAckLimitWMin || sf.RecvUnAckLimitW > RecvUnAckLimitWMax {
		return errors.New(`session: RecvUnAckLimitW "w" not in [1, 32767]`)
	}

	if sf.RecvUnAckTimeout2 == 0 {
		sf.RecvUnAckTimeout2 = 10 * time.Second
	} else if sf.RecvUnAckTimeout2 < RecvUnAckTimeout2Min || sf.RecvUnAckTimeout2 > RecvUnAckTimeout2Max {
		return errors.New(`session: RecvUnAckTimeout2 "t2" not in [1, 255]s`)
	}

	if sf.IdleTimeout3 == 0 {
		sf.IdleTimeout3 = 20 * time.Second
	} else if sf.IdleTimeout3 < IdleTimeout3Min || sf.IdleTimeout3 > IdleTimeout3Max {
		return errors.New(`session: IdleTimeout3 "t3" not in [1s, 48h]`)
	}

	if sf.CollInterval == 0 {
		sf.CollInterval = 15 * time.Minute
	}

	if sf.SendQueueCap == 0 {
		sf.SendQueueCap = SendQueueCapDefault
	}

	return nil
}

// DefaultConfig returns the IEC-104 default configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout0:   30 * time.Second,
		SendUnAckLimitK:   12,
		SendUnAckTimeout1: 15 * time.Second,
		RecvUnAckLimitW:   8,
		RecvUnAckTimeout2: 10 * time.Second,
		IdleTimeout3:      20 * time.Second,
		CollInterval:      15 * time.Minute,
		SendQueueCap:      SendQueueCapDefault,
		PauseOnKLimit:     true,
	}
}
