// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package model defines the configuration value types shared by the
// session engine, the device registry and the store collaborator.
package model

import "time"

// Protocol discriminates the wire codec a device connection speaks.
// IEC-104 is the only protocol implemented by this gateway.
type Protocol string

// IEC104 is the only supported protocol discriminator.
const IEC104 Protocol = "IEC104"

// Device is the configuration of a single RTU connection. A change to any
// field, CollInterval included, makes the registry restart the device's
// session; the scheduler's interval is fixed when the session is created.
type Device struct {
	ID           string        `redis:"id"`
	IP           string        `redis:"ip"`
	Port         int           `redis:"port"`
	Protocol     Protocol      `redis:"protocol"`
	CommonAddr   uint16        `redis:"common_addr"`
	CollInterval time.Duration `redis:"coll_interval"`
}

// DefaultCollInterval is applied when a Device omits CollInterval.
const DefaultCollInterval = 15 * time.Minute

// Term is a logical sub-unit (RTU channel) owned by a Device.
type Term struct {
	ID       string `redis:"id"`
	DeviceID string `redis:"device_id"`
}

// Item is a measurement or control point. CodeType names the ASDU type
// identification used when a control is issued against it.
type Item struct {
	ID       string `redis:"id"`
	CodeType string `redis:"code_type"`
}

// TermItem binds a Term/Item pair to a device and the wire-level
// information object address used to address it. ProtocolCode is the
// information object address (IOA) on the wire.
type TermItem struct {
	TermID       string `redis:"term_id"`
	ItemID       string `redis:"item_id"`
	DeviceID     string `redis:"device_id"`
	ProtocolCode uint32 `redis:"protocol_code"`
	CodeType     string `redis:"code_type"`
}

// Mapping is the reverse index entry resolving a (protocol, device,
// IOA) triple back to the term/item pair that owns it.
type Mapping struct {
	Protocol Protocol `redis:"protocol"`
	DeviceID string   `redis:"device_id"`
	IOA      uint32   `redis:"ioa"`
	TermID   string   `redis:"term_id"`
	ItemID   string   `redis:"item_id"`
}
