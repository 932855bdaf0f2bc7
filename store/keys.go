// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package store is a Redis-backed collaborator: configuration CRUD,
// measurement persistence, and pub/sub notification over the key and
// channel namespaces of the gateway's data plane.
package store

import (
	"fmt"

	"github.com/fieldstream/iec104-gateway/model"
)

const (
	setDeviceKey = "SET:DEVICE"
	setTermKey   = "SET:TERM"
	setItemKey   = "SET:ITEM"

	dataListCap  = 500
	frameListCap = 200
)

func deviceKey(id string) string { return "HS:DEVICE:" + id }
func termKey(id string) string   { return "HS:TERM:" + id }
func itemKey(id string) string   { return "HS:ITEM:" + id }

func deviceTermSetKey(deviceID string) string { return "SET:DEVICE_TERM:" + deviceID }
func termItemSetKey(termID string) string     { return "SET:TERM_ITEM:" + termID }

func termItemKey(termID, itemID string) string {
	return fmt.Sprintf("HS:TERM_ITEM:%s:%s", termID, itemID)
}

func mappingKey(protocol model.Protocol, deviceID string, ioa uint32) string {
	return fmt.Sprintf("HS:MAPPING:%s:%s:%d", protocol, deviceID, ioa)
}

func dataListKey(deviceID, termID, itemID string) string {
	return fmt.Sprintf("LST:DATA:%s:%s:%s", deviceID, termID, itemID)
}

func frameListKey(deviceID string) string { return "LST:FRAME:" + deviceID }

// Configuration change channels, watched by the registry.
const (
	ChannelDeviceAdd   = "CHANNEL:DEVICE_ADD"
	ChannelDeviceFresh = "CHANNEL:DEVICE_FRESH"
	ChannelDeviceDel   = "CHANNEL:DEVICE_DEL"
	ChannelTermAdd     = "CHANNEL:TERM_ADD"
	ChannelTermDel     = "CHANNEL:TERM_DEL"
	ChannelTermItemAdd = "CHANNEL:TERM_ITEM_ADD"
	ChannelTermItemDel = "CHANNEL:TERM_ITEM_DEL"
	ChannelDeviceCall  = "CHANNEL:DEVICE_CALL"
	ChannelDeviceCtrl  = "CHANNEL:DEVICE_CTRL"
)

func dataChannel(deviceID, termID, itemID string) string {
	return fmt.Sprintf("CHANNEL:DEVICE_DATA:%s:%s:%s", deviceID, termID, itemID)
}

func callChannel(deviceID, termID, itemID string) string {
	return fmt.Sprintf("CHANNEL:DEVICE_CALL:%s:%s:%s", deviceID, termID, itemID)
}

func ctrlChannel(deviceID, termID, itemID string) string {
	return fmt.Sprintf("CHANNEL:DEVICE_CTRL:%s:%s:%s", deviceID, termID, itemID)
}
