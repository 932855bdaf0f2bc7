// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package asdu

import "errors"

// Errors returned while building, validating or parsing an ASDU.
var (
	// ErrParam is returned when a Params value fails Valid().
	ErrParam = errors.New("asdu: invalid params")
	// ErrCommonAddrZero is returned when a common address is the reserved zero value.
	ErrCommonAddrZero = errors.New("asdu: common address is zero")
	// ErrCommonAddrFit is returned when a common address does not fit in Params.CommonAddrSize.
	ErrCommonAddrFit = errors.New("asdu: common address does not fit width")
	// ErrInfoObjIndexFit is returned when an information object index is out of bounds.
	ErrInfoObjIndexFit = errors.New("asdu: information object index out of range")
	// ErrCauseZero is returned when a cause of transmission is unset.
	ErrCauseZero = errors.New("asdu: cause of transmission is zero")
	// ErrOriginAddrFit is returned when an originator address is set with CauseSize of 1.
	ErrOriginAddrFit = errors.New("asdu: originator address does not fit cause width")
	// ErrInfoObjAddrFit is returned when an information object address does not fit in Params.InfoObjAddrSize.
	ErrInfoObjAddrFit = errors.New("asdu: information object address does not fit width")
	// ErrTypeIDNotMatch is returned when an ASDU carries a type identification a builder or parser did not expect.
	ErrTypeIDNotMatch = errors.New("asdu: type identification does not match")
	// ErrLengthOutOfRange is returned when the encoded ASDU would exceed ASDUSizeMax.
	ErrLengthOutOfRange = errors.New("asdu: length out of range")
	// ErrNotAnyObjInfo is returned when a builder is called with zero information objects.
	ErrNotAnyObjInfo = errors.New("asdu: not any information object")
	// ErrCmdCause is returned when a cause of transmission is not allowed for the command being sent.
	ErrCmdCause = errors.New("asdu: cause of transmission not allowed for this command")
	// ErrTypeIdentifierUnknown is returned when a type identification has no known information object size.
	ErrTypeIdentifierUnknown = errors.New("asdu: unknown type identifier")
)
