// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package session

import (
	"fmt"

	"github.com/fieldstream/iec104-gateway/asdu"
)

const startFrame byte = 0x68 // start character

// APDU form Max size 255
//
//	|              APCI                   |       ASDU         |
//	| start | APDU length | control field |       ASDU         |
//	                 |          APDU field size(253)           |
//
// bytes|    1  |    1   |        4           |                    |
const (
	apciCtrlFieldSize = 4 // control field (4)

	apduSizeMax      = 255                                  // start(1) + length(1) + control field(4) + ASDU
	apduFieldSizeMax = apciCtrlFieldSize + asdu.ASDUSizeMax // control field(4) + ASDU
)

// uFrame is the unnumbered-control-field function code.
type uFrame byte

// U-frame control field functions.
const (
	uStartDtActive  uFrame = 4 << iota // Start activation 0x04
	uStartDtConfirm                    // Start confirmation 0x08
	uStopDtActive                      // Stop activation 0x10
	uStopDtConfirm                     // Stop confirmation 0x20
	uTestFrActive                      // Test activation 0x40
	uTestFrConfirm                     // Test confirmation 0x80
)

func (sf uFrame) String() string {
	switch sf {
	case uStartDtActive:
		return "StartDtActive"
	case uStartDtConfirm:
		return "StartDtConfirm"
	case uStopDtActive:
		return "StopDtActive"
	case uStopDtConfirm:
		return "StopDtConfirm"
	case uTestFrActive:
		return "TestFrActive"
	case uTestFrConfirm:
		return "TestFrConfirm"
	default:
		return "Unknown"
	}
}

// iAPCI is an I-frame header: numbered information transfer.
type iAPCI struct {
	ssn, rsn uint16
}

func (sf iAPCI) String() string {
	return fmt.Sprintf("I[ssn: %d, rsn: %d]", sf.ssn, sf.rsn)
}

// sAPCI is an S-frame header: acknowledges correct reception, carries no ASDU.
type sAPCI struct {
	rsn uint16
}

func (sf sAPCI) String() string {
	return fmt.Sprintf("S[rsn: %d]", sf.rsn)
}

// uAPCI is a U-frame header: unnumbered control information.
type uAPCI struct {
	function uFrame
}

func (sf uAPCI) String() string {
	return fmt.Sprintf("U[function: %s]", sf.function)
}

// newIFrame builds the APDU bytes for an I-frame.
func newIFrame(ssn, rsn uint16, body []byte) ([]byte, error) {
	if len(body) > asdu.ASDUSizeMax {
		return nil, fmt.Errorf("session: asdu field larger than max %d", asdu.ASDUSizeMax)
	}

	b := make([]byte, len(body)+6)
	b[0] = startFrame
	b[1] = byte(len(body) + 4)
	b[2] = byte(ssn << 1)
	b[3] = byte(ssn >> 7)
	b[4] = byte(rsn << 1)
	b[5] = byte(rsn >> 7)
	copy(b[6:], body)
	return b, nil
}

// newSFrame builds the APDU bytes for an S-frame carrying rsn.
func newSFrame(rsn uint16) []byte {
	return []byte{startFrame, 4, 0x01, 0x00, byte(rsn << 1), byte(rsn >> 7)}
}

// newUFrame builds the APDU bytes for a U-frame of the given function.
func newUFrame(which uFrame) []byte {
	return []byte{startFrame, 4, byte(which) | 0x03, 0x00, 0x00, 0x00}
}

// parseFrame classifies a complete raw APDU (start byte, length byte, four
// control octets, optional ASDU) and returns the typed header plus the
// remaining ASDU bytes, if any.
func parseFrame(apdu []byte) (interface{}, []byte) {
	ctrl1, ctrl2, ctrl3, ctrl4 := apdu[2], apdu[3], apdu[4], apdu[5]
	if ctrl1&0x01 == 0 {
		return iAPCI{
			ssn: uint16(ctrl1)>>1 + uint16(ctrl2)<<7,
			rsn: uint16(ctrl3)>>1 + uint16(ctrl4)<<7,
		}, apdu[6:]
	}
	if ctrl1&0x03 == 0x01 {
		return sAPCI{
			rsn: uint16(ctrl3)>>1 + uint16(ctrl4)<<7,
		}, apdu[6:]
	}
	// ctrl1&0x03 == 0x03
	return uAPCI{
		function: uFrame(ctrl1 & 0xfc),
	}, apdu[6:]
}

// seqNoCount returns the modulo-32768 distance travelled from ack to seq,
// i.e. how many sequence numbers lie between an acknowledged point and the
// current counter.
func seqNoCount(ack, seq uint16) uint16 {
	return (seq - ack) & 0x7fff
}
