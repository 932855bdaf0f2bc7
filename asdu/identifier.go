// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package asdu

import (
	"fmt"
	"strconv"
)

// about data unit identification App Service Data Unit - Data Unit Identifier

// TypeID is the ASDU type identification.
// See companion standard 101, subclass 7.2.1.
type TypeID uint8

// The standard ASDU type identification.
// M for monitored information, C for control information, P for parameter,
// F for file transfer.
// <0> unused
// <1..127> standard definition - compatible
// <128..135> reserved for routed packets - private
// <136..255> special application - dedicated
const (
	_ TypeID = iota // 0: not defined
	// Process information in the monitoring direction <1..44>
	M_SP_NA_1 // 1: single-point information
	M_SP_TA_1 // 2: single-point information with time tag
	M_DP_NA_1 // 3: double-point information
	M_DP_TA_1 // 4: double-point information with time tag
	M_ST_NA_1 // 5: step position information
	M_ST_TA_1 // 6: step position information with time tag
	M_BO_NA_1 // 7: bitstring of 32 bit
	M_BO_TA_1 // 8: bitstring of 32 bit with time tag
	M_ME_NA_1 // 9: measured value, normalized value
	M_ME_TA_1 // 10: measured value, normalized value with time tag
	M_ME_NB_1 // 11: measured value, scaled value
	M_ME_TB_1 // 12: measured value, scaled value with time tag
	M_ME_NC_1 // 13: measured value, short floating point number
	M_ME_TC_1 // 14: measured value, short floating point number with time tag
	M_IT_NA_1 // 15: integrated totals
	M_IT_TA_1 // 16: integrated totals with time tag
	M_EP_TA_1 // 17: event of protection equipment with time tag
	M_EP_TB_1 // 18: packed start events of protection equipment with time tag
	M_EP_TC_1 // 19: packed output circuit information of protection equipment with time tag
	M_PS_NA_1 // 20: packed single-point information with status change detection
	M_ME_ND_1 // 21: measured value, normalized value without quality descriptor
	_         // 22: reserved
	_         // 23: reserved
	_         // 24: reserved
	_         // 25: reserved
	_         // 26: reserved
	_         // 27: reserved
	_         // 28: reserved
	_         // 29: reserved
	M_SP_TB_1 // 30: single-point information with time tag CP56Time2a
	M_DP_TB_1 // 31: double-point information with time tag CP56Time2a
	M_ST_TB_1 // 32: step position information with time tag CP56Time2a
	M_BO_TB_1 // 33: bitstring of 32 bits with time tag CP56Time2a
	M_ME_TD_1 // 34: measured value, normalized value with time tag CP56Time2a
	M_ME_TE_1 // 35: measured value, scaled value with time tag CP56Time2a
	M_ME_TF_1 // 36: measured value, short floating point number with time tag CP56Time2a
	M_IT_TB_1 // 37: integrated totals with time tag CP56Time2a
	M_EP_TD_1 // 38: event of protection equipment with time tag CP56Time2a
	M_EP_TE_1 // 39: packed start events of protection equipment with time tag CP56Time2a
	M_EP_TF_1 // 40: packed output circuit information of protection equipment with time tag CP56Time2a
	_         // 41: reserved
	_         // 42: reserved
	_         // 43: reserved
	_         // 44: reserved
	// Process information in the control direction <45..69>
	C_SC_NA_1 // 45: single command
	C_DC_NA_1 // 46: double command
	C_RC_NA_1 // 47: regulating step command
	C_SE_NA_1 // 48: set-point command, normalized value
	C_SE_NB_1 // 49: set-point command, scaled value
	C_SE_NC_1 // 50: set-point command, short floating point number
	C_BO_NA_1 // 51: bitstring of 32 bits
	_         // 52: reserved
	_         // 53: reserved
	_         // 54: reserved
	_         // 55: reserved
	_         // 56: reserved
	_         // 57: reserved
	C_SC_TA_1 // 58: single command with time tag CP56Time2a
	C_DC_TA_1 // 59: double command with time tag CP56Time2a
	C_RC_TA_1 // 60: regulating step command with time tag CP56Time2a
	C_SE_TA_1 // 61: set-point command with time tag CP56Time2a, normalized value
	C_SE_TB_1 // 62: set-point command with time tag CP56Time2a, scaled value
	C_SE_TC_1 // 63: set-point command with time tag CP56Time2a, short floating point number
	C_BO_TA_1 // 64: bitstring of 32 bits with time tag CP56Time2a
	_         // 65: reserved
	_         // 66: reserved
	_         // 67: reserved
	_         // 68: reserved
	_         // 69: reserved
	// System information in the monitoring direction <70..99>
	M_EI_NA_1 // 70: end of initialization
	_         // 71..99: reserved / dedicated, not implemented
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	_
	// System commands in the control direction <100..109>
	C_IC_NA_1 // 100: interrogation command
	C_CI_NA_1 // 101: counter interrogation command
	C_RD_NA_1 // 102: read command
	C_CS_NA_1 // 103: clock synchronization command
	C_TS_NA_1 // 104: test command
	C_RP_NA_1 // 105: reset process command
	C_CD_NA_1 // 106: delay acquisition command
	C_TS_TA_1 // 107: test command with time tag CP56Time2a
	_         // 108: reserved
	_         // 109: reserved
	// Parameter commands in the control direction <110..119>
	P_ME_NA_1 // 110: parameter of measured value, normalized value
	P_ME_NB_1 // 111: parameter of measured value, scaled value
	P_ME_NC_1 // 112: parameter of measured value, short floating point number
	P_AC_NA_1 // 113: parameter activation
)

// infoObjSize maps the type identification (TypeID) to the information
// element serial octet size (excluding the information object address).
var infoObjSize = map[TypeID]int{
	M_SP_NA_1: 1,
	M_SP_TA_1: 4,
	M_DP_NA_1: 1,
	M_DP_TA_1: 4,
	M_ST_NA_1: 2,
	M_ST_TA_1: 5,
	M_BO_NA_1: 5,
	M_BO_TA_1: 8,
	M_ME_NA_1: 3,
	M_ME_TA_1: 6,
	M_ME_NB_1: 3,
	M_ME_TB_1: 6,
	M_ME_NC_1: 5,
	M_ME_TC_1: 8,
	M_IT_NA_1: 5,
	M_IT_TA_1: 8,
	M_EP_TA_1: 6,
	M_EP_TB_1: 7,
	M_EP_TC_1: 7,
	M_PS_NA_1: 5,
	M_ME_ND_1: 2,

	M_SP_TB_1: 8,
	M_DP_TB_1: 8,
	M_ST_TB_1: 9,
	M_BO_TB_1: 12,
	M_ME_TD_1: 10,
	M_ME_TE_1: 10,
	M_ME_TF_1: 12,
	M_IT_TB_1: 12,
	M_EP_TD_1: 11,
	M_EP_TE_1: 11,
	M_EP_TF_1: 11,

	C_SC_NA_1: 1,
	C_DC_NA_1: 1,
	C_RC_NA_1: 1,
	C_SE_NA_1: 3,
	C_SE_NB_1: 3,
	C_SE_NC_1: 5,
	C_BO_NA_1: 4,

	C_SC_TA_1: 8,
	C_DC_TA_1: 8,
	C_RC_TA_1: 8,
	C_SE_TA_1: 10,
	C_SE_TB_1: 10,
	C_SE_TC_1: 12,
	C_BO_TA_1: 11,

	M_EI_NA_1: 1,

	C_IC_NA_1: 1,
	C_CI_NA_1: 1,
	C_RD_NA_1: 0,
	C_CS_NA_1: 7,
	C_TS_NA_1: 2,
	C_RP_NA_1: 1,
	C_CD_NA_1: 2,
	C_TS_TA_1: 9,

	P_ME_NA_1: 3,
	P_ME_NB_1: 3,
	P_ME_NC_1: 5,
	P_AC_NA_1: 1,
}

// GetInfoObjSize returns the serial octet size of the type identification (TypeID).
func GetInfoObjSize(id TypeID) (int, error) {
	size, exists := infoObjSize[id]
	if !exists {
		return 0, ErrTypeIdentifierUnknown
	}
	return size, nil
}

var typeIDNames = map[TypeID]string{
	M_SP_NA_1: "M_SP_NA_1", M_SP_TA_1: "M_SP_TA_1", M_DP_NA_1: "M_DP_NA_1", M_DP_TA_1: "M_DP_TA_1",
	M_ST_NA_1: "M_ST_NA_1", M_ST_TA_1: "M_ST_TA_1", M_BO_NA_1: "M_BO_NA_1", M_BO_TA_1: "M_BO_TA_1",
	M_ME_NA_1: "M_ME_NA_1", M_ME_TA_1: "M_ME_TA_1", M_ME_NB_1: "M_ME_NB_1", M_ME_TB_1: "M_ME_TB_1",
	M_ME_NC_1: "M_ME_NC_1", M_ME_TC_1: "M_ME_TC_1", M_IT_NA_1: "M_IT_NA_1", M_IT_TA_1: "M_IT_TA_1",
	M_EP_TA_1: "M_EP_TA_1", M_EP_TB_1: "M_EP_TB_1", M_EP_TC_1: "M_EP_TC_1", M_PS_NA_1: "M_PS_NA_1",
	M_ME_ND_1: "M_ME_ND_1",
	M_SP_TB_1: "M_SP_TB_1", M_DP_TB_1: "M_DP_TB_1", M_ST_TB_1: "M_ST_TB_1", M_BO_TB_1: "M_BO_TB_1",
	M_ME_TD_1: "M_ME_TD_1", M_ME_TE_1: "M_ME_TE_1", M_ME_TF_1: "M_ME_TF_1", M_IT_TB_1: "M_IT_TB_1",
	M_EP_TD_1: "M_EP_TD_1", M_EP_TE_1: "M_EP_TE_1", M_EP_TF_1: "M_EP_TF_1",
	C_SC_NA_1: "C_SC_NA_1", C_DC_NA_1: "C_DC_NA_1", C_RC_NA_1: "C_RC_NA_1", C_SE_NA_1: "C_SE_NA_1",
	C_SE_NB_1: "C_SE_NB_1", C_SE_NC_1: "C_SE_NC_1", C_BO_NA_1: "C_BO_NA_1",
	C_SC_TA_1: "C_SC_TA_1", C_DC_TA_1: "C_DC_TA_1", C_RC_TA_1: "C_RC_TA_1", C_SE_TA_1: "C_SE_TA_1",
	C_SE_TB_1: "C_SE_TB_1", C_SE_TC_1: "C_SE_TC_1", C_BO_TA_1: "C_BO_TA_1",
	M_EI_NA_1: "M_EI_NA_1",
	C_IC_NA_1: "C_IC_NA_1", C_CI_NA_1: "C_CI_NA_1", C_RD_NA_1: "C_RD_NA_1", C_CS_NA_1: "C_CS_NA_1",
	C_TS_NA_1: "C_TS_NA_1", C_RP_NA_1: "C_RP_NA_1", C_CD_NA_1: "C_CD_NA_1", C_TS_TA_1: "C_TS_TA_1",
	P_ME_NA_1: "P_ME_NA_1", P_ME_NB_1: "P_ME_NB_1", P_ME_NC_1: "P_ME_NC_1", P_AC_NA_1: "P_AC_NA_1",
}

// String returns the mnemonic name of the type identification, e.g. "TID<M_SP_NA_1>".
func (sf TypeID) String() string {
	if name, ok := typeIDNames[sf]; ok {
		return "TID<" + name + ">"
	}
	return "TID<" + strconv.FormatInt(int64(sf), 10) + ">"
}

// VariableStruct is the variable structure qualifier.
// See companion standard 101, subclass 7.2.2.
// number <0..127>: bit0-bit6.
// seq: bit7. 0 - a collection of information elements of the same type but
// with different object addresses; 1 - a set of elements of the same type
// sharing one starting address (SQ = 1, sequential).
type VariableStruct struct {
	Number     byte
	IsSequence bool
}

// ParseVariableStruct parses a byte into a variable structure qualifier.
func ParseVariableStruct(b byte) VariableStruct {
	return VariableStruct{
		Number:     b & 0x7f,
		IsSequence: (b & 0x80) == 0x80,
	}
}

// Value encodes the variable structure qualifier to a byte.
func (sf VariableStruct) Value() byte {
	if sf.IsSequence {
		return sf.Number | 0x80
	}
	return sf.Number
}

// String returns the variable structure qualifier in human readable form.
func (sf VariableStruct) String() string {
	if sf.IsSequence {
		return fmt.Sprintf("VSQ<sq,%d>", sf.Number)
	}
	return fmt.Sprintf("VSQ<%d>", sf.Number)
}

// CauseOfTransmission is the cause of transmission.
// See companion standard 101, subclass 7.2.3.
// | T | P/N | 5..0 cause |
// T = test: 0 not a test, 1 a test.
// P/N: 0 positive confirmation, 1 negative confirmation.
type CauseOfTransmission struct {
	IsTest     bool
	IsNegative bool
	Cause      Cause
}

// OriginAddr is the originator address.
// See companion standard 101, subclass 7.2.3. The width is controlled by
// Params.CauseSize; width 2 includes/activates the originator address.
type OriginAddr byte

// Cause is the cause of transmission, bit5-bit0.
type Cause byte

// Cause of transmission values. <0> undefined, <1..47> standard definition,
// <48..63> dedicated range.
const (
	Unused                  Cause = iota // unused
	Periodic                             // periodic, cyclic
	Background                           // background scan
	Spontaneous                          // spontaneous
	Initialized                          // initialized
	Request                              // request or requested
	Activation                           // activation
	ActivationCon                        // activation confirmation
	Deactivation                         // deactivation
	DeactivationCon                      // deactivation confirmation
	ActivationTerm                       // activation termination
	ReturnInfoRemote                     // return info caused by a remote command
	ReturnInfoLocal                      // return info caused by a local command
	FileTransfer                         // file transfer
	Authentication                       // authentication
	SessionKey                           // maintenance of authentication session key
	UserRoleAndUpdateKey                 // maintenance of user role and update key
	_
	_
	_
	InterrogatedByStation // interrogated by station interrogation
	InterrogatedByGroup1
	InterrogatedByGroup2
	InterrogatedByGroup3
	InterrogatedByGroup4
	InterrogatedByGroup5
	InterrogatedByGroup6
	InterrogatedByGroup7
	InterrogatedByGroup8
	InterrogatedByGroup9
	InterrogatedByGroup10
	InterrogatedByGroup11
	InterrogatedByGroup12
	InterrogatedByGroup13
	InterrogatedByGroup14
	InterrogatedByGroup15
	InterrogatedByGroup16   // <36>
	RequestByGeneralCounter // requested by general counter request
	RequestByGroup1Counter
	RequestByGroup2Counter
	RequestByGroup3Counter
	RequestByGroup4Counter // <41>
	_
	_
	UnknownTypeID // unknown type identification
	UnknownCOT    // unknown cause of transmission
	UnknownCA     // unknown common address of ASDU
	UnknownIOA    // unknown information object address
)

var causeSemantics = map[Cause]string{
	Unused: "Unused", Periodic: "Periodic", Background: "Background", Spontaneous: "Spontaneous",
	Initialized: "Initialized", Request: "Request", Activation: "Activation", ActivationCon: "ActivationCon",
	Deactivation: "Deactivation", DeactivationCon: "DeactivationCon", ActivationTerm: "ActivationTerm",
	ReturnInfoRemote: "ReturnInfoRemote", ReturnInfoLocal: "ReturnInfoLocal", FileTransfer: "FileTransfer",
	Authentication: "Authentication", SessionKey: "SessionKey", UserRoleAndUpdateKey: "UserRoleAndUpdateKey",
	InterrogatedByStation: "InterrogatedByStation", RequestByGeneralCounter: "RequestByGeneralCounter",
	UnknownTypeID: "UnknownTypeID", UnknownCOT: "UnknownCOT", UnknownCA: "UnknownCA", UnknownIOA: "UnknownIOA",
}

// ParseCauseOfTransmission parses a byte into a cause of transmission.
func ParseCauseOfTransmission(b byte) CauseOfTransmission {
	return CauseOfTransmission{
		IsNegative: (b & 0x40) == 0x40,
		IsTest:     (b & 0x80) == 0x80,
		Cause:      Cause(b & 0x3f),
	}
}

// Value encodes the cause of transmission to a byte.
func (sf CauseOfTransmission) Value() byte {
	v := sf.Cause
	if sf.IsNegative {
		v |= 0x40
	}
	if sf.IsTest {
		v |= 0x80
	}
	return byte(v)
}

// String returns the cause of transmission, including ",neg" and ",test" suffixes.
func (sf CauseOfTransmission) String() string {
	name, ok := causeSemantics[sf.Cause]
	if !ok {
		name = strconv.FormatUint(uint64(sf.Cause), 10)
	}
	s := "COT<" + name
	switch {
	case sf.IsNegative && sf.IsTest:
		s += ",neg,test"
	case sf.IsNegative:
		s += ",neg"
	case sf.IsTest:
		s += ",test"
	}
	return s + ">"
}

// CommonAddr is a station address. The width is controlled by Params.CommonAddrSize.
type CommonAddr uint16

const (
	// InvalidCommonAddr is the invalid common address.
	InvalidCommonAddr CommonAddr = 0
	// GlobalCommonAddr is the broadcast address. Use is restricted to
	// C_IC_NA_1, C_CI_NA_1, C_CS_NA_1 and C_RP_NA_1.
	GlobalCommonAddr CommonAddr = 65535
)
