// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package session

import (
	"context"
	"time"

	"github.com/fieldstream/iec104-gateway/asdu"
)

// classifyCause maps a cause of transmission to the event category used to
// select the publish channel.
func classifyCause(c asdu.Cause) (EventKind, bool) {
	switch c {
	case asdu.Request:
		return EventCall, true
	case asdu.ActivationCon:
		return EventCtrl, true
	case asdu.Spontaneous, asdu.InterrogatedByStation, asdu.RequestByGeneralCounter:
		return EventData, true
	default:
		return EventData, false
	}
}

// dispatchMessage translates a decoded, routed I-frame payload into zero or
// more Sink.Publish calls, implementing the measurement-classification and
// select/execute echo rules of the dispatcher.
func (sf *Session) dispatchMessage(ctx context.Context, msg asdu.Message) {
	hdr := msg.Header()
	coa := hdr.Identifier.Coa

	if coa.Cause == asdu.Activation {
		sf.Error("remote originated cause=act for %s; ignoring", msg.TypeID())
		return
	}

	if coa.Cause == asdu.ActivationTerm && msg.TypeID() == asdu.C_CI_NA_1 {
		sf.scheduler.completeCounterInterrogation(time.Now())
		return
	}

	kind, ok := classifyCause(coa.Cause)

	switch m := msg.(type) {
	case *asdu.SinglePointMsg:
		if !ok {
			return
		}
		for _, it := range m.Items {
			sf.publishPoint(ctx, it.Ioa, it.Value, it.Qds&asdu.QDSInvalid != 0, it.Time, kind)
		}
	case *asdu.DoublePointMsg:
		if !ok {
			return
		}
		for _, it := range m.Items {
			sf.publishPoint(ctx, it.Ioa, it.Value, it.Qds&asdu.QDSInvalid != 0, it.Time, kind)
		}
	case *asdu.MeasuredValueNormalMsg:
		if !ok {
			return
		}
		for _, it := range m.Items {
			sf.publishPoint(ctx, it.Ioa, it.Value, it.Qds&asdu.QDSInvalid != 0, it.Time, kind)
		}
	case *asdu.MeasuredValueScaledMsg:
		if !ok {
			return
		}
		for _, it := range m.Items {
			sf.publishPoint(ctx, it.Ioa, it.Value, it.Qds&asdu.QDSInvalid != 0, it.Time, kind)
		}
	case *asdu.MeasuredValueFloatMsg:
		if !ok {
			return
		}
		for _, it := range m.Items {
			sf.publishPoint(ctx, it.Ioa, it.Value, it.Qds&asdu.QDSInvalid != 0, it.Time, kind)
		}
	case *asdu.IntegratedTotalsMsg:
		if !ok {
			return
		}
		for _, it := range m.Items {
			sf.publishPoint(ctx, it.Ioa, it.Value, false, it.Time, kind)
		}
	case *asdu.StepPositionMsg:
		if !ok {
			return
		}
		for _, it := range m.Items {
			sf.publishPoint(ctx, it.Ioa, it.Value, it.Qds&asdu.QDSInvalid != 0, it.Time, kind)
		}
	case *asdu.BitString32Msg:
		if !ok {
			return
		}
		for _, it := range m.Items {
			sf.publishPoint(ctx, it.Ioa, it.Value, it.Qds&asdu.QDSInvalid != 0, it.Time, kind)
		}

	case *asdu.SingleCommandMsg:
		sf.dispatchCommandConfirm(ctx, coa, m.Cmd.Ioa, m.Cmd.Value, m.Cmd.Qoc.InSelect, msg.TypeID())
	case *asdu.DoubleCommandMsg:
		sf.dispatchCommandConfirm(ctx, coa, m.Cmd.Ioa, m.Cmd.Value, m.Cmd.Qoc.InSelect, msg.TypeID())
	case *asdu.SetpointNormalMsg:
		sf.dispatchCommandConfirm(ctx, coa, m.Cmd.Ioa, m.Cmd.Value, m.Cmd.Qos.InSelect, msg.TypeID())
	case *asdu.SetpointScaledMsg:
		sf.dispatchCommandConfirm(ctx, coa, m.Cmd.Ioa, m.Cmd.Value, m.Cmd.Qos.InSelect, msg.TypeID())
	case *asdu.SetpointFloatMsg:
		sf.dispatchCommandConfirm(ctx, coa, m.Cmd.Ioa, m.Cmd.Value, m.Cmd.Qos.InSelect, msg.TypeID())
	case *asdu.StepCommandMsg:
		sf.dispatchCommandConfirm(ctx, coa, m.Cmd.Ioa, m.Cmd.Value, m.Cmd.Qoc.InSelect, msg.TypeID())
	case *asdu.BitsString32CmdMsg:
		// no select-before-operate support for bitstring commands
		sf.dispatchCommandConfirm(ctx, coa, m.Cmd.Ioa, m.Cmd.Value, false, msg.TypeID())

	case *asdu.UnknownMsg:
		sf.Debug("unknown TYP %s received, skipping", m.TypeID())

	default:
		sf.Debug("unhandled message type %T (%s) received", msg, msg.TypeID())
	}
}

func (sf *Session) publishPoint(ctx context.Context, ioa asdu.InfoObjAddr, value interface{}, invalid bool, ts time.Time, kind EventKind) {
	if invalid {
		sf.Debug("IOA %d quality invalid, dropping", ioa)
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	ev := Event{
		DeviceID: sf.deviceID,
		IOA:      uint32(ioa),
		Value:    value,
		Time:     ts,
		Kind:     kind,
	}
	if err := sf.sink.Publish(ctx, ev); err != nil {
		sf.Warn("publish failed for IOA %d: %v", ioa, err)
	}
}

// dispatchCommandConfirm handles the select-before-operate echo and
// publishes the ctrl confirmation once the execute phase completes.
func (sf *Session) dispatchCommandConfirm(ctx context.Context, coa asdu.CauseOfTransmission, ioa asdu.InfoObjAddr, value interface{}, inSelect bool, typeID asdu.TypeID) {
	if coa.Cause != asdu.ActivationCon {
		return
	}
	if inSelect {
		// echo back select as execute (SE=0)
		if err := sf.echoExecute(typeID, ioa, value); err != nil {
			sf.Error("select-before-operate echo failed for IOA %d: %v", ioa, err)
		}
		return
	}
	sf.publishPoint(ctx, ioa, value, false, time.Now(), EventCtrl)
}
