// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package registry supervises the fleet of device sessions: it spawns and
// cancels session.Session instances from store configuration changes and
// forwards out-of-band call/ctrl requests to the session that owns them.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fieldstream/iec104-gateway/asdu"
	"github.com/fieldstream/iec104-gateway/clog"
	"github.com/fieldstream/iec104-gateway/model"
	"github.com/fieldstream/iec104-gateway/session"
	"github.com/fieldstream/iec104-gateway/store"
)

// codeTypeToTypeID maps an item's configured code_type to the ASDU command
// type identifier issued when a ctrl request targets it.
var codeTypeToTypeID = map[string]asdu.TypeID{
	"C_SC_NA_1": asdu.C_SC_NA_1,
	"C_DC_NA_1": asdu.C_DC_NA_1,
	"C_SE_NA_1": asdu.C_SE_NA_1,
	"C_SE_NB_1": asdu.C_SE_NB_1,
	"C_SE_NC_1": asdu.C_SE_NC_1,
	"C_RC_NA_1": asdu.C_RC_NA_1,
	"C_BO_NA_1": asdu.C_BO_NA_1,
}

type runningSession struct {
	device model.Device
	sess   *session.Session
	cancel context.CancelFunc
}

// Registry owns every live session and reacts to store pub/sub notifications.
type Registry struct {
	store *store.Store
	log   *logrus.Entry

	mux      sync.Mutex
	sessions map[string]*runningSession
}

// New creates a Registry backed by st.
func New(st *store.Store, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		store:    st,
		log:      log,
		sessions: make(map[string]*runningSession),
	}
}

// Run loads every configured device, spawns its session, and then blocks
// processing configuration-change and call/ctrl notifications until ctx
// is cancelled, at which point every session is cancelled and Run returns.
func (sf *Registry) Run(ctx context.Context) error {
	ids, err := sf.store.ListDeviceIDs(ctx)
	if err != nil {
		return fmt.Errorf("registry: list devices: %w", err)
	}
	for _, id := range ids {
		d, err := sf.store.GetDevice(ctx, id)
		if err != nil {
			sf.log.WithError(err).WithField("device_id", id).Warn("load device at startup")
			continue
		}
		sf.spawn(ctx, d)
	}

	pubsub := sf.store.SubscribeConfigChanges(ctx)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			sf.shutdownAll()
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			sf.handle(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (sf *Registry) handle(ctx context.Context, channel, payload string) {
	switch channel {
	case store.ChannelDeviceAdd, store.ChannelDeviceFresh:
		sf.onDeviceUpsert(ctx, payload)
	case store.ChannelDeviceDel:
		sf.onDeviceDel(payload)
	case store.ChannelDeviceCall:
		sf.onDeviceCall(ctx, payload)
	case store.ChannelDeviceCtrl:
		sf.onDeviceCtrl(ctx, payload)
	}
}

func (sf *Registry) onDeviceUpsert(ctx context.Context, deviceID string) {
	d, err := sf.store.GetDevice(ctx, deviceID)
	if err != nil {
		sf.log.WithError(err).WithField("device_id", deviceID).Warn("load device on upsert")
		return
	}

	sf.mux.Lock()
	existing, running := sf.sessions[deviceID]
	sf.mux.Unlock()

	if running && existing.device == d {
		return // configuration unchanged, leave the session running
	}
	if running {
		sf.stop(deviceID)
	}
	sf.spawn(ctx, d)
}

func (sf *Registry) onDeviceDel(deviceID string) {
	sf.stop(deviceID)
}

func (sf *Registry) spawn(ctx context.Context, d model.Device) {
	opt := session.NewOption()
	if err := opt.SetEndpoint(fmt.Sprintf("%s:%d", d.IP, d.Port)); err != nil {
		sf.log.WithError(err).WithField("device_id", d.ID).Error("invalid device endpoint")
		return
	}
	opt.SetCommonAddr(asdu.CommonAddr(d.CommonAddr))

	cfg := session.DefaultConfig()
	if d.CollInterval > 0 {
		cfg.CollInterval = d.CollInterval
	}
	opt.SetConfig(cfg)

	sess := session.NewSession(d.ID, opt, sf.store)
	sess.Clog = clog.NewLogrusLogger(sf.log.WithField("device_id", d.ID))

	sessCtx, cancel := context.WithCancel(ctx)
	sf.mux.Lock()
	sf.sessions[d.ID] = &runningSession{device: d, sess: sess, cancel: cancel}
	sf.mux.Unlock()

	go sess.Run(sessCtx)
}

func (sf *Registry) stop(deviceID string) {
	sf.mux.Lock()
	rs, ok := sf.sessions[deviceID]
	if ok {
		delete(sf.sessions, deviceID)
	}
	sf.mux.Unlock()
	if !ok {
		return
	}
	_ = rs.sess.Close()
	rs.cancel()
}

func (sf *Registry) shutdownAll() {
	sf.mux.Lock()
	all := make([]*runningSession, 0, len(sf.sessions))
	for id, rs := range sf.sessions {
		all = append(all, rs)
		delete(sf.sessions, id)
	}
	sf.mux.Unlock()
	for _, rs := range all {
		_ = rs.sess.Close()
		rs.cancel()
	}
}

func (sf *Registry) lookup(deviceID string) (*runningSession, bool) {
	sf.mux.Lock()
	defer sf.mux.Unlock()
	rs, ok := sf.sessions[deviceID]
	return rs, ok
}

// onDeviceCall handles a "device_id:term_id:item_id" read request by
// resolving its wire address and issuing C_RD_NA_1 on the owning session.
func (sf *Registry) onDeviceCall(ctx context.Context, payload string) {
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) != 3 {
		sf.log.WithField("payload", payload).Warn("malformed device_call request")
		return
	}
	deviceID, termID, itemID := parts[0], parts[1], parts[2]

	rs, ok := sf.lookup(deviceID)
	if !ok {
		sf.log.WithField("device_id", deviceID).Warn("device_call for unknown device")
		return
	}
	ti, err := sf.store.GetTermItem(ctx, termID, itemID)
	if err != nil {
		sf.log.WithError(err).WithField("term_id", termID).WithField("item_id", itemID).Warn("resolve term_item for call")
		return
	}

	coa := asdu.CauseOfTransmission{Cause: asdu.Request}
	ca := asdu.CommonAddr(rs.device.CommonAddr)
	if err := asdu.ReadCmd(rs.sess, coa, ca, asdu.InfoObjAddr(ti.ProtocolCode)); err != nil {
		sf.log.WithError(err).WithField("device_id", deviceID).Error("issue read command")
	}
}

// onDeviceCtrl handles a "device_id:term_id:item_id:value" control request
// by resolving its code type and issuing the select phase (SE=1) on the
// owning session; the execute phase (SE=0) is echoed automatically once
// the peer confirms the select (see session.Session.echoExecute).
// Bitstring commands (C_BO_NA_1) have no select phase and are issued once.
func (sf *Registry) onDeviceCtrl(ctx context.Context, payload string) {
	parts := strings.SplitN(payload, ":", 4)
	if len(parts) != 4 {
		sf.log.WithField("payload", payload).Warn("malformed device_ctrl request")
		return
	}
	deviceID, termID, itemID, rawValue := parts[0], parts[1], parts[2], parts[3]

	rs, ok := sf.lookup(deviceID)
	if !ok {
		sf.log.WithField("device_id", deviceID).Warn("device_ctrl for unknown device")
		return
	}
	ti, err := sf.store.GetTermItem(ctx, termID, itemID)
	if err != nil {
		sf.log.WithError(err).WithField("term_id", termID).WithField("item_id", itemID).Warn("resolve term_item for ctrl")
		return
	}
	typeID, ok := codeTypeToTypeID[ti.CodeType]
	if !ok {
		sf.log.WithField("code_type", ti.CodeType).Warn("unsupported code_type for ctrl")
		return
	}

	coa := asdu.CauseOfTransmission{Cause: asdu.Activation}
	ca := asdu.CommonAddr(rs.device.CommonAddr)
	ioa := asdu.InfoObjAddr(ti.ProtocolCode)

	var err2 error
	switch typeID {
	case asdu.C_SC_NA_1:
		v, _ := strconv.ParseBool(rawValue)
		err2 = asdu.SingleCmd(rs.sess, typeID, coa, ca, asdu.SingleCommandInfo{
			Ioa: ioa, Value: v, Qoc: asdu.QualifierOfCommand{InSelect: true},
		})
	case asdu.C_DC_NA_1:
		n, _ := strconv.Atoi(rawValue)
		err2 = asdu.DoubleCmd(rs.sess, typeID, coa, ca, asdu.DoubleCommandInfo{
			Ioa: ioa, Value: asdu.DoubleCommand(n), Qoc: asdu.QualifierOfCommand{InSelect: true},
		})
	case asdu.C_SE_NA_1:
		n, _ := strconv.Atoi(rawValue)
		err2 = asdu.SetpointCmdNormal(rs.sess, typeID, coa, ca, asdu.SetpointCommandNormalInfo{
			Ioa: ioa, Value: asdu.Normalize(n), Qos: asdu.QualifierOfSetpointCmd{InSelect: true},
		})
	case asdu.C_SE_NB_1:
		n, _ := strconv.Atoi(rawValue)
		err2 = asdu.SetpointCmdScaled(rs.sess, typeID, coa, ca, asdu.SetpointCommandScaledInfo{
			Ioa: ioa, Value: int16(n), Qos: asdu.QualifierOfSetpointCmd{InSelect: true},
		})
	case asdu.C_SE_NC_1:
		f, _ := strconv.ParseFloat(rawValue, 32)
		err2 = asdu.SetpointCmdFloat(rs.sess, typeID, coa, ca, asdu.SetpointCommandFloatInfo{
			Ioa: ioa, Value: float32(f), Qos: asdu.QualifierOfSetpointCmd{InSelect: true},
		})
	case asdu.C_RC_NA_1:
		n, _ := strconv.Atoi(rawValue)
		err2 = asdu.StepCmd(rs.sess, typeID, coa, ca, asdu.StepCommandInfo{
			Ioa: ioa, Value: asdu.StepCommand(n), Qoc: asdu.QualifierOfCommand{InSelect: true},
		})
	case asdu.C_BO_NA_1:
		n, _ := strconv.ParseUint(rawValue, 10, 32)
		err2 = asdu.BitsString32Cmd(rs.sess, typeID, coa, ca, asdu.BitsString32CommandInfo{
			Ioa: ioa, Value: uint32(n),
		})
	}
	if err2 != nil {
		sf.log.WithError(err2).WithField("device_id", deviceID).Error("issue ctrl command")
	}
}
