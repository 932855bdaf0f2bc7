// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fieldstream/iec104-gateway/model"
	"github.com/fieldstream/iec104-gateway/session"
)

// ErrNotFound is returned when a config lookup misses.
var ErrNotFound = errors.New("store: not found")

// Store is a Redis-backed collaborator shared by the registry and every
// session's dispatcher. A single Store instance is safe for concurrent use
// by any number of sessions; the underlying *redis.Client pools connections.
type Store struct {
	rdb *redis.Client
	log *logrus.Entry
}

// New wraps rdb. log may be nil, in which case an entry on the logrus
// standard logger is used.
func New(rdb *redis.Client, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{rdb: rdb, log: log}
}

// --- Device CRUD ---

// PutDevice creates or replaces a device's configuration and adds it to
// the device set, publishing CHANNEL:DEVICE_ADD with its id.
func (sf *Store) PutDevice(ctx context.Context, d model.Device) error {
	pipe := sf.rdb.TxPipeline()
	pipe.HSet(ctx, deviceKey(d.ID), d)
	pipe.SAdd(ctx, setDeviceKey, d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: put device %s: %w", d.ID, err)
	}
	return sf.rdb.Publish(ctx, ChannelDeviceAdd, d.ID).Err()
}

// RefreshDevice replaces a device's configuration without touching set
// membership, publishing CHANNEL:DEVICE_FRESH so the registry can decide
// whether to restart the session.
func (sf *Store) RefreshDevice(ctx context.Context, d model.Device) error {
	if err := sf.rdb.HSet(ctx, deviceKey(d.ID), d).Err(); err != nil {
		return fmt.Errorf("store: refresh device %s: %w", d.ID, err)
	}
	return sf.rdb.Publish(ctx, ChannelDeviceFresh, d.ID).Err()
}

// GetDevice loads a device's configuration.
func (sf *Store) GetDevice(ctx context.Context, id string) (model.Device, error) {
	var d model.Device
	n, err := sf.rdb.Exists(ctx, deviceKey(id)).Result()
	if err != nil {
		return d, err
	}
	if n == 0 {
		return d, ErrNotFound
	}
	err = sf.rdb.HGetAll(ctx, deviceKey(id)).Scan(&d)
	return d, err
}

// ListDeviceIDs returns every known device id.
func (sf *Store) ListDeviceIDs(ctx context.Context) ([]string, error) {
	return sf.rdb.SMembers(ctx, setDeviceKey).Result()
}

// DeleteDevice removes a device's configuration and publishes CHANNEL:DEVICE_DEL.
func (sf *Store) DeleteDevice(ctx context.Context, id string) error {
	pipe := sf.rdb.TxPipeline()
	pipe.Del(ctx, deviceKey(id))
	pipe.SRem(ctx, setDeviceKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: delete device %s: %w", id, err)
	}
	return sf.rdb.Publish(ctx, ChannelDeviceDel, id).Err()
}

// --- Term CRUD ---

// PutTerm creates or replaces a term, indexing it under its device.
func (sf *Store) PutTerm(ctx context.Context, t model.Term) error {
	pipe := sf.rdb.TxPipeline()
	pipe.HSet(ctx, termKey(t.ID), t)
	pipe.SAdd(ctx, setTermKey, t.ID)
	pipe.SAdd(ctx, deviceTermSetKey(t.DeviceID), t.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: put term %s: %w", t.ID, err)
	}
	return sf.rdb.Publish(ctx, ChannelTermAdd, t.ID).Err()
}

// GetTerm loads a term.
func (sf *Store) GetTerm(ctx context.Context, id string) (model.Term, error) {
	var t model.Term
	n, err := sf.rdb.Exists(ctx, termKey(id)).Result()
	if err != nil {
		return t, err
	}
	if n == 0 {
		return t, ErrNotFound
	}
	err = sf.rdb.HGetAll(ctx, termKey(id)).Scan(&t)
	return t, err
}

// TermsForDevice lists the term ids owned by a device.
func (sf *Store) TermsForDevice(ctx context.Context, deviceID string) ([]string, error) {
	return sf.rdb.SMembers(ctx, deviceTermSetKey(deviceID)).Result()
}

// DeleteTerm removes a term and publishes CHANNEL:TERM_DEL.
func (sf *Store) DeleteTerm(ctx context.Context, t model.Term) error {
	pipe := sf.rdb.TxPipeline()
	pipe.Del(ctx, termKey(t.ID))
	pipe.SRem(ctx, setTermKey, t.ID)
	pipe.SRem(ctx, deviceTermSetKey(t.DeviceID), t.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: delete term %s: %w", t.ID, err)
	}
	return sf.rdb.Publish(ctx, ChannelTermDel, t.ID).Err()
}

// --- Item CRUD ---

// PutItem creates or replaces an item.
func (sf *Store) PutItem(ctx context.Context, it model.Item) error {
	pipe := sf.rdb.TxPipeline()
	pipe.HSet(ctx, itemKey(it.ID), it)
	pipe.SAdd(ctx, setItemKey, it.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// GetItem loads an item.
func (sf *Store) GetItem(ctx context.Context, id string) (model.Item, error) {
	var it model.Item
	n, err := sf.rdb.Exists(ctx, itemKey(id)).Result()
	if err != nil {
		return it, err
	}
	if n == 0 {
		return it, ErrNotFound
	}
	err = sf.rdb.HGetAll(ctx, itemKey(id)).Scan(&it)
	return it, err
}

// DeleteItem removes an item.
func (sf *Store) DeleteItem(ctx context.Context, id string) error {
	pipe := sf.rdb.TxPipeline()
	pipe.Del(ctx, itemKey(id))
	pipe.SRem(ctx, setItemKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

// --- TermItem binding + reverse protocol mapping ---

// BindTermItem atomically maintains the forward (term_id,item_id)→TermItem
// binding and the reverse (protocol,device_id,ioa)→Mapping index, using
// WATCH+MULTI/EXEC so the two can never diverge.
func (sf *Store) BindTermItem(ctx context.Context, ti model.TermItem) error {
	fwdKey := termItemKey(ti.TermID, ti.ItemID)
	revKey := mappingKey(model.IEC104, ti.DeviceID, ti.ProtocolCode)

	txf := func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, fwdKey, ti)
			pipe.SAdd(ctx, termItemSetKey(ti.TermID), ti.ItemID)
			pipe.HSet(ctx, revKey, model.Mapping{
				Protocol: model.IEC104,
				DeviceID: ti.DeviceID,
				IOA:      ti.ProtocolCode,
				TermID:   ti.TermID,
				ItemID:   ti.ItemID,
			})
			return nil
		})
		return err
	}

	if err := sf.rdb.Watch(ctx, txf, fwdKey, revKey); err != nil {
		return fmt.Errorf("store: bind term_item %s/%s: %w", ti.TermID, ti.ItemID, err)
	}
	return sf.rdb.Publish(ctx, ChannelTermItemAdd, fmt.Sprintf("%s:%s", ti.TermID, ti.ItemID)).Err()
}

// UnbindTermItem atomically removes both sides of a binding.
func (sf *Store) UnbindTermItem(ctx context.Context, ti model.TermItem) error {
	fwdKey := termItemKey(ti.TermID, ti.ItemID)
	revKey := mappingKey(model.IEC104, ti.DeviceID, ti.ProtocolCode)

	txf := func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, fwdKey)
			pipe.SRem(ctx, termItemSetKey(ti.TermID), ti.ItemID)
			pipe.Del(ctx, revKey)
			return nil
		})
		return err
	}

	if err := sf.rdb.Watch(ctx, txf, fwdKey, revKey); err != nil {
		return fmt.Errorf("store: unbind term_item %s/%s: %w", ti.TermID, ti.ItemID, err)
	}
	return sf.rdb.Publish(ctx, ChannelTermItemDel, fmt.Sprintf("%s:%s", ti.TermID, ti.ItemID)).Err()
}

// ItemsForTerm lists the item ids bound to a term.
func (sf *Store) ItemsForTerm(ctx context.Context, termID string) ([]string, error) {
	return sf.rdb.SMembers(ctx, termItemSetKey(termID)).Result()
}

// GetTermItem loads a forward binding.
func (sf *Store) GetTermItem(ctx context.Context, termID, itemID string) (model.TermItem, error) {
	var ti model.TermItem
	n, err := sf.rdb.Exists(ctx, termItemKey(termID, itemID)).Result()
	if err != nil {
		return ti, err
	}
	if n == 0 {
		return ti, ErrNotFound
	}
	err = sf.rdb.HGetAll(ctx, termItemKey(termID, itemID)).Scan(&ti)
	return ti, err
}

// ResolveMapping resolves a wire-level (protocol, device, ioa) triple to
// the term/item pair that owns it.
func (sf *Store) ResolveMapping(ctx context.Context, protocol model.Protocol, deviceID string, ioa uint32) (model.Mapping, error) {
	var m model.Mapping
	key := mappingKey(protocol, deviceID, ioa)
	n, err := sf.rdb.Exists(ctx, key).Result()
	if err != nil {
		return m, err
	}
	if n == 0 {
		return m, ErrNotFound
	}
	err = sf.rdb.HGetAll(ctx, key).Scan(&m)
	return m, err
}

// --- Measurement + frame persistence ---

// AppendData appends value to the device/term/item's bounded list and
// publishes it on the corresponding data channel.
func (sf *Store) AppendData(ctx context.Context, deviceID, termID, itemID string, value interface{}, ts time.Time) error {
	key := dataListKey(deviceID, termID, itemID)
	encoded := fmt.Sprintf("%d|%v", ts.UnixMilli(), value)

	pipe := sf.rdb.TxPipeline()
	pipe.LPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, 0, dataListCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: append data %s: %w", key, err)
	}
	return sf.rdb.Publish(ctx, dataChannel(deviceID, termID, itemID), encoded).Err()
}

// AppendFrame appends a raw APDU to the device's bounded frame log.
func (sf *Store) AppendFrame(ctx context.Context, deviceID string, raw []byte) error {
	key := frameListKey(deviceID)
	pipe := sf.rdb.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, frameListCap-1)
	_, err := pipe.Exec(ctx)
	return err
}

// --- call/ctrl request/response ---

// PublishCallResult notifies whoever issued a "call" request of its result.
func (sf *Store) PublishCallResult(ctx context.Context, deviceID, termID, itemID string, value interface{}) error {
	return sf.rdb.Publish(ctx, callChannel(deviceID, termID, itemID), fmt.Sprintf("%v", value)).Err()
}

// PublishCtrlResult notifies whoever issued a "ctrl" request of its result.
func (sf *Store) PublishCtrlResult(ctx context.Context, deviceID, termID, itemID string, value interface{}) error {
	return sf.rdb.Publish(ctx, ctrlChannel(deviceID, termID, itemID), fmt.Sprintf("%v", value)).Err()
}

// SubscribeConfigChanges subscribes to every configuration-change and
// device request channel the registry must react to.
func (sf *Store) SubscribeConfigChanges(ctx context.Context) *redis.PubSub {
	return sf.rdb.Subscribe(ctx,
		ChannelDeviceAdd, ChannelDeviceFresh, ChannelDeviceDel,
		ChannelTermAdd, ChannelTermDel,
		ChannelTermItemAdd, ChannelTermItemDel,
		ChannelDeviceCall, ChannelDeviceCtrl,
	)
}

// --- session.Sink ---

var _ session.Sink = (*Store)(nil)

// Publish implements session.Sink: it resolves the event's IOA against the
// reverse protocol mapping and routes it to the appropriate list/channel.
func (sf *Store) Publish(ctx context.Context, ev session.Event) error {
	m, err := sf.ResolveMapping(ctx, model.IEC104, ev.DeviceID, ev.IOA)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			sf.log.WithField("device_id", ev.DeviceID).WithField("ioa", ev.IOA).Debug("unmapped IOA, dropping")
			return nil
		}
		return err
	}

	switch ev.Kind {
	case session.EventData:
		return sf.AppendData(ctx, ev.DeviceID, m.TermID, m.ItemID, ev.Value, ev.Time)
	case session.EventCall:
		return sf.PublishCallResult(ctx, ev.DeviceID, m.TermID, m.ItemID, ev.Value)
	case session.EventCtrl:
		return sf.PublishCtrlResult(ctx, ev.DeviceID, m.TermID, m.ItemID, ev.Value)
	default:
		return nil
	}
}

// PublishFrame implements session.Sink: it archives the raw APDU to the
// device's bounded frame log, unconditionally of frame type or decode
// success.
func (sf *Store) PublishFrame(ctx context.Context, deviceID string, raw []byte) error {
	return sf.AppendFrame(ctx, deviceID, raw)
}
