package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fieldstream/iec104-gateway/model"
	"github.com/fieldstream/iec104-gateway/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, nil)
}

func TestPutAndGetDevice(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	d := model.Device{ID: "dev-1", IP: "10.0.0.1", Port: 2404, Protocol: model.IEC104, CommonAddr: 1, CollInterval: time.Minute}
	require.NoError(t, st.PutDevice(ctx, d))

	got, err := st.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	require.Equal(t, d.IP, got.IP)
	require.Equal(t, d.CommonAddr, got.CommonAddr)

	ids, err := st.ListDeviceIDs(ctx)
	require.NoError(t, err)
	require.Contains(t, ids, "dev-1")
}

func TestGetDeviceMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, err := st.GetDevice(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDeviceRemovesFromSet(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.PutDevice(ctx, model.Device{ID: "dev-1"}))
	require.NoError(t, st.DeleteDevice(ctx, "dev-1"))

	_, err := st.GetDevice(ctx, "dev-1")
	require.ErrorIs(t, err, ErrNotFound)

	ids, err := st.ListDeviceIDs(ctx)
	require.NoError(t, err)
	require.NotContains(t, ids, "dev-1")
}

func TestBindTermItemMaintainsBothIndexes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	ti := model.TermItem{TermID: "term-1", ItemID: "item-1", DeviceID: "dev-1", ProtocolCode: 100, CodeType: "C_SC_NA_1"}
	require.NoError(t, st.BindTermItem(ctx, ti))

	got, err := st.GetTermItem(ctx, "term-1", "item-1")
	require.NoError(t, err)
	require.Equal(t, ti.ProtocolCode, got.ProtocolCode)

	m, err := st.ResolveMapping(ctx, model.IEC104, "dev-1", 100)
	require.NoError(t, err)
	require.Equal(t, "term-1", m.TermID)
	require.Equal(t, "item-1", m.ItemID)
}

func TestUnbindTermItemRemovesBothIndexes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	ti := model.TermItem{TermID: "term-1", ItemID: "item-1", DeviceID: "dev-1", ProtocolCode: 100}
	require.NoError(t, st.BindTermItem(ctx, ti))
	require.NoError(t, st.UnbindTermItem(ctx, ti))

	_, err := st.GetTermItem(ctx, "term-1", "item-1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = st.ResolveMapping(ctx, model.IEC104, "dev-1", 100)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendDataTrimsToCapacity(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for i := 0; i < dataListCap+10; i++ {
		require.NoError(t, st.AppendData(ctx, "dev-1", "term-1", "item-1", i, time.Now()))
	}

	n, err := st.rdb.LLen(ctx, dataListKey("dev-1", "term-1", "item-1")).Result()
	require.NoError(t, err)
	require.EqualValues(t, dataListCap, n)
}

func TestPublishRoutesByEventKind(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	ti := model.TermItem{TermID: "term-1", ItemID: "item-1", DeviceID: "dev-1", ProtocolCode: 100}
	require.NoError(t, st.BindTermItem(ctx, ti))

	err := st.Publish(ctx, session.Event{DeviceID: "dev-1", IOA: 100, Value: 42, Kind: session.EventData, Time: time.Now()})
	require.NoError(t, err)

	n, err := st.rdb.LLen(ctx, dataListKey("dev-1", "term-1", "item-1")).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestPublishDropsUnmappedIOA(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	err := st.Publish(ctx, session.Event{DeviceID: "dev-1", IOA: 999, Value: 1, Kind: session.EventData, Time: time.Now()})
	require.NoError(t, err)
}

func TestPublishFrameArchivesRawAPDU(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	raw := []byte{0x68, 0x04, 0x07, 0x00, 0x00, 0x00}
	require.NoError(t, st.PublishFrame(ctx, "dev-1", raw))

	got, err := st.rdb.LRange(ctx, frameListKey("dev-1"), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, raw, []byte(got[0]))
}

func TestAppendFrameTrimsToCapacity(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for i := 0; i < frameListCap+10; i++ {
		require.NoError(t, st.AppendFrame(ctx, "dev-1", []byte{byte(i)}))
	}

	n, err := st.rdb.LLen(ctx, frameListKey("dev-1")).Result()
	require.NoError(t, err)
	require.EqualValues(t, frameListCap, n)
}
