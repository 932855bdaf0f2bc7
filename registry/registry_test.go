package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fieldstream/iec104-gateway/model"
	"github.com/fieldstream/iec104-gateway/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	st := store.New(rdb, nil)
	return New(st, nil), st
}

func TestSpawnRegistersSessionAndStopRemovesIt(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := model.Device{ID: "dev-1", IP: "127.0.0.1", Port: 2404, CommonAddr: 1}
	reg.spawn(ctx, d)

	rs, ok := reg.lookup("dev-1")
	require.True(t, ok)
	require.Equal(t, "dev-1", rs.sess.DeviceID())

	reg.stop("dev-1")
	_, ok = reg.lookup("dev-1")
	require.False(t, ok)
}

func TestOnDeviceUpsertSkipsRestartWithoutConfigChange(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := model.Device{ID: "dev-1", IP: "127.0.0.1", Port: 2404, CommonAddr: 1}
	require.NoError(t, st.PutDevice(ctx, d))
	reg.onDeviceUpsert(ctx, "dev-1")

	before, ok := reg.lookup("dev-1")
	require.True(t, ok)

	reg.onDeviceUpsert(ctx, "dev-1")
	after, ok := reg.lookup("dev-1")
	require.True(t, ok)
	require.Same(t, before.sess, after.sess)
}

func TestOnDeviceUpsertRestartsOnConfigChange(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := model.Device{ID: "dev-1", IP: "127.0.0.1", Port: 2404, CommonAddr: 1}
	require.NoError(t, st.PutDevice(ctx, d))
	reg.onDeviceUpsert(ctx, "dev-1")
	before, _ := reg.lookup("dev-1")

	d.Port = 2405
	require.NoError(t, st.RefreshDevice(ctx, d))
	reg.onDeviceUpsert(ctx, "dev-1")

	after, ok := reg.lookup("dev-1")
	require.True(t, ok)
	require.NotSame(t, before.sess, after.sess)
}

func TestOnDeviceCallMalformedPayloadIsIgnored(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.onDeviceCall(context.Background(), "not-enough-parts")
	// no panic, nothing to assert beyond survival
}

func TestOnDeviceCallUnknownDeviceIsIgnored(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.onDeviceCall(context.Background(), "dev-1:term-1:item-1")
}

func TestOnDeviceCtrlUnsupportedCodeTypeIsIgnored(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := model.Device{ID: "dev-1", IP: "127.0.0.1", Port: 2404, CommonAddr: 1}
	reg.spawn(ctx, d)

	require.NoError(t, st.BindTermItem(ctx, model.TermItem{
		TermID: "term-1", ItemID: "item-1", DeviceID: "dev-1", ProtocolCode: 1, CodeType: "M_SP_NA_1",
	}))

	reg.onDeviceCtrl(ctx, "dev-1:term-1:item-1:1")
}

func TestOnDeviceCtrlStepAndBitstringCodeTypesResolve(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := model.Device{ID: "dev-1", IP: "127.0.0.1", Port: 2404, CommonAddr: 1}
	reg.spawn(ctx, d)

	require.NoError(t, st.BindTermItem(ctx, model.TermItem{
		TermID: "term-step", ItemID: "item-step", DeviceID: "dev-1", ProtocolCode: 1, CodeType: "C_RC_NA_1",
	}))
	require.NoError(t, st.BindTermItem(ctx, model.TermItem{
		TermID: "term-bits", ItemID: "item-bits", DeviceID: "dev-1", ProtocolCode: 2, CodeType: "C_BO_NA_1",
	}))

	// These reach the owning session's Send path; absent a live connection
	// Send rejects the command with ErrNotStarted (logged), so there is nothing
	// further to assert beyond code_type resolving to a known TypeID
	// without hitting the "unsupported code_type" branch.
	reg.onDeviceCtrl(ctx, "dev-1:term-step:item-step:2")
	reg.onDeviceCtrl(ctx, "dev-1:term-bits:item-bits:4096")
}

func TestShutdownAllStopsEverySession(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.spawn(ctx, model.Device{ID: "dev-1", Port: 2404})
	reg.spawn(ctx, model.Device{ID: "dev-2", Port: 2405})

	reg.shutdownAll()

	_, ok1 := reg.lookup("dev-1")
	_, ok2 := reg.lookup("dev-2")
	require.False(t, ok1)
	require.False(t, ok2)
}

func TestRunLoadsExistingDevicesAtStartup(t *testing.T) {
	reg, st := newTestRegistry(t)
	require.NoError(t, st.PutDevice(context.Background(), model.Device{ID: "dev-1", Port: 2404}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := reg.lookup("dev-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
