package liveobjects

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/drpcorg/liveobjects/objects_errors"
	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/store"
	tu "github.com/drpcorg/liveobjects/test_utils"
	"github.com/drpcorg/liveobjects/utils"
	"github.com/drpcorg/liveobjects/wire"
)

func TestRootDeleteRefusesMessage(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	err := objs.HandleOperations([]op.Operation{
		tu.MapSet(op.RootID, "k", op.String("v"), "100-0@a"),
		tu.Delete(op.RootID, "101-0@a"),
	})
	var ie *InvariantError
	assert.True(t, errors.As(err, &ie))
	assert.Equal(t, op.RootID, ie.Object)
	_, ok := objs.Root().Get("k")
	assert.False(t, ok)
	assert.False(t, objs.Root().Tombstoned())
}

func TestValidateOperations(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	err := objs.HandleOperations([]op.Operation{tu.CounterInc("map:m@1", 1, "100-0@a")})
	assert.ErrorIs(t, err, objects_errors.ErrKindMismatch)

	err = objs.HandleOperations([]op.Operation{tu.Delete("widget:w@1", "100-0@a")})
	assert.ErrorIs(t, err, objects_errors.ErrKindUnknown)

	noSite := tu.MapSet(op.RootID, "k", op.Number(1), "100-0@a")
	noSite.Site = ""
	var ie *InvariantError
	assert.True(t, errors.As(objs.HandleOperations([]op.Operation{noSite}), &ie))

	_, ok := objs.Get("map:m@1")
	assert.False(t, ok)
	assert.Equal(t, 0, objs.Root().Size())
}

func TestKindAccessors(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	apply(t, objs, tu.CounterInc("counter:c@1", 1, "100-0@a"))
	_, err := objs.GetMap("counter:c@1")
	assert.ErrorIs(t, err, objects_errors.ErrKindMismatch)
	_, err = objs.GetCounter(op.RootID)
	assert.ErrorIs(t, err, objects_errors.ErrKindMismatch)
	_, err = objs.GetMap("map:nothing@1")
	assert.ErrorIs(t, err, objects_errors.ErrObjectUnknown)
}

func TestGetRootWaitsForSync(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := objs.GetRoot(ctx)
	assert.ErrorIs(t, err, objects_errors.ErrNotSynced)

	// an empty root is available right away
	assert.NotNil(t, objs.Root())
	assert.Equal(t, 0, objs.Root().Size())

	done := make(chan *LiveMap)
	go func() {
		root, err := objs.GetRoot(context.Background())
		assert.Nil(t, err)
		done <- root
	}()
	assert.Nil(t, objs.OnAttached(false))
	select {
	case root := <-done:
		assert.Same(t, objs.Root(), root)
	case <-time.After(time.Second):
		t.Fatal("GetRoot did not return after sync")
	}
}

func TestHandleMessage(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	assert.Nil(t, objs.HandleMessage([]byte(`{"action":"OBJECT_SYNC","channelSerial":"s1:","state":[
		{"objectId":"root","siteTimeserials":{"a":"1700000000000-000@a"},
		 "map":{"entries":{"k":{"timeserial":"1700000000000-000@a","data":{"string":"v"}}}}}]}`)))
	assert.Equal(t, "v", stringAt(objs.Root(), "k"))

	assert.Nil(t, objs.HandleMessage([]byte(`{"action":"OBJECT","serial":"1700000000001-000@b","state":[
		{"action":1,"objectId":"root","mapOp":{"key":"k","data":{"string":"w"}}}]}`)))
	assert.Equal(t, "w", stringAt(objs.Root(), "k"))

	before := testutil.ToFloat64(DecodeErrors.WithLabelValues(wire.ActionObject))
	err := objs.HandleMessage([]byte(`{"action":"OBJECT","serial":"1700000000002-000@b","state":[
		{"action":1,"objectId":"root","mapOp":{"key":"k","data":{"string":"x"}}},
		{"action":42,"objectId":"root"}]}`))
	assert.NotNil(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(DecodeErrors.WithLabelValues(wire.ActionObject)))
	assert.Equal(t, "w", stringAt(objs.Root(), "k"))

	assert.ErrorIs(t, objs.HandleMessage([]byte(`{"action":"PRESENCE"}`)), wire.ErrUnknownMessage)
	assert.NotNil(t, objs.HandleMessage([]byte(`not json`)))
}

func TestPersistence(t *testing.T) {
	st, err := store.Open("objects", store.Options{Options: pebble.Options{FS: vfs.NewMem()}})
	assert.Nil(t, err)
	defer st.Close()

	objs := testObjects(t, Options{Store: st})
	assert.Nil(t, objs.HandleSync("S", "", []op.ObjectSnapshot{
		tu.MapSnapshot(op.RootID, "100-0@a", map[string]op.Value{
			"c":    op.Ref("counter:c@1"),
			"blob": op.Bytes([]byte{1, 2, 3}),
		}),
		tu.CounterSnapshot("counter:c@1", "100-0@a", 7),
	}))
	apply(t, objs,
		tu.CounterInc("counter:c@1", 3, "101-0@b"),
		tu.MapRemove(op.RootID, "blob", "102-0@b"),
		tu.Delete("map:gone@1", "103-0@b"),
	)
	digest := objs.Digest()
	assert.Nil(t, objs.Close())

	warm := testObjects(t, Options{Store: st})
	defer warm.Close()
	assert.Equal(t, digest, warm.Digest())
	c, err := warm.GetCounter("counter:c@1")
	assert.Nil(t, err)
	assert.Equal(t, 10.0, c.Value())
	gone, err := warm.GetMap("map:gone@1")
	assert.Nil(t, err)
	assert.True(t, gone.Tombstoned())

	// restored site vectors keep gating
	apply(t, warm, tu.CounterInc("counter:c@1", 3, "101-0@b"))
	assert.Equal(t, 10.0, c.Value())

	snap, ok, err := st.Get("counter:c@1")
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10.0, snap.Count)
}

func TestDumpAll(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	apply(t, objs,
		tu.MapSet(op.RootID, "n", op.Number(1.5), "100-0@a"),
		tu.CounterInc("counter:c@1", 2, "100-0@a"),
	)
	objs.SetChannelState(ChannelAttached)
	var buf bytes.Buffer
	objs.DumpAll(&buf)
	out := buf.String()
	assert.Contains(t, out, "counter:c@1\tpending\t2")
	assert.Contains(t, out, "root\tlive\t{\"n\":")
	assert.Contains(t, out, "channel attached, sync idle")
	assert.Equal(t, "<unknown>", objs.Dump("map:x@1"))
}

func TestPoolCollector(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	collector := NewPoolCollector(objs.pool)
	// live maps, plus the subscriber gauge
	assert.Equal(t, 2, testutil.CollectAndCount(collector))

	apply(t, objs,
		tu.CounterInc("counter:c@1", 1, "100-0@a"),
		tu.Delete("map:m@1", "100-0@a"),
	)
	sub := objs.Root().Updates()
	defer sub.Cancel()
	assert.Equal(t, 4, testutil.CollectAndCount(collector))
	assert.Equal(t, 3, testutil.CollectAndCount(collector, "liveobjects_pool_objects"))
	assert.Equal(t, 1, objs.Root().subs.count())
}

func TestClose(t *testing.T) {
	objs := testObjects(t, Options{})
	sub := objs.Root().Updates()
	apply(t, objs, tu.MapSet(op.RootID, "k", op.Number(1), "100-0@a"))

	assert.Nil(t, objs.Close())
	assert.ErrorIs(t, objs.Close(), objects_errors.ErrClosed)
	assert.ErrorIs(t, objs.HandleOperations(nil), objects_errors.ErrClosed)
	assert.ErrorIs(t, objs.HandleSync("S", "", nil), objects_errors.ErrClosed)
	_, err := objs.GetRoot(context.Background())
	assert.ErrorIs(t, err, objects_errors.ErrClosed)

	// queued updates drain before the close shows
	u := nextUpdate(t, sub)
	assert.Equal(t, map[string]KeyChange{"k": KeyUpdated}, u.Keys)
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, utils.ErrClosed)
}
