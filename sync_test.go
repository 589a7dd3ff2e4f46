package liveobjects

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/drpcorg/liveobjects/op"
	tu "github.com/drpcorg/liveobjects/test_utils"
	"github.com/drpcorg/liveobjects/wire"
)

func emptyRoot(serial string) op.ObjectSnapshot {
	return tu.MapSnapshot(op.RootID, serial, nil)
}

func TestSyncBuffersOperations(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	sub := objs.Root().Updates()
	defer sub.Cancel()

	assert.Nil(t, objs.HandleSync("S", "c1", []op.ObjectSnapshot{
		tu.MapSnapshot(op.RootID, "100-0@a", map[string]op.Value{"synced": op.Bool(true)}),
	}))
	state, seq := objs.SyncState()
	assert.Equal(t, SyncSyncing, state)
	assert.Equal(t, "S", seq)

	apply(t, objs,
		tu.MapSet(op.RootID, "k", op.String("first"), "200-0@b"),
		tu.MapSet(op.RootID, "k", op.String("second"), "201-0@b"),
	)
	assert.Equal(t, 2, objs.syncs.Buffered())
	_, ok := objs.Root().Get("k")
	assert.False(t, ok)
	_, ok = objs.Root().Get("synced")
	assert.False(t, ok)

	assert.Nil(t, objs.HandleSync("S", "", nil))
	state, _ = objs.SyncState()
	assert.Equal(t, SyncIdle, state)
	assert.Equal(t, "second", stringAt(objs.Root(), "k"))
	_, ok = objs.Root().Get("synced")
	assert.True(t, ok)

	// sync diff first, then the replayed operations in order
	u := nextUpdate(t, sub)
	assert.Equal(t, map[string]KeyChange{"synced": KeyUpdated}, u.Keys)
	u = nextUpdate(t, sub)
	assert.Equal(t, map[string]KeyChange{"k": KeyUpdated}, u.Keys)
	u = nextUpdate(t, sub)
	assert.Equal(t, map[string]KeyChange{"k": KeyUpdated}, u.Keys)
}

func TestSyncSupersededDiscardsBuffer(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	assert.Nil(t, objs.HandleSync("X", "c1", []op.ObjectSnapshot{
		tu.MapSnapshot(op.RootID, "100-0@a", map[string]op.Value{"fromX": op.Bool(true)}),
	}))
	apply(t, objs, tu.MapSet(op.RootID, "foo", op.String("bar"), "200-0@b"))

	assert.Nil(t, objs.HandleSync("Y", "c1", nil))
	assert.Equal(t, 0, objs.syncs.Buffered())
	assert.Nil(t, objs.HandleSync("Y", "", []op.ObjectSnapshot{emptyRoot("150-0@a")}))

	_, ok := objs.Root().Get("foo")
	assert.False(t, ok)
	_, ok = objs.Root().Get("fromX")
	assert.False(t, ok)
}

func TestSyncKeepsIdentity(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	apply(t, objs,
		tu.MapSet("map:m@1", "old", op.String("x"), "100-0@a"),
		tu.CounterInc("counter:c@1", 1, "100-0@a"),
	)
	m, _ := objs.GetMap("map:m@1")
	c, _ := objs.GetCounter("counter:c@1")
	csub := c.Updates()
	defer csub.Cancel()

	assert.Nil(t, objs.HandleSync("S", "", []op.ObjectSnapshot{
		tu.MapSnapshot(op.RootID, "300-0@a", map[string]op.Value{"m": op.Ref("map:m@1")}),
		tu.MapSnapshot("map:m@1", "300-0@a", map[string]op.Value{"new": op.String("y")}),
		tu.CounterSnapshot("counter:c@1", "300-0@a", 42),
	}))

	m2, _ := objs.GetMap("map:m@1")
	c2, _ := objs.GetCounter("counter:c@1")
	assert.Same(t, m, m2)
	assert.Same(t, c, c2)
	obj, ok := objs.Root().GetObject("m")
	assert.True(t, ok)
	assert.Same(t, m, obj)

	assert.Equal(t, []string{"new"}, m.Keys())
	assert.Equal(t, 42.0, c.Value())
	u := nextUpdate(t, csub)
	assert.Equal(t, 41.0, u.Amount)

	// the synced site vector gates later operations
	apply(t, objs, tu.CounterInc("counter:c@1", 1, "200-0@a"))
	assert.Equal(t, 42.0, c.Value())
}

func TestSyncMergesCreateOp(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	create := tu.CounterCreate("counter:c@1", 10, "100-0@a")
	snap := tu.CounterSnapshot("counter:c@1", "120-0@b", 5)
	snap.Created = false
	snap.CreateOp = &create

	mcreate := tu.MapCreate("map:m@1", "100-0@a", map[string]op.Value{"a": op.Number(1), "b": op.Number(2)})
	msnap := tu.MapSnapshot("map:m@1", "150-0@b", map[string]op.Value{"b": op.Number(20)})
	msnap.Created = false
	msnap.CreateOp = &mcreate

	assert.Nil(t, objs.HandleSync("S", "", []op.ObjectSnapshot{snap, msnap}))
	c, _ := objs.GetCounter("counter:c@1")
	assert.True(t, c.Created())
	assert.Equal(t, 15.0, c.Value())

	m, _ := objs.GetMap("map:m@1")
	assert.True(t, m.Created())
	a, _ := m.Get("a")
	b, _ := m.Get("b")
	an, _ := a.AsNumber()
	bn, _ := b.AsNumber()
	assert.Equal(t, 1.0, an)
	assert.Equal(t, 20.0, bn)
}

func TestSyncFragmentsMerge(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	assert.Nil(t, objs.HandleSync("F", "1", []op.ObjectSnapshot{
		tu.MapSnapshot(op.RootID, "100-0@a", map[string]op.Value{"a": op.Number(1)}),
	}))
	assert.Nil(t, objs.HandleSync("F", "", []op.ObjectSnapshot{
		tu.MapSnapshot(op.RootID, "100-0@b", map[string]op.Value{"b": op.Number(2)}),
	}))
	assert.Equal(t, []string{"a", "b"}, objs.Root().Keys())
	sv := objs.Root().SiteVector()
	assert.Equal(t, []string{"a", "b"}, sv.Sites())
}

func TestSyncFragmentsLeaveInputAlone(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	first := []op.ObjectSnapshot{
		tu.MapSnapshot(op.RootID, "100-0@a", map[string]op.Value{"a": op.Number(1)}),
	}
	second := []op.ObjectSnapshot{
		tu.MapSnapshot(op.RootID, "200-0@b", map[string]op.Value{"b": op.Number(2)}),
	}
	assert.Nil(t, objs.HandleSync("F", "1", first))
	assert.Nil(t, objs.HandleSync("F", "2", second))

	assert.Len(t, first[0].Entries, 1)
	assert.Equal(t, []string{"a"}, first[0].SiteVector.Sites())
	assert.Len(t, second[0].Entries, 1)

	assert.Nil(t, objs.HandleSync("F", "", nil))
	assert.Equal(t, []string{"a", "b"}, objs.Root().Keys())
	assert.Len(t, first[0].Entries, 1)
}

func TestSyncRootTombstoneIsInvariant(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	err := objs.HandleSync("S", "", []op.ObjectSnapshot{tu.Tombstoned(emptyRoot("100-0@a"))})
	var ie *InvariantError
	assert.True(t, errors.As(err, &ie))
	assert.Equal(t, op.RootID, ie.Object)
	state, _ := objs.SyncState()
	assert.Equal(t, SyncIdle, state)
	assert.False(t, objs.Root().Tombstoned())
}

func TestSyncUnsyncedPolicy(t *testing.T) {
	for _, policy := range []UnsyncedPolicy{UnsyncedKeep, UnsyncedTombstone} {
		objs := testObjects(t, Options{UnsyncedPolicy: policy})
		apply(t, objs,
			tu.CounterCreate("counter:c@1", 3, "100-0@a"),
			tu.MapSet(op.RootID, "k", op.String("v"), "100-0@a"),
		)
		assert.Nil(t, objs.HandleSync("S", "", []op.ObjectSnapshot{
			tu.MapSnapshot("map:other@1", "200-0@a", nil),
		}))
		c, _ := objs.GetCounter("counter:c@1")
		switch policy {
		case UnsyncedKeep:
			assert.False(t, c.Tombstoned(), policy.String())
			assert.Equal(t, 3.0, c.Value())
			assert.Equal(t, "v", stringAt(objs.Root(), "k"))
		case UnsyncedTombstone:
			assert.True(t, c.Tombstoned(), policy.String())
			assert.False(t, objs.Root().Tombstoned())
			assert.Equal(t, 0, objs.Root().Size())
		}
		_ = objs.Close()
	}
}

func TestAttachedWithObjects(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	assert.Nil(t, objs.OnAttached(true))
	assert.Equal(t, ChannelAttached, objs.ChannelState())
	state, seq := objs.SyncState()
	assert.Equal(t, SyncSyncing, state)
	assert.Equal(t, "", seq)

	apply(t, objs, tu.MapSet(op.RootID, "early", op.Number(1), "500-0@b"))
	_, ok := objs.Root().Get("early")
	assert.False(t, ok)

	// the first sync message names the sequence and keeps the buffer
	msg := &wire.SyncMessage{ChannelSerial: "seq9:", State: []wire.ObjectState{
		wire.EncodeSnapshot(tu.MapSnapshot(op.RootID, "400-0@a", map[string]op.Value{"s": op.String("x")})),
	}}
	assert.Nil(t, objs.HandleSyncMessage(msg))
	assert.Equal(t, []string{"early", "s"}, objs.Root().Keys())
}

func TestAttachedWithoutObjects(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	apply(t, objs, tu.MapSet(op.RootID, "k", op.String("v"), "100-0@a"))
	root := objs.Root()
	assert.Nil(t, objs.OnAttached(false))

	state, _ := objs.SyncState()
	assert.Equal(t, SyncIdle, state)
	assert.Same(t, root, objs.Root())
	assert.Equal(t, 0, root.Size())
	assert.True(t, root.Created())
}

func TestSingleMessageSync(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	msg := &wire.SyncMessage{State: []wire.ObjectState{
		wire.EncodeSnapshot(tu.MapSnapshot(op.RootID, "100-0@a", map[string]op.Value{"k": op.String("v")})),
	}}
	assert.Nil(t, objs.HandleSyncMessage(msg))
	state, _ := objs.SyncState()
	assert.Equal(t, SyncIdle, state)
	assert.Equal(t, "v", stringAt(objs.Root(), "k"))
}
