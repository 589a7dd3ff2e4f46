package liveobjects

import (
	"context"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/drpcorg/liveobjects/objects_errors"
	"github.com/drpcorg/liveobjects/op"
	tu "github.com/drpcorg/liveobjects/test_utils"
	"github.com/drpcorg/liveobjects/wire"
)

// loopbackObjects is an engine whose writes come straight back to it.
func loopbackObjects(t *testing.T) (*Objects, *wire.Loopback) {
	loop := wire.NewLoopback("local", nil)
	objs := testObjects(t, Options{
		Publisher: loop,
		Clock:     func() time.Time { return time.UnixMilli(1_700_000_000_123) },
	})
	loop.Deliver = objs.HandleObjectMessage
	return objs, loop
}

func TestCreateObjects(t *testing.T) {
	objs, loop := loopbackObjects(t)
	defer objs.Close()
	ctx := context.Background()

	m, err := objs.CreateMap(ctx, map[string]op.Value{"name": op.String("Alice"), "age": op.Number(30)})
	assert.Nil(t, err)
	assert.True(t, m.Created())
	assert.Regexp(t, regexp.MustCompile(`^map:[A-Za-z0-9_-]{43}@1700000000123$`), string(m.ID()))
	assert.Equal(t, "Alice", stringAt(m, "name"))
	assert.Equal(t, 2, m.Size())

	c, err := objs.CreateCounter(ctx, 5)
	assert.Nil(t, err)
	assert.True(t, c.Created())
	assert.Equal(t, 5.0, c.Value())
	assert.NotEqual(t, m.ID(), c.ID())

	published := loop.Published()
	assert.Len(t, published, 2)
	assert.Equal(t, op.MapCreate, published[0].Action)
	assert.NotEmpty(t, published[0].Nonce)
	assert.Equal(t, `{"counter":5}`, published[1].InitialValue)
	assert.Equal(t, 0, objs.pending.Size())
}

func TestWritesRoundTrip(t *testing.T) {
	objs, _ := loopbackObjects(t)
	defer objs.Close()
	ctx := context.Background()

	c, err := objs.CreateCounter(ctx, 0)
	assert.Nil(t, err)
	root := objs.Root()
	assert.Nil(t, root.Set(ctx, "counter", op.Ref(c.ID())))
	assert.Nil(t, root.Set(ctx, "title", op.String("draft")))
	obj, ok := root.GetObject("counter")
	assert.True(t, ok)
	assert.Same(t, c, obj)

	assert.Nil(t, c.Increment(ctx, 10))
	assert.Nil(t, c.Decrement(ctx, 3))
	assert.Equal(t, 7.0, c.Value())

	assert.Nil(t, root.Remove(ctx, "title"))
	_, ok = root.Get("title")
	assert.False(t, ok)
	assert.Equal(t, []string{"counter"}, root.Keys())
}

func TestWriteValidation(t *testing.T) {
	objs, loop := loopbackObjects(t)
	defer objs.Close()
	ctx := context.Background()

	c, err := objs.CreateCounter(ctx, 1)
	assert.Nil(t, err)

	var ie *InvariantError
	assert.True(t, errors.As(c.Increment(ctx, math.NaN()), &ie))
	assert.True(t, errors.As(c.Increment(ctx, math.Inf(1)), &ie))
	assert.True(t, errors.As(objs.Root().Set(ctx, "k", op.Value{}), &ie))
	assert.True(t, errors.As(objs.Root().Set(ctx, "k", op.Ref("thing")), &ie))
	_, err = objs.CreateCounter(ctx, math.NaN())
	assert.True(t, errors.As(err, &ie))
	_, err = objs.CreateMap(ctx, map[string]op.Value{"n": op.Number(math.Inf(-1))})
	assert.True(t, errors.As(err, &ie))
	assert.Len(t, loop.Published(), 1)

	// deleted objects refuse writes
	apply(t, objs, tu.Delete(c.ID(), "1800000000000-000@remote"))
	assert.True(t, errors.As(c.Increment(ctx, 1), &ie))
	assert.Len(t, loop.Published(), 1)
}

func TestWriteChannelState(t *testing.T) {
	objs, loop := loopbackObjects(t)
	defer objs.Close()
	ctx := context.Background()

	for _, state := range []ChannelState{ChannelDetached, ChannelSuspended, ChannelFailed} {
		objs.SetChannelState(state)
		err := objs.Root().Set(ctx, "k", op.Bool(true))
		assert.ErrorIs(t, err, objects_errors.ErrChannelState, state.String())
		_, err = objs.CreateMap(ctx, nil)
		assert.ErrorIs(t, err, objects_errors.ErrChannelState, state.String())
	}
	assert.Empty(t, loop.Published())

	objs.SetChannelState(ChannelAttached)
	assert.Nil(t, objs.Root().Set(ctx, "k", op.Bool(true)))
	v, ok := objs.Root().Get("k")
	assert.True(t, ok)
	b, _ := v.AsBool()
	assert.True(t, b)
}

func TestWriteWithoutPublisher(t *testing.T) {
	objs := testObjects(t, Options{})
	defer objs.Close()

	err := objs.Root().Set(context.Background(), "k", op.String("v"))
	assert.ErrorIs(t, err, objects_errors.ErrNoPublisher)
	_, err = objs.CreateCounter(context.Background(), 1)
	assert.ErrorIs(t, err, objects_errors.ErrNoPublisher)
}

func TestCreateWaitsForEcho(t *testing.T) {
	objs, loop := loopbackObjects(t)
	defer objs.Close()
	loop.Hold = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := objs.CreateMap(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, objs.pending.Size())
	assert.Len(t, loop.Published(), 1)

	// the held write never took effect
	_, ok := objs.Get(loop.Published()[0].ObjectID)
	assert.False(t, ok)
}

func TestNewObjectID(t *testing.T) {
	a := newObjectID(op.CounterKind, `{"counter":1}`, "n1", 42)
	b := newObjectID(op.CounterKind, `{"counter":1}`, "n2", 42)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, newObjectID(op.CounterKind, `{"counter":1}`, "n1", 42))
	assert.Equal(t, op.CounterKind, a.Kind())
	assert.Regexp(t, `^counter:[A-Za-z0-9_-]+@42$`, string(a))
}
