package liveobjects

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/drpcorg/liveobjects/objects_errors"
	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/wire"
)

// writer is the outbound side of the engine. Local writes are never
// merged directly: they take effect once the service echoes them back.
type writer interface {
	publish(ctx context.Context, ops ...op.Operation) error
}

func (objs *Objects) writable() error {
	if objs.closed.Load() {
		return objects_errors.ErrClosed
	}
	if state := objs.ChannelState(); !state.writable() {
		return errors.Wrapf(objects_errors.ErrChannelState, "channel is %s", state)
	}
	if objs.opts.Publisher == nil {
		return objects_errors.ErrNoPublisher
	}
	return nil
}

func (objs *Objects) publish(ctx context.Context, ops ...op.Operation) error {
	if err := objs.writable(); err != nil {
		return err
	}
	return objs.opts.Publisher.Publish(ctx, ops)
}

func (p *Pool) publish(ctx context.Context, o op.Operation) error {
	if p.writer == nil {
		return objects_errors.ErrNoPublisher
	}
	return p.writer.publish(ctx, o)
}

func checkValue(opname string, id op.ObjectID, key string, value op.Value) error {
	if value.IsZero() {
		return invariant(opname, id, "no value for key %q", key)
	}
	if n, ok := value.AsNumber(); ok && (math.IsNaN(n) || math.IsInf(n, 0)) {
		return invariant(opname, id, "key %q: number %v", key, n)
	}
	if ref, ok := value.AsRef(); ok && ref.Kind() == op.UnknownKind {
		return invariant(opname, id, "key %q: bad reference %q", key, ref)
	}
	return nil
}

func (o *objectBase) writableObject(opname string) error {
	o.pool.lock.RLock()
	defer o.pool.lock.RUnlock()
	if o.tombstone {
		return invariant(opname, o.id, "object is deleted")
	}
	return nil
}

// Set publishes a MAP_SET; the value shows up once the echo is applied.
func (m *LiveMap) Set(ctx context.Context, key string, value op.Value) error {
	if err := checkValue("set", m.id, key, value); err != nil {
		return err
	}
	if err := m.writableObject("set"); err != nil {
		return err
	}
	return m.pool.publish(ctx, op.Operation{
		Action:   op.MapSet,
		ObjectID: m.id,
		Key:      key,
		Value:    value,
	})
}

func (m *LiveMap) Remove(ctx context.Context, key string) error {
	if err := m.writableObject("remove"); err != nil {
		return err
	}
	return m.pool.publish(ctx, op.Operation{
		Action:   op.MapRemove,
		ObjectID: m.id,
		Key:      key,
	})
}

func (c *LiveCounter) Increment(ctx context.Context, amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return invariant("increment", c.id, "amount %v", amount)
	}
	if err := c.writableObject("increment"); err != nil {
		return err
	}
	return c.pool.publish(ctx, op.Operation{
		Action:   op.CounterInc,
		ObjectID: c.id,
		Amount:   amount,
	})
}

func (c *LiveCounter) Decrement(ctx context.Context, amount float64) error {
	return c.Increment(ctx, -amount)
}

// newObjectID derives "<kind>:<hash>@<millis>" from the create payload and
// a random nonce.
func newObjectID(kind op.ObjectKind, initialValue, nonce string, millis int64) op.ObjectID {
	sum := sha256.Sum256([]byte(initialValue + ":" + nonce))
	hash := base64.RawURLEncoding.EncodeToString(sum[:])
	return op.ObjectID(kind.String() + ":" + hash + "@" + strconv.FormatInt(millis, 10))
}

// CreateMap publishes a MAP_CREATE and waits for the service to echo it.
func (objs *Objects) CreateMap(ctx context.Context, entries map[string]op.Value) (*LiveMap, error) {
	create := op.Operation{
		Action:  op.MapCreate,
		Entries: make(map[string]op.MapEntry, len(entries)),
	}
	for key, value := range entries {
		if err := checkValue("create map", "", key, value); err != nil {
			return nil, err
		}
		create.Entries[key] = op.MapEntry{Value: value}
	}
	obj, err := objs.create(ctx, op.MapKind, create)
	if err != nil {
		return nil, err
	}
	return obj.(*LiveMap), nil
}

func (objs *Objects) CreateCounter(ctx context.Context, count float64) (*LiveCounter, error) {
	if math.IsNaN(count) || math.IsInf(count, 0) {
		return nil, invariant("create counter", "", "count %v", count)
	}
	obj, err := objs.create(ctx, op.CounterKind, op.Operation{
		Action: op.CounterCreate,
		Amount: count,
	})
	if err != nil {
		return nil, err
	}
	return obj.(*LiveCounter), nil
}

func (objs *Objects) create(ctx context.Context, kind op.ObjectKind, create op.Operation) (Object, error) {
	if err := objs.writable(); err != nil {
		return nil, err
	}
	initial, err := wire.InitialValue(create)
	if err != nil {
		return nil, err
	}
	create.Nonce = uuid.NewString()
	create.InitialValue = initial
	create.ObjectID = newObjectID(kind, initial, create.Nonce, objs.opts.Clock().UnixMilli())

	wait := make(chan struct{})
	objs.pending.Store(create.ObjectID, wait)
	defer objs.pending.Delete(create.ObjectID)

	if err = objs.publish(ctx, create); err != nil {
		return nil, err
	}
	select {
	case <-wait:
	case <-objs.done:
		return nil, objects_errors.ErrClosed
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for %s", create.ObjectID)
	}
	obj, ok := objs.pool.Get(create.ObjectID)
	if !ok {
		return nil, errors.Wrapf(objects_errors.ErrObjectUnknown, "%s", create.ObjectID)
	}
	objs.log.Debug("object created", "object", create.ObjectID)
	return obj, nil
}
