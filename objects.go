package liveobjects

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/drpcorg/liveobjects/objects_errors"
	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/utils"
	"github.com/drpcorg/liveobjects/wire"
)

// ChannelState mirrors the state of the realtime channel as reported by
// the transport.
type ChannelState byte

const (
	ChannelInitialized ChannelState = iota
	ChannelAttaching
	ChannelAttached
	ChannelDetached
	ChannelSuspended
	ChannelFailed
)

var channelStateNames = [...]string{"initialized", "attaching", "attached", "detached", "suspended", "failed"}

func (s ChannelState) String() string {
	if int(s) < len(channelStateNames) {
		return channelStateNames[s]
	}
	return "unknown"
}

func (s ChannelState) writable() bool {
	switch s {
	case ChannelDetached, ChannelSuspended, ChannelFailed:
		return false
	}
	return true
}

// Objects is the sync engine of one channel. Every inbound message passes
// through it in arrival order; it owns the pool.
type Objects struct {
	opts    Options
	log     utils.Logger
	pool    *Pool
	applier *Applier
	syncs   *SyncController
	decoder *wire.Decoder

	state atomic.Uint32

	synced     chan struct{}
	syncedOnce sync.Once
	done       chan struct{}
	closed     atomic.Bool

	// waiters of locally created objects, released when the echoed
	// CREATE is merged
	pending *xsync.MapOf[op.ObjectID, chan struct{}]
}

// Open creates the engine; with a Store configured the persisted objects
// are loaded into the pool before any message is handled.
func Open(opts Options) (*Objects, error) {
	opts.SetDefaults()
	objs := &Objects{
		opts:    opts,
		log:     opts.Logger,
		decoder: wire.NewDecoder(opts.TimeserialCacheSize),
		synced:  make(chan struct{}),
		done:    make(chan struct{}),
		pending: xsync.NewMapOf[op.ObjectID, chan struct{}](),
	}
	objs.pool = newPool(opts.Logger)
	objs.pool.onCreated = objs.created
	objs.pool.writer = objs
	objs.applier = newApplier(objs.pool, opts.Logger)
	objs.syncs = newSyncController(objs.pool, objs.applier, &objs.opts)
	objs.syncs.onComplete = objs.markSynced

	if opts.Store != nil {
		snaps, err := opts.Store.Load()
		if err != nil {
			return nil, errors.Wrap(err, "load snapshots")
		}
		objs.pool.lock.Lock()
		err = objs.pool.restore(snaps)
		objs.pool.lock.Unlock()
		if err != nil {
			return nil, errors.Wrap(err, "restore snapshots")
		}
		objs.log.Info("objects restored", "count", len(snaps))
	}
	return objs, nil
}

func (objs *Objects) Close() error {
	if !objs.closed.CompareAndSwap(false, true) {
		return objects_errors.ErrClosed
	}
	close(objs.done)
	objs.pool.lock.RLock()
	for _, obj := range objs.pool.objects {
		obj.base().subs.closeAll()
	}
	objs.pool.lock.RUnlock()
	return nil
}

func (objs *Objects) markSynced() {
	objs.syncedOnce.Do(func() { close(objs.synced) })
}

func (objs *Objects) created(id op.ObjectID) {
	if ch, ok := objs.pending.LoadAndDelete(id); ok {
		close(ch)
	}
}

// HandleMessage dispatches one raw message in the recorded log format.
func (objs *Objects) HandleMessage(line []byte) error {
	msg, err := wire.ParseEnvelope(line)
	if err != nil {
		DecodeErrors.WithLabelValues("envelope").Inc()
		return err
	}
	switch m := msg.(type) {
	case *wire.SyncMessage:
		return objs.HandleSyncMessage(m)
	case *wire.ObjectMessage:
		return objs.HandleObjectMessage(m)
	}
	return wire.ErrUnknownMessage
}

// HandleSyncMessage decodes an OBJECT_SYNC message as a whole; a decode
// failure leaves the engine untouched.
func (objs *Objects) HandleSyncMessage(msg *wire.SyncMessage) error {
	sequence, cursor, snaps, err := objs.decoder.DecodeSync(msg)
	if err != nil {
		DecodeErrors.WithLabelValues(wire.ActionObjectSync).Inc()
		objs.log.Warn("bad sync message", "channelSerial", msg.ChannelSerial, "err", err)
		return errors.Wrap(err, "decode OBJECT_SYNC")
	}
	return objs.HandleSync(sequence, cursor, snaps)
}

func (objs *Objects) HandleObjectMessage(msg *wire.ObjectMessage) error {
	ops, err := objs.decoder.DecodeOperations(msg)
	if err != nil {
		DecodeErrors.WithLabelValues(wire.ActionObject).Inc()
		objs.log.Warn("bad object message", "channelSerial", msg.ChannelSerial, "err", err)
		return errors.Wrap(err, "decode OBJECT")
	}
	return objs.HandleOperations(ops)
}

// HandleSync feeds decoded sync snapshots to the sync state machine.
func (objs *Objects) HandleSync(sequence, cursor string, snaps []op.ObjectSnapshot) error {
	if objs.closed.Load() {
		return objects_errors.ErrClosed
	}
	objs.pool.lock.Lock()
	defer objs.pool.lock.Unlock()
	if err := objs.syncs.HandleSync(sequence, cursor, snaps); err != nil {
		return err
	}
	objs.persist()
	return nil
}

// HandleOperations validates the operations of one message, then applies
// or buffers them. An invalid operation refuses the whole message.
func (objs *Objects) HandleOperations(ops []op.Operation) error {
	if objs.closed.Load() {
		return objects_errors.ErrClosed
	}
	for i := range ops {
		if err := validate(&ops[i]); err != nil {
			return err
		}
	}
	objs.pool.lock.Lock()
	defer objs.pool.lock.Unlock()
	objs.syncs.HandleOperations(ops)
	objs.persist()
	return nil
}

func validate(o *op.Operation) error {
	if !o.Action.Valid() {
		return invariant("apply", o.ObjectID, "unknown action %d", o.Action)
	}
	kind := o.ObjectID.Kind()
	if kind == op.UnknownKind {
		return errors.Wrapf(objects_errors.ErrKindUnknown, "%q", o.ObjectID)
	}
	if ak := o.Action.Kind(); ak != op.UnknownKind && ak != kind {
		return errors.Wrapf(objects_errors.ErrKindMismatch, "%s on %s", o.Action, o.ObjectID)
	}
	if o.ObjectID == op.RootID && o.Action == op.ObjectDelete {
		return invariant("apply", op.RootID, "root cannot be deleted")
	}
	if o.Action == op.CounterInc || o.Action == op.CounterCreate {
		if math.IsNaN(o.Amount) || math.IsInf(o.Amount, 0) {
			return invariant("apply", o.ObjectID, "counter amount %v", o.Amount)
		}
	}
	if o.Site == "" {
		return invariant("apply", o.ObjectID, "operation without site")
	}
	return nil
}

// OnAttached is called by the transport on every ATTACHED; hasObjects
// tells whether an OBJECT_SYNC follows.
func (objs *Objects) OnAttached(hasObjects bool) error {
	objs.SetChannelState(ChannelAttached)
	objs.pool.lock.Lock()
	defer objs.pool.lock.Unlock()
	if err := objs.syncs.Attached(hasObjects); err != nil {
		return err
	}
	objs.persist()
	return nil
}

func (objs *Objects) SetChannelState(state ChannelState) {
	prev := ChannelState(objs.state.Swap(uint32(state)))
	if prev != state {
		objs.log.Debug("channel state", "from", prev.String(), "to", state.String())
	}
}

func (objs *Objects) ChannelState() ChannelState {
	return ChannelState(objs.state.Load())
}

func (objs *Objects) SyncState() (SyncState, string) {
	objs.pool.lock.RLock()
	defer objs.pool.lock.RUnlock()
	return objs.syncs.State()
}

// Root returns the root map at once; before the first sync it reads empty.
func (objs *Objects) Root() *LiveMap {
	return objs.pool.Root()
}

// GetRoot waits for the first completed sync.
func (objs *Objects) GetRoot(ctx context.Context) (*LiveMap, error) {
	select {
	case <-objs.synced:
		return objs.pool.Root(), nil
	case <-objs.done:
		return nil, objects_errors.ErrClosed
	case <-ctx.Done():
		return nil, errors.Wrap(objects_errors.ErrNotSynced, ctx.Err().Error())
	}
}

func (objs *Objects) Get(id op.ObjectID) (Object, bool) {
	return objs.pool.Get(id)
}

func (objs *Objects) GetMap(id op.ObjectID) (*LiveMap, error) {
	obj, ok := objs.pool.Get(id)
	if !ok {
		return nil, errors.Wrapf(objects_errors.ErrObjectUnknown, "%s", id)
	}
	m, ok := obj.(*LiveMap)
	if !ok {
		return nil, errors.Wrapf(objects_errors.ErrKindMismatch, "%s is a %s", id, obj.Kind())
	}
	return m, nil
}

func (objs *Objects) GetCounter(id op.ObjectID) (*LiveCounter, error) {
	obj, ok := objs.pool.Get(id)
	if !ok {
		return nil, errors.Wrapf(objects_errors.ErrObjectUnknown, "%s", id)
	}
	c, ok := obj.(*LiveCounter)
	if !ok {
		return nil, errors.Wrapf(objects_errors.ErrKindMismatch, "%s is a %s", id, obj.Kind())
	}
	return c, nil
}

// Collectors returns the engine metrics for registration.
func (objs *Objects) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		OperationsApplied,
		OperationsRejected,
		OperationsBuffered,
		SyncSequences,
		SyncDuration,
		DecodeErrors,
		NewPoolCollector(objs.pool),
	}
}

// persist saves what the last message changed. Storage failures do not
// undo the merge; failed objects stay dirty for the next save.
func (objs *Objects) persist() {
	if objs.opts.Store == nil {
		clear(objs.pool.dirty)
		return
	}
	snaps := objs.pool.takeDirty()
	if len(snaps) == 0 {
		return
	}
	if err := objs.opts.Store.Save(snaps); err != nil {
		objs.log.Error("snapshots not saved", "count", len(snaps), "err", err)
		for i := range snaps {
			objs.pool.markDirty(snaps[i].ObjectID)
		}
	}
}
