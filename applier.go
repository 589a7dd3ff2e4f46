package liveobjects

import (
	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/utils"
)

// Verdict is the outcome of applying one operation. Rejections are the
// normal behaviour of the protocol, not errors.
type Verdict byte

const (
	Applied Verdict = iota
	RejectedTombstone
	RejectedStale
	RejectedEntry
	RejectedCreated
)

var verdictNames = [...]string{"applied", "tombstone", "stale", "entry", "created"}

func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return "unknown"
}

// Applier decides and merges single operations against the pool. The
// caller holds the pool lock for writing.
type Applier struct {
	pool *Pool
	log  utils.Logger
}

func newApplier(pool *Pool, log utils.Logger) *Applier {
	return &Applier{pool: pool, log: log}
}

// Apply runs the tombstone guard, the site gate and the kind specific
// merge, then publishes the change to the object's subscribers.
func (a *Applier) Apply(o *op.Operation) (Verdict, error) {
	target, err := a.pool.getOrCreatePlaceholder(o.ObjectID)
	if err != nil {
		return RejectedEntry, err
	}
	base := target.base()
	verdict := base.admit(o.Site, o.Serial)
	if verdict != Applied {
		a.reject(o, verdict)
		return verdict, nil
	}
	a.pool.markDirty(o.ObjectID)

	var u Update
	applied := true
	switch o.Action {
	case op.MapCreate:
		m := target.(*LiveMap)
		u, applied = m.applyCreate(o)
		if applied {
			a.placeholders(o.Entries)
			a.pool.created(o.ObjectID)
		} else {
			verdict = RejectedCreated
		}
	case op.MapSet:
		m := target.(*LiveMap)
		u, applied = m.applySet(o.Key, o.Value, o.Serial)
		if applied {
			a.placeholder(o.Value)
		}
	case op.MapRemove:
		u, applied = target.(*LiveMap).applyRemove(o.Key, o.Serial)
	case op.CounterCreate:
		u, applied = target.(*LiveCounter).applyCreate(o)
		if applied {
			a.pool.created(o.ObjectID)
		} else {
			verdict = RejectedCreated
		}
	case op.CounterInc:
		u = target.(*LiveCounter).applyInc(o.Amount)
	case op.ObjectDelete:
		u = target.tombstoneAll()
	}
	if !applied {
		if verdict == Applied {
			verdict = RejectedEntry
		}
		a.reject(o, verdict)
		return verdict, nil
	}
	OperationsApplied.WithLabelValues(o.Action.String()).Inc()
	if !u.Empty() {
		base.subs.publish(u)
	}
	return Applied, nil
}

func (a *Applier) reject(o *op.Operation, verdict Verdict) {
	OperationsRejected.WithLabelValues(o.Action.String(), verdict.String()).Inc()
	a.log.Debug("operation rejected",
		"action", o.Action.String(),
		"object", o.ObjectID,
		"serial", o.Serial.String(),
		"reason", verdict.String())
}

// placeholder makes a referenced object exist so reads can resolve it.
func (a *Applier) placeholder(v op.Value) {
	id, ok := v.AsRef()
	if !ok {
		return
	}
	if _, err := a.pool.getOrCreatePlaceholder(id); err != nil {
		a.log.Warn("bad object reference", "object", id, "err", err)
	}
}

func (a *Applier) placeholders(entries map[string]op.MapEntry) {
	for _, key := range utils.SortedKeys(entries) {
		if entry := entries[key]; !entry.Removed {
			a.placeholder(entry.Value)
		}
	}
}
