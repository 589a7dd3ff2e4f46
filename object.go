package liveobjects

import (
	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/timeserial"
)

// Object is a LiveMap or a LiveCounter. Instances are owned by the pool
// and stay the same for the lifetime of the id, sync included.
type Object interface {
	ID() op.ObjectID
	Kind() op.ObjectKind
	Tombstoned() bool
	Created() bool
	SiteVector() timeserial.SiteVector
	Updates() *Subscription

	base() *objectBase
	snapshot() op.ObjectSnapshot
	overwrite(snap *op.ObjectSnapshot) Update
	tombstoneAll() Update
}

// objectBase is the state both kinds share. Fields are guarded by the
// pool lock.
type objectBase struct {
	id         op.ObjectID
	pool       *Pool
	tombstone  bool
	created    bool
	siteVector timeserial.SiteVector
	subs       *subscribers
}

func newObjectBase(pool *Pool, id op.ObjectID) objectBase {
	return objectBase{
		id:         id,
		pool:       pool,
		siteVector: make(timeserial.SiteVector),
		subs:       newSubscribers(),
	}
}

func (o *objectBase) base() *objectBase { return o }

func (o *objectBase) ID() op.ObjectID { return o.id }

func (o *objectBase) Tombstoned() bool {
	o.pool.lock.RLock()
	defer o.pool.lock.RUnlock()
	return o.tombstone
}

// Created reports whether the CREATE operation of the object was merged.
func (o *objectBase) Created() bool {
	o.pool.lock.RLock()
	defer o.pool.lock.RUnlock()
	return o.created
}

func (o *objectBase) SiteVector() timeserial.SiteVector {
	o.pool.lock.RLock()
	defer o.pool.lock.RUnlock()
	return o.siteVector.Clone()
}

// Updates returns a fresh subscription; cancel it when done.
func (o *objectBase) Updates() *Subscription {
	return o.subs.subscribe()
}

// admit runs the tombstone guard and the site-level gate; an admitted
// serial is recorded before any entry-level decision.
func (o *objectBase) admit(site string, serial timeserial.Timeserial) Verdict {
	if o.tombstone {
		return RejectedTombstone
	}
	if !o.siteVector.Put(site, serial) {
		return RejectedStale
	}
	return Applied
}

func (o *objectBase) overwriteBase(snap *op.ObjectSnapshot) {
	o.tombstone = snap.Tombstone
	o.created = snap.Created
	o.siteVector = snap.SiteVector.Clone()
	if o.siteVector == nil {
		o.siteVector = make(timeserial.SiteVector)
	}
}

func (o *objectBase) snapshotBase(kind op.ObjectKind) op.ObjectSnapshot {
	return op.ObjectSnapshot{
		ObjectID:   o.id,
		Kind:       kind,
		Tombstone:  o.tombstone,
		Created:    o.created,
		SiteVector: o.siteVector.Clone(),
	}
}
