package liveobjects

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/drpcorg/liveobjects/objects_errors"
	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/utils"
)

// Pool is the authoritative objectId -> object table. Entries are never
// removed; a tombstone is a flag. All mutation happens with lock held
// for writing, every read holds it for reading.
type Pool struct {
	lock    sync.RWMutex
	objects map[op.ObjectID]Object
	root    *LiveMap
	dirty   map[op.ObjectID]struct{}
	log     utils.Logger

	// called with the lock held when an object gets its CREATE merged
	onCreated func(id op.ObjectID)
	writer    writer
}

func newPool(log utils.Logger) *Pool {
	pool := &Pool{
		objects: make(map[op.ObjectID]Object),
		dirty:   make(map[op.ObjectID]struct{}),
		log:     log,
	}
	pool.root = newLiveMap(pool, op.RootID)
	pool.root.created = true
	pool.objects[op.RootID] = pool.root
	return pool
}

func (p *Pool) Root() *LiveMap {
	return p.root
}

func (p *Pool) Get(id op.ObjectID) (Object, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	obj, ok := p.objects[id]
	return obj, ok
}

func (p *Pool) newObject(id op.ObjectID, kind op.ObjectKind) (Object, error) {
	switch kind {
	case op.MapKind:
		return newLiveMap(p, id), nil
	case op.CounterKind:
		return newLiveCounter(p, id), nil
	}
	return nil, errors.Wrapf(objects_errors.ErrKindUnknown, "%q", id)
}

// getOrCreatePlaceholder returns the object, inserting a zero-value,
// uncreated one if the id is new. The kind comes from the id namespace.
func (p *Pool) getOrCreatePlaceholder(id op.ObjectID) (Object, error) {
	if obj, ok := p.objects[id]; ok {
		return obj, nil
	}
	obj, err := p.newObject(id, id.Kind())
	if err != nil {
		return nil, err
	}
	p.objects[id] = obj
	p.markDirty(id)
	return obj, nil
}

func (p *Pool) markDirty(id op.ObjectID) {
	p.dirty[id] = struct{}{}
}

// takeDirty snapshots the objects mutated since the last call.
func (p *Pool) takeDirty() []op.ObjectSnapshot {
	if len(p.dirty) == 0 {
		return nil
	}
	snaps := make([]op.ObjectSnapshot, 0, len(p.dirty))
	for _, id := range utils.SortedKeys(p.dirty) {
		snaps = append(snaps, p.objects[id].snapshot())
	}
	clear(p.dirty)
	return snaps
}

func (p *Pool) created(id op.ObjectID) {
	if p.onCreated != nil {
		p.onCreated(id)
	}
}

// replaceFromSync installs synced snapshots. Known objects are overwritten
// in place, keeping their identity; new ones are allocated. Objects the
// sync did not mention are handled per policy.
func (p *Pool) replaceFromSync(snaps map[op.ObjectID]*op.ObjectSnapshot, policy UnsyncedPolicy) (updates []Update, err error) {
	for _, id := range utils.SortedKeys(snaps) {
		snap := snaps[id]
		if snap.ObjectID == op.RootID && snap.Tombstone {
			return nil, invariant("sync", op.RootID, "root cannot be tombstoned")
		}
		if obj, ok := p.objects[id]; ok && obj.Kind() != snap.Kind {
			return nil, errors.Wrapf(objects_errors.ErrKindMismatch, "%s is a %s", id, obj.Kind())
		}
	}
	for _, id := range utils.SortedKeys(snaps) {
		snap := snaps[id]
		obj, known := p.objects[id]
		if !known {
			obj, err = p.newObject(id, snap.Kind)
			if err != nil {
				return nil, err
			}
			p.objects[id] = obj
		}
		wasCreated := obj.base().created
		u := obj.overwrite(snap)
		if known && !u.Empty() {
			updates = append(updates, u)
		}
		if obj.base().created && !wasCreated {
			p.created(id)
		}
		p.markDirty(id)
	}
	if policy == UnsyncedTombstone {
		for _, id := range utils.SortedKeys(p.objects) {
			if _, synced := snaps[id]; synced {
				continue
			}
			obj := p.objects[id]
			var u Update
			if id == op.RootID {
				u = p.root.overwrite(&op.ObjectSnapshot{ObjectID: op.RootID, Kind: op.MapKind, Created: true})
			} else if !obj.base().tombstone {
				u = obj.tombstoneAll()
			}
			if !u.Empty() {
				updates = append(updates, u)
			}
			p.markDirty(id)
		}
	}
	return updates, nil
}

// restore loads persisted snapshots at startup.
func (p *Pool) restore(snaps []op.ObjectSnapshot) error {
	byID := make(map[op.ObjectID]*op.ObjectSnapshot, len(snaps))
	for i := range snaps {
		byID[snaps[i].ObjectID] = &snaps[i]
	}
	_, err := p.replaceFromSync(byID, UnsyncedKeep)
	clear(p.dirty)
	return err
}
