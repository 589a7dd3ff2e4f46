package liveobjects

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/timeserial"
	"github.com/drpcorg/liveobjects/utils"
)

// LiveMap is a last-writer-wins map; each key keeps the serial of the
// write that set (or removed) it.
type LiveMap struct {
	objectBase
	entries map[string]op.MapEntry
}

func newLiveMap(pool *Pool, id op.ObjectID) *LiveMap {
	return &LiveMap{
		objectBase: newObjectBase(pool, id),
		entries:    make(map[string]op.MapEntry),
	}
}

func (m *LiveMap) Kind() op.ObjectKind { return op.MapKind }

// Get returns the value under key. A reference to a tombstoned (or
// unknown) object reads as absent.
func (m *LiveMap) Get(key string) (op.Value, bool) {
	m.pool.lock.RLock()
	defer m.pool.lock.RUnlock()
	return m.get(key)
}

// GetObject resolves a reference value into the pooled object.
func (m *LiveMap) GetObject(key string) (Object, bool) {
	m.pool.lock.RLock()
	defer m.pool.lock.RUnlock()
	v, ok := m.get(key)
	if !ok {
		return nil, false
	}
	id, ok := v.AsRef()
	if !ok {
		return nil, false
	}
	return m.pool.objects[id], true
}

// Size counts the readable keys. It is linear in the entries of this map:
// each reference costs one pool lookup and is never followed further, so
// reference cycles are safe. A cached count would go stale whenever a
// referenced object is tombstoned elsewhere.
func (m *LiveMap) Size() int {
	m.pool.lock.RLock()
	defer m.pool.lock.RUnlock()
	n := 0
	for key := range m.entries {
		if _, ok := m.get(key); ok {
			n++
		}
	}
	return n
}

// Keys lists the readable keys in order.
func (m *LiveMap) Keys() []string {
	m.pool.lock.RLock()
	defer m.pool.lock.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for _, key := range utils.SortedKeys(m.entries) {
		if _, ok := m.get(key); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Entries copies out the readable key-value pairs.
func (m *LiveMap) Entries() map[string]op.Value {
	m.pool.lock.RLock()
	defer m.pool.lock.RUnlock()
	ret := make(map[string]op.Value, len(m.entries))
	for key := range m.entries {
		if v, ok := m.get(key); ok {
			ret[key] = v
		}
	}
	return ret
}

func (m *LiveMap) get(key string) (v op.Value, ok bool) {
	if m.tombstone {
		return v, false
	}
	entry, ok := m.entries[key]
	if !ok || entry.Removed {
		return v, false
	}
	if id, isRef := entry.Value.AsRef(); isRef {
		target := m.pool.objects[id]
		if target == nil || target.base().tombstone {
			return v, false
		}
	}
	return entry.Value, true
}

// canApply is the entry-level LWW rule.
func (m *LiveMap) canApply(key string, serial timeserial.Timeserial) bool {
	entry, ok := m.entries[key]
	return !ok || serial.After(entry.Serial)
}

func (m *LiveMap) applySet(key string, value op.Value, serial timeserial.Timeserial) (u Update, applied bool) {
	u.ObjectID = m.id
	if !m.canApply(key, serial) {
		return u, false
	}
	m.entries[key] = op.MapEntry{Value: value, Serial: serial}
	u.key(key, KeyUpdated)
	return u, true
}

func (m *LiveMap) applyRemove(key string, serial timeserial.Timeserial) (u Update, applied bool) {
	u.ObjectID = m.id
	if !m.canApply(key, serial) {
		return u, false
	}
	prev, existed := m.entries[key]
	m.entries[key] = op.MapEntry{Serial: serial, Removed: true}
	if existed && !prev.Removed {
		u.key(key, KeyRemoved)
	}
	return u, true
}

// mergeCreate seeds the initial entries through the LWW rule, so writes
// that overtook the CREATE are kept when newer.
func (m *LiveMap) mergeCreate(create *op.Operation) (u Update) {
	u.ObjectID = m.id
	m.created = true
	for _, key := range utils.SortedKeys(create.Entries) {
		entry := create.Entries[key]
		serial := entry.Serial
		if serial.IsZero() {
			serial = create.Serial
		}
		var eu Update
		if entry.Removed {
			eu, _ = m.applyRemove(key, serial)
		} else {
			eu, _ = m.applySet(key, entry.Value, serial)
		}
		for k, change := range eu.Keys {
			u.key(k, change)
		}
	}
	return u
}

func (m *LiveMap) applyCreate(create *op.Operation) (u Update, applied bool) {
	if m.created {
		u.ObjectID = m.id
		return u, false
	}
	return m.mergeCreate(create), true
}

func (m *LiveMap) tombstoneAll() (u Update) {
	u.ObjectID = m.id
	for key, entry := range m.entries {
		if !entry.Removed {
			u.key(key, KeyRemoved)
		}
	}
	m.tombstone = true
	m.entries = make(map[string]op.MapEntry)
	u.Deleted = true
	return u
}

func (m *LiveMap) visible() map[string]op.Value {
	ret := make(map[string]op.Value, len(m.entries))
	if m.tombstone {
		return ret
	}
	for key, entry := range m.entries {
		if !entry.Removed {
			ret[key] = entry.Value
		}
	}
	return ret
}

func keySet(m map[string]op.Value) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(m))
	for key := range m {
		set.Add(key)
	}
	return set
}

// overwrite replaces the state in place with a synced snapshot and
// returns the visible difference.
func (m *LiveMap) overwrite(snap *op.ObjectSnapshot) (u Update) {
	u.ObjectID = m.id
	wasTombstone := m.tombstone
	before := m.visible()

	m.overwriteBase(snap)
	m.entries = make(map[string]op.MapEntry, len(snap.Entries))
	for key, entry := range snap.Entries {
		m.entries[key] = entry
	}
	if snap.CreateOp != nil {
		m.mergeCreate(snap.CreateOp)
	}
	if m.id == op.RootID {
		m.created = true
	}
	if m.tombstone {
		m.entries = make(map[string]op.MapEntry)
	}

	after := m.visible()
	oldKeys, newKeys := keySet(before), keySet(after)
	for _, key := range oldKeys.Difference(newKeys).ToSlice() {
		u.key(key, KeyRemoved)
	}
	for _, key := range newKeys.ToSlice() {
		if !oldKeys.Contains(key) || !before[key].Equal(after[key]) {
			u.key(key, KeyUpdated)
		}
	}
	u.Deleted = m.tombstone && !wasTombstone
	return u
}

func (m *LiveMap) snapshot() op.ObjectSnapshot {
	snap := m.snapshotBase(op.MapKind)
	snap.Entries = make(map[string]op.MapEntry, len(m.entries))
	for key, entry := range m.entries {
		snap.Entries[key] = entry
	}
	return snap
}
