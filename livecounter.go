package liveobjects

import (
	"github.com/drpcorg/liveobjects/op"
)

// LiveCounter is a float counter; increments commute, so once an
// operation passes the site gate it is simply added.
type LiveCounter struct {
	objectBase
	value float64
}

func newLiveCounter(pool *Pool, id op.ObjectID) *LiveCounter {
	return &LiveCounter{objectBase: newObjectBase(pool, id)}
}

func (c *LiveCounter) Kind() op.ObjectKind { return op.CounterKind }

// Value is zero for placeholders and tombstoned counters.
func (c *LiveCounter) Value() float64 {
	c.pool.lock.RLock()
	defer c.pool.lock.RUnlock()
	return c.value
}

func (c *LiveCounter) applyInc(amount float64) (u Update) {
	c.value += amount
	return Update{ObjectID: c.id, Amount: amount}
}

// mergeCreate adds the initial count: increments that overtook the
// CREATE are already in value.
func (c *LiveCounter) mergeCreate(create *op.Operation) (u Update) {
	c.created = true
	return c.applyInc(create.Amount)
}

func (c *LiveCounter) applyCreate(create *op.Operation) (u Update, applied bool) {
	if c.created {
		return Update{ObjectID: c.id}, false
	}
	return c.mergeCreate(create), true
}

func (c *LiveCounter) tombstoneAll() Update {
	u := Update{ObjectID: c.id, Amount: -c.value, Deleted: true}
	c.tombstone = true
	c.value = 0
	return u
}

func (c *LiveCounter) overwrite(snap *op.ObjectSnapshot) Update {
	wasTombstone := c.tombstone
	before := c.value
	c.overwriteBase(snap)
	c.value = snap.Count
	if snap.CreateOp != nil {
		c.mergeCreate(snap.CreateOp)
	}
	if c.tombstone {
		c.value = 0
	}
	return Update{
		ObjectID: c.id,
		Amount:   c.value - before,
		Deleted:  c.tombstone && !wasTombstone,
	}
}

func (c *LiveCounter) snapshot() op.ObjectSnapshot {
	snap := c.snapshotBase(op.CounterKind)
	snap.Count = c.value
	return snap
}
