package liveobjects

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/utils"
)

type KeyChange byte

const (
	KeyUpdated KeyChange = 'U'
	KeyRemoved KeyChange = 'R'
)

func (c KeyChange) String() string {
	if c == KeyRemoved {
		return "removed"
	}
	return "updated"
}

// Update describes one accepted mutation of an object: changed map keys,
// or the counter delta. Deleted is set when the object got tombstoned.
type Update struct {
	ObjectID op.ObjectID
	Keys     map[string]KeyChange
	Amount   float64
	Deleted  bool
}

func (u *Update) Empty() bool {
	return len(u.Keys) == 0 && u.Amount == 0 && !u.Deleted
}

func (u *Update) key(key string, change KeyChange) {
	if u.Keys == nil {
		u.Keys = make(map[string]KeyChange)
	}
	u.Keys[key] = change
}

// Subscription receives the updates of one object, in apply order,
// starting from the moment it was created.
type Subscription struct {
	id     uint64
	owner  *subscribers
	queue  *utils.Queue[Update]
	cancel sync.Once
}

// Next waits for the next update. It returns utils.ErrClosed once the
// subscription is cancelled and drained.
func (s *Subscription) Next(ctx context.Context) (Update, error) {
	return s.queue.Pop(ctx)
}

// Pending is the number of queued, not yet consumed updates.
func (s *Subscription) Pending() int {
	return s.queue.Len()
}

func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.owner.subs.Delete(s.id)
		_ = s.queue.Close()
	})
}

type subscribers struct {
	seq  atomic.Uint64
	subs *xsync.MapOf[uint64, *Subscription]
}

func newSubscribers() *subscribers {
	return &subscribers{subs: xsync.NewMapOf[uint64, *Subscription]()}
}

func (ss *subscribers) subscribe() *Subscription {
	sub := &Subscription{
		id:    ss.seq.Add(1),
		owner: ss,
		queue: utils.NewQueue[Update](),
	}
	ss.subs.Store(sub.id, sub)
	return sub
}

// publish never blocks: each subscriber has its own unbounded queue.
func (ss *subscribers) publish(u Update) {
	ss.subs.Range(func(_ uint64, sub *Subscription) bool {
		_ = sub.queue.Push(u)
		return true
	})
}

func (ss *subscribers) closeAll() {
	ss.subs.Range(func(_ uint64, sub *Subscription) bool {
		sub.Cancel()
		return true
	})
}

func (ss *subscribers) count() int {
	return ss.subs.Size()
}
