package liveobjects

import (
	"maps"
	"time"

	"github.com/pkg/errors"

	"github.com/drpcorg/liveobjects/objects_errors"
	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/utils"
)

type SyncState byte

const (
	SyncIdle SyncState = iota
	SyncSyncing
)

func (s SyncState) String() string {
	if s == SyncSyncing {
		return "syncing"
	}
	return "idle"
}

type syncSession struct {
	sequence string
	objects  map[op.ObjectID]*op.ObjectSnapshot
	buffer   []op.Operation
	started  time.Time
}

// SyncController runs the sync state machine: snapshots accumulate per
// sequence, operations wait in a buffer until the sequence ends. The caller
// holds the pool lock for writing.
type SyncController struct {
	pool    *Pool
	applier *Applier
	log     utils.Logger
	policy  UnsyncedPolicy
	clock   func() time.Time
	session *syncSession

	onComplete func()
}

func newSyncController(pool *Pool, applier *Applier, opts *Options) *SyncController {
	return &SyncController{
		pool:    pool,
		applier: applier,
		log:     opts.Logger,
		policy:  opts.UnsyncedPolicy,
		clock:   opts.Clock,
	}
}

// State reports the controller state and, while syncing, the sequence.
func (sc *SyncController) State() (SyncState, string) {
	if sc.session == nil {
		return SyncIdle, ""
	}
	return SyncSyncing, sc.session.sequence
}

// Buffered is the number of operations waiting for the sync to end.
func (sc *SyncController) Buffered() int {
	if sc.session == nil {
		return 0
	}
	return len(sc.session.buffer)
}

func (sc *SyncController) start(sequence string) {
	if sc.session != nil {
		SyncSequences.WithLabelValues("superseded").Inc()
		sc.log.Debug("sync superseded",
			"sequence", sc.session.sequence,
			"next", sequence,
			"dropped", len(sc.session.buffer))
	}
	sc.session = &syncSession{
		sequence: sequence,
		objects:  make(map[op.ObjectID]*op.ObjectSnapshot),
		started:  sc.clock(),
	}
	sc.log.Debug("sync started", "sequence", sequence)
}

// HandleSync feeds one OBJECT_SYNC message. An empty cursor ends the
// sequence; a different sequence discards the one in flight.
func (sc *SyncController) HandleSync(sequence, cursor string, snaps []op.ObjectSnapshot) error {
	for i := range snaps {
		if snaps[i].ObjectID == op.RootID && snaps[i].Tombstone {
			return invariant("sync", op.RootID, "root cannot be tombstoned")
		}
		if snaps[i].Kind != snaps[i].ObjectID.Kind() {
			return errors.Wrapf(objects_errors.ErrKindMismatch, "snapshot of %s", snaps[i].ObjectID)
		}
	}
	switch {
	case sc.session == nil:
		sc.start(sequence)
	case sc.session.sequence == "" && len(sc.session.objects) == 0:
		// opened on attach, before the first sync message named its sequence
		sc.session.sequence = sequence
	case sc.session.sequence != sequence:
		sc.start(sequence)
	}
	for i := range snaps {
		sc.accumulate(&snaps[i])
	}
	if cursor != "" {
		return nil
	}
	return sc.complete()
}

// accumulate merges a fragment; large maps may span several messages.
func (sc *SyncController) accumulate(snap *op.ObjectSnapshot) {
	prev, ok := sc.session.objects[snap.ObjectID]
	if !ok || prev.Kind != op.MapKind {
		// later fragments merge into the copy, never into the caller's maps
		cp := *snap
		cp.Entries = make(map[string]op.MapEntry, len(snap.Entries))
		maps.Copy(cp.Entries, snap.Entries)
		cp.SiteVector = snap.SiteVector.Clone()
		sc.session.objects[snap.ObjectID] = &cp
		return
	}
	maps.Copy(prev.Entries, snap.Entries)
	for site, ts := range snap.SiteVector {
		prev.SiteVector.Put(site, ts)
	}
	prev.Tombstone = prev.Tombstone || snap.Tombstone
	prev.Created = prev.Created || snap.Created
	if prev.CreateOp == nil {
		prev.CreateOp = snap.CreateOp
	}
}

// HandleOperations buffers while syncing, applies otherwise.
func (sc *SyncController) HandleOperations(ops []op.Operation) {
	if sc.session != nil {
		sc.session.buffer = append(sc.session.buffer, ops...)
		OperationsBuffered.Add(float64(len(ops)))
		return
	}
	sc.apply(ops)
}

func (sc *SyncController) apply(ops []op.Operation) {
	for i := range ops {
		if _, err := sc.applier.Apply(&ops[i]); err != nil {
			sc.log.Warn("operation not applied",
				"action", ops[i].Action.String(),
				"object", ops[i].ObjectID,
				"err", err)
		}
	}
}

// Attached starts a session that waits for OBJECT_SYNC, or, when the
// channel has no objects, completes an empty one at once.
func (sc *SyncController) Attached(hasObjects bool) error {
	sc.start("")
	if hasObjects {
		return nil
	}
	sc.session.buffer = nil
	sc.session.objects[op.RootID] = &op.ObjectSnapshot{
		ObjectID: op.RootID,
		Kind:     op.MapKind,
		Created:  true,
	}
	return sc.complete()
}

func (sc *SyncController) complete() error {
	session := sc.session
	sc.session = nil
	updates, err := sc.pool.replaceFromSync(session.objects, sc.policy)
	if err != nil {
		SyncSequences.WithLabelValues("discarded").Inc()
		sc.log.Warn("sync discarded", "sequence", session.sequence, "err", err)
		return err
	}
	for _, u := range updates {
		sc.pool.objects[u.ObjectID].base().subs.publish(u)
	}
	sc.apply(session.buffer)

	elapsed := sc.clock().Sub(session.started)
	SyncSequences.WithLabelValues("completed").Inc()
	SyncDuration.Observe(float64(elapsed.Milliseconds()))
	sc.log.Debug("sync completed",
		"sequence", session.sequence,
		"objects", len(session.objects),
		"replayed", len(session.buffer),
		"took", elapsed)
	if sc.onComplete != nil {
		sc.onComplete()
	}
	return nil
}
