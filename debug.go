package liveobjects

import (
	"fmt"
	"io"
	"strconv"

	"github.com/cespare/xxhash"
	"github.com/sanity-io/litter"

	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/utils"
)

// ObjectString renders one object on a single line, keys in order.
func ObjectString(snap *op.ObjectSnapshot) string {
	line := make([]byte, 0, 128)
	line = append(line, snap.ObjectID...)
	line = append(line, '\t')
	switch {
	case snap.Tombstone:
		line = append(line, "deleted"...)
	case !snap.Created:
		line = append(line, "pending"...)
	default:
		line = append(line, "live"...)
	}
	line = append(line, '\t')
	if snap.Kind == op.CounterKind {
		line = strconv.AppendFloat(line, snap.Count, 'g', -1, 64)
	} else {
		line = append(line, '{')
		for i, key := range utils.SortedKeys(snap.Entries) {
			entry := snap.Entries[key]
			if i > 0 {
				line = append(line, ", "...)
			}
			line = strconv.AppendQuote(line, key)
			line = append(line, ':')
			if entry.Removed {
				line = append(line, '-')
			} else {
				line = append(line, entry.Value.String()...)
			}
			line = append(line, '@')
			line = append(line, entry.Serial.String()...)
		}
		line = append(line, '}')
	}
	line = append(line, '\t')
	line = append(line, snap.SiteVector.String()...)
	return string(line)
}

func (objs *Objects) snapshots() []op.ObjectSnapshot {
	objs.pool.lock.RLock()
	defer objs.pool.lock.RUnlock()
	snaps := make([]op.ObjectSnapshot, 0, len(objs.pool.objects))
	for _, id := range utils.SortedKeys(objs.pool.objects) {
		snaps = append(snaps, objs.pool.objects[id].snapshot())
	}
	return snaps
}

// Digest fingerprints the whole pool. Replicas that merged the same
// operations have equal digests whatever the delivery order.
func (objs *Objects) Digest() uint64 {
	buf := make([]byte, 0, 1024)
	for _, snap := range objs.snapshots() {
		buf = append(buf, ObjectString(&snap)...)
		buf = append(buf, '\n')
	}
	return xxhash.Sum64(buf)
}

func (objs *Objects) DumpObjects(writer io.Writer) {
	for _, snap := range objs.snapshots() {
		fmt.Fprintln(writer, ObjectString(&snap))
	}
}

func (objs *Objects) DumpAll(writer io.Writer) {
	objs.DumpObjects(writer)
	fmt.Fprintln(writer, "")
	state, sequence := objs.SyncState()
	fmt.Fprintf(writer, "channel %s, sync %s %q, digest %016x\n",
		objs.ChannelState(), state, sequence, objs.Digest())
}

// Dump renders one object with all of its fields.
func (objs *Objects) Dump(id op.ObjectID) string {
	obj, ok := objs.pool.Get(id)
	if !ok {
		return "<unknown>"
	}
	objs.pool.lock.RLock()
	snap := obj.snapshot()
	objs.pool.lock.RUnlock()
	return litter.Options{HidePrivateFields: false, HideZeroValues: true}.Sdump(snap)
}
