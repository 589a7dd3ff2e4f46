// Package testutils builds operations and snapshots for tests.
package testutils

import (
	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/timeserial"
)

// TS parses a timeserial, panicking on bad input.
func TS(str string) timeserial.Timeserial {
	return timeserial.MustParse(str)
}

func operation(action op.Action, id op.ObjectID, serial string) op.Operation {
	ts := TS(serial)
	return op.Operation{
		Action:   action,
		ObjectID: id,
		Serial:   ts,
		Site:     ts.Site(),
	}
}

func MapCreate(id op.ObjectID, serial string, entries map[string]op.Value) op.Operation {
	o := operation(op.MapCreate, id, serial)
	o.Entries = make(map[string]op.MapEntry, len(entries))
	for key, value := range entries {
		o.Entries[key] = op.MapEntry{Value: value}
	}
	return o
}

func MapSet(id op.ObjectID, key string, value op.Value, serial string) op.Operation {
	o := operation(op.MapSet, id, serial)
	o.Key = key
	o.Value = value
	return o
}

func MapRemove(id op.ObjectID, key string, serial string) op.Operation {
	o := operation(op.MapRemove, id, serial)
	o.Key = key
	return o
}

func CounterCreate(id op.ObjectID, count float64, serial string) op.Operation {
	o := operation(op.CounterCreate, id, serial)
	o.Amount = count
	return o
}

func CounterInc(id op.ObjectID, amount float64, serial string) op.Operation {
	o := operation(op.CounterInc, id, serial)
	o.Amount = amount
	return o
}

func Delete(id op.ObjectID, serial string) op.Operation {
	return operation(op.ObjectDelete, id, serial)
}

// MapSnapshot is a synced map whose entries and site vector all carry serial.
func MapSnapshot(id op.ObjectID, serial string, entries map[string]op.Value) op.ObjectSnapshot {
	ts := TS(serial)
	snap := op.ObjectSnapshot{
		ObjectID:   id,
		Kind:       op.MapKind,
		Created:    true,
		SiteVector: timeserial.SiteVector{ts.Site(): ts},
		Entries:    make(map[string]op.MapEntry, len(entries)),
	}
	for key, value := range entries {
		snap.Entries[key] = op.MapEntry{Value: value, Serial: ts}
	}
	return snap
}

func CounterSnapshot(id op.ObjectID, serial string, count float64) op.ObjectSnapshot {
	ts := TS(serial)
	return op.ObjectSnapshot{
		ObjectID:   id,
		Kind:       op.CounterKind,
		Created:    true,
		SiteVector: timeserial.SiteVector{ts.Site(): ts},
		Count:      count,
	}
}

func Tombstoned(snap op.ObjectSnapshot) op.ObjectSnapshot {
	snap.Tombstone = true
	snap.Entries = nil
	snap.Count = 0
	return snap
}
