// Package store keeps object snapshots in pebble so an engine can warm
// start before the first sync.
package store

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/drpcorg/liveobjects/op"
)

type Options struct {
	pebble.Options
	// Sync waits for the WAL to reach the disk on every save.
	Sync bool
}

func (o *Options) SetDefaults() {
	o.Options.EnsureDefaults()
}

type Store struct {
	db   *pebble.DB
	dir  string
	opts Options
}

// OKey is the key of an object snapshot.
func OKey(id op.ObjectID) []byte {
	key := make([]byte, 0, len(id)+1)
	key = append(key, 'O')
	return append(key, id...)
}

func OKeyID(key []byte) (op.ObjectID, bool) {
	if len(key) < 2 || key[0] != 'O' {
		return "", false
	}
	return op.ObjectID(key[1:]), true
}

func Open(dir string, opts Options) (*Store, error) {
	opts.SetDefaults()
	db, err := pebble.Open(dir, &opts.Options)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dir)
	}
	return &Store{db: db, dir: dir, opts: opts}, nil
}

func (s *Store) writeOptions() *pebble.WriteOptions {
	if s.opts.Sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Save overwrites the stored snapshots in one batch.
func (s *Store) Save(snaps []op.ObjectSnapshot) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for i := range snaps {
		if err := batch.Set(OKey(snaps[i].ObjectID), EncodeSnapshot(&snaps[i]), nil); err != nil {
			return err
		}
	}
	return batch.Commit(s.writeOptions())
}

// Load reads every stored snapshot, in key order.
func (s *Store) Load() (snaps []op.ObjectSnapshot, err error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'O'},
		UpperBound: []byte{'P'},
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		id, ok := OKeyID(iter.Key())
		if !ok {
			continue
		}
		snap, err := DecodeSnapshot(id, iter.Value())
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, iter.Error()
}

func (s *Store) Get(id op.ObjectID) (snap op.ObjectSnapshot, ok bool, err error) {
	value, closer, err := s.db.Get(OKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, err
	}
	defer closer.Close()
	snap, err = DecodeSnapshot(id, value)
	return snap, err == nil, err
}

// Collector exposes the pebble metrics of the store.
func (s *Store) Collector() *PebbleCollector {
	return NewPebbleCollector(s.db)
}

func (s *Store) Close() error {
	return s.db.Close()
}
