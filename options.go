package liveobjects

import (
	"context"
	"log/slog"
	"time"

	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/utils"
	"github.com/drpcorg/liveobjects/wire"
)

// Publisher is the write path: it delivers locally built operations to
// the realtime service, which echoes them back with assigned serials.
type Publisher interface {
	Publish(ctx context.Context, ops []op.Operation) error
}

// SnapshotStore persists object snapshots between sessions.
type SnapshotStore interface {
	Save(snaps []op.ObjectSnapshot) error
	Load() ([]op.ObjectSnapshot, error)
}

// UnsyncedPolicy decides the fate of pooled objects a completed sync did
// not mention.
type UnsyncedPolicy byte

const (
	// UnsyncedKeep leaves them untouched until an explicit delete arrives.
	UnsyncedKeep UnsyncedPolicy = iota
	// UnsyncedTombstone tombstones them; the root is cleared instead.
	UnsyncedTombstone
)

func (p UnsyncedPolicy) String() string {
	switch p {
	case UnsyncedKeep:
		return "keep"
	case UnsyncedTombstone:
		return "tombstone"
	}
	return "unknown"
}

type Options struct {
	Logger         utils.Logger
	Publisher      Publisher
	Store          SnapshotStore
	UnsyncedPolicy UnsyncedPolicy
	// Clock stamps locally generated object ids.
	Clock func() time.Time
	// TimeserialCacheSize bounds the decoder's parsed timeserial cache.
	TimeserialCacheSize int
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelWarn)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.TimeserialCacheSize <= 0 {
		o.TimeserialCacheSize = wire.DefaultCacheSize
	}
}
