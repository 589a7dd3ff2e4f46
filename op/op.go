// Package op holds the data model every layer shares: object ids,
// decoded operations and sync snapshots.
package op

import (
	"strings"

	"github.com/drpcorg/liveobjects/timeserial"
)

// ObjectID is namespaced by kind: "map:...", "counter:..." or "root".
type ObjectID string

const RootID ObjectID = "root"

type ObjectKind byte

const (
	UnknownKind ObjectKind = 0
	MapKind     ObjectKind = 'M'
	CounterKind ObjectKind = 'C'
)

func (k ObjectKind) String() string {
	switch k {
	case MapKind:
		return "map"
	case CounterKind:
		return "counter"
	}
	return "unknown"
}

// Kind derives the object kind from the id namespace.
func (id ObjectID) Kind() ObjectKind {
	if id == RootID {
		return MapKind
	}
	prefix, _, ok := strings.Cut(string(id), ":")
	if !ok {
		return UnknownKind
	}
	switch prefix {
	case "map":
		return MapKind
	case "counter":
		return CounterKind
	}
	return UnknownKind
}

// Action values are the wire codes.
type Action byte

const (
	MapCreate     Action = 0
	MapSet        Action = 1
	MapRemove     Action = 2
	CounterCreate Action = 3
	CounterInc    Action = 4
	ObjectDelete  Action = 5
)

var actionNames = [...]string{"MAP_CREATE", "MAP_SET", "MAP_REMOVE", "COUNTER_CREATE", "COUNTER_INC", "OBJECT_DELETE"}

func (a Action) Valid() bool {
	return int(a) < len(actionNames)
}

func (a Action) String() string {
	if !a.Valid() {
		return "UNKNOWN"
	}
	return actionNames[a]
}

// Kind is the object kind an action implies; ObjectDelete implies none.
func (a Action) Kind() ObjectKind {
	switch a {
	case MapCreate, MapSet, MapRemove:
		return MapKind
	case CounterCreate, CounterInc:
		return CounterKind
	}
	return UnknownKind
}

// MapEntry is an immutable snapshot of one map key. Removed entries keep
// their serial so older writes to the key stay rejected.
type MapEntry struct {
	Value   Value
	Serial  timeserial.Timeserial
	Removed bool
}

type Operation struct {
	Action   Action
	ObjectID ObjectID
	Site     string
	Serial   timeserial.Timeserial

	// MapSet, MapRemove
	Key   string
	Value Value

	// CounterInc amount, CounterCreate initial count
	Amount float64

	// MapCreate initial entries; a zero entry serial means the operation serial.
	Entries map[string]MapEntry

	// CREATE operations built locally carry the id derivation inputs.
	Nonce        string
	InitialValue string
}

// ObjectSnapshot is the authoritative state of one object in an OBJECT_SYNC.
type ObjectSnapshot struct {
	ObjectID   ObjectID
	Kind       ObjectKind
	Tombstone  bool
	Created    bool
	SiteVector timeserial.SiteVector
	Entries    map[string]MapEntry
	Count      float64
	CreateOp   *Operation
}
