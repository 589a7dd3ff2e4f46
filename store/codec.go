package store

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/protocol"
	"github.com/drpcorg/liveobjects/timeserial"
	"github.com/drpcorg/liveobjects/utils"
)

// Snapshot record layout, all records uppercase so types survive:
//
//	K [kind flags]
//	V (I site)(T timeserial)      one per site
//	C float64 bits                counters
//	E (K key)(T timeserial)(value) one per map entry
//
// A value is a record typed by op.ValueKind, or X for a removed entry.
const (
	litKind    = 'K'
	litSite    = 'V'
	litSiteID  = 'I'
	litSerial  = 'T'
	litCount   = 'C'
	litEntry   = 'E'
	litKey     = 'K'
	litRemoved = 'X'
)

const (
	flagTombstone byte = 1 << iota
	flagCreated
)

var ErrBadSnapshot = errors.New("bad snapshot record")

func appendFloat(into []byte, f float64) []byte {
	return binary.LittleEndian.AppendUint64(into, math.Float64bits(f))
}

func readFloat(body []byte) (float64, error) {
	if len(body) != 8 {
		return 0, ErrBadSnapshot
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(body)), nil
}

func appendValue(into []byte, v op.Value) []byte {
	switch v.Kind() {
	case op.StringValue:
		s, _ := v.AsString()
		return protocol.Append(into, byte(op.StringValue), []byte(s))
	case op.NumberValue:
		n, _ := v.AsNumber()
		return protocol.Append(into, byte(op.NumberValue), appendFloat(nil, n))
	case op.BoolValue:
		b, _ := v.AsBool()
		flag := []byte{0}
		if b {
			flag[0] = 1
		}
		return protocol.Append(into, byte(op.BoolValue), flag)
	case op.BytesValue:
		b, _ := v.AsBytes()
		return protocol.Append(into, byte(op.BytesValue), b)
	case op.RefValue:
		id, _ := v.AsRef()
		return protocol.Append(into, byte(op.RefValue), []byte(id))
	}
	return protocol.Append(into, litRemoved)
}

func readValue(lit byte, body []byte) (v op.Value, err error) {
	switch op.ValueKind(lit) {
	case op.StringValue:
		return op.String(string(body)), nil
	case op.NumberValue:
		n, err := readFloat(body)
		return op.Number(n), err
	case op.BoolValue:
		if len(body) != 1 {
			return v, ErrBadSnapshot
		}
		return op.Bool(body[0] != 0), nil
	case op.BytesValue:
		return op.Bytes(body), nil
	case op.RefValue:
		return op.Ref(op.ObjectID(body)), nil
	}
	return v, errors.Wrapf(ErrBadSnapshot, "value type %c", lit)
}

func readSerial(body []byte) (timeserial.Timeserial, error) {
	if len(body) == 0 {
		return timeserial.Zero, nil
	}
	return timeserial.Parse(string(body))
}

// EncodeSnapshot renders the value stored under the object key.
func EncodeSnapshot(snap *op.ObjectSnapshot) []byte {
	var flags byte
	if snap.Tombstone {
		flags |= flagTombstone
	}
	if snap.Created {
		flags |= flagCreated
	}
	ret := protocol.Record(litKind, []byte{byte(snap.Kind), flags})
	for _, site := range snap.SiteVector.Sites() {
		ret = protocol.Append(ret, litSite,
			protocol.Record(litSiteID, []byte(site)),
			protocol.Record(litSerial, []byte(snap.SiteVector[site].String())))
	}
	if snap.Kind == op.CounterKind {
		ret = protocol.Append(ret, litCount, appendFloat(nil, snap.Count))
	}
	for _, key := range utils.SortedKeys(snap.Entries) {
		entry := snap.Entries[key]
		bookmark, buf := protocol.OpenHeader(ret, litEntry)
		buf = protocol.Append(buf, litKey, []byte(key))
		buf = protocol.Append(buf, litSerial, []byte(entry.Serial.String()))
		if entry.Removed {
			buf = protocol.Append(buf, litRemoved)
		} else {
			buf = appendValue(buf, entry.Value)
		}
		protocol.CloseHeader(buf, bookmark)
		ret = buf
	}
	return ret
}

// DecodeSnapshot reads a stored value back; the id comes from the key.
func DecodeSnapshot(id op.ObjectID, data []byte) (snap op.ObjectSnapshot, err error) {
	snap.ObjectID = id
	head, rest, err := protocol.TakeWary(litKind, data)
	if err != nil {
		return snap, errors.Wrapf(err, "%s kind", id)
	}
	if len(head) != 2 {
		return snap, errors.Wrapf(ErrBadSnapshot, "%s kind", id)
	}
	snap.Kind = op.ObjectKind(head[0])
	snap.Tombstone = head[1]&flagTombstone != 0
	snap.Created = head[1]&flagCreated != 0
	if snap.Kind != id.Kind() {
		return snap, errors.Wrapf(ErrBadSnapshot, "%s stored as %s", id, snap.Kind)
	}
	snap.SiteVector = make(timeserial.SiteVector)
	if snap.Kind == op.MapKind {
		snap.Entries = make(map[string]op.MapEntry)
	}
	for len(rest) > 0 {
		var lit byte
		var body []byte
		lit, body, rest, err = protocol.TakeAnyWary(rest)
		if err != nil {
			return snap, errors.Wrapf(err, "%s", id)
		}
		switch lit {
		case litSite:
			err = readSite(&snap, body)
		case litCount:
			snap.Count, err = readFloat(body)
		case litEntry:
			err = readEntry(&snap, body)
		default:
			err = errors.Wrapf(ErrBadSnapshot, "record %c", lit)
		}
		if err != nil {
			return snap, errors.Wrapf(err, "%s", id)
		}
	}
	return snap, nil
}

func readSite(snap *op.ObjectSnapshot, body []byte) error {
	site, rest, err := protocol.TakeWary(litSiteID, body)
	if err != nil {
		return err
	}
	serial, _, err := protocol.TakeWary(litSerial, rest)
	if err != nil {
		return err
	}
	ts, err := readSerial(serial)
	if err != nil {
		return err
	}
	snap.SiteVector[string(site)] = ts
	return nil
}

func readEntry(snap *op.ObjectSnapshot, body []byte) error {
	if snap.Entries == nil {
		return errors.Wrap(ErrBadSnapshot, "entry in a counter")
	}
	key, rest, err := protocol.TakeWary(litKey, body)
	if err != nil {
		return err
	}
	serial, rest, err := protocol.TakeWary(litSerial, rest)
	if err != nil {
		return err
	}
	var entry op.MapEntry
	if entry.Serial, err = readSerial(serial); err != nil {
		return err
	}
	lit, value, _, err := protocol.TakeAnyWary(rest)
	if err != nil {
		return err
	}
	if lit == litRemoved {
		entry.Removed = true
	} else if entry.Value, err = readValue(lit, value); err != nil {
		return err
	}
	snap.Entries[string(key)] = entry
	return nil
}
