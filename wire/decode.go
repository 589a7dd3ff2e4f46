package wire

import (
	"encoding/base64"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/timeserial"
)

var (
	ErrBadData       = errors.New("bad object data")
	ErrBadBytes      = errors.New("bad base64 bytes")
	ErrBadAction     = errors.New("bad operation action")
	ErrBadObjectID   = errors.New("bad object id")
	ErrKindMismatch  = errors.New("operation does not match object kind")
	ErrMissingField  = errors.New("missing field")
	ErrMissingSerial = errors.New("missing serial")
	ErrMissingSite   = errors.New("missing site code")
	ErrBadAmount     = errors.New("bad counter amount")
)

const DefaultCacheSize = 1 << 12

// Decoder turns wire messages into operations and snapshots. Site
// timeserials repeat across messages, so parsed ones are cached.
type Decoder struct {
	serials *lru.Cache[string, timeserial.Timeserial]
}

func NewDecoder(cacheSize int) *Decoder {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, timeserial.Timeserial](cacheSize)
	return &Decoder{serials: cache}
}

func (d *Decoder) Timeserial(str string) (timeserial.Timeserial, error) {
	if ts, ok := d.serials.Get(str); ok {
		return ts, nil
	}
	ts, err := timeserial.Parse(str)
	if err != nil {
		return timeserial.Zero, errors.Wrapf(err, "%q", str)
	}
	d.serials.Add(str, ts)
	return ts, nil
}

// DecodeValue checks that exactly one tag is present.
func DecodeValue(data *ObjectData) (v op.Value, err error) {
	if data == nil {
		return v, errors.Wrap(ErrBadData, "no data")
	}
	tags := 0
	if data.String != nil {
		tags++
		v = op.String(*data.String)
	}
	if data.Number != nil {
		tags++
		v = op.Number(*data.Number)
	}
	if data.Boolean != nil {
		tags++
		v = op.Bool(*data.Boolean)
	}
	if data.Bytes != nil {
		tags++
		raw, e := base64.StdEncoding.DecodeString(*data.Bytes)
		if e != nil {
			return op.Value{}, errors.Wrap(ErrBadBytes, e.Error())
		}
		v = op.Bytes(raw)
	}
	if data.ObjectID != nil {
		tags++
		id := op.ObjectID(*data.ObjectID)
		if id.Kind() == op.UnknownKind {
			return op.Value{}, errors.Wrapf(ErrBadObjectID, "%q", *data.ObjectID)
		}
		v = op.Ref(id)
	}
	if tags != 1 {
		return op.Value{}, errors.Wrapf(ErrBadData, "%d tags", tags)
	}
	return v, nil
}

func (d *Decoder) mapEntries(state *MapState) (map[string]op.MapEntry, error) {
	entries := make(map[string]op.MapEntry)
	if state == nil {
		return entries, nil
	}
	for key, we := range state.Entries {
		var entry op.MapEntry
		var err error
		if we.Timeserial != "" {
			entry.Serial, err = d.Timeserial(we.Timeserial)
			if err != nil {
				return nil, errors.Wrapf(err, "entry %q", key)
			}
		}
		if we.Tombstone {
			entry.Removed = true
		} else {
			entry.Value, err = DecodeValue(we.Data)
			if err != nil {
				return nil, errors.Wrapf(err, "entry %q", key)
			}
		}
		entries[key] = entry
	}
	return entries, nil
}

func checkAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrBadAmount
	}
	return nil
}

// operation decodes the payload; serial and site are filled by the caller.
func (d *Decoder) operation(wo *Operation) (o op.Operation, err error) {
	if wo.Action == nil {
		return o, errors.Wrap(ErrMissingField, "action")
	}
	if *wo.Action < 0 || *wo.Action > 0xff || !op.Action(*wo.Action).Valid() {
		return o, errors.Wrapf(ErrBadAction, "%d", *wo.Action)
	}
	o.Action = op.Action(*wo.Action)
	o.ObjectID = op.ObjectID(wo.ObjectID)
	kind := o.ObjectID.Kind()
	if kind == op.UnknownKind {
		return o, errors.Wrapf(ErrBadObjectID, "%q", wo.ObjectID)
	}
	if ak := o.Action.Kind(); ak != op.UnknownKind && ak != kind {
		return o, errors.Wrapf(ErrKindMismatch, "%s on %s", o.Action, o.ObjectID)
	}
	o.Nonce = wo.Nonce
	o.InitialValue = wo.InitialValue

	switch o.Action {
	case op.MapCreate:
		o.Entries, err = d.mapEntries(wo.Map)
	case op.MapSet:
		if wo.MapOp == nil {
			return o, errors.Wrap(ErrMissingField, "mapOp")
		}
		o.Key = wo.MapOp.Key
		o.Value, err = DecodeValue(wo.MapOp.Data)
	case op.MapRemove:
		if wo.MapOp == nil {
			return o, errors.Wrap(ErrMissingField, "mapOp")
		}
		o.Key = wo.MapOp.Key
	case op.CounterCreate:
		if wo.Counter != nil && wo.Counter.Count != nil {
			o.Amount = *wo.Counter.Count
			err = checkAmount(o.Amount)
		}
	case op.CounterInc:
		if wo.CounterOp == nil || wo.CounterOp.Amount == nil {
			return o, errors.Wrap(ErrMissingField, "counterOp.amount")
		}
		o.Amount = *wo.CounterOp.Amount
		err = checkAmount(o.Amount)
	case op.ObjectDelete:
	}
	if err != nil {
		return o, errors.Wrapf(err, "%s %s", o.Action, o.ObjectID)
	}
	return o, nil
}

// DecodeOperations decodes every operation of an OBJECT message or none.
// Operations sharing the message serial get their position as sub-index.
func (d *Decoder) DecodeOperations(msg *ObjectMessage) (ops []op.Operation, err error) {
	var msgSerial timeserial.Timeserial
	if msg.Serial != "" {
		if msgSerial, err = d.Timeserial(msg.Serial); err != nil {
			return nil, errors.Wrap(err, "message serial")
		}
	}
	msgSite := msg.SiteCode
	if msgSite == "" {
		msgSite = ChannelSerialSite(msg.ChannelSerial)
	}
	shared := 0
	for i := range msg.State {
		if msg.State[i].Serial == "" {
			shared++
		}
	}
	ops = make([]op.Operation, 0, len(msg.State))
	for i := range msg.State {
		wo := &msg.State[i]
		o, err := d.operation(wo)
		if err != nil {
			return nil, errors.Wrapf(err, "state[%d]", i)
		}
		switch {
		case wo.Serial != "":
			if o.Serial, err = d.Timeserial(wo.Serial); err != nil {
				return nil, errors.Wrapf(err, "state[%d] serial", i)
			}
		case !msgSerial.IsZero():
			o.Serial = msgSerial
			if shared > 1 {
				o.Serial = msgSerial.WithIndex(uint32(i))
			}
		default:
			return nil, errors.Wrapf(ErrMissingSerial, "state[%d]", i)
		}
		o.Site = wo.SiteCode
		if o.Site == "" {
			o.Site = msgSite
		}
		if o.Site == "" {
			o.Site = o.Serial.Site()
		}
		if o.Site == "" {
			return nil, errors.Wrapf(ErrMissingSite, "state[%d]", i)
		}
		ops = append(ops, o)
	}
	return ops, nil
}

func (d *Decoder) snapshot(ws *ObjectState) (snap op.ObjectSnapshot, err error) {
	snap.ObjectID = op.ObjectID(ws.ObjectID)
	snap.Kind = snap.ObjectID.Kind()
	if snap.Kind == op.UnknownKind {
		return snap, errors.Wrapf(ErrBadObjectID, "%q", ws.ObjectID)
	}
	snap.Tombstone = ws.Tombstone
	// without a createOp the state already includes the creation
	snap.Created = ws.CreateOp == nil
	if snap.SiteVector, err = timeserial.ParseSiteVector(ws.SiteTimeserials, d.Timeserial); err != nil {
		return snap, err
	}
	switch snap.Kind {
	case op.MapKind:
		if ws.Counter != nil {
			return snap, errors.Wrapf(ErrKindMismatch, "counter state for %s", snap.ObjectID)
		}
		if snap.Entries, err = d.mapEntries(ws.Map); err != nil {
			return snap, err
		}
	case op.CounterKind:
		if ws.Map != nil {
			return snap, errors.Wrapf(ErrKindMismatch, "map state for %s", snap.ObjectID)
		}
		if ws.Counter != nil && ws.Counter.Count != nil {
			snap.Count = *ws.Counter.Count
			if err = checkAmount(snap.Count); err != nil {
				return snap, err
			}
		}
	}
	if ws.CreateOp != nil {
		create, err := d.operation(ws.CreateOp)
		if err != nil {
			return snap, errors.Wrap(err, "createOp")
		}
		if create.Action != op.MapCreate && create.Action != op.CounterCreate {
			return snap, errors.Wrapf(ErrBadAction, "createOp %s", create.Action)
		}
		if create.ObjectID != snap.ObjectID {
			return snap, errors.Wrapf(ErrBadObjectID, "createOp for %s", create.ObjectID)
		}
		if ws.CreateOp.Serial != "" {
			if create.Serial, err = d.Timeserial(ws.CreateOp.Serial); err != nil {
				return snap, errors.Wrap(err, "createOp serial")
			}
		}
		create.Site = ws.CreateOp.SiteCode
		snap.CreateOp = &create
	}
	return snap, nil
}

// DecodeSync decodes an OBJECT_SYNC message or nothing.
func (d *Decoder) DecodeSync(msg *SyncMessage) (sequence, cursor string, snaps []op.ObjectSnapshot, err error) {
	sequence, cursor = ParseSyncSerial(msg.ChannelSerial)
	snaps = make([]op.ObjectSnapshot, 0, len(msg.State))
	for i := range msg.State {
		snap, err := d.snapshot(&msg.State[i])
		if err != nil {
			return "", "", nil, errors.Wrapf(err, "state[%d]", i)
		}
		snaps = append(snaps, snap)
	}
	return sequence, cursor, snaps, nil
}
