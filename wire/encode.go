package wire

import (
	"encoding/base64"
	"encoding/json"

	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/utils"
)

func EncodeValue(v op.Value) *ObjectData {
	data := &ObjectData{}
	switch v.Kind() {
	case op.StringValue:
		s, _ := v.AsString()
		data.String = &s
	case op.NumberValue:
		n, _ := v.AsNumber()
		data.Number = &n
	case op.BoolValue:
		b, _ := v.AsBool()
		data.Boolean = &b
	case op.BytesValue:
		raw, _ := v.AsBytes()
		s := base64.StdEncoding.EncodeToString(raw)
		data.Bytes = &s
	case op.RefValue:
		id, _ := v.AsRef()
		s := string(id)
		data.ObjectID = &s
	default:
		return nil
	}
	return data
}

func encodeEntries(entries map[string]op.MapEntry) *MapState {
	state := &MapState{Entries: make(map[string]MapEntry, len(entries))}
	for key, e := range entries {
		we := MapEntry{Timeserial: e.Serial.String(), Tombstone: e.Removed}
		if !e.Removed {
			we.Data = EncodeValue(e.Value)
		}
		state.Entries[key] = we
	}
	return state
}

// EncodeOperation renders an operation for the write path.
func EncodeOperation(o op.Operation) Operation {
	action := int(o.Action)
	wo := Operation{
		Action:       &action,
		ObjectID:     string(o.ObjectID),
		Nonce:        o.Nonce,
		InitialValue: o.InitialValue,
		Serial:       o.Serial.String(),
		SiteCode:     o.Site,
	}
	switch o.Action {
	case op.MapCreate:
		wo.Map = encodeEntries(o.Entries)
	case op.MapSet:
		wo.MapOp = &MapOp{Key: o.Key, Data: EncodeValue(o.Value)}
	case op.MapRemove:
		wo.MapOp = &MapOp{Key: o.Key}
	case op.CounterCreate:
		count := o.Amount
		wo.Counter = &CounterState{Count: &count}
	case op.CounterInc:
		amount := o.Amount
		wo.CounterOp = &CounterOp{Amount: &amount}
	}
	return wo
}

// EncodeSnapshot renders the sync form of an object.
func EncodeSnapshot(snap op.ObjectSnapshot) ObjectState {
	ws := ObjectState{
		ObjectID:        string(snap.ObjectID),
		Tombstone:       snap.Tombstone,
		SiteTimeserials: snap.SiteVector.Strings(),
	}
	switch snap.Kind {
	case op.MapKind:
		ws.Map = encodeEntries(snap.Entries)
	case op.CounterKind:
		count := snap.Count
		ws.Counter = &CounterState{Count: &count}
	}
	if snap.CreateOp != nil {
		create := EncodeOperation(*snap.CreateOp)
		ws.CreateOp = &create
	}
	return ws
}

// InitialValue is the canonical JSON of a CREATE payload; object ids are
// derived from it.
func InitialValue(o op.Operation) (string, error) {
	var payload any
	switch o.Action {
	case op.MapCreate:
		entries := make(map[string]*ObjectData, len(o.Entries))
		for _, key := range utils.SortedKeys(o.Entries) {
			entries[key] = EncodeValue(o.Entries[key].Value)
		}
		payload = struct {
			Map map[string]*ObjectData `json:"map"`
		}{entries}
	case op.CounterCreate:
		payload = struct {
			Counter float64 `json:"counter"`
		}{o.Amount}
	default:
		return "", ErrBadAction
	}
	raw, err := json.Marshal(payload)
	return string(raw), err
}
