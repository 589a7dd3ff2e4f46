// Package wire maps the JSON bodies of OBJECT and OBJECT_SYNC protocol
// messages to the op data model and back.
package wire

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

const (
	ActionObject     = "OBJECT"
	ActionObjectSync = "OBJECT_SYNC"
)

// ObjectData is a tagged value: exactly one field is set.
type ObjectData struct {
	String   *string  `json:"string,omitempty"`
	Number   *float64 `json:"number,omitempty"`
	Boolean  *bool    `json:"boolean,omitempty"`
	Bytes    *string  `json:"bytes,omitempty"`
	ObjectID *string  `json:"objectId,omitempty"`
}

type MapEntry struct {
	Timeserial string      `json:"timeserial,omitempty"`
	Tombstone  bool        `json:"tombstone,omitempty"`
	Data       *ObjectData `json:"data,omitempty"`
}

type MapState struct {
	Entries map[string]MapEntry `json:"entries,omitempty"`
}

type CounterState struct {
	Count *float64 `json:"count,omitempty"`
}

type MapOp struct {
	Key  string      `json:"key"`
	Data *ObjectData `json:"data,omitempty"`
}

type CounterOp struct {
	Amount *float64 `json:"amount,omitempty"`
}

// Operation is one element of an OBJECT message state array. Serial and
// SiteCode override the message level ones when present.
type Operation struct {
	Action       *int          `json:"action,omitempty"`
	ObjectID     string        `json:"objectId"`
	Nonce        string        `json:"nonce,omitempty"`
	InitialValue string        `json:"initialValue,omitempty"`
	MapOp        *MapOp        `json:"mapOp,omitempty"`
	CounterOp    *CounterOp    `json:"counterOp,omitempty"`
	Map          *MapState     `json:"map,omitempty"`
	Counter      *CounterState `json:"counter,omitempty"`
	Serial       string        `json:"serial,omitempty"`
	SiteCode     string        `json:"siteCode,omitempty"`
}

type ObjectMessage struct {
	ChannelSerial string      `json:"channelSerial,omitempty"`
	Serial        string      `json:"serial,omitempty"`
	SiteCode      string      `json:"siteCode,omitempty"`
	State         []Operation `json:"state"`
}

type ObjectState struct {
	ObjectID        string            `json:"objectId"`
	Tombstone       bool              `json:"tombstone,omitempty"`
	SiteTimeserials map[string]string `json:"siteTimeserials,omitempty"`
	Map             *MapState         `json:"map,omitempty"`
	Counter         *CounterState     `json:"counter,omitempty"`
	CreateOp        *Operation        `json:"createOp,omitempty"`
}

type SyncMessage struct {
	ChannelSerial string        `json:"channelSerial,omitempty"`
	State         []ObjectState `json:"state"`
}

// Envelope is one line of a recorded message log.
type Envelope struct {
	Action        string          `json:"action"`
	ChannelSerial string          `json:"channelSerial,omitempty"`
	Serial        string          `json:"serial,omitempty"`
	SiteCode      string          `json:"siteCode,omitempty"`
	State         json.RawMessage `json:"state"`
}

var ErrUnknownMessage = errors.New("unknown message action")

// ParseEnvelope returns either an *ObjectMessage or a *SyncMessage.
func ParseEnvelope(line []byte) (msg any, err error) {
	var env Envelope
	if err = json.Unmarshal(line, &env); err != nil {
		return nil, errors.Wrap(err, "envelope")
	}
	switch env.Action {
	case ActionObject:
		m := &ObjectMessage{ChannelSerial: env.ChannelSerial, Serial: env.Serial, SiteCode: env.SiteCode}
		if len(env.State) > 0 {
			err = json.Unmarshal(env.State, &m.State)
		}
		return m, errors.Wrap(err, "object message state")
	case ActionObjectSync:
		m := &SyncMessage{ChannelSerial: env.ChannelSerial}
		if len(env.State) > 0 {
			err = json.Unmarshal(env.State, &m.State)
		}
		return m, errors.Wrap(err, "sync message state")
	}
	return nil, errors.Wrapf(ErrUnknownMessage, "%q", env.Action)
}

// ParseSyncSerial splits "<sequence>:<cursor>"; an empty cursor ends the sequence.
func ParseSyncSerial(channelSerial string) (sequence, cursor string) {
	sequence, cursor, _ = strings.Cut(channelSerial, ":")
	return
}

// ChannelSerialSite is the site code component of an OBJECT channelSerial.
func ChannelSerialSite(channelSerial string) string {
	site, _, ok := strings.Cut(channelSerial, ":")
	if !ok {
		return ""
	}
	return site
}
