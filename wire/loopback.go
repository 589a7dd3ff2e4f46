package wire

import (
	"context"
	"sync"

	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/timeserial"
)

// Loopback is a publisher that plays the realtime service for an engine
// without a connection: it stamps published operations with its own
// serials and delivers them back as an OBJECT message. With Hold set
// nothing is delivered.
type Loopback struct {
	Site    string
	Deliver func(msg *ObjectMessage) error
	Hold    bool

	mu        sync.Mutex
	millis    uint64
	published []op.Operation
}

func NewLoopback(site string, deliver func(msg *ObjectMessage) error) *Loopback {
	return &Loopback{Site: site, Deliver: deliver, millis: 1_700_000_000_000}
}

func (l *Loopback) Publish(ctx context.Context, ops []op.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.millis++
	serial := timeserial.New(l.Site, l.millis, 0)
	msg := &ObjectMessage{
		ChannelSerial: l.Site + ":" + serial.String(),
		Serial:        serial.String(),
		SiteCode:      l.Site,
	}
	for _, o := range ops {
		msg.State = append(msg.State, EncodeOperation(o))
	}
	l.published = append(l.published, ops...)
	hold := l.Hold
	l.mu.Unlock()
	if hold || l.Deliver == nil {
		return nil
	}
	return l.Deliver(msg)
}

// Published lists everything handed to Publish so far.
func (l *Loopback) Published() []op.Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]op.Operation(nil), l.published...)
}
