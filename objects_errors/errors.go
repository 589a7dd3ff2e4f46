// Provides common liveobjects errors definitions.
package objects_errors

import "errors"

var (
	ErrClosed        = errors.New("liveobjects: engine closed")
	ErrObjectUnknown = errors.New("liveobjects: unknown object")
	ErrKindMismatch  = errors.New("liveobjects: object kind mismatch")
	ErrKindUnknown   = errors.New("liveobjects: unknown object kind")

	ErrChannelState = errors.New("liveobjects: channel state forbids the operation")
	ErrNoPublisher  = errors.New("liveobjects: no publisher configured")
	ErrNotSynced    = errors.New("liveobjects: objects not synced")
)
