package liveobjects

import (
	"fmt"

	"github.com/drpcorg/liveobjects/op"
)

// InvariantError is a protocol or programmer fault: the offending call or
// message is refused as a whole and never retried.
type InvariantError struct {
	Op     string
	Object op.ObjectID
	Reason string
}

func (e *InvariantError) Error() string {
	if e.Object != "" {
		return fmt.Sprintf("liveobjects: %s on %s: %s", e.Op, e.Object, e.Reason)
	}
	return fmt.Sprintf("liveobjects: %s: %s", e.Op, e.Reason)
}

func invariant(opname string, id op.ObjectID, format string, args ...any) error {
	return &InvariantError{Op: opname, Object: id, Reason: fmt.Sprintf(format, args...)}
}
