package timeserial

import (
	"errors"
	"strconv"
	"strings"
)

/*
Timeserial is a per-site logical timestamp assigned by the realtime
service to every operation it relays.

	<millis>-<counter>@<site>[:<index>]

The canonical text form zero-pads every number to the full decimal width
of its type (20 digits for millis, 10 for counter and index), so the
lexicographic order of canonical strings is the order of timeserials. The zero Timeserial is the minimum: it sorts
before any parsed one.
*/
type Timeserial struct {
	site    string
	millis  uint64
	counter uint32
	index   uint32
	indexed bool
	canon   string
}

const (
	millisWidth  = 20 // math.MaxUint64
	counterWidth = 10 // math.MaxUint32
	indexWidth   = 10
)

var ErrBadTimeserial = errors.New("bad timeserial")

// Zero is the minimal timeserial, the value of an absent site vector key.
var Zero Timeserial

func New(site string, millis uint64, counter uint32) Timeserial {
	ts := Timeserial{site: site, millis: millis, counter: counter}
	ts.canon = ts.format()
	return ts
}

func NewIndexed(site string, millis uint64, counter, index uint32) Timeserial {
	ts := Timeserial{site: site, millis: millis, counter: counter, index: index, indexed: true}
	ts.canon = ts.format()
	return ts
}

// WithIndex returns a copy carrying the sub-index; used when several
// operations share one message serial.
func (ts Timeserial) WithIndex(index uint32) Timeserial {
	return NewIndexed(ts.site, ts.millis, ts.counter, index)
}

func (ts Timeserial) Site() string    { return ts.site }
func (ts Timeserial) Millis() uint64  { return ts.millis }
func (ts Timeserial) Counter() uint32 { return ts.counter }

func (ts Timeserial) Index() (index uint32, ok bool) {
	return ts.index, ts.indexed
}

func (ts Timeserial) IsZero() bool {
	return ts.canon == ""
}

func appendPadded(b []byte, n uint64, width int) []byte {
	var buf [20]byte
	digits := strconv.AppendUint(buf[:0], n, 10)
	for i := len(digits); i < width; i++ {
		b = append(b, '0')
	}
	return append(b, digits...)
}

func (ts Timeserial) format() string {
	b := make([]byte, 0, millisWidth+counterWidth+indexWidth+len(ts.site)+3)
	b = appendPadded(b, ts.millis, millisWidth)
	b = append(b, '-')
	b = appendPadded(b, uint64(ts.counter), counterWidth)
	b = append(b, '@')
	b = append(b, ts.site...)
	if ts.indexed {
		b = append(b, ':')
		b = appendPadded(b, uint64(ts.index), indexWidth)
	}
	return string(b)
}

// String returns the canonical form; empty for the zero timeserial.
func (ts Timeserial) String() string {
	return ts.canon
}

// Compare returns -1, 0 or +1.
func Compare(a, b Timeserial) int {
	return strings.Compare(a.canon, b.canon)
}

func (ts Timeserial) After(other Timeserial) bool {
	return ts.canon > other.canon
}

func (ts Timeserial) Before(other Timeserial) bool {
	return ts.canon < other.canon
}

func readUint(s string, bits int) (n uint64, rest string, ok bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, false
	}
	n, err := strconv.ParseUint(s[:i], 10, bits)
	if err != nil {
		return 0, s, false
	}
	return n, s[i:], true
}

// Parse reads both canonical and unpadded forms.
func Parse(str string) (ts Timeserial, err error) {
	millis, rest, ok := readUint(str, 64)
	if !ok || len(rest) == 0 || rest[0] != '-' {
		return Zero, ErrBadTimeserial
	}
	counter, rest, ok := readUint(rest[1:], 32)
	if !ok || len(rest) < 2 || rest[0] != '@' {
		return Zero, ErrBadTimeserial
	}
	site := rest[1:]
	colon := strings.LastIndexByte(site, ':')
	if colon < 0 {
		if len(site) == 0 {
			return Zero, ErrBadTimeserial
		}
		return New(site, millis, uint32(counter)), nil
	}
	index, tail, ok := readUint(site[colon+1:], 32)
	if !ok || len(tail) != 0 || colon == 0 {
		return Zero, ErrBadTimeserial
	}
	return NewIndexed(site[:colon], millis, uint32(counter), uint32(index)), nil
}

func MustParse(str string) Timeserial {
	ts, err := Parse(str)
	if err != nil {
		panic(err)
	}
	return ts
}
