package timeserial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTimeserial(t *testing.T) {
	strs := []string{
		"00000001726585978590-0000000001@abcdef",
		"00000001726585978590-0000000012@abcdef:0000000003",
		"00000000000000000000-0000000000@x",
		"18446744073709551615-4294967295@x:4294967295",
	}
	for _, str := range strs {
		ts, err := Parse(str)
		assert.NoError(t, err)
		assert.Equal(t, str, ts.String())
	}

	ts, err := Parse("1726585978590-1@site:2")
	assert.NoError(t, err)
	assert.Equal(t, "00000001726585978590-0000000001@site:0000000002", ts.String())
	assert.Equal(t, "site", ts.Site())
	idx, ok := ts.Index()
	assert.True(t, ok)
	assert.Equal(t, uint32(2), idx)
}

func TestParseBadTimeserial(t *testing.T) {
	bad := []string{
		"",
		"abc",
		"123",
		"123-",
		"123-4",
		"123-4@",
		"-4@site",
		"123-4@site:",
		"123-4@:5",
		"99999999999999999999999-1@a",
		"18446744073709551616-1@a",
		"1-4294967296@a",
		"1-1@a:4294967296",
	}
	for _, str := range bad {
		_, err := Parse(str)
		assert.ErrorIs(t, err, ErrBadTimeserial, str)
	}
}

func TestCompare(t *testing.T) {
	a := New("a", 100, 1)
	b := New("b", 100, 1)
	c := New("a", 100, 2)
	d := New("a", 99, 999)

	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, 1, Compare(c, b))
	assert.Equal(t, 0, Compare(a, MustParse("100-1@a")))
	assert.True(t, d.Before(a))
	assert.True(t, a.After(Zero))
	assert.True(t, Zero.IsZero())
	assert.False(t, a.IsZero())

	// index sorts after the bare serial
	assert.True(t, a.WithIndex(0).After(a))
	assert.True(t, a.WithIndex(2).After(a.WithIndex(1)))
}

func TestCompareAcrossDigitCounts(t *testing.T) {
	ordered := []Timeserial{
		New("a", 9, 4294967295),
		New("a", 10, 0),
		New("a", 100, 9),
		New("a", 100, 10),
		New("a", 100, 999),
		New("a", 100, 1000),
		New("a", 100, 4294967295),
		New("a", 99999999999999, 0),
		New("a", 100000000000000, 0),
		New("a", 18446744073709551615, 0),
	}
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i].After(ordered[i-1]), "%s > %s", ordered[i], ordered[i-1])
		assert.Equal(t, -1, Compare(ordered[i-1], ordered[i]))
	}

	base := New("a", 100, 1)
	assert.True(t, base.WithIndex(1000).After(base.WithIndex(999)))
	assert.True(t, base.WithIndex(4294967295).After(base.WithIndex(1000)))
	assert.True(t, New("a", 100, 2).After(base.WithIndex(4294967295)))

	// the unpadded wire form orders the same once parsed
	assert.True(t, MustParse("100-1000@a").After(MustParse("100-999@a")))
	assert.True(t, MustParse("100-1@a:1000").After(MustParse("100-1@a:999")))
}

func TestSiteVector(t *testing.T) {
	sv := make(SiteVector)
	t1 := New("a", 10, 0)
	t2 := New("a", 11, 0)

	assert.True(t, sv.Get("a").IsZero())
	assert.True(t, sv.Put("a", t2))
	assert.False(t, sv.Put("a", t1))
	assert.False(t, sv.Put("a", t2))
	assert.Equal(t, t2, sv.Get("a"))
	assert.True(t, sv.Put("b", t1))
	assert.Equal(t, []string{"a", "b"}, sv.Sites())

	c := sv.Clone()
	c.Put("a", New("a", 12, 0))
	assert.Equal(t, t2, sv.Get("a"))

	wire := sv.Strings()
	back, err := ParseSiteVector(wire, nil)
	assert.NoError(t, err)
	assert.Equal(t, sv, back)

	calls := 0
	back, err = ParseSiteVector(wire, func(str string) (Timeserial, error) {
		calls++
		return Parse(str)
	})
	assert.NoError(t, err)
	assert.Equal(t, sv, back)
	assert.Equal(t, 2, calls)

	_, err = ParseSiteVector(map[string]string{"b": "nope"}, nil)
	assert.ErrorIs(t, err, ErrBadTimeserial)
}
