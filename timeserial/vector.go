package timeserial

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// SiteVector is the furthest timeserial accepted from each known site.
// An absent site reads as Zero.
type SiteVector map[string]Timeserial

func (sv SiteVector) Get(site string) Timeserial {
	return sv[site]
}

// Put advances the site entry, returns whether it was unseen
// (i.e. made any difference). Entries never move backwards.
func (sv SiteVector) Put(site string, ts Timeserial) bool {
	pre, ok := sv[site]
	if ok && !ts.After(pre) {
		return false
	}
	sv[site] = ts
	return true
}

func (sv SiteVector) Clone() SiteVector {
	c := make(SiteVector, len(sv))
	for site, ts := range sv {
		c[site] = ts
	}
	return c
}

func (sv SiteVector) Sites() []string {
	sites := make([]string, 0, len(sv))
	for site := range sv {
		sites = append(sites, site)
	}
	slices.Sort(sites)
	return sites
}

// Strings renders the vector in its wire form, site -> timeserial text.
func (sv SiteVector) Strings() map[string]string {
	ret := make(map[string]string, len(sv))
	for site, ts := range sv {
		ret[site] = ts.String()
	}
	return ret
}

func (sv SiteVector) String() string {
	var b strings.Builder
	for i, site := range sv.Sites() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(site)
		b.WriteByte('=')
		b.WriteString(sv[site].String())
	}
	return b.String()
}

// ParseSiteVector reads the wire form with parse, Parse if nil. The map
// key is authoritative for the site even if the timeserial names another.
func ParseSiteVector(wire map[string]string, parse func(string) (Timeserial, error)) (SiteVector, error) {
	if parse == nil {
		parse = Parse
	}
	sv := make(SiteVector, len(wire))
	for site, str := range wire {
		ts, err := parse(str)
		if err != nil {
			return nil, errors.Wrapf(err, "site %q", site)
		}
		sv[site] = ts
	}
	return sv, nil
}
