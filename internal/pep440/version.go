// Package pep440 implements parsing, normalization, and total ordering of
// Python package version strings (epoch, release, pre/post/dev segments, and
// local version labels). It is the single source of truth for "latest
// version" decisions and for the sorted listing order served to installers.
package pep440

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidVersion is wrapped by Parse for any string that does not match
// the version grammar. Use errors.Is to detect it.
var ErrInvalidVersion = errors.New("invalid version")

// versionPattern accepts the version grammar including the alternate
// spellings the ecosystem tolerates: a leading "v", "-"/"_"/"." separators
// around segment labels, "alpha"/"beta"/"c"/"pre"/"preview" pre-release
// aliases, "rev"/"r" post-release aliases, the bare "-N" post-release form,
// and implicit segment numbers ("1.0a" means "1.0a0").
var versionPattern = regexp.MustCompile(`(?i)^v?` +
	`(?:(?P<epoch>[0-9]+)!)?` +
	`(?P<release>[0-9]+(?:\.[0-9]+)*)` +
	`(?:[-_.]?(?P<preL>alpha|beta|preview|pre|a|b|c|rc)[-_.]?(?P<preN>[0-9]+)?)?` +
	`(?:-(?P<postN1>[0-9]+)|[-_.]?(?P<postL>post|rev|r)[-_.]?(?P<postN2>[0-9]+)?)?` +
	`(?:[-_.]?(?P<devL>dev)[-_.]?(?P<devN>[0-9]+)?)?` +
	`(?:\+(?P<local>[a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`)

// preRelease is a pre-release segment. Phase is one of "a", "b", "rc" after
// alias normalization; ordering is a < b < rc.
type preRelease struct {
	phase string
	num   int
}

// localPart is one dot-separated piece of a local version label. Numeric
// parts order after (greater than) alphanumeric parts.
type localPart struct {
	numeric bool
	num     int
	str     string
}

// Version is a parsed, normalized version. The zero value is not a valid
// version; obtain one through Parse or MustParse.
type Version struct {
	epoch   int
	release []int
	pre     *preRelease
	post    *int
	dev     *int
	local   []localPart
}

// Parse converts raw into a Version, or returns an error wrapping
// ErrInvalidVersion when raw does not match the grammar. Parsing is
// case-insensitive and tolerates surrounding whitespace.
func Parse(raw string) (Version, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty string", ErrInvalidVersion)
	}

	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
	}
	group := func(name string) string {
		return m[versionPattern.SubexpIndex(name)]
	}

	var v Version

	if e := group("epoch"); e != "" {
		n, err := strconv.Atoi(e)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: epoch out of range", ErrInvalidVersion, raw)
		}
		v.epoch = n
	}

	for _, part := range strings.Split(group("release"), ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: release segment out of range", ErrInvalidVersion, raw)
		}
		v.release = append(v.release, n)
	}

	if l := group("preL"); l != "" {
		v.pre = &preRelease{
			phase: normalizePrePhase(l),
			num:   atoiDefault(group("preN")),
		}
	}

	if n1 := group("postN1"); n1 != "" {
		n := atoiDefault(n1)
		v.post = &n
	} else if group("postL") != "" {
		n := atoiDefault(group("postN2"))
		v.post = &n
	}

	if group("devL") != "" {
		n := atoiDefault(group("devN"))
		v.dev = &n
	}

	if loc := group("local"); loc != "" {
		for _, part := range strings.FieldsFunc(strings.ToLower(loc), func(r rune) bool {
			return r == '-' || r == '_' || r == '.'
		}) {
			if n, err := strconv.Atoi(part); err == nil {
				v.local = append(v.local, localPart{numeric: true, num: n})
			} else {
				v.local = append(v.local, localPart{str: part})
			}
		}
	}

	return v, nil
}

// MustParse is Parse for static inputs; it panics on error.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func normalizePrePhase(l string) string {
	switch strings.ToLower(l) {
	case "a", "alpha":
		return "a"
	case "b", "beta":
		return "b"
	default: // c, rc, pre, preview
		return "rc"
	}
}

func atoiDefault(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// String returns the canonical normalized spelling: epoch only when nonzero,
// alias-free segment labels, explicit segment numbers, and dot-separated
// local parts. Parse(v.String()) yields a Version equal to v.
func (v Version) String() string {
	var b strings.Builder

	if v.epoch > 0 {
		fmt.Fprintf(&b, "%d!", v.epoch)
	}

	for i, r := range v.release {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(r))
	}

	if v.pre != nil {
		b.WriteString(v.pre.phase)
		b.WriteString(strconv.Itoa(v.pre.num))
	}
	if v.post != nil {
		b.WriteString(".post")
		b.WriteString(strconv.Itoa(*v.post))
	}
	if v.dev != nil {
		b.WriteString(".dev")
		b.WriteString(strconv.Itoa(*v.dev))
	}

	if len(v.local) > 0 {
		b.WriteByte('+')
		for i, p := range v.local {
			if i > 0 {
				b.WriteByte('.')
			}
			if p.numeric {
				b.WriteString(strconv.Itoa(p.num))
			} else {
				b.WriteString(p.str)
			}
		}
	}

	return b.String()
}

// IsPrerelease reports whether v is a pre-release or dev release, which
// installers skip by default.
func (v Version) IsPrerelease() bool {
	return v.pre != nil || v.dev != nil
}

// Compare returns -1, 0, or +1 as a orders before, equal to, or after b.
//
// Ordering: epoch first; release segments component-wise with missing
// components treated as zero (so 1.0 equals 1.0.0); then, at the same
// release, dev-only < pre-releases (a < b < rc, by number) < final < post
// releases, with a dev marker ordering a version immediately before its
// non-dev form; local version labels order after the same public version,
// part-wise, numeric parts above alphanumeric ones.
func Compare(a, b Version) int {
	if a.epoch != b.epoch {
		return cmpInt(a.epoch, b.epoch)
	}

	if c := compareRelease(a.release, b.release); c != 0 {
		return c
	}

	if c := comparePre(a, b); c != 0 {
		return c
	}

	if c := comparePost(a.post, b.post); c != 0 {
		return c
	}

	if c := compareDev(a.dev, b.dev); c != 0 {
		return c
	}

	return compareLocal(a.local, b.local)
}

// Less reports whether a orders strictly before b.
func Less(a, b Version) bool { return Compare(a, b) < 0 }

// Sort orders versions ascending in place.
func Sort(versions []Version) {
	sort.Slice(versions, func(i, j int) bool { return Less(versions[i], versions[j]) })
}

// Equal reports whether a and b normalize to the same version.
func Equal(a, b Version) bool { return Compare(a, b) == 0 }

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareRelease(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			return cmpInt(av, bv)
		}
	}
	return 0
}

// comparePre ranks the pre-release segment. A version with no pre-release
// segment ranks above any pre-release — except that a bare dev release
// (no pre, no post) ranks below everything at the same release number.
func comparePre(a, b Version) int {
	ra, rb := preRank(a), preRank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	if ra == 0 { // both are actual pre-releases
		if a.pre.phase != b.pre.phase {
			if a.pre.phase < b.pre.phase {
				return -1
			}
			return 1
		}
		return cmpInt(a.pre.num, b.pre.num)
	}
	return 0
}

func preRank(v Version) int {
	switch {
	case v.pre != nil:
		return 0
	case v.post == nil && v.dev != nil:
		return -1
	default:
		return 1
	}
}

func comparePost(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return cmpInt(*a, *b)
	}
}

func compareDev(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil: // non-dev sorts after its dev form
		return 1
	case b == nil:
		return -1
	default:
		return cmpInt(*a, *b)
	}
}

func compareLocal(a, b []localPart) int {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0:
		return -1
	case len(b) == 0:
		return 1
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		pa, pb := a[i], b[i]
		switch {
		case pa.numeric && pb.numeric:
			if c := cmpInt(pa.num, pb.num); c != 0 {
				return c
			}
		case pa.numeric:
			return 1 // numeric parts rank above alphanumeric
		case pb.numeric:
			return -1
		default:
			if pa.str != pb.str {
				if pa.str < pb.str {
					return -1
				}
				return 1
			}
		}
	}
	return cmpInt(len(a), len(b))
}
