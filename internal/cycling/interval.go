package cycling

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// isoComponents is a signed ISO-8601 duration: PnYnMnWnDTnHnMnS with every
// field allowed to carry its own sign. Composing two durations is then
// plain componentwise addition; a single leading '-' in the wire format is
// just shorthand for negating every parsed field.
type isoComponents struct {
	Years, Months, Weeks, Days, Hours, Mins, Secs int64
}

func (c isoComponents) isZero() bool {
	return c == isoComponents{}
}

// firstNonZeroNegative reports whether the most significant non-zero field
// is negative, used as this package's definition of "the interval is
// negative" for an interval composed of mixed-sign fields.
func (c isoComponents) firstNonZeroNegative() bool {
	for _, v := range []int64{c.Years, c.Months, c.Weeks, c.Days, c.Hours, c.Mins, c.Secs} {
		if v != 0 {
			return v < 0
		}
	}
	return false
}

func (c isoComponents) neg() isoComponents {
	return isoComponents{-c.Years, -c.Months, -c.Weeks, -c.Days, -c.Hours, -c.Mins, -c.Secs}
}

func (c isoComponents) abs() isoComponents {
	if c.firstNonZeroNegative() {
		return c.neg()
	}
	return c
}

func (c isoComponents) add(o isoComponents) isoComponents {
	return isoComponents{
		c.Years + o.Years, c.Months + o.Months, c.Weeks + o.Weeks, c.Days + o.Days,
		c.Hours + o.Hours, c.Mins + o.Mins, c.Secs + o.Secs,
	}
}

func (c isoComponents) mul(n int64) isoComponents {
	return isoComponents{c.Years * n, c.Months * n, c.Weeks * n, c.Days * n, c.Hours * n, c.Mins * n, c.Secs * n}
}

// applyTo advances t by c, used both for Point arithmetic and as the basis
// for Interval ordering (two intervals compare by their effect on a fixed
// reference instant, since calendar months/years have no fixed length).
func (c isoComponents) applyTo(t time.Time) time.Time {
	t = t.AddDate(int(c.Years), int(c.Months), int(c.Weeks*7+c.Days))
	d := time.Duration(c.Hours)*time.Hour + time.Duration(c.Mins)*time.Minute + time.Duration(c.Secs)*time.Second
	return t.Add(d)
}

var isoDurationRE = regexp.MustCompile(
	`^(-)?P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

func parseISOComponents(raw string) (isoComponents, error) {
	raw = strings.TrimSpace(raw)
	m := isoDurationRE.FindStringSubmatch(raw)
	if m == nil || raw == "" || raw == "P" || raw == "-P" {
		return isoComponents{}, fmt.Errorf("not a valid ISO-8601 duration: %q", raw)
	}
	field := func(s string) int64 {
		if s == "" {
			return 0
		}
		v, _ := strconv.ParseInt(s, 10, 64)
		return v
	}
	c := isoComponents{
		Years: field(m[2]), Months: field(m[3]), Weeks: field(m[4]), Days: field(m[5]),
		Hours: field(m[6]), Mins: field(m[7]), Secs: field(m[8]),
	}
	if m[1] == "-" {
		c = c.neg()
	}
	return c, nil
}

func (c isoComponents) String() string {
	neg := ""
	v := c
	if c.firstNonZeroNegative() {
		neg = "-"
		v = c.abs()
	}
	if v.isZero() {
		return "P0D"
	}
	var b strings.Builder
	b.WriteString(neg)
	b.WriteByte('P')
	writePart(&b, v.Years, 'Y')
	writePart(&b, v.Months, 'M')
	writePart(&b, v.Weeks, 'W')
	writePart(&b, v.Days, 'D')
	if v.Hours != 0 || v.Mins != 0 || v.Secs != 0 {
		b.WriteByte('T')
		writePart(&b, v.Hours, 'H')
		writePart(&b, v.Mins, 'M')
		writePart(&b, v.Secs, 'S')
	}
	return b.String()
}

func writePart(b *strings.Builder, v int64, unit byte) {
	if v == 0 {
		return
	}
	fmt.Fprintf(b, "%d%c", v, unit)
}

// Interval is a signed offset within one cycling Family: a plain integer
// count in the integer family, or an ISO-8601 duration in the ISO family.
type Interval struct {
	family Family
	n      int64
	iso    isoComponents
	raw    string
}

// NullInterval returns the zero-length interval for the given family.
func NullInterval(f Family) Interval {
	return Interval{family: f}
}

// ParseInterval parses an interval literal: a bare (possibly signed)
// integer for IntegerFamily, or an ISO-8601 duration such as "P1D" or
// "-PT6H" for ISOFamily. Results are memoized, per this package's bounded
// parse cache.
func ParseInterval(f Family, raw string) (Interval, error) {
	key := f.String() + "|" + raw
	if v, ok := intervalCache.get(key); ok {
		return v.(Interval), nil
	}
	var iv Interval
	var err error
	switch f {
	case IntegerFamily:
		n, perr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if perr != nil {
			return Interval{}, malformed(raw, perr)
		}
		iv = Interval{family: IntegerFamily, n: n, raw: raw}
	case ISOFamily:
		c, perr := parseISOComponents(RewriteBackCompatSugar(raw))
		if perr != nil {
			return Interval{}, malformed(raw, perr)
		}
		iv = Interval{family: ISOFamily, iso: c, raw: raw}
	}
	_ = err
	intervalCache.put(key, iv)
	return iv, nil
}

// Family reports the interval's cycling family.
func (iv Interval) Family() Family { return iv.family }

// String renders the interval back to its canonical literal form.
func (iv Interval) String() string {
	if iv.family == IntegerFamily {
		return strconv.FormatInt(iv.n, 10)
	}
	return iv.iso.String()
}

// IsZero reports whether the interval has null magnitude.
func (iv Interval) IsZero() bool {
	if iv.family == IntegerFamily {
		return iv.n == 0
	}
	return iv.iso.isZero()
}

// Add returns iv + other. Both must share a family.
func (iv Interval) Add(other Interval) (Interval, error) {
	if iv.family != other.family {
		return Interval{}, mismatch("interval+interval", iv.family, other.family)
	}
	if iv.family == IntegerFamily {
		return Interval{family: IntegerFamily, n: iv.n + other.n}, nil
	}
	return Interval{family: ISOFamily, iso: iv.iso.add(other.iso)}, nil
}

// Sub returns iv - other. Both must share a family.
func (iv Interval) Sub(other Interval) (Interval, error) {
	neg, err := other.Mul(-1)
	if err != nil {
		return Interval{}, err
	}
	return iv.Add(neg)
}

// Mul returns iv scaled by an integer factor.
func (iv Interval) Mul(n int64) (Interval, error) {
	if iv.family == IntegerFamily {
		return Interval{family: IntegerFamily, n: iv.n * n}, nil
	}
	return Interval{family: ISOFamily, iso: iv.iso.mul(n)}, nil
}

// Abs returns the positive-magnitude form of iv, unconditionally.
//
// The original cycling library's iso_interval_abs only has a return
// statement inside its "interval < other" branch, so calling it with an
// already-positive (or non-comparable) pair of arguments falls through and
// implicitly returns None — a defect silently tolerated by every caller
// that happened to only ever pass a negative interval first. This port
// has no such gap: Abs always returns the non-negative magnitude.
func (iv Interval) Abs() Interval {
	if iv.family == IntegerFamily {
		if iv.n < 0 {
			return Interval{family: IntegerFamily, n: -iv.n}
		}
		return iv
	}
	return Interval{family: ISOFamily, iso: iv.iso.abs()}
}

// referenceInstant is the fixed epoch used to compare two ISO intervals by
// their effect, since calendar years/months have no fixed length in
// isolation.
var referenceInstant = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Compare returns -1, 0, or 1 for iv <, ==, > other. Both must share a family.
func (iv Interval) Compare(other Interval) (int, error) {
	if iv.family != other.family {
		return 0, mismatch("interval compare", iv.family, other.family)
	}
	if iv.family == IntegerFamily {
		switch {
		case iv.n < other.n:
			return -1, nil
		case iv.n > other.n:
			return 1, nil
		default:
			return 0, nil
		}
	}
	a := iv.iso.applyTo(referenceInstant)
	b := other.iso.applyTo(referenceInstant)
	switch {
	case a.Before(b):
		return -1, nil
	case a.After(b):
		return 1, nil
	default:
		return 0, nil
	}
}
