package cycling

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Point is a single cycle point: a plain integer in the integer family, or
// a calendar instant in the ISO family.
type Point struct {
	family Family
	n      int64
	t      time.Time
	raw    string
}

// isoPointLayouts covers the subset of ISO-8601 basic/extended timestamps
// the engine accepts as cycle points, broadest (full precision, zoned) to
// narrowest (date only).
var isoPointLayouts = []string{
	"20060102T150405Z07:00",
	"20060102T150405Z",
	"20060102T1504Z07:00",
	"20060102T1504Z",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04Z",
	"20060102",
	"2006-01-02",
}

// ParsePoint parses a cycle point literal. Results are memoized.
func ParsePoint(f Family, raw string) (Point, error) {
	key := f.String() + "|" + raw
	if v, ok := pointCache.get(key); ok {
		return v.(Point), nil
	}
	var p Point
	switch f {
	case IntegerFamily:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Point{}, malformed(raw, err)
		}
		p = Point{family: IntegerFamily, n: n, raw: raw}
	case ISOFamily:
		t, err := parseISOPoint(raw)
		if err != nil {
			return Point{}, malformed(raw, err)
		}
		p = Point{family: ISOFamily, t: t, raw: raw}
	}
	pointCache.put(key, p)
	return p, nil
}

func parseISOPoint(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var lastErr error
	for _, layout := range isoPointLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("not a recognized ISO-8601 cycle point: %q: %w", raw, lastErr)
}

// Family reports the point's cycling family.
func (p Point) Family() Family { return p.family }

// String renders the point in its canonical basic ISO form (or decimal for
// the integer family).
func (p Point) String() string {
	if p.family == IntegerFamily {
		return strconv.FormatInt(p.n, 10)
	}
	return p.t.Format("20060102T150405Z")
}

// Compare returns -1, 0, or 1 for p <, ==, > other. Both must share a family.
func (p Point) Compare(other Point) (int, error) {
	if p.family != other.family {
		return 0, mismatch("point compare", p.family, other.family)
	}
	if p.family == IntegerFamily {
		switch {
		case p.n < other.n:
			return -1, nil
		case p.n > other.n:
			return 1, nil
		default:
			return 0, nil
		}
	}
	switch {
	case p.t.Before(other.t):
		return -1, nil
	case p.t.After(other.t):
		return 1, nil
	default:
		return 0, nil
	}
}

// Add returns p shifted by iv. p and iv must share a family.
func (p Point) Add(iv Interval) (Point, error) {
	if p.family != iv.family {
		return Point{}, mismatch("point+interval", p.family, iv.family)
	}
	if p.family == IntegerFamily {
		return Point{family: IntegerFamily, n: p.n + iv.n}, nil
	}
	return Point{family: ISOFamily, t: iv.iso.applyTo(p.t)}, nil
}

// SubPoint returns the interval p - other. Both must share a family.
func (p Point) SubPoint(other Point) (Interval, error) {
	if p.family != other.family {
		return Interval{}, mismatch("point-point", p.family, other.family)
	}
	if p.family == IntegerFamily {
		return Interval{family: IntegerFamily, n: p.n - other.n}, nil
	}
	secs := p.t.Sub(other.t)
	return Interval{family: ISOFamily, iso: isoComponents{Secs: int64(secs.Seconds())}}, nil
}

// SubInterval returns p shifted backwards by iv.
func (p Point) SubInterval(iv Interval) (Point, error) {
	neg, err := iv.Mul(-1)
	if err != nil {
		return Point{}, err
	}
	return p.Add(neg)
}

var backCompatRE = regexp.MustCompile(`^(Daily|Monthly|Yearly)\(\s*([^,)]*)\s*(?:,\s*(-?\d+))?\s*\)$`)

// RewriteBackCompatSugar rewrites the legacy Daily(anchor, step) /
// Monthly(anchor, step) / Yearly(anchor, step) recurrence sugar into the
// equivalent PnD / PnM / PnY ISO-8601 duration literal, matching the
// original cycling library's regex-based back-compat layer. The anchor
// argument only ever mattered to seed the recurrence's context start,
// which callers here already supply separately via Sequence's context
// bounds, so it is accepted but dropped — exactly as the original's own
// rewrite does.
func RewriteBackCompatSugar(raw string) string {
	raw = strings.TrimSpace(raw)
	m := backCompatRE.FindStringSubmatch(raw)
	if m == nil {
		return raw
	}
	step := int64(1)
	if m[3] != "" {
		if n, err := strconv.ParseInt(m[3], 10, 64); err == nil && n != 0 {
			step = n
		}
	}
	switch m[1] {
	case "Daily":
		return fmt.Sprintf("P%dD", step)
	case "Monthly":
		return fmt.Sprintf("P%dM", step)
	case "Yearly":
		return fmt.Sprintf("P%dY", step)
	default:
		return raw
	}
}
