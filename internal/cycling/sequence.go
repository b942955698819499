package cycling

import "github.com/swarmguard/cyclesched/internal/errs"

// maxSteps bounds the iterative stepping used by Next/Prev/NextEq so a
// zero or pathologically small step interval fails fast with a structured
// error instead of spinning forever.
const maxSteps = 1_000_000

// Sequence is a bounded recurrence: a repeating step Interval anchored at
// ContextStart and optionally capped at ContextEnd, exactly as the
// original cycling library's get_async_expr parses a "repeat from anchor
// every step, within [start, end]" recurrence.
type Sequence struct {
	family       Family
	anchor       Point
	step         Interval
	contextStart Point
	contextEnd   *Point
}

// NewSequence builds a sequence from an anchor point, a step interval, and
// an optional inclusive context end. anchor doubles as the context start.
func NewSequence(anchor Point, step Interval, contextEnd *Point) (*Sequence, error) {
	if anchor.family != step.family {
		return nil, mismatch("sequence anchor/step", anchor.family, step.family)
	}
	if step.IsZero() {
		return nil, errs.New(errs.KindMalformedCycle, step.String()).
			WithHint("a recurrence step must be non-zero")
	}
	if contextEnd != nil && contextEnd.family != anchor.family {
		return nil, mismatch("sequence anchor/context-end", anchor.family, contextEnd.family)
	}
	return &Sequence{
		family:       anchor.family,
		anchor:       anchor,
		step:         step,
		contextStart: anchor,
		contextEnd:   contextEnd,
	}, nil
}

// Family reports the sequence's cycling family.
func (s *Sequence) Family() Family { return s.family }

func (s *Sequence) stepForward(neg bool) (Interval, error) {
	if neg {
		return s.step.Mul(-1)
	}
	return s.step, nil
}

// IsOn reports whether p falls exactly on this sequence's recurrence.
func (s *Sequence) IsOn(p Point) (bool, error) {
	if p.family != s.family {
		return false, mismatch("sequence.IsOn", p.family, s.family)
	}
	cmp, err := p.Compare(s.contextStart)
	if err != nil {
		return false, err
	}
	if cmp < 0 {
		return false, nil
	}
	if s.contextEnd != nil {
		endCmp, err := p.Compare(*s.contextEnd)
		if err != nil {
			return false, err
		}
		if endCmp > 0 {
			return false, nil
		}
	}
	cur := s.contextStart
	for i := 0; i < maxSteps; i++ {
		c, err := cur.Compare(p)
		if err != nil {
			return false, err
		}
		if c == 0 {
			return true, nil
		}
		if c > 0 {
			return false, nil
		}
		cur, err = cur.Add(s.step)
		if err != nil {
			return false, err
		}
	}
	return false, errs.New(errs.KindMalformedCycle, s.step.String()).
		WithHint("recurrence did not converge within the step iteration bound")
}

// NextEq returns the first on-sequence point >= target, or ok=false if
// none exists within the context bound. Matches get_nexteq_point: if the
// first recurrence point already exceeds target, that first point is
// returned rather than the target itself.
func (s *Sequence) NextEq(target Point) (Point, bool, error) {
	if target.family != s.family {
		return Point{}, false, mismatch("sequence.NextEq", target.family, s.family)
	}
	cur := s.contextStart
	firstCmp, err := cur.Compare(target)
	if err != nil {
		return Point{}, false, err
	}
	if firstCmp >= 0 {
		return s.withinEnd(cur)
	}
	for i := 0; i < maxSteps; i++ {
		nxt, err := cur.Add(s.step)
		if err != nil {
			return Point{}, false, err
		}
		cmp, err := nxt.Compare(target)
		if err != nil {
			return Point{}, false, err
		}
		if cmp >= 0 {
			return s.withinEnd(nxt)
		}
		cur = nxt
	}
	return Point{}, false, errs.New(errs.KindMalformedCycle, s.step.String()).
		WithHint("recurrence did not converge within the step iteration bound")
}

// Next returns the first on-sequence point strictly after p.
func (s *Sequence) Next(p Point) (Point, bool, error) {
	if p.family != s.family {
		return Point{}, false, mismatch("sequence.Next", p.family, s.family)
	}
	eq, ok, err := s.NextEq(p)
	if err != nil || !ok {
		return Point{}, ok, err
	}
	cmp, err := eq.Compare(p)
	if err != nil {
		return Point{}, false, err
	}
	if cmp == 0 {
		nxt, err := eq.Add(s.step)
		if err != nil {
			return Point{}, false, err
		}
		return s.withinEnd(nxt)
	}
	return eq, true, nil
}

// Prev returns the last on-sequence point strictly before p.
func (s *Sequence) Prev(p Point) (Point, bool, error) {
	if p.family != s.family {
		return Point{}, false, mismatch("sequence.Prev", p.family, s.family)
	}
	cmp, err := s.contextStart.Compare(p)
	if err != nil {
		return Point{}, false, err
	}
	if cmp >= 0 {
		return Point{}, false, nil
	}
	cur := s.contextStart
	var last Point
	found := false
	for i := 0; i < maxSteps; i++ {
		c, err := cur.Compare(p)
		if err != nil {
			return Point{}, false, err
		}
		if c >= 0 {
			break
		}
		last = cur
		found = true
		nxt, err := cur.Add(s.step)
		if err != nil {
			return Point{}, false, err
		}
		cur = nxt
	}
	if !found {
		return Point{}, false, nil
	}
	return s.withinEnd(last)
}

func (s *Sequence) withinEnd(p Point) (Point, bool, error) {
	if s.contextEnd == nil {
		return p, true, nil
	}
	cmp, err := p.Compare(*s.contextEnd)
	if err != nil {
		return Point{}, false, err
	}
	if cmp > 0 {
		return Point{}, false, nil
	}
	return p, true, nil
}

// SetOffset rebuilds the recurrence anchored at contextStart + i, keeping
// the same step and context end. Matches Sequence.set_offset in the
// original: only the anchor moves, the step interval is untouched.
func (s *Sequence) SetOffset(i Interval) error {
	if i.family != s.family {
		return mismatch("sequence.SetOffset", i.family, s.family)
	}
	newAnchor, err := s.contextStart.Add(i)
	if err != nil {
		return err
	}
	s.anchor = newAnchor
	s.contextStart = newAnchor
	return nil
}
