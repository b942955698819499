// Package cycling implements the engine's cycle-point algebra: two point
// families (plain integer cycling and ISO-8601 calendar cycling) sharing a
// common Point/Interval/Sequence vocabulary, plus the back-compatible
// Daily/Monthly/Yearly recurrence sugar carried over from the original
// scheduler's cycling library.
package cycling

import (
	"fmt"

	"github.com/swarmguard/cyclesched/internal/errs"
)

// Family distinguishes the two cycling universes. Points and intervals from
// different families never compare equal and never arithmetic together.
type Family int

const (
	IntegerFamily Family = iota
	ISOFamily
)

func (f Family) String() string {
	if f == ISOFamily {
		return "iso8601"
	}
	return "integer"
}

func mismatch(op string, a, b Family) error {
	return errs.New(errs.KindCycleKindMismatch,
		fmt.Sprintf("%s: %s vs %s", op, a, b)).
		WithHint("points/intervals from different cycling families cannot be combined")
}

func malformed(input string, cause error) error {
	return errs.Wrap(errs.KindMalformedCycle, input, cause)
}
