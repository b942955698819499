// Package broker implements runtime dependency negotiation: each tick,
// every task instance's satisfied outputs are registered, then every
// instance's prerequisites are checked against the full registered set.
// This is the O(N·mean-outputs-per-task) brokered negotiation the
// original scheduler manager uses in place of pairwise O(N²) comparison.
//
// Ported from _examples/original_source/src/manager.py's negotiate() and
// the broker module it delegates to.
package broker

import "github.com/swarmguard/cyclesched/internal/taskstate"

// Broker accumulates the set of satisfied output messages across all
// registered instances for one negotiation round.
type Broker struct {
	satisfied map[string]bool
}

// New builds an empty broker.
func New() *Broker {
	return &Broker{satisfied: map[string]bool{}}
}

// Reset clears the broker for a new negotiation round.
func (b *Broker) Reset() {
	b.satisfied = map[string]bool{}
}

// Register records every satisfied output message of inst into the
// broker's pool of available messages.
func (b *Broker) Register(inst *taskstate.Instance) {
	for _, msg := range inst.Outputs.List() {
		if inst.Outputs.IsSatisfied(msg) {
			b.satisfied[msg] = true
		}
	}
}

// Negotiate satisfies as many of inst's outstanding prerequisites as the
// broker's registered pool allows.
func (b *Broker) Negotiate(inst *taskstate.Instance) {
	inst.ApplySatisfied(b.satisfied)
}

// Dump returns a snapshot of every message currently known to be
// satisfied, for diagnostics.
func (b *Broker) Dump() []string {
	out := make([]string, 0, len(b.satisfied))
	for msg := range b.satisfied {
		out = append(out, msg)
	}
	return out
}
