package sched

import (
	"fmt"

	"github.com/swarmguard/cyclesched/internal/config"
	"github.com/swarmguard/cyclesched/internal/cycling"
	"github.com/swarmguard/cyclesched/internal/taskstate"
)

// BuildDefinitions turns a workflow's configured task specs into
// Definitions, parsing each one's recurrence in family. Dependency names
// are resolved and validated but not yet wired onto any instance — that
// happens per-instance in NewInstanceWired, since prerequisites are
// a property of an Instance's RequisiteSet, not the static Definition.
func BuildDefinitions(family cycling.Family, specs []config.TaskSpec) (map[string]*taskstate.Definition, map[string][]string, error) {
	defs := make(map[string]*taskstate.Definition, len(specs))
	deps := make(map[string][]string, len(specs))
	for _, spec := range specs {
		def := &taskstate.Definition{
			Name:           spec.Name,
			QuickDeath:     spec.QuickDeath,
			OneoffFollowOn: spec.OneoffFollowOn,
			OutputVerbs:    spec.OutputVerbs,
		}
		if spec.SequenceStep != "" {
			anchor, err := cycling.ParsePoint(family, spec.SequenceAnchor)
			if err != nil {
				return nil, nil, fmt.Errorf("task %s: sequence anchor: %w", spec.Name, err)
			}
			step, err := cycling.ParseInterval(family, spec.SequenceStep)
			if err != nil {
				return nil, nil, fmt.Errorf("task %s: sequence step: %w", spec.Name, err)
			}
			var end *cycling.Point
			if spec.SequenceEnd != "" {
				p, err := cycling.ParsePoint(family, spec.SequenceEnd)
				if err != nil {
					return nil, nil, fmt.Errorf("task %s: sequence end: %w", spec.Name, err)
				}
				end = &p
			}
			seq, err := cycling.NewSequence(anchor, step, end)
			if err != nil {
				return nil, nil, fmt.Errorf("task %s: sequence: %w", spec.Name, err)
			}
			def.Sequence = seq
		}
		defs[spec.Name] = def
		deps[spec.Name] = spec.DependsOn
	}
	for name, upstreams := range deps {
		for _, up := range upstreams {
			if _, ok := defs[up]; !ok {
				return nil, nil, fmt.Errorf("task %s depends on undefined task %s", name, up)
			}
		}
	}
	return defs, deps, nil
}

// NewInstanceWired creates a new Waiting instance of def at point and
// registers one prerequisite message per cotemporal upstream dependency
// — "<upstream>%<point> finished" for each name in deps[def.Name] — the
// static-graph counterpart of the original compiling each task's graph
// string into a fixed set of prerequisite messages at parse time.
func NewInstanceWired(def *taskstate.Definition, point cycling.Point, deps map[string][]string) (*taskstate.Instance, error) {
	inst, err := taskstate.NewInstance(def, point, taskstate.Waiting)
	if err != nil {
		return nil, err
	}
	for _, up := range deps[def.Name] {
		inst.Prereqs.Add(fmt.Sprintf("%s%%%s finished", up, point.String()))
	}
	return inst, nil
}
