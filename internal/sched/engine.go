// Package sched drives the scheduling loop: negotiate dependencies,
// dispatch ready tasks, spawn successors within a runahead bound, and
// clean up spent instances — plus the admin mutations (reset, insert,
// purge, kill, hold) an operator or the wire API issues against a running
// workflow.
//
// Ported from _examples/original_source/src/manager.py's manager class,
// generalized from its fixed "hours since epoch" cycle arithmetic to
// internal/cycling's Family-agnostic Point/Interval/Sequence.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/swarmguard/cyclesched/internal/broker"
	"github.com/swarmguard/cyclesched/internal/cycling"
	"github.com/swarmguard/cyclesched/internal/errs"
	"github.com/swarmguard/cyclesched/internal/statedump"
	"github.com/swarmguard/cyclesched/internal/taskstate"
)

// StopMode selects how an explicit stop request winds a running
// scheduler down, matching spec.md §6's "stop [--mode clean|now]".
type StopMode string

const (
	// StopModeClean lets every in-flight instance (submitted or running)
	// reach finished or failed before the tick driver halts.
	StopModeClean StopMode = "clean"
	// StopModeNow halts as soon as the current tick finishes, regardless
	// of in-flight work.
	StopModeNow StopMode = "now"
)

// ResetKind selects which of the three reset flavors an operator asked
// for, mirroring reset_task / reset_task_to_ready / reset_task_to_finished.
type ResetKind int

const (
	ResetToWaiting ResetKind = iota
	ResetToReady
	ResetToFinished
)

// DispatchFunc submits a ready task instance to a runner (internal/runner,
// C7) and reports whether submission itself succeeded — not whether the
// job's eventual exit succeeded, which arrives later via Incoming.
type DispatchFunc func(ctx context.Context, inst *taskstate.Instance) error

// Engine owns one workflow's live task instances and drives its
// negotiate/dispatch/spawn/cleanup tick, plus the admin operations that
// mutate it out of band.
type Engine struct {
	mu sync.Mutex

	Family    cycling.Family
	Defs      map[string]*taskstate.Definition
	Deps      map[string][]string // task name -> cotemporal upstream dependencies
	Registry  *taskstate.Registry
	Broker    *broker.Broker
	Instances []*taskstate.Instance

	// RunaheadLimit bounds how far ahead of the oldest live task's cycle
	// point a task may spawn its successor. The zero interval disables
	// the bound. Matches max_runahead_hours, generalized to an Interval.
	RunaheadLimit cycling.Interval

	// StopPoint, if set, is the last cycle point the workflow will run:
	// spawn and insert both refuse to materialize anything past it.
	StopPoint *cycling.Point

	// HoldNow suspends all dispatch when true (set_system_hold).
	HoldNow bool
	// HoldPoint, if set, suspends dispatch only for instances at or past
	// this cycle point (will_pause_at).
	HoldPoint *cycling.Point

	// Store, if non-nil, receives a rotating pre-mutation snapshot ahead
	// of every admin operation. SnapshotKeep bounds how many are retained.
	Store        *statedump.Store
	SnapshotKeep int

	// Dispatch is called for every instance that transitions to
	// Submitted this tick. May be nil in tests that only exercise state
	// transitions.
	Dispatch DispatchFunc

	// CheckRequisites, if set, runs once per tick against every instance
	// after negotiation and before dispatch — the hook point for a task
	// type that needs custom prerequisite logic beyond the broker's
	// message-satisfaction model (e.g. clock triggers).
	CheckRequisites func(inst *taskstate.Instance)

	// SchedulerPaused suspends the entire tick — negotiate, dispatch,
	// spawn, and cleanup — when true, the CLI's pause/resume pair.
	// Distinct from HoldNow/HoldPoint, which only suspend dispatch while
	// the rest of the tick keeps running.
	SchedulerPaused bool

	stopRequested bool
	stopMode      StopMode
}

func pointLess(a, b cycling.Point) bool {
	cmp, _ := a.Compare(b)
	return cmp < 0
}

// Tick runs one full scheduling cycle in the manager's fixed order:
// negotiate, check requisites, dispatch, spawn, cleanup.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.SchedulerPaused {
		return nil
	}

	e.drainInboxes()
	e.negotiate()
	e.runCheckRequisites()
	if err := e.dispatch(ctx); err != nil {
		return err
	}
	if err := e.spawn(); err != nil {
		return err
	}
	e.cleanup()
	return nil
}

// drainInboxes applies every message queued against each instance since
// the last tick, in arrival order, before negotiation runs — the
// scheduler side of the per-task inbox: inbound job-status reports never
// mutate state directly, they queue until the tick that owns e.mu picks
// them up.
func (e *Engine) drainInboxes() {
	for _, inst := range e.Instances {
		for _, msg := range inst.DrainInbox() {
			inst.Incoming(msg.Priority, msg.Text)
			e.Registry.MarkDirty()
		}
	}
}

func (e *Engine) negotiate() {
	e.Broker.Reset()
	for _, inst := range e.Instances {
		e.Broker.Register(inst)
	}
	for _, inst := range e.Instances {
		e.Broker.Negotiate(inst)
	}
}

func (e *Engine) runCheckRequisites() {
	if e.CheckRequisites == nil {
		return
	}
	for _, inst := range e.Instances {
		e.CheckRequisites(inst)
	}
}

func (e *Engine) dispatch(ctx context.Context) error {
	if e.HoldNow {
		return nil
	}
	for _, inst := range e.Instances {
		if e.HoldPoint != nil {
			cmp, err := inst.Point.Compare(*e.HoldPoint)
			if err != nil {
				return err
			}
			if cmp >= 0 {
				continue
			}
		}
		if !inst.Dispatch() {
			continue
		}
		e.Registry.MarkDirty()
		if e.Dispatch == nil {
			continue
		}
		if err := e.Dispatch(ctx, inst); err != nil {
			inst.Incoming("CRITICAL", inst.ID()+" failed")
		}
	}
	return nil
}

// readyToSpawn decides whether an instance has progressed far enough to
// create its successor. The original leaves ready_to_spawn to per-task
// subclass overrides (typically "started running", sometimes "a
// submission delay has elapsed"); this generalized engine has no task
// subclasses to override it, so it uses cylc's actual steady-state rule:
// a task is ready to spawn its successor as soon as it leaves Waiting.
func (e *Engine) readyToSpawn(inst *taskstate.Instance) bool {
	return !inst.IsWaiting()
}

func (e *Engine) oldestPoint() (cycling.Point, bool) {
	if len(e.Instances) == 0 {
		return cycling.Point{}, false
	}
	oldest := e.Instances[0].Point
	for _, inst := range e.Instances[1:] {
		if pointLess(inst.Point, oldest) {
			oldest = inst.Point
		}
	}
	return oldest, true
}

func (e *Engine) tooFarAhead(point, oldest cycling.Point) (bool, error) {
	if e.RunaheadLimit.IsZero() {
		return false, nil
	}
	diff, err := point.SubPoint(oldest)
	if err != nil {
		return false, err
	}
	cmp, err := diff.Compare(e.RunaheadLimit)
	if err != nil {
		return false, err
	}
	return cmp > 0, nil
}

func (e *Engine) findInstance(name string, point cycling.Point) *taskstate.Instance {
	for _, inst := range e.Instances {
		if inst.Def.Name != name {
			continue
		}
		cmp, err := inst.Point.Compare(point)
		if err == nil && cmp == 0 {
			return inst
		}
	}
	return nil
}

func (e *Engine) findByID(id string) *taskstate.Instance {
	for _, inst := range e.Instances {
		if inst.ID() == id {
			return inst
		}
	}
	return nil
}

func (e *Engine) removeInstance(inst *taskstate.Instance) {
	for i, cur := range e.Instances {
		if cur == inst {
			e.Instances = append(e.Instances[:i], e.Instances[i+1:]...)
			e.Registry.DecInstanceCount(inst.Def.Name)
			slog.Info("task removed from pool", "id", inst.ID(), "state", inst.Status())
			return
		}
	}
}

// spawnSuccessor creates inst's next-cycle occurrence if its recurrence
// has one, it doesn't already exist, and it doesn't fall past the
// configured stop point.
func (e *Engine) spawnSuccessor(inst *taskstate.Instance) error {
	seq := inst.Def.Sequence
	if seq == nil {
		return nil
	}
	next, ok, err := seq.Next(inst.Point)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if e.StopPoint != nil {
		cmp, err := next.Compare(*e.StopPoint)
		if err != nil {
			return err
		}
		if cmp > 0 {
			return nil
		}
	}
	if e.findInstance(inst.Def.Name, next) != nil {
		return nil
	}
	succ, err := NewInstanceWired(inst.Def, next, e.Deps)
	if err != nil {
		return err
	}
	succ.Flow = inst.Flow
	e.Instances = append(e.Instances, succ)
	e.Registry.IncInstanceCount(inst.Def.Name)
	e.Registry.MarkDirty()
	return nil
}

func (e *Engine) spawn() error {
	oldest, ok := e.oldestPoint()
	if !ok {
		return nil
	}
	for _, inst := range e.Instances {
		if inst.HasSpawned() {
			continue
		}
		tooFar, err := e.tooFarAhead(inst.Point, oldest)
		if err != nil {
			return err
		}
		if tooFar {
			continue
		}
		if !inst.Spawn(e.readyToSpawn(inst)) {
			continue
		}
		if err := e.spawnSuccessor(inst); err != nil {
			return err
		}
	}
	return nil
}

// spawnBounds reports whether every instance has already spawned, and if
// not, the earliest cycle point among those that haven't.
func (e *Engine) spawnBounds() (allSpawned bool, earliest cycling.Point, has bool) {
	allSpawned = true
	for _, inst := range e.Instances {
		if inst.HasSpawned() {
			continue
		}
		allSpawned = false
		if !has || pointLess(inst.Point, earliest) {
			earliest = inst.Point
			has = true
		}
	}
	return
}

// finishBounds reports whether every instance has finished, and if not,
// the earliest cycle point among those that haven't.
func (e *Engine) finishBounds() (allFinished bool, earliest cycling.Point, has bool) {
	allFinished = true
	for _, inst := range e.Instances {
		if inst.IsFinished() {
			continue
		}
		allFinished = false
		if !has || pointLess(inst.Point, earliest) {
			earliest = inst.Point
			has = true
		}
	}
	return
}

// cleanup removes spent instances in two passes, mirroring
// manager.py's cleanup():
//
//  1. quick-death: a quick_death task is spent once every instance at an
//     earlier-or-equal cycle has spawned (or everything has spawned), and
//     nothing at its own cycle point has failed. The original guards this
//     branch with "not all_spawned" around a condition that only reduces
//     to something useful when some task hasn't spawned yet, which means
//     quick-death cleanup silently never runs once the workflow has fully
//     spawned ahead — a defect its own comment's stated intent
//     contradicts. This port implements the documented intent: quick-death
//     is eligible whenever nothing's left unspawned, or the instance sits
//     strictly before the earliest unspawned point.
//  2. general: remaining done instances, grouped by cycle point newest to
//     oldest; within each point, only the first instance whose *effective*
//     name (its own, or its configured one-off follow-on name for a task
//     that will never recur) hasn't been kept yet survives — later
//     (older) duplicates of an already-kept name are spent.
func (e *Engine) cleanup() {
	failedPoints := map[string]bool{}
	for _, inst := range e.Instances {
		if inst.IsFailed() {
			failedPoints[inst.Point.String()] = true
		}
	}
	allSpawned, earliestUnspawned, hasUnspawned := e.spawnBounds()
	allFinished, earliestUnfinished, hasUnfinished := e.finishBounds()

	spent := map[*taskstate.Instance]bool{}

	for _, inst := range e.Instances {
		if !inst.Def.QuickDeath || !inst.Done() {
			continue
		}
		if failedPoints[inst.Point.String()] {
			continue
		}
		eligible := allSpawned
		if !eligible && hasUnspawned {
			cmp, err := inst.Point.Compare(earliestUnspawned)
			if err == nil && cmp < 0 {
				eligible = true
			}
		}
		if eligible {
			spent[inst] = true
		}
	}

	byPoint := map[string][]*taskstate.Instance{}
	var points []cycling.Point
	pointSeen := map[string]bool{}
	for _, inst := range e.Instances {
		if spent[inst] || !inst.Done() {
			continue
		}
		if failedPoints[inst.Point.String()] {
			continue
		}
		eligible := allFinished
		if !eligible && hasUnfinished {
			cmp, err := inst.Point.Compare(earliestUnfinished)
			if err == nil && cmp < 0 {
				eligible = true
			}
		}
		if !eligible {
			continue
		}
		key := inst.Point.String()
		byPoint[key] = append(byPoint[key], inst)
		if !pointSeen[key] {
			pointSeen[key] = true
			points = append(points, inst.Point)
		}
	}
	sort.Slice(points, func(i, j int) bool {
		cmp, _ := points[i].Compare(points[j])
		return cmp > 0
	})
	seenName := map[string]bool{}
	for _, pt := range points {
		for _, inst := range byPoint[pt.String()] {
			name := inst.Def.Name
			if inst.Def.OneoffFollowOn != "" {
				name = inst.Def.OneoffFollowOn
			}
			if seenName[name] {
				spent[inst] = true
			} else {
				seenName[name] = true
			}
		}
	}

	if len(spent) == 0 {
		return
	}
	kept := make([]*taskstate.Instance, 0, len(e.Instances)-len(spent))
	for _, inst := range e.Instances {
		if spent[inst] {
			e.Registry.DecInstanceCount(inst.Def.Name)
			slog.Info("task removed (spent)", "id", inst.ID(), "quick_death", inst.Def.QuickDeath)
			continue
		}
		kept = append(kept, inst)
	}
	e.Instances = kept
	e.Registry.MarkDirty()
}

func (e *Engine) defNames() []string {
	names := make([]string, 0, len(e.Defs))
	for name := range e.Defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// snapshot records a pre-mutation state dump, replicating manager.py's
// "pre-X state dump" warning logged ahead of every admin call. Callers
// must already hold e.mu.
func (e *Engine) snapshot(ctx context.Context, label string) error {
	if e.Store == nil {
		return nil
	}
	snap := statedump.Build(time.Now(), nil, e.defNames(), e.Registry, e.Instances)
	return e.Store.Rotate(ctx, label, snap.Render(), e.SnapshotKeep)
}

// Reset force-sets a task instance's state, per one of the three flavors
// the original exposes as reset_task / reset_task_to_ready /
// reset_task_to_finished.
func (e *Engine) Reset(ctx context.Context, id string, kind ResetKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-reset"); err != nil {
		return err
	}
	inst := e.findByID(id)
	if inst == nil {
		return errs.New(errs.KindTaskNotFound, id)
	}
	switch kind {
	case ResetToWaiting:
		inst.SetStatus(taskstate.Waiting)
		inst.Prereqs.SetAllUnsatisfied()
		inst.Outputs.SetAllUnsatisfied()
	case ResetToReady:
		inst.SetStatus(taskstate.Waiting)
		inst.Prereqs.SetAllSatisfied()
		inst.Outputs.SetAllUnsatisfied()
	case ResetToFinished:
		inst.SetStatus(taskstate.Finished)
		inst.Prereqs.SetAllSatisfied()
		inst.Outputs.SetAllSatisfied()
	default:
		return errs.New(errs.KindConfigError, fmt.Sprintf("%d", kind)).WithHint("unknown reset kind")
	}
	e.Registry.MarkDirty()
	return nil
}

// Insert materializes a new Waiting instance of a defined task at the
// given cycle point, refusing duplicates and points past the stop point.
func (e *Engine) Insert(ctx context.Context, name string, point cycling.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.Defs[name]
	if !ok {
		return errs.New(errs.KindTaskNotFound, name)
	}
	if e.StopPoint != nil {
		cmp, err := point.Compare(*e.StopPoint)
		if err != nil {
			return err
		}
		if cmp > 0 {
			return errs.New(errs.KindConfigError, point.String()).WithHint("past the configured stop point")
		}
	}
	id := fmt.Sprintf("%s%%%s", name, point.String())
	if e.findInstance(name, point) != nil {
		return errs.New(errs.KindDuplicateTask, id)
	}
	if err := e.snapshot(ctx, "pre-insertion"); err != nil {
		return err
	}
	inst, err := NewInstanceWired(def, point, e.Deps)
	if err != nil {
		return err
	}
	e.Instances = append(e.Instances, inst)
	e.Registry.IncInstanceCount(name)
	e.Registry.MarkDirty()
	return nil
}

// Kill removes the named instances outright, with no successor spawned.
func (e *Engine) Kill(ctx context.Context, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-kill"); err != nil {
		return err
	}
	for _, id := range ids {
		inst := e.findByID(id)
		if inst == nil {
			return errs.New(errs.KindTaskNotFound, id)
		}
		e.removeInstance(inst)
	}
	e.Registry.MarkDirty()
	return nil
}

func (e *Engine) idsAtPoint(point cycling.Point) []string {
	var ids []string
	for _, inst := range e.Instances {
		cmp, err := inst.Point.Compare(point)
		if err == nil && cmp == 0 {
			ids = append(ids, inst.ID())
		}
	}
	return ids
}

// KillCycle removes every instance at the given cycle point.
func (e *Engine) KillCycle(ctx context.Context, point cycling.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-kill-cycle"); err != nil {
		return err
	}
	for _, id := range e.idsAtPoint(point) {
		if inst := e.findByID(id); inst != nil {
			e.removeInstance(inst)
		}
	}
	e.Registry.MarkDirty()
	return nil
}

// spawnAndDieLocked forces an instance to spawn its successor (if it
// hasn't already) and then removes it immediately, without waiting for
// it to actually run to completion. Mirrors spawn_and_die. A missing id
// is a no-op — the original logs a warning and returns rather than
// erroring, and callers recursing through a cycle chain (Purge) rely on
// that to terminate cleanly once the chain runs out of materialized
// instances.
func (e *Engine) spawnAndDieLocked(id string) error {
	inst := e.findByID(id)
	if inst == nil {
		return nil
	}
	if inst.Spawn(true) {
		if err := e.spawnSuccessor(inst); err != nil {
			return err
		}
	}
	e.removeInstance(inst)
	return nil
}

// SpawnAndDie is the public, locking entry point for a single
// spawn-and-die.
func (e *Engine) SpawnAndDie(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-spawn-and-die"); err != nil {
		return err
	}
	return e.spawnAndDieLocked(id)
}

// SpawnAndDieCycle applies spawn-and-die to every instance at the given
// cycle point.
func (e *Engine) SpawnAndDieCycle(ctx context.Context, point cycling.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-spawn-and-die-cycle"); err != nil {
		return err
	}
	for _, id := range e.idsAtPoint(point) {
		if err := e.spawnAndDieLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// cotemporalDependees returns every instance at parent's own cycle point
// that depends on parent's outputs, directly or through other instances
// at that point — the set purge must also spawn-and-die before it can
// remove parent itself, per find_cotemporal_dependees.
func (e *Engine) cotemporalDependees(parent *taskstate.Instance) []*taskstate.Instance {
	var out []*taskstate.Instance
	parentPoint := parent.Point.String()
	seen := map[*taskstate.Instance]bool{parent: true}
	frontier := []*taskstate.Instance{parent}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, inst := range e.Instances {
			if seen[inst] || inst.Point.String() != parentPoint {
				continue
			}
			if inst.DependsOn(cur.ID()) {
				seen[inst] = true
				out = append(out, inst)
				frontier = append(frontier, inst)
			}
		}
	}
	return out
}

// Purge recursively spawn-and-dies a task and its cotemporal dependees,
// cycle point by cycle point, from id forward through its recurrence
// until stop (inclusive). Matches manager.py's purge(), including its
// "--stop" bound.
func (e *Engine) Purge(ctx context.Context, id string, stop cycling.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.purgeLocked(ctx, id, stop)
}

func (e *Engine) purgeLocked(ctx context.Context, id string, stop cycling.Point) error {
	inst := e.findByID(id)
	if inst == nil {
		return nil
	}
	if err := e.snapshot(ctx, "pre-purge"); err != nil {
		return err
	}
	for _, dep := range e.cotemporalDependees(inst) {
		if err := e.spawnAndDieLocked(dep.ID()); err != nil {
			return err
		}
	}
	seq := inst.Def.Sequence
	name := inst.Def.Name
	point := inst.Point
	if err := e.spawnAndDieLocked(id); err != nil {
		return err
	}
	if seq == nil {
		return nil
	}
	next, ok, err := seq.Next(point)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	cmp, err := next.Compare(stop)
	if err != nil {
		return err
	}
	if cmp > 0 {
		return nil
	}
	nextID := fmt.Sprintf("%s%%%s", name, next.String())
	return e.purgeLocked(ctx, nextID, stop)
}

// SetSystemHold suspends all dispatch until UnsetSystemHold is called.
func (e *Engine) SetSystemHold(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-hold"); err != nil {
		return err
	}
	e.HoldNow = true
	return nil
}

// UnsetSystemHold resumes dispatch.
func (e *Engine) UnsetSystemHold(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-unhold"); err != nil {
		return err
	}
	e.HoldNow = false
	return nil
}

// WillPauseAt sets a cycle point at or after which dispatch is suspended.
func (e *Engine) WillPauseAt(ctx context.Context, point cycling.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-will-pause-at"); err != nil {
		return err
	}
	e.HoldPoint = &point
	return nil
}

// Held reports whether the workflow is currently held, either
// unconditionally or at its configured pause point (hold/will_pause_at,
// not the scheduler-wide pause/resume pair below).
func (e *Engine) Held() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.HoldNow || e.HoldPoint != nil
}

// SetOutputs marks the named outputs complete for each task id, defaulting
// to the terminal "finished" output when none are given, and optionally
// attributes an operator-chosen flow number to the instance for any
// successor it goes on to spawn — the engine side of the CLI's
// set-outputs command (spec.md §6).
func (e *Engine) SetOutputs(ctx context.Context, ids []string, outputs []string, flow *int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-set-outputs"); err != nil {
		return err
	}
	if len(outputs) == 0 {
		outputs = []string{"finished"}
	}
	for _, id := range ids {
		inst := e.findByID(id)
		if inst == nil {
			return errs.New(errs.KindTaskNotFound, id)
		}
		if flow != nil {
			inst.Flow = *flow
		}
		for _, verb := range outputs {
			inst.Incoming("NORMAL", id+" "+verb)
		}
	}
	e.Registry.MarkDirty()
	return nil
}

// Report enqueues an inbound (priority, text) message against the named
// instance's inbox, applied at the start of the engine's next tick —
// the wire layer's entry point for a remote job's status report
// (spec.md §5's per-task inbox).
func (e *Engine) Report(id, priority, text string) error {
	e.mu.Lock()
	inst := e.findByID(id)
	e.mu.Unlock()
	if inst == nil {
		return errs.New(errs.KindTaskNotFound, id)
	}
	inst.EnqueueMessage(priority, text)
	e.Registry.MarkDirty()
	return nil
}

// Pause suspends the entire tick — unlike SetSystemHold, nothing
// progresses at all, not even spawn or cleanup — until Resume is called.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-pause"); err != nil {
		return err
	}
	e.SchedulerPaused = true
	return nil
}

// Resume reverses Pause.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-resume"); err != nil {
		return err
	}
	e.SchedulerPaused = false
	return nil
}

// IsPaused reports whether the scheduler is globally paused.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.SchedulerPaused
}

// Stop requests the scheduler wind down. StopModeNow is satisfied as soon
// as the current tick completes; StopModeClean waits until every
// submitted or running instance has reached finished or failed. The tick
// driver (cmd/scheduler) polls ShouldStop after each tick and halts once
// it reports true.
func (e *Engine) Stop(ctx context.Context, mode StopMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.snapshot(ctx, "pre-stop"); err != nil {
		return err
	}
	e.stopRequested = true
	e.stopMode = mode
	return nil
}

// ShouldStop reports whether a prior Stop request's wind-down condition
// has now been met.
func (e *Engine) ShouldStop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.stopRequested {
		return false
	}
	if e.stopMode == StopModeNow {
		return true
	}
	for _, inst := range e.Instances {
		if inst.IsSubmitted() || inst.IsRunning() {
			return false
		}
	}
	return true
}

// ParseID splits a "<task-name>%<cycle-point>" identifier, the inverse of
// Instance.ID.
func ParseID(id string) (name, point string, err error) {
	parts := strings.SplitN(id, "%", 2)
	if len(parts) != 2 {
		return "", "", errs.New(errs.KindTaskNotFound, id).WithHint("expected '<name>%<cycle-point>'")
	}
	return parts[0], parts[1], nil
}
