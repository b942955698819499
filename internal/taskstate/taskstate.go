// Package taskstate implements the per-task state machine: prerequisites
// and outputs as satisfaction sets, the waiting/submitted/running/
// finished/failed lifecycle, and the bookkeeping (class variables,
// instance counts, a dirty flag) the scheduler loop and state dump read.
//
// Ported from _examples/original_source/src/task.py (the task base class)
// and its companion task_state module referenced there.
package taskstate

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/swarmguard/cyclesched/internal/cycling"
	"github.com/swarmguard/cyclesched/internal/errs"
)

// Status is one of the five lifecycle states a task instance passes
// through. Unlike the original's free-form string, this is a closed enum
// so an invalid status can never be round-tripped through a state dump.
type Status string

const (
	Waiting   Status = "waiting"
	Submitted Status = "submitted"
	Running   Status = "running"
	Finished  Status = "finished"
	Failed    Status = "failed"
)

func (s Status) valid() bool {
	switch s {
	case Waiting, Submitted, Running, Finished, Failed:
		return true
	}
	return false
}

// RequisiteSet tracks a fixed vocabulary of messages and which of them
// have been satisfied, preserving insertion order for deterministic state
// dumps. Used for both a task's prerequisites and its outputs.
type RequisiteSet struct {
	mu        sync.RWMutex
	order     []string
	satisfied map[string]bool
}

// NewRequisiteSet builds an empty set.
func NewRequisiteSet() *RequisiteSet {
	return &RequisiteSet{satisfied: map[string]bool{}}
}

// Add registers message as a member of the set, initially unsatisfied.
func (r *RequisiteSet) Add(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.satisfied[message]; !ok {
		r.order = append(r.order, message)
		r.satisfied[message] = false
	}
}

// Exists reports whether message is a member of the set.
func (r *RequisiteSet) Exists(message string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.satisfied[message]
	return ok
}

// IsSatisfied reports whether message has already been satisfied.
func (r *RequisiteSet) IsSatisfied(message string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.satisfied[message]
}

// SetSatisfied marks message as satisfied.
func (r *RequisiteSet) SetSatisfied(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.satisfied[message] = true
}

// SetAllSatisfied marks every member of the set satisfied.
func (r *RequisiteSet) SetAllSatisfied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.order {
		r.satisfied[m] = true
	}
}

// SetAllUnsatisfied marks every member of the set unsatisfied.
func (r *RequisiteSet) SetAllUnsatisfied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.order {
		r.satisfied[m] = false
	}
}

// AllSatisfied reports whether every member of the set is satisfied. An
// empty set is vacuously satisfied.
func (r *RequisiteSet) AllSatisfied() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.order {
		if !r.satisfied[m] {
			return false
		}
	}
	return true
}

// List returns the set's members in insertion order.
func (r *RequisiteSet) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of members.
func (r *RequisiteSet) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// CountSatisfied returns the number of satisfied members.
func (r *RequisiteSet) CountSatisfied() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.order {
		if r.satisfied[m] {
			n++
		}
	}
	return n
}

// Definition is a task's static configuration: its name, whether it is
// "quick death" (cleanup may remove a finished, spawned instance of it once
// nothing at or before its cycle is left unspawned and no instance at its
// cycle has failed, matching task.quick_death), and the task
// name that takes over its cleanup slot for a one-off task that never
// repeats at a later cycle (oneoff_follow_on in the original).
type Definition struct {
	Name           string
	QuickDeath     bool
	OneoffFollowOn string

	// Sequence is the recurrence that produces this task's next cycle
	// point when an instance spawns its successor. Nil for insert-only
	// tasks that never recur on their own.
	Sequence *cycling.Sequence

	// OutputVerbs lists this task's custom output messages beyond the
	// three every task has ("started", "completed", "finished") — e.g. a task that
	// reports an intermediate milestone a downstream task can trigger
	// on before the producer itself finishes.
	OutputVerbs []string
}

// Instance is one running (or pending) occurrence of a task at a cycle
// point: the task.py base class generalized to a named cycle point
// instead of a bare c_time string.
type Instance struct {
	mu sync.Mutex

	Def           *Definition
	Point         cycling.Point
	state         Status
	spawned       bool
	Prereqs       *RequisiteSet
	Outputs       *RequisiteSet
	LatestMessage string

	// Flow carries the flow number set-outputs attributed to this
	// instance, inherited by any successor it spawns — set-outputs'
	// "--flow N" lets an operator fork a new lineage of successors from
	// a manually-completed task without disturbing the original flow.
	Flow int

	inboxMu sync.Mutex
	inbox   []inboundMessage
}

// inboundMessage is one (priority, text) report queued against an
// instance by the wire layer, held until the next tick drains it.
type inboundMessage struct {
	Priority string
	Text     string
}

// EnqueueMessage appends a message to this instance's inbox for the
// engine to apply at the start of its next tick (spec's per-task inbox) —
// decoupling message arrival, which can happen at any time from an
// external job, from state mutation, which only ever happens inside a
// tick.
func (i *Instance) EnqueueMessage(priority, text string) {
	i.inboxMu.Lock()
	defer i.inboxMu.Unlock()
	i.inbox = append(i.inbox, inboundMessage{Priority: priority, Text: text})
}

// DrainInbox removes and returns every message queued since the last
// drain, in arrival order.
func (i *Instance) DrainInbox() []inboundMessage {
	i.inboxMu.Lock()
	defer i.inboxMu.Unlock()
	if len(i.inbox) == 0 {
		return nil
	}
	out := i.inbox
	i.inbox = nil
	return out
}

// ID uniquely identifies an instance as "<name>%<point>".
func (i *Instance) ID() string {
	return fmt.Sprintf("%s%%%s", i.Def.Name, i.Point.String())
}

// NewInstance creates an instance in the given starting state. Matches
// task.__init__: an instance started directly in RUNNING state has its
// prerequisites force-satisfied and outputs force-unsatisfied (manual
// reset required before it can make further progress); one started in
// FINISHED state has both force-satisfied.
func NewInstance(def *Definition, point cycling.Point, start Status) (*Instance, error) {
	if !start.valid() {
		return nil, errs.New(errs.KindMalformedCycle, string(start)).WithHint("unknown task status")
	}
	inst := &Instance{
		Def:     def,
		Point:   point,
		state:   start,
		Prereqs: NewRequisiteSet(),
		Outputs: NewRequisiteSet(),
	}
	id := inst.ID()
	inst.Outputs.Add(id + " started")
	inst.Outputs.Add(id + " completed")
	inst.Outputs.Add(id + " finished")
	for _, verb := range def.OutputVerbs {
		inst.Outputs.Add(id + " " + verb)
	}
	switch start {
	case Running:
		inst.Outputs.SetAllUnsatisfied()
		inst.Prereqs.SetAllSatisfied()
	case Finished:
		inst.Outputs.SetAllSatisfied()
		inst.Prereqs.SetAllSatisfied()
	}
	return inst, nil
}

// Status returns the instance's current lifecycle state.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// SetStatus force-sets the instance's state, bypassing transition checks —
// used for admin resets and restart/recovery, mirroring
// task_state.set_status.
func (i *Instance) SetStatus(s Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = s
}

// IsWaiting, IsRunning, IsSubmitted, IsFinished, IsFailed report the
// instance's current state.
func (i *Instance) IsWaiting() bool   { return i.Status() == Waiting }
func (i *Instance) IsRunning() bool   { return i.Status() == Running }
func (i *Instance) IsSubmitted() bool { return i.Status() == Submitted }
func (i *Instance) IsFinished() bool  { return i.Status() == Finished }
func (i *Instance) IsFailed() bool    { return i.Status() == Failed }

// HasSpawned reports whether this instance has already created its
// successor.
func (i *Instance) HasSpawned() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.spawned
}

func (i *Instance) setSpawned() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.spawned = true
}

// ReadyToRun reports whether the instance is waiting with every
// prerequisite satisfied.
func (i *Instance) ReadyToRun() bool {
	return i.IsWaiting() && i.Prereqs.AllSatisfied()
}

// Dispatch transitions a ready instance to submitted, returning false if
// it was not ready. Corresponds to run_if_ready/run_external_task, minus
// the actual job submission (left to internal/runner, C7).
func (i *Instance) Dispatch() bool {
	if !i.ReadyToRun() {
		return false
	}
	i.SetStatus(Submitted)
	return true
}

// Incoming processes one (priority, text) status message from the running
// job — "<id> started", a registered output such as "<id> finished", "<id>
// failed", or anything else — mirroring task.incoming. text is the full
// message, not a bare verb, since messages arriving off the wire (or a
// custom output) don't always follow the "<id> <verb>" shape this
// instance's own ID would predict.
func (i *Instance) Incoming(priority, text string) {
	id := i.ID()
	startedMsg := id + " started"
	finishedMsg := id + " finished"
	i.LatestMessage = text

	switch {
	case text == startedMsg:
		if !i.IsSubmitted() {
			slog.Warn("started message received out of sequence", "id", id, "state", i.Status())
		}
		i.SetStatus(Running)
		if i.Outputs.Exists(text) && !i.Outputs.IsSatisfied(text) {
			i.Outputs.SetSatisfied(text)
		}
	case i.Outputs.Exists(text):
		if i.Outputs.IsSatisfied(text) {
			slog.Warn("UNEXPECTED OUTPUT", "id", id, "message", text)
			return
		}
		i.Outputs.SetSatisfied(text)
		logAtPriority(priority, "output satisfied", "id", id, "message", text)
		if text == finishedMsg {
			if i.Outputs.AllSatisfied() {
				i.SetStatus(Finished)
			} else {
				i.SetStatus(Failed)
			}
		}
	case text == id+" failed":
		i.SetStatus(Failed)
	default:
		slog.Info("*" + text)
	}
}

// logAtPriority routes msg to the slog level named by priority (as the
// remote job reports it — "NORMAL"/"WARNING"/"CRITICAL"/etc, the original
// task message priorities), defaulting to Info for anything unrecognized.
func logAtPriority(priority, msg string, args ...any) {
	switch strings.ToUpper(priority) {
	case "CRITICAL", "ERROR":
		slog.Error(msg, args...)
	case "WARNING", "WARN":
		slog.Warn(msg, args...)
	case "DEBUG":
		slog.Debug(msg, args...)
	default:
		slog.Info(msg, args...)
	}
}

// Done reports whether the instance has finished and already spawned its
// successor — the signal that it is a candidate for cleanup.
func (i *Instance) Done() bool {
	return i.IsFinished() && i.HasSpawned()
}

// Spawn marks the instance as having spawned, if it hasn't already and is
// eligible to (ready is supplied by the caller, since eligibility depends
// on engine-level policy the original leaves to ready_to_spawn
// overrides). Returns whether a spawn actually occurred.
func (i *Instance) Spawn(ready bool) bool {
	if i.HasSpawned() {
		return false
	}
	if !ready {
		return false
	}
	i.setSpawned()
	return true
}

// DependsOn reports whether any of this instance's prerequisite messages
// were emitted by the given upstream identity (an "<name>%<point>" ID) —
// used by purge's cotemporal-dependee walk to find every instance that
// would have been satisfied by a given task's outputs, regardless of
// whether that satisfaction has actually happened yet.
func (i *Instance) DependsOn(upstreamID string) bool {
	prefix := upstreamID + " "
	for _, req := range i.Prereqs.List() {
		if strings.HasPrefix(req, prefix) {
			return true
		}
	}
	return false
}

// ApplySatisfied marks prerequisites whose message appears in
// satisfiedMessages as satisfied — the instance side of broker
// negotiation (task.update).
func (i *Instance) ApplySatisfied(satisfiedMessages map[string]bool) {
	for _, req := range i.Prereqs.List() {
		if satisfiedMessages[req] {
			i.Prereqs.SetSatisfied(req)
		}
	}
}

// Summary is the subset of instance state the scheduler exposes over the
// wire protocol and logs, mirroring task.get_state_summary.
type Summary struct {
	ID                string
	Name              string
	Point             string
	State             Status
	NTotalOutputs     int
	NCompletedOutputs int
	Spawned           bool
	LatestMessage     string
}

// GetSummary builds a Summary for this instance.
func (i *Instance) GetSummary() Summary {
	return Summary{
		ID:                i.ID(),
		Name:              i.Def.Name,
		Point:             i.Point.String(),
		State:             i.Status(),
		NTotalOutputs:     i.Outputs.Count(),
		NCompletedOutputs: i.Outputs.CountSatisfied(),
		Spawned:           i.HasSpawned(),
		LatestMessage:     i.LatestMessage,
	}
}

// Registry owns per-task-name class variables and instance counters, and
// a single dirty flag that TakeDirty reports and clears (the wire layer's
// status endpoint is its reader) — the Go equivalent of the original's module-level state_changed global,
// scoped to one registry instead of process-wide state.
type Registry struct {
	mu          sync.Mutex
	classVars   map[string]map[string]string
	instanceCnt map[string]int64
	dirty       atomic.Bool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		classVars:   map[string]map[string]string{},
		instanceCnt: map[string]int64{},
	}
}

// MarkDirty flags that scheduling state changed and a new negotiation
// round is needed.
func (r *Registry) MarkDirty() { r.dirty.Store(true) }

// TakeDirty reports and clears the dirty flag.
func (r *Registry) TakeDirty() bool { return r.dirty.Swap(false) }

// SetClassVar sets a class-scoped variable for taskName, written to the
// state dump and restored across restarts (task.set_class_var).
func (r *Registry) SetClassVar(taskName, item, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.classVars[taskName]
	if !ok {
		m = map[string]string{}
		r.classVars[taskName] = m
	}
	m[item] = value
}

// GetClassVar returns a class-scoped variable, or ok=false if unset.
func (r *Registry) GetClassVar(taskName, item string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.classVars[taskName]
	if !ok {
		return "", false
	}
	v, ok := m[item]
	return v, ok
}

// ClassVars returns taskName's class variables in deterministic key order
// — used by the state dump writer.
func (r *Registry) ClassVars(taskName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.classVars[taskName]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s=%s", k, m[k])
	}
	return out
}

// IncInstanceCount increments taskName's live-instance counter (the
// original's instance_count/upward_instance_count pair, collapsed here
// since nothing in this port ever needs their values to diverge — both
// only ever counted the same set of live instances, just reset at
// different points in the original's lifecycle).
func (r *Registry) IncInstanceCount(taskName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instanceCnt[taskName]++
}

// DecInstanceCount decrements taskName's live-instance counter —
// task.prepare_for_death.
func (r *Registry) DecInstanceCount(taskName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instanceCnt[taskName]--
}

// InstanceCount returns taskName's live-instance counter.
func (r *Registry) InstanceCount(taskName string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instanceCnt[taskName]
}
