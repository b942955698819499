// Package statedump renders and parses the scheduler's state-dump text
// format, and persists rotating snapshots ahead of every admin mutation
// so a faulted reset/insert/purge/kill can be diagnosed or replayed
// against the pre-mutation state.
//
// Grammar, ported from _examples/original_source/src/manager.py's
// dump_state/load_from_state_dump:
//
//	<time_kind> : <time>[, <rate>]
//	class <TaskName> : k=v, k=v, ...
//	<cycle> : <taskname> : <state_blob>
//
// The original's task.py base class dump_state writes the literal string
// "BASE" in the cycle-point field rather than the instance's own cycle
// point, leaving it to every derived task subclass to override
// dump_state with the real value manager.py's loader expects. This port
// collapses that split: Instance carries its own cycle point, so the
// writer always emits the real value and there is nothing left for a
// subclass to override.
package statedump

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/cyclesched/internal/cycling"
	"github.com/swarmguard/cyclesched/internal/errs"
	"github.com/swarmguard/cyclesched/internal/taskstate"
)

// InstanceState is one task instance's dumped state.
type InstanceState struct {
	Cycle         string
	TaskName      string
	Status        taskstate.Status
	Spawned       bool
	Flow          int
	PrereqsBitmap string // one '0'/'1' per inst.Prereqs.List() position
	OutputsBitmap string // one '0'/'1' per inst.Outputs.List() position
	LatestMessage string
}

// Snapshot is a complete point-in-time dump of scheduler state.
type Snapshot struct {
	TimeKind  string // "system time" or "dummy time"
	Time      time.Time
	DummyRate *float64
	ClassVars map[string][]string // taskName -> sorted "k=v" pairs
	Instances []InstanceState
}

// Build captures the current state of reg and instances.
func Build(now time.Time, dummyRate *float64, taskNames []string, reg *taskstate.Registry, instances []*taskstate.Instance) Snapshot {
	classVars := make(map[string][]string, len(taskNames))
	for _, name := range taskNames {
		if vars := reg.ClassVars(name); len(vars) > 0 {
			classVars[name] = vars
		}
	}
	states := make([]InstanceState, len(instances))
	for i, inst := range instances {
		states[i] = InstanceState{
			Cycle:         inst.Point.String(),
			TaskName:      inst.Def.Name,
			Status:        inst.Status(),
			Spawned:       inst.HasSpawned(),
			Flow:          inst.Flow,
			PrereqsBitmap: bitmapOf(inst.Prereqs),
			OutputsBitmap: bitmapOf(inst.Outputs),
			LatestMessage: inst.LatestMessage,
		}
	}
	timeKind := "system time"
	if dummyRate != nil {
		timeKind = "dummy time"
	}
	return Snapshot{TimeKind: timeKind, Time: now, DummyRate: dummyRate, ClassVars: classVars, Instances: states}
}

// Render serializes the snapshot to its canonical text form.
func (s Snapshot) Render() string {
	var b strings.Builder
	if s.DummyRate != nil {
		fmt.Fprintf(&b, "dummy time : %s, %s\n", s.Time.UTC().Format(time.RFC3339), strconv.FormatFloat(*s.DummyRate, 'f', -1, 64))
	} else {
		fmt.Fprintf(&b, "system time : %s\n", s.Time.UTC().Format(time.RFC3339))
	}

	names := make([]string, 0, len(s.ClassVars))
	for name := range s.ClassVars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "class %s : %s\n", name, strings.Join(s.ClassVars[name], ", "))
	}

	for _, inst := range s.Instances {
		fmt.Fprintf(&b, "%s : %s : %s\n", inst.Cycle, inst.TaskName, encodeBlob(inst))
	}
	return b.String()
}

// bitmapOf encodes set's satisfaction as one '1'/'0' character per member
// in RequisiteSet.List() order — state | spawned | outputs-bitmap |
// prereqs-bitmap per spec.md §4.8.
func bitmapOf(set *taskstate.RequisiteSet) string {
	list := set.List()
	var b strings.Builder
	b.Grow(len(list))
	for _, msg := range list {
		if set.IsSatisfied(msg) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// applyBitmap marks set's members satisfied per a bitmap bitmapOf
// produced earlier, restoring exactly the satisfaction state that was
// dumped rather than NewInstance's coarse force-satisfy/force-unsatisfy
// rules for the Running/Finished special cases.
func applyBitmap(set *taskstate.RequisiteSet, bitmap string) {
	for i, msg := range set.List() {
		if i < len(bitmap) && bitmap[i] == '1' {
			set.SetSatisfied(msg)
		}
	}
}

func encodeBlob(inst InstanceState) string {
	return fmt.Sprintf("status=%s,spawned=%t,flow=%d,prereqs=%s,outputs=%s,latest_message=%s",
		inst.Status, inst.Spawned, inst.Flow, inst.PrereqsBitmap, inst.OutputsBitmap, strconv.Quote(inst.LatestMessage))
}

// decodeBlob parses the fixed six-field format encodeBlob writes. The
// split is positional (exactly 6 parts) rather than a general
// comma-separated key=value scan, because latest_message is
// strconv.Quote-escaped text that may itself legitimately contain commas
// — those must stay part of the message, not be mistaken for field
// separators.
func decodeBlob(blob string) (InstanceState, error) {
	parts := strings.SplitN(blob, ",", 6)
	if len(parts) != 6 {
		return InstanceState{}, fmt.Errorf("malformed state blob %q", blob)
	}
	var is InstanceState
	var sawStatus bool
	for _, part := range parts {
		eq := strings.Index(part, "=")
		if eq < 0 {
			return InstanceState{}, fmt.Errorf("malformed state blob field %q", part)
		}
		key, val := part[:eq], part[eq+1:]
		switch key {
		case "status":
			switch s := taskstate.Status(val); s {
			case taskstate.Waiting, taskstate.Submitted, taskstate.Running, taskstate.Finished, taskstate.Failed:
				is.Status = s
			default:
				return InstanceState{}, fmt.Errorf("unknown status %q in state blob", val)
			}
			sawStatus = true
		case "spawned":
			is.Spawned = val == "true"
		case "flow":
			if n, err := strconv.Atoi(val); err == nil {
				is.Flow = n
			}
		case "prereqs":
			is.PrereqsBitmap = val
		case "outputs":
			is.OutputsBitmap = val
		case "latest_message":
			if unq, err := strconv.Unquote(val); err == nil {
				is.LatestMessage = unq
			}
		}
	}
	if !sawStatus || is.Status == "" {
		return InstanceState{}, fmt.Errorf("missing status field in state blob %q", blob)
	}
	return is, nil
}

// Parse reads a rendered snapshot back into structured form.
func Parse(text string) (Snapshot, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	snap := Snapshot{ClassVars: map[string][]string{}}
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")
		if line == "" {
			continue
		}
		if first {
			first = false
			parts := strings.SplitN(line, " : ", 2)
			if len(parts) != 2 {
				return Snapshot{}, errs.New(errs.KindStateDumpIncompatible, line).WithHint("missing time header")
			}
			snap.TimeKind = parts[0]
			rest := parts[1]
			if snap.TimeKind == "dummy time" {
				fields := strings.SplitN(rest, ",", 2)
				t, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[0]))
				if err != nil {
					return Snapshot{}, errs.Wrap(errs.KindStateDumpIncompatible, line, err)
				}
				snap.Time = t
				if len(fields) == 2 {
					rate, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
					if err != nil {
						return Snapshot{}, errs.Wrap(errs.KindStateDumpIncompatible, line, err)
					}
					snap.DummyRate = &rate
				}
			} else {
				t, err := time.Parse(time.RFC3339, rest)
				if err != nil {
					return Snapshot{}, errs.Wrap(errs.KindStateDumpIncompatible, line, err)
				}
				snap.Time = t
			}
			continue
		}
		if strings.HasPrefix(line, "class ") {
			parts := strings.SplitN(line, " : ", 2)
			if len(parts) != 2 {
				return Snapshot{}, errs.New(errs.KindStateDumpIncompatible, line)
			}
			name := strings.TrimSpace(strings.TrimPrefix(parts[0], "class "))
			var kvs []string
			for _, kv := range strings.Split(parts[1], ", ") {
				kvs = append(kvs, kv)
			}
			snap.ClassVars[name] = kvs
			continue
		}
		parts := strings.SplitN(line, " : ", 3)
		if len(parts) != 3 {
			return Snapshot{}, errs.New(errs.KindStateDumpIncompatible, line).WithHint("expected '<cycle> : <taskname> : <state>'")
		}
		is, err := decodeBlob(parts[2])
		if err != nil {
			return Snapshot{}, errs.Wrap(errs.KindStateDumpIncompatible, line, err)
		}
		is.Cycle, is.TaskName = parts[0], parts[1]
		snap.Instances = append(snap.Instances, is)
	}
	return snap, nil
}

// Restore rebuilds task instances from a snapshot. newInstance builds a
// fresh, wired instance of the named task at the given point (typically
// sched.NewInstanceWired, which knows how to wire cotemporal prerequisite
// messages from the workflow's dependency graph — unavailable in this
// package); family determines how to parse each instance's cycle point.
// Status and satisfaction are then overwritten wholesale from the dump
// rather than inferred from NewInstance's Running/Finished special cases,
// so a restart passes no_reset and a partially-satisfied Waiting task's
// prerequisites survive exactly as dumped.
func Restore(snap Snapshot, family cycling.Family, newInstance func(name string, point cycling.Point) (*taskstate.Instance, error)) ([]*taskstate.Instance, error) {
	out := make([]*taskstate.Instance, 0, len(snap.Instances))
	for _, is := range snap.Instances {
		point, err := cycling.ParsePoint(family, is.Cycle)
		if err != nil {
			return nil, err
		}
		inst, err := newInstance(is.TaskName, point)
		if err != nil {
			return nil, err
		}
		inst.SetStatus(is.Status)
		inst.Flow = is.Flow
		applyBitmap(inst.Prereqs, is.PrereqsBitmap)
		applyBitmap(inst.Outputs, is.OutputsBitmap)
		if is.Spawned {
			inst.Spawn(true)
		}
		inst.LatestMessage = is.LatestMessage
		out = append(out, inst)
	}
	return out, nil
}

var bucketSnapshots = []byte("snapshots")

// Store persists rotating snapshots in bbolt, keeping at most `keep` of
// the most recent ones — the durable counterpart to the original's
// pre-mutation dump_state(new_file=True) calls, which wrote one file per
// mutation with no bound on how many accumulated.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt-backed snapshot store.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Rotate stores a new snapshot under the given label (e.g. "pre-reset",
// "pre-purge") and prunes the oldest entries beyond `keep`.
func (s *Store) Rotate(_ context.Context, label string, rendered string, keep int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d:%s", seq, label)
		if err := b.Put([]byte(key), []byte(rendered)); err != nil {
			return err
		}
		return pruneOldest(b, keep)
	})
}

func pruneOldest(b *bbolt.Bucket, keep int) error {
	if keep <= 0 {
		return nil
	}
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	if len(keys) <= keep {
		return nil
	}
	for _, k := range keys[:len(keys)-keep] {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the most recently stored snapshot's rendered text, or
// ok=false if the store is empty.
func (s *Store) Latest() (rendered string, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		ok = true
		rendered = string(v)
		return nil
	})
	return rendered, ok, err
}
