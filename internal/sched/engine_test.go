package sched

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/cyclesched/internal/broker"
	"github.com/swarmguard/cyclesched/internal/cycling"
	"github.com/swarmguard/cyclesched/internal/taskstate"
)

func mustPoint(t *testing.T, n int64) cycling.Point {
	t.Helper()
	p, err := cycling.ParsePoint(cycling.IntegerFamily, strconv.FormatInt(n, 10))
	require.NoError(t, err)
	return p
}

func newEngine(t *testing.T) (*Engine, *taskstate.Definition) {
	t.Helper()
	anchor := mustPoint(t, 1)
	step, err := cycling.ParseInterval(cycling.IntegerFamily, "1")
	require.NoError(t, err)
	seq, err := cycling.NewSequence(anchor, step, nil)
	require.NoError(t, err)
	def := &taskstate.Definition{Name: "foo", Sequence: seq}
	e := &Engine{
		Family:   cycling.IntegerFamily,
		Defs:     map[string]*taskstate.Definition{"foo": def},
		Registry: taskstate.NewRegistry(),
		Broker:   broker.New(),
	}
	return e, def
}

func TestTickDispatchesReadyInstance(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Waiting)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{inst}

	var submitted []string
	e.Dispatch = func(ctx context.Context, i *taskstate.Instance) error {
		submitted = append(submitted, i.ID())
		return nil
	}

	require.NoError(t, e.Tick(context.Background()))
	require.Equal(t, taskstate.Submitted, inst.Status())
	require.Equal(t, []string{"foo%1"}, submitted)
}

func TestTickSpawnsSuccessorOncePastWaiting(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Running)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{inst}

	require.NoError(t, e.Tick(context.Background()))
	require.True(t, inst.HasSpawned())
	require.Len(t, e.Instances, 2)
	require.Equal(t, "foo%2", e.Instances[1].ID())
}

func TestTickRunaheadBoundsSpawn(t *testing.T) {
	e, def := newEngine(t)
	limit, err := cycling.ParseInterval(cycling.IntegerFamily, "1")
	require.NoError(t, err)
	e.RunaheadLimit = limit

	oldest, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Waiting)
	require.NoError(t, err)
	ahead, err := taskstate.NewInstance(def, mustPoint(t, 5), taskstate.Running)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{oldest, ahead}

	require.NoError(t, e.Tick(context.Background()))
	require.False(t, ahead.HasSpawned(), "a task five cycles ahead of the oldest live task must not spawn under a one-cycle runahead bound")
}

func TestCleanupGeneralPassKeepsOnlyNewestFinished(t *testing.T) {
	e, def := newEngine(t)
	older, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Finished)
	require.NoError(t, err)
	older.Spawn(true)
	newer, err := taskstate.NewInstance(def, mustPoint(t, 2), taskstate.Finished)
	require.NoError(t, err)
	newer.Spawn(true)
	e.Instances = []*taskstate.Instance{older, newer}

	e.cleanup()

	require.Len(t, e.Instances, 1)
	require.Equal(t, "foo%2", e.Instances[0].ID())
}

func TestCleanupQuickDeathDeletesSpentInstance(t *testing.T) {
	e, def := newEngine(t)
	def.QuickDeath = true

	qd0, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Finished)
	require.NoError(t, err)
	qd0.Spawn(true)
	qd1, err := taskstate.NewInstance(def, mustPoint(t, 2), taskstate.Waiting)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{qd0, qd1}

	e.cleanup()

	ids := map[string]bool{}
	for _, inst := range e.Instances {
		ids[inst.ID()] = true
	}
	require.False(t, ids["foo%1"], "a quick-death task that has finished and spawned, with nothing unspawned at or before its cycle, is spent")
	require.True(t, ids["foo%2"])
}

func TestCleanupQuickDeathProtectedByFailedCotemporal(t *testing.T) {
	e, def := newEngine(t)
	def.QuickDeath = true

	qd0, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Finished)
	require.NoError(t, err)
	qd0.Spawn(true)

	other := &taskstate.Definition{Name: "bar", Sequence: def.Sequence}
	failed, err := taskstate.NewInstance(other, mustPoint(t, 1), taskstate.Failed)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{qd0, failed}

	e.cleanup()

	ids := map[string]bool{}
	for _, inst := range e.Instances {
		ids[inst.ID()] = true
	}
	require.True(t, ids["foo%1"], "no instance at a cycle sharing a failed task is cleaned up until the failure is reset")
	require.True(t, ids["bar%1"])
}

func TestResetToReadySatisfiesPrereqsOnly(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Waiting)
	require.NoError(t, err)
	inst.Prereqs.Add("upstream%1 finished")
	inst.Outputs.Add("foo%1 finished")
	e.Instances = []*taskstate.Instance{inst}

	require.NoError(t, e.Reset(context.Background(), "foo%1", ResetToReady))
	require.True(t, inst.ReadyToRun())
	require.False(t, inst.Outputs.IsSatisfied("foo%1 finished"))
}

func TestInsertRejectsDuplicateAndPastStopPoint(t *testing.T) {
	e, def := newEngine(t)
	_ = def
	stop := mustPoint(t, 5)
	e.StopPoint = &stop

	require.NoError(t, e.Insert(context.Background(), "foo", mustPoint(t, 3)))
	require.Error(t, e.Insert(context.Background(), "foo", mustPoint(t, 3)))
	require.Error(t, e.Insert(context.Background(), "foo", mustPoint(t, 9)))
}

func TestKillRemovesInstance(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Waiting)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{inst}

	require.NoError(t, e.Kill(context.Background(), []string{"foo%1"}))
	require.Empty(t, e.Instances)
}

func TestPurgeSpawnsAndDiesThroughChainToStop(t *testing.T) {
	e, def := newEngine(t)
	i1, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Waiting)
	require.NoError(t, err)
	i2, err := taskstate.NewInstance(def, mustPoint(t, 2), taskstate.Waiting)
	require.NoError(t, err)
	i3, err := taskstate.NewInstance(def, mustPoint(t, 3), taskstate.Waiting)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{i1, i2, i3}

	require.NoError(t, e.Purge(context.Background(), "foo%1", mustPoint(t, 2)))

	ids := map[string]bool{}
	for _, inst := range e.Instances {
		ids[inst.ID()] = true
	}
	require.False(t, ids["foo%1"])
	require.False(t, ids["foo%2"])
	require.True(t, ids["foo%3"])
}

func TestSetSystemHoldSuspendsDispatch(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Waiting)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{inst}

	require.NoError(t, e.SetSystemHold(context.Background()))
	require.NoError(t, e.Tick(context.Background()))
	require.Equal(t, taskstate.Waiting, inst.Status())
}

func TestPauseSuspendsEntireTick(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Running)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{inst}

	require.NoError(t, e.Pause(context.Background()))
	require.True(t, e.IsPaused())
	require.NoError(t, e.Tick(context.Background()))
	require.False(t, inst.HasSpawned(), "a paused engine must not even spawn, unlike a held one")

	require.NoError(t, e.Resume(context.Background()))
	require.False(t, e.IsPaused())
	require.NoError(t, e.Tick(context.Background()))
	require.True(t, inst.HasSpawned())
}

func TestSetOutputsMarksNamedOutputsAndFlow(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Submitted)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{inst}

	flow := 2
	require.NoError(t, e.SetOutputs(context.Background(), []string{"foo%1"}, []string{"started", "completed", "finished"}, &flow))
	require.Equal(t, taskstate.Finished, inst.Status())
	require.Equal(t, 2, inst.Flow)
}

func TestSetOutputsDefaultsToFinished(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Submitted)
	require.NoError(t, err)
	inst.Incoming("NORMAL", "foo%1 started")
	inst.Incoming("NORMAL", "foo%1 completed")
	e.Instances = []*taskstate.Instance{inst}

	require.NoError(t, e.SetOutputs(context.Background(), []string{"foo%1"}, nil, nil))
	require.Equal(t, taskstate.Finished, inst.Status())
}

func TestSetOutputsUnknownIDIsTaskNotFound(t *testing.T) {
	e, _ := newEngine(t)
	err := e.SetOutputs(context.Background(), []string{"foo%1"}, nil, nil)
	require.Error(t, err)
}

func TestStopCleanWaitsForInFlightThenShouldStop(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Running)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{inst}

	require.NoError(t, e.Stop(context.Background(), StopModeClean))
	require.False(t, e.ShouldStop(), "a running instance must block a clean stop")

	inst.Incoming("NORMAL", inst.ID()+" completed")
	inst.Incoming("NORMAL", inst.ID()+" finished")
	require.True(t, e.ShouldStop())
}

func TestStopNowIsImmediate(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Running)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{inst}

	require.NoError(t, e.Stop(context.Background(), StopModeNow))
	require.True(t, e.ShouldStop())
}

func TestReportQueuesMessageDrainedAtNextTick(t *testing.T) {
	e, def := newEngine(t)
	inst, err := taskstate.NewInstance(def, mustPoint(t, 1), taskstate.Submitted)
	require.NoError(t, err)
	e.Instances = []*taskstate.Instance{inst}

	require.NoError(t, e.Report("foo%1", "NORMAL", "foo%1 started"))
	require.Equal(t, taskstate.Submitted, inst.Status(), "a reported message is only applied once a tick drains it")

	require.NoError(t, e.Tick(context.Background()))
	require.Equal(t, taskstate.Running, inst.Status())
}

func TestReportUnknownIDIsTaskNotFound(t *testing.T) {
	e, _ := newEngine(t)
	require.Error(t, e.Report("foo%1", "NORMAL", "foo%1 started"))
}
