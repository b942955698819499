package statedump

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/cyclesched/internal/cycling"
	"github.com/swarmguard/cyclesched/internal/taskstate"
)

func TestRenderParseRoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		TimeKind: "system time",
		Time:     now,
		ClassVars: map[string][]string{
			"foo": {"checksum=abc123"},
		},
		Instances: []InstanceState{
			{Cycle: "1", TaskName: "foo", Status: taskstate.Waiting, Spawned: false, Flow: 2, PrereqsBitmap: "10", OutputsBitmap: "01", LatestMessage: "hello, world"},
		},
	}

	rendered := snap.Render()
	parsed, err := Parse(rendered)
	require.NoError(t, err)
	require.Equal(t, "system time", parsed.TimeKind)
	require.True(t, parsed.Time.Equal(now))
	require.Equal(t, []string{"checksum=abc123"}, parsed.ClassVars["foo"])
	require.Len(t, parsed.Instances, 1)
	require.Equal(t, "foo", parsed.Instances[0].TaskName)
	require.Equal(t, taskstate.Waiting, parsed.Instances[0].Status)
	require.Equal(t, 2, parsed.Instances[0].Flow)
	require.Equal(t, "10", parsed.Instances[0].PrereqsBitmap)
	require.Equal(t, "01", parsed.Instances[0].OutputsBitmap)
	require.Equal(t, "hello, world", parsed.Instances[0].LatestMessage)
}

func TestRestoreRebuildsInstances(t *testing.T) {
	snap := Snapshot{
		TimeKind: "system time",
		Time:     time.Now(),
		Instances: []InstanceState{
			{Cycle: "5", TaskName: "foo", Status: taskstate.Finished, Spawned: true},
		},
	}
	def := &taskstate.Definition{Name: "foo"}
	instances, err := Restore(snap, cycling.IntegerFamily, func(name string, point cycling.Point) (*taskstate.Instance, error) {
		return taskstate.NewInstance(def, point, taskstate.Waiting)
	})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, taskstate.Finished, instances[0].Status())
	require.True(t, instances[0].HasSpawned())
}

// TestRestoreRoundTripsPartiallySatisfiedWaitingTask covers the case the
// original tests never constructed: a Waiting instance with some but not
// all prerequisites satisfied must come back exactly as dumped, not
// force-satisfied or force-cleared by NewInstance's Running/Finished
// special cases.
func TestRestoreRoundTripsPartiallySatisfiedWaitingTask(t *testing.T) {
	def := &taskstate.Definition{Name: "bar"}
	point, err := cycling.ParsePoint(cycling.IntegerFamily, "3")
	require.NoError(t, err)
	orig, err := taskstate.NewInstance(def, point, taskstate.Waiting)
	require.NoError(t, err)
	orig.Prereqs.Add("upstream1%3 finished")
	orig.Prereqs.Add("upstream2%3 finished")
	orig.Prereqs.SetSatisfied("upstream1%3 finished")

	snap := Build(time.Now(), nil, []string{"bar"}, taskstate.NewRegistry(), []*taskstate.Instance{orig})
	rendered := snap.Render()
	parsed, err := Parse(rendered)
	require.NoError(t, err)

	instances, err := Restore(parsed, cycling.IntegerFamily, func(name string, point cycling.Point) (*taskstate.Instance, error) {
		restored, err := taskstate.NewInstance(def, point, taskstate.Waiting)
		require.NoError(t, err)
		restored.Prereqs.Add("upstream1%3 finished")
		restored.Prereqs.Add("upstream2%3 finished")
		return restored, nil
	})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, taskstate.Waiting, instances[0].Status())
	require.True(t, instances[0].Prereqs.IsSatisfied("upstream1%3 finished"))
	require.False(t, instances[0].Prereqs.IsSatisfied("upstream2%3 finished"))
	require.False(t, instances[0].ReadyToRun(), "only one of two prerequisites is satisfied")
}

func TestStoreRotateKeepsBoundedHistory(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "snap.db"))
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Rotate(context.Background(), "pre-reset", "body", 2))
	}
	latest, ok, err := store.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "body", latest)
}
