package taskstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/cyclesched/internal/cycling"
)

func mustPoint(t *testing.T, raw string) cycling.Point {
	t.Helper()
	p, err := cycling.ParsePoint(cycling.IntegerFamily, raw)
	require.NoError(t, err)
	return p
}

func TestInstanceLifecycleHappyPath(t *testing.T) {
	def := &Definition{Name: "foo"}
	inst, err := NewInstance(def, mustPoint(t, "1"), Waiting)
	require.NoError(t, err)
	inst.Outputs.Add("foo%1 started")
	inst.Outputs.Add("foo%1 finished")

	require.True(t, inst.ReadyToRun())
	require.True(t, inst.Dispatch())
	require.Equal(t, Submitted, inst.Status())

	inst.Incoming("NORMAL", "foo%1 started")
	require.Equal(t, Running, inst.Status())

	inst.Incoming("NORMAL", "foo%1 completed")
	inst.Incoming("NORMAL", "foo%1 finished")
	require.Equal(t, Finished, inst.Status())
	require.False(t, inst.Done())

	require.True(t, inst.Spawn(true))
	require.True(t, inst.Done())
}

func TestInstanceFinishedBeforeAllOutputsIsFailed(t *testing.T) {
	def := &Definition{Name: "foo"}
	inst, err := NewInstance(def, mustPoint(t, "1"), Running)
	require.NoError(t, err)
	inst.Outputs.Add("foo%1 started")
	inst.Outputs.Add("foo%1 halfway")
	inst.Outputs.Add("foo%1 finished")
	inst.Outputs.SetSatisfied("foo%1 started")

	inst.Incoming("NORMAL", "foo%1 finished")
	require.Equal(t, Failed, inst.Status())
}

func TestInstanceStartedInFinishedStateForcesSatisfied(t *testing.T) {
	def := &Definition{Name: "foo"}
	inst, err := NewInstance(def, mustPoint(t, "1"), Finished)
	require.NoError(t, err)
	inst.Outputs.Add("foo%1 finished")
	require.True(t, inst.Outputs.AllSatisfied())
	require.True(t, inst.Prereqs.AllSatisfied())
}

func TestInstanceInboxDrainsInArrivalOrder(t *testing.T) {
	def := &Definition{Name: "foo"}
	inst, err := NewInstance(def, mustPoint(t, "1"), Submitted)
	require.NoError(t, err)

	require.Empty(t, inst.DrainInbox())
	inst.EnqueueMessage("NORMAL", "foo%1 started")
	inst.EnqueueMessage("NORMAL", "foo%1 completed")

	msgs := inst.DrainInbox()
	require.Len(t, msgs, 2)
	require.Equal(t, "foo%1 started", msgs[0].Text)
	require.Equal(t, "foo%1 completed", msgs[1].Text)
	require.Empty(t, inst.DrainInbox())
}

func TestIncomingUnrecognizedMessageDoesNotChangeStatus(t *testing.T) {
	def := &Definition{Name: "foo"}
	inst, err := NewInstance(def, mustPoint(t, "1"), Running)
	require.NoError(t, err)

	inst.Incoming("NORMAL", "foo%1 some custom note")
	require.Equal(t, Running, inst.Status())
}

func TestIncomingDuplicateOutputIgnored(t *testing.T) {
	def := &Definition{Name: "foo"}
	inst, err := NewInstance(def, mustPoint(t, "1"), Submitted)
	require.NoError(t, err)

	inst.Incoming("NORMAL", "foo%1 started")
	inst.Incoming("NORMAL", "foo%1 started")
	require.Equal(t, Running, inst.Status())
	require.True(t, inst.Outputs.IsSatisfied("foo%1 started"))
}

func TestRegistryClassVarsAndDirtyFlag(t *testing.T) {
	reg := NewRegistry()
	require.False(t, reg.TakeDirty())
	reg.MarkDirty()
	require.True(t, reg.TakeDirty())
	require.False(t, reg.TakeDirty())

	reg.SetClassVar("foo", "checksum", "abc123")
	v, ok := reg.GetClassVar("foo", "checksum")
	require.True(t, ok)
	require.Equal(t, "abc123", v)
	require.Equal(t, []string{"checksum=abc123"}, reg.ClassVars("foo"))

	reg.IncInstanceCount("foo")
	reg.IncInstanceCount("foo")
	reg.DecInstanceCount("foo")
	require.EqualValues(t, 1, reg.InstanceCount("foo"))
}
