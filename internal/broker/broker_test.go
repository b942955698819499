package broker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/cyclesched/internal/cycling"
	"github.com/swarmguard/cyclesched/internal/taskstate"
)

func TestNegotiateSatisfiesDownstreamPrereq(t *testing.T) {
	p, err := cycling.ParsePoint(cycling.IntegerFamily, "1")
	require.NoError(t, err)

	upstream, err := taskstate.NewInstance(&taskstate.Definition{Name: "a"}, p, taskstate.Waiting)
	require.NoError(t, err)
	upstream.Outputs.Add("a%1 finished")
	upstream.Outputs.SetSatisfied("a%1 finished")

	downstream, err := taskstate.NewInstance(&taskstate.Definition{Name: "b"}, p, taskstate.Waiting)
	require.NoError(t, err)
	downstream.Prereqs.Add("a%1 finished")
	require.False(t, downstream.Prereqs.AllSatisfied())

	b := New()
	b.Reset()
	b.Register(upstream)
	b.Register(downstream)
	b.Negotiate(upstream)
	b.Negotiate(downstream)

	require.True(t, downstream.Prereqs.AllSatisfied())
	require.True(t, downstream.ReadyToRun())
}
