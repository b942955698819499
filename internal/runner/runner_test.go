package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/cyclesched/internal/corelib/resilience"
	"github.com/swarmguard/cyclesched/internal/hostselect"
)

func TestLocalRunnerSuccess(t *testing.T) {
	r := LocalRunner{PollInterval: time.Millisecond}
	out, err := r.Run(context.Background(), "localhost", []string{"sh", "-c", `echo '[1, 2]'`}, nil)
	require.NoError(t, err)
	require.Equal(t, "[1, 2]\n", string(out))
}

func TestLocalRunnerDropsBannerNoise(t *testing.T) {
	r := LocalRunner{PollInterval: time.Millisecond}
	out, err := r.Run(context.Background(), "localhost", []string{"sh", "-c", `echo "welcome to the machine"; echo '[3]'`}, nil)
	require.NoError(t, err)
	require.Equal(t, "[3]\n", string(out))
}

func TestLocalRunnerFailureReportsExitCode(t *testing.T) {
	r := LocalRunner{PollInterval: time.Millisecond}
	_, err := r.Run(context.Background(), "localhost", []string{"sh", "-c", `exit 3`}, nil)
	require.Error(t, err)
	var kinder interface{ Kind() string }
	require.ErrorAs(t, err, &kinder)
	require.Equal(t, "RemoteCommandFailed", kinder.Kind())
	require.Contains(t, err.Error(), "exit: 3")
}

func TestMetricFetcherDecodesParallelArray(t *testing.T) {
	r := LocalRunner{PollInterval: time.Millisecond}
	fetcher := MetricFetcher{Runner: fakeRunner{out: []byte(`[12.5, 88]`)}}
	_ = r
	vals, err := fetcher.FetchMetrics(context.Background(), "localhost", []hostselect.Query{
		{Func: "cpu_percent"},
		{Func: "mem_free"},
	})
	require.NoError(t, err)
	require.InDelta(t, 12.5, vals["cpu_percent()"], 0.001)
	require.InDelta(t, 88, vals["mem_free()"], 0.001)
}

func TestDispatcherLimiterDeniesOverCapacity(t *testing.T) {
	d := Dispatcher{
		Local:   fakeRunner{out: []byte(`[1]`)},
		Limiter: resilience.NewRateLimiter(1, 0, time.Second, 0),
	}
	_, err := d.Run(context.Background(), "localhost", []string{"true"}, nil)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), "localhost", []string{"true"}, nil)
	require.Error(t, err)
	var kinder interface{ Kind() string }
	require.ErrorAs(t, err, &kinder)
	require.Equal(t, "RemoteCommandFailed", kinder.Kind())
	require.Contains(t, err.Error(), "rate limit exceeded")
}

type fakeRunner struct{ out []byte }

func (f fakeRunner) Run(context.Context, string, []string, []byte) ([]byte, error) {
	return f.out, nil
}
