package hostselect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseThresholdsPreservesTrailingTokens(t *testing.T) {
	th, err := ParseThresholds("getloadavg()[0] < 5")
	require.NoError(t, err)
	require.Len(t, th, 1)
	require.Equal(t, "getloadavg", th[0].Query.Func)
	require.Equal(t, "RESULT[0] < 5", th[0].Expression)
}

func TestParseThresholdsWithArgsAndPrefix(t *testing.T) {
	th, err := ParseThresholds(`1 in foo("a")`)
	require.NoError(t, err)
	require.Len(t, th, 1)
	require.Equal(t, "foo", th[0].Query.Func)
	require.Equal(t, []any{"a"}, th[0].Query.Args)
	require.Equal(t, "1 in RESULT", th[0].Expression)
}

func TestParseThresholdsSkipsCommentsAndBlankLines(t *testing.T) {
	th, err := ParseThresholds("\n# note\ncpu_percent() < 70\n")
	require.NoError(t, err)
	require.Len(t, th, 1)
}

type fakeFetcher struct {
	values map[string]map[string]any
	errs   map[string]error
}

func (f *fakeFetcher) FetchMetrics(_ context.Context, host string, _ []Query) (map[string]any, error) {
	if err, ok := f.errs[host]; ok {
		return nil, err
	}
	return f.values[host], nil
}

func TestSelectRandomWithoutThresholds(t *testing.T) {
	res, err := Select(context.Background(), []string{"a"}, "", nil, "", nil, func(h string) string { return h })
	require.NoError(t, err)
	require.Equal(t, "a", res.Hostname)
}

func TestSelectFiltersBlacklist(t *testing.T) {
	_, err := Select(context.Background(), []string{"a"}, "", []string{"a"}, "condemned", nil, func(h string) string { return h })
	require.Error(t, err)
	var kinder interface{ Kind() string }
	require.ErrorAs(t, err, &kinder)
	require.Equal(t, "NoHostsAvailable", kinder.Kind())
}

func TestSelectByThreshold(t *testing.T) {
	fetcher := &fakeFetcher{values: map[string]map[string]any{
		"a": {"cpu_percent()": 90.0},
		"b": {"cpu_percent()": 10.0},
	}}
	res, err := Select(context.Background(), []string{"a", "b"}, "cpu_percent() < 70", nil, "", fetcher, func(h string) string { return h })
	require.NoError(t, err)
	require.Equal(t, "b", res.Hostname)
}

func TestSelectRanksByExpressionValue(t *testing.T) {
	fetcher := &fakeFetcher{values: map[string]map[string]any{
		"a": {"cpu_percent()": 90.0},
		"b": {"cpu_percent()": 10.0},
	}}
	res, err := Select(context.Background(), []string{"a", "b"}, "cpu_percent()", nil, "", fetcher, func(h string) string { return h })
	require.NoError(t, err)
	require.Equal(t, "b", res.Hostname)
}

func TestSelectFiltersByAttributeAccessOnDictShapedMetric(t *testing.T) {
	fetcher := &fakeFetcher{values: map[string]map[string]any{
		"a": {"virtual_memory()": map[string]any{"available": 0}},
		"b": {"virtual_memory()": map[string]any{"available": 10}},
	}}
	res, err := Select(context.Background(), []string{"a", "b"}, "virtual_memory().available > 0", nil, "", fetcher, func(h string) string { return h })
	require.NoError(t, err)
	require.Equal(t, "b", res.Hostname)
}

func TestSelectNoHostsContactable(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{"a": context.DeadlineExceeded}}
	_, err := Select(context.Background(), []string{"a"}, "cpu_percent() < 70", nil, "", fetcher, func(h string) string { return h })
	require.Error(t, err)
}
