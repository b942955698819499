// Package hostselect chooses a host from a configured pool: condemned
// hosts are filtered out, the remainder is optionally filtered and ranked
// by threshold expressions evaluated against live host metrics, and ties
// are broken at random.
//
// Ported from _examples/original_source/cylc/flow/host_select.py, with the
// Python ast.NodeVisitor whitelist + eval() replaced by internal/evalsafe
// and the ssh/subprocess metric fetch delegated to a MetricFetcher
// supplied by internal/runner (C7), keeping this package free of process
// and transport concerns.
package hostselect

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/swarmguard/cyclesched/internal/errs"
	"github.com/swarmguard/cyclesched/internal/evalsafe"
)

// Query is a single metric call a threshold line depends on, e.g.
// cpu_percent() or getloadavg(1, 5, 15).
type Query struct {
	Func string
	Args []any
}

// Key is the stable identity used to index a host's fetched metric value
// and to de-duplicate identical queries across threshold lines.
func (q Query) Key() string {
	parts := make([]string, len(q.Args))
	for i, a := range q.Args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return q.Func + "(" + strings.Join(parts, ",") + ")"
}

// Threshold is one parsed line from a threshold block: the metric query it
// depends on, and the expression to evaluate with RESULT bound to that
// query's fetched value.
type Threshold struct {
	Query      Query
	Expression string
}

var (
	queryRE = regexp.MustCompile(`\b([A-Za-z_]\w*)\s*\(([^()]*)\)`)
)

// ParseThresholds parses a multi-line threshold block. Each non-blank,
// non-comment (`#`) line must contain a metric call, and the first one
// found is that line's query; everything around that call site — prefix and suffix alike — is preserved verbatim
// in the resulting expression, with only the call itself replaced by the
// literal token RESULT.
//
// The original's _get_thresholds builds its replacement from raw token
// column offsets and breaks out of its tokenizer loop the instant it sees
// the query's closing paren; relying on "whatever's left in the line
// string" to supply the remainder works for the common case but is
// fragile. This port instead locates the query call with a single regex
// match and splices RESULT in at that match's span, so trailing content
// — a subscript, a second comparison, anything — always survives intact.
func ParseThresholds(block string) ([]Threshold, error) {
	var out []Threshold
	for _, rawLine := range strings.Split(block, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		loc, query, err := findQuery(line)
		if err != nil {
			return nil, errs.Wrap(errs.KindMalformedCycle, line, err).
				WithHint("each threshold line must contain exactly one metric call, e.g. cpu_percent() < 70")
		}
		expr := line[:loc[0]] + "RESULT" + line[loc[1]:]
		out = append(out, Threshold{Query: query, Expression: expr})
	}
	return out, nil
}

// findQuery locates the first metric-call site in line, skipping the
// keyword "in" the way the original explicitly excludes token.NAME=='in'
// from candidacy (so "x in (1, 2, 3)" is not mistaken for a call to "in").
func findQuery(line string) ([]int, Query, error) {
	for _, loc := range queryRE.FindAllStringSubmatchIndex(line, -1) {
		name := line[loc[2]:loc[3]]
		if name == "in" {
			continue
		}
		argsRaw := strings.TrimSpace(line[loc[4]:loc[5]])
		var args []any
		if argsRaw != "" {
			for _, a := range strings.Split(argsRaw, ",") {
				args = append(args, parseLiteral(strings.TrimSpace(a)))
			}
		}
		return []int{loc[0], loc[1]}, Query{Func: name, Args: args}, nil
	}
	return nil, Query{}, fmt.Errorf("no metric call found in threshold line")
}

func parseLiteral(s string) any {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// MetricFetcher retrieves metric values from a host, keyed by Query.Key().
// A host that is not contactable, or whose metrics command fails, yields
// an error; the caller records that in its own diagnostics and drops the
// host rather than treating it as fatal to the whole selection.
type MetricFetcher interface {
	FetchMetrics(ctx context.Context, host string, queries []Query) (map[string]any, error)
}

// FQDNResolver maps a short hostname to its canonical form, used to
// de-duplicate aliases of the same host before selection.
type FQDNResolver func(host string) string

// DefaultFQDNResolver resolves via CNAME lookup, falling back to the
// input unchanged if resolution fails (e.g. "localhost", or a host with
// no reverse record) — a host that can't be resolved is still a valid
// candidate, just not deduplicatable against its aliases.
func DefaultFQDNResolver(host string) string {
	if cname, err := net.LookupCNAME(host); err == nil && cname != "" {
		return strings.TrimSuffix(cname, ".")
	}
	return host
}

// Diagnostics records, per host, why it was excluded (or the threshold
// verdicts it met), surfaced on selection failure.
type Diagnostics map[string]map[string]string

// Result is the chosen host, in both its original and canonical forms.
type Result struct {
	Hostname string
	FQDN     string
}

// Select chooses a host from hosts. If thresholdString is empty, a host
// is chosen at random (after blacklist filtering). Otherwise each
// threshold line is either a boolean filter (hosts failing it are
// dropped) or a ranking expression (hosts are sorted by the tuple of
// ranking values, ties broken at random).
func Select(
	ctx context.Context,
	hosts []string,
	thresholdString string,
	blacklist []string,
	blacklistName string,
	fetcher MetricFetcher,
	resolve FQDNResolver,
) (Result, error) {
	if resolve == nil {
		resolve = DefaultFQDNResolver
	}

	fqdnToHost := map[string]string{}
	for _, h := range hosts {
		fqdnToHost[resolve(h)] = h
	}
	canonical := make([]string, 0, len(fqdnToHost))
	for fqdn := range fqdnToHost {
		canonical = append(canonical, fqdn)
	}
	sort.Strings(canonical) // deterministic iteration before any random pick

	data := make(Diagnostics, len(canonical))
	for _, h := range canonical {
		data[h] = map[string]string{}
	}

	blacklistFQDNs := map[string]bool{}
	for _, b := range blacklist {
		blacklistFQDNs[resolve(b)] = true
	}
	if len(blacklistFQDNs) > 0 {
		canonical = filterByBlacklist(canonical, blacklistFQDNs, blacklistName, data)
	}
	if len(canonical) == 0 {
		return Result{}, errs.New(errs.KindNoHostsAvailable, thresholdString).WithDiagnostics(data)
	}

	var thresholds []Threshold
	if thresholdString != "" {
		var err error
		thresholds, err = ParseThresholds(thresholdString)
		if err != nil {
			return Result{}, err
		}
	}

	if len(thresholds) == 0 {
		pick := canonical[rand.Intn(len(canonical))] //nolint:gosec // host tie-break, not security sensitive
		return Result{Hostname: fqdnToHost[pick], FQDN: pick}, nil
	}

	seen := map[string]bool{}
	var queries []Query
	for _, th := range thresholds {
		k := th.Query.Key()
		if !seen[k] {
			seen[k] = true
			queries = append(queries, th.Query)
		}
	}

	results := map[string]map[string]any{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, h := range canonical {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			metrics, err := fetcher.FetchMetrics(ctx, h, queries)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				data[h]["get_metrics"] = err.Error()
				return
			}
			results[h] = metrics
		}(h)
	}
	wg.Wait()
	contactable := make([]string, 0, len(results))
	for h := range results {
		contactable = append(contactable, h)
	}
	sort.Strings(contactable)
	if len(contactable) == 0 {
		return Result{}, errs.New(errs.KindNoHostsAvailable, thresholdString).WithDiagnostics(data)
	}

	good, err := filterAndRankByThreshold(contactable, thresholds, results, data)
	if err != nil {
		return Result{}, err
	}
	if len(good) == 0 {
		return Result{}, errs.New(errs.KindNoHostsAvailable, thresholdString).WithDiagnostics(data)
	}
	return Result{Hostname: fqdnToHost[good[0]], FQDN: good[0]}, nil
}

func filterByBlacklist(hosts []string, blacklist map[string]bool, name string, data Diagnostics) []string {
	key := "blacklisted"
	if name != "" {
		key = fmt.Sprintf("blacklisted(%s)", name)
	}
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if blacklist[h] {
			data[h][key] = "true"
		} else {
			data[h][key] = "false"
			out = append(out, h)
		}
	}
	return out
}

type rankedHost struct {
	host string
	rank []float64
}

func filterAndRankByThreshold(
	hosts []string,
	thresholds []Threshold,
	results map[string]map[string]any,
	data Diagnostics,
) ([]string, error) {
	var good []rankedHost
	for _, h := range hosts {
		ok := true
		var rank []float64
		for _, th := range thresholds {
			val, present := results[h][th.Query.Key()]
			if !present {
				ok = false
				break
			}
			res, err := evalsafe.Eval(th.Expression, map[string]any{"RESULT": promoteRecord(val)})
			if err != nil {
				return nil, err
			}
			if b, isBool := res.(bool); isBool {
				data[h][th.Expression] = strconv.FormatBool(b)
				if !b {
					ok = false
				}
				continue
			}
			rank = append(rank, toFloat(res))
		}
		if ok {
			good = append(good, rankedHost{host: h, rank: rank})
		}
	}
	if len(good) == 0 {
		return nil, nil
	}
	rand.Shuffle(len(good), func(i, j int) { good[i], good[j] = good[j], good[i] }) //nolint:gosec
	if len(good[0].rank) > 0 {
		sort.SliceStable(good, func(i, j int) bool { return lessRank(good[i].rank, good[j].rank) })
	}
	out := make([]string, len(good))
	for i, g := range good {
		out[i] = g.host
	}
	return out, nil
}

// promoteRecord makes a dict-shaped metric value attribute-accessible,
// mirroring host_select.py's conversion of dict-shaped psutil results to
// namedtuples so threshold expressions like "RESULT.available > 0" work
// against a structured result (e.g. virtual_memory()'s fields) rather
// than only a bare scalar. expr-lang/expr already resolves a.b against a
// map[string]any at the language level, so no reflection-based struct
// synthesis is needed — this just makes the promotion point explicit and
// recurses into nested dict-shaped values the way the original's
// conversion walks nested namedtuples.
func promoteRecord(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = promoteRecord(val)
	}
	return out
}

func lessRank(a, b []float64) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}
