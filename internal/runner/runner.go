// Package runner executes commands on local or remote hosts and feeds the
// result back through a JSON stdin/stdout protocol: queries go out as a
// JSON array on stdin, results come back as a JSON array on stdout, and
// any diagnostic noise a remote shell prepends to the real output is
// tolerated by scanning forward to the first line that looks like JSON.
//
// Local execution is ported from
// _examples/original_source/cylc/flow/host_select.py's _get_metrics,
// which starts every host's subprocess concurrently and polls
// proc.poll() every 10ms until each completes rather than blocking on
// the first one; remote execution replaces that function's
// shell-out-to-ssh-binary (remote_cylc_cmd) with a proper
// golang.org/x/crypto/ssh session, avoiding a dependency on the ssh
// binary and argv-based quoting.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/swarmguard/cyclesched/internal/corelib/resilience"
	"github.com/swarmguard/cyclesched/internal/errs"
	"github.com/swarmguard/cyclesched/internal/hostselect"
)

// Runner executes one command against a host and returns its raw stdout,
// with stdin fed the given bytes. No retry is performed here — callers
// that want retry/backoff wrap a Runner with internal/corelib/resilience.
type Runner interface {
	Run(ctx context.Context, host string, args []string, stdin []byte) ([]byte, error)
}

// LocalRunner runs commands as local subprocesses.
type LocalRunner struct {
	// PollInterval is how often the run loop checks for completion while
	// waiting on the subprocess; defaults to 10ms, matching the original
	// metric-fetch poll cadence.
	PollInterval time.Duration
}

func (r LocalRunner) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return 10 * time.Millisecond
}

// Run executes args[0] with args[1:] as a local subprocess.
func (r LocalRunner) Run(ctx context.Context, host string, args []string, stdin []byte) ([]byte, error) {
	if len(args) == 0 {
		return nil, errs.New(errs.KindRemoteCommandFailed, host).WithHint("no command given")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.KindRemoteCommandFailed, host, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return nil, commandFailedErr(host, err, stderr.String())
			}
			return scanJSONOutput(stdout.Bytes()), nil
		case <-ticker.C:
			// poll loop: nothing to do but let the select re-evaluate
			// whether the subprocess has finished.
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return nil, ctx.Err()
		}
	}
}

func commandFailedErr(host string, err error, stderr string) error {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	e := errs.Wrap(errs.KindRemoteCommandFailed, host, err).
		WithHint(fmt.Sprintf("Command failed (exit: %d)", code))
	if stderr != "" {
		e.Diagnostics = map[string]map[string]string{host: {"stderr": stderr}}
	}
	return e
}

// SSHConfigFor resolves the address and client configuration to use when
// dialing a remote host.
type SSHConfigFor func(host string) (addr string, cfg *ssh.ClientConfig, err error)

// SSHRunner runs commands on a remote host over SSH.
type SSHRunner struct {
	Resolve SSHConfigFor
}

// Run dials host over SSH, runs the joined command, and collects stdout.
func (r SSHRunner) Run(ctx context.Context, host string, args []string, stdin []byte) ([]byte, error) {
	if len(args) == 0 {
		return nil, errs.New(errs.KindRemoteCommandFailed, host).WithHint("no command given")
	}
	addr, cfg, err := r.Resolve(host)
	if err != nil {
		return nil, errs.Wrap(errs.KindRemoteCommandFailed, host, err)
	}
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindRemoteCommandFailed, host, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, errs.Wrap(errs.KindRemoteCommandFailed, host, err)
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(strings.Join(args, " ")) }()

	select {
	case err := <-runErr:
		if err != nil {
			return nil, sshFailedErr(host, err, stderr.String())
		}
		return scanJSONOutput(stdout.Bytes()), nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	}
}

func sshFailedErr(host string, err error, stderr string) error {
	code := -1
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitStatus()
	}
	e := errs.Wrap(errs.KindRemoteCommandFailed, host, err).
		WithHint(fmt.Sprintf("Command failed (exit: %d)", code))
	if stderr != "" {
		e.Diagnostics = map[string]map[string]string{host: {"stderr": stderr}}
	}
	return e
}

// Dispatcher routes each Run call to a local or remote Runner depending on
// IsRemote, sparing callers from threading that decision through every
// call site. Limiter, if set, throttles the rate of outbound Run calls —
// local and remote alike — ahead of of process creation or SSH dialing,
// so a workflow with many co-temporal tasks can't hammer a host pool
// faster than it's configured to take submissions.
type Dispatcher struct {
	Local    Runner
	Remote   Runner
	IsRemote func(host string) bool
	Limiter  *resilience.RateLimiter
}

// Run implements Runner by delegating to Local or Remote.
func (d Dispatcher) Run(ctx context.Context, host string, args []string, stdin []byte) ([]byte, error) {
	if d.Limiter != nil && !d.Limiter.Allow() {
		return nil, errs.New(errs.KindRemoteCommandFailed, host).
			WithHint("rate limit exceeded, retry after " + d.Limiter.ReserveAfter(1).String())
	}
	if d.IsRemote != nil && d.IsRemote(host) {
		return d.Remote.Run(ctx, host, args, stdin)
	}
	return d.Local.Run(ctx, host, args, stdin)
}

// scanJSONOutput drops any prefix lines that aren't JSON — banner text,
// MOTDs, shell rc noise — by keeping only from the first line that starts
// with '[' onward, matching the original's
// itertools.dropwhile(lambda s: not s.startswith('['), ...).
func scanJSONOutput(out []byte) []byte {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var b bytes.Buffer
	found := false
	for scanner.Scan() {
		line := scanner.Text()
		if !found {
			if !strings.HasPrefix(strings.TrimSpace(line), "[") {
				continue
			}
			found = true
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if !found {
		return out
	}
	return b.Bytes()
}

// wireQuery is the JSON-serializable form of a hostselect.Query, matching
// the original's [function, arg1, arg2, ...] metric list sent as the
// psutil command's stdin payload.
type wireQuery []any

func toWireQueries(queries []hostselect.Query) []wireQuery {
	out := make([]wireQuery, len(queries))
	for i, q := range queries {
		w := make(wireQuery, 0, 1+len(q.Args))
		w = append(w, q.Func)
		w = append(w, q.Args...)
		out[i] = w
	}
	return out
}

// CommandName is the metrics-gathering subcommand invoked on every host,
// local or remote.
var CommandName = []string{"cyclesched-agent", "metrics"}

// MetricFetcher adapts a Runner into a hostselect.MetricFetcher: it
// encodes the requested queries as JSON on stdin and decodes the
// parallel JSON array of results from stdout.
type MetricFetcher struct {
	Runner Runner
}

// FetchMetrics implements hostselect.MetricFetcher.
func (f MetricFetcher) FetchMetrics(ctx context.Context, host string, queries []hostselect.Query) (map[string]any, error) {
	payload, err := json.Marshal(toWireQueries(queries))
	if err != nil {
		return nil, errs.Wrap(errs.KindRemoteCommandFailed, host, err)
	}
	out, err := f.Runner.Run(ctx, host, CommandName, payload)
	if err != nil {
		return nil, err
	}
	var values []any
	if err := json.Unmarshal(out, &values); err != nil {
		return nil, errs.Wrap(errs.KindRemoteCommandFailed, host, err).
			WithHint("metrics command did not return a JSON array")
	}
	result := make(map[string]any, len(queries))
	for i, q := range queries {
		if i < len(values) {
			result[q.Key()] = values[i]
		}
	}
	return result, nil
}
