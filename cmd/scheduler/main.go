// Command scheduler runs the cycling workflow engine: it loads a
// workflow's task graph from configuration, selects an execution host at
// start-up, and drives the negotiate/dispatch/spawn/cleanup tick on a
// cron-style cadence behind an HTTP+JSON admin surface.
//
// Adapted from services/orchestrator/main.go's signal-context +
// logging/otelinit/http.Server wiring, generalized from that service's
// ad hoc DAG executor to this repository's cycling scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/ssh"

	logging "github.com/swarmguard/cyclesched/internal/corelib/logging"
	"github.com/swarmguard/cyclesched/internal/corelib/otelinit"

	"github.com/swarmguard/cyclesched/internal/broker"
	"github.com/swarmguard/cyclesched/internal/config"
	"github.com/swarmguard/cyclesched/internal/corelib/resilience"
	"github.com/swarmguard/cyclesched/internal/cycling"
	"github.com/swarmguard/cyclesched/internal/hostselect"
	"github.com/swarmguard/cyclesched/internal/runner"
	"github.com/swarmguard/cyclesched/internal/sched"
	"github.com/swarmguard/cyclesched/internal/statedump"
	"github.com/swarmguard/cyclesched/internal/taskstate"
	"github.com/swarmguard/cyclesched/internal/wire"
)

const serviceName = "cyclesched-scheduler"

func main() {
	logging.Init(serviceName)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, serviceName)
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, serviceName)

	cfg, err := config.Load(os.Getenv("CYCLESCHED_CONFIG_FILE"))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	family, err := cfg.CyclingFamily()
	if err != nil {
		slog.Error("invalid cycling family", "error", err)
		os.Exit(1)
	}

	defs, deps, err := sched.BuildDefinitions(family, cfg.Tasks)
	if err != nil {
		slog.Error("invalid task graph", "error", err)
		os.Exit(1)
	}

	store, err := statedump.Open(cfg.SnapshotDBPath)
	if err != nil {
		slog.Error("state dump store open failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	dispatcher := runner.Dispatcher{
		Local:    runner.LocalRunner{},
		Remote:   runner.SSHRunner{Resolve: sshConfigFor(cfg)},
		IsRemote: func(host string) bool { return host != "" && host != "localhost" },
	}
	if cfg.DispatchRateLimit > 0 {
		dispatcher.Limiter = resilience.NewRateLimiter(cfg.DispatchRateBurst, cfg.DispatchRateLimit, time.Second, 0)
	}
	metricFetcher := runner.MetricFetcher{Runner: dispatcher}

	chosenHost := "localhost"
	if len(cfg.HostPool) > 0 {
		res, err := hostselect.Select(ctx, cfg.HostPool, "", cfg.HostBlacklist, cfg.WorkflowName, metricFetcher, nil)
		if err != nil {
			slog.Warn("host selection failed, falling back to localhost", "error", err)
		} else {
			chosenHost = res.Hostname
			slog.Info("host selected", "host", chosenHost)
		}
	}

	runahead, err := cycling.ParseInterval(family, cfg.RunaheadLimit)
	if err != nil {
		slog.Error("invalid runahead_limit", "error", err)
		os.Exit(1)
	}
	var stopPoint *cycling.Point
	if cfg.StopPoint != "" {
		p, err := cycling.ParsePoint(family, cfg.StopPoint)
		if err != nil {
			slog.Error("invalid stop_point", "error", err)
			os.Exit(1)
		}
		stopPoint = &p
	}

	engine := &sched.Engine{
		Family:        family,
		Defs:          defs,
		Deps:          deps,
		Registry:      taskstate.NewRegistry(),
		Broker:        broker.New(),
		RunaheadLimit: runahead,
		StopPoint:     stopPoint,
		Store:         store,
		SnapshotKeep:  cfg.SnapshotKeep,
		Dispatch: func(ctx context.Context, inst *taskstate.Instance) error {
			_, err := resilience.Retry(ctx, 3, 500*time.Millisecond, func() ([]byte, error) {
				return dispatcher.Run(ctx, chosenHost, []string{"cyclesched-agent", "run", inst.ID()}, nil)
			})
			return err
		},
	}
	if restored, ok, err := restoreFromLatestSnapshot(store, family, defs, deps); err != nil {
		slog.Error("state dump restore failed", "error", err)
		os.Exit(1)
	} else if ok {
		engine.Instances = restored
		for _, inst := range restored {
			engine.Registry.IncInstanceCount(inst.Def.Name)
		}
		slog.Info("restored from state dump", "instances", len(restored))
	} else {
		seedInitialInstances(engine, cfg, family, defs, deps)
	}

	var metricsHandler http.Handler
	if h, ok := promHandler.(http.Handler); ok {
		metricsHandler = h
	}
	srv := wire.NewServer(engine, family, metricsHandler)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	c := cron.New(cron.WithSeconds())
	tickExpr := cfg.TickCronExpr
	if tickExpr == "" {
		tickExpr = fmt.Sprintf("@every %s", cfg.TickInterval)
	}
	if _, err := c.AddFunc(tickExpr, func() {
		if err := engine.Tick(ctx); err != nil {
			slog.Error("tick failed", "error", err)
		}
		if engine.ShouldStop() {
			slog.Info("stop request satisfied, shutting down")
			cancel()
		}
	}); err != nil {
		slog.Error("invalid tick schedule", "error", err)
		os.Exit(1)
	}
	c.Start()

	slog.Info("scheduler started", "workflow", cfg.WorkflowName, "family", family.String(), "http_addr", cfg.HTTPAddr)
	<-ctx.Done()
	slog.Info("shutdown initiated")

	stopCtx := c.Stop()
	<-stopCtx.Done()

	shutdownHTTP, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = httpSrv.Shutdown(shutdownHTTP)
	otelinit.Flush(shutdownHTTP, shutdownTrace)
	_ = shutdownMetrics(shutdownHTTP)
	slog.Info("shutdown complete")
}

// seedInitialInstances materializes one Waiting instance, at its
// configured recurrence anchor, for every task whose spec defines a
// sequence — the workflow's starting population before the first tick.
func seedInitialInstances(engine *sched.Engine, cfg config.Config, family cycling.Family, defs map[string]*taskstate.Definition, deps map[string][]string) {
	for _, spec := range cfg.Tasks {
		if spec.SequenceStep == "" {
			continue
		}
		anchor, err := cycling.ParsePoint(family, spec.SequenceAnchor)
		if err != nil {
			slog.Error("invalid sequence anchor", "task", spec.Name, "error", err)
			continue
		}
		inst, err := sched.NewInstanceWired(defs[spec.Name], anchor, deps)
		if err != nil {
			slog.Error("failed to seed initial instance", "task", spec.Name, "error", err)
			continue
		}
		engine.Instances = append(engine.Instances, inst)
		engine.Registry.IncInstanceCount(spec.Name)
	}
}

// restoreFromLatestSnapshot rebuilds the live instance population from the
// most recent state dump, if one exists — the no_reset restart path:
// prerequisites and outputs come back exactly as dumped rather than
// re-derived from scratch.
func restoreFromLatestSnapshot(store *statedump.Store, family cycling.Family, defs map[string]*taskstate.Definition, deps map[string][]string) ([]*taskstate.Instance, bool, error) {
	rendered, ok, err := store.Latest()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	snap, err := statedump.Parse(rendered)
	if err != nil {
		return nil, false, err
	}
	instances, err := statedump.Restore(snap, family, func(name string, point cycling.Point) (*taskstate.Instance, error) {
		def, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("restore: unknown task %q", name)
		}
		return sched.NewInstanceWired(def, point, deps)
	})
	if err != nil {
		return nil, false, err
	}
	return instances, true, nil
}

// sshConfigFor builds the SSHConfigFor resolver runner.SSHRunner uses,
// from the configured user and private key file. Every remote host
// shares the same identity and is dialed on the standard SSH port.
func sshConfigFor(cfg config.Config) runner.SSHConfigFor {
	return func(host string) (string, *ssh.ClientConfig, error) {
		if cfg.SSHKeyPath == "" {
			return "", nil, fmt.Errorf("no ssh_key_path configured for remote host %q", host)
		}
		keyBytes, err := os.ReadFile(cfg.SSHKeyPath)
		if err != nil {
			return "", nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return "", nil, fmt.Errorf("parse ssh key: %w", err)
		}
		clientCfg := &ssh.ClientConfig{
			User:            cfg.SSHUser,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host pool membership is the trust boundary here, not host-key pinning
			Timeout:         10 * time.Second,
		}
		return host + ":22", clientCfg, nil
	}
}
