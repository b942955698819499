// Package config loads the scheduler's runtime configuration: which
// cycling family a workflow runs in, its runahead and stop bounds, the
// host pool available to the host selector, and the tick cadence that
// drives the engine loop.
//
// Grounded on the broader example pack's viper convention (no repo in
// the teacher's own tree reaches for a config library — its services all
// read bare env vars — so this follows the rest of the corpus, e.g.
// other_examples/manifests/maumercado-task-queue-go's viper setup)
// rather than hand-rolling another os.Getenv table the way
// internal/corelib/logging does for the two flags it needs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/swarmguard/cyclesched/internal/cycling"
)

// Config is the scheduler's full runtime configuration.
type Config struct {
	WorkflowName string `mapstructure:"workflow_name"`
	Family       string `mapstructure:"family"` // "integer" or "iso"

	RunaheadLimit string `mapstructure:"runahead_limit"` // interval literal in Family's grammar
	StopPoint     string `mapstructure:"stop_point"`      // optional; empty means unbounded

	SnapshotDBPath string `mapstructure:"snapshot_db_path"`
	SnapshotKeep   int    `mapstructure:"snapshot_keep"`

	TickInterval time.Duration `mapstructure:"tick_interval"`
	TickCronExpr string        `mapstructure:"tick_cron_expr"` // robfig/cron expression; overrides TickInterval when set

	HTTPAddr string `mapstructure:"http_addr"`

	HostPool     []string `mapstructure:"host_pool"`
	HostBlacklist []string `mapstructure:"host_blacklist"`

	SSHUser    string `mapstructure:"ssh_user"`
	SSHKeyPath string `mapstructure:"ssh_key_path"`

	// DispatchRateLimit/DispatchRateBurst bound how fast the scheduler
	// submits jobs to the dispatcher, independent of how many tasks
	// become ready in a single tick.
	DispatchRateLimit float64 `mapstructure:"dispatch_rate_limit"` // submissions/second; 0 disables throttling
	DispatchRateBurst int64   `mapstructure:"dispatch_rate_burst"`

	Tasks []TaskSpec `mapstructure:"tasks"`
}

// TaskSpec describes one task definition in the workflow graph: its
// recurrence and its cotemporal dependencies on other tasks' standard
// "finished" output. Dependencies across a cycle offset (e.g. "the
// previous cycle's instance of this same task finished") are expressed
// by insert/purge/reset admin operations instead, not by this static graph.
type TaskSpec struct {
	Name           string   `mapstructure:"name"`
	QuickDeath     bool     `mapstructure:"quick_death"`
	OneoffFollowOn string   `mapstructure:"oneoff_follow_on"`
	OutputVerbs    []string `mapstructure:"output_verbs"`
	DependsOn      []string `mapstructure:"depends_on"`

	// SequenceAnchor/SequenceStep/SequenceEnd define this task's
	// recurrence in its Family's point/interval grammar. An empty
	// SequenceStep means the task never spawns a successor on its own
	// (insert-only).
	SequenceAnchor string `mapstructure:"sequence_anchor"`
	SequenceStep   string `mapstructure:"sequence_step"`
	SequenceEnd    string `mapstructure:"sequence_end"`
}

// CyclingFamily resolves the configured cycling family, defaulting to the
// integer family when unset.
func (c Config) CyclingFamily() (cycling.Family, error) {
	switch strings.ToLower(c.Family) {
	case "", "integer":
		return cycling.IntegerFamily, nil
	case "iso", "iso8601":
		return cycling.ISOFamily, nil
	default:
		return cycling.Family(0), fmt.Errorf("unknown cycling family %q", c.Family)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("family", "integer")
	v.SetDefault("runahead_limit", "0")
	v.SetDefault("snapshot_db_path", "cyclesched-state.db")
	v.SetDefault("snapshot_keep", 20)
	v.SetDefault("tick_interval", 5*time.Second)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("dispatch_rate_limit", 10.0)
	v.SetDefault("dispatch_rate_burst", 10)
}

// Load reads configuration from (in descending priority) environment
// variables prefixed CYCLESCHED_, a config file at path (if non-empty and
// present), and built-in defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("cyclesched")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.WorkflowName == "" {
		cfg.WorkflowName = "default"
	}
	return cfg, nil
}
