// Package config loads and validates the justb engine configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/buildforge/justb/internal/fileroot"
	"github.com/buildforge/justb/internal/hashinfo"
	"github.com/buildforge/justb/internal/repoconfig"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root of the TOML configuration tree (SPEC_FULL.md §2.1).
type Config struct {
	General      General                   `toml:"general"`
	Execution    Execution                 `toml:"execution"`
	Metrics      Metrics                   `toml:"metrics"`
	API          API                       `toml:"api"`
	Distributed  Distributed               `toml:"distributed"`
	Repositories map[string]RepositoryEntry `toml:"repositories"`
}

// General holds process-wide engine settings.
type General struct {
	Jobs        int      `toml:"jobs"`        // 0 = hardware concurrency
	Root        string   `toml:"root"`        // build-root directory holding the CAS generations
	LogLevel    string   `toml:"log_level"`   // hot-reloadable
	LogFormat   string   `toml:"log_format"`  // "json" | "text"
	Generations int      `toml:"generations"` // CAS generation count, >= 2
	HashFamily  string   `toml:"hash_family"` // "git-sha1" | "plain-sha256"
}

// Execution configures the action executor's backend (SPEC_FULL.md §4.7).
type Execution struct {
	Backend           string           `toml:"backend"` // "local" | "docker" | "bazel-remote"
	BazelEndpoint     string           `toml:"bazel_endpoint"`
	BazelInstanceName string           `toml:"bazel_instance_name"`
	TimeoutScale      float64          `toml:"timeout_scale"`
	ChunkSizeBytes    int              `toml:"chunk_size_bytes"`
	Dispatch          []DispatchRule   `toml:"dispatch"`
}

// DispatchRule routes actions whose execution properties match Match to a
// specific remote endpoint, per SPEC_FULL.md §4.7 item 3.
type DispatchRule struct {
	Match    map[string]string `toml:"match"`
	Endpoint string            `toml:"endpoint"`
}

// Metrics configures the Prometheus exposition endpoint.
type Metrics struct {
	ListenAddr string `toml:"listen_addr"`
}

// API configures the status/introspection HTTP server.
type API struct {
	ListenAddr string `toml:"listen_addr"`
}

// Distributed configures the optional Temporal-backed coordination layer.
type Distributed struct {
	Enabled      bool     `toml:"enabled"`
	HostPort     string   `toml:"host_port"`
	Namespace    string   `toml:"namespace"`
	TaskQueue    string   `toml:"task_queue"`
	PollInterval Duration `toml:"poll_interval"` // hot-reloadable
}

// RepositoryEntry configures one repository's roots and file-name overrides
// (SPEC_FULL.md §2.1, feeding repoconfig.RepositoryInfo).
type RepositoryEntry struct {
	Workspace          string            `toml:"workspace"`           // filesystem path, ignored when git_object_db is set
	GitObjectDB        string            `toml:"git_object_db"`       // path to a bare git object database
	GitTree            string            `toml:"git_tree"`            // tree hash within GitObjectDB
	TargetRoot         string            `toml:"target_root"`         // relative to workspace, defaults to workspace
	RuleRoot           string            `toml:"rule_root"`           // relative to workspace, defaults to target_root
	ExpressionRoot     string            `toml:"expression_root"`     // relative to workspace, defaults to rule_root
	TargetFileName     string            `toml:"target_file_name"`    // defaults to "TARGETS"
	RuleFileName       string            `toml:"rule_file_name"`      // defaults to "RULES"
	ExpressionFileName string            `toml:"expression_file_name"` // defaults to "EXPRESSIONS"
	Bindings           map[string]string `toml:"bindings"`            // local name -> global repository name
}

// Clone returns a deep copy of cfg so callers (notably RWMutexManager) can
// safely mutate or hand out the result without sharing state across readers.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.Execution.Dispatch = make([]DispatchRule, len(cfg.Execution.Dispatch))
	for i, rule := range cfg.Execution.Dispatch {
		cloned.Execution.Dispatch[i] = DispatchRule{Endpoint: rule.Endpoint, Match: cloneStringMap(rule.Match)}
	}
	if cfg.Repositories != nil {
		cloned.Repositories = make(map[string]RepositoryEntry, len(cfg.Repositories))
		for name, entry := range cfg.Repositories {
			entry.Bindings = cloneStringMap(entry.Bindings)
			cloned.Repositories[name] = entry
		}
	}
	return &cloned
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Load reads and validates a justb TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// LoadManager reads config from path and returns an RWMutex-backed
// thread-safe manager over the hot-reloadable subset.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.Generations == 0 {
		cfg.General.Generations = 2
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "text"
	}
	if cfg.General.HashFamily == "" {
		cfg.General.HashFamily = "git-sha1"
	}
	if cfg.Execution.Backend == "" {
		cfg.Execution.Backend = "local"
	}
	if cfg.Execution.ChunkSizeBytes == 0 {
		cfg.Execution.ChunkSizeBytes = 65536
	}
	if cfg.Execution.TimeoutScale == 0 {
		cfg.Execution.TimeoutScale = 1.0
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = "127.0.0.1:9365"
	}
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = "127.0.0.1:8372"
	}
	if cfg.Distributed.Namespace == "" {
		cfg.Distributed.Namespace = "default"
	}
	if cfg.Distributed.TaskQueue == "" {
		cfg.Distributed.TaskQueue = "justb"
	}
	if cfg.Distributed.PollInterval.Duration == 0 {
		cfg.Distributed.PollInterval.Duration = 5 * time.Second
	}
	for name, entry := range cfg.Repositories {
		if entry.TargetFileName == "" {
			entry.TargetFileName = "TARGETS"
		}
		if entry.RuleFileName == "" {
			entry.RuleFileName = "RULES"
		}
		if entry.ExpressionFileName == "" {
			entry.ExpressionFileName = "EXPRESSIONS"
		}
		cfg.Repositories[name] = entry
	}
}

func validate(cfg *Config) error {
	if cfg.General.Generations < 2 {
		return fmt.Errorf("general.generations must be >= 2")
	}
	switch cfg.General.HashFamily {
	case "git-sha1", "plain-sha256":
	default:
		return fmt.Errorf("general.hash_family must be \"git-sha1\" or \"plain-sha256\", got %q", cfg.General.HashFamily)
	}
	switch cfg.General.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("general.log_format must be \"json\" or \"text\", got %q", cfg.General.LogFormat)
	}
	switch cfg.Execution.Backend {
	case "local", "docker", "bazel-remote":
	default:
		return fmt.Errorf("execution.backend must be one of local, docker, bazel-remote, got %q", cfg.Execution.Backend)
	}
	if cfg.Execution.Backend == "bazel-remote" && cfg.Execution.BazelEndpoint == "" {
		return fmt.Errorf("execution.bazel_endpoint is required when execution.backend is bazel-remote")
	}
	if cfg.Execution.ChunkSizeBytes <= 0 {
		return fmt.Errorf("execution.chunk_size_bytes must be > 0")
	}
	for i, rule := range cfg.Execution.Dispatch {
		if rule.Endpoint == "" {
			return fmt.Errorf("execution.dispatch[%d].endpoint is required", i)
		}
	}
	if len(cfg.Repositories) == 0 {
		return fmt.Errorf("at least one [repositories.<name>] entry is required")
	}
	for name, entry := range cfg.Repositories {
		if entry.Workspace == "" && entry.GitObjectDB == "" {
			return fmt.Errorf("repositories.%s: either workspace or git_object_db/git_tree is required", name)
		}
		if entry.GitObjectDB != "" && entry.GitTree == "" {
			return fmt.Errorf("repositories.%s: git_tree is required when git_object_db is set", name)
		}
	}
	if cfg.Distributed.Enabled && cfg.Distributed.HostPort == "" {
		return fmt.Errorf("distributed.host_port is required when distributed.enabled is true")
	}
	return nil
}

// HashFamilyValue resolves the configured hash family name to its
// hashinfo.Family constant.
func (g General) HashFamilyValue() hashinfo.Family {
	if g.HashFamily == "plain-sha256" {
		return hashinfo.PlainSHA256
	}
	return hashinfo.GitSHA1
}

// BuildRepositoryConfig resolves every configured repository's roots (as
// filesystem or git-object-database roots) into a *repoconfig.RepositoryConfig
// ready to feed the base maps (SPEC_FULL.md §4.4).
func (cfg *Config) BuildRepositoryConfig() (*repoconfig.RepositoryConfig, error) {
	rc := repoconfig.New()
	for name, entry := range cfg.Repositories {
		root, err := entry.buildRoot()
		if err != nil {
			return nil, fmt.Errorf("repositories.%s: %w", name, err)
		}
		info := repoconfig.RepositoryInfo{
			WorkspaceRoot:      root,
			NameMapping:        cloneStringMap(entry.Bindings),
			TargetFileName:     entry.TargetFileName,
			RuleFileName:       entry.RuleFileName,
			ExpressionFileName: entry.ExpressionFileName,
		}
		if entry.TargetRoot != "" {
			info.TargetRoot, err = entry.subRoot(root, entry.TargetRoot)
			if err != nil {
				return nil, fmt.Errorf("repositories.%s.target_root: %w", name, err)
			}
		}
		if entry.RuleRoot != "" {
			info.RuleRoot, err = entry.subRoot(root, entry.RuleRoot)
			if err != nil {
				return nil, fmt.Errorf("repositories.%s.rule_root: %w", name, err)
			}
		}
		if entry.ExpressionRoot != "" {
			info.ExpressionRoot, err = entry.subRoot(root, entry.ExpressionRoot)
			if err != nil {
				return nil, fmt.Errorf("repositories.%s.expression_root: %w", name, err)
			}
		}
		rc.SetInfo(name, info)
	}
	return rc, nil
}

func (e RepositoryEntry) buildRoot() (fileroot.Root, error) {
	if e.GitObjectDB != "" {
		return fileroot.OpenGitRoot(e.GitObjectDB, e.GitTree)
	}
	return fileroot.NewFSRoot(e.Workspace), nil
}

// subRoot resolves a relative root override. Git roots are content-fixed and
// have no independent subdirectory view beyond ReadDirectory, so only
// FSRoot-backed workspaces support overriding target/rule/expression roots
// to a different directory.
func (e RepositoryEntry) subRoot(base fileroot.Root, rel string) (fileroot.Root, error) {
	if e.GitObjectDB != "" {
		return nil, fmt.Errorf("overriding roots under a git_object_db workspace is not supported")
	}
	return fileroot.NewFSRoot(filepath.Join(e.Workspace, rel)), nil
}
