// Package config loads the orchestrator's own YAML configuration: server
// address, database location, AI endpoint, retrieval-index layout, lock
// backend, and the set of projects to keep in sync (spec.md §3's Project
// table, populated from outside the core). It follows the teacher's
// gopkg.in/yaml.v3 + Discover-then-Load convention.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codecrow/branchanalyzer/internal/db"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	AI       AIConfig        `yaml:"ai"`
	Rag      RagConfig       `yaml:"rag"`
	Lock     LockConfig      `yaml:"lock"`
	Projects []ProjectConfig `yaml:"projects"`

	path string `yaml:"-"`
}

type ServerConfig struct {
	Addr               string `yaml:"addr"`
	ProgressBufferSize int    `yaml:"progress_buffer_size"`
	MaxWorkers         int    `yaml:"max_workers"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AIConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	TokenCeiling      int           `yaml:"token_ceiling"`
	PromptOverrideDir string        `yaml:"prompt_override_dir"`
}

type RagConfig struct {
	ManifestDir string   `yaml:"manifest_dir"`
	IgnoreGlobs []string `yaml:"ignore_globs"`
}

type LockConfig struct {
	Backend      string        `yaml:"backend"` // inprocess | sqlite
	MaxWait      time.Duration `yaml:"max_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ProjectConfig mirrors db.ProjectConfig with YAML tags; ToDB converts it
// into the shape SyncProjects expects, keeping the wire format decoupled
// from the persistence layer's column names.
type ProjectConfig struct {
	Name             string `yaml:"name"`
	Namespace        string `yaml:"namespace"`
	Workspace        string `yaml:"workspace"`
	VcsProvider      string `yaml:"vcs_provider"`
	VcsWorkspaceSlug string `yaml:"vcs_workspace_slug"`
	VcsRepoSlug      string `yaml:"vcs_repo_slug"`
	VcsConnectionID  string `yaml:"vcs_connection_id"`
	BaseBranch       string `yaml:"base_branch"`
	RagEnabled       bool   `yaml:"rag_enabled"`
}

func (p ProjectConfig) ToDB() db.ProjectConfig {
	return db.ProjectConfig{
		Name:             p.Name,
		Namespace:        p.Namespace,
		Workspace:        p.Workspace,
		VcsProvider:      p.VcsProvider,
		VcsWorkspaceSlug: p.VcsWorkspaceSlug,
		VcsRepoSlug:      p.VcsRepoSlug,
		VcsConnectionID:  p.VcsConnectionID,
		BaseBranch:       p.BaseBranch,
		RagEnabled:       p.RagEnabled,
	}
}

// Dir returns the directory the config file was loaded from, used to
// resolve sibling paths like credentials.yaml.
func (c *Config) Dir() string {
	return filepath.Dir(c.path)
}

// Load reads and parses a config file, filling in defaults for anything the
// file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	cfg.path = absPath
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Discover walks up from workDir looking for .branchanalyzer/config.yaml.
// When workDir is empty it defaults to the current working directory.
func Discover(workDir string) (*Config, error) {
	dir := workDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
	}

	for {
		candidate := filepath.Join(dir, ".branchanalyzer", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return nil, fmt.Errorf("no .branchanalyzer/config.yaml found in current directory or parents")
}

// Resolve tries the explicit path first, then falls back to Discover.
func Resolve(explicitPath, workDir string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	return Discover(workDir)
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.ProgressBufferSize == 0 {
		c.Server.ProgressBufferSize = 256
	}
	if c.Server.MaxWorkers == 0 {
		c.Server.MaxWorkers = 4
	}
	if c.Database.Path == "" {
		if p, err := db.DefaultPath(); err == nil {
			c.Database.Path = p
		}
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 90 * time.Second
	}
	if c.AI.TokenCeiling == 0 {
		c.AI.TokenCeiling = 12000
	}
	if c.Rag.ManifestDir == "" {
		c.Rag.ManifestDir = filepath.Join(filepath.Dir(c.Database.Path), "rag-index")
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = "sqlite"
	}
	if c.Lock.MaxWait == 0 {
		c.Lock.MaxWait = 2 * time.Minute
	}
	if c.Lock.PollInterval == 0 {
		c.Lock.PollInterval = 500 * time.Millisecond
	}
}

// AddProject appends a project entry, replacing any existing entry with the
// same name — used by the `init` wizard so re-running it updates a project
// in place instead of duplicating it.
func (c *Config) AddProject(p ProjectConfig) {
	for i, existing := range c.Projects {
		if existing.Name == p.Name {
			c.Projects[i] = p
			return
		}
	}
	c.Projects = append(c.Projects, p)
}

// Save writes the config to path, or to the path it was loaded from when
// path is empty, creating the parent directory if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.path
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	absPath, err := filepath.Abs(path)
	if err == nil {
		c.path = absPath
	}
	return nil
}

func (c *Config) validate() error {
	for i, p := range c.Projects {
		if p.Name == "" {
			return fmt.Errorf("project[%d]: missing required field: name", i)
		}
		if p.VcsProvider == "" {
			return fmt.Errorf("project %q: missing required field: vcs_provider", p.Name)
		}
	}
	if c.AI.Endpoint == "" {
		return fmt.Errorf("missing required field: ai.endpoint")
	}
	return nil
}
