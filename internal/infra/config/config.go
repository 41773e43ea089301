// Package config loads a crawler's YAML configuration file: worker
// count, work directory, orphan and spoil handling, the fatal
// exception allowlist, and the metrics toggle.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/norcore/collector-core/internal/domain/crawl"
)

// SpoilOverride pins a single terminal state's spoil action, bypassing
// whatever the crawler's default SpoilPolicy would otherwise resolve.
type SpoilOverride struct {
	State  string `yaml:"state"`
	Action string `yaml:"action"`
}

// Config is the top-level shape of a crawler's YAML configuration
// file.
type Config struct {
	// CrawlerID names this crawler's on-disk work directory and
	// distinguishes it in log fields and event payloads.
	CrawlerID string `yaml:"crawler_id"`

	// WorkDir is the root directory under which every crawler's
	// per-id subdirectory (store, downloads) is created.
	WorkDir string `yaml:"work_dir"`

	// Workers is the worker pool size. Values less than 1 are
	// treated as 1.
	Workers int `yaml:"workers"`

	// MaxDocuments caps the number of references finalized in a
	// single non-delete pass. Zero or negative means unbounded.
	MaxDocuments int `yaml:"max_documents"`

	// OrphanStrategy is one of "ignore", "process", "delete".
	OrphanStrategy string `yaml:"orphan_strategy"`

	// SpoilOverrides pins specific terminal states to a spoil
	// action ahead of the default policy's fallback.
	SpoilOverrides []SpoilOverride `yaml:"spoil_overrides,omitempty"`

	// StopOnExceptions lists Go error type names, as printed by %T
	// (e.g. "*errors.errorString"), that abort the crawl once the
	// finalizing reference has been written (see IsFatal). Any other
	// error is logged and treated as non-fatal.
	StopOnExceptions []string `yaml:"stop_on_exceptions,omitempty"`

	// EnableMetrics turns on the Prometheus /metrics endpoint.
	EnableMetrics bool   `yaml:"enable_metrics"`
	MetricsAddr   string `yaml:"metrics_addr,omitempty"`

	// EnableEventLog turns on a debug-level log line per event
	// published to the EventBus, independent of any other listener.
	EnableEventLog bool `yaml:"enable_event_log,omitempty"`
}

// Loader loads a Config from some underlying source. FileLoader is the only
// implementation; the interface exists so the CLI's configcheck
// subcommand and tests can substitute a stub.
type Loader interface {
	Load() (*Config, error)
}

// FileLoader loads configuration from a YAML file on disk.
type FileLoader struct {
	path string
}

// NewFileLoader builds a FileLoader reading from path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the file, then validates it.
func (l *FileLoader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields required for a crawl to start, returning
// a crawl.CrawlError of kind ErrKindConfiguration on the first
// problem found.
func (c *Config) Validate() error {
	if c.CrawlerID == "" {
		return crawl.NewConfigurationError("crawler_id is required")
	}
	if c.WorkDir == "" {
		return crawl.NewConfigurationError("work_dir is required")
	}
	switch c.OrphanStrategy {
	case "", "ignore", "process", "delete":
	default:
		return crawl.NewConfigurationError(fmt.Sprintf("orphan_strategy %q is not one of ignore, process, delete", c.OrphanStrategy))
	}
	for _, o := range c.SpoilOverrides {
		switch o.Action {
		case "ignore", "delete", "grace_once":
		default:
			return crawl.NewConfigurationError(fmt.Sprintf("spoil override action %q is not one of ignore, delete, grace_once", o.Action))
		}
	}
	return nil
}

// BuildSpoilPolicy applies SpoilOverrides on top of the engine's
// default policy.
func (c *Config) BuildSpoilPolicy() *crawl.GenericSpoilPolicy {
	policy := crawl.NewGenericSpoilPolicy()
	for _, o := range c.SpoilOverrides {
		var action crawl.SpoilAction
		switch o.Action {
		case "delete":
			action = crawl.SpoilDelete
		case "grace_once":
			action = crawl.SpoilGraceOnce
		default:
			action = crawl.SpoilIgnore
		}
		policy.WithOverride(crawl.State(o.State), action)
	}
	return policy
}

// ParsedOrphanStrategy maps the configured string to the domain enum,
// defaulting to OrphanIgnore for an empty or unrecognized value.
func (c *Config) ParsedOrphanStrategy() crawl.OrphanStrategy {
	switch c.OrphanStrategy {
	case "process":
		return crawl.OrphanProcess
	case "delete":
		return crawl.OrphanDelete
	default:
		return crawl.OrphanIgnore
	}
}

// IsFatal reports whether err, or any error in its Unwrap chain,
// carries a concrete Go type name listed in StopOnExceptions. This is
// the Go rendition of a stop-on-exceptions-by-class-name list: rather
// than matching Java class names, it matches the %T type name of the
// error value itself.
func (c *Config) IsFatal(err error) bool {
	if len(c.StopOnExceptions) == 0 {
		return false
	}
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		name := fmt.Sprintf("%T", cur)
		for _, want := range c.StopOnExceptions {
			if name == want {
				return true
			}
		}
	}
	return false
}
