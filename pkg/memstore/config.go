package memstore

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/offlinemind/memstore/pkg/errs"
	"github.com/offlinemind/memstore/pkg/vector"
)

// Config configures an embedded store instance.
type Config struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
	// IndexThreshold is the per-collection document count at which the
	// vector store switches from the brute-force index to the packed
	// inner-product index. Zero means the default.
	IndexThreshold int `yaml:"index_threshold"`
	// PageRankIterations caps centrality iterations. Zero means the
	// default.
	PageRankIterations int `yaml:"pagerank_iterations"`
	// PageRankDamping is the centrality damping factor. Zero means the
	// default.
	PageRankDamping float64 `yaml:"pagerank_damping"`
	// Logger receives structured logs from every component. Nil means
	// no logging.
	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig returns the configuration used by desktop deployments.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		IndexThreshold: vector.DefaultIndexThreshold,
	}
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.IndexThreshold == 0 {
		cfg.IndexThreshold = vector.DefaultIndexThreshold
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Path == "" {
		return errs.Wrapf("open", errs.ErrValidation, "database path is required")
	}
	if c.IndexThreshold < 0 {
		return errs.Wrapf("open", errs.ErrValidation, "index threshold must be non-negative")
	}
	return nil
}
