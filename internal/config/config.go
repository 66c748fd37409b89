// Package config loads the engine's YAML configuration, matching the
// teacher's pattern of a single DefaultConfig() literal plus optional
// override loading from disk.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sam-fakhreddine/consensus-review/internal/logging"
)

// SectionWeights is the task-aware section-weight table keyed by reviewer
// name, matching §4.D's table exactly.
type SectionWeights struct {
	PatternsFound      float64 `yaml:"patterns_found"`
	FalsePositives     float64 `yaml:"false_positives"`
	IncidentsPrevented float64 `yaml:"incidents_prevented"`
	RepositoryRules    float64 `yaml:"repository_rules"`
	CodebaseContext    float64 `yaml:"codebase_context"`
}

// ComplexityThresholds configures the §4.F step 7 tiering cutoffs.
type ComplexityThresholds struct {
	SimpleMaxFiles     int `yaml:"simple_max_files"`
	SimpleMaxDiffLines int `yaml:"simple_max_diff_lines"`
	StandardMaxFiles   int `yaml:"standard_max_files"`
	StandardMaxDiffLines int `yaml:"standard_max_diff_lines"`
}

// Config is the engine's full runtime configuration.
type Config struct {
	Reviewers struct {
		DefaultTemperature float64            `yaml:"default_temperature"`
		Overrides          map[string]float64 `yaml:"overrides"`
	} `yaml:"reviewers"`

	SectionWeights map[string]SectionWeights `yaml:"section_weights"`

	Knowledge struct {
		TokenBudget      int   `yaml:"token_budget"`
		TopK             int   `yaml:"top_k"`
		LockTimeoutMS    int64 `yaml:"lock_timeout_ms"`
		DriftStalenessDays int `yaml:"drift_staleness_days"`
		DriftBloatEntries  int `yaml:"drift_bloat_entries"`
	} `yaml:"knowledge"`

	Embedding struct {
		Provider       string `yaml:"provider"` // "genai" or "tfidf"
		TimeoutMS      int64  `yaml:"timeout_ms"`
		GenAIModel     string `yaml:"genai_model"`
		CacheDBPath    string `yaml:"cache_db_path"`
	} `yaml:"embedding"`

	Diff struct {
		TruncationLimit int `yaml:"truncation_limit"`
	} `yaml:"diff"`

	Complexity ComplexityThresholds `yaml:"complexity"`

	Bypass struct {
		DefaultExpiryHours int `yaml:"default_expiry_hours"`
	} `yaml:"bypass"`

	Logging logging.Config `yaml:"logging"`
}

// DefaultConfig returns the fully populated literal matching the constants
// named throughout spec.md §3/§4, so the engine is usable with zero
// configuration.
func DefaultConfig() Config {
	var c Config
	c.Reviewers.DefaultTemperature = 0.3
	c.Reviewers.Overrides = map[string]float64{}

	c.SectionWeights = map[string]SectionWeights{
		"security":        {PatternsFound: 0.35, FalsePositives: 0.20, IncidentsPrevented: 0.30, RepositoryRules: 0.10, CodebaseContext: 0.05},
		"correctness":     {PatternsFound: 0.30, FalsePositives: 0.35, IncidentsPrevented: 0.05, RepositoryRules: 0.10, CodebaseContext: 0.20},
		"performance":     {PatternsFound: 0.30, FalsePositives: 0.25, IncidentsPrevented: 0.10, RepositoryRules: 0.15, CodebaseContext: 0.20},
		"maintainability": {PatternsFound: 0.25, FalsePositives: 0.25, IncidentsPrevented: 0.10, RepositoryRules: 0.20, CodebaseContext: 0.20},
		"reliability":     {PatternsFound: 0.30, FalsePositives: 0.20, IncidentsPrevented: 0.30, RepositoryRules: 0.10, CodebaseContext: 0.10},
	}

	c.Knowledge.TokenBudget = 500
	c.Knowledge.TopK = 10
	c.Knowledge.LockTimeoutMS = 10_000
	c.Knowledge.DriftStalenessDays = 90
	c.Knowledge.DriftBloatEntries = 50

	c.Embedding.Provider = "tfidf"
	c.Embedding.TimeoutMS = 5_000
	c.Embedding.GenAIModel = "text-embedding-004"
	c.Embedding.CacheDBPath = ".review/embedding_cache.db"

	c.Diff.TruncationLimit = 50_000

	c.Complexity = ComplexityThresholds{
		SimpleMaxFiles:       2,
		SimpleMaxDiffLines:   50,
		StandardMaxFiles:     10,
		StandardMaxDiffLines: 500,
	}

	c.Bypass.DefaultExpiryHours = 24

	c.Logging = logging.Config{
		DebugMode: false,
		Level:     "info",
	}

	return c
}

// Load reads a YAML config file at path, starting from DefaultConfig and
// overlaying only the fields present in the file. A missing file is not an
// error: the caller gets the pure default.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
