package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ReferenceAuto selects the maximum observed transaction date as the snapshot instant.
const ReferenceAuto = "auto"

// Merge policies for repeated entity records.
const (
	MergeFirstWriteWins = "first_write_wins"
	MergeLastWriteWins  = "last_write_wins"
)

// Analytics engines.
const (
	AnalyticsLocal = "local"
	AnalyticsGDS   = "gds"
)

// Config aggregates application configuration values. Values come from an
// optional YAML file with environment variable overrides.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Retry    RetryConfig    `yaml:"retry"`
	Graph    GraphConfig    `yaml:"graph"`
	Store    StoreConfig    `yaml:"store"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PipelineConfig carries the options that decide labels, cohort and features.
// Together with the input files they fully determine a run.
type PipelineConfig struct {
	ChurnThresholdDays     int     `yaml:"churn_threshold_days" env:"CHURN_THRESHOLD_DAYS" env-default:"30" validate:"gte=0"`
	ReferenceDate          string  `yaml:"reference_date" env:"REFERENCE_DATE" env-default:"auto" validate:"required"`
	ActiveSampleFraction   float64 `yaml:"active_sample_fraction" env:"ACTIVE_SAMPLE_FRACTION" env-default:"0.05" validate:"gte=0,lte=1"`
	RandomSeed             int64   `yaml:"random_seed" env:"RANDOM_SEED" env-default:"42"`
	EmbeddingDimension     int     `yaml:"embedding_dimension" env:"EMBEDDING_DIMENSION" env-default:"16" validate:"gt=0,lte=1024"`
	MinCohortActiveSize    int     `yaml:"min_cohort_active_size" env:"MIN_COHORT_ACTIVE_SIZE" env-default:"1" validate:"gte=0"`
	ExcludeNeverActive     bool    `yaml:"exclude_never_active" env:"EXCLUDE_NEVER_ACTIVE" env-default:"false"`
	AllowChurnedOnlyCohort bool    `yaml:"allow_churned_only_cohort" env:"ALLOW_CHURNED_ONLY_COHORT" env-default:"false"`
	MergePolicy            string  `yaml:"merge_policy" env:"MERGE_POLICY" env-default:"first_write_wins" validate:"oneof=first_write_wins last_write_wins"`
	Workers                int     `yaml:"workers" env:"PIPELINE_WORKERS" env-default:"4" validate:"gte=1"`
	BatchSize              int     `yaml:"batch_size" env:"PIPELINE_BATCH_SIZE" env-default:"1000" validate:"gte=1"`
	HoldoutFraction        float64 `yaml:"holdout_fraction" env:"HOLDOUT_FRACTION" env-default:"0.2" validate:"gte=0,lt=1"`
	WeightedTraining       bool    `yaml:"weighted_training" env:"WEIGHTED_TRAINING" env-default:"false"`
	TopN                   int     `yaml:"top_n" env:"TOP_N" env-default:"0" validate:"gte=0"`
	Analytics              string  `yaml:"analytics" env:"ANALYTICS_ENGINE" env-default:"local" validate:"oneof=local gds"`
	SyncGraph              bool    `yaml:"sync_graph" env:"SYNC_GRAPH" env-default:"false"`
}

// RetryConfig bounds retries of idempotent collaborator calls (scoring, reads).
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"RETRY_MAX" env-default:"3" validate:"gte=0"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"RETRY_INITIAL_DELAY" env-default:"100ms"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"RETRY_MAX_DELAY" env-default:"2s"`
	Multiplier   float64       `yaml:"multiplier" env:"RETRY_MULTIPLIER" env-default:"2" validate:"gte=1"`
	JitterFactor float64       `yaml:"jitter_factor" env:"RETRY_JITTER" env-default:"0.1" validate:"gte=0,lte=1"`
}

// GraphConfig describes connectivity to the graph database (Neo4j).
type GraphConfig struct {
	URI            string        `yaml:"uri" env:"GRAPH_URI"`
	Database       string        `yaml:"database" env:"GRAPH_DATABASE"`
	Username       string        `yaml:"username" env:"GRAPH_USERNAME"`
	Password       string        `yaml:"-" env:"GRAPH_PASSWORD"`
	MaxConnections int           `yaml:"max_connections" env:"GRAPH_MAX_CONNECTIONS" env-default:"10" validate:"gte=1"`
	QueryTimeout   time.Duration `yaml:"query_timeout" env:"GRAPH_QUERY_TIMEOUT" env-default:"2m"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" env:"GRAPH_ACQUIRE_TIMEOUT" env-default:"30s"`
}

// StoreConfig locates the run store.
type StoreConfig struct {
	Path string `yaml:"path" env:"STORE_PATH" env-default:"churngraph.db"`
}

// HTTPConfig governs the results API server.
type HTTPConfig struct {
	Host              string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port              int           `yaml:"port" env:"SERVER_PORT" env-default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	AllowedOriginsCSV string        `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format        string `yaml:"format" env:"LOG_FORMAT" env-default:"text" validate:"oneof=text json"` // text|json
	IncludeCaller bool   `yaml:"include_caller" env:"LOG_INCLUDE_CALLER" env-default:"false"`
}

// Load reads configuration. When path is non-empty the YAML file is read first
// and environment variables override it; otherwise only the environment is used.
// A .env file in the working directory is loaded when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := restoreExplicitZeros(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the reference date format.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, _, err := ParseReferenceDate(c.Pipeline.ReferenceDate); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

var referenceLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseReferenceDate returns the configured snapshot instant. auto is true when
// the value asks for the maximum observed transaction date instead.
func ParseReferenceDate(value string) (t time.Time, auto bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, ReferenceAuto) {
		return time.Time{}, true, nil
	}
	for _, layout := range referenceLayouts {
		if parsed, perr := time.Parse(layout, value); perr == nil {
			return parsed.UTC(), false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("reference_date %q is neither %q nor a date", value, ReferenceAuto)
}

// restoreExplicitZeros puts back the keys the file sets to a zero value.
// cleanenv fills env-default into every zero field, which would turn
// churn_threshold_days: 0 into 30. Environment variables still win.
func restoreExplicitZeros(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	var fromFile Config
	if err := doc.Decode(&fromFile); err != nil {
		return err
	}
	overlayZeros(doc.Content[0], reflect.ValueOf(&fromFile).Elem(), reflect.ValueOf(cfg).Elem())
	return nil
}

func overlayZeros(node *yaml.Node, src, dst reflect.Value) {
	if node.Kind != yaml.MappingNode {
		return
	}
	present := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		present[node.Content[i].Value] = node.Content[i+1]
	}

	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		child, ok := present[key]
		if !ok || key == "-" {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			overlayZeros(child, src.Field(i), dst.Field(i))
			continue
		}
		if envSet(field.Tag.Get("env")) || !src.Field(i).IsZero() {
			continue
		}
		dst.Field(i).Set(src.Field(i))
	}
}

func envSet(names string) bool {
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if _, ok := os.LookupEnv(name); ok {
			return true
		}
	}
	return false
}

// Default returns the configuration produced by env-default tags alone.
func Default() Config {
	var cfg Config
	_ = cleanenv.ReadEnv(&cfg)
	return cfg
}
