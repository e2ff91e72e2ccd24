// =============================================================================
// ReviewFlow configuration loader
// =============================================================================
// YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("reviewflow.yaml").
//	    WithEnvPrefix("REVIEWFLOW").
//	    Load()
//
// Priority: defaults → YAML file → environment.
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/reviewflow/internal/tlsutil"
	"github.com/BaSui01/reviewflow/workflow"
)

// Config is the complete reviewflow configuration.
type Config struct {
	Review    ReviewConfig    `yaml:"review" env:"REVIEW"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Workflow  WorkflowConfig  `yaml:"workflow" env:"WORKFLOW"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
}

// ReviewConfig configures the paper review pipeline.
type ReviewConfig struct {
	// Path to the input document.
	InputPath string `yaml:"input_path" env:"INPUT_PATH"`
	// Directory (or file) the report is written to.
	OutputPath string `yaml:"output_path" env:"OUTPUT_PATH"`
	// Translation target: ko, en, ja, zh, de, fr, es, pt, ru. Empty disables translation.
	TargetLanguage string `yaml:"target_language" env:"TARGET_LANGUAGE"`
	// Character bound for every analysis field.
	MaxAnalysisLength int `yaml:"max_analysis_length" env:"MAX_ANALYSIS_LENGTH"`
	// auto, standard or review.
	PaperType string `yaml:"paper_type" env:"PAPER_TYPE"`
	// JSON object mapping keyword -> synonyms.
	KeywordFilePath string `yaml:"keyword_file_path" env:"KEYWORD_FILE_PATH"`
	// External converter, e.g. "pdftotext -layout {input} -". Empty reads text/markdown directly.
	ConvertCommand string `yaml:"convert_command" env:"CONVERT_COMMAND"`
	// Time limit of one converter invocation.
	ConvertTimeout time.Duration `yaml:"convert_timeout" env:"CONVERT_TIMEOUT"`
	// Rename the input document after the report stem.
	RenameInput bool `yaml:"rename_input" env:"RENAME_INPUT"`
}

// ProviderConfig configures one OpenAI-compatible endpoint.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// APIKeyEnv names the environment variable holding the key. Defaults to <PROVIDER>_API_KEY.
	APIKeyEnv             string          `yaml:"api_key_env"`
	EndpointPath          string          `yaml:"endpoint_path"`
	DisableResponseFormat bool            `yaml:"disable_response_format"`
	TLS                   tlsutil.Options `yaml:"tls"`
}

// LLMConfig configures model selection and the HTTP client.
type LLMConfig struct {
	// DefaultModel is "provider:model".
	DefaultModel string `yaml:"default_model" env:"DEFAULT_MODEL"`
	// Nodes overrides the model per workflow step.
	Nodes map[string]string `yaml:"nodes"`
	// Providers configures endpoints by provider name.
	Providers      map[string]ProviderConfig `yaml:"providers"`
	Timeout        time.Duration             `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries     int                       `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay     time.Duration             `yaml:"retry_delay" env:"RETRY_DELAY"`
	RateLimitRPS   float64                   `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int                       `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	MaxTokens      int                       `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature    float64                   `yaml:"temperature" env:"TEMPERATURE"`
}

// CircuitBreakerConfig enables per-step circuit breakers.
type CircuitBreakerConfig struct {
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	FailureThreshold  int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	HalfOpenMaxProbes int           `yaml:"half_open_max_probes" env:"HALF_OPEN_MAX_PROBES"`
	SuccessThreshold  int           `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
}

// WorkflowConfig holds the executor options.
type WorkflowConfig struct {
	MaxSteps       int                            `yaml:"max_steps" env:"MAX_STEPS"`
	MaxConcurrency int                            `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	Deadline       time.Duration                  `yaml:"deadline" env:"DEADLINE"`
	PartialPolicy  string                         `yaml:"partial_policy" env:"PARTIAL_POLICY"`
	Steps          map[string]workflow.StepParams `yaml:"steps"`
	CircuitBreaker CircuitBreakerConfig           `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
}

// ToOptions converts the section to executor options.
func (w WorkflowConfig) ToOptions() workflow.Options {
	opts := workflow.Options{
		MaxSteps:       w.MaxSteps,
		MaxConcurrency: w.MaxConcurrency,
		Deadline:       w.Deadline,
		PartialPolicy:  workflow.PartialPolicy(w.PartialPolicy),
		Steps:          w.Steps,
	}
	if w.CircuitBreaker.Enabled {
		opts.CircuitBreaker = &workflow.CircuitBreakerConfig{
			FailureThreshold:  w.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:   w.CircuitBreaker.RecoveryTimeout,
			HalfOpenMaxProbes: w.CircuitBreaker.HalfOpenMaxProbes,
			SuccessThreshold:  w.CircuitBreaker.SuccessThreshold,
		}
	}
	return opts
}

// RedisConfig configures the redis run store.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
	TLS          bool   `yaml:"tls" env:"TLS"`
}

// DatabaseConfig configures the SQL run store.
type DatabaseConfig struct {
	// postgres, mysql or sqlite
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// StoreConfig selects where run records are persisted.
type StoreConfig struct {
	// memory, redis or database
	Backend string `yaml:"backend" env:"BACKEND"`
	// TTL of run records (redis only). 0 keeps them forever.
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// HistoryLimit bounds in-memory execution histories.
	HistoryLimit int            `yaml:"history_limit" env:"HISTORY_LIMIT"`
	Redis        RedisConfig    `yaml:"redis" env:"REDIS"`
	Database     DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// LogConfig configures zap.
type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json or console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OTLP export of traces and metrics.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig configures Prometheus export at the end of a run.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// TextfilePath writes the registry in text format (node_exporter textfile collector).
	TextfilePath string `yaml:"textfile_path" env:"TEXTFILE_PATH"`
	// PushgatewayURL pushes the registry under Job.
	PushgatewayURL string `yaml:"pushgateway_url" env:"PUSHGATEWAY_URL"`
	Job            string `yaml:"job" env:"JOB"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader loads configuration (builder style).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

func NewLoader() *Loader {
	return &Loader{envPrefix: "REVIEWFLOW"}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load applies defaults, then the YAML file, then the environment, then the
// validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.Review.InputPath = expandHome(cfg.Review.InputPath)
	cfg.Review.OutputPath = expandHome(cfg.Review.OutputPath)
	cfg.Review.KeywordFilePath = expandHome(cfg.Review.KeywordFilePath)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile fails when an explicitly given file is missing.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// =============================================================================
// Validation
// =============================================================================

var (
	validLanguages  = []string{"de", "en", "es", "fr", "ja", "ko", "pt", "ru", "zh"}
	validPaperTypes = []string{"auto", "review", "standard"}
)

// Languages lists the accepted review.target_language values.
func Languages() []string { return append([]string(nil), validLanguages...) }

// PaperTypes lists the accepted review.paper_type values.
func PaperTypes() []string { return append([]string(nil), validPaperTypes...) }

// Validate checks the configuration needed for a review run. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	c.Review.TargetLanguage = strings.ToLower(strings.TrimSpace(c.Review.TargetLanguage))
	c.Review.PaperType = strings.ToLower(strings.TrimSpace(c.Review.PaperType))

	if c.Review.InputPath == "" {
		errs = append(errs, errors.New("review.input_path cannot be empty"))
	}
	if c.Review.OutputPath == "" {
		errs = append(errs, errors.New("review.output_path cannot be empty"))
	}
	if c.Review.TargetLanguage != "" && !contains(validLanguages, c.Review.TargetLanguage) {
		errs = append(errs, fmt.Errorf("invalid review.target_language %q: supported languages: %s",
			c.Review.TargetLanguage, strings.Join(validLanguages, ", ")))
	}
	if !contains(validPaperTypes, c.Review.PaperType) {
		errs = append(errs, fmt.Errorf("invalid review.paper_type %q: supported types: %s",
			c.Review.PaperType, strings.Join(validPaperTypes, ", ")))
	}
	if c.Review.MaxAnalysisLength <= 0 {
		errs = append(errs, errors.New("review.max_analysis_length must be positive"))
	}

	if err := validateModel("llm.default_model", c.LLM.DefaultModel); err != nil {
		errs = append(errs, err)
	}
	for node, model := range c.LLM.Nodes {
		if model == "" {
			continue
		}
		if err := validateModel("llm.nodes."+node, model); err != nil {
			errs = append(errs, err)
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, errors.New("llm.temperature must be between 0 and 2"))
	}

	if err := c.Workflow.ToOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("workflow: %w", err))
	}

	switch c.Store.Backend {
	case "memory", "redis":
	case "database":
		switch c.Store.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("unsupported store.database.driver %q", c.Store.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store.backend %q", c.Store.Backend))
	}

	return errors.Join(errs...)
}

func validateModel(key, s string) error {
	provider, model, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(provider) == "" || strings.TrimSpace(model) == "" {
		return fmt.Errorf("invalid %s %q: expected provider:model (e.g. openai:gpt-4o-mini)", key, s)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DSN returns the driver-specific connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
