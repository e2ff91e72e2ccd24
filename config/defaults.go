// =============================================================================
// ReviewFlow default configuration
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/reviewflow/workflow"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Review:    DefaultReviewConfig(),
		LLM:       DefaultLLMConfig(),
		Workflow:  DefaultWorkflowConfig(),
		Store:     DefaultStoreConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

func DefaultReviewConfig() ReviewConfig {
	return ReviewConfig{
		TargetLanguage:    "ko",
		MaxAnalysisLength: 500,
		PaperType:         "auto",
		ConvertTimeout:    2 * time.Minute,
		RenameInput:       true,
	}
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultModel:   "openai:gpt-4o-mini",
		Nodes:          map[string]string{},
		Providers:      map[string]ProviderConfig{},
		Timeout:        2 * time.Minute,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		RateLimitRPS:   5,
		RateLimitBurst: 5,
	}
}

func DefaultWorkflowConfig() WorkflowConfig {
	cb := workflow.DefaultCircuitBreakerConfig()
	return WorkflowConfig{
		MaxSteps:       workflow.DefaultMaxSteps,
		MaxConcurrency: 8,
		Deadline:       30 * time.Minute,
		PartialPolicy:  string(workflow.PartialContinue),
		Steps: map[string]workflow.StepParams{
			"length_guard": {MaxRepairAttempts: 2},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:           false,
			FailureThreshold:  cb.FailureThreshold,
			RecoveryTimeout:   cb.RecoveryTimeout,
			HalfOpenMaxProbes: cb.HalfOpenMaxProbes,
			SuccessThreshold:  cb.SuccessThreshold,
		},
	}
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:      "memory",
		TTL:          7 * 24 * time.Hour,
		HistoryLimit: 100,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			KeyPrefix:    "reviewflow:",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Host:            "localhost",
			Port:            5432,
			User:            "reviewflow",
			Name:            "reviewflow.db",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "reviewflow",
		SampleRate:   1.0,
	}
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: false,
		Job:     "reviewflow",
	}
}
