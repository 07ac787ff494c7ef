package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make
// network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "paper-census/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// StorageConfig holds settings for the session state store.
type StorageConfig struct {
	// BaseDir is the directory that holds the sessions/ tree.
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// CompressionThreshold is the encoded checkpoint size in bytes above
	// which checkpoint files are gzip-compressed (default 10KiB).
	CompressionThreshold int `json:"compression_threshold" yaml:"compression_threshold"`

	// MaxCheckpointsPerSession triggers pruning once exceeded (default 50).
	MaxCheckpointsPerSession int `json:"max_checkpoints_per_session" yaml:"max_checkpoints_per_session"`

	// RetentionBuffer is how many of the newest checkpoints pruning keeps
	// (default 10).
	RetentionBuffer int `json:"retention_buffer" yaml:"retention_buffer"`

	// Soft timing budgets; exceeding one logs a warning and never changes
	// the outcome of the call.
	CreateSoftBudget time.Duration `json:"create_soft_budget" yaml:"create_soft_budget"`
	SaveSoftBudget   time.Duration `json:"save_soft_budget" yaml:"save_soft_budget"`
	LoadSoftBudget   time.Duration `json:"load_soft_budget" yaml:"load_soft_budget"`
}

// DefaultStorageConfig returns the storage defaults rooted at baseDir.
func DefaultStorageConfig(baseDir string) StorageConfig {
	return StorageConfig{
		BaseDir:                  baseDir,
		CompressionThreshold:     10 * 1024,
		MaxCheckpointsPerSession: 50,
		RetentionBuffer:          10,
		CreateSoftBudget:         time.Second,
		SaveSoftBudget:           2 * time.Second,
		LoadSoftBudget:           5 * time.Second,
	}
}

// OrchestratorConfig holds settings for session coordination.
type OrchestratorConfig struct {
	// MaxConcurrentVenues is the initial bound on in-flight collection
	// units; the optimizer loop adjusts it at runtime (default 3).
	MaxConcurrentVenues int `json:"max_concurrent_venues" yaml:"max_concurrent_venues"`

	// MaxRetryAttempts is how many times a failed unit is re-invoked
	// before its pair is recorded as failed (default 3).
	MaxRetryAttempts int `json:"max_retry_attempts" yaml:"max_retry_attempts"`

	// Background loop intervals.
	CheckpointInterval  time.Duration `json:"checkpoint_interval" yaml:"checkpoint_interval"`
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	OptimizeInterval    time.Duration `json:"optimize_interval" yaml:"optimize_interval"`

	// SlotPollInterval is the backoff while waiting for a free worker slot.
	SlotPollInterval time.Duration `json:"slot_poll_interval" yaml:"slot_poll_interval"`

	// Adaptive concurrency thresholds: average response times above
	// SlowResponseThreshold shrink the pool, below FastResponseThreshold
	// grow it, within [ConcurrencyFloor, ConcurrencyCeiling].
	SlowResponseThreshold time.Duration `json:"slow_response_threshold" yaml:"slow_response_threshold"`
	FastResponseThreshold time.Duration `json:"fast_response_threshold" yaml:"fast_response_threshold"`
	ConcurrencyFloor      int           `json:"concurrency_floor" yaml:"concurrency_floor"`
	ConcurrencyCeiling    int           `json:"concurrency_ceiling" yaml:"concurrency_ceiling"`

	// StopJoinTimeout bounds how long shutdown waits for background loops
	// and in-flight units.
	StopJoinTimeout time.Duration `json:"stop_join_timeout" yaml:"stop_join_timeout"`
}

// DefaultOrchestratorConfig returns the coordination defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConcurrentVenues:   3,
		MaxRetryAttempts:      3,
		CheckpointInterval:    30 * time.Second,
		HealthCheckInterval:   10 * time.Second,
		OptimizeInterval:      15 * time.Second,
		SlotPollInterval:      100 * time.Millisecond,
		SlowResponseThreshold: 5 * time.Second,
		FastResponseThreshold: time.Second,
		ConcurrencyFloor:      1,
		ConcurrencyCeiling:    10,
		StopJoinTimeout:       30 * time.Second,
	}
}

// RecoveryConfig holds settings for interruption analysis and resume.
type RecoveryConfig struct {
	// PaperCountTolerance is the allowed relative drift between the
	// per-venue counts and the recorded total before the paper-count
	// consistency check soft-fails (default 0.10).
	PaperCountTolerance float64 `json:"paper_count_tolerance" yaml:"paper_count_tolerance"`

	// RecentCheckpointWindow separates trivial from simple recoveries: a
	// valid latest checkpoint older than this is considered stale.
	RecentCheckpointWindow time.Duration `json:"recent_checkpoint_window" yaml:"recent_checkpoint_window"`

	// Soft timing budgets for analysis and resume.
	AnalysisSoftBudget time.Duration `json:"analysis_soft_budget" yaml:"analysis_soft_budget"`
	ResumeSoftBudget   time.Duration `json:"resume_soft_budget" yaml:"resume_soft_budget"`
}

// DefaultRecoveryConfig returns the recovery defaults.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		PaperCountTolerance:    0.10,
		RecentCheckpointWindow: 10 * time.Minute,
		AnalysisSoftBudget:     2 * time.Minute,
		ResumeSoftBudget:       5 * time.Minute,
	}
}

// CollectionConfig holds settings for the bibliographic API clients.
type CollectionConfig struct {
	HTTPConfig `yaml:",inline"`

	// EnableOpenAlex controls whether the OpenAlex client is used.
	EnableOpenAlex bool `json:"enable_openalex" yaml:"enable_openalex"`

	// EnableSemanticScholar controls whether the Semantic Scholar client
	// is used.
	EnableSemanticScholar bool `json:"enable_semantic_scholar" yaml:"enable_semantic_scholar"`

	// MaxRetries is the number of retry attempts for rate-limited calls
	// (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RatePerSecond and Burst configure the per-API token bucket.
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `json:"burst" yaml:"burst"`

	// Circuit breaker settings. The breaker opens once at least
	// BreakerMinRequests calls have been observed and the failure ratio
	// reaches BreakerFailureRatio; it stays open for BreakerOpenTimeout
	// before probing again.
	BreakerMinRequests  uint32        `json:"breaker_min_requests" yaml:"breaker_min_requests"`
	BreakerFailureRatio float64       `json:"breaker_failure_ratio" yaml:"breaker_failure_ratio"`
	BreakerOpenTimeout  time.Duration `json:"breaker_open_timeout" yaml:"breaker_open_timeout"`
}

// DefaultCollectionConfig returns the client defaults.
func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		HTTPConfig: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "paper-census/0.1",
		},
		EnableOpenAlex:        true,
		EnableSemanticScholar: true,
		MaxRetries:            3,
		RatePerSecond:         5,
		Burst:                 5,
		BreakerMinRequests:    5,
		BreakerFailureRatio:   0.6,
		BreakerOpenTimeout:    30 * time.Second,
	}
}

// EngineConfig groups all component configurations.
type EngineConfig struct {
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Recovery     RecoveryConfig     `json:"recovery" yaml:"recovery"`
	Collection   CollectionConfig   `json:"collection" yaml:"collection"`
}

// DefaultEngineConfig returns the full default configuration rooted at
// baseDir.
func DefaultEngineConfig(baseDir string) EngineConfig {
	return EngineConfig{
		Storage:      DefaultStorageConfig(baseDir),
		Orchestrator: DefaultOrchestratorConfig(),
		Recovery:     DefaultRecoveryConfig(),
		Collection:   DefaultCollectionConfig(),
	}
}
