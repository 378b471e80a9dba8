// Package config provides configuration types and loading for joigov.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Store, Judge, Observer, Rollout, Scheduler,
// Gateway, Events.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Store     StoreConfig     `json:"store"`
	Judge     JudgeConfig     `json:"judge"`
	Observer  ObserverConfig  `json:"observer"`
	Rollout   RolloutConfig   `json:"rollout"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Gateway   GatewayConfig   `json:"gateway"`
	Events    EventsConfig    `json:"events"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	// Workspace receives synchronized soul artifacts under agents/<id>/SOUL.md.
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
	DataDir   string `json:"dataDir" envconfig:"DATA_DIR"`
}

// ---------------------------------------------------------------------------
// Store – governance database
// ---------------------------------------------------------------------------

// StoreConfig selects the SQLite driver and database file. An empty Path
// resolves to <dataDir>/governance.db.
type StoreConfig struct {
	Driver string `json:"driver" envconfig:"DRIVER"`
	Path   string `json:"path" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// Judge – LLM used to grade turns
// ---------------------------------------------------------------------------

// JudgeConfig configures the OpenAI-compatible judge endpoint.
type JudgeConfig struct {
	Model       string        `json:"model" envconfig:"MODEL"`
	APIKey      string        `json:"apiKey" envconfig:"API_KEY"`
	APIBase     string        `json:"apiBase" envconfig:"API_BASE"`
	Temperature float64       `json:"temperature" envconfig:"TEMPERATURE"`
	MaxTokens   int           `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Timeout     time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	ContentCap  int           `json:"contentCap" envconfig:"CONTENT_CAP"`
	ToolCap     int           `json:"toolCap" envconfig:"TOOL_CAP"`
}

// ---------------------------------------------------------------------------
// Observer – live quality observer
// ---------------------------------------------------------------------------

// ObserverConfig holds the seed values for the persisted observer settings
// plus the worker pool shape. After first boot the persisted settings win.
type ObserverConfig struct {
	Enabled              bool    `json:"enabled" envconfig:"ENABLED"`
	QualityThreshold     float64 `json:"qualityThreshold" envconfig:"QUALITY_THRESHOLD"`
	SkipDryRun           bool    `json:"skipDryRun" envconfig:"SKIP_DRY_RUN"`
	MinUserMessageLength int     `json:"minUserMessageLength" envconfig:"MIN_USER_MESSAGE_LENGTH"`
	Workers              int     `json:"workers" envconfig:"WORKERS"`
	QueueSize            int     `json:"queueSize" envconfig:"QUEUE_SIZE"`
}

// ---------------------------------------------------------------------------
// Rollout – canary evaluation policy
// ---------------------------------------------------------------------------

// RolloutConfig holds the evaluation thresholds and the evaluation cron.
type RolloutConfig struct {
	MinSamples            int     `json:"minSamples" envconfig:"MIN_SAMPLES"`
	FailureScore          float64 `json:"failureScore" envconfig:"FAILURE_SCORE"`
	RejectTolerance       float64 `json:"rejectTolerance" envconfig:"REJECT_TOLERANCE"`
	RejectRollbackMargin  float64 `json:"rejectRollbackMargin" envconfig:"REJECT_ROLLBACK_MARGIN"`
	FailureTolerance      float64 `json:"failureTolerance" envconfig:"FAILURE_TOLERANCE"`
	FailureRollbackMargin float64 `json:"failureRollbackMargin" envconfig:"FAILURE_ROLLBACK_MARGIN"`
	IssueTolerance        float64 `json:"issueTolerance" envconfig:"ISSUE_TOLERANCE"`
	IssueRollbackMargin   float64 `json:"issueRollbackMargin" envconfig:"ISSUE_ROLLBACK_MARGIN"`
	RollbackOnCritical    bool    `json:"rollbackOnCritical" envconfig:"ROLLBACK_ON_CRITICAL"`
	EvaluateCron          string  `json:"evaluateCron" envconfig:"EVALUATE_CRON"`
	DefaultTrafficPercent int     `json:"defaultTrafficPercent" envconfig:"DEFAULT_TRAFFIC_PERCENT"`
}

// ---------------------------------------------------------------------------
// Scheduler – cron jobs
// ---------------------------------------------------------------------------

// SchedulerConfig contains scheduler settings.
type SchedulerConfig struct {
	Enabled           bool          `json:"enabled" envconfig:"ENABLED"`
	TickInterval      time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
	MaxConcEvaluation int           `json:"maxConcEvaluation" envconfig:"MAX_CONC_EVALUATION"`
	MaxConcDefault    int           `json:"maxConcDefault" envconfig:"MAX_CONC_DEFAULT"`
	LockPath          string        `json:"lockPath" envconfig:"LOCK_PATH"`
}

// ---------------------------------------------------------------------------
// Gateway – HTTP admin API
// ---------------------------------------------------------------------------

// GatewayConfig contains the HTTP listener settings.
type GatewayConfig struct {
	Host      string `json:"host" envconfig:"HOST"`
	Port      int    `json:"port" envconfig:"PORT"`
	AuthToken string `json:"authToken" envconfig:"AUTH_TOKEN"`
}

// ---------------------------------------------------------------------------
// Events – optional Kafka sink
// ---------------------------------------------------------------------------

// EventsConfig configures event fan-out. Kafka publishing is off while
// KafkaBrokers is empty.
type EventsConfig struct {
	Buffer       int    `json:"buffer" envconfig:"BUFFER"`
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `json:"kafkaTopic" envconfig:"KAFKA_TOPIC"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Workspace: "~/JOI-Workspace",
			DataDir:   "~/.joi",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Judge: JudgeConfig{
			Model:       "gpt-4o-mini",
			APIBase:     "https://api.openai.com/v1",
			Temperature: 0.1,
			MaxTokens:   1200,
			Timeout:     60 * time.Second,
			ContentCap:  3000,
			ToolCap:     600,
		},
		Observer: ObserverConfig{
			Enabled:              false,
			QualityThreshold:     0.6,
			SkipDryRun:           true,
			MinUserMessageLength: 5,
			Workers:              4,
			QueueSize:            256,
		},
		Rollout: RolloutConfig{
			MinSamples:            20,
			RejectTolerance:       0.02,
			RejectRollbackMargin:  0.10,
			FailureTolerance:      0.02,
			FailureRollbackMargin: 0.10,
			IssueTolerance:        0.02,
			IssueRollbackMargin:   0.10,
			RollbackOnCritical:    true,
			EvaluateCron:          "0 6 * * 1",
			DefaultTrafficPercent: 10,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18800,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			TickInterval:      60 * time.Second,
			MaxConcEvaluation: 1,
			MaxConcDefault:    3,
		},
		Events: EventsConfig{
			Buffer:     256,
			KafkaTopic: "joi.governance.events",
		},
	}
}
