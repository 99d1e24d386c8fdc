package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Worker   *workerConfig
	Events   *eventsConfig
	Analysis *analysisConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"reviewlens"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string   `envconfig:"REVIEWLENS_ADDRESS" default:":8080"`
	BaseUrl         string   `envconfig:"REVIEWLENS_BASE_URL" default:"http://localhost:8080"`
	LogLevel        string   `envconfig:"REVIEWLENS_LOG_LEVEL" default:"info"`
	CorsOrigins     []string `envconfig:"REVIEWLENS_CORS_ORIGINS" default:"*"`
	MigrationFolder string   `envconfig:"REVIEWLENS_MIGRATIONS_FOLDER" default:""`
}

type workerConfig struct {
	// Count is the number of worker identities polling for jobs in this process.
	Count             int           `envconfig:"REVIEWLENS_WORKER_COUNT" default:"2"`
	PollInterval      time.Duration `envconfig:"REVIEWLENS_WORKER_POLL_INTERVAL" default:"2s"`
	HeartbeatInterval time.Duration `envconfig:"REVIEWLENS_WORKER_HEARTBEAT_INTERVAL" default:"10s"`
	// LeaseDuration is how long a claim stays fresh without a heartbeat before
	// any claim_next caller may take the job over.
	LeaseDuration time.Duration `envconfig:"REVIEWLENS_WORKER_LEASE_DURATION" default:"2m"`
	// MaxAttempts bounds requeues: a stale job past this many claims is
	// force-failed with a lease exhaustion error instead of requeued.
	MaxAttempts   int    `envconfig:"REVIEWLENS_WORKER_MAX_ATTEMPTS" default:"3"`
	SweepSchedule string `envconfig:"REVIEWLENS_WORKER_SWEEP_SCHEDULE" default:"@every 1m"`
}

type eventsConfig struct {
	SubscriberBuffer int           `envconfig:"REVIEWLENS_EVENTS_SUBSCRIBER_BUFFER" default:"64"`
	RetentionWindow  time.Duration `envconfig:"REVIEWLENS_EVENTS_RETENTION_WINDOW" default:"10m"`
	PurgeSchedule    string        `envconfig:"REVIEWLENS_EVENTS_PURGE_SCHEDULE" default:"@every 2m"`
}

type analysisConfig struct {
	DefaultBatchers []string `envconfig:"REVIEWLENS_ANALYSIS_DEFAULT_BATCHERS" default:"latest_text,balanced_rating,low_rating_focus"`
	BatchSize       int      `envconfig:"REVIEWLENS_ANALYSIS_BATCH_SIZE" default:"40"`
	PoolSize        int      `envconfig:"REVIEWLENS_ANALYSIS_POOL_SIZE" default:"300"`
	// AnalyzerRPS throttles calls to the LLM analysis collaborator.
	AnalyzerRPS float64 `envconfig:"REVIEWLENS_ANALYSIS_ANALYZER_RPS" default:"2"`
}

func New() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewDefault returns the configuration with every value at its default,
// ignoring the environment. Used by tests.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{Type: "sqlite", Name: ":memory:"},
		Service:  &svcConfig{Address: ":8080", LogLevel: "info", CorsOrigins: []string{"*"}},
		Worker: &workerConfig{
			Count:             1,
			PollInterval:      100 * time.Millisecond,
			HeartbeatInterval: time.Second,
			LeaseDuration:     2 * time.Minute,
			MaxAttempts:       3,
			SweepSchedule:     "@every 1m",
		},
		Events: &eventsConfig{
			SubscriberBuffer: 64,
			RetentionWindow:  10 * time.Minute,
			PurgeSchedule:    "@every 2m",
		},
		Analysis: &analysisConfig{
			DefaultBatchers: []string{"latest_text", "balanced_rating", "low_rating_focus"},
			BatchSize:       40,
			PoolSize:        300,
			AnalyzerRPS:     100,
		},
	}
}
