package config

const (
	DefaultAPIBaseURL         = "https://api.github.com"
	DefaultTriggerLabel       = "A-merge"
	DefaultAPIHost            = "0.0.0.0"
	DefaultAPIPort            = 8080
	DefaultDatabasePath       = "~/.imq/imq.db"
	DefaultDatabasePoolSize   = 5
	DefaultMaxConcurrent      = 3
	DefaultProcessingInterval = "30s"
	DefaultProcessingTimeout  = "300s"
	DefaultShutdownTimeout    = "60s"
	DefaultCacheTTL           = "3600s"
	DefaultCacheMaxEntries    = 1000
	DefaultLogLevel           = "info"
	DefaultLogFormat          = LogFormatPretty
)

// DefaultConfig returns a Config with all default values applied.
// GitHub token, owner and repo have no defaults and must come from the
// config file or environment.
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{
			APIBaseURL: DefaultAPIBaseURL,
		},
		Queue: QueueConfig{
			TriggerLabel: DefaultTriggerLabel,
		},
		API: APIConfig{
			Host: DefaultAPIHost,
			Port: DefaultAPIPort,
		},
		Database: DatabaseConfig{
			Path:     DefaultDatabasePath,
			PoolSize: DefaultDatabasePoolSize,
		},
		Processor: ProcessorConfig{
			MaxConcurrent:   DefaultMaxConcurrent,
			Interval:        DefaultProcessingInterval,
			Timeout:         DefaultProcessingTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Cache: CacheConfig{
			TTL:        DefaultCacheTTL,
			MaxEntries: DefaultCacheMaxEntries,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
