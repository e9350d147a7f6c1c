package config

const (
	defaultDataDir           = "~/.local/share/pressroom"
	defaultBind              = "127.0.0.1:8480"
	defaultLogLevel          = "info"
	defaultLogFormat         = "console"
	defaultHandlerTimeout    = 240
	defaultShutdownGrace     = 20
	defaultVisibilityTimeout = 300
	defaultBatchSize         = 5
	defaultMaxAttempts       = 3
	defaultBaseRetryDelay    = 30
	defaultMaxRetryDelay     = 3600
)

const sampleConfig = `# pressroom configuration

# data_dir = "~/.local/share/pressroom"
# bind = "127.0.0.1:8480"
# log_level = "info"
# log_format = "console"

[queue]
# visibility_timeout = 300
# batch_size = 5
# max_attempts = 3
# base_retry_delay = 30
# max_retry_delay = 3600

[[pipelines]]
job_type = "article"
stages = ["research", "outline", "draft", "qa", "schema"]
handler_base_url = "http://127.0.0.1:8790/handlers"
`

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		DataDir:        defaultDataDir,
		Bind:           defaultBind,
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
		HandlerTimeout: defaultHandlerTimeout,
		ShutdownGrace:  defaultShutdownGrace,
		Queue: Queue{
			VisibilityTimeout: defaultVisibilityTimeout,
			BatchSize:         defaultBatchSize,
			MaxAttempts:       defaultMaxAttempts,
			BaseRetryDelay:    defaultBaseRetryDelay,
			MaxRetryDelay:     defaultMaxRetryDelay,
		},
	}
}

// defaultPipelines is applied during normalize when the config declares no
// pipelines of its own. Kept out of Default so TOML array-of-tables decoding
// never appends onto it.
func defaultPipelines() []Pipeline {
	return []Pipeline{
		{
			JobType:        "article",
			Stages:         []string{"research", "outline", "draft", "qa", "schema"},
			HandlerBaseURL: "http://127.0.0.1:8790/handlers",
		},
	}
}
