package config

import "time"

type Limits struct {
	MaxRetries   int             `yaml:"max_retries" validate:"min=0,max=10"`
	BaseDelay    time.Duration   `yaml:"base_delay" validate:"required,min=1ms,max=1m"`
	MaxDelay     time.Duration   `yaml:"max_delay" validate:"required,min=1ms,max=10m"`
	PollInterval time.Duration   `yaml:"poll_interval" validate:"required,min=10ms,max=1m"`
	Timeout      time.Duration   `yaml:"timeout" validate:"required,min=1s,max=1h"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"required,min=1,max=10000"`
	BurstSize         int `yaml:"burst_size" validate:"required,min=1,max=100"`
}

type RegistryConfig struct {
	MaxChains int `yaml:"max_chains" validate:"required,min=1"`
	// TTL evicts idle chains; zero keeps them until the size bound pushes them out
	TTL            time.Duration `yaml:"ttl" validate:"min=0"`
	RetryWindow    time.Duration `yaml:"retry_window" validate:"required,min=1s,max=24h"`
	InferFromPrior bool          `yaml:"infer_from_prior"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		PollInterval: 2 * time.Second,
		Timeout:      60 * time.Second,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         5,
		},
	}
}

func DefaultRegistry() RegistryConfig {
	return RegistryConfig{
		MaxChains:   4096,
		RetryWindow: 10 * time.Minute,
	}
}
