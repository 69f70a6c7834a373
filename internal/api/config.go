package api

import "time"

// Config defines API server configuration
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`

	// JWTSecret signs and verifies HS256 bearer tokens. The token subject is
	// the calling account.
	JWTSecret string        `yaml:"jwt_secret"`
	JWTIssuer string        `yaml:"jwt_issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"gte=0"`

	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" validate:"gte=0"`

	// RateLimit is requests per second per client address; zero disables it.
	RateLimit int `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int `yaml:"rate_burst" validate:"gte=0"`

	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns a disabled API on :8080. Enabling it needs a secret
// of at least 32 characters; `curvedex init` generates one.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ListenAddr:   ":8080",
		JWTIssuer:    "curvedex",
		TokenTTL:     24 * time.Hour,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		MaxBodyBytes: 1 << 16,
		RateLimit:    20,
		RateBurst:    40,
	}
}
