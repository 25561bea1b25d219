package global

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"

	VerifierJWT  = "jwt"
	VerifierOIDC = "oidc"
	VerifierNone = "none"
)

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (*AppConfig, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	var cfg AppConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	c.TokenStore = strings.ToLower(strings.TrimSpace(c.TokenStore))
	c.Verifier = strings.ToLower(strings.TrimSpace(c.Verifier))
	c.AllowedOrigin = strings.TrimRight(strings.TrimSpace(c.AllowedOrigin), "/")
}

// Validate rejects settings the gateway cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"GATEWAY_CONNECT_TIMEOUT": c.ConnectTimeout,
		"GATEWAY_PING_INTERVAL":   c.PingInterval,
		"GATEWAY_PING_TIMEOUT":    c.PingTimeout,
		"GATEWAY_TOKEN_TTL":       c.TokenTTL,
		"GATEWAY_TOKEN_SWEEP":     c.TokenSweep,
	}
	for k, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", k, v))
		}
	}
	if c.PingInterval >= c.PingTimeout {
		errs = append(errs, fmt.Errorf("GATEWAY_PING_INTERVAL (%s) must be shorter than GATEWAY_PING_TIMEOUT (%s)", c.PingInterval, c.PingTimeout))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("GATEWAY_MAX_MESSAGE_BYTES must be positive"))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, errors.New("GATEWAY_SEND_QUEUE must be positive"))
	}
	if c.MessagesPerMinute <= 0 || c.JoinsPerMinute <= 0 || c.WorkflowUpdatesPerMinute <= 0 {
		errs = append(errs, errors.New("per-minute rate limits must be positive"))
	}
	switch c.TokenStore {
	case TokenStoreMemory:
	case TokenStoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("GATEWAY_TOKEN_STORE=redis requires GATEWAY_REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GATEWAY_TOKEN_STORE %q", c.TokenStore))
	}
	switch c.Verifier {
	case VerifierJWT:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("GATEWAY_VERIFIER=jwt requires GATEWAY_JWT_SECRET"))
		}
	case VerifierOIDC:
		if c.OIDCIssuer == "" {
			errs = append(errs, errors.New("GATEWAY_VERIFIER=oidc requires GATEWAY_OIDC_ISSUER"))
		}
	case VerifierNone:
	default:
		errs = append(errs, fmt.Errorf("unknown GATEWAY_VERIFIER %q", c.Verifier))
	}
	return errors.Join(errs...)
}

// Clustered reports whether a cross-process channel is configured.
func (c *AppConfig) Clustered() bool {
	return c.RedisURL != "" || c.NatsURL != ""
}
