package global

import "time"

// AppConfig is the whole gateway configuration, read from the environment.
type AppConfig struct {
	Addr          string `env:"GATEWAY_ADDR,default=:8080"`
	NodeID        int64  `env:"GATEWAY_NODE_ID,default=1"` // snowflake node, unique per process
	AllowedOrigin string `env:"GATEWAY_ALLOWED_ORIGIN,default=http://localhost:3000"`
	LogLevel      string `env:"GATEWAY_LOG_LEVEL,default=info"`
	LogColor      bool   `env:"GATEWAY_LOG_COLOR,default=false"`

	// Cluster channel. Both empty => single-process mode.
	RedisURL string `env:"GATEWAY_REDIS_URL"`
	NatsURL  string `env:"GATEWAY_NATS_URL"`
	Channel  string `env:"GATEWAY_CHANNEL,default=collab:broadcast"`

	ConnectTimeout  time.Duration `env:"GATEWAY_CONNECT_TIMEOUT,default=45s"`
	PingInterval    time.Duration `env:"GATEWAY_PING_INTERVAL,default=25s"`
	PingTimeout     time.Duration `env:"GATEWAY_PING_TIMEOUT,default=60s"`
	MaxMessageBytes int64         `env:"GATEWAY_MAX_MESSAGE_BYTES,default=1000000"`
	SendQueue       int           `env:"GATEWAY_SEND_QUEUE,default=256"`
	UpgradesPerSec  float64       `env:"GATEWAY_UPGRADES_PER_SECOND,default=20"`
	MaxConnsPerUser int           `env:"GATEWAY_MAX_CONNS_PER_USER,default=0"` // 0 => unlimited, else oldest is evicted
	ShutdownTimeout time.Duration `env:"GATEWAY_SHUTDOWN_TIMEOUT,default=10s"`

	TokenStore    string        `env:"GATEWAY_TOKEN_STORE,default=memory"` // memory | redis
	TokenTTL      time.Duration `env:"GATEWAY_TOKEN_TTL,default=5m"`
	TokenSweep    time.Duration `env:"GATEWAY_TOKEN_SWEEP,default=5m"`
	InternalKey   string        `env:"GATEWAY_INTERNAL_KEY"`
	TrustDirectID bool          `env:"GATEWAY_TRUST_DIRECT_USER_ID,default=false"`

	MessagesPerMinute        int `env:"GATEWAY_MESSAGES_PER_MINUTE,default=100"`
	JoinsPerMinute           int `env:"GATEWAY_JOINS_PER_MINUTE,default=10"`
	WorkflowUpdatesPerMinute int `env:"GATEWAY_WORKFLOW_UPDATES_PER_MINUTE,default=30"`

	Verifier     string `env:"GATEWAY_VERIFIER,default=jwt"` // jwt | oidc | none
	JWTSecret    string `env:"GATEWAY_JWT_SECRET"`
	JWTAlg       string `env:"GATEWAY_JWT_ALG,default=HS256"`
	JWTIssuer    string `env:"GATEWAY_JWT_ISSUER"`
	OIDCIssuer   string `env:"GATEWAY_OIDC_ISSUER"`
	OIDCJWKSURL  string `env:"GATEWAY_OIDC_JWKS_URL"`
	OIDCAudience string `env:"GATEWAY_OIDC_AUDIENCE"`
}
