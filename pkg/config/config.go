package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	JWT     JWTConfig     `yaml:"jwt" envconfig:"JWT"`
	MFA     MFAConfig     `yaml:"mfa" envconfig:"MFA"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host       string `yaml:"host" envconfig:"HOST"`
	Port       int    `yaml:"port" envconfig:"PORT"`
	AdminToken string `yaml:"admin_token" envconfig:"ADMIN_TOKEN"` // Bearer token for admin endpoints (auto-generated if empty)
	BaseURL    string `yaml:"base_url" envconfig:"BASE_URL"`

	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
}

// CORSConfig contains cross-origin settings for browser callers
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"` // seconds
}

// RateLimitConfig controls per-user rate limiting on verification endpoints
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" envconfig:"ENABLED"`
	MaxAttempts    int  `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	WindowSeconds  int  `yaml:"window_seconds" envconfig:"WINDOW_SECONDS"`
	LockoutSeconds int  `yaml:"lockout_seconds" envconfig:"LOCKOUT_SECONDS"`
}

// SetDefaults fills in zero values with defaults
func (c *RateLimitConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 60
	}
	if c.LockoutSeconds <= 0 {
		c.LockoutSeconds = 300
	}
}

// Address returns the host:port address the server binds to
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	Type    string        `yaml:"type" envconfig:"TYPE"` // memory, mongodb
	MongoDB MongoDBConfig `yaml:"mongodb" envconfig:"MONGODB"`
}

// MongoDBConfig contains MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string `yaml:"uri" envconfig:"URI"`
	Database string `yaml:"database" envconfig:"DATABASE"`
	Timeout  int    `yaml:"timeout" envconfig:"TIMEOUT"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" envconfig:"FORMAT"` // json, text
}

// JWTConfig contains caller-token validation configuration. The session
// layer in front of this service issues the tokens; we only verify them.
type JWTConfig struct {
	Secret string `yaml:"secret" envconfig:"SECRET"`
	Issuer string `yaml:"issuer" envconfig:"ISSUER"`
}

// MFAConfig contains MFA protocol configuration
type MFAConfig struct {
	// Issuer is the branding shown in authenticator apps
	Issuer string `yaml:"issuer" envconfig:"ISSUER"`
	// ServiceName is the account label in the otpauth:// URI
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	// QRCodeSize is the rendered QR image size in pixels
	QRCodeSize int `yaml:"qr_code_size" envconfig:"QR_CODE_SIZE"`
	// TOTPWindow is the acceptance window in ±30-second steps
	TOTPWindow uint `yaml:"totp_window" envconfig:"TOTP_WINDOW"`
	// SMSProvider selects the SMS transport: mock, log
	SMSProvider string `yaml:"sms_provider" envconfig:"SMS_PROVIDER"`

	RecoveryCodes    RecoveryCodeConfig     `yaml:"recovery_codes" envconfig:"RECOVERY_CODES"`
	WebAuthn         WebAuthnConfig         `yaml:"webauthn" envconfig:"WEBAUTHN"`
	ChallengeCleanup ChallengeCleanupConfig `yaml:"challenge_cleanup" envconfig:"CHALLENGE_CLEANUP"`
}

// RecoveryCodeConfig controls one-time backup code generation
type RecoveryCodeConfig struct {
	Count  int `yaml:"count" envconfig:"COUNT"`
	Length int `yaml:"length" envconfig:"LENGTH"`
	// HashCost is the bcrypt cost for at-rest hashing
	HashCost int `yaml:"hash_cost" envconfig:"HASH_COST"`
}

// WebAuthnConfig contains relying-party configuration
type WebAuthnConfig struct {
	RPID     string `yaml:"rp_id" envconfig:"RP_ID"`
	RPName   string `yaml:"rp_name" envconfig:"RP_NAME"`
	RPOrigin string `yaml:"rp_origin" envconfig:"RP_ORIGIN"`
}

// ChallengeCleanupConfig controls the expired-challenge sweep worker
type ChallengeCleanupConfig struct {
	Enabled         bool `yaml:"enabled" envconfig:"ENABLED"`
	IntervalSeconds int  `yaml:"interval_seconds" envconfig:"INTERVAL_SECONDS"`
}

// SetDefaults fills in zero values with defaults
func (c *ChallengeCleanupConfig) SetDefaults() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 60
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("MFA", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Set BaseURL if not provided
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				MaxAttempts:    10,
				WindowSeconds:  60,
				LockoutSeconds: 300,
			},
			CORS: CORSConfig{
				AllowedOrigins:   []string{"http://localhost:8080"},
				AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Authorization", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           300,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
			MongoDB: MongoDBConfig{
				URI:      "mongodb://localhost:27017",
				Database: "mfa",
				Timeout:  10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		JWT: JWTConfig{
			Issuer: "fanz-auth",
		},
		MFA: MFAConfig{
			Issuer:      "FANZ",
			ServiceName: "FANZ Unified Platform",
			QRCodeSize:  256,
			TOTPWindow:  1,
			SMSProvider: "mock",
			RecoveryCodes: RecoveryCodeConfig{
				Count:    10,
				Length:   8,
				HashCost: 10,
			},
			WebAuthn: WebAuthnConfig{
				RPID:     "localhost",
				RPName:   "FANZ Platform",
				RPOrigin: "http://localhost:8080",
			},
			ChallengeCleanup: ChallengeCleanupConfig{
				Enabled:         true,
				IntervalSeconds: 60,
			},
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory":
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("mongodb storage requires a URI")
		}
		if c.Storage.MongoDB.Database == "" {
			return fmt.Errorf("mongodb storage requires a database name")
		}
	default:
		return fmt.Errorf("unknown storage type: %q", c.Storage.Type)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	if c.MFA.RecoveryCodes.Count <= 0 || c.MFA.RecoveryCodes.Length <= 0 {
		return fmt.Errorf("recovery code count and length must be positive")
	}

	if c.MFA.WebAuthn.RPID == "" || c.MFA.WebAuthn.RPOrigin == "" {
		return fmt.Errorf("webauthn rp_id and rp_origin are required")
	}

	return nil
}
