package portalauth

import (
	"errors"
	"strings"
	"time"
)

// Config is the full engine configuration. Construct it once, pass it to
// [Builder.WithConfig], and treat it as immutable afterwards.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	MFA       MFAConfig
	Binding   BindingConfig
	OAuth     OAuthConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

// TokenConfig controls session token signing.
type TokenConfig struct {
	TTL           time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// SessionConfig controls the redis revocation entries kept alongside
// issued tokens.
type SessionConfig struct {
	RedisPrefix     string
	CheckRevocation bool
}

// MFAConfig controls TOTP and backup-code behavior.
type MFAConfig struct {
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
	LoginChallengeTTL       time.Duration
	LoginChallengeAttempts  int
	BackupCodeCount         int
	BackupCodeLength        int
}

// BindingConfig controls proof-of-control challenges for out-of-band
// identifiers.
type BindingConfig struct {
	CodeDigits   int
	ChallengeTTL time.Duration
	MaxAttempts  int
}

// OAuthConfig controls the authorization-code broker. Provider credentials
// are registered per provider through [Builder.WithProvider]; nothing here
// is read from the environment.
type OAuthConfig struct {
	StateTTL        time.Duration
	ExchangeTimeout time.Duration
}

// PasswordConfig holds the Argon2id parameters for the password/ hasher.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// RateLimitConfig holds the fixed-window throttles. Throttling is
// mandatory and orthogonal to the per-record atomicity of challenge
// consumption.
type RateLimitConfig struct {
	BindingRequestMax     int
	BindingRequestWindow  time.Duration
	MFAMaxAttempts        int
	MFACooldown           time.Duration
	BackupCodeMaxAttempts int
	BackupCodeCooldown    time.Duration
	PasswordMaxAttempts   int
	PasswordCooldown      time.Duration
}

// AuditConfig controls the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metric counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SecurityConfig holds cross-cutting hardening toggles.
type SecurityConfig struct {
	ProductionMode bool
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:           12 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "portalauth",
		},
		Session: SessionConfig{
			RedisPrefix:     "pa",
			CheckRevocation: true,
		},
		MFA: MFAConfig{
			Issuer:                  "",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
			LoginChallengeTTL:       3 * time.Minute,
			LoginChallengeAttempts:  5,
			BackupCodeCount:         10,
			BackupCodeLength:        10,
		},
		Binding: BindingConfig{
			CodeDigits:   6,
			ChallengeTTL: 10 * time.Minute,
			MaxAttempts:  3,
		},
		OAuth: OAuthConfig{
			StateTTL:        10 * time.Minute,
			ExchangeTimeout: 10 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		RateLimit: RateLimitConfig{
			BindingRequestMax:     5,
			BindingRequestWindow:  15 * time.Minute,
			MFAMaxAttempts:        5,
			MFACooldown:           time.Minute,
			BackupCodeMaxAttempts: 5,
			BackupCodeCooldown:    10 * time.Minute,
			PasswordMaxAttempts:   5,
			PasswordCooldown:      15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Security: SecurityConfig{
			ProductionMode: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internal consistency. Build calls
// it; it is exported so integrators can lint configs in their own tests.
func (c *Config) Validate() error {
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be > 0")
	}
	if c.Token.SigningMethod != "ed25519" && c.Token.SigningMethod != "hs256" {
		return errors.New("unsupported token signing method")
	}
	if c.Token.SigningMethod == "ed25519" && (len(c.Token.PrivateKey) == 0 || len(c.Token.PublicKey) == 0) {
		return errors.New("ed25519 requires PrivateKey and PublicKey")
	}
	if c.Token.SigningMethod == "hs256" && len(c.Token.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}

	if c.MFA.Digits != 6 && c.MFA.Digits != 8 {
		return errors.New("MFA Digits must be 6 or 8")
	}
	if c.MFA.Period < 15 {
		return errors.New("MFA Period must be >= 15 seconds")
	}
	if c.MFA.Skew < 0 {
		return errors.New("MFA Skew must be >= 0")
	}
	if c.MFA.LoginChallengeTTL <= 0 {
		return errors.New("MFA LoginChallengeTTL must be > 0")
	}
	if c.MFA.LoginChallengeAttempts <= 0 {
		return errors.New("MFA LoginChallengeAttempts must be > 0")
	}
	if c.MFA.BackupCodeCount <= 0 {
		return errors.New("MFA BackupCodeCount must be > 0")
	}
	if c.MFA.BackupCodeLength <= 0 {
		return errors.New("MFA BackupCodeLength must be > 0")
	}
	switch strings.ToUpper(c.MFA.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// valid (empty treated as SHA1)
	default:
		return errors.New("MFA Algorithm must be SHA1, SHA256, or SHA512")
	}

	if c.Binding.CodeDigits < 6 || c.Binding.CodeDigits > 10 {
		return errors.New("Binding CodeDigits must be between 6 and 10")
	}
	if c.Binding.ChallengeTTL <= 0 {
		return errors.New("Binding ChallengeTTL must be > 0")
	}
	if c.Binding.MaxAttempts <= 0 {
		return errors.New("Binding MaxAttempts must be > 0")
	}

	if c.OAuth.StateTTL <= 0 {
		return errors.New("OAuth StateTTL must be > 0")
	}
	if c.OAuth.ExchangeTimeout <= 0 {
		return errors.New("OAuth ExchangeTimeout must be > 0")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	if c.RateLimit.BindingRequestMax <= 0 || c.RateLimit.BindingRequestWindow <= 0 {
		return errors.New("RateLimit binding request throttle must be configured")
	}
	if c.RateLimit.MFAMaxAttempts <= 0 || c.RateLimit.MFACooldown <= 0 {
		return errors.New("RateLimit MFA throttle must be configured")
	}
	if c.RateLimit.BackupCodeMaxAttempts <= 0 || c.RateLimit.BackupCodeCooldown <= 0 {
		return errors.New("RateLimit backup code throttle must be configured")
	}
	if c.RateLimit.PasswordMaxAttempts <= 0 || c.RateLimit.PasswordCooldown <= 0 {
		return errors.New("RateLimit password throttle must be configured")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.Token.TTL > 24*time.Hour {
			return errors.New("ProductionMode requires Token TTL <= 24h")
		}
		if c.Token.SigningMethod == "hs256" && len(c.Token.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if c.MFA.Skew > 2 {
			return errors.New("ProductionMode requires MFA Skew <= 2")
		}
		if !c.MFA.EnforceReplayProtection {
			return errors.New("ProductionMode requires MFA EnforceReplayProtection")
		}
		if c.Binding.MaxAttempts > 5 {
			return errors.New("ProductionMode requires Binding MaxAttempts <= 5")
		}
		if c.Binding.ChallengeTTL > 15*time.Minute {
			return errors.New("ProductionMode requires Binding ChallengeTTL <= 15m")
		}
		if c.MFA.BackupCodeCount < 8 {
			return errors.New("ProductionMode requires MFA BackupCodeCount >= 8")
		}
		if c.MFA.BackupCodeLength < 8 {
			return errors.New("ProductionMode requires MFA BackupCodeLength >= 8")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if !c.Session.CheckRevocation {
			return errors.New("ProductionMode requires Session CheckRevocation")
		}
	}

	return nil
}
