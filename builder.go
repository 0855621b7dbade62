package portalauth

import (
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/solstream/portalauth/jwt"
	"github.com/solstream/portalauth/password"
	"github.com/solstream/portalauth/provider"
	"github.com/solstream/portalauth/session"
)

// Builder assembles an [Engine]. Chain the With* methods and finish with
// Build; a Builder is single-use.
type Builder struct {
	config Config
	redis  *redis.Client

	directory Directory
	providers map[string]provider.Provider
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config:    defaultConfig(),
		providers: map[string]provider.Provider{},
	}
}

// WithConfig replaces the whole configuration. The config is cloned; later
// mutation of cfg by the caller does not affect the builder.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the redis client used for all ephemeral state: binding
// challenges, OAuth exchange state, MFA login bridges, rate limit
// windows, and session revocation tombstones.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the durable persistence implementation.
func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithProvider registers an identity provider under its Name. Registering
// the same name twice keeps the last registration.
func (b *Builder) WithProvider(p provider.Provider) *Builder {
	if p != nil {
		if b.providers == nil {
			b.providers = map[string]provider.Provider{}
		}
		b.providers[strings.ToLower(p.Name())] = p
	}
	return b
}

// WithAuditSink sets the audit destination and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine. Each Builder
// may build at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	method := jwt.MethodEd25519
	if cfg.Token.SigningMethod == "hs256" {
		method = jwt.MethodHS256
	}
	jwtManager, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Token.TTL,
		SigningMethod: method,
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Leeway:        30 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	providers := make(map[string]provider.Provider, len(b.providers))
	for name, p := range b.providers {
		providers[name] = p
	}

	engine := &Engine{
		config:          cfg,
		directory:       b.directory,
		redis:           b.redis,
		providers:       providers,
		bindingStore:    newBindingChallengeStore(b.redis),
		bindingLimiter:  newBindingLimiter(b.redis, cfg.RateLimit),
		mfaLimiter:      newMFALimiter(b.redis, cfg.RateLimit),
		backupLimiter:   newBackupLimiter(b.redis, cfg.RateLimit),
		passwordLimiter: newPasswordLimiter(b.redis, cfg.RateLimit),
		oauthState:      newOAuthStateStore(b.redis),
		mfaLoginStore:   newMFALoginStore(b.redis),
		sessionStore:    session.NewStore(b.redis, cfg.Token.TTL),
		jwtManager:      jwtManager,
		passwordHash:    hasher,
		totp:            newTOTPCodec(cfg.MFA),
		audit:           newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:         NewMetrics(cfg.Metrics),
	}

	b.built = true
	return engine, nil
}
