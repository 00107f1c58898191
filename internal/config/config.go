// Package config provides configuration loading using koanf.
// Precedence is environment variables over compiled defaults. Variables
// carry the OTPAUTH_ prefix and use "__" to separate nested sections, so
// OTPAUTH_OTP__RESEND_COOLDOWN=45s sets otp.resend_cooldown.
package config

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/otp-auth/internal/domain"
)

// EnvPrefix is the prefix every configuration variable carries.
const EnvPrefix = "OTPAUTH_"

// Backend and provider names.
const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"

	LimiterMemory = "memory"
	LimiterRedis  = "redis"

	SMSLog = "log"
	SMSSNS = "sns"
)

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	Log  LogConfig  `koanf:"log"`
	HTTP HTTPConfig `koanf:"http"`
	GRPC GRPCConfig `koanf:"grpc"`

	// OTP flow
	OTP     OTPConfig     `koanf:"otp"`
	Phone   PhoneConfig   `koanf:"phone"`
	Store   StoreConfig   `koanf:"store"`
	Limiter LimiterConfig `koanf:"limiter"`
	SMS     SMSConfig     `koanf:"sms"`
	Pepper  PepperConfig  `koanf:"pepper"`

	// Infrastructure
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`

	OTEL OTELConfig `koanf:"otel"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "text"
}

// HTTPConfig holds the HTTP listener settings.
type HTTPConfig struct {
	Port int `koanf:"port"`

	// TrustedProxies is a comma-separated list of CIDRs or addresses whose
	// X-Forwarded-For header is honoured. Empty trusts no one, so the
	// origin is always the TCP peer.
	TrustedProxies string `koanf:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (c HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, field := range strings.Split(c.TrustedProxies, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if strings.Contains(field, "/") {
			p, err := netip.ParsePrefix(field)
			if err != nil {
				return nil, fmt.Errorf("%w: http.trusted_proxies entry %q", domain.ErrConfigInvalid, field)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			return nil, fmt.Errorf("%w: http.trusted_proxies entry %q", domain.ErrConfigInvalid, field)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// GRPCConfig holds the gRPC health listener settings. Port 0 disables it.
type GRPCConfig struct {
	Port int `koanf:"port"`
}

// OTPConfig mirrors domain.OTPPolicy.
type OTPConfig struct {
	CodeTTL             time.Duration `koanf:"code_ttl"`
	ResendCooldown      time.Duration `koanf:"resend_cooldown"`
	MaxAttempts         int           `koanf:"max_attempts"`
	IssueWindow         time.Duration `koanf:"issue_window"`
	IssueLimitPerPhone  int           `koanf:"issue_limit_per_phone"`
	IssueLimitPerOrigin int           `koanf:"issue_limit_per_origin"`
	VerifyLimitPerPhone int           `koanf:"verify_limit_per_phone"` // 0 disables
	Retention           time.Duration `koanf:"retention"`
	DeliveryTimeout     time.Duration `koanf:"delivery_timeout"`
}

// Policy converts the section into a domain policy.
func (c OTPConfig) Policy() domain.OTPPolicy {
	return domain.OTPPolicy{
		CodeTTL:             c.CodeTTL,
		ResendCooldown:      c.ResendCooldown,
		MaxAttempts:         c.MaxAttempts,
		IssueWindow:         c.IssueWindow,
		IssueLimitPerPhone:  c.IssueLimitPerPhone,
		IssueLimitPerOrigin: c.IssueLimitPerOrigin,
		VerifyLimitPerPhone: c.VerifyLimitPerPhone,
		Retention:           c.Retention,
		DeliveryTimeout:     c.DeliveryTimeout,
	}
}

// PhoneConfig selects the accepted numbering plan.
type PhoneConfig struct {
	CountryCode    string `koanf:"country_code"`
	MobileLeadings string `koanf:"mobile_leadings"`
}

// StoreConfig selects the challenge store.
type StoreConfig struct {
	Backend       string        `koanf:"backend"`
	Table         string        `koanf:"table"`
	SweepInterval time.Duration `koanf:"sweep_interval"` // memory backend only
}

// LimiterConfig selects the rate limiter.
type LimiterConfig struct {
	Backend string `koanf:"backend"`
}

// SMSConfig selects the delivery gateway.
type SMSConfig struct {
	Provider string `koanf:"provider"`
	SenderID string `koanf:"sender_id"`
	Template string `koanf:"template"`
}

// PepperConfig names the source of the HMAC pepper. Exactly one source
// is read, in the order Value, SecretID, SSMParameter.
type PepperConfig struct {
	Value        domain.SecretString `koanf:"value"` // base64
	SecretID     string              `koanf:"secret_id"`
	SSMParameter string              `koanf:"ssm_parameter"`
}

// IsSet reports whether any pepper source is configured.
func (p PepperConfig) IsSet() bool {
	return !p.Value.IsEmpty() || p.SecretID != "" || p.SSMParameter != ""
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Endpoint string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout  time.Duration `koanf:"timeout"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string              `koanf:"addr"`
	Password domain.SecretString `koanf:"password"`
	DB       int                 `koanf:"db"`
	Timeout  time.Duration       `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	policy := domain.DefaultOTPPolicy()
	return &Config{
		Environment: "local",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{Port: 8080},
		GRPC: GRPCConfig{Port: 9090},

		OTP: OTPConfig{
			CodeTTL:             policy.CodeTTL,
			ResendCooldown:      policy.ResendCooldown,
			MaxAttempts:         policy.MaxAttempts,
			IssueWindow:         policy.IssueWindow,
			IssueLimitPerPhone:  policy.IssueLimitPerPhone,
			IssueLimitPerOrigin: policy.IssueLimitPerOrigin,
			VerifyLimitPerPhone: policy.VerifyLimitPerPhone,
			Retention:           policy.Retention,
			DeliveryTimeout:     policy.DeliveryTimeout,
		},
		Phone: PhoneConfig{
			CountryCode:    domain.DefaultCountryCode,
			MobileLeadings: domain.DefaultMobileLeadings,
		},
		Store: StoreConfig{
			Backend:       StoreMemory,
			Table:         "otp_challenges",
			SweepInterval: domain.OTPSweepInterval,
		},
		Limiter: LimiterConfig{Backend: LimiterMemory},
		SMS:     SMSConfig{Provider: SMSLog},

		DynamoDB: DynamoDBConfig{
			Timeout: domain.DynamoDBTimeout,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Timeout: domain.RedisTimeout,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		OTEL: OTELConfig{
			ServiceName: "otpauth",
		},
	}
}

// Load loads configuration from OTPAUTH_* environment variables over the
// compiled defaults, then validates it. Required keys missing outside the
// local environment wrap domain.ErrConfigRequired; inconsistent values
// wrap domain.ErrConfigInvalid.
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps OTPAUTH_OTP__RESEND_COOLDOWN to otp.resend_cooldown.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks value consistency, then the keys required outside the
// local environment.
func (c *Config) Validate() error {
	if err := c.OTP.Policy().Validate(); err != nil {
		return err
	}
	if err := oneOf("store.backend", c.Store.Backend, StoreMemory, StoreDynamoDB); err != nil {
		return err
	}
	if err := oneOf("limiter.backend", c.Limiter.Backend, LimiterMemory, LimiterRedis); err != nil {
		return err
	}
	if err := oneOf("sms.provider", c.SMS.Provider, SMSLog, SMSSNS); err != nil {
		return err
	}
	if c.SMS.Template != "" && strings.Count(c.SMS.Template, "%s") != 1 {
		return fmt.Errorf("%w: sms.template must contain exactly one %%s", domain.ErrConfigInvalid)
	}
	if c.Store.Backend == StoreMemory && c.Store.SweepInterval <= 0 {
		return fmt.Errorf("%w: store.sweep_interval must be positive", domain.ErrConfigInvalid)
	}
	if c.Store.Backend == StoreDynamoDB && c.Store.Table == "" {
		return fmt.Errorf("%w: store.table", domain.ErrConfigRequired)
	}
	if c.Limiter.Backend == LimiterRedis && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
	}
	if c.Store.Backend == StoreDynamoDB && c.Limiter.Backend != LimiterRedis {
		return fmt.Errorf("%w: limiter.backend must be %q with a shared store, in-process limits are per replica",
			domain.ErrConfigInvalid, LimiterRedis)
	}
	if _, err := c.HTTP.TrustedProxyPrefixes(); err != nil {
		return err
	}

	if c.IsLocal() {
		return nil
	}

	if !c.Pepper.IsSet() {
		return fmt.Errorf("%w: pepper.value, pepper.secret_id or pepper.ssm_parameter", domain.ErrConfigRequired)
	}
	if c.SMS.Provider == SMSLog {
		return fmt.Errorf("%w: sms.provider %q writes codes to the log and is local only", domain.ErrConfigInvalid, SMSLog)
	}
	if c.Limiter.Backend != LimiterRedis {
		return fmt.Errorf("%w: limiter.backend must be %q outside local, in-process limits are per replica",
			domain.ErrConfigInvalid, LimiterRedis)
	}
	if c.AWS.Region == "" {
		return fmt.Errorf("%w: aws.region", domain.ErrConfigRequired)
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be one of %s, got %q",
		domain.ErrConfigInvalid, key, strings.Join(allowed, ", "), value)
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
