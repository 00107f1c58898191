package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/aelexs/otp-auth/internal/awsclient"
	"github.com/aelexs/otp-auth/internal/config"
	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/dynamo"
	"github.com/aelexs/otp-auth/internal/otp"
	"github.com/aelexs/otp-auth/internal/otpauth/adapter"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
	"github.com/aelexs/otp-auth/internal/otpauth/port"
	"github.com/aelexs/otp-auth/internal/redis"
	"github.com/aelexs/otp-auth/internal/server"
)

// devPepper is the HMAC pepper used in local development when no pepper
// source is configured. Config refuses to start elsewhere without one.
var devPepper = domain.SecretBytes("local-dev-pepper-32-bytes-minimum!")

// setup is the otpauth composition root. It creates infrastructure
// clients and adapters for the configured backends, the OTP service, and
// mounts the HTTP handler.
func setup(ctx context.Context, deps server.SetupDeps) (func(context.Context) error, error) {
	cfg := deps.Config
	logger := deps.Logger
	clock := domain.RealClock{}
	policy := cfg.OTP.Policy()

	awsCfg := awsclient.Config{
		Region:   cfg.AWS.Region,
		Endpoint: cfg.AWS.Endpoint,
		Timeout:  cfg.DynamoDB.Timeout,
	}
	awsLoader := &lazyAWS{cfg: awsCfg}

	// 1. Pepper and code generator.
	pepper, err := loadPepper(ctx, cfg, awsLoader, logger)
	if err != nil {
		return nil, fmt.Errorf("otpauth setup: load pepper: %w", err)
	}
	gen, err := otp.NewGenerator(pepper)
	if err != nil {
		return nil, fmt.Errorf("otpauth setup: %w", err)
	}

	// 2. Challenge store.
	var (
		challenges app.ChallengeStore
		sweepers   []adapter.Sweeper
	)
	switch cfg.Store.Backend {
	case config.StoreDynamoDB:
		dynamoClient, err := dynamo.NewClient(ctx, dynamo.Config{
			Endpoint: cfg.DynamoDB.Endpoint,
			Region:   cfg.AWS.Region,
			Timeout:  cfg.DynamoDB.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("otpauth setup: create dynamo client: %w", err)
		}
		challenges = adapter.NewDynamoChallengeStore(dynamoClient.DB, cfg.Store.Table, gen, clock, policy)
	default:
		store := adapter.NewMemoryChallengeStore(gen, clock, policy)
		challenges = store
		sweepers = append(sweepers, store)
	}

	// 3. Rate limiter.
	var (
		limiter     app.RateLimiter
		redisClient *redis.Client
	)
	switch cfg.Limiter.Backend {
	case config.LimiterRedis:
		redisClient = redis.NewClient(redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password.Expose(),
			DB:           cfg.Redis.DB,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		if err := redisClient.Ping(ctx); err != nil {
			return nil, fmt.Errorf("otpauth setup: %w", errors.Join(err, redisClient.Close()))
		}
		limiter = adapter.NewRedisRateLimiter(redisClient.RDB, policy)
	default:
		memLimiter := adapter.NewMemoryRateLimiter(clock, policy)
		limiter = memLimiter
		sweepers = append(sweepers, memLimiter)
	}

	// 4. Delivery gateway.
	gateway, err := createGateway(ctx, cfg, awsLoader, logger)
	if err != nil {
		return nil, fmt.Errorf("otpauth setup: %w", closeRedis(err, redisClient))
	}

	// 5. OTP service and HTTP handler.
	svc := app.NewOTPService(app.OTPServiceConfig{
		Challenges:  challenges,
		RateLimiter: limiter,
		Gateway:     gateway,
		Phones:      domain.NewPhoneValidator(cfg.Phone.CountryCode, cfg.Phone.MobileLeadings),
		Clock:       clock,
		Policy:      policy,
		Logger:      logger,
	})
	proxies, err := cfg.HTTP.TrustedProxyPrefixes()
	if err != nil {
		return nil, fmt.Errorf("otpauth setup: %w", closeRedis(err, redisClient))
	}
	port.NewOTPHandler(svc, logger, proxies).Routes(deps.Router)

	// 6. Background sweeping for in-process backends.
	janitor := adapter.NewJanitor(cfg.Store.SweepInterval, clock, logger, sweepers...)
	if len(sweepers) > 0 {
		janitor.Start(ctx)
	}

	logger.InfoContext(ctx, "otpauth service initialized",
		slog.String("store", cfg.Store.Backend),
		slog.String("limiter", cfg.Limiter.Backend),
		slog.String("sms_provider", cfg.SMS.Provider),
	)

	cleanup := func(_ context.Context) error {
		janitor.Stop()
		if redisClient != nil {
			return redisClient.Close()
		}
		return nil
	}
	return cleanup, nil
}

// loadPepper resolves the pepper from the first configured source. Local
// runs without one fall back to devPepper.
func loadPepper(ctx context.Context, cfg *config.Config, awsLoader *lazyAWS, logger *slog.Logger) (domain.SecretBytes, error) {
	switch {
	case !cfg.Pepper.Value.IsEmpty():
		return adapter.DecodePepper(cfg.Pepper.Value)
	case cfg.Pepper.SecretID != "":
		awsCfg, err := awsLoader.load(ctx)
		if err != nil {
			return nil, err
		}
		return adapter.LoadPepperFromSecretsManager(ctx, awsclient.NewSecretsManager(awsCfg, awsLoader.cfg), cfg.Pepper.SecretID)
	case cfg.Pepper.SSMParameter != "":
		awsCfg, err := awsLoader.load(ctx)
		if err != nil {
			return nil, err
		}
		return adapter.LoadPepperFromSSM(ctx, awsclient.NewSSM(awsCfg, awsLoader.cfg), cfg.Pepper.SSMParameter)
	case cfg.IsLocal():
		logger.Warn("using built-in development pepper")
		return devPepper, nil
	default:
		return nil, fmt.Errorf("%w: pepper", domain.ErrConfigRequired)
	}
}

// createGateway returns the delivery gateway for the configured provider.
// Local: logs codes instead of sending them.
// Otherwise: transactional SMS through Amazon SNS.
func createGateway(ctx context.Context, cfg *config.Config, awsLoader *lazyAWS, logger *slog.Logger) (otp.DeliveryGateway, error) {
	if cfg.SMS.Provider != config.SMSSNS {
		logger.Warn("using log-only SMS gateway, codes are written to the log")
		return adapter.NewLogGateway(logger), nil
	}

	awsCfg, err := awsLoader.load(ctx)
	if err != nil {
		return nil, err
	}
	return adapter.NewSNSGateway(awsclient.NewSNS(awsCfg, awsLoader.cfg), adapter.SNSGatewayConfig{
		SenderID: cfg.SMS.SenderID,
		Template: cfg.SMS.Template,
		CodeTTL:  cfg.OTP.CodeTTL,
	}), nil
}

// lazyAWS loads the shared AWS configuration on first use so that fully
// local setups never touch the credential chain.
type lazyAWS struct {
	cfg    awsclient.Config
	loaded *aws.Config
}

func (l *lazyAWS) load(ctx context.Context) (aws.Config, error) {
	if l.loaded != nil {
		return *l.loaded, nil
	}
	awsCfg, err := awsclient.Load(ctx, l.cfg)
	if err != nil {
		return aws.Config{}, err
	}
	l.loaded = &awsCfg
	return awsCfg, nil
}

func closeRedis(err error, c *redis.Client) error {
	if c == nil {
		return err
	}
	return errors.Join(err, c.Close())
}
