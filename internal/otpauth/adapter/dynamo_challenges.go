package adapter

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/dynamo"
	"github.com/aelexs/otp-auth/internal/otp"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

// challengeDynamoDB is the narrow, consumer-defined subset of the DynamoDB
// API the challenge store calls. *dynamodb.Client satisfies it.
type challengeDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
}

var _ app.ChallengeStore = (*DynamoChallengeStore)(nil)

// challengeItem is the item shape of the otp_challenges table. Times are
// epoch milliseconds; ttl is epoch seconds as DynamoDB TTL requires.
// The phone itself is not stored, only its hash.
type challengeItem struct {
	PhoneHash         string `dynamodbav:"phone_hash"`
	ChallengeID       string `dynamodbav:"challenge_id"`
	CodeSalt          string `dynamodbav:"code_salt"`
	CodeHash          string `dynamodbav:"code_hash"`
	CreatedAt         int64  `dynamodbav:"created_at"`
	ExpiresAt         int64  `dynamodbav:"expires_at"`
	AttemptsRemaining int    `dynamodbav:"attempts_remaining"`
	Status            string `dynamodbav:"status"`
	ResendCount       int    `dynamodbav:"resend_count"`
	LastSentAt        int64  `dynamodbav:"last_sent_at"`
	Version           int64  `dynamodbav:"version"`
	TTL               int64  `dynamodbav:"ttl"`
}

// DynamoChallengeStore persists challenges in DynamoDB. Every mutation is
// a strongly consistent read followed by a PutItem conditioned on the
// version read, retried on conflict up to domain.MaxCASRetries times.
type DynamoChallengeStore struct {
	db        challengeDynamoDB
	tableName string
	gen       *otp.Generator
	clock     domain.Clock
	policy    domain.OTPPolicy
}

// NewDynamoChallengeStore creates a store over tableName.
func NewDynamoChallengeStore(
	db challengeDynamoDB,
	tableName string,
	gen *otp.Generator,
	clock domain.Clock,
	policy domain.OTPPolicy,
) *DynamoChallengeStore {
	return &DynamoChallengeStore{
		db:        db,
		tableName: tableName,
		gen:       gen,
		clock:     clock,
		policy:    policy,
	}
}

// errNoWrite tells casLoop the mutation decided nothing needs writing.
var errNoWrite = errors.New("no write")

// CreateOrRefresh implements app.ChallengeStore.
func (s *DynamoChallengeStore) CreateOrRefresh(ctx context.Context, phone domain.PhoneNumber) (*domain.Challenge, string, error) {
	ctx, span := tracer.Start(ctx, "dynamo.challenges.create_or_refresh")
	defer span.End()

	var (
		next domain.Challenge
		code string
	)
	err := s.casLoop(ctx, phone, func(existing domain.Challenge, found bool) (domain.Challenge, error) {
		var err error
		next, code, err = nextChallenge(existing, found, phone, s.gen, s.clock.Now(), s.policy)
		return next, err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrResendCooldown) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, "", err
	}
	return &next, code, nil
}

// Consume implements app.ChallengeStore.
func (s *DynamoChallengeStore) Consume(ctx context.Context, phone domain.PhoneNumber, code string) (domain.VerificationResult, error) {
	ctx, span := tracer.Start(ctx, "dynamo.challenges.consume")
	defer span.End()

	result := domain.ResultNotFound
	err := s.casLoop(ctx, phone, func(existing domain.Challenge, found bool) (domain.Challenge, error) {
		if !found {
			result = domain.ResultNotFound
			return domain.Challenge{}, errNoWrite
		}
		var changed bool
		result, changed = existing.Attempt(s.clock.Now(), s.gen.Matcher(phone, code))
		if !changed {
			return domain.Challenge{}, errNoWrite
		}
		existing.Version++
		return existing, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ResultNotFound, err
	}

	span.SetAttributes(attribute.String("otp.result", result.String()))
	return result, nil
}

// Get implements app.ChallengeStore.
func (s *DynamoChallengeStore) Get(ctx context.Context, phone domain.PhoneNumber) (*domain.Challenge, error) {
	c, found, err := s.read(ctx, phone)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrChallengeNotFound
	}
	return &c, nil
}

// casLoop runs read, mutate, conditional write. mutate returns errNoWrite
// to finish without writing; any other error aborts the loop.
func (s *DynamoChallengeStore) casLoop(
	ctx context.Context,
	phone domain.PhoneNumber,
	mutate func(existing domain.Challenge, found bool) (domain.Challenge, error),
) error {
	for attempt := 1; attempt <= domain.MaxCASRetries; attempt++ {
		existing, found, err := s.read(ctx, phone)
		if err != nil {
			return err
		}

		next, err := mutate(existing, found)
		if errors.Is(err, errNoWrite) {
			return nil
		}
		if err != nil {
			return err
		}

		err = s.write(ctx, next, existing.Version, found)
		if err == nil {
			return nil
		}
		if !dynamo.IsConditionalCheckFailed(err) {
			return err
		}
	}
	return fmt.Errorf("challenge store: %d conflicting writes: %w", domain.MaxCASRetries, domain.ErrUnavailable)
}

func (s *DynamoChallengeStore) read(ctx context.Context, phone domain.PhoneNumber) (domain.Challenge, bool, error) {
	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"phone_hash": &dynamo.AttributeValueMemberS{Value: otp.HashPhone(phone)},
		},
		ConsistentRead: dynamo.Bool(true),
	})
	if err != nil {
		return domain.Challenge{}, false, fmt.Errorf("challenge store: get: %w", errors.Join(err, domain.ErrUnavailable))
	}
	if out.Item == nil {
		return domain.Challenge{}, false, nil
	}

	var item challengeItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return domain.Challenge{}, false, fmt.Errorf("challenge store: unmarshal: %w", errors.Join(err, domain.ErrUnavailable))
	}
	c, err := item.toDomain(phone)
	if err != nil {
		return domain.Challenge{}, false, err
	}
	return c, true, nil
}

// write puts next, conditioned on the record being absent (found=false)
// or still at prevVersion.
func (s *DynamoChallengeStore) write(ctx context.Context, next domain.Challenge, prevVersion int64, found bool) error {
	av, err := dynamo.MarshalMap(newChallengeItem(next, s.policy))
	if err != nil {
		return fmt.Errorf("challenge store: marshal: %w", err)
	}

	cond := dynamo.AttributeNotExists(dynamo.Name("phone_hash"))
	if found {
		cond = dynamo.Name("version").Equal(dynamo.Value(prevVersion))
	}
	expr, err := dynamo.NewExpression().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("challenge store: build condition: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:                 &s.tableName,
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return err
		}
		return fmt.Errorf("challenge store: put: %w", errors.Join(err, domain.ErrUnavailable))
	}
	return nil
}

func newChallengeItem(c domain.Challenge, policy domain.OTPPolicy) challengeItem {
	return challengeItem{
		PhoneHash:         otp.HashPhone(c.Phone),
		ChallengeID:       c.ID,
		CodeSalt:          c.Secret.Salt,
		CodeHash:          c.Secret.Hash,
		CreatedAt:         domain.ToMillis(c.CreatedAt),
		ExpiresAt:         domain.ToMillis(c.ExpiresAt),
		AttemptsRemaining: c.AttemptsRemaining,
		Status:            string(c.Status),
		ResendCount:       c.ResendCount,
		LastSentAt:        domain.ToMillis(c.LastSentAt),
		Version:           c.Version,
		TTL:               c.ExpiresAt.Add(policy.Retention).Unix(),
	}
}

func (item challengeItem) toDomain(phone domain.PhoneNumber) (domain.Challenge, error) {
	status := domain.ChallengeStatus(item.Status)
	if !domain.IsValidChallengeStatus(status) {
		// An unreadable record must never verify.
		return domain.Challenge{}, fmt.Errorf("challenge store: unknown status %q: %w", item.Status, domain.ErrUnavailable)
	}
	return domain.Challenge{
		ID:                item.ChallengeID,
		Phone:             phone,
		Secret:            domain.CodeSecret{Salt: item.CodeSalt, Hash: item.CodeHash},
		CreatedAt:         domain.FromMillis(item.CreatedAt),
		ExpiresAt:         domain.FromMillis(item.ExpiresAt),
		AttemptsRemaining: item.AttemptsRemaining,
		Status:            status,
		ResendCount:       item.ResendCount,
		LastSentAt:        domain.FromMillis(item.LastSentAt),
		Version:           item.Version,
	}, nil
}
