package adapter

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/aelexs/otp-auth/internal/domain"
)

// MinPepperLength is the shortest pepper accepted, in bytes.
const MinPepperLength = 32

// smClient is the narrow consumer-defined interface for Secrets Manager.
type smClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ssmClient is the narrow consumer-defined interface for Parameter Store.
type ssmClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadPepperFromSecretsManager reads the pepper from secretID. SecretString
// holds it base64 encoded; SecretBinary holds the raw bytes.
func LoadPepperFromSecretsManager(ctx context.Context, sm smClient, secretID string) (domain.SecretBytes, error) {
	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pepper secret %s: %w", secretID, err)
	}

	if len(out.SecretBinary) > 0 {
		return checkPepper(domain.SecretBytes(out.SecretBinary), secretID)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("pepper secret %s has no value: %w", secretID, domain.ErrConfigRequired)
	}
	return decodePepper(*out.SecretString, secretID)
}

// LoadPepperFromSSM reads a base64 pepper from a SecureString parameter.
func LoadPepperFromSSM(ctx context.Context, client ssmClient, name string) (domain.SecretBytes, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pepper parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("pepper parameter %s has no value: %w", name, domain.ErrConfigRequired)
	}
	return decodePepper(*out.Parameter.Value, name)
}

// DecodePepper decodes a base64 pepper taken from configuration.
func DecodePepper(encoded domain.SecretString) (domain.SecretBytes, error) {
	return decodePepper(encoded.Expose(), "pepper.value")
}

func decodePepper(encoded, source string) (domain.SecretBytes, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("pepper %s is not base64: %w", source, domain.ErrConfigInvalid)
	}
	return checkPepper(domain.SecretBytes(raw), source)
}

func checkPepper(p domain.SecretBytes, source string) (domain.SecretBytes, error) {
	if len(p) < MinPepperLength {
		return nil, fmt.Errorf("pepper %s shorter than %d bytes: %w", source, MinPepperLength, domain.ErrConfigInvalid)
	}
	return p, nil
}
