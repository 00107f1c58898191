// Package dynamo provides the DynamoDB client factory and re-exports the
// SDK types adapters need, so that only this package imports the
// DynamoDB SDK directly.
package dynamo

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/aelexs/otp-auth/internal/awsclient"
)

// Config holds DynamoDB connection parameters. It is the shared AWS
// configuration; Endpoint points at LocalStack in local development.
type Config = awsclient.Config

// Client wraps the AWS DynamoDB SDK client.
type Client struct {
	// DB is the underlying AWS DynamoDB SDK client.
	DB *dynamodb.Client
}

// NewClient creates a DynamoDB client configured from cfg.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsclient.Load(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		DB: dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
	}, nil
}

// Operation types.
type (
	GetItemInput     = dynamodb.GetItemInput
	GetItemOutput    = dynamodb.GetItemOutput
	PutItemInput     = dynamodb.PutItemInput
	PutItemOutput    = dynamodb.PutItemOutput
	DeleteItemInput  = dynamodb.DeleteItemInput
	DeleteItemOutput = dynamodb.DeleteItemOutput
)

// Attribute value types.
type (
	AttributeValue        = types.AttributeValue
	AttributeValueMemberS = types.AttributeValueMemberS
	AttributeValueMemberN = types.AttributeValueMemberN
)

// Options is the DynamoDB client options type, for optFns in adapter
// interfaces.
type Options = dynamodb.Options

// Expression builder re-exports.
type (
	ConditionBuilder = expression.ConditionBuilder
	Expression       = expression.Expression
)

var (
	Name               = expression.Name
	Value              = expression.Value
	AttributeNotExists = expression.AttributeNotExists
	NewExpression      = expression.NewBuilder
)

// Bool returns a pointer to a bool value.
var Bool = aws.Bool

// String returns a pointer to a string value.
var String = aws.String

// MarshalMap serializes a Go value into an attribute value map.
var MarshalMap = attributevalue.MarshalMap

// UnmarshalMap deserializes an attribute value map into a Go value.
var UnmarshalMap = attributevalue.UnmarshalMap

// IsConditionalCheckFailed reports whether err is a
// ConditionalCheckFailedException.
func IsConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// ErrConditionalCheckFailed returns the exception DynamoDB raises for a
// failed condition. Only tests construct it.
func ErrConditionalCheckFailed() error {
	return &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
	}
}
