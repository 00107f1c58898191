// Package adapter implements the app ports: challenge stores (in-memory
// and DynamoDB), rate limiters (in-memory and Redis), delivery gateways
// (log and SNS), and the pepper loaders.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("otpauth/adapter")
