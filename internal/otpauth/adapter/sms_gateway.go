package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/otp"
)

// snsPublisher is the narrow, consumer-defined subset of SNS the gateway
// calls. *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var (
	_ otp.DeliveryGateway = (*SNSGateway)(nil)
	_ otp.DeliveryGateway = (*LogGateway)(nil)
)

// SNSGatewayConfig holds the SMS attributes sent with every message.
type SNSGatewayConfig struct {
	SenderID string        // empty omits AWS.SNS.SMS.SenderID
	Template string        // fmt template with one %s for the code
	CodeTTL  time.Duration // lifetime quoted by the default template
}

// SNSGateway delivers codes as transactional SMS through Amazon SNS.
type SNSGateway struct {
	client   snsPublisher
	senderID string
	template string
}

// NewSNSGateway creates an SNSGateway over client.
func NewSNSGateway(client snsPublisher, cfg SNSGatewayConfig) *SNSGateway {
	template := cfg.Template
	if template == "" {
		ttl := cfg.CodeTTL
		if ttl <= 0 {
			ttl = domain.OTPValidityDuration
		}
		template = "Your verification code is %s. It expires in " + lifetime(ttl) + "."
	}
	return &SNSGateway{client: client, senderID: cfg.SenderID, template: template}
}

// Send implements otp.DeliveryGateway.
func (g *SNSGateway) Send(ctx context.Context, phone, code string) error {
	ctx, span := tracer.Start(ctx, "sns.publish_sms")
	defer span.End()

	message := fmt.Sprintf(g.template, code)
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if g.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(g.senderID),
		}
	}

	_, err := g.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       &phone,
		Message:           &message,
		MessageAttributes: attrs,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sns sms: publish to %s: %w", maskPhone(phone), err)
	}
	return nil
}

// lifetime renders d in whole minutes when it has no seconds part, else in
// seconds rounded up.
func lifetime(d time.Duration) string {
	if d%time.Minute == 0 {
		if n := int64(d / time.Minute); n != 1 {
			return fmt.Sprintf("%d minutes", n)
		}
		return "1 minute"
	}
	n := int64((d + time.Second - 1) / time.Second)
	if n == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", n)
}

// LogGateway writes codes to the log instead of sending them. It exists
// for local development only; config refuses it in other environments.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway creates a LogGateway writing to logger.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

// Send implements otp.DeliveryGateway. The code goes out under a key the
// redacting handler leaves alone; the phone is masked.
func (g *LogGateway) Send(ctx context.Context, phone, code string) error {
	g.logger.InfoContext(ctx, "otp delivery (log-only)",
		slog.String("recipient", maskPhone(phone)),
		slog.String("dev_delivery", code),
	)
	return nil
}

// maskPhone keeps the last 4 digits. Numbers shorter than 5 characters
// are fully masked.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "***" + phone[len(phone)-4:]
}
