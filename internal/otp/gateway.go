package otp

import "context"

// DeliveryGateway sends a code to a phone over some out-of-band channel.
type DeliveryGateway interface {
	// Send delivers code to phone (E.164). A nil error means the provider
	// accepted the message, not that it was received.
	Send(ctx context.Context, phone, code string) error
}
