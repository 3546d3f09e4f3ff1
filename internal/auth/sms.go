package auth

import "context"

// Provider abstracts SMS delivery for vendor independence. Implementations
// wrap a specific transport (SNS, a carrier API, a local log sink for
// development); internal/sms.Failover composes two Providers with automatic
// fallback.
type Provider interface {
	// Send delivers the verification code to the given phone number.
	// Returns nil on successful delivery acceptance (not necessarily receipt).
	Send(ctx context.Context, phone string, code string) error

	// Health reports whether the provider currently believes it can deliver.
	Health(ctx context.Context) error

	// Name identifies the provider for logging and metrics.
	Name() string
}
