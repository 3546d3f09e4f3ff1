package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/ridewise/authcore/internal/auth"
	"github.com/ridewise/authcore/internal/domain"
)

// snsPublisher is a narrow, consumer-defined interface for the subset of SNS
// operations required by the SMS provider. The real *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Compile-time interface satisfaction checks.
var _ auth.Provider = (*SNSSMSProvider)(nil)
var _ auth.Provider = (*LogSMSProvider)(nil)

// SNSSMSProvider delivers verification codes via Amazon SNS SMS.
type SNSSMSProvider struct {
	client snsPublisher
}

// NewSNSSMSProvider creates an SNSSMSProvider backed by the given SNS client.
func NewSNSSMSProvider(client snsPublisher) *SNSSMSProvider {
	return &SNSSMSProvider{client: client}
}

// Send publishes a verification code message to the given phone number via SNS.
func (p *SNSSMSProvider) Send(ctx context.Context, phone string, code string) error {
	message := fmt.Sprintf("Your verification code is: %s", code)

	_, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: &phone,
		Message:     &message,
	})
	if err != nil {
		return fmt.Errorf("sns sms: send code to %s: %w", phone, err)
	}

	return nil
}

// Health publishes nothing; SNS has no lightweight ping, so this reports
// healthy unconditionally. A failing Send is how SNS outages surface.
func (p *SNSSMSProvider) Health(ctx context.Context) error {
	return nil
}

// Name identifies this provider for logging and metrics.
func (p *SNSSMSProvider) Name() string { return "sns" }

// LogSMSProvider is a fake Provider that logs code delivery instead of
// sending real SMS. Suitable for local development and testing environments.
// It never logs the raw code: only a masked phone number and its length.
type LogSMSProvider struct {
	logger *slog.Logger
}

// NewLogSMSProvider creates a LogSMSProvider that writes delivery events to
// the given structured logger.
func NewLogSMSProvider(logger *slog.Logger) *LogSMSProvider {
	return &LogSMSProvider{logger: logger}
}

// Send logs the delivery with a masked phone number. It never sends a real
// SMS and never logs the raw code.
func (p *LogSMSProvider) Send(ctx context.Context, phone string, code string) error {
	masked := domain.MaskPhone(phone)

	p.logger.InfoContext(ctx, "verification code delivery (log-only)",
		slog.String("phone", masked),
		slog.Int("code_length", len(code)),
	)

	return nil
}

// Health always reports healthy; there is nothing to probe.
func (p *LogSMSProvider) Health(ctx context.Context) error {
	return nil
}

// Name identifies this provider for logging and metrics.
func (p *LogSMSProvider) Name() string { return "log" }
