package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogSender records messages in the application log instead of delivering
// them. It is the provider used until a hospital configures real gateways.
type LogSender struct {
	logger     zerolog.Logger
	hospitalID uuid.UUID
}

func NewLogSender(logger zerolog.Logger, hospitalID uuid.UUID) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notification").Logger(), hospitalID: hospitalID}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("hospital_id", s.hospitalID.String()).Str("channel", string(ChannelEmail)).
		Str("to", to).Str("subject", subject).Int("body_len", len(body)).Msg("notification sent")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("hospital_id", s.hospitalID.String()).Str("channel", string(ChannelSMS)).
		Str("to", to).Int("body_len", len(body)).Msg("notification sent")
	return nil
}

func (s *LogSender) SendWhatsApp(_ context.Context, to, body string) error {
	s.logger.Info().Str("hospital_id", s.hospitalID.String()).Str("channel", string(ChannelWhatsApp)).
		Str("to", to).Int("body_len", len(body)).Msg("notification sent")
	return nil
}

// LogProviderFactory builds log-backed providers for every channel.
func LogProviderFactory(logger zerolog.Logger) ProviderFactory {
	return func(_ context.Context, hospitalID uuid.UUID) (*Provider, error) {
		s := NewLogSender(logger, hospitalID)
		return &Provider{Email: s, SMS: s, WhatsApp: s}, nil
	}
}
