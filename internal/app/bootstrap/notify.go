package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/clinic-booking-ai/internal/config"
	"github.com/wolfman30/clinic-booking-ai/internal/notify"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

const (
	EmailProviderStub     = "stub"
	EmailProviderSendGrid = "sendgrid"
	EmailProviderSES      = "ses"
	EmailProviderNone     = "none"
)

// BuildNotifier wires calendar invitations. A nil notifier (EMAIL_PROVIDER=none)
// means bookings are confirmed without an invite.
func BuildNotifier(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.Notifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	email, err := buildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	if email == nil {
		logger.Info("calendar invitations disabled")
		return nil, nil
	}

	var publisher notify.ICSPublisher
	if ics := notify.NewS3ICSPublisher(s3.NewFromConfig(awsCfg), cfg.ICSBucket, cfg.AWSRegion, cfg.ICSBaseURL); ics != nil {
		publisher = ics
		logger.Info("ics invites published to s3", "bucket", cfg.ICSBucket)
	}

	return notify.NewCalendarNotifier(email, publisher, notify.CalendarNotifierConfig{
		ClinicName: cfg.ClinicName,
		Location:   cfg.ClinicLocation,
		TimeZone:   cfg.Location(),
	}, logger), nil
}

func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case EmailProviderNone:
		return nil, nil
	case EmailProviderStub, "":
		return notify.NewStubEmailSender(logger), nil
	case EmailProviderSendGrid:
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sender == nil {
			logger.Warn("sendgrid selected without SENDGRID_API_KEY; using stub email sender")
			return notify.NewStubEmailSender(logger), nil
		}
		return sender, nil
	case EmailProviderSES:
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown email provider %q", cfg.EmailProvider)
	}
}
