package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/wolfman30/clinic-booking-ai/internal/config"
	"github.com/wolfman30/clinic-booking-ai/internal/conversation"
	"github.com/wolfman30/clinic-booking-ai/internal/events"
	"github.com/wolfman30/clinic-booking-ai/internal/messaging"
	"github.com/wolfman30/clinic-booking-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

const (
	DedupeBackendPostgres = "postgres"
	DedupeBackendDynamo   = "dynamodb"
	DedupeBackendMemory   = "memory"
	DedupeBackendNone     = "none"
)

// BuildReplySender creates the Twilio sender used by async workers. It returns
// a nil sender and the reason when credentials are missing.
func BuildReplySender(cfg *appconfig.Config, m *metrics.MessagingMetrics, logger *logging.Logger) (conversation.ReplySender, string) {
	if cfg == nil {
		return nil, "missing config"
	}
	var missing []string
	if strings.TrimSpace(cfg.TwilioAccountSID) == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if strings.TrimSpace(cfg.TwilioAuthToken) == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if strings.TrimSpace(cfg.TwilioFromNumber) == "" {
		missing = append(missing, "TWILIO_FROM_NUMBER")
	}
	if len(missing) > 0 {
		return nil, "missing " + strings.Join(missing, ", ")
	}
	return messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger, messaging.WithSenderMetrics(m)), ""
}

// BuildQueue returns the inbound job queue: an in-process channel when
// USE_MEMORY_QUEUE is set, otherwise SQS.
func BuildQueue(cfg *appconfig.Config, awsCfg aws.Config) (conversation.Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if cfg.UseMemoryQueue {
		return conversation.NewMemoryQueue(256), nil
	}
	if strings.TrimSpace(cfg.InboundQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: INBOUND_QUEUE_URL is required unless USE_MEMORY_QUEUE=true")
	}
	return conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.InboundQueueURL), nil
}

// BuildDedupe picks the processed-message store named by DEDUPE_BACKEND.
// A nil result disables redelivery checks.
func BuildDedupe(cfg *appconfig.Config, pool *pgxpool.Pool, awsCfg aws.Config, logger *logging.Logger) (events.Dedupe, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.DedupeBackend {
	case DedupeBackendNone:
		logger.Warn("message dedupe disabled; provider retries may produce duplicate replies")
		return nil, nil
	case DedupeBackendMemory:
		return events.NewMemoryProcessedStore(), nil
	case DedupeBackendDynamo:
		return events.NewDynamoProcessedStore(dynamodb.NewFromConfig(awsCfg), cfg.ProcessedMessagesTable), nil
	case DedupeBackendPostgres, "":
		if pool == nil {
			logger.Warn("postgres dedupe selected without DATABASE_URL; using in-memory dedupe")
			return events.NewMemoryProcessedStore(), nil
		}
		return events.NewProcessedStore(pool), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown dedupe backend %q", cfg.DedupeBackend)
	}
}
