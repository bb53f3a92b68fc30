package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/clinic-booking-ai/internal/config"
	"github.com/wolfman30/clinic-booking-ai/internal/intent"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

const (
	IntentProviderRules   = "rules"
	IntentProviderGemini  = "gemini"
	IntentProviderBedrock = "bedrock"
)

// BuildIntentResolver picks the classifier named by INTENT_PROVIDER. Model
// backed resolvers fall back to the keyword rules when the model fails. The
// returned close func is never nil.
func BuildIntentResolver(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (intent.Resolver, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rules := intent.NewRuleResolver()

	switch cfg.IntentProvider {
	case IntentProviderRules, "":
		logger.Info("intent resolver configured", "provider", IntentProviderRules)
		return rules, noop, nil

	case IntentProviderGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			logger.Warn("gemini intent provider selected without GEMINI_API_KEY; using rules")
			return rules, noop, nil
		}
		client, err := intent.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, noop, fmt.Errorf("bootstrap: %w", err)
		}
		logger.Info("intent resolver configured", "provider", IntentProviderGemini, "model", cfg.GeminiModel)
		primary := intent.NewLLMResolver(client, cfg.GeminiModel, IntentProviderGemini)
		return intent.NewFallbackResolver(primary, rules, logger), client.Close, nil

	case IntentProviderBedrock:
		model := strings.TrimSpace(cfg.BedrockModelID)
		if model == "" {
			logger.Warn("bedrock intent provider selected without BEDROCK_MODEL_ID; using rules")
			return rules, noop, nil
		}
		client := intent.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), model)
		logger.Info("intent resolver configured", "provider", IntentProviderBedrock, "model", model)
		primary := intent.NewLLMResolver(client, model, IntentProviderBedrock)
		return intent.NewFallbackResolver(primary, rules, logger), noop, nil

	default:
		return nil, noop, fmt.Errorf("bootstrap: unknown intent provider %q", cfg.IntentProvider)
	}
}
