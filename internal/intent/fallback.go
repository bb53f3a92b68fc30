package intent

import (
	"context"
	"errors"

	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

// FallbackResolver wraps a primary resolver with a fallback.
// If the primary fails, the fallback is consulted.
type FallbackResolver struct {
	primary  Resolver
	fallback Resolver
	logger   *logging.Logger
}

// NewFallbackResolver creates a fallback-enabled resolver. A nil fallback
// means failures of the primary are returned as-is.
func NewFallbackResolver(primary, fallback Resolver, logger *logging.Logger) *FallbackResolver {
	if primary == nil {
		panic("intent: primary resolver required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackResolver{primary: primary, fallback: fallback, logger: logger}
}

func (r *FallbackResolver) Resolve(ctx context.Context, text string, sc SessionContext) (Result, error) {
	res, err := r.primary.Resolve(ctx, text, sc)
	if err == nil {
		return res, nil
	}
	r.logger.Warn("primary intent resolver failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", r.fallback != nil,
	)
	if r.fallback == nil {
		return Result{}, errors.Join(ErrResolutionFailed, err)
	}

	res, fbErr := r.fallback.Resolve(ctx, text, sc)
	if fbErr != nil {
		r.logger.Error("fallback intent resolver also failed",
			"primary_error", err.Error(),
			"fallback_error", fbErr.Error(),
		)
		return Result{}, errors.Join(ErrResolutionFailed, fbErr)
	}
	return res, nil
}
