package classifier

import (
	"context"

	"golang.org/x/time/rate"

	serrors "github.com/exploopio/sentinel/pkg/errors"
)

// RateLimited throttles calls to an underlying classifier. When the inner
// value also implements Drafter, drafts share the same limiter.
type RateLimited struct {
	inner   Classifier
	limiter *rate.Limiter
}

// NewRateLimited wraps c with a token bucket of rps requests per second.
// A non-positive rps disables limiting.
func NewRateLimited(c Classifier, rps float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &RateLimited{inner: c, limiter: rate.NewLimiter(limit, burst)}
}

// Classify waits for a token then calls the inner classifier.
func (r *RateLimited) Classify(ctx context.Context, req Request) (*Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, waitError("classifier.RateLimited.Classify", ctx, err)
	}
	return r.inner.Classify(ctx, req)
}

// Draft waits for a token then calls the inner drafter.
func (r *RateLimited) Draft(ctx context.Context, req DraftRequest) (*Draft, error) {
	d, ok := r.inner.(Drafter)
	if !ok {
		return nil, serrors.E(serrors.KindClassifierUnavailable, "classifier.RateLimited.Draft", "backend cannot draft")
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, waitError("classifier.RateLimited.Draft", ctx, err)
	}
	return d.Draft(ctx, req)
}

// Unwrap returns the wrapped classifier.
func (r *RateLimited) Unwrap() Classifier {
	return r.inner
}

func waitError(op string, ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return serrors.E(serrors.KindCanceled, op, err)
	}
	// Wait fails without a canceled context when the deadline is shorter
	// than the time to the next token.
	return serrors.E(serrors.KindClassifierUnavailable, op, "rate limit wait", err)
}
