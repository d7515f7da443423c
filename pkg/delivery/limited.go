package delivery

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/exploopio/sentinel/pkg/alert"
	"github.com/exploopio/sentinel/pkg/model"
)

// Limited caps the send rate of a sender. A send that cannot get a token
// before ctx is done fails instead of blocking the pass.
type Limited struct {
	next    alert.Sender
	limiter *rate.Limiter
}

// NewLimited wraps next with a token bucket of rps sends per second.
// rps <= 0 disables limiting.
func NewLimited(next alert.Sender, rps float64, burst int) *Limited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Channel returns the wrapped sender's channel.
func (l *Limited) Channel() model.Channel { return l.next.Channel() }

// Send waits for a token and forwards to the wrapped sender.
func (l *Limited) Send(ctx context.Context, n *model.Notification) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", l.next.Channel(), err)
	}
	return l.next.Send(ctx, n)
}

// Unwrap returns the wrapped sender.
func (l *Limited) Unwrap() alert.Sender { return l.next }

var _ alert.Sender = (*Limited)(nil)
