package oracle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/iambrandonn/datascout/internal/conversation"
)

type limited struct {
	next    Oracle
	limiter *rate.Limiter
}

// Limited throttles o to perMinute requests per minute. A non-positive rate
// returns o unchanged.
func Limited(o Oracle, perMinute int) Oracle {
	if perMinute <= 0 {
		return o
	}
	return &limited{
		next:    o,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (l *limited) Complete(ctx context.Context, entries []conversation.Entry) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return l.next.Complete(ctx, entries)
}
