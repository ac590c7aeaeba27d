package utils

import (
	"context"
	"time"
)

// RunLoop вызывает fn сразу, затем каждые interval по часам clock
// или немедленно по сигналу wake. Возвращается при отмене ctx
func RunLoop(ctx context.Context, clock Clock, interval time.Duration, wake <-chan struct{}, fn func(context.Context)) {
	for {
		fn(ctx)

		select {
		case <-ctx.Done():
			return
		case <-clock.After(interval):
		case <-wake:
		}
	}
}
