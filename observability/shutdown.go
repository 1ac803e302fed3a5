package observability

import (
	"context"
	"fmt"
	"time"
)

// DefaultShutdownTimeout bounds the final flush of a provider.
const DefaultShutdownTimeout = 10 * time.Second

// Shutdown flushes and stops provider. The flush is detached from the
// cancellation of parent, so telemetry of an interrupted fetch is still
// exported, but it keeps parent's values and gives up after timeout.
// A nil provider is ignored.
func Shutdown(parent context.Context, provider Provider, timeout time.Duration) error {
	if provider == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	defer cancel()

	if err := provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("observability shutdown failed: %w", err)
	}
	return nil
}
