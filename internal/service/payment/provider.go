package payment

import (
	"context"
	"errors"
	"time"

	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/metrics"
	"github.com/josh-kwaku/settlement-ledger/internal/provider"
)

// callProvider runs op under the provider timeout. Transport failures and
// timeouts come back as a failed Result so callers record them as data.
func (s *Service) callProvider(ctx context.Context, operation string, op func(ctx context.Context) (*provider.Result, error)) *provider.Result {
	ctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	start := time.Now()
	res, err := op(ctx)
	elapsed := time.Since(start)

	outcome := "success"
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
		res = &provider.Result{FailureReason: provider.ReasonTimeout}
	case err != nil:
		outcome = "error"
		res = &provider.Result{FailureReason: provider.ReasonUnavailable}
	case res == nil:
		outcome = "error"
		res = &provider.Result{FailureReason: provider.ReasonUnavailable}
	case !res.Success:
		outcome = "declined"
	}
	metrics.ProviderLatency.WithLabelValues(s.provider.Name(), operation, outcome).Observe(elapsed.Seconds())

	if err != nil {
		logging.FromContext(ctx).Warn("provider call failed",
			"provider", s.provider.Name(),
			"operation", operation,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
	}
	return res
}
