package provider

import (
	"context"
	"errors"
	"time"

	"github.com/promptops/whetstone/internal/metrics"
)

// InstrumentedProvider wraps a Protocol with Prometheus request counters and
// latency observation.
type InstrumentedProvider struct {
	next    Protocol
	name    string
	model   string
	metrics *metrics.Metrics
}

// Instrument wraps a provider with metrics recording. Returns the provider
// unchanged when metrics are nil.
func Instrument(next Protocol, name, model string, m *metrics.Metrics) Protocol {
	if m == nil {
		return next
	}
	return &InstrumentedProvider{next: next, name: name, model: model, metrics: m}
}

func (p *InstrumentedProvider) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	start := time.Now()
	out, err := p.next.Complete(ctx, req)
	p.metrics.RecordProviderRequest(p.name, p.model, err == nil, time.Since(start).Seconds())
	if err != nil {
		errType := "request_failed"
		if errors.Is(err, context.DeadlineExceeded) {
			errType = "timeout"
		}
		p.metrics.ProviderErrors.WithLabelValues(p.name, errType).Inc()
	}
	return out, err
}
