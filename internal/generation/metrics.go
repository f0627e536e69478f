package generation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	jobs     metric.Int64Counter
	chunks   metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("github.com/loqalabs/readaloud/generation")
	jobs, err := meter.Int64Counter("readaloud.generation.jobs", metric.WithDescription("Finished generation jobs by status"))
	if err != nil {
		return nil, err
	}
	chunks, err := meter.Int64Counter("readaloud.generation.chunks", metric.WithDescription("Chunks synthesized by completed jobs"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("readaloud.generation.duration",
		metric.WithDescription("Wall time of generation jobs"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metrics{jobs: jobs, chunks: chunks, duration: duration}, nil
}

func (m *metrics) observe(ctx context.Context, status Status, elapsed time.Duration, chunks int) {
	if m == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	m.jobs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if chunks > 0 {
		m.chunks.Add(ctx, int64(chunks))
	}
}
