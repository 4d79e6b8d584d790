package compliance

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	appLog "calmonitor/internal/log"
)

const meterName = "calmonitor/compliance"

type instruments struct {
	fetches  metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
	flagged  metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) *instruments {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	noopMeter := noop.NewMeterProvider().Meter(meterName)

	in := &instruments{}
	var err error
	if in.fetches, err = meter.Int64Counter("calmonitor.provider.fetches",
		metric.WithDescription("Provider calls made, one per member and date")); err != nil {
		appLog.Error("metrics: create counter failed", err, "name", "calmonitor.provider.fetches")
		in.fetches, _ = noopMeter.Int64Counter("calmonitor.provider.fetches")
	}
	if in.failures, err = meter.Int64Counter("calmonitor.provider.failures",
		metric.WithDescription("Provider calls that returned an error")); err != nil {
		appLog.Error("metrics: create counter failed", err, "name", "calmonitor.provider.failures")
		in.failures, _ = noopMeter.Int64Counter("calmonitor.provider.failures")
	}
	if in.duration, err = meter.Float64Histogram("calmonitor.provider.duration",
		metric.WithDescription("Provider call latency"), metric.WithUnit("s")); err != nil {
		appLog.Error("metrics: create histogram failed", err, "name", "calmonitor.provider.duration")
		in.duration, _ = noopMeter.Float64Histogram("calmonitor.provider.duration")
	}
	if in.flagged, err = meter.Int64Counter("calmonitor.members.flagged",
		metric.WithDescription("Member days judged as needing attention")); err != nil {
		appLog.Error("metrics: create counter failed", err, "name", "calmonitor.members.flagged")
		in.flagged, _ = noopMeter.Int64Counter("calmonitor.members.flagged")
	}
	return in
}

func (in *instruments) recordFetch(ctx context.Context, began time.Time, err error) {
	in.fetches.Add(ctx, 1)
	in.duration.Record(ctx, time.Since(began).Seconds())
	if err != nil {
		in.failures.Add(ctx, 1)
	}
}

func (in *instruments) recordFlagged(ctx context.Context, kind string) {
	in.flagged.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
