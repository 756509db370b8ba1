package internal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/AnatoleLucet/fiber"

const (
	metricTasksScheduled = "fiber.scheduler.tasks.scheduled"
	metricTasksRun       = "fiber.scheduler.tasks.run"
	metricTasksDropped   = "fiber.scheduler.tasks.dropped"
	metricYields         = "fiber.scheduler.yields"
	metricUnitsOfWork    = "fiber.workloop.units"
	metricPasses         = "fiber.workloop.passes"
	metricPassDuration   = "fiber.workloop.pass.duration.seconds"

	attrPriority = "priority"
	attrOutcome  = "outcome"
	attrMode     = "mode"
)

// Metrics holds the OTel instruments of a runtime. A nil *Metrics records nothing.
type Metrics struct {
	tasksScheduled metric.Int64Counter
	tasksRun       metric.Int64Counter
	tasksDropped   metric.Int64Counter
	yields         metric.Int64Counter
	unitsOfWork    metric.Int64Counter
	passes         metric.Int64Counter
	passDuration   metric.Float64Histogram
}

// NewMetrics creates the instruments from mt, or from the global meter provider when mt is nil.
func NewMetrics(mt metric.Meter) (*Metrics, error) {
	if mt == nil {
		mt = otel.Meter(meterName)
	}

	var (
		m   Metrics
		err error
	)

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.tasksScheduled, metricTasksScheduled, "Tasks handed to the scheduler", "{task}"},
		{&m.tasksRun, metricTasksRun, "Job invocations performed by the scheduler", "{task}"},
		{&m.tasksDropped, metricTasksDropped, "Cancelled tasks discarded when popped", "{task}"},
		{&m.yields, metricYields, "Times the scheduler gave control back to the host", "{yield}"},
		{&m.unitsOfWork, metricUnitsOfWork, "Fibers begun by the work loop", "{fiber}"},
		{&m.passes, metricPasses, "Render passes by outcome", "{pass}"},
	}

	for _, c := range counters {
		*c.dst, err = mt.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
	}

	m.passDuration, err = mt.Float64Histogram(metricPassDuration,
		metric.WithDescription("Time from the start of a pass to its commit or abandonment"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPassDuration, err)
	}

	return &m, nil
}

func (m *Metrics) taskScheduled(ctx context.Context, p Priority) {
	if m == nil {
		return
	}
	m.tasksScheduled.Add(ctx, 1, metric.WithAttributes(attribute.String(attrPriority, p.String())))
}

func (m *Metrics) taskRun(ctx context.Context, p Priority) {
	if m == nil {
		return
	}
	m.tasksRun.Add(ctx, 1, metric.WithAttributes(attribute.String(attrPriority, p.String())))
}

func (m *Metrics) taskDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.tasksDropped.Add(ctx, 1)
}

func (m *Metrics) yielded(ctx context.Context) {
	if m == nil {
		return
	}
	m.yields.Add(ctx, 1)
}

func (m *Metrics) unitOfWork(ctx context.Context) {
	if m == nil {
		return
	}
	m.unitsOfWork.Add(ctx, 1)
}

func (m *Metrics) passFinished(ctx context.Context, outcome string, sync bool, d time.Duration) {
	if m == nil {
		return
	}

	mode := "concurrent"
	if sync {
		mode = "sync"
	}
	attrs := metric.WithAttributes(attribute.String(attrOutcome, outcome), attribute.String(attrMode, mode))

	m.passes.Add(ctx, 1, attrs)
	m.passDuration.Record(ctx, d.Seconds(), attrs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
