package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/backoffice/internal/domain/event"
)

const instrumentationName = "github.com/xenking/backoffice/internal/eventbus"

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	Completed Outcome = iota
	Retry
	Failed
)

// Options configure a bus implementation.
type Options struct {
	Policy         Policy
	Concurrency    int
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

func (o *Options) setDefaults() {
	if o.Policy == (Policy{}) {
		o.Policy = DefaultPolicy()
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Processor dispatches jobs to subscribed handlers and decides their fate.
// Bus implementations embed it and own the queue mechanics.
type Processor struct {
	Options

	mu       sync.RWMutex
	handlers map[event.Kind]Handler

	tracer    trace.Tracer
	published metric.Int64Counter
	completed metric.Int64Counter
	retried   metric.Int64Counter
	failed    metric.Int64Counter
}

// NewProcessor applies defaults to opts and registers the bus metrics.
func NewProcessor(opts Options) (*Processor, error) {
	opts.setDefaults()
	meter := opts.MeterProvider.Meter(instrumentationName)

	p := &Processor{
		Options:  opts,
		handlers: make(map[event.Kind]Handler),
		tracer:   opts.TracerProvider.Tracer(instrumentationName),
	}
	for name, dst := range map[string]*metric.Int64Counter{
		"eventbus.jobs.published": &p.published,
		"eventbus.jobs.completed": &p.completed,
		"eventbus.jobs.retried":   &p.retried,
		"eventbus.jobs.failed":    &p.failed,
	} {
		c, err := meter.Int64Counter(name)
		if err != nil {
			return nil, errors.Wrapf(err, "create counter %s", name)
		}
		*dst = c
	}
	return p, nil
}

// Subscribe registers h for kind, replacing any previous handler.
func (p *Processor) Subscribe(kind event.Kind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Published records an enqueued job.
func (p *Processor) Published(ctx context.Context, j Job) {
	p.published.Add(ctx, 1, metric.WithAttributes(attribute.String("job.name", j.Name)))
}

// Process runs one attempt of j, updating its attempt count, error and
// finish time. For Retry the returned duration is the backoff delay.
func (p *Processor) Process(ctx context.Context, j *Job) (Outcome, time.Duration) {
	j.Attempts++
	attrs := metric.WithAttributes(attribute.String("job.name", j.Name))
	lg := zctx.From(ctx).With(
		zap.String("job_id", j.ID),
		zap.String("job_name", j.Name),
		zap.Int("attempt", j.Attempts),
	)

	ctx, span := p.tracer.Start(ctx, "eventbus.process "+j.Name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", j.ID),
			attribute.Int("job.attempt", j.Attempts),
		),
	)
	defer span.End()

	err := p.dispatch(ctx, j)
	if err == nil {
		j.FinishedAt = p.Now()
		j.LastError = ""
		p.completed.Add(ctx, 1, attrs)
		lg.Debug("Job completed")
		return Completed, 0
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	j.LastError = err.Error()

	if p.Policy.Exhausted(j.Attempts) {
		j.FinishedAt = p.Now()
		p.failed.Add(ctx, 1, attrs)
		lg.Error("Job failed", zap.Error(err))
		return Failed, 0
	}

	delay := p.Policy.Delay(j.Attempts)
	p.retried.Add(ctx, 1, attrs)
	lg.Warn("Job attempt failed, retrying", zap.Error(err), zap.Duration("delay", delay))
	return Retry, delay
}

func (p *Processor) dispatch(ctx context.Context, j *Job) (err error) {
	p.mu.RLock()
	h, ok := p.handlers[j.Envelope.Kind]
	p.mu.RUnlock()
	if !ok {
		return errors.Errorf("no handler for %q", j.Envelope.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, j.Envelope)
}
