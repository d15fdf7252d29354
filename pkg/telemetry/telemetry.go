// Package telemetry wraps every view lifecycle callback with paired
// start/stop or start/exception events.
//
// Events carry a fixed metadata shape (view socket identity, callback
// payload) and a measurement: the system time at start, the duration at
// stop. Emission is always paired; a start without a matching stop or
// exception is a bug in the emitter, not the view.
//
// Backends: an OpenTelemetry span per callback (from the global tracer
// provider), Prometheus counters and histograms, slog debug lines, and
// an in-process handler hook so tests can assert the contract without
// wiring an SDK.
package telemetry

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Callback names the lifecycle callback being instrumented.
type Callback string

const (
	CallbackMount  Callback = "mount"
	CallbackParams Callback = "handle_params"
	CallbackEvent  Callback = "handle_event"
	CallbackInfo   Callback = "handle_info"
	CallbackCall   Callback = "handle_call"
)

// EventKind is the emission phase.
type EventKind int

const (
	// KindStart is emitted before the callback runs.
	KindStart EventKind = iota

	// KindStop is emitted after a normal return.
	KindStop

	// KindException is emitted for an uncaught failure, after which the
	// failure propagates so the owning process terminates with it.
	KindException
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindException:
		return "exception"
	default:
		return "unknown"
	}
}

// Metadata is the fixed metadata schema carried by every event. TransportID
// is present iff the socket is connected. Params and Event are set per
// callback kind (params for handle_params, event+params for handle_event,
// nothing extra for mount).
type Metadata struct {
	ViewID      string
	Module      string
	Connected   bool
	TransportID string
	URI         string
	Event       string
	Params      map[string]string
}

// Event is one telemetry emission.
type Event struct {
	Callback Callback
	Kind     EventKind

	// SystemTime is the measurement for start events.
	SystemTime time.Time

	// Duration is the measurement for stop and exception events.
	Duration time.Duration

	// PanicKind and Reason describe the failure for exception events.
	PanicKind string
	Reason    any

	Metadata Metadata
}

// Handler receives every emitted event. Handlers run synchronously on
// the emitting goroutine and must be fast.
type Handler func(Event)

// Config configures an Emitter.
type Config struct {
	// TracerName is the OpenTelemetry tracer name (default: "vivid").
	TracerName string

	// Namespace is the Prometheus metrics namespace (default: "vivid").
	Namespace string

	// Registry is the Prometheus registry (default: prometheus.DefaultRegisterer).
	Registry prometheus.Registerer

	// Logger receives debug lines for every emission.
	Logger *slog.Logger
}

// DefaultConfig returns the default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		TracerName: "vivid",
		Namespace:  "vivid",
		Registry:   prometheus.DefaultRegisterer,
	}
}

// Emitter instruments lifecycle callbacks. A nil Emitter is valid and
// emits nothing.
type Emitter struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics *callbackMetrics

	mu       sync.RWMutex
	handlers []Handler
}

type callbackMetrics struct {
	callbacksTotal   *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec
	callbackPanics   *prometheus.CounterVec
}

// NewEmitter creates an Emitter from config.
func NewEmitter(cfg Config) *Emitter {
	if cfg.TracerName == "" {
		cfg.TracerName = "vivid"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "vivid"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	factory := promauto.With(cfg.Registry)

	return &Emitter{
		tracer: otel.Tracer(cfg.TracerName),
		logger: cfg.Logger.With("component", "telemetry"),
		metrics: &callbackMetrics{
			callbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "callbacks_total",
				Help:      "Total number of view lifecycle callbacks executed",
			}, []string{"callback", "status"}),

			callbackDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "callback_duration_seconds",
				Help:      "View lifecycle callback duration in seconds",
				Buckets:   prometheus.DefBuckets,
			}, []string{"callback"}),

			callbackPanics: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "callback_panics_total",
				Help:      "Total number of panics raised inside view callbacks",
			}, []string{"callback"}),
		},
	}
}

// OnEvent registers a handler for every emitted event.
func (e *Emitter) OnEvent(h Handler) {
	if e == nil || h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Wrap executes fn surrounded by the start/stop/exception contract for
// the given callback. A panic inside fn is reported as an exception
// event and then re-raised so the owning process terminates with it.
func (e *Emitter) Wrap(ctx context.Context, cb Callback, md Metadata, fn func()) {
	if e == nil {
		fn()
		return
	}

	start := time.Now()

	_, span := e.tracer.Start(ctx, "vivid."+string(cb),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(start),
		trace.WithAttributes(e.attributes(md)...),
	)

	e.emit(Event{
		Callback:   cb,
		Kind:       KindStart,
		SystemTime: start,
		Metadata:   md,
	})

	defer func() {
		duration := time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()

			e.emit(Event{
				Callback:  cb,
				Kind:      KindException,
				Duration:  duration,
				PanicKind: "panic",
				Reason:    r,
				Metadata:  md,
			})

			e.metrics.callbacksTotal.WithLabelValues(string(cb), "exception").Inc()
			e.metrics.callbackPanics.WithLabelValues(string(cb)).Inc()

			span.SetStatus(codes.Error, "callback panicked")
			span.AddEvent("exception")
			span.End()

			e.logger.Error("callback exception",
				"callback", string(cb),
				"view_id", md.ViewID,
				"panic", r,
				"stack", string(stack))

			panic(r)
		}

		e.emit(Event{
			Callback: cb,
			Kind:     KindStop,
			Duration: duration,
			Metadata: md,
		})

		e.metrics.callbacksTotal.WithLabelValues(string(cb), "ok").Inc()
		e.metrics.callbackDuration.WithLabelValues(string(cb)).Observe(duration.Seconds())

		span.SetStatus(codes.Ok, "")
		span.End()

		e.logger.Debug("callback complete",
			"callback", string(cb),
			"view_id", md.ViewID,
			"duration", duration)
	}()

	fn()
}

// emit delivers an event to all registered handlers.
func (e *Emitter) emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// attributes builds the span attribute set from metadata.
func (e *Emitter) attributes(md Metadata) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("vivid.view_id", md.ViewID),
		attribute.String("vivid.module", md.Module),
		attribute.Bool("vivid.connected", md.Connected),
	}
	if md.TransportID != "" {
		attrs = append(attrs, attribute.String("vivid.transport_id", md.TransportID))
	}
	if md.URI != "" {
		attrs = append(attrs, attribute.String("vivid.uri", md.URI))
	}
	if md.Event != "" {
		attrs = append(attrs, attribute.String("vivid.event", md.Event))
	}
	return attrs
}
