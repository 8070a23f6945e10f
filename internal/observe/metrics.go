// Package observe provides the observability primitives for Parley:
// OpenTelemetry metrics exported through Prometheus, tracing helpers, and
// HTTP middleware that ties them together.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution. Every Record method
// is safe to call on a nil *Metrics.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all Parley metrics.
const meterName = "github.com/MrWong99/parley"

// Stage names used as the "stage" attribute on stage histograms.
const (
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
	StagePlayback   = "playback"
)

// Turn outcomes used as the "outcome" attribute on [Metrics.Turns].
const (
	OutcomeReplied    = "replied"
	OutcomeNoSpeech   = "no_speech"
	OutcomeSTTFailed  = "stt_failed"
	OutcomeExhausted  = "backends_exhausted"
	OutcomeTextOnly   = "text_only"
	OutcomeCancelled  = "cancelled"
	OutcomePlayFailed = "playback_failed"
	OutcomeFailed     = "failed"
	OutcomeCommand    = "command"
)

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// StageDuration tracks per-stage latency, attribute "stage".
	StageDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end latency from end of speech to the reply
	// finishing playback.
	TurnDuration metric.Float64Histogram

	// Turns counts processed turns, attribute "outcome".
	Turns metric.Int64Counter

	// ProviderRequests counts provider calls, attributes "provider", "kind"
	// and "status".
	ProviderRequests metric.Int64Counter

	// BackendFailovers counts sticky failovers, attributes "from" and "to".
	BackendFailovers metric.Int64Counter

	// QueueDrops counts turns dropped from a full participant queue.
	QueueDrops metric.Int64Counter

	// ActiveParticipants tracks participants with a live listen task.
	ActiveParticipants metric.Int64UpDownCounter

	// PlaybackQueueDepth is the number of clips waiting for the speaker.
	PlaybackQueueDepth metric.Int64Gauge

	// HTTPRequestDuration tracks ops-server request latency, attributes
	// "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, tuned for voice
// pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("parley.stage.duration",
		metric.WithDescription("Latency of one pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("parley.turn.duration",
		metric.WithDescription("End-to-end latency of a replied turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("parley.turns",
		metric.WithDescription("Processed turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Provider requests by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendFailovers, err = m.Int64Counter("parley.generation.failovers",
		metric.WithDescription("Generation backend failovers."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("parley.turn.queue_drops",
		metric.WithDescription("Turns dropped because a participant queue was full."),
	); err != nil {
		return nil, err
	}

	if met.ActiveParticipants, err = m.Int64UpDownCounter("parley.active_participants",
		metric.WithDescription("Participants with a live listen task."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64Gauge("parley.playback.queue_depth",
		metric.WithDescription("Clips waiting for playback."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("stage", stage)))
}

// RecordTurn counts a turn outcome. d is recorded on TurnDuration only for
// replied turns.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	if outcome == OutcomeReplied {
		m.TurnDuration.Record(ctx, d.Seconds())
	}
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			Attr("provider", provider),
			Attr("kind", kind),
			Attr("status", status),
		),
	)
}

// RecordFailover counts a sticky failover from one backend to another.
func (m *Metrics) RecordFailover(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.BackendFailovers.Add(ctx, 1, metric.WithAttributes(Attr("from", from), Attr("to", to)))
}

// RecordQueueDrop counts a dropped turn.
func (m *Metrics) RecordQueueDrop(ctx context.Context) {
	if m == nil {
		return
	}
	m.QueueDrops.Add(ctx, 1)
}

// ParticipantJoined and ParticipantLeft move the active participant gauge.
func (m *Metrics) ParticipantJoined(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveParticipants.Add(ctx, 1)
}

func (m *Metrics) ParticipantLeft(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveParticipants.Add(ctx, -1)
}

// RecordPlaybackDepth sets the playback queue gauge.
func (m *Metrics) RecordPlaybackDepth(ctx context.Context, depth int) {
	if m == nil {
		return
	}
	m.PlaybackQueueDepth.Record(ctx, int64(depth))
}
