package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "servalliance"

// Camera loop states exported by the camera_state gauge.
const (
	StateInit       = 0
	StateOpen       = 1
	StateReadFailed = 2
)

// Metrics holds the pipeline collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	framesRead       *prometheus.CounterVec
	readFailures     *prometheus.CounterVec
	framesEmitted    *prometheus.CounterVec
	subscriberDrops  *prometheus.CounterVec
	inferenceErrors  prometheus.Counter
	annotateErrors   prometheus.Counter
	encodeErrors     *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	clipJobsDropped  *prometheus.CounterVec
	alertsDropped    *prometheus.CounterVec
	clipFailures     prometheus.Counter
	sinkFailures     prometheus.Counter
	inferenceSeconds prometheus.Histogram
	clipSeconds      prometheus.Histogram
	cameraState      *prometheus.GaugeVec
	subscribers      *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		framesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_read_total",
			Help:      "Frames read from capture sources.",
		}, []string{"camera"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failures_total",
			Help:      "Failed frame reads.",
		}, []string{"camera"}),
		framesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_emitted_total",
			Help:      "Encoded frames yielded by streaming loops.",
		}, []string{"camera"}),
		subscriberDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Frames not delivered to a slow viewer.",
		}, []string{"camera"}),
		inferenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_errors_total",
			Help:      "Inference calls that fell back to zero detections.",
		}),
		annotateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotate_errors_total",
			Help:      "Annotations that fell back to the raw frame.",
		}),
		encodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encode_errors_total",
			Help:      "Frames skipped because encoding failed.",
		}, []string{"camera"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert events delivered to the sink.",
		}, []string{"camera", "threat"}),
		clipJobsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clip_jobs_dropped_total",
			Help:      "Clip jobs rejected because the clip queue was full.",
		}, []string{"camera"}),
		alertsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Alerts lost because both delivery queues were full.",
		}, []string{"camera"}),
		clipFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clip_failures_total",
			Help:      "Clip writes that failed.",
		}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Alert sink invocations that returned an error or panicked.",
		}),
		inferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_seconds",
			Help:      "Model inference latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		clipSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clip_write_seconds",
			Help:      "Time spent encoding one alert clip.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 8),
		}),
		cameraState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "camera_state",
			Help:      "Streaming loop state: 0 init, 1 open, 2 read failed.",
		}, []string{"camera"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "camera_subscribers",
			Help:      "Viewers attached to a camera.",
		}, []string{"camera"}),
	}

	m.registry.MustRegister(
		m.framesRead, m.readFailures, m.framesEmitted, m.subscriberDrops,
		m.inferenceErrors, m.annotateErrors, m.encodeErrors,
		m.alerts, m.clipJobsDropped, m.alertsDropped, m.clipFailures, m.sinkFailures,
		m.inferenceSeconds, m.clipSeconds, m.cameraState, m.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameRead(camera string) {
	if m != nil {
		m.framesRead.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) ReadFailed(camera string) {
	if m != nil {
		m.readFailures.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) FrameEmitted(camera string) {
	if m != nil {
		m.framesEmitted.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) SubscriberDropped(camera string) {
	if m != nil {
		m.subscriberDrops.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) InferenceFailed() {
	if m != nil {
		m.inferenceErrors.Inc()
	}
}

func (m *Metrics) AnnotateFailed() {
	if m != nil {
		m.annotateErrors.Inc()
	}
}

func (m *Metrics) EncodeFailed(camera string) {
	if m != nil {
		m.encodeErrors.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) AlertDelivered(camera, threat string) {
	if m != nil {
		m.alerts.WithLabelValues(camera, threat).Inc()
	}
}

func (m *Metrics) ClipJobDropped(camera string) {
	if m != nil {
		m.clipJobsDropped.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) AlertDropped(camera string) {
	if m != nil {
		m.alertsDropped.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) ClipFailed() {
	if m != nil {
		m.clipFailures.Inc()
	}
}

func (m *Metrics) SinkFailed() {
	if m != nil {
		m.sinkFailures.Inc()
	}
}

func (m *Metrics) ObserveInference(d time.Duration) {
	if m != nil {
		m.inferenceSeconds.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveClip(d time.Duration) {
	if m != nil {
		m.clipSeconds.Observe(d.Seconds())
	}
}

// SetCameraState records the loop state of a camera (StateInit, StateOpen,
// StateReadFailed).
func (m *Metrics) SetCameraState(camera string, state int) {
	if m != nil {
		m.cameraState.WithLabelValues(camera).Set(float64(state))
	}
}

func (m *Metrics) SetSubscribers(camera string, n int) {
	if m != nil {
		m.subscribers.WithLabelValues(camera).Set(float64(n))
	}
}

// ForgetCamera removes the per-camera series of a stopped camera.
func (m *Metrics) ForgetCamera(camera string) {
	if m == nil {
		return
	}
	m.cameraState.DeleteLabelValues(camera)
	m.subscribers.DeleteLabelValues(camera)
}
