// Package metrics holds the Prometheus instruments for the FormGuru server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/squatguru/formguru/internal/analysis"
)

// Analysis result labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Manager groups the server's instruments. A nil *Manager is valid and
// records nothing.
type Manager struct {
	// counters
	CounterRequests       *prometheus.CounterVec
	CounterVideosUploaded prometheus.Counter
	CounterUploadBytes    prometheus.Counter
	CounterAnalyses       *prometheus.CounterVec
	CounterReps           prometheus.Counter
	CounterFrames         *prometheus.CounterVec

	// gauges
	GaugeRequests prometheus.Gauge

	// histograms
	HistRequestDuration  prometheus.Histogram
	HistAnalysisDuration *prometheus.HistogramVec
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("formguru", "test", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	return &Manager{
		CounterRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "The total number of incoming requests",
		}, []string{"method", "status"}),
		CounterVideosUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "videos_uploaded_total",
			Help:      "The total number of uploaded videos",
		}),
		CounterUploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upload_bytes_total",
			Help:      "The total size of uploaded videos in bytes",
		}),
		CounterAnalyses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "analyses_total",
			Help:      "Analyses run, by source (video or stream) and result",
		}, []string{"source", "result"}),
		CounterReps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reps_counted_total",
			Help:      "The total number of squat reps counted",
		}),
		CounterFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_total",
			Help:      "Frames analyzed, by whether a pose was detected",
		}, []string{"pose"}),
		GaugeRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_requests",
			Help:      "Current number of requests served",
		}),
		HistRequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Total duration of requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		HistAnalysisDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "analysis_duration_seconds",
			Help:      "Duration of a single analysis in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"source"}),
	}
}

// ObserveUpload records one stored upload.
func (m *Manager) ObserveUpload(size int64) {
	if m == nil {
		return
	}
	m.CounterVideosUploaded.Inc()
	m.CounterUploadBytes.Add(float64(size))
}

// ObserveAnalysis records one analysis run. report may be nil when the run
// failed before any frame was read.
func (m *Manager) ObserveAnalysis(source string, report *analysis.Report, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.CounterAnalyses.WithLabelValues(source, result).Inc()
	m.HistAnalysisDuration.WithLabelValues(source).Observe(d.Seconds())
	if report == nil {
		return
	}
	m.CounterReps.Add(float64(report.Reps))
	m.CounterFrames.WithLabelValues("detected").Add(float64(report.FramesWithPose))
	m.CounterFrames.WithLabelValues("missing").Add(float64(report.Frames - report.FramesWithPose))
}
