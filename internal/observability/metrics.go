package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gai",
		Name:      "analyses_finished_total",
		Help:      "Total number of photo analyses that reached a terminal status",
	}, []string{"status"})

	AnalysisFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gai",
		Name:      "analysis_failures_total",
		Help:      "Failed photo analyses by error code",
	}, []string{"code"})

	StalledRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gai",
		Name:      "stalled_recovered_total",
		Help:      "Analyses returned from PROCESSING to PENDING by stall recovery",
	})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gai",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected in analyzed photos",
	})

	FacesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gai",
		Name:      "faces_indexed_total",
		Help:      "Total number of faces added to a face collection",
	})

	ClustersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gai",
		Name:      "person_clusters_created_total",
		Help:      "Total number of person clusters created",
	})

	ExternalCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gai",
		Name:      "external_call_duration_seconds",
		Help:      "Duration of external calls made while analyzing a photo",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"stage"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gai",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ONNX inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gai",
		Name:      "queue_depth",
		Help:      "Number of pending analysis tasks in queue",
	})

	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gai",
		Name:      "search_requests_total",
		Help:      "Gallery searches by resolved mode",
	}, []string{"mode"})

	PersonLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gai",
		Name:      "person_lookups_total",
		Help:      "FindPerson lookups by resolution method",
	}, []string{"method"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gai",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gai",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
