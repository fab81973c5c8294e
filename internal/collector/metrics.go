package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_api_calls_total",
		Help: "Log source fetch attempts.",
	}, []string{"network"})

	segmentSplits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_segment_splits_total",
		Help: "Segments split after a fetch failure.",
	}, []string{"network"})

	segmentRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_segment_retries_total",
		Help: "Minimal-span segment retries.",
	}, []string{"network"})

	segmentsAbandoned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_failed_segments_total",
		Help: "Segments abandoned after exhausting retries. Alarm on growth: these are recorded gaps.",
	}, []string{"network"})

	eventsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_events_decoded_total",
		Help: "Governance events decoded.",
	}, []string{"network"})

	// EventsDropped counts decoded events rejected at the feed merge,
	// typically for unparseable timestamps. Incremented by the pipeline.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govscope_events_dropped_total",
		Help: "Decoded events rejected before publication.",
	}, []string{"network"})
)
