package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nsfwscan_analyses_total",
		Help: "Total number of uploads analyzed, by media type and outcome",
	}, []string{"type", "outcome"})

	VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nsfwscan_video_verdicts_total",
		Help: "Total number of video verdicts, by verdict",
	}, []string{"verdict"})

	FramesAnalyzedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nsfwscan_frames_analyzed_total",
		Help: "Total number of sampled video frames classified",
	})

	FramesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nsfwscan_frames_skipped_total",
		Help: "Total number of sampled video frames that failed classification",
	})

	ClassificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nsfwscan_classification_duration_seconds",
		Help:    "Duration of a single classifier call",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nsfwscan_analysis_duration_seconds",
		Help:    "Duration of a full upload analysis, by media type",
		Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"type"})
)
