package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idt_images_total",
		Help: "Images handled by the describe step, by provider and outcome",
	}, []string{"provider", "outcome"})

	DescribeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "idt_describe_duration_seconds",
		Help:    "Duration of a single provider description call",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
	}, []string{"provider"})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "idt_step_duration_seconds",
		Help:    "Duration of workflow steps",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"step"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idt_frames_extracted_total",
		Help: "Total number of frames extracted from videos",
	})

	ImagesConvertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idt_images_converted_total",
		Help: "Total number of HEIC images converted to JPEG",
	})
)

// Describe step outcomes.
const (
	OutcomeDescribed = "described"
	OutcomeCached    = "cached"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)
