package domain

import (
	"fmt"
	"time"
)

// PredictionResult says when heating should start so the target temperature is
// reached at the scheduled time.
type PredictionResult struct {
	AnticipatedStartTime     time.Time `json:"anticipated_start_time"`
	EstimatedDurationMinutes float64   `json:"estimated_duration_minutes"`
	ConfidenceLevel          float64   `json:"confidence_level"`
	LearnedHeatingSlope      float64   `json:"learned_heating_slope"`
}

// NewPredictionResult validates the invariants: non-negative duration,
// confidence in [0,1], and a positive slope whenever confidence is positive.
func NewPredictionResult(start time.Time, durationMinutes, confidence, slope float64) (PredictionResult, error) {
	if durationMinutes < 0 {
		return PredictionResult{}, &InvalidRangeError{Field: "estimated_duration_minutes", Reason: fmt.Sprintf("must be non-negative, got %.2f", durationMinutes)}
	}
	if confidence < 0 || confidence > 1 {
		return PredictionResult{}, &InvalidRangeError{Field: "confidence_level", Reason: fmt.Sprintf("must be in [0,1], got %.2f", confidence)}
	}
	if slope <= 0 && confidence > 0 {
		return PredictionResult{}, &InvalidRangeError{Field: "learned_heating_slope", Reason: fmt.Sprintf("must be positive when confidence > 0, got %.2f", slope)}
	}
	return PredictionResult{
		AnticipatedStartTime:     start,
		EstimatedDurationMinutes: durationMinutes,
		ConfidenceLevel:          confidence,
		LearnedHeatingSlope:      slope,
	}, nil
}
