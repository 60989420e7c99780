package service

import (
	"log"
	"time"

	"github.com/heatpilot/backend/internal/domain"
	"github.com/heatpilot/backend/pkg/utils"
)

const (
	// predictionBufferMinutes pads every estimate to absorb sensor lag.
	predictionBufferMinutes = 5.0

	minPredictedMinutes = 10.0
	maxPredictedMinutes = 360.0
)

// PredictionService converts a learned heating slope into an anticipated
// start time for a scheduled target, corrected for current environmental
// conditions.
type PredictionService struct{}

func NewPredictionService() *PredictionService {
	return &PredictionService{}
}

// PredictStartTime estimates when heating must begin so currentTemp reaches
// timeslot.TargetTemp by timeslot.TargetTime.
//
// A non-positive slope yields a zero-duration, zero-confidence result; an
// already-satisfied target yields zero duration at full confidence. Both are
// anchored at the target time.
func (s *PredictionService) PredictStartTime(
	timeslot domain.ScheduledTimeslot,
	currentTemp float64,
	learnedSlope float64,
	env *domain.EnvironmentState,
) (domain.PredictionResult, error) {
	if learnedSlope <= 0 {
		return domain.NewPredictionResult(timeslot.TargetTime, 0, 0, learnedSlope)
	}
	tempDelta := timeslot.TargetTemp - currentTemp
	if tempDelta <= 0 {
		return domain.NewPredictionResult(timeslot.TargetTime, 0, 1.0, learnedSlope)
	}

	baseMinutes := tempDelta / learnedSlope * 60.0
	factor := environmentalFactor(env)
	minutes := utils.Clamp(baseMinutes*factor+predictionBufferMinutes, minPredictedMinutes, maxPredictedMinutes)

	startTime := timeslot.TargetTime.Add(-time.Duration(minutes * float64(time.Minute)))
	confidence := confidenceLevel(learnedSlope, env)

	log.Printf("predicted %.1f min of heating for timeslot %s (slope %.2f, factor %.3f)",
		minutes, timeslot.TimeslotID, learnedSlope, factor)

	return domain.NewPredictionResult(startTime, minutes, confidence, learnedSlope)
}

// environmentalFactor is the multiplicative duration correction from outdoor
// temperature, outdoor humidity, and cloud coverage. 1.0 when no environment
// data is available; each component applies only when its input is present.
func environmentalFactor(env *domain.EnvironmentState) float64 {
	if env == nil {
		return 1.0
	}
	factor := 1.0
	if env.OutdoorTemperature != nil {
		// Colder outside slows effective heating; below 20°C the duration
		// grows, and warm weather never shrinks it under half.
		f := 1.0 + (20.0-*env.OutdoorTemperature)*0.05
		if f < 0.5 {
			f = 0.5
		}
		factor *= f
	}
	if env.OutdoorHumidity != nil {
		factor *= utils.Clamp(1.0+(*env.OutdoorHumidity-50.0)*0.002, 0.8, 1.2)
	}
	if env.CloudCoverage != nil {
		// Clear skies admit solar gain, so less heating is needed.
		factor *= utils.Clamp(1.0-(100.0-*env.CloudCoverage)*0.001, 0.8, 1.0)
	}
	return factor
}

// confidenceLevel grades the prediction on slope magnitude, with a small
// bonus per available environmental signal. Capped at 1.0.
func confidenceLevel(slope float64, env *domain.EnvironmentState) float64 {
	var base float64
	switch {
	case slope > 1.5:
		base = 0.9
	case slope > 0.5:
		base = 0.75
	default:
		base = 0.6
	}
	if env != nil {
		if env.OutdoorTemperature != nil {
			base += 0.05
		}
		if env.OutdoorHumidity != nil {
			base += 0.05
		}
	}
	if base > 1.0 {
		base = 1.0
	}
	return base
}
