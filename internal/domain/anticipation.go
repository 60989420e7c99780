package domain

import "time"

// ControllerPhase is the coarse state of the anticipation state machine.
type ControllerPhase string

const (
	PhaseIdle       ControllerPhase = "idle"
	PhaseScheduled  ControllerPhase = "scheduled"
	PhasePreheating ControllerPhase = "preheating"
)

// ControllerState is the per-device state the anticipation controller carries
// between ticks. It is a value: each tick takes the previous state and returns
// the next one, so the caller owns persistence and the machine stays pure.
type ControllerState struct {
	Phase                 ControllerPhase
	PreheatingTargetTime  *time.Time
	LastScheduledTime     *time.Time
	LastScheduledSlope    *float64
	ActiveSchedulerSource string
}

// IdleControllerState is the all-empty reset state.
func IdleControllerState() ControllerState {
	return ControllerState{Phase: PhaseIdle}
}

// IsPreheating reports whether a pre-heating run is currently active.
func (s ControllerState) IsPreheating() bool { return s.Phase == PhasePreheating }

// AnticipationData is the structured per-tick result exposed to the
// presentation layer. A nil value signals "clear": no timeslot applies.
type AnticipationData struct {
	AnticipatedStartTime  time.Time `json:"anticipated_start_time"`
	NextScheduleTime      time.Time `json:"next_schedule_time"`
	NextTargetTemperature float64   `json:"next_target_temperature"`
	AnticipationMinutes   float64   `json:"anticipation_minutes"`
	CurrentTemp           float64   `json:"current_temp"`
	LearnedHeatingSlope   float64   `json:"learned_heating_slope"`
	ConfidenceLevel       float64   `json:"confidence_level"`
	SchedulerSourceID     string    `json:"scheduler_source_id"`
	TimeslotID            string    `json:"timeslot_id"`
}
