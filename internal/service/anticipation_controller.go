package service

import (
	"context"
	"log"
	"time"

	"github.com/heatpilot/backend/internal/domain"
	"github.com/heatpilot/backend/pkg/utils"
)

// overshootMarginCelsius is how far above the target the projected
// temperature may land before an active preheat is aborted.
const overshootMarginCelsius = 0.5

// TickInput is everything one controller evaluation needs, gathered by the
// caller beforehand so the tick itself stays pure apart from outbound
// commands.
type TickInput struct {
	Now              time.Time
	Timeslot         *domain.ScheduledTimeslot
	SchedulerEnabled bool
	CurrentTemp      float64
	LearnedSlope     float64
	Environment      *domain.EnvironmentState
}

// AnticipationController decides, tick by tick, whether to start or cancel
// preheating for a device. It holds no state of its own: callers pass the
// previous ControllerState in and persist the one that comes back. Commands
// go out through the SchedulerCommander; when a command fails the previous
// state is returned unchanged so the next tick retries the same decision.
type AnticipationController struct {
	predictor *PredictionService
	commander domain.SchedulerCommander
}

func NewAnticipationController(predictor *PredictionService, commander domain.SchedulerCommander) *AnticipationController {
	return &AnticipationController{predictor: predictor, commander: commander}
}

// TickResult is what a single controller evaluation produced. Data is nil
// when there is nothing to report (scheduler disabled, no timeslot, or a
// completed preheat). CommandSent is true only when the tick actually issued
// an outbound run or cancel command, so callers do not have to infer it from
// state transitions.
type TickResult struct {
	Data        *domain.AnticipationData
	CommandSent bool
}

// Tick re-evaluates the device from its current state.
func (c *AnticipationController) Tick(ctx context.Context, state domain.ControllerState, in TickInput) (domain.ControllerState, TickResult, error) {
	if !in.SchedulerEnabled {
		return domain.IdleControllerState(), TickResult{}, nil
	}

	if in.Timeslot == nil {
		if state.Phase != domain.PhaseIdle {
			log.Printf("no upcoming timeslot, resetting controller to idle")
		}
		return domain.IdleControllerState(), TickResult{}, nil
	}
	slot := *in.Timeslot

	if in.CurrentTemp >= slot.TargetTemp {
		next := state
		next.Phase = domain.PhaseScheduled
		next.PreheatingTargetTime = nil
		next.ActiveSchedulerSource = slot.SchedulerSourceID
		return next, TickResult{Data: zeroAnticipation(slot, in.CurrentTemp, in.LearnedSlope)}, nil
	}

	prediction, err := c.predictor.PredictStartTime(slot, in.CurrentTemp, in.LearnedSlope, in.Environment)
	if err != nil {
		return state, TickResult{}, err
	}
	data := anticipationData(prediction, slot, in.CurrentTemp)

	if state.IsPreheating() {
		return c.tickPreheating(ctx, state, in, slot, prediction, data)
	}

	switch {
	case !prediction.AnticipatedStartTime.After(in.Now) && in.Now.Before(slot.TargetTime):
		// Inside the anticipation window: start heating now.
		if err := c.commander.RunAction(ctx, slot.TargetTime, slot.SchedulerSourceID); err != nil {
			return state, TickResult{}, &domain.CommandFailure{Command: "run_action", Err: err}
		}
		log.Printf("preheating started for timeslot %s (target %s)", slot.TimeslotID, slot.TargetTime.Format(time.RFC3339))
		target := slot.TargetTime
		next := domain.ControllerState{
			Phase:                 domain.PhasePreheating,
			PreheatingTargetTime:  &target,
			LastScheduledTime:     &target,
			LastScheduledSlope:    &in.LearnedSlope,
			ActiveSchedulerSource: slot.SchedulerSourceID,
		}
		return next, TickResult{Data: data, CommandSent: true}, nil

	case !slot.TargetTime.After(in.Now):
		// Both the anticipated start and the target are behind us.
		return state, TickResult{Data: data}, nil

	default:
		target := slot.TargetTime
		next := domain.ControllerState{
			Phase:                 domain.PhaseScheduled,
			LastScheduledTime:     &target,
			LastScheduledSlope:    &in.LearnedSlope,
			ActiveSchedulerSource: slot.SchedulerSourceID,
		}
		return next, TickResult{Data: data}, nil
	}
}

// tickPreheating handles the revert, complete, and continue branches of an
// active preheat.
func (c *AnticipationController) tickPreheating(
	ctx context.Context,
	state domain.ControllerState,
	in TickInput,
	slot domain.ScheduledTimeslot,
	prediction domain.PredictionResult,
	data *domain.AnticipationData,
) (domain.ControllerState, TickResult, error) {
	sameTarget := state.PreheatingTargetTime != nil && state.PreheatingTargetTime.Equal(slot.TargetTime)

	// A better slope can push the anticipated start back past now, meaning
	// the preheat began too early. Cancel and wait for the window to reopen.
	if sameTarget && prediction.AnticipatedStartTime.After(in.Now) {
		if err := c.commander.CancelAction(ctx, slot.SchedulerSourceID); err != nil {
			return state, TickResult{}, &domain.CommandFailure{Command: "cancel_action", Err: err}
		}
		log.Printf("preheating reverted for timeslot %s, anticipated start moved to %s",
			slot.TimeslotID, prediction.AnticipatedStartTime.Format(time.RFC3339))
		target := slot.TargetTime
		next := domain.ControllerState{
			Phase:                 domain.PhaseScheduled,
			LastScheduledTime:     &target,
			LastScheduledSlope:    &in.LearnedSlope,
			ActiveSchedulerSource: slot.SchedulerSourceID,
		}
		return next, TickResult{Data: data, CommandSent: true}, nil
	}

	if state.PreheatingTargetTime != nil && !in.Now.Before(*state.PreheatingTargetTime) {
		log.Printf("preheating completed for %s", state.PreheatingTargetTime.Format(time.RFC3339))
		return domain.IdleControllerState(), TickResult{}, nil
	}

	// Still inside the window; nothing to change.
	return state, TickResult{Data: data}, nil
}

// CheckOvershoot projects the indoor temperature forward to the preheating
// target time and aborts the preheat when it would overshoot the target by
// more than the margin. No-op outside PREHEATING. Reports whether an abort
// happened.
func (c *AnticipationController) CheckOvershoot(
	ctx context.Context,
	state domain.ControllerState,
	now time.Time,
	indoorTemp, targetTemp, currentSlope float64,
) (domain.ControllerState, bool, error) {
	if !state.IsPreheating() || state.PreheatingTargetTime == nil {
		return state, false, nil
	}

	hoursToTarget := state.PreheatingTargetTime.Sub(now).Hours()
	if hoursToTarget < 0 {
		hoursToTarget = 0
	}
	estimated := indoorTemp + currentSlope*hoursToTarget
	if estimated < targetTemp+overshootMarginCelsius {
		return state, false, nil
	}

	if err := c.commander.CancelAction(ctx, state.ActiveSchedulerSource); err != nil {
		return state, false, &domain.CommandFailure{Command: "cancel_action", Err: err}
	}
	log.Printf("preheating aborted, projected %.1f°C overshoots target %.1f°C", estimated, targetTemp)
	return domain.IdleControllerState(), true, nil
}

func anticipationData(p domain.PredictionResult, slot domain.ScheduledTimeslot, currentTemp float64) *domain.AnticipationData {
	return &domain.AnticipationData{
		AnticipatedStartTime:  p.AnticipatedStartTime,
		NextScheduleTime:      slot.TargetTime,
		NextTargetTemperature: slot.TargetTemp,
		AnticipationMinutes:   utils.RoundTo(p.EstimatedDurationMinutes, 1),
		CurrentTemp:           currentTemp,
		LearnedHeatingSlope:   p.LearnedHeatingSlope,
		ConfidenceLevel:       p.ConfidenceLevel,
		SchedulerSourceID:     slot.SchedulerSourceID,
		TimeslotID:            slot.TimeslotID,
	}
}

func zeroAnticipation(slot domain.ScheduledTimeslot, currentTemp, slope float64) *domain.AnticipationData {
	return &domain.AnticipationData{
		AnticipatedStartTime:  slot.TargetTime,
		NextScheduleTime:      slot.TargetTime,
		NextTargetTemperature: slot.TargetTemp,
		CurrentTemp:           currentTemp,
		LearnedHeatingSlope:   slope,
		ConfidenceLevel:       1.0,
		SchedulerSourceID:     slot.SchedulerSourceID,
		TimeslotID:            slot.TimeslotID,
	}
}
