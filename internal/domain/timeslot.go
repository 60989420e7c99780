package domain

import "time"

// ScheduledTimeslot is a future point in time at which a target temperature
// should be reached, sourced from an external scheduler.
type ScheduledTimeslot struct {
	TargetTime        time.Time `json:"target_time"`
	TargetTemp        float64   `json:"target_temp"`
	TimeslotID        string    `json:"timeslot_id"`
	SchedulerSourceID string    `json:"scheduler_source_id"`
}

// NewScheduledTimeslot validates the timeslot identifier before construction.
func NewScheduledTimeslot(targetTime time.Time, targetTemp float64, timeslotID, sourceID string) (ScheduledTimeslot, error) {
	if timeslotID == "" {
		return ScheduledTimeslot{}, &InvalidRangeError{Field: "timeslot_id", Reason: "must not be empty"}
	}
	return ScheduledTimeslot{
		TargetTime:        targetTime,
		TargetTemp:        targetTemp,
		TimeslotID:        timeslotID,
		SchedulerSourceID: sourceID,
	}, nil
}
