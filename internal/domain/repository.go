package domain

import (
	"context"
	"time"
)

// HistoricalDataReader fetches raw telemetry for a device over a time range.
// This follows the Dependency Inversion Principle - domain defines the interface
type HistoricalDataReader interface {
	// FetchHistory retrieves the series for the requested keys within [start, end].
	FetchHistory(ctx context.Context, deviceID string, keys []DataKey, start, end time.Time) (HistoricalDataSet, error)
}

// TelemetryWriter persists incoming telemetry samples.
type TelemetryWriter interface {
	InsertMeasurement(ctx context.Context, deviceID string, key DataKey, m HistoricalMeasurement) error
}

// TimeslotReader exposes the external scheduler's upcoming targets.
type TimeslotReader interface {
	// GetNextTimeslot returns the next scheduled timeslot, or nil when none applies.
	GetNextTimeslot(ctx context.Context, deviceID string) (*ScheduledTimeslot, error)

	// IsSchedulerEnabled reports whether the given scheduler source is active.
	IsSchedulerEnabled(ctx context.Context, sourceID string) (bool, error)
}

// EnvironmentReader exposes the current sensor snapshot for a device.
type EnvironmentReader interface {
	// GetCurrentEnvironment returns the latest environment state, or nil when
	// no indoor temperature reading exists.
	GetCurrentEnvironment(ctx context.Context, deviceID string) (*EnvironmentState, error)

	// GetCurrentSlope returns the live heating slope reported by the device,
	// or nil when unavailable.
	GetCurrentSlope(ctx context.Context, deviceID string) (*float64, error)

	// IsHeatingActive reports whether the device is currently producing heat.
	IsHeatingActive(ctx context.Context, deviceID string) (bool, error)
}

// DefaultLearnedSlope is the conservative heating rate in °C/h assumed until
// real cycles have been learned.
const DefaultLearnedSlope = 2.0

// SlopeStore persists the learned-slope history and its aggregate.
type SlopeStore interface {
	// SaveSlope appends a slope sample and returns the capped history.
	SaveSlope(ctx context.Context, deviceID string, slope float64) ([]float64, error)

	// GetSlopeHistory returns the persisted slope samples, oldest first.
	GetSlopeHistory(ctx context.Context, deviceID string) ([]float64, error)

	// GetLearnedSlope returns the stored aggregate slope, or the conservative
	// default when nothing has been learned yet.
	GetLearnedSlope(ctx context.Context, deviceID string) (float64, error)

	// SetLearnedSlope stores the recomputed aggregate slope.
	SetLearnedSlope(ctx context.Context, deviceID string, slope float64) error

	// ClearHistory resets the learning state to its defaults.
	ClearHistory(ctx context.Context, deviceID string) error
}

// CycleCache persists extracted heating cycles so each tick only scans the
// history added since the previous search.
type CycleCache interface {
	// GetCachedCycles returns the cache snapshot, or nil when empty.
	GetCachedCycles(ctx context.Context, deviceID string) (*CachedCycles, error)

	// AppendCycles adds newly extracted cycles, deduplicating on
	// (start_time, device_id), and records the search end time.
	AppendCycles(ctx context.Context, deviceID string, cycles []HeatingCycle, searchEnd time.Time) error

	// PruneCycles drops cycles older than the retention window measured back
	// from reference.
	PruneCycles(ctx context.Context, deviceID string, reference time.Time) error

	// ClearCycles empties the cache for the device.
	ClearCycles(ctx context.Context, deviceID string) error
}

// SchedulerCommander issues outbound commands to the external scheduler.
type SchedulerCommander interface {
	// RunAction asks the scheduler to apply the action of the timeslot due at
	// targetTime ahead of schedule.
	RunAction(ctx context.Context, targetTime time.Time, sourceID string) error

	// CancelAction reverts a previously triggered action.
	CancelAction(ctx context.Context, sourceID string) error
}
