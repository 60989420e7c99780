package postgres

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/heatpilot/backend/internal/domain"
)

// MockRepository implements the same domain storage interfaces as
// PostgresRepository, fully in memory, for demo mode and tests.
type MockRepository struct {
	mu            sync.Mutex
	retentionDays int

	telemetry map[string]map[domain.DataKey][]domain.HistoricalMeasurement
	timeslots map[string][]domain.ScheduledTimeslot
	sources   map[string]bool

	slopeHistory  map[string][]float64
	learnedSlopes map[string]float64

	cycles     map[string][]domain.HeatingCycle
	lastSearch map[string]time.Time
}

// NewMockRepository creates a new mock repository
func NewMockRepository(retentionDays int) *MockRepository {
	return &MockRepository{
		retentionDays: retentionDays,
		telemetry:     make(map[string]map[domain.DataKey][]domain.HistoricalMeasurement),
		timeslots:     make(map[string][]domain.ScheduledTimeslot),
		sources:       make(map[string]bool),
		slopeHistory:  make(map[string][]float64),
		learnedSlopes: make(map[string]float64),
		cycles:        make(map[string][]domain.HeatingCycle),
		lastSearch:    make(map[string]time.Time),
	}
}

// InsertMeasurement stores one telemetry sample in memory.
func (r *MockRepository) InsertMeasurement(ctx context.Context, deviceID string, key domain.DataKey, m domain.HistoricalMeasurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey, ok := r.telemetry[deviceID]
	if !ok {
		byKey = make(map[domain.DataKey][]domain.HistoricalMeasurement)
		r.telemetry[deviceID] = byKey
	}
	byKey[key] = append(byKey[key], m)
	return nil
}

// FetchHistory returns the in-memory series restricted to [start, end].
func (r *MockRepository) FetchHistory(ctx context.Context, deviceID string, keys []domain.DataKey, start, end time.Time) (domain.HistoricalDataSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dataset := domain.NewHistoricalDataSet()
	byKey := r.telemetry[deviceID]
	for _, key := range keys {
		for _, m := range byKey[key] {
			if m.Timestamp.Before(start) || m.Timestamp.After(end) {
				continue
			}
			dataset.Data[key] = append(dataset.Data[key], m)
		}
		sort.Slice(dataset.Data[key], func(i, j int) bool {
			return dataset.Data[key][i].Timestamp.Before(dataset.Data[key][j].Timestamp)
		})
	}
	return dataset, nil
}

// SetTimeslots replaces the upcoming timeslots for a device (test seeding).
func (r *MockRepository) SetTimeslots(deviceID string, slots []domain.ScheduledTimeslot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeslots[deviceID] = slots
}

// SetSchedulerEnabled toggles a scheduler source (test seeding).
func (r *MockRepository) SetSchedulerEnabled(sourceID string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[sourceID] = enabled
}

// GetNextTimeslot returns the earliest timeslot still in the future.
func (r *MockRepository) GetNextTimeslot(ctx context.Context, deviceID string) (*domain.ScheduledTimeslot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var next *domain.ScheduledTimeslot
	for i := range r.timeslots[deviceID] {
		slot := r.timeslots[deviceID][i]
		if !slot.TargetTime.After(now) {
			continue
		}
		if next == nil || slot.TargetTime.Before(next.TargetTime) {
			s := slot
			next = &s
		}
	}
	return next, nil
}

// IsSchedulerEnabled reports the toggled state; unknown sources are enabled.
func (r *MockRepository) IsSchedulerEnabled(ctx context.Context, sourceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	enabled, ok := r.sources[sourceID]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

// GetCurrentEnvironment assembles the snapshot from the latest samples.
func (r *MockRepository) GetCurrentEnvironment(ctx context.Context, deviceID string) (*domain.EnvironmentState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	indoor := r.latestNumeric(deviceID, domain.KeyIndoorTemp)
	if indoor == nil {
		return nil, nil
	}
	env := &domain.EnvironmentState{
		Timestamp:          indoor.Timestamp,
		IndoorTemperature:  indoor.Value.Number,
		IndoorHumidity:     r.latestNumber(deviceID, domain.KeyIndoorHumidity),
		OutdoorTemperature: r.latestNumber(deviceID, domain.KeyOutdoorTemp),
		OutdoorHumidity:    r.latestNumber(deviceID, domain.KeyOutdoorHumidity),
		CloudCoverage:      r.latestNumber(deviceID, domain.KeyCloudCoverage),
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// GetCurrentSlope returns the latest live slope sample, or nil.
func (r *MockRepository) GetCurrentSlope(ctx context.Context, deviceID string) (*float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestNumber(deviceID, domain.KeyHeatingSlope), nil
}

// IsHeatingActive checks the latest heating-state sample.
func (r *MockRepository) IsHeatingActive(ctx context.Context, deviceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	series := r.telemetry[deviceID][domain.KeyHeatingState]
	if len(series) == 0 {
		return false, nil
	}
	latest := series[0]
	for _, m := range series[1:] {
		if m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	if latest.Climate != nil {
		return latest.Climate.Action.IsHeating(), nil
	}
	return latest.Value.Truthy(), nil
}

func (r *MockRepository) latestNumeric(deviceID string, key domain.DataKey) *domain.HistoricalMeasurement {
	var latest *domain.HistoricalMeasurement
	for i := range r.telemetry[deviceID][key] {
		m := &r.telemetry[deviceID][key][i]
		if !m.Value.Numeric {
			continue
		}
		if latest == nil || m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	return latest
}

func (r *MockRepository) latestNumber(deviceID string, key domain.DataKey) *float64 {
	m := r.latestNumeric(deviceID, key)
	if m == nil {
		return nil
	}
	v := m.Value.Number
	return &v
}

// SaveSlope appends a sample and trims the history to the cap.
func (r *MockRepository) SaveSlope(ctx context.Context, deviceID string, slope float64) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := append(r.slopeHistory[deviceID], slope)
	if len(history) > slopeHistoryCap {
		history = history[len(history)-slopeHistoryCap:]
	}
	r.slopeHistory[deviceID] = history
	out := make([]float64, len(history))
	copy(out, history)
	return out, nil
}

// GetSlopeHistory returns a copy of the samples, oldest first.
func (r *MockRepository) GetSlopeHistory(ctx context.Context, deviceID string) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.slopeHistory[deviceID]))
	copy(out, r.slopeHistory[deviceID])
	return out, nil
}

// GetLearnedSlope returns the stored aggregate, or the conservative default.
func (r *MockRepository) GetLearnedSlope(ctx context.Context, deviceID string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slope, ok := r.learnedSlopes[deviceID]
	if !ok {
		return domain.DefaultLearnedSlope, nil
	}
	return slope, nil
}

// SetLearnedSlope stores the recomputed aggregate.
func (r *MockRepository) SetLearnedSlope(ctx context.Context, deviceID string, slope float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.learnedSlopes[deviceID] = slope
	return nil
}

// ClearHistory resets the learning state for the device.
func (r *MockRepository) ClearHistory(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slopeHistory, deviceID)
	delete(r.learnedSlopes, deviceID)
	return nil
}

// GetCachedCycles returns the cached snapshot, or nil before the first search.
func (r *MockRepository) GetCachedCycles(ctx context.Context, deviceID string) (*domain.CachedCycles, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastSearch[deviceID]
	if !ok {
		return nil, nil
	}
	cached := &domain.CachedCycles{
		DeviceID:       deviceID,
		LastSearchTime: last,
		RetentionDays:  r.retentionDays,
	}
	cached.Cycles = append(cached.Cycles, r.cycles[deviceID]...)
	return cached, nil
}

// AppendCycles adds cycles, deduplicating on start time, and records the
// search end time.
func (r *MockRepository) AppendCycles(ctx context.Context, deviceID string, cycles []domain.HeatingCycle, searchEnd time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.cycles[deviceID]
	seen := make(map[time.Time]bool, len(existing))
	for _, c := range existing {
		seen[c.StartTime] = true
	}
	for _, c := range cycles {
		if seen[c.StartTime] {
			continue
		}
		existing = append(existing, c)
		seen[c.StartTime] = true
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].StartTime.Before(existing[j].StartTime) })
	r.cycles[deviceID] = existing
	r.lastSearch[deviceID] = searchEnd
	return nil
}

// PruneCycles drops cycles older than the retention window.
func (r *MockRepository) PruneCycles(ctx context.Context, deviceID string, reference time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retentionDays <= 0 {
		return nil
	}
	cutoff := reference.AddDate(0, 0, -r.retentionDays)
	var kept []domain.HeatingCycle
	for _, c := range r.cycles[deviceID] {
		if c.EndTime.Before(cutoff) {
			continue
		}
		kept = append(kept, c)
	}
	r.cycles[deviceID] = kept
	return nil
}

// ClearCycles empties the cache for the device.
func (r *MockRepository) ClearCycles(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cycles, deviceID)
	delete(r.lastSearch, deviceID)
	return nil
}

// Health always returns nil in mock mode
func (r *MockRepository) Health(ctx context.Context) error {
	return nil
}
