package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/heatpilot/backend/internal/domain"
)

// PilotConfig carries the application-level tunables of the anticipation
// pipeline. Zero values fall back to the documented defaults via Normalize.
type PilotConfig struct {
	// DefaultSearchWindow is how far back the first extraction for a device
	// scans when no cached search time exists yet.
	DefaultSearchWindow time.Duration

	// SplitDurationMinutes is forwarded to cycle extraction. 0 disables
	// splitting.
	SplitDurationMinutes int

	// MaxSlope rejects implausible slope samples above this cap in °C/h.
	// 0 disables the cap.
	MaxSlope float64

	// ManualSlope, when positive, bypasses learning entirely and predicts
	// with this fixed rate.
	ManualSlope float64

	// QuietWindow suppresses live slope samples arriving shortly after a
	// self-issued command, so the pipeline does not learn from its own echo.
	QuietWindow time.Duration
}

const (
	defaultSearchWindow = 7 * 24 * time.Hour
	defaultQuietWindow  = 30 * time.Second
)

func (c PilotConfig) Normalize() PilotConfig {
	if c.DefaultSearchWindow == 0 {
		c.DefaultSearchWindow = defaultSearchWindow
	}
	if c.QuietWindow == 0 {
		c.QuietWindow = defaultQuietWindow
	}
	return c
}

// deviceRuntime is the per-device mutable state the pilot owns between ticks.
// Its mutex serializes ticks and slope updates for one device.
type deviceRuntime struct {
	mu            sync.Mutex
	state         domain.ControllerState
	lastResult    *domain.AnticipationData
	hasResult     bool
	lastCommandAt time.Time
}

// PilotService drives the full anticipation pipeline per device: incremental
// cycle extraction through the cache, contextual slope learning, the
// controller tick with its overshoot check, and live slope ingestion.
type PilotService struct {
	history   domain.HistoricalDataReader
	timeslots domain.TimeslotReader
	envs      domain.EnvironmentReader
	slopes    domain.SlopeStore
	cache     domain.CycleCache

	extractor  *HeatingCycleService
	lhs        *LearnedSlopeService
	controller *AnticipationController

	cfg PilotConfig
	now func() time.Time

	mu      sync.Mutex
	devices map[string]*deviceRuntime
}

// NewPilotService wires the pipeline. All collaborators are required.
func NewPilotService(
	history domain.HistoricalDataReader,
	timeslots domain.TimeslotReader,
	envs domain.EnvironmentReader,
	slopes domain.SlopeStore,
	cache domain.CycleCache,
	extractor *HeatingCycleService,
	lhs *LearnedSlopeService,
	controller *AnticipationController,
	cfg PilotConfig,
) *PilotService {
	return &PilotService{
		history:    history,
		timeslots:  timeslots,
		envs:       envs,
		slopes:     slopes,
		cache:      cache,
		extractor:  extractor,
		lhs:        lhs,
		controller: controller,
		cfg:        cfg.Normalize(),
		now:        time.Now,
		devices:    make(map[string]*deviceRuntime),
	}
}

func (s *PilotService) runtime(deviceID string) *deviceRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.devices[deviceID]
	if !ok {
		rt = &deviceRuntime{state: domain.IdleControllerState()}
		s.devices[deviceID] = rt
	}
	return rt
}

// Tick runs one full controller evaluation for the device. Concurrent ticks
// for the same device serialize on the device runtime lock. Returns the
// structured anticipation result, nil when there is nothing to report.
func (s *PilotService) Tick(ctx context.Context, deviceID string) (*domain.AnticipationData, error) {
	rt := s.runtime(deviceID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := s.now()

	slot, err := s.timeslots.GetNextTimeslot(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("pilot: next timeslot for %s: %w", deviceID, err)
	}

	enabled := true
	sourceID := rt.state.ActiveSchedulerSource
	if slot != nil {
		sourceID = slot.SchedulerSourceID
	}
	if sourceID != "" {
		enabled, err = s.timeslots.IsSchedulerEnabled(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("pilot: scheduler state for %s: %w", sourceID, err)
		}
	}

	in := TickInput{Now: now, Timeslot: slot, SchedulerEnabled: enabled}

	var env *domain.EnvironmentState
	if enabled && slot != nil {
		env, err = s.envs.GetCurrentEnvironment(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("pilot: environment for %s: %w", deviceID, err)
		}
		if env == nil {
			// Cannot decide anything without an indoor reading; keep state.
			log.Printf("no indoor temperature for %s, skipping tick", deviceID)
			return rt.lastResult, nil
		}
		in.CurrentTemp = env.IndoorTemperature
		in.Environment = env
		in.LearnedSlope = s.resolveSlope(ctx, deviceID, slot.TargetTime.Hour())
	}

	newState, res, err := s.controller.Tick(ctx, rt.state, in)
	if err != nil {
		return nil, err
	}
	if res.CommandSent {
		rt.lastCommandAt = now
	}
	rt.state = newState
	rt.lastResult = res.Data
	rt.hasResult = true

	if newState.IsPreheating() && env != nil && slot != nil {
		if err := s.runOvershootCheck(ctx, rt, deviceID, env.IndoorTemperature, slot.TargetTemp); err != nil {
			return rt.lastResult, err
		}
	}
	return rt.lastResult, nil
}

// runOvershootCheck applies the live device slope, when available, to abort a
// preheat that would overshoot. Caller holds the runtime lock.
func (s *PilotService) runOvershootCheck(ctx context.Context, rt *deviceRuntime, deviceID string, indoorTemp, targetTemp float64) error {
	liveSlope, err := s.envs.GetCurrentSlope(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("pilot: current slope for %s: %w", deviceID, err)
	}
	if liveSlope == nil || *liveSlope <= 0 {
		return nil
	}
	newState, aborted, err := s.controller.CheckOvershoot(ctx, rt.state, s.now(), indoorTemp, targetTemp, *liveSlope)
	if err != nil {
		return err
	}
	if aborted {
		rt.lastCommandAt = s.now()
		rt.lastResult = nil
	}
	rt.state = newState
	return nil
}

// resolveSlope picks the heating rate for prediction: the manual override
// when configured, otherwise the contextual learned slope for the target
// hour, falling back to the stored aggregate when extraction cannot run.
func (s *PilotService) resolveSlope(ctx context.Context, deviceID string, targetHour int) float64 {
	if s.cfg.ManualSlope > 0 {
		return s.cfg.ManualSlope
	}

	cycles, err := s.RefreshCycles(ctx, deviceID)
	if err != nil {
		var missing *domain.MissingDataError
		if !errors.As(err, &missing) {
			log.Printf("cycle refresh for %s failed: %v", deviceID, err)
		}
		stored, serr := s.slopes.GetLearnedSlope(ctx, deviceID)
		if serr != nil || stored <= 0 {
			return DefaultLearnedSlope
		}
		return s.capSlope(stored)
	}

	slope, err := s.lhs.CalculateContextualLHS(cycles, targetHour)
	if err != nil {
		return DefaultLearnedSlope
	}
	return s.capSlope(slope)
}

func (s *PilotService) capSlope(slope float64) float64 {
	if s.cfg.MaxSlope > 0 && slope > s.cfg.MaxSlope {
		return s.cfg.MaxSlope
	}
	return slope
}

// RefreshCycles extracts cycles incrementally: only telemetry newer than the
// cached last search time is scanned, results are appended with dedupe, old
// cycles are pruned, and the surviving cached set is returned.
func (s *PilotService) RefreshCycles(ctx context.Context, deviceID string) ([]domain.HeatingCycle, error) {
	now := s.now()

	cached, err := s.cache.GetCachedCycles(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("pilot: cycle cache for %s: %w", deviceID, err)
	}
	searchStart := now.Add(-s.cfg.DefaultSearchWindow)
	if cached != nil && !cached.LastSearchTime.IsZero() && cached.LastSearchTime.After(searchStart) {
		searchStart = cached.LastSearchTime
	}

	if !searchStart.Before(now) {
		if cached == nil {
			return nil, nil
		}
		return cached.Cycles, nil
	}

	dataset, err := s.history.FetchHistory(ctx, deviceID, domain.AllDataKeys, searchStart, now)
	if err != nil {
		return nil, fmt.Errorf("pilot: history for %s: %w", deviceID, err)
	}
	fresh, err := s.extractor.ExtractHeatingCycles(deviceID, dataset, searchStart, now, s.cfg.SplitDurationMinutes)
	if err != nil {
		return nil, err
	}

	if err := s.cache.AppendCycles(ctx, deviceID, fresh, now); err != nil {
		return nil, fmt.Errorf("pilot: append cycles for %s: %w", deviceID, err)
	}
	if err := s.cache.PruneCycles(ctx, deviceID, now); err != nil {
		return nil, fmt.Errorf("pilot: prune cycles for %s: %w", deviceID, err)
	}
	s.learnFromCycles(ctx, deviceID, fresh)

	cached, err = s.cache.GetCachedCycles(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("pilot: cycle cache for %s: %w", deviceID, err)
	}
	if cached == nil {
		return nil, nil
	}
	return cached.Cycles, nil
}

// learnFromCycles folds the slopes of freshly extracted cycles into the
// persistent history and recomputes the stored aggregate. Failures here only
// log; learning must never block a tick.
func (s *PilotService) learnFromCycles(ctx context.Context, deviceID string, cycles []domain.HeatingCycle) {
	var history []float64
	learned := false
	for _, c := range cycles {
		slope := c.AvgHeatingSlope()
		if slope <= 0 {
			continue
		}
		if s.cfg.MaxSlope > 0 && slope > s.cfg.MaxSlope {
			log.Printf("discarding implausible slope %.2f°C/h from cycle at %s", slope, c.StartTime.Format(time.RFC3339))
			continue
		}
		h, err := s.slopes.SaveSlope(ctx, deviceID, slope)
		if err != nil {
			log.Printf("saving slope for %s: %v", deviceID, err)
			return
		}
		history = h
		learned = true
	}
	if !learned {
		return
	}
	if err := s.slopes.SetLearnedSlope(ctx, deviceID, RobustAverage(history)); err != nil {
		log.Printf("updating learned slope for %s: %v", deviceID, err)
	}
}

// ProcessSlopeUpdate ingests one live slope sample from the device. Samples
// are only learned while heating is actually running, only when positive and
// under the plausibility cap, and never inside the quiet window that follows
// a self-issued command.
func (s *PilotService) ProcessSlopeUpdate(ctx context.Context, deviceID string, slope float64) error {
	if slope <= 0 {
		return nil
	}
	if s.cfg.MaxSlope > 0 && slope > s.cfg.MaxSlope {
		log.Printf("ignoring implausible live slope %.2f°C/h from %s", slope, deviceID)
		return nil
	}

	rt := s.runtime(deviceID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.lastCommandAt.IsZero() && s.now().Sub(rt.lastCommandAt) < s.cfg.QuietWindow {
		return nil
	}

	active, err := s.envs.IsHeatingActive(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("pilot: heating state for %s: %w", deviceID, err)
	}
	if !active {
		return nil
	}

	history, err := s.slopes.SaveSlope(ctx, deviceID, slope)
	if err != nil {
		return fmt.Errorf("pilot: save slope for %s: %w", deviceID, err)
	}
	if err := s.slopes.SetLearnedSlope(ctx, deviceID, RobustAverage(history)); err != nil {
		return fmt.Errorf("pilot: update learned slope for %s: %w", deviceID, err)
	}
	return nil
}

// ExtractCycles runs an explicit extraction over [start, end], bypassing the
// incremental cache search window but still feeding the cache and the slope
// history. Serves the manual extraction endpoint.
func (s *PilotService) ExtractCycles(ctx context.Context, deviceID string, start, end time.Time, splitMinutes int) ([]domain.HeatingCycle, error) {
	if !start.Before(end) {
		return nil, &domain.InvalidRangeError{Field: "time_range", Reason: "start_time must be before end_time"}
	}

	dataset, err := s.history.FetchHistory(ctx, deviceID, domain.AllDataKeys, start, end)
	if err != nil {
		return nil, fmt.Errorf("pilot: history for %s: %w", deviceID, err)
	}
	cycles, err := s.extractor.ExtractHeatingCycles(deviceID, dataset, start, end, splitMinutes)
	if err != nil {
		return nil, err
	}

	if err := s.cache.AppendCycles(ctx, deviceID, cycles, end); err != nil {
		return nil, fmt.Errorf("pilot: append cycles for %s: %w", deviceID, err)
	}
	s.learnFromCycles(ctx, deviceID, cycles)
	return cycles, nil
}

// SlopeInfo returns the stored learned slope and the size of its history.
func (s *PilotService) SlopeInfo(ctx context.Context, deviceID string) (float64, int, error) {
	slope, err := s.slopes.GetLearnedSlope(ctx, deviceID)
	if err != nil {
		return 0, 0, fmt.Errorf("pilot: learned slope for %s: %w", deviceID, err)
	}
	history, err := s.slopes.GetSlopeHistory(ctx, deviceID)
	if err != nil {
		return 0, 0, fmt.Errorf("pilot: slope history for %s: %w", deviceID, err)
	}
	return s.capSlope(slope), len(history), nil
}

// ResetSlope clears the learned history and the cycle cache so learning
// restarts from scratch.
func (s *PilotService) ResetSlope(ctx context.Context, deviceID string) error {
	if err := s.slopes.ClearHistory(ctx, deviceID); err != nil {
		return fmt.Errorf("pilot: clear slope history for %s: %w", deviceID, err)
	}
	if err := s.cache.ClearCycles(ctx, deviceID); err != nil {
		return fmt.Errorf("pilot: clear cycle cache for %s: %w", deviceID, err)
	}

	rt := s.runtime(deviceID)
	rt.mu.Lock()
	rt.state = domain.IdleControllerState()
	rt.lastResult = nil
	rt.hasResult = false
	rt.mu.Unlock()
	return nil
}

// LastAnticipation returns the most recent tick result for the device. The
// second return is false when no tick has run yet; a true with a nil result
// is the explicit clear signal.
func (s *PilotService) LastAnticipation(deviceID string) (*domain.AnticipationData, bool) {
	rt := s.runtime(deviceID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.lastResult, rt.hasResult
}
