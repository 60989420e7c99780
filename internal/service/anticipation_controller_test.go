package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatpilot/backend/internal/domain"
)

// mockCommander counts outbound commands and can be made to fail.
type mockCommander struct {
	runCalls    int
	cancelCalls int
	failNext    error
}

func (m *mockCommander) RunAction(_ context.Context, _ time.Time, _ string) error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.runCalls++
	return nil
}

func (m *mockCommander) CancelAction(_ context.Context, _ string) error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.cancelCalls++
	return nil
}

func newTestController(commander *mockCommander) *AnticipationController {
	return NewAnticipationController(NewPredictionService(), commander)
}

func tickInput(now time.Time, slot *domain.ScheduledTimeslot, temp, slope float64) TickInput {
	return TickInput{
		Now:              now,
		Timeslot:         slot,
		SchedulerEnabled: true,
		CurrentTemp:      temp,
		LearnedSlope:     slope,
	}
}

func TestTick_SchedulerDisabledResetsToIdle(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	target := now.Add(time.Hour)
	state := domain.ControllerState{Phase: domain.PhasePreheating, PreheatingTargetTime: &target}

	next, res, err := ctrl.Tick(context.Background(), state, TickInput{Now: now, SchedulerEnabled: false})
	require.NoError(t, err)
	assert.Equal(t, domain.IdleControllerState(), next)
	assert.Nil(t, res.Data)
	assert.False(t, res.CommandSent)
	assert.Zero(t, cmd.runCalls)
	assert.Zero(t, cmd.cancelCalls)
}

func TestTick_NoTimeslotResetsToIdle(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	next, res, err := ctrl.Tick(context.Background(), domain.IdleControllerState(), tickInput(now, nil, 18.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseIdle, next.Phase)
	assert.Nil(t, res.Data)
	assert.False(t, res.CommandSent)
}

func TestTick_TargetAlreadyReached(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	slot := testTimeslot(now.Add(time.Hour), 20.0)

	next, res, err := ctrl.Tick(context.Background(), domain.IdleControllerState(), tickInput(now, &slot, 21.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseScheduled, next.Phase)
	require.NotNil(t, res.Data)
	assert.Zero(t, res.Data.AnticipationMinutes)
	assert.Equal(t, slot.TargetTime, res.Data.AnticipatedStartTime)
	assert.False(t, res.CommandSent)
	assert.Zero(t, cmd.runCalls)
}

func TestTick_TargetReachedDuringPreheatReportsNoCommand(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	slot := testTimeslot(now.Add(time.Hour), 20.0)

	// The room warmed past the target mid preheat. The controller falls back
	// to scheduled without talking to the scheduler, so callers must not
	// treat the transition as an outbound command.
	target := slot.TargetTime
	state := domain.ControllerState{
		Phase:                 domain.PhasePreheating,
		PreheatingTargetTime:  &target,
		ActiveSchedulerSource: slot.SchedulerSourceID,
	}

	next, res, err := ctrl.Tick(context.Background(), state, tickInput(now, &slot, 20.5, 2.0))
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseScheduled, next.Phase)
	assert.False(t, res.CommandSent)
	assert.Zero(t, cmd.runCalls)
	assert.Zero(t, cmd.cancelCalls)
}

func TestTick_StartsPreheatingInsideWindow(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	// 3°C at 2°C/h needs 95 minutes, so a target 90 minutes out is inside the window.
	slot := testTimeslot(now.Add(90*time.Minute), 21.0)

	next, res, err := ctrl.Tick(context.Background(), domain.IdleControllerState(), tickInput(now, &slot, 18.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreheating, next.Phase)
	require.NotNil(t, next.PreheatingTargetTime)
	assert.Equal(t, slot.TargetTime, *next.PreheatingTargetTime)
	assert.True(t, res.CommandSent)
	assert.Equal(t, 1, cmd.runCalls)
	require.NotNil(t, res.Data)
	assert.InDelta(t, 95.0, res.Data.AnticipationMinutes, 0.001)

	// Re-ticking with identical inputs must not emit another command.
	again, res, err := ctrl.Tick(context.Background(), next, tickInput(now.Add(time.Minute), &slot, 18.1, 2.0))
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreheating, again.Phase)
	assert.False(t, res.CommandSent)
	assert.Equal(t, 1, cmd.runCalls)
}

func TestTick_FutureStartStaysScheduled(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	slot := testTimeslot(now.Add(5*time.Hour), 21.0)

	next, res, err := ctrl.Tick(context.Background(), domain.IdleControllerState(), tickInput(now, &slot, 18.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseScheduled, next.Phase)
	assert.False(t, res.CommandSent)
	assert.Zero(t, cmd.runCalls)
	require.NotNil(t, res.Data)
	assert.True(t, res.Data.AnticipatedStartTime.After(now))
}

func TestTick_ImprovedSlopeRevertsPreheating(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	// Preheating toward a target 2.5 hours out, started under a 2.0 °C/h slope.
	target := now.Add(150 * time.Minute)
	slot := testTimeslot(target, 21.0)
	state := domain.ControllerState{
		Phase:                 domain.PhasePreheating,
		PreheatingTargetTime:  &target,
		ActiveSchedulerSource: slot.SchedulerSourceID,
	}

	// At 4.0 °C/h the anticipated start moves past now: 3°C needs 50 minutes,
	// so heating should not begin for another 100 minutes.
	next, res, err := ctrl.Tick(context.Background(), state, tickInput(now, &slot, 18.0, 4.0))
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseScheduled, next.Phase)
	assert.Nil(t, next.PreheatingTargetTime)
	assert.True(t, res.CommandSent)
	assert.Equal(t, 1, cmd.cancelCalls)
	assert.Zero(t, cmd.runCalls)
	require.NotNil(t, res.Data)
	assert.True(t, res.Data.AnticipatedStartTime.After(now))
}

func TestTick_CompletesAtTargetTime(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	target := now.Add(-time.Minute)
	reached := testTimeslot(target, 21.0)
	state := domain.ControllerState{
		Phase:                 domain.PhasePreheating,
		PreheatingTargetTime:  &target,
		ActiveSchedulerSource: reached.SchedulerSourceID,
	}

	next, res, err := ctrl.Tick(context.Background(), state, tickInput(now, &reached, 19.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, domain.IdleControllerState(), next)
	assert.Nil(t, res.Data)
	assert.False(t, res.CommandSent)
	assert.Zero(t, cmd.cancelCalls)
}

func TestTick_CommandFailureLeavesStateUnchanged(t *testing.T) {
	cmd := &mockCommander{failNext: errors.New("scheduler unreachable")}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	slot := testTimeslot(now.Add(90*time.Minute), 21.0)

	state := domain.IdleControllerState()
	next, _, err := ctrl.Tick(context.Background(), state, tickInput(now, &slot, 18.0, 2.0))

	var cmdErr *domain.CommandFailure
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "run_action", cmdErr.Command)
	assert.Equal(t, state, next)

	// The failure cleared, so the retry emits the command.
	retry, _, err := ctrl.Tick(context.Background(), next, tickInput(now, &slot, 18.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreheating, retry.Phase)
	assert.Equal(t, 1, cmd.runCalls)
}

func TestCheckOvershoot(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC)

	target := now.Add(time.Hour)
	state := domain.ControllerState{
		Phase:                 domain.PhasePreheating,
		PreheatingTargetTime:  &target,
		ActiveSchedulerSource: "scheduler.living_room",
	}

	// 20.0 + 2.0 * 1h projects 22.0, overshooting a 21.0 target by a degree.
	next, aborted, err := ctrl.CheckOvershoot(context.Background(), state, now, 20.0, 21.0, 2.0)
	require.NoError(t, err)
	assert.True(t, aborted)
	assert.Equal(t, domain.IdleControllerState(), next)
	assert.Equal(t, 1, cmd.cancelCalls)
}

func TestCheckOvershoot_WithinMarginKeepsHeating(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC)

	target := now.Add(time.Hour)
	state := domain.ControllerState{Phase: domain.PhasePreheating, PreheatingTargetTime: &target}

	// 19.5 + 1.5 * 1h projects 21.0, inside the half degree margin.
	next, aborted, err := ctrl.CheckOvershoot(context.Background(), state, now, 19.5, 21.0, 1.5)
	require.NoError(t, err)
	assert.False(t, aborted)
	assert.Equal(t, state, next)
	assert.Zero(t, cmd.cancelCalls)
}

func TestCheckOvershoot_NoOpWhenNotPreheating(t *testing.T) {
	cmd := &mockCommander{}
	ctrl := newTestController(cmd)
	now := time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC)

	state := domain.IdleControllerState()
	next, aborted, err := ctrl.CheckOvershoot(context.Background(), state, now, 25.0, 21.0, 3.0)
	require.NoError(t, err)
	assert.False(t, aborted)
	assert.Equal(t, state, next)
	assert.Zero(t, cmd.cancelCalls)
}
