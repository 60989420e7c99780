package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/heatpilot/backend/internal/domain"
	"github.com/heatpilot/backend/internal/service"
)

// Handler contains all HTTP handlers
type Handler struct {
	pilot *service.PilotService
}

// NewHandler creates a new handler
func NewHandler(pilot *service.PilotService) *Handler {
	return &Handler{pilot: pilot}
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "heatpilot-backend",
		"version": "1.0.0",
	})
}

type extractCyclesRequest struct {
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	SplitDurationMinutes int       `json:"split_duration_minutes"`
}

// ExtractCycles runs cycle extraction over an explicit time range
func (h *Handler) ExtractCycles(c *fiber.Ctx) error {
	ctx := c.Context()
	deviceID := c.Params("device_id")

	var req extractCyclesRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	cycles, err := h.pilot.ExtractCycles(ctx, deviceID, req.StartTime, req.EndTime, req.SplitDurationMinutes)
	if err != nil {
		return mapDomainError(err, "Failed to extract heating cycles")
	}

	var totalMinutes, totalEnergy float64
	for _, cycle := range cycles {
		totalMinutes += cycle.DurationMinutes()
		totalEnergy += cycle.TotalEnergyKWh()
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    cycles,
		"stats": fiber.Map{
			"count":                  len(cycles),
			"total_duration_minutes": totalMinutes,
			"total_energy_kwh":       totalEnergy,
		},
	})
}

// GetAnticipation returns the latest tick result for a device
func (h *Handler) GetAnticipation(c *fiber.Ctx) error {
	deviceID := c.Params("device_id")

	data, ok := h.pilot.LastAnticipation(deviceID)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "No anticipation computed yet for this device")
	}
	if data == nil {
		// Explicit clear signal: no upcoming timeslot applies.
		return c.JSON(fiber.Map{
			"success": true,
			"data":    nil,
			"cleared": true,
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// GetSlope returns the learned heating slope and its history size
func (h *Handler) GetSlope(c *fiber.Ctx) error {
	ctx := c.Context()
	deviceID := c.Params("device_id")

	slope, historySize, err := h.pilot.SlopeInfo(ctx, deviceID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch learned slope")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"device_id":         deviceID,
			"learned_slope":     slope,
			"slope_history_len": historySize,
		},
	})
}

// ResetSlope clears the learned history for a device
func (h *Handler) ResetSlope(c *fiber.Ctx) error {
	ctx := c.Context()
	deviceID := c.Params("device_id")

	if err := h.pilot.ResetSlope(ctx, deviceID); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to reset learned slope")
	}

	return c.JSON(fiber.Map{
		"success": true,
	})
}

// ForceTick runs one controller evaluation immediately (debug surface)
func (h *Handler) ForceTick(c *fiber.Ctx) error {
	ctx := c.Context()
	deviceID := c.Params("device_id")

	data, err := h.pilot.Tick(ctx, deviceID)
	if err != nil {
		return mapDomainError(err, "Tick failed")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// mapDomainError translates domain error types to HTTP statuses.
func mapDomainError(err error, fallback string) error {
	var rangeErr *domain.InvalidRangeError
	if errors.As(err, &rangeErr) {
		return fiber.NewError(fiber.StatusBadRequest, rangeErr.Error())
	}
	var missingErr *domain.MissingDataError
	if errors.As(err, &missingErr) {
		return fiber.NewError(fiber.StatusUnprocessableEntity, missingErr.Error())
	}
	var cmdErr *domain.CommandFailure
	if errors.As(err, &cmdErr) {
		return fiber.NewError(fiber.StatusBadGateway, cmdErr.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, fallback)
}
