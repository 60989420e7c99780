package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/heatpilot/backend/internal/service"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, pilot *service.PilotService) {
	handler := NewHandler(pilot)

	// Health check
	app.Get("/health", handler.HealthCheck)

	// API v1 routes
	api := app.Group("/api/v1")
	{
		devices := api.Group("/devices/:device_id")

		devices.Post("/cycles/extract", handler.ExtractCycles)
		devices.Get("/anticipation", handler.GetAnticipation)
		devices.Get("/slope", handler.GetSlope)
		devices.Post("/slope/reset", handler.ResetSlope)
		devices.Post("/tick", handler.ForceTick)
	}
}
