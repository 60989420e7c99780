package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/heatpilot/backend/internal/delivery/http"
	"github.com/heatpilot/backend/internal/domain"
	"github.com/heatpilot/backend/internal/ingest/mqtt"
	"github.com/heatpilot/backend/internal/repository/postgres"
	"github.com/heatpilot/backend/internal/service"
)

// storage groups the persistence interfaces both the postgres and the mock
// repository satisfy.
type storage interface {
	domain.HistoricalDataReader
	domain.TelemetryWriter
	domain.TimeslotReader
	domain.EnvironmentReader
	domain.SlopeStore
	domain.CycleCache
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Configuration
	cfg := loadConfig()

	// Database connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("Warning: Could not connect to database: %v", err)
		log.Println("Running with in-memory storage only")
		pool = nil
	} else {
		defer pool.Close()
		log.Println("Connected to PostgreSQL")
	}

	// Dependency Injection: Repositories
	var repo storage
	if pool != nil {
		repo = postgres.NewPostgresRepository(pool, cfg.RetentionDays)
	} else {
		repo = postgres.NewMockRepository(cfg.RetentionDays)
	}

	// Dependency Injection: Services
	extractor := service.NewHeatingCycleService(service.CycleExtractionConfig{
		TempDeltaThreshold:      cfg.TempDeltaThreshold,
		MinCycleDurationMinutes: cfg.MinCycleMinutes,
		MaxCycleDurationMinutes: cfg.MaxCycleMinutes,
		MaxLookback:             cfg.MaxLookback,
	})
	lhs := service.NewLearnedSlopeService()
	predictor := service.NewPredictionService()
	commander := service.NewSchedulerBridge(cfg.SchedulerURL)
	controller := service.NewAnticipationController(predictor, commander)
	pilot := service.NewPilotService(repo, repo, repo, repo, repo, extractor, lhs, controller, service.PilotConfig{
		SplitDurationMinutes: cfg.SplitMinutes,
		MaxSlope:             cfg.MaxSlope,
		ManualSlope:          cfg.ManualSlope,
		QuietWindow:          cfg.QuietWindow,
	})

	// MQTT telemetry ingest
	if cfg.MQTTBrokerURL != "" {
		subscriber := mqtt.NewSubscriber(mqtt.NewClient(cfg.MQTTBrokerURL, cfg.MQTTClientID), repo, pilot)
		if err := subscriber.Start(); err != nil {
			log.Printf("Warning: MQTT ingest unavailable: %v", err)
		} else {
			defer subscriber.Stop()
		}
	}

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:      "HeatPilot API v1.0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Routes
	http.SetupRoutes(app, pilot)

	// Controller tick loop
	tickCtx, stopTicks := context.WithCancel(context.Background())
	defer stopTicks()
	go runTickLoop(tickCtx, pilot, cfg.Devices, cfg.TickInterval)

	// Graceful shutdown
	go func() {
		port := cfg.Port
		if port == "" {
			port = "8080"
		}
		log.Printf("Server starting on :%s", port)
		if err := app.Listen(":" + port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopTicks()
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited gracefully")
}

// runTickLoop re-evaluates each monitored device on a timer. Ticks for one
// device are serialized inside the pilot; the loop itself runs them in order.
func runTickLoop(ctx context.Context, pilot *service.PilotService, devices []string, interval time.Duration) {
	if len(devices) == 0 {
		log.Println("No devices configured, tick loop idle")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, deviceID := range devices {
				tickCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				if _, err := pilot.Tick(tickCtx, deviceID); err != nil {
					log.Printf("Tick for %s failed: %v", deviceID, err)
				}
				cancel()
			}
		}
	}
}

type Config struct {
	DatabaseURL   string
	SchedulerURL  string
	MQTTBrokerURL string
	MQTTClientID  string
	Port          string
	Env           string

	Devices      []string
	TickInterval time.Duration

	TempDeltaThreshold float64
	MinCycleMinutes    int
	MaxCycleMinutes    int
	SplitMinutes       int
	RetentionDays      int
	MaxLookback        time.Duration
	MaxSlope           float64
	ManualSlope        float64
	QuietWindow        time.Duration
}

func loadConfig() *Config {
	return &Config{
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		SchedulerURL:  getEnv("SCHEDULER_URL", "http://localhost:8000"),
		MQTTBrokerURL: getEnv("MQTT_BROKER_URL", ""),
		MQTTClientID:  getEnv("MQTT_CLIENT_ID", "heatpilot-backend"),
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("GO_ENV", "development"),

		Devices:      splitList(getEnv("DEVICES", "")),
		TickInterval: getDurationEnv("TICK_INTERVAL", time.Minute),

		TempDeltaThreshold: getFloatEnv("TEMP_DELTA_THRESHOLD", 0.2),
		MinCycleMinutes:    getIntEnv("MIN_CYCLE_MINUTES", 5),
		MaxCycleMinutes:    getIntEnv("MAX_CYCLE_MINUTES", 300),
		SplitMinutes:       getIntEnv("SPLIT_CYCLE_MINUTES", 0),
		RetentionDays:      getIntEnv("CYCLE_RETENTION_DAYS", 30),
		MaxLookback:        getDurationEnv("MAX_LOOKBACK", 0),
		MaxSlope:           getFloatEnv("MAX_HEATING_SLOPE", 0),
		ManualSlope:        getFloatEnv("MANUAL_HEATING_SLOPE", 0),
		QuietWindow:        getDurationEnv("COMMAND_QUIET_WINDOW", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
