package service

import (
	"github.com/heatpilot/backend/internal/domain"
)

// SchedulerCommander is re-exported from domain for convenience
type SchedulerCommander = domain.SchedulerCommander
