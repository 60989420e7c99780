package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SchedulerBridge issues outbound commands to the external scheduler service
// over its webhook API. Implements domain.SchedulerCommander.
type SchedulerBridge struct {
	serviceURL string
	httpClient *http.Client
}

// NewSchedulerBridge creates a scheduler bridge against the given base URL.
func NewSchedulerBridge(serviceURL string) *SchedulerBridge {
	return &SchedulerBridge{
		serviceURL: serviceURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type runActionRequest struct {
	TargetTime time.Time `json:"target_time"`
	SourceID   string    `json:"source_id"`
}

type cancelActionRequest struct {
	SourceID string `json:"source_id"`
}

// RunAction asks the scheduler to apply the timeslot due at targetTime ahead
// of schedule.
func (b *SchedulerBridge) RunAction(ctx context.Context, targetTime time.Time, sourceID string) error {
	return b.post(ctx, "/run_action", runActionRequest{TargetTime: targetTime, SourceID: sourceID})
}

// CancelAction reverts a previously triggered action.
func (b *SchedulerBridge) CancelAction(ctx context.Context, sourceID string) error {
	return b.post(ctx, "/cancel_action", cancelActionRequest{SourceID: sourceID})
}

// Health checks scheduler service connectivity.
func (b *SchedulerBridge) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", b.serviceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("scheduler_bridge: failed to create health request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scheduler_bridge: health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scheduler_bridge: health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (b *SchedulerBridge) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("scheduler_bridge: failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s%s", b.serviceURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("scheduler_bridge: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scheduler_bridge: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("scheduler_bridge: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
