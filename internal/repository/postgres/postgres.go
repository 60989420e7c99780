package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heatpilot/backend/internal/domain"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// slopeHistoryCap bounds the persisted slope history per device.
const slopeHistoryCap = 100

// PostgresRepository implements the domain storage interfaces over a single
// pgx pool: HistoricalDataReader, TelemetryWriter, TimeslotReader,
// EnvironmentReader, SlopeStore, and CycleCache.
type PostgresRepository struct {
	pool          *pgxpool.Pool
	retentionDays int
}

// NewPostgresRepository creates a new PostgreSQL repository. retentionDays
// bounds how long cached cycles are kept.
func NewPostgresRepository(pool *pgxpool.Pool, retentionDays int) *PostgresRepository {
	return &PostgresRepository{pool: pool, retentionDays: retentionDays}
}

// InsertMeasurement persists one telemetry sample.
func (r *PostgresRepository) InsertMeasurement(ctx context.Context, deviceID string, key domain.DataKey, m domain.HistoricalMeasurement) error {
	query := `
		INSERT INTO telemetry (
			device_id, data_key, timestamp, value, state, mode, action, source_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var value *float64
	var state *string
	if m.Value.Numeric {
		v := m.Value.Number
		value = &v
	} else if m.Value.State != "" {
		s := m.Value.State
		state = &s
	}
	var mode, action *string
	if m.Climate != nil {
		mo, ac := string(m.Climate.Mode), string(m.Climate.Action)
		mode, action = &mo, &ac
	}

	_, err := r.pool.Exec(ctx, query,
		deviceID, string(key), m.Timestamp, value, state, mode, action, m.SourceID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert measurement: %w", err)
	}

	return nil
}

// FetchHistory retrieves the series for the requested keys within [start, end].
func (r *PostgresRepository) FetchHistory(ctx context.Context, deviceID string, keys []domain.DataKey, start, end time.Time) (domain.HistoricalDataSet, error) {
	query := `
		SELECT data_key, timestamp, value, state, mode, action, source_id
		FROM telemetry
		WHERE device_id = $1 AND data_key = ANY($2) AND timestamp BETWEEN $3 AND $4
		ORDER BY timestamp ASC
	`

	keyNames := make([]string, len(keys))
	for i, k := range keys {
		keyNames[i] = string(k)
	}

	rows, err := r.pool.Query(ctx, query, deviceID, keyNames, start, end)
	if err != nil {
		return domain.HistoricalDataSet{}, fmt.Errorf("postgres: failed to query telemetry: %w", err)
	}
	defer rows.Close()

	dataset := domain.NewHistoricalDataSet()
	for rows.Next() {
		var (
			keyName  string
			ts       time.Time
			value    *float64
			state    *string
			mode     *string
			action   *string
			sourceID string
		)
		if err := rows.Scan(&keyName, &ts, &value, &state, &mode, &action, &sourceID); err != nil {
			return domain.HistoricalDataSet{}, fmt.Errorf("postgres: failed to scan telemetry row: %w", err)
		}

		m := domain.HistoricalMeasurement{Timestamp: ts, SourceID: sourceID}
		if value != nil {
			m.Value = domain.NumberValue(*value)
		} else if state != nil {
			m.Value = domain.StateValue(*state)
		}
		if mode != nil || action != nil {
			climate := &domain.ClimateState{}
			if mode != nil {
				climate.Mode = domain.HVACMode(*mode)
			}
			if action != nil {
				climate.Action = domain.HVACAction(*action)
			}
			m.Climate = climate
		}
		key := domain.DataKey(keyName)
		dataset.Data[key] = append(dataset.Data[key], m)
	}

	return dataset, nil
}

// GetNextTimeslot returns the earliest scheduled timeslot still in the future.
func (r *PostgresRepository) GetNextTimeslot(ctx context.Context, deviceID string) (*domain.ScheduledTimeslot, error) {
	query := `
		SELECT target_time, target_temp, timeslot_id, scheduler_source_id
		FROM scheduled_timeslots
		WHERE device_id = $1 AND target_time > now()
		ORDER BY target_time ASC
		LIMIT 1
	`

	var slot domain.ScheduledTimeslot
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(
		&slot.TargetTime, &slot.TargetTemp, &slot.TimeslotID, &slot.SchedulerSourceID,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to query next timeslot: %w", err)
	}
	return &slot, nil
}

// IsSchedulerEnabled reports whether the scheduler source is active. Unknown
// sources count as enabled.
func (r *PostgresRepository) IsSchedulerEnabled(ctx context.Context, sourceID string) (bool, error) {
	query := `SELECT enabled FROM scheduler_sources WHERE source_id = $1`

	var enabled bool
	err := r.pool.QueryRow(ctx, query, sourceID).Scan(&enabled)
	if err != nil {
		if isNoRows(err) {
			return true, nil
		}
		return false, fmt.Errorf("postgres: failed to query scheduler source: %w", err)
	}
	return enabled, nil
}

// GetCurrentEnvironment builds the latest environment snapshot from the most
// recent telemetry per key. Nil when no indoor temperature has ever arrived.
func (r *PostgresRepository) GetCurrentEnvironment(ctx context.Context, deviceID string) (*domain.EnvironmentState, error) {
	indoor, ts, err := r.latestValue(ctx, deviceID, domain.KeyIndoorTemp)
	if err != nil {
		return nil, err
	}
	if indoor == nil {
		return nil, nil
	}

	env := &domain.EnvironmentState{Timestamp: *ts, IndoorTemperature: *indoor}
	for _, opt := range []struct {
		key  domain.DataKey
		dest **float64
	}{
		{domain.KeyIndoorHumidity, &env.IndoorHumidity},
		{domain.KeyOutdoorTemp, &env.OutdoorTemperature},
		{domain.KeyOutdoorHumidity, &env.OutdoorHumidity},
		{domain.KeyCloudCoverage, &env.CloudCoverage},
	} {
		v, _, err := r.latestValue(ctx, deviceID, opt.key)
		if err != nil {
			return nil, err
		}
		*opt.dest = v
	}

	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("postgres: invalid environment snapshot: %w", err)
	}
	return env, nil
}

// GetCurrentSlope returns the latest live slope sample, or nil.
func (r *PostgresRepository) GetCurrentSlope(ctx context.Context, deviceID string) (*float64, error) {
	v, _, err := r.latestValue(ctx, deviceID, domain.KeyHeatingSlope)
	return v, err
}

// IsHeatingActive reports whether the latest heating-state sample shows the
// device producing heat.
func (r *PostgresRepository) IsHeatingActive(ctx context.Context, deviceID string) (bool, error) {
	query := `
		SELECT value, state, action
		FROM telemetry
		WHERE device_id = $1 AND data_key = $2
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var (
		value  *float64
		state  *string
		action *string
	)
	err := r.pool.QueryRow(ctx, query, deviceID, string(domain.KeyHeatingState)).Scan(&value, &state, &action)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("postgres: failed to query heating state: %w", err)
	}

	if action != nil {
		return domain.HVACAction(*action).IsHeating(), nil
	}
	var v domain.Value
	if value != nil {
		v = domain.NumberValue(*value)
	} else if state != nil {
		v = domain.StateValue(*state)
	}
	return v.Truthy(), nil
}

func (r *PostgresRepository) latestValue(ctx context.Context, deviceID string, key domain.DataKey) (*float64, *time.Time, error) {
	query := `
		SELECT value, timestamp
		FROM telemetry
		WHERE device_id = $1 AND data_key = $2 AND value IS NOT NULL
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var (
		value float64
		ts    time.Time
	)
	err := r.pool.QueryRow(ctx, query, deviceID, string(key)).Scan(&value, &ts)
	if err != nil {
		if isNoRows(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("postgres: failed to query latest %s: %w", key, err)
	}
	return &value, &ts, nil
}

// SaveSlope appends a slope sample, trims the history to its cap, and returns
// the surviving samples oldest first.
func (r *PostgresRepository) SaveSlope(ctx context.Context, deviceID string, slope float64) ([]float64, error) {
	insert := `INSERT INTO slope_history (device_id, slope, created_at) VALUES ($1, $2, now())`
	if _, err := r.pool.Exec(ctx, insert, deviceID, slope); err != nil {
		return nil, fmt.Errorf("postgres: failed to save slope: %w", err)
	}

	trim := `
		DELETE FROM slope_history
		WHERE device_id = $1 AND id NOT IN (
			SELECT id FROM slope_history
			WHERE device_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)
	`
	if _, err := r.pool.Exec(ctx, trim, deviceID, slopeHistoryCap); err != nil {
		return nil, fmt.Errorf("postgres: failed to trim slope history: %w", err)
	}

	return r.GetSlopeHistory(ctx, deviceID)
}

// GetSlopeHistory returns the persisted slope samples, oldest first.
func (r *PostgresRepository) GetSlopeHistory(ctx context.Context, deviceID string) ([]float64, error) {
	query := `
		SELECT slope FROM slope_history
		WHERE device_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query slope history: %w", err)
	}
	defer rows.Close()

	var history []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan slope row: %w", err)
		}
		history = append(history, s)
	}
	return history, nil
}

// GetLearnedSlope returns the stored aggregate, or the conservative default.
func (r *PostgresRepository) GetLearnedSlope(ctx context.Context, deviceID string) (float64, error) {
	query := `SELECT slope FROM learned_slopes WHERE device_id = $1`

	var slope float64
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(&slope)
	if err != nil {
		if isNoRows(err) {
			return domain.DefaultLearnedSlope, nil
		}
		return 0, fmt.Errorf("postgres: failed to query learned slope: %w", err)
	}
	return slope, nil
}

// SetLearnedSlope upserts the recomputed aggregate.
func (r *PostgresRepository) SetLearnedSlope(ctx context.Context, deviceID string, slope float64) error {
	query := `
		INSERT INTO learned_slopes (device_id, slope, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (device_id) DO UPDATE SET slope = $2, updated_at = now()
	`

	if _, err := r.pool.Exec(ctx, query, deviceID, slope); err != nil {
		return fmt.Errorf("postgres: failed to set learned slope: %w", err)
	}
	return nil
}

// ClearHistory drops the slope history and the aggregate for the device.
func (r *PostgresRepository) ClearHistory(ctx context.Context, deviceID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM slope_history WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("postgres: failed to clear slope history: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM learned_slopes WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("postgres: failed to clear learned slope: %w", err)
	}
	return nil
}

// GetCachedCycles returns the cached cycle snapshot, or nil when nothing has
// been cached yet.
func (r *PostgresRepository) GetCachedCycles(ctx context.Context, deviceID string) (*domain.CachedCycles, error) {
	var (
		lastSearch time.Time
		retention  int
	)
	stateQuery := `SELECT last_search_time, retention_days FROM cycle_search_state WHERE device_id = $1`
	err := r.pool.QueryRow(ctx, stateQuery, deviceID).Scan(&lastSearch, &retention)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to query cycle search state: %w", err)
	}

	query := `
		SELECT start_time, end_time, start_temp, end_temp, target_temp, tariff_details
		FROM heating_cycles
		WHERE device_id = $1
		ORDER BY start_time ASC
	`
	rows, err := r.pool.Query(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query cached cycles: %w", err)
	}
	defer rows.Close()

	cached := &domain.CachedCycles{
		DeviceID:       deviceID,
		LastSearchTime: lastSearch,
		RetentionDays:  retention,
	}
	for rows.Next() {
		var (
			c      domain.HeatingCycle
			tariff []byte
		)
		if err := rows.Scan(&c.StartTime, &c.EndTime, &c.StartTemp, &c.EndTemp, &c.TargetTemp, &tariff); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan cycle row: %w", err)
		}
		c.DeviceID = deviceID
		if len(tariff) > 0 {
			if err := json.Unmarshal(tariff, &c.TariffDetails); err != nil {
				return nil, fmt.Errorf("postgres: failed to decode tariff details: %w", err)
			}
		}
		cached.Cycles = append(cached.Cycles, c)
	}
	return cached, nil
}

// AppendCycles stores newly extracted cycles, skipping duplicates on
// (device_id, start_time), and advances the last search time.
func (r *PostgresRepository) AppendCycles(ctx context.Context, deviceID string, cycles []domain.HeatingCycle, searchEnd time.Time) error {
	insert := `
		INSERT INTO heating_cycles (
			device_id, start_time, end_time, start_temp, end_temp, target_temp, tariff_details
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id, start_time) DO NOTHING
	`
	for _, c := range cycles {
		var tariff []byte
		if len(c.TariffDetails) > 0 {
			var err error
			tariff, err = json.Marshal(c.TariffDetails)
			if err != nil {
				return fmt.Errorf("postgres: failed to encode tariff details: %w", err)
			}
		}
		if _, err := r.pool.Exec(ctx, insert,
			deviceID, c.StartTime, c.EndTime, c.StartTemp, c.EndTemp, c.TargetTemp, tariff,
		); err != nil {
			return fmt.Errorf("postgres: failed to append cycle: %w", err)
		}
	}

	state := `
		INSERT INTO cycle_search_state (device_id, last_search_time, retention_days)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET last_search_time = $2
	`
	if _, err := r.pool.Exec(ctx, state, deviceID, searchEnd, r.retentionDays); err != nil {
		return fmt.Errorf("postgres: failed to update search state: %w", err)
	}
	return nil
}

// PruneCycles drops cycles that ended before the retention window measured
// back from reference.
func (r *PostgresRepository) PruneCycles(ctx context.Context, deviceID string, reference time.Time) error {
	if r.retentionDays <= 0 {
		return nil
	}
	cutoff := reference.AddDate(0, 0, -r.retentionDays)

	query := `DELETE FROM heating_cycles WHERE device_id = $1 AND end_time < $2`
	if _, err := r.pool.Exec(ctx, query, deviceID, cutoff); err != nil {
		return fmt.Errorf("postgres: failed to prune cycles: %w", err)
	}
	return nil
}

// ClearCycles empties the cache for the device.
func (r *PostgresRepository) ClearCycles(ctx context.Context, deviceID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM heating_cycles WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("postgres: failed to clear cycles: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM cycle_search_state WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("postgres: failed to clear search state: %w", err)
	}
	return nil
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}
