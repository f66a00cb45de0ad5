package historian

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/extrusight/extrusight/internal/config"
	monerrors "github.com/extrusight/extrusight/internal/errors"
	"github.com/extrusight/extrusight/internal/models"
)

// SQLSource reads snapshots from a tabular SQL historian. Expected columns:
// machine_id TEXT, timestamp INTEGER (unix milliseconds, UTC), screw_rpm,
// pressure, temp_zone_1..temp_zone_4, motor_load, throughput REAL (all
// nullable), material TEXT (nullable).
type SQLSource struct {
	db    *sql.DB
	table string
}

// NewSQLSource opens the historian connection described by cfg.
func NewSQLSource(cfg config.HistorianConfig) (*SQLSource, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open historian database: %w", err)
	}
	// Readers only; a single connection keeps the sqlite driver happy and
	// costs nothing for other drivers at this poll rate.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	table := cfg.Table
	if cfg.Schema != "" && cfg.Schema != "main" {
		table = cfg.Schema + "." + cfg.Table
	}
	return &SQLSource{db: db, table: table}, nil
}

// FetchSince implements Source. A failed query never advances the caller's
// watermark because the caller only advances it on success.
func (s *SQLSource) FetchSince(ctx context.Context, machineID string, watermark time.Time, limit int) (FetchResult, error) {
	if limit <= 0 {
		limit = 5000
	}
	query := fmt.Sprintf(`
		SELECT timestamp, screw_rpm, pressure,
		       temp_zone_1, temp_zone_2, temp_zone_3, temp_zone_4,
		       motor_load, throughput, material
		FROM %s
		WHERE machine_id = ? AND timestamp > ?
		ORDER BY timestamp ASC
		LIMIT ?`, s.table)

	rows, err := s.db.QueryContext(ctx, query, machineID, watermark.UnixMilli(), limit)
	if err != nil {
		return FetchResult{}, classifyFetchError(machineID, err)
	}
	defer rows.Close()

	var result FetchResult
	for rows.Next() {
		var (
			ts                 int64
			rpm, pressure      sql.NullFloat64
			z1, z2, z3, z4     sql.NullFloat64
			motorLoad, through sql.NullFloat64
			material           sql.NullString
		)
		if err := rows.Scan(&ts, &rpm, &pressure, &z1, &z2, &z3, &z4, &motorLoad, &through, &material); err != nil {
			result.Malformed++
			log.Debug().Err(err).Str("machine", machineID).Msg("Dropping malformed historian row")
			continue
		}
		reading := models.Reading{
			MachineID:  machineID,
			Timestamp:  time.UnixMilli(ts).UTC(),
			ScrewRPM:   nullableFloat(rpm),
			Pressure:   nullableFloat(pressure),
			MotorLoad:  nullableFloat(motorLoad),
			Throughput: nullableFloat(through),
			Material:   strings.TrimSpace(material.String),
		}
		reading.TempZones[0] = nullableFloat(z1)
		reading.TempZones[1] = nullableFloat(z2)
		reading.TempZones[2] = nullableFloat(z3)
		reading.TempZones[3] = nullableFloat(z4)
		result.Readings = append(result.Readings, reading)
	}
	if err := rows.Err(); err != nil {
		return FetchResult{}, classifyFetchError(machineID, err)
	}
	return result, nil
}

// Close closes the underlying connection pool.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func classifyFetchError(machineID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return monerrors.NewMonitorError(monerrors.ErrorTypeTimeout, "fetch_rows", machineID, err)
	}
	return monerrors.NewMonitorError(monerrors.ErrorTypeConnection, "fetch_rows", machineID, err)
}
