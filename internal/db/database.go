package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vehicle-anomaly-monitor/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQLite connection
type Database struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates tables and indexes
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		year INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS telemetry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vehicle_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		speed REAL NOT NULL,
		rpm REAL NOT NULL,
		throttle REAL NOT NULL,
		brake REAL NOT NULL,
		engine_temp REAL NOT NULL,
		fuel_level REAL NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		odometer REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS faults (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vehicle_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		code TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL CHECK (severity IN ('LOW', 'MEDIUM', 'HIGH')),
		resolved INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		anomaly_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		violations TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_telemetry_vehicle_timestamp ON telemetry(vehicle_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_telemetry_timestamp ON telemetry(timestamp);
	CREATE INDEX IF NOT EXISTS idx_faults_vehicle_timestamp ON faults(vehicle_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_anomalies_vehicle_timestamp ON anomalies(vehicle_id, timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// Ping checks the connection is usable
func (db *Database) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// UpsertVehicle registers a vehicle or refreshes its make/model/year
func (db *Database) UpsertVehicle(ctx context.Context, v *models.Vehicle) error {
	query := `
		INSERT INTO vehicles (id, make, model, year) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET make = excluded.make, model = excluded.model, year = excluded.year
	`
	_, err := db.conn.ExecContext(ctx, query, v.ID, v.Make, v.Model, v.Year)
	return err
}

// GetVehicle retrieves a vehicle by ID
func (db *Database) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	query := `SELECT id, make, model, COALESCE(year, 0), created_at FROM vehicles WHERE id = ?`

	var v models.Vehicle
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&v.ID, &v.Make, &v.Model, &v.Year, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVehicles returns all vehicles
func (db *Database) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	query := `SELECT id, make, model, COALESCE(year, 0), created_at FROM vehicles ORDER BY id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var v models.Vehicle
		if err := rows.Scan(&v.ID, &v.Make, &v.Model, &v.Year, &v.CreatedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

const insertTelemetrySQL = `
	INSERT INTO telemetry
	(vehicle_id, timestamp, speed, rpm, throttle, brake, engine_temp,
	 fuel_level, latitude, longitude, odometer)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectTelemetrySQL = `
	SELECT id, vehicle_id, timestamp, speed, rpm, throttle, brake,
	       engine_temp, fuel_level, latitude, longitude, odometer
	FROM telemetry
`

func telemetryArgs(t *models.TelemetrySample) []interface{} {
	return []interface{}{
		t.VehicleID, t.Timestamp.UTC(), t.Speed, t.RPM, t.Throttle, t.Brake,
		t.EngineTemp, t.FuelLevel, t.Latitude, t.Longitude, t.Odometer,
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTelemetry(row scanner) (models.TelemetrySample, error) {
	var t models.TelemetrySample
	err := row.Scan(
		&t.ID, &t.VehicleID, &t.Timestamp, &t.Speed, &t.RPM, &t.Throttle, &t.Brake,
		&t.EngineTemp, &t.FuelLevel, &t.Latitude, &t.Longitude, &t.Odometer,
	)
	return t, err
}

// InsertTelemetry adds a single telemetry record
func (db *Database) InsertTelemetry(ctx context.Context, t *models.TelemetrySample) error {
	result, err := db.conn.ExecContext(ctx, insertTelemetrySQL, telemetryArgs(t)...)
	if err != nil {
		return err
	}

	id, _ := result.LastInsertId()
	t.ID = id
	return nil
}

// InsertTelemetryBatch efficiently inserts multiple telemetry records
func (db *Database) InsertTelemetryBatch(ctx context.Context, records []models.TelemetrySample) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertTelemetrySQL)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for i := range records {
		if _, err := stmt.ExecContext(ctx, telemetryArgs(&records[i])...); err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

// QueryTelemetry retrieves telemetry data based on query parameters.
// StartTime is inclusive and EndTime exclusive.
func (db *Database) QueryTelemetry(ctx context.Context, q models.TelemetryQuery) ([]models.TelemetrySample, error) {
	var conditions []string
	var args []interface{}

	baseQuery := selectTelemetrySQL

	if q.VehicleID != "" {
		conditions = append(conditions, "vehicle_id = ?")
		args = append(args, q.VehicleID)
	}
	if !q.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, q.StartTime.UTC())
	}
	if !q.EndTime.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, q.EndTime.UTC())
	}
	if q.MinSpeed > 0 {
		conditions = append(conditions, "speed >= ?")
		args = append(args, q.MinSpeed)
	}
	if q.MaxSpeed > 0 {
		conditions = append(conditions, "speed <= ?")
		args = append(args, q.MaxSpeed)
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	baseQuery += " ORDER BY timestamp DESC"

	if q.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			baseQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}

	rows, err := db.conn.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.TelemetrySample
	for rows.Next() {
		t, err := scanTelemetry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}

	return results, rows.Err()
}

// GetLatestTelemetry returns the most recent telemetry for a vehicle
func (db *Database) GetLatestTelemetry(ctx context.Context, vehicleID string) (*models.TelemetrySample, error) {
	query := selectTelemetrySQL + ` WHERE vehicle_id = ? ORDER BY timestamp DESC LIMIT 1`

	t, err := scanTelemetry(db.conn.QueryRowContext(ctx, query, vehicleID))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTelemetrySummary returns aggregated statistics for a vehicle
func (db *Database) GetTelemetrySummary(ctx context.Context, vehicleID string) (*models.TelemetrySummary, error) {
	query := `
		SELECT
			vehicle_id,
			COUNT(*) as total_records,
			AVG(speed) as avg_speed,
			MAX(speed) as max_speed,
			AVG(rpm) as avg_rpm,
			MAX(rpm) as max_rpm,
			MAX(odometer) - MIN(odometer) as total_distance,
			AVG(fuel_level) as avg_fuel,
			AVG(engine_temp) as avg_temp
		FROM telemetry
		WHERE vehicle_id = ?
		GROUP BY vehicle_id
	`

	var s models.TelemetrySummary
	err := db.conn.QueryRowContext(ctx, query, vehicleID).Scan(
		&s.VehicleID, &s.TotalRecords, &s.AvgSpeed, &s.MaxSpeed, &s.AvgRPM, &s.MaxRPM,
		&s.TotalDistanceKM, &s.AvgFuelLevel, &s.AvgEngineTemp,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertFault stores a diagnostic fault event
func (db *Database) InsertFault(ctx context.Context, f *models.FaultEvent) error {
	query := `
		INSERT INTO faults (vehicle_id, timestamp, code, description, severity, resolved)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := db.conn.ExecContext(ctx, query,
		f.VehicleID, f.Timestamp.UTC(), f.Code, f.Description, string(f.Severity), f.Resolved,
	)
	if err != nil {
		return err
	}

	id, _ := result.LastInsertId()
	f.ID = id
	return nil
}

// QueryFaults returns fault events, newest first
func (db *Database) QueryFaults(ctx context.Context, q models.FaultQuery) ([]models.FaultEvent, error) {
	var conditions []string
	var args []interface{}

	query := `SELECT id, vehicle_id, timestamp, code, description, severity, resolved FROM faults`

	if q.VehicleID != "" {
		conditions = append(conditions, "vehicle_id = ?")
		args = append(args, q.VehicleID)
	}
	if q.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(q.Severity))
	}
	if q.Resolved != nil {
		conditions = append(conditions, "resolved = ?")
		args = append(args, *q.Resolved)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY timestamp DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.FaultEvent
	for rows.Next() {
		var f models.FaultEvent
		var severity string
		if err := rows.Scan(&f.ID, &f.VehicleID, &f.Timestamp, &f.Code, &f.Description, &severity, &f.Resolved); err != nil {
			return nil, err
		}
		f.Severity = models.Severity(severity)
		results = append(results, f)
	}
	return results, rows.Err()
}

// InsertAnomalies stores detected anomalies in one transaction
func (db *Database) InsertAnomalies(ctx context.Context, anomalies []models.DetectedAnomaly) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO anomalies (id, vehicle_id, timestamp, anomaly_type, confidence, violations)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for _, a := range anomalies {
		violations, err := json.Marshal(a.Violations)
		if err != nil {
			return count, fmt.Errorf("encode violations: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.VehicleID, a.Timestamp.UTC(), string(a.AnomalyType), a.Confidence, string(violations),
		); err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

// QueryAnomalies returns stored anomalies, newest first
func (db *Database) QueryAnomalies(ctx context.Context, q models.AnomalyQuery) ([]models.DetectedAnomaly, error) {
	var conditions []string
	var args []interface{}

	query := `SELECT id, vehicle_id, timestamp, anomaly_type, confidence, violations FROM anomalies`

	if q.VehicleID != "" {
		conditions = append(conditions, "vehicle_id = ?")
		args = append(args, q.VehicleID)
	}
	if q.AnomalyType != "" {
		conditions = append(conditions, "anomaly_type = ?")
		args = append(args, string(q.AnomalyType))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY timestamp DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.DetectedAnomaly
	for rows.Next() {
		var a models.DetectedAnomaly
		var anomalyType string
		var violations sql.NullString
		if err := rows.Scan(&a.ID, &a.VehicleID, &a.Timestamp, &anomalyType, &a.Confidence, &violations); err != nil {
			return nil, err
		}
		a.IsAnomaly = true
		a.AnomalyType = models.AnomalyType(anomalyType)
		if violations.Valid && violations.String != "" && violations.String != "null" {
			if err := json.Unmarshal([]byte(violations.String), &a.Violations); err != nil {
				return nil, fmt.Errorf("decode violations for %s: %w", a.ID, err)
			}
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// GetStats returns database statistics
func (db *Database) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"total_telemetry_records", "SELECT COUNT(*) FROM telemetry"},
		{"total_vehicles", "SELECT COUNT(*) FROM vehicles"},
		{"total_faults", "SELECT COUNT(*) FROM faults"},
		{"unresolved_faults", "SELECT COUNT(*) FROM faults WHERE resolved = 0"},
		{"total_anomalies", "SELECT COUNT(*) FROM anomalies"},
	}
	for _, c := range counts {
		var n int64
		if err := db.conn.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.key, err)
		}
		stats[c.key] = n
	}

	return stats, nil
}
