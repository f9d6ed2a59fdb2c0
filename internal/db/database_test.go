package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-anomaly-monitor/internal/detector"
	"vehicle-anomaly-monitor/internal/models"
)

var _ detector.History = (*Database)(nil)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "test_fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("close test database: %v", err)
		}
	})
	return d
}

func sampleAt(vehicleID string, ts time.Time, speed float64) models.TelemetrySample {
	return models.TelemetrySample{
		VehicleID:  vehicleID,
		Timestamp:  ts,
		Speed:      speed,
		RPM:        2200,
		Throttle:   25,
		Brake:      5,
		EngineTemp: 92,
		FuelLevel:  70,
		Latitude:   35.69,
		Longitude:  139.69,
		Odometer:   12000 + speed,
	}
}

func TestVehicles(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.UpsertVehicle(ctx, &models.Vehicle{ID: "VH0002", Make: "Toyota", Model: "Prius", Year: 2023}))
	require.NoError(t, d.UpsertVehicle(ctx, &models.Vehicle{ID: "VH0001", Make: "Toyota", Model: "Camry"}))
	require.NoError(t, d.UpsertVehicle(ctx, &models.Vehicle{ID: "VH0001", Make: "Lexus", Model: "RX", Year: 2021}))

	vehicles, err := d.ListVehicles(ctx)
	require.NoError(t, err)
	require.Len(t, vehicles, 2)
	assert.Equal(t, "VH0001", vehicles[0].ID)
	assert.Equal(t, "Lexus", vehicles[0].Make)
	assert.Equal(t, 2021, vehicles[0].Year)

	v, err := d.GetVehicle(ctx, "VH0002")
	require.NoError(t, err)
	assert.Equal(t, "Prius", v.Model)

	_, err = d.GetVehicle(ctx, "VH9999")
	assert.Error(t, err)
}

func TestTelemetryQueries(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	single := sampleAt("VH0001", base, 40)
	require.NoError(t, d.InsertTelemetry(ctx, &single))
	assert.NotZero(t, single.ID)

	batch := []models.TelemetrySample{
		sampleAt("VH0001", base.Add(1*time.Minute), 55),
		sampleAt("VH0001", base.Add(2*time.Minute), 70),
		sampleAt("VH0001", base.Add(3*time.Minute), 90),
		sampleAt("VH0002", base.Add(1*time.Minute), 30),
	}
	n, err := d.InsertTelemetryBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	t.Run("vehicle and half-open range", func(t *testing.T) {
		got, err := d.QueryTelemetry(ctx, models.TelemetryQuery{
			VehicleID: "VH0001",
			StartTime: base.Add(1 * time.Minute),
			EndTime:   base.Add(3 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 70.0, got[0].Speed, "newest first")
		assert.True(t, got[0].Timestamp.Equal(base.Add(2*time.Minute)))
		assert.Equal(t, 55.0, got[1].Speed)
		assert.Equal(t, 25.0, got[1].Throttle)
		assert.Equal(t, 5.0, got[1].Brake)
	})

	t.Run("speed filter and limit", func(t *testing.T) {
		got, err := d.QueryTelemetry(ctx, models.TelemetryQuery{MinSpeed: 50, Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, s := range got {
			assert.GreaterOrEqual(t, s.Speed, 50.0)
		}
	})

	t.Run("latest", func(t *testing.T) {
		latest, err := d.GetLatestTelemetry(ctx, "VH0001")
		require.NoError(t, err)
		assert.Equal(t, 90.0, latest.Speed)
	})

	t.Run("summary", func(t *testing.T) {
		s, err := d.GetTelemetrySummary(ctx, "VH0001")
		require.NoError(t, err)
		assert.Equal(t, 4, s.TotalRecords)
		assert.Equal(t, 90.0, s.MaxSpeed)
		assert.InDelta(t, 63.75, s.AvgSpeed, 1e-9)
		assert.InDelta(t, 50.0, s.TotalDistanceKM, 1e-9)
	})
}

func TestFaults(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	faults := []models.FaultEvent{
		{VehicleID: "VH0001", Timestamp: now, Code: "P0300", Description: "misfire", Severity: models.SeverityHigh},
		{VehicleID: "VH0002", Timestamp: now.Add(time.Minute), Code: "P0420", Description: "catalyst", Severity: models.SeverityMedium, Resolved: true},
	}
	for i := range faults {
		require.NoError(t, d.InsertFault(ctx, &faults[i]))
	}

	all, err := d.QueryFaults(ctx, models.FaultQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "P0420", all[0].Code)

	high, err := d.QueryFaults(ctx, models.FaultQuery{Severity: models.SeverityHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "VH0001", high[0].VehicleID)

	resolved := true
	done, err := d.QueryFaults(ctx, models.FaultQuery{Resolved: &resolved})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.True(t, done[0].Resolved)

	bad := models.FaultEvent{VehicleID: "VH0001", Timestamp: now, Code: "P0171", Severity: "CRITICAL"}
	assert.Error(t, d.InsertFault(ctx, &bad))
}

func TestAnomalies(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	anomalies := []models.DetectedAnomaly{
		{
			ID:        "a-1",
			VehicleID: "VH0001",
			Timestamp: now,
			AnomalyResult: models.AnomalyResult{
				IsAnomaly:   true,
				Confidence:  0.95,
				AnomalyType: models.AnomalyTypeRuleBased,
				Violations: []models.RuleViolation{
					{Type: "engine_overheating", Severity: models.SeverityHigh, Confidence: 0.95},
				},
			},
		},
		{
			ID:            "a-2",
			VehicleID:     "VH0002",
			Timestamp:     now.Add(time.Minute),
			AnomalyResult: models.AnomalyResult{IsAnomaly: true, Confidence: 0.12, AnomalyType: models.AnomalyTypeMachineLearning},
		},
	}
	n, err := d.InsertAnomalies(ctx, anomalies)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := d.QueryAnomalies(ctx, models.AnomalyQuery{VehicleID: "VH0001"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.AnomalyTypeRuleBased, got[0].AnomalyType)
	require.Len(t, got[0].Violations, 1)
	assert.Equal(t, "engine_overheating", got[0].Violations[0].Type)

	ml, err := d.QueryAnomalies(ctx, models.AnomalyQuery{AnomalyType: models.AnomalyTypeMachineLearning})
	require.NoError(t, err)
	require.Len(t, ml, 1)
	assert.Empty(t, ml[0].Violations)

	stats, err := d.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats["total_anomalies"])
	assert.Equal(t, int64(0), stats["total_telemetry_records"])
}

func TestDetectBatchOverStoredHistory(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	hot := sampleAt("VH0001", base.Add(time.Minute), 50)
	hot.EngineTemp = 112
	_, err := d.InsertTelemetryBatch(ctx, []models.TelemetrySample{
		sampleAt("VH0001", base, 50),
		hot,
		sampleAt("VH0001", base.Add(2*time.Minute), 50),
	})
	require.NoError(t, err)

	det := detector.New(detector.DefaultConfig(), detector.WithHistory(d))
	found, err := det.DetectBatch(ctx, "VH0001", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].Timestamp.Equal(hot.Timestamp))

	none, err := det.DetectBatch(ctx, "VH0001", base.Add(24*time.Hour), base.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}
