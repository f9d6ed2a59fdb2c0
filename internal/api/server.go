package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vehicle-anomaly-monitor/internal/db"
	"vehicle-anomaly-monitor/internal/detector"
	"vehicle-anomaly-monitor/internal/metrics"
	"vehicle-anomaly-monitor/internal/models"
	"vehicle-anomaly-monitor/internal/parser"
)

// maxReportedAnomalies caps the anomalies echoed back by batch detection;
// the full count is always reported.
const maxReportedAnomalies = 10

// Publisher forwards accepted records to the message bus
type Publisher interface {
	PublishFleet(ctx context.Context, records []models.FleetRecord) error
	PublishAnomalies(ctx context.Context, anomalies []models.DetectedAnomaly) error
}

// Server represents the API server
type Server struct {
	db        *db.Database
	detector  *detector.Detector
	publisher Publisher
	logger    zerolog.Logger
	registry  *prometheus.Registry
	router    *mux.Router
}

// Option configures a Server
type Option func(*Server)

// WithPublisher forwards accepted telemetry, faults and anomalies to p
func WithPublisher(p Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithLogger sets the request and handler logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new API server
func NewServer(database *db.Database, det *detector.Detector, opts ...Option) *Server {
	s := &Server{
		db:       database,
		detector: det,
		logger:   zerolog.Nop(),
		registry: prometheus.NewRegistry(),
		router:   mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(collectors.NewGoCollector())
	if err := metrics.Register(s.registry); err != nil {
		s.logger.Error().Err(err).Msg("failed to register metrics")
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(jsonMiddleware)

	// Vehicle endpoints
	v1.HandleFunc("/vehicles", s.handleListVehicles).Methods("GET")
	v1.HandleFunc("/vehicles", s.handleCreateVehicle).Methods("POST")
	v1.HandleFunc("/vehicles/{id}", s.handleGetVehicle).Methods("GET")

	// Telemetry endpoints
	v1.HandleFunc("/telemetry", s.handleQueryTelemetry).Methods("GET")
	v1.HandleFunc("/telemetry", s.handleCreateTelemetry).Methods("POST")
	v1.HandleFunc("/telemetry/batch", s.handleBatchTelemetry).Methods("POST")
	v1.HandleFunc("/telemetry/latest/{vehicle_id}", s.handleLatestTelemetry).Methods("GET")
	v1.HandleFunc("/telemetry/summary/{vehicle_id}", s.handleTelemetrySummary).Methods("GET")

	// Fault endpoints
	v1.HandleFunc("/faults", s.handleQueryFaults).Methods("GET")
	v1.HandleFunc("/faults", s.handleCreateFault).Methods("POST")

	// Anomaly endpoints
	v1.HandleFunc("/anomalies", s.handleQueryAnomalies).Methods("GET")
	v1.HandleFunc("/anomalies/detect", s.handleDetectAnomalies).Methods("POST")

	// Model endpoints
	v1.HandleFunc("/model", s.handleModelInfo).Methods("GET")
	v1.HandleFunc("/model/train", s.handleTrainModel).Methods("POST")

	v1.HandleFunc("/stats", s.handleStats).Methods("GET")
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total   int   `json:"total,omitempty"`
	Limit   int   `json:"limit,omitempty"`
	Offset  int   `json:"offset,omitempty"`
	QueryMs int64 `json:"query_ms,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, data interface{}, m *meta) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: m})
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"model_trained": s.detector.IsTrained(),
	})
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.db.ListVehicles(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}
	respondJSON(w, http.StatusOK, vehicles)
}

func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if v.ID == "" || v.Make == "" || v.Model == "" {
		respondError(w, http.StatusBadRequest, "id, make, and model are required")
		return
	}

	if err := s.db.UpsertVehicle(r.Context(), &v); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	vehicle, err := s.db.GetVehicle(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "vehicle not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, vehicle)
}

func (s *Server) handleQueryTelemetry(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q := models.TelemetryQuery{
		VehicleID: r.URL.Query().Get("vehicle_id"),
		Limit:     queryLimit(r, 100),
	}

	params := r.URL.Query()
	var err error
	if v := params.Get("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil || q.Offset < 0 {
			respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
	}
	if v := params.Get("start_time"); v != "" {
		if q.StartTime, err = time.Parse(time.RFC3339, v); err != nil {
			respondError(w, http.StatusBadRequest, "start_time must be RFC3339")
			return
		}
	}
	if v := params.Get("end_time"); v != "" {
		if q.EndTime, err = time.Parse(time.RFC3339, v); err != nil {
			respondError(w, http.StatusBadRequest, "end_time must be RFC3339")
			return
		}
	}
	if v := params.Get("min_speed"); v != "" {
		if q.MinSpeed, err = strconv.ParseFloat(v, 64); err != nil {
			respondError(w, http.StatusBadRequest, "min_speed must be a number")
			return
		}
	}
	if v := params.Get("max_speed"); v != "" {
		if q.MaxSpeed, err = strconv.ParseFloat(v, 64); err != nil {
			respondError(w, http.StatusBadRequest, "max_speed must be a number")
			return
		}
	}

	results, err := s.db.QueryTelemetry(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []models.TelemetrySample{}
	}

	respondWithMeta(w, results, &meta{
		Total:   len(results),
		Limit:   q.Limit,
		Offset:  q.Offset,
		QueryMs: time.Since(start).Milliseconds(),
	})
}

type telemetryResponse struct {
	Telemetry models.TelemetrySample `json:"telemetry"`
	Detection models.AnomalyResult   `json:"detection"`
	AnomalyID string                 `json:"anomaly_id,omitempty"`
}

func (s *Server) handleCreateTelemetry(w http.ResponseWriter, r *http.Request) {
	var t models.TelemetrySample
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if errs := parser.ValidateTelemetry(&t); len(errs) > 0 {
		respondError(w, http.StatusBadRequest, strings.Join(errs, "; "))
		return
	}

	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	ctx := r.Context()
	if err := s.db.InsertTelemetry(ctx, &t); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registerVehicle(ctx, t)

	resp := telemetryResponse{Telemetry: t, Detection: s.detector.DetectSinglePoint(t)}
	if resp.Detection.IsAnomaly {
		snapshot := t
		anomaly := models.DetectedAnomaly{
			ID:            detector.AnomalyID(t.VehicleID, t.Timestamp, resp.Detection.AnomalyType),
			VehicleID:     t.VehicleID,
			Timestamp:     t.Timestamp,
			AnomalyResult: resp.Detection,
			Snapshot:      &snapshot,
		}
		resp.AnomalyID = anomaly.ID
		s.storeAnomalies(ctx, []models.DetectedAnomaly{anomaly})
	}

	s.publishFleet(ctx, []models.FleetRecord{{VehicleID: t.VehicleID, Telemetry: &t}})
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleBatchTelemetry(w http.ResponseWriter, r *http.Request) {
	var records []models.TelemetrySample
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON array")
		return
	}

	if len(records) == 0 {
		respondError(w, http.StatusBadRequest, "empty array")
		return
	}

	now := time.Now().UTC()
	for i := range records {
		if errs := parser.ValidateTelemetry(&records[i]); len(errs) > 0 {
			respondError(w, http.StatusBadRequest, "record "+strconv.Itoa(i)+": "+strings.Join(errs, "; "))
			return
		}
		if records[i].Timestamp.IsZero() {
			records[i].Timestamp = now
		}
	}

	ctx := r.Context()
	count, err := s.db.InsertTelemetryBatch(ctx, records)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	found := s.detector.DetectSamples(records)
	s.storeAnomalies(ctx, found)

	fleet := make([]models.FleetRecord, len(records))
	for i := range records {
		fleet[i] = models.FleetRecord{VehicleID: records[i].VehicleID, Telemetry: &records[i]}
	}
	s.publishFleet(ctx, fleet)

	respondJSON(w, http.StatusCreated, map[string]int64{
		"inserted":  count,
		"anomalies": int64(len(found)),
	})
}

func (s *Server) handleLatestTelemetry(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vehicleID := mux.Vars(r)["vehicle_id"]

	telemetry, err := s.db.GetLatestTelemetry(r.Context(), vehicleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "no telemetry found for vehicle")
		return
	}

	respondWithMeta(w, telemetry, &meta{QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleTelemetrySummary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vehicleID := mux.Vars(r)["vehicle_id"]

	summary, err := s.db.GetTelemetrySummary(r.Context(), vehicleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "no data found for vehicle")
		return
	}

	respondWithMeta(w, summary, &meta{QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleQueryFaults(w http.ResponseWriter, r *http.Request) {
	q := models.FaultQuery{
		VehicleID: r.URL.Query().Get("vehicle_id"),
		Severity:  models.Severity(strings.ToUpper(r.URL.Query().Get("severity"))),
		Limit:     queryLimit(r, 100),
	}
	if v := r.URL.Query().Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "resolved must be true or false")
			return
		}
		q.Resolved = &resolved
	}

	faults, err := s.db.QueryFaults(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if faults == nil {
		faults = []models.FaultEvent{}
	}

	respondWithMeta(w, faults, &meta{Total: len(faults), Limit: q.Limit})
}

func (s *Server) handleCreateFault(w http.ResponseWriter, r *http.Request) {
	var f models.FaultEvent
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	f.Severity = models.Severity(strings.ToUpper(string(f.Severity)))
	if errs := parser.ValidateFault(&f); len(errs) > 0 {
		respondError(w, http.StatusBadRequest, strings.Join(errs, "; "))
		return
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}

	ctx := r.Context()
	if err := s.db.InsertFault(ctx, &f); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.publishFleet(ctx, []models.FleetRecord{{VehicleID: f.VehicleID, Fault: &f}})
	respondJSON(w, http.StatusCreated, f)
}

func (s *Server) handleQueryAnomalies(w http.ResponseWriter, r *http.Request) {
	q := models.AnomalyQuery{
		VehicleID:   r.URL.Query().Get("vehicle_id"),
		AnomalyType: models.AnomalyType(r.URL.Query().Get("type")),
		Limit:       queryLimit(r, 100),
	}

	anomalies, err := s.db.QueryAnomalies(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if anomalies == nil {
		anomalies = []models.DetectedAnomaly{}
	}

	respondWithMeta(w, anomalies, &meta{Total: len(anomalies), Limit: q.Limit})
}

type detectRequest struct {
	VehicleID string    `json:"vehicle_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type detectResponse struct {
	VehicleID         string                   `json:"vehicle_id"`
	AnomaliesDetected int                      `json:"anomalies_detected"`
	Anomalies         []models.DetectedAnomaly `json:"anomalies"`
}

func (s *Server) handleDetectAnomalies(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.VehicleID == "" {
		respondError(w, http.StatusBadRequest, "vehicle_id is required")
		return
	}
	if req.EndTime.IsZero() {
		req.EndTime = time.Now().UTC()
	}
	if req.StartTime.IsZero() {
		req.StartTime = req.EndTime.Add(-24 * time.Hour)
	}

	ctx := r.Context()
	found, err := s.detector.DetectBatch(ctx, req.VehicleID, req.StartTime, req.EndTime)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.storeAnomalies(ctx, found)

	resp := detectResponse{
		VehicleID:         req.VehicleID,
		AnomaliesDetected: len(found),
		Anomalies:         found,
	}
	if len(resp.Anomalies) > maxReportedAnomalies {
		resp.Anomalies = resp.Anomalies[:maxReportedAnomalies]
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.detector.Info())
}

type trainRequest struct {
	Source    string `json:"source"`
	VehicleID string `json:"vehicle_id"`
	Samples   int    `json:"samples"`
	Seed      int64  `json:"seed"`
}

func (s *Server) handleTrainModel(w http.ResponseWriter, r *http.Request) {
	req := trainRequest{Source: "synthetic", Samples: 1000}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.Samples <= 0 {
		req.Samples = 1000
	}

	var samples []models.TelemetrySample
	switch req.Source {
	case "", "synthetic":
		seed := req.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		samples = detector.GenerateTrainingData(req.Samples, rand.New(rand.NewSource(seed)))
	case "history":
		var err error
		samples, err = s.db.QueryTelemetry(r.Context(), models.TelemetryQuery{
			VehicleID: req.VehicleID,
			Limit:     req.Samples,
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	default:
		respondError(w, http.StatusBadRequest, "source must be synthetic or history")
		return
	}

	if err := s.detector.Train(samples); err != nil {
		if errors.Is(err, detector.ErrInsufficientSamples) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, s.detector.Info())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats["model_trained"] = s.detector.IsTrained()

	respondJSON(w, http.StatusOK, stats)
}

// registerVehicle records make/model carried on a sample; failures are logged only
func (s *Server) registerVehicle(ctx context.Context, t models.TelemetrySample) {
	if t.Make == "" || t.Model == "" {
		return
	}
	v := models.Vehicle{ID: t.VehicleID, Make: t.Make, Model: t.Model}
	if err := s.db.UpsertVehicle(ctx, &v); err != nil {
		s.logger.Warn().Err(err).Str("vehicle_id", t.VehicleID).Msg("failed to register vehicle")
	}
}

func (s *Server) storeAnomalies(ctx context.Context, found []models.DetectedAnomaly) {
	if len(found) == 0 {
		return
	}
	if _, err := s.db.InsertAnomalies(ctx, found); err != nil {
		s.logger.Error().Err(err).Int("anomalies", len(found)).Msg("failed to store anomalies")
	}
	if s.publisher != nil {
		if err := s.publisher.PublishAnomalies(ctx, found); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish anomalies")
		}
	}
}

func (s *Server) publishFleet(ctx context.Context, records []models.FleetRecord) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishFleet(ctx, records); err != nil {
		s.logger.Warn().Err(err).Int("records", len(records)).Msg("failed to publish fleet records")
	}
}
