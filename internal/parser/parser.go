package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"vehicle-anomaly-monitor/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parser handles parsing of telemetry data files
type Parser struct {
	format string
	logger zerolog.Logger
}

// NewParser creates a new parser with the specified format
func NewParser(format string, logger zerolog.Logger) *Parser {
	return &Parser{format: format, logger: logger}
}

// ParseFile parses a telemetry data file
func (p *Parser) ParseFile(filename string) ([]models.TelemetrySample, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse reads telemetry in the parser's format from r
func (p *Parser) Parse(r io.Reader) ([]models.TelemetrySample, error) {
	switch strings.ToLower(p.format) {
	case "csv":
		return p.parseCSV(r)
	case "json":
		return p.parseJSON(r)
	case "jsonl", "jsonlines", "ndjson":
		return p.parseJSONLines(r)
	case "log":
		return p.parseLog(r)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

// parseCSV parses CSV formatted telemetry data
func (p *Parser) parseCSV(r io.Reader) ([]models.TelemetrySample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable fields

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	indices := make(map[string]int)
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var results []models.TelemetrySample
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return results, fmt.Errorf("error at line %d: %w", lineNum, err)
		}
		lineNum++

		data, err := recordToTelemetry(record, indices)
		if err != nil {
			p.logger.Warn().Int("line", lineNum).Err(err).Msg("skipping csv record")
			continue
		}
		results = append(results, data)
	}

	return results, nil
}

// recordToTelemetry converts a CSV record to a TelemetrySample
func recordToTelemetry(record []string, indices map[string]int) (models.TelemetrySample, error) {
	var t models.TelemetrySample

	getValue := func(key string) string {
		if idx, ok := indices[key]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	t.VehicleID = getValue("vehicle_id")
	if t.VehicleID == "" {
		return t, fmt.Errorf("missing vehicle_id")
	}

	if tsStr := getValue("timestamp"); tsStr != "" {
		ts, err := parseTimestamp(tsStr)
		if err != nil {
			return t, fmt.Errorf("invalid timestamp: %w", err)
		}
		t.Timestamp = ts
	}

	fields := []struct {
		key  string
		dest *float64
	}{
		{"speed", &t.Speed},
		{"rpm", &t.RPM},
		{"throttle", &t.Throttle},
		{"brake", &t.Brake},
		{"engine_temp", &t.EngineTemp},
		{"fuel_level", &t.FuelLevel},
		{"latitude", &t.Latitude},
		{"longitude", &t.Longitude},
		{"odometer", &t.Odometer},
	}
	for _, f := range fields {
		raw := getValue(f.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return t, fmt.Errorf("invalid %s %q", f.key, raw)
		}
		*f.dest = v
	}
	t.Make = getValue("make")
	t.Model = getValue("model")

	return t, nil
}

// parseJSON parses a JSON array, falling back to newline-delimited JSON
func (p *Parser) parseJSON(r io.Reader) ([]models.TelemetrySample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	var results []models.TelemetrySample
	if err := json.Unmarshal(data, &results); err == nil {
		return results, nil
	}

	return p.parseJSONLines(bytes.NewReader(data))
}

// parseJSONLines parses newline-delimited JSON
func (p *Parser) parseJSONLines(r io.Reader) ([]models.TelemetrySample, error) {
	var results []models.TelemetrySample
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "[" || line == "]" {
			continue
		}

		line = strings.TrimSuffix(line, ",")

		var t models.TelemetrySample
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			p.logger.Warn().Int("line", lineNum).Err(err).Msg("skipping json line")
			continue
		}
		results = append(results, t)
	}

	return results, scanner.Err()
}

// parseLog parses the pipe format:
// timestamp|vehicle_id|lat,lon|speed|rpm|throttle|brake|fuel|odometer|engine_temp
func (p *Parser) parseLog(r io.Reader) ([]models.TelemetrySample, error) {
	var results []models.TelemetrySample
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 10 {
			p.logger.Warn().Int("line", lineNum).Int("fields", len(parts)).Msg("insufficient fields")
			continue
		}

		var t models.TelemetrySample
		var err error

		t.Timestamp, err = parseTimestamp(strings.TrimSpace(parts[0]))
		if err != nil {
			p.logger.Warn().Int("line", lineNum).Err(err).Msg("invalid timestamp")
			continue
		}

		t.VehicleID = strings.TrimSpace(parts[1])

		coords := strings.Split(parts[2], ",")
		if len(coords) == 2 {
			t.Latitude, _ = strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
			t.Longitude, _ = strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
		}

		t.Speed, _ = strconv.ParseFloat(parts[3], 64)
		t.RPM, _ = strconv.ParseFloat(parts[4], 64)
		t.Throttle, _ = strconv.ParseFloat(parts[5], 64)
		t.Brake, _ = strconv.ParseFloat(parts[6], 64)
		t.FuelLevel, _ = strconv.ParseFloat(parts[7], 64)
		t.Odometer, _ = strconv.ParseFloat(parts[8], 64)
		t.EngineTemp, _ = strconv.ParseFloat(parts[9], 64)

		results = append(results, t)
	}

	return results, scanner.Err()
}

// parseTimestamp tries multiple timestamp formats
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
		"01/02/2006 15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(ts, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// ValidateTelemetry checks a sample against its field bounds and returns one
// message per failing field
func ValidateTelemetry(t *models.TelemetrySample) []string {
	return validationMessages(validate.Struct(t))
}

// ValidateFault checks a fault event
func ValidateFault(f *models.FaultEvent) []string {
	return validationMessages(validate.Struct(f))
}

func validationMessages(err error) []string {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := jsonName(fe.Field())
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "gte":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "lte":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of %s", field, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return messages
}

var jsonNames = map[string]string{
	"VehicleID":  "vehicle_id",
	"EngineTemp": "engine_temp",
	"FuelLevel":  "fuel_level",
	"RPM":        "rpm",
}

func jsonName(field string) string {
	if name, ok := jsonNames[field]; ok {
		return name
	}
	return strings.ToLower(field)
}
