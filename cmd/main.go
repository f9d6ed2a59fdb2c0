package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vehicle-anomaly-monitor/internal/api"
	"vehicle-anomaly-monitor/internal/config"
	"vehicle-anomaly-monitor/internal/db"
	"vehicle-anomaly-monitor/internal/detector"
	"vehicle-anomaly-monitor/internal/logging"
	"vehicle-anomaly-monitor/internal/models"
	"vehicle-anomaly-monitor/internal/parser"
	"vehicle-anomaly-monitor/internal/publisher"
	"vehicle-anomaly-monitor/internal/simulator"
)

var (
	configPath string
	dbPath     string
	logLevel   string

	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	database  *db.Database
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleet-monitor",
		Short: "Vehicle Anomaly Monitor - telemetry simulation and anomaly detection",
		Long: `A CLI tool for simulating, ingesting and analyzing vehicle telemetry.
Flags abnormal samples with a fixed rule table and an isolation forest,
stores everything in SQLite and serves it over a REST API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadRuntime(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (default $FLEET_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "fleet_telemetry.db", "Path to SQLite database")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(detectBatchCmd())
	rootCmd.AddCommand(vehicleCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadRuntime reads config, applies flag overrides and builds the logger
func loadRuntime(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, logCloser, err = logging.New(cfg.LoggingParams())
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	return nil
}

// initDB initializes database connection
func initDB() error {
	var err error
	database, err = db.New(cfg.Database.Path)
	return err
}

func newDetector() *detector.Detector {
	return detector.New(cfg.DetectorParams(),
		detector.WithLogger(logger.With().Str("component", "detector").Logger()),
		detector.WithHistory(database),
	)
}

// trainSynthetic fits det on the generated corpus sized by the config
func trainSynthetic(det *detector.Detector, n int, seed int64) error {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return det.Train(detector.GenerateTrainingData(n, rand.New(rand.NewSource(seed))))
}

func newPublisher() (*publisher.Publisher, error) {
	return publisher.New(publisher.Config{
		Brokers: cfg.Kafka.Brokers,
		Topics: publisher.Topics{
			Telemetry: cfg.Kafka.TelemetryTopic,
			Fault:     cfg.Kafka.FaultTopic,
			Anomaly:   cfg.Kafka.AnomalyTopic,
		},
		WriteTimeout: cfg.Kafka.WriteTimeout,
		Async:        cfg.Kafka.Async,
	}, logger.With().Str("component", "publisher").Logger())
}

func parseRFC3339(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s format (use RFC3339): %w", name, err)
	}
	return t, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port int
	var train bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("train") {
				cfg.Detector.TrainOnStart = train
			}

			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			det := newDetector()
			if cfg.Detector.TrainOnStart {
				if err := trainSynthetic(det, cfg.Detector.TrainingSamples, cfg.Detector.Seed); err != nil {
					logger.Warn().Err(err).Msg("startup training failed, serving rule-based detection only")
				}
			}

			opts := []api.Option{api.WithLogger(logger.With().Str("component", "api").Logger())}
			if cfg.Kafka.Enabled {
				pub, err := newPublisher()
				if err != nil {
					return fmt.Errorf("kafka error: %w", err)
				}
				defer pub.Close()
				opts = append(opts, api.WithPublisher(pub))
			}

			server := api.NewServer(database, det, opts...)
			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      server.Router(),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info().
					Str("addr", srv.Addr).
					Str("database", cfg.Database.Path).
					Bool("model_trained", det.IsTrained()).
					Bool("kafka", cfg.Kafka.Enabled).
					Msg("fleet monitor API listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Server port")
	cmd.Flags().BoolVar(&train, "train", true, "Train the outlier model on synthetic data at startup")
	return cmd
}

// ingestCmd ingests telemetry data from files
func ingestCmd() *cobra.Command {
	var format string
	var validate bool
	var detect bool

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest telemetry data from files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			ctx := cmd.Context()
			p := parser.NewParser(format, logger)
			var det *detector.Detector
			if detect {
				det = newDetector()
			}

			totalRecords := 0
			totalErrors := 0
			totalAnomalies := 0

			for _, file := range args {
				start := time.Now()

				records, err := p.ParseFile(file)
				if err != nil {
					logger.Error().Err(err).Str("file", file).Msg("parse failed")
					totalErrors++
					continue
				}

				if validate {
					valid := records[:0]
					for i := range records {
						if errs := parser.ValidateTelemetry(&records[i]); len(errs) > 0 {
							logger.Debug().Strs("errors", errs).Str("vehicle_id", records[i].VehicleID).Msg("invalid record")
							totalErrors++
							continue
						}
						valid = append(valid, records[i])
					}
					records = valid
				}

				count, err := database.InsertTelemetryBatch(ctx, records)
				if err != nil {
					logger.Error().Err(err).Str("file", file).Msg("database insert failed")
					continue
				}

				if det != nil {
					found := det.DetectSamples(records)
					if _, err := database.InsertAnomalies(ctx, found); err != nil {
						logger.Error().Err(err).Msg("failed to store anomalies")
					}
					totalAnomalies += len(found)
				}

				elapsed := time.Since(start)
				logger.Info().
					Str("file", file).
					Int64("inserted", count).
					Dur("elapsed", elapsed).
					Float64("records_per_sec", float64(count)/elapsed.Seconds()).
					Msg("file ingested")
				totalRecords += int(count)
			}

			fmt.Printf("Total: %d records ingested", totalRecords)
			if totalErrors > 0 {
				fmt.Printf(", %d errors", totalErrors)
			}
			if detect {
				fmt.Printf(", %d anomalies", totalAnomalies)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "File format (csv, json, jsonl, log)")
	cmd.Flags().BoolVarP(&validate, "validate", "v", true, "Validate records before inserting")
	cmd.Flags().BoolVar(&detect, "detect", false, "Run rule-based detection on ingested records")
	return cmd
}

// queryCmd queries telemetry data
func queryCmd() *cobra.Command {
	var vehicleID string
	var startTime string
	var endTime string
	var limit int
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query telemetry data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			q := models.TelemetryQuery{
				VehicleID: vehicleID,
				Limit:     limit,
			}

			var err error
			if q.StartTime, err = parseRFC3339("start_time", startTime); err != nil {
				return err
			}
			if q.EndTime, err = parseRFC3339("end_time", endTime); err != nil {
				return err
			}

			start := time.Now()
			results, err := database.QueryTelemetry(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}
			elapsed := time.Since(start)

			switch outputFormat {
			case "json":
				return printJSON(results)
			default:
				fmt.Printf("Found %d records (query time: %v)\n\n", len(results), elapsed)
				for _, r := range results {
					fmt.Printf("[%s] Vehicle: %s | Speed: %.1f km/h | RPM: %.0f | Throttle: %.0f%% | Brake: %.0f%% | Temp: %.1f°C | Fuel: %.1f%%\n",
						r.Timestamp.Format("2006-01-02 15:04:05"),
						r.VehicleID, r.Speed, r.RPM, r.Throttle, r.Brake, r.EngineTemp, r.FuelLevel)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&vehicleID, "vehicle", "V", "", "Filter by vehicle ID")
	cmd.Flags().StringVarP(&startTime, "start", "s", "", "Start time (RFC3339)")
	cmd.Flags().StringVarP(&endTime, "end", "e", "", "End time (RFC3339)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum records to return")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("Vehicle Anomaly Monitor Statistics")
			fmt.Println("==================================")
			fmt.Printf("  Total Vehicles:     %v\n", stats["total_vehicles"])
			fmt.Printf("  Telemetry Records:  %v\n", stats["total_telemetry_records"])
			fmt.Printf("  Fault Events:       %v (%v unresolved)\n", stats["total_faults"], stats["unresolved_faults"])
			fmt.Printf("  Anomalies:          %v\n", stats["total_anomalies"])
			fmt.Printf("  Database:           %s\n", cfg.Database.Path)

			return nil
		},
	}
}

// simulateCmd runs the fleet simulator
func simulateCmd() *cobra.Command {
	var fleetSize int
	var ticks int
	var interval time.Duration
	var seed int64
	var store bool
	var detect bool
	var kafkaOut bool
	var output string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate fleet telemetry and fault events",
		Long: `Generates one telemetry sample per vehicle per tick, plus an occasional
diagnostic fault. Records can be stored, scored, published to Kafka and
exported as JSON. With --ticks 0 the loop runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("vehicles") {
				cfg.Simulator.FleetSize = fleetSize
			}
			if cmd.Flags().Changed("interval") {
				cfg.Simulator.Interval = interval
			}
			if cmd.Flags().Changed("seed") {
				cfg.Simulator.Seed = seed
			}
			if cmd.Flags().Changed("kafka") {
				cfg.Kafka.Enabled = kafkaOut
			}
			if ticks == 0 && output != "" {
				return fmt.Errorf("--output requires a bounded run (--ticks > 0)")
			}

			fleetOpts := []simulator.FleetOption{
				simulator.WithVehicleOptions(
					simulator.WithStepInterval(cfg.Simulator.Interval),
					simulator.WithFaultProbability(cfg.Simulator.FaultProbability),
				),
			}
			if cfg.Simulator.Seed != 0 {
				fleetOpts = append(fleetOpts, simulator.WithFleetSeed(cfg.Simulator.Seed))
			}
			fleet := simulator.NewFleet(cfg.Simulator.FleetSize, fleetOpts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var det *detector.Detector
			if store {
				if err := initDB(); err != nil {
					return fmt.Errorf("database error: %w", err)
				}
				defer database.Close()

				for _, v := range fleet.Vehicles() {
					if err := database.UpsertVehicle(ctx, &v); err != nil {
						return fmt.Errorf("register vehicle %s: %w", v.ID, err)
					}
				}
				if detect {
					det = newDetector()
					if err := trainSynthetic(det, cfg.Detector.TrainingSamples, cfg.Detector.Seed); err != nil {
						logger.Warn().Err(err).Msg("training failed, using rule-based detection")
					}
				}
			}

			var pub *publisher.Publisher
			if cfg.Kafka.Enabled {
				var err error
				if pub, err = newPublisher(); err != nil {
					return fmt.Errorf("kafka error: %w", err)
				}
				defer pub.Close()
			}

			logger.Info().
				Int("fleet_size", fleet.Size()).
				Dur("interval", cfg.Simulator.Interval).
				Int("ticks", ticks).
				Bool("store", store).
				Bool("kafka", pub != nil).
				Msg("fleet simulation started")

			var exported []models.FleetRecord
			totals := struct{ telemetry, faults, anomalies int }{}

			ticker := time.NewTicker(cfg.Simulator.Interval)
			defer ticker.Stop()

		loop:
			for tick := 1; ticks == 0 || tick <= ticks; tick++ {
				records := fleet.GenerateFleetData()

				var samples []models.TelemetrySample
				for _, r := range records {
					if r.Telemetry != nil {
						samples = append(samples, *r.Telemetry)
						totals.telemetry++
					}
					if r.Fault != nil {
						totals.faults++
						logger.Info().
							Str("vehicle_id", r.VehicleID).
							Str("code", r.Fault.Code).
							Str("severity", string(r.Fault.Severity)).
							Msg("fault generated")
						if database != nil {
							if err := database.InsertFault(ctx, r.Fault); err != nil {
								logger.Error().Err(err).Msg("failed to store fault")
							}
						}
					}
				}

				if database != nil {
					if _, err := database.InsertTelemetryBatch(ctx, samples); err != nil {
						logger.Error().Err(err).Int("tick", tick).Msg("failed to store telemetry")
					}
				}

				var found []models.DetectedAnomaly
				if det != nil {
					found = det.DetectSamples(samples)
					totals.anomalies += len(found)
					if len(found) > 0 {
						if _, err := database.InsertAnomalies(ctx, found); err != nil {
							logger.Error().Err(err).Msg("failed to store anomalies")
						}
					}
				}

				if pub != nil {
					if err := pub.PublishFleet(ctx, records); err != nil {
						logger.Warn().Err(err).Int("tick", tick).Msg("publish failed")
					}
					if len(found) > 0 {
						if err := pub.PublishAnomalies(ctx, found); err != nil {
							logger.Warn().Err(err).Int("tick", tick).Msg("anomaly publish failed")
						}
					}
				}

				if output != "" {
					exported = append(exported, records...)
				}
				logger.Debug().Int("tick", tick).Int("records", len(records)).Msg("tick complete")

				if ticks != 0 && tick == ticks {
					break
				}
				select {
				case <-ctx.Done():
					logger.Info().Int("ticks", tick).Msg("simulation interrupted")
					break loop
				case <-ticker.C:
				}
			}

			fmt.Printf("Generated %d telemetry samples and %d faults", totals.telemetry, totals.faults)
			if det != nil {
				fmt.Printf(", %d anomalies", totals.anomalies)
			}
			fmt.Println()

			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()

				enc := json.NewEncoder(file)
				enc.SetIndent("", "  ")
				if err := enc.Encode(exported); err != nil {
					return fmt.Errorf("error writing output file: %w", err)
				}
				fmt.Printf("Data exported to %s\n", output)
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&fleetSize, "vehicles", "n", 5, "Number of vehicles in the fleet")
	cmd.Flags().IntVarP(&ticks, "ticks", "t", 10, "Number of generation ticks (0 runs until interrupted)")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 2*time.Second, "Time between ticks")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Fleet random seed (0 uses the clock)")
	cmd.Flags().BoolVar(&store, "store", true, "Store generated records in the database")
	cmd.Flags().BoolVar(&detect, "detect", false, "Score stored telemetry and record anomalies")
	cmd.Flags().BoolVar(&kafkaOut, "kafka", false, "Publish records to Kafka")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Export generated records to JSON file")
	return cmd
}

// trainCmd fits the outlier model and reports the result
func trainCmd() *cobra.Command {
	var source string
	var samples int
	var vehicleID string
	var seed int64

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the outlier model and report its fit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			var corpus []models.TelemetrySample
			switch source {
			case "synthetic":
				if seed == 0 {
					seed = time.Now().UnixNano()
				}
				corpus = detector.GenerateTrainingData(samples, rand.New(rand.NewSource(seed)))
			case "history":
				var err error
				corpus, err = database.QueryTelemetry(cmd.Context(), models.TelemetryQuery{
					VehicleID: vehicleID,
					Limit:     samples,
				})
				if err != nil {
					return fmt.Errorf("query error: %w", err)
				}
			default:
				return fmt.Errorf("unknown source %q (use synthetic or history)", source)
			}

			det := newDetector()
			if err := det.Train(corpus); err != nil {
				return fmt.Errorf("training failed: %w", err)
			}

			flagged := 0
			for _, s := range corpus {
				if det.ModelBasedDetection(s).IsAnomaly {
					flagged++
				}
			}

			info := det.Info()
			fmt.Println("Model Training Result")
			fmt.Println("=====================")
			fmt.Printf("  Source:          %s\n", source)
			fmt.Printf("  Samples:         %d\n", info.Samples)
			fmt.Printf("  Trees:           %d\n", info.Trees)
			fmt.Printf("  Contamination:   %.3f\n", info.Contamination)
			fmt.Printf("  Flagged (train): %d (%.1f%%)\n", flagged, 100*float64(flagged)/float64(len(corpus)))
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "synthetic", "Training data source (synthetic, history)")
	cmd.Flags().IntVar(&samples, "samples", 1000, "Number of samples to draw or load")
	cmd.Flags().StringVarP(&vehicleID, "vehicle", "V", "", "Restrict history to one vehicle")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Synthetic corpus seed (0 uses the clock)")
	return cmd
}

// detectCmd scores individual telemetry records
func detectCmd() *cobra.Command {
	var file string
	var format string
	var rulesOnly bool

	cmd := &cobra.Command{
		Use:   "detect [json-record]",
		Short: "Score telemetry records for anomalies",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var samples []models.TelemetrySample
			switch {
			case file != "":
				var err error
				samples, err = parser.NewParser(format, logger).ParseFile(file)
				if err != nil {
					return err
				}
			case len(args) == 1:
				var s models.TelemetrySample
				if err := json.Unmarshal([]byte(args[0]), &s); err != nil {
					return fmt.Errorf("invalid JSON record: %w", err)
				}
				samples = append(samples, s)
			default:
				return fmt.Errorf("provide a JSON record or --file")
			}

			det := detector.New(cfg.DetectorParams(), detector.WithLogger(logger))
			if !rulesOnly {
				if err := trainSynthetic(det, cfg.Detector.TrainingSamples, cfg.Detector.Seed); err != nil {
					logger.Warn().Err(err).Msg("training failed, using rule-based detection")
				}
			}

			type scored struct {
				VehicleID string               `json:"vehicle_id"`
				Timestamp time.Time            `json:"timestamp"`
				Result    models.AnomalyResult `json:"result"`
			}
			out := make([]scored, 0, len(samples))
			for _, s := range samples {
				out = append(out, scored{VehicleID: s.VehicleID, Timestamp: s.Timestamp, Result: det.DetectSinglePoint(s)})
			}
			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Score every record in a telemetry file")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "File format (csv, json, jsonl, log)")
	cmd.Flags().BoolVar(&rulesOnly, "rules-only", false, "Skip model training and use rules only")
	return cmd
}

// detectBatchCmd runs detection over stored history
func detectBatchCmd() *cobra.Command {
	var vehicleID string
	var startTime string
	var endTime string
	var rulesOnly bool
	var store bool

	cmd := &cobra.Command{
		Use:   "detect-batch",
		Short: "Detect anomalies in stored telemetry for a vehicle and time range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if vehicleID == "" {
				return fmt.Errorf("--vehicle is required")
			}
			end, err := parseRFC3339("end_time", endTime)
			if err != nil {
				return err
			}
			if end.IsZero() {
				end = time.Now().UTC()
			}
			start, err := parseRFC3339("start_time", startTime)
			if err != nil {
				return err
			}
			if start.IsZero() {
				start = end.Add(-24 * time.Hour)
			}

			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			det := newDetector()
			if !rulesOnly {
				if err := trainSynthetic(det, cfg.Detector.TrainingSamples, cfg.Detector.Seed); err != nil {
					logger.Warn().Err(err).Msg("training failed, using rule-based detection")
				}
			}

			ctx := cmd.Context()
			found, err := det.DetectBatch(ctx, vehicleID, start, end)
			if err != nil {
				return fmt.Errorf("detection error: %w", err)
			}
			if store && len(found) > 0 {
				if _, err := database.InsertAnomalies(ctx, found); err != nil {
					return fmt.Errorf("store anomalies: %w", err)
				}
			}

			logger.Info().
				Str("vehicle_id", vehicleID).
				Int("anomalies", len(found)).
				Msg("batch detection complete")
			return printJSON(found)
		},
	}

	cmd.Flags().StringVarP(&vehicleID, "vehicle", "V", "", "Vehicle ID")
	cmd.Flags().StringVarP(&startTime, "start", "s", "", "Start time (RFC3339, default end-24h)")
	cmd.Flags().StringVarP(&endTime, "end", "e", "", "End time (RFC3339, default now)")
	cmd.Flags().BoolVar(&rulesOnly, "rules-only", false, "Skip model training and use rules only")
	cmd.Flags().BoolVar(&store, "store", false, "Store detected anomalies")
	return cmd
}

// vehicleCmd manages vehicles
func vehicleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicle",
		Short: "Vehicle management commands",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			vehicles, err := database.ListVehicles(cmd.Context())
			if err != nil {
				return fmt.Errorf("error listing vehicles: %w", err)
			}

			if len(vehicles) == 0 {
				fmt.Println("No vehicles found. Use 'fleet-monitor simulate' to create sample data.")
				return nil
			}

			fmt.Printf("%-10s %-12s %-12s %-6s\n", "ID", "Make", "Model", "Year")
			for _, v := range vehicles {
				year := "-"
				if v.Year > 0 {
					year = fmt.Sprint(v.Year)
				}
				fmt.Printf("%-10s %-12s %-12s %-6s\n", v.ID, v.Make, v.Model, year)
			}

			return nil
		},
	}

	summaryCmd := &cobra.Command{
		Use:   "summary [vehicle_id]",
		Short: "Show vehicle telemetry summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			start := time.Now()
			summary, err := database.GetTelemetrySummary(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error getting summary: %w", err)
			}
			elapsed := time.Since(start)

			fmt.Printf("Telemetry Summary for %s (query: %v)\n", args[0], elapsed)
			fmt.Println("==========================================")
			fmt.Printf("  Total Records:    %d\n", summary.TotalRecords)
			fmt.Printf("  Average Speed:    %.1f km/h\n", summary.AvgSpeed)
			fmt.Printf("  Maximum Speed:    %.1f km/h\n", summary.MaxSpeed)
			fmt.Printf("  Average RPM:      %.0f\n", summary.AvgRPM)
			fmt.Printf("  Maximum RPM:      %.0f\n", summary.MaxRPM)
			fmt.Printf("  Total Distance:   %.1f km\n", summary.TotalDistanceKM)
			fmt.Printf("  Avg Fuel Level:   %.1f%%\n", summary.AvgFuelLevel)
			fmt.Printf("  Avg Engine Temp:  %.1f°C\n", summary.AvgEngineTemp)

			return nil
		},
	}

	cmd.AddCommand(listCmd, summaryCmd)
	return cmd
}
