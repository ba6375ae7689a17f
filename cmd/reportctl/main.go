// cmd/reportctl/main.go
// Package main implements the operator CLI for the report client. It wires
// the submission pipeline and the live alert feed from environment-driven
// configuration.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/CivicGrid/civicgrid-report-go/internal/capability"
	"github.com/CivicGrid/civicgrid-report-go/internal/capture"
	"github.com/CivicGrid/civicgrid-report-go/internal/channel"
	"github.com/CivicGrid/civicgrid-report-go/internal/config"
	"github.com/CivicGrid/civicgrid-report-go/internal/event"
	"github.com/CivicGrid/civicgrid-report-go/internal/feed"
	"github.com/CivicGrid/civicgrid-report-go/internal/model"
	"github.com/CivicGrid/civicgrid-report-go/internal/telemetry"
	"github.com/CivicGrid/civicgrid-report-go/internal/upload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "reportctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reportctl",
		Short: "Civic incident report client",
		Long: `reportctl submits photo-based incident reports to the detection backend and
tails the live detection alert feed. Configuration comes from CIVIC_* environment
variables (optionally via .env files).`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newSubmitCmd(),
		newCaptureCmd(),
		newWatchCmd(),
	)
	return cmd
}

// setup loads configuration and installs structured logging and tracing.
// The returned shutdown function flushes telemetry.
func setup(ctx context.Context) (config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, fmt.Errorf("config load failed: %w", err)
	}

	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if _, err := telemetry.InitTracer("civicgrid-report-client"); err != nil {
		return cfg, nil, fmt.Errorf("tracer init failed: %w", err)
	}
	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(sctx)
	}
	return cfg, shutdown, nil
}

// locationProvider picks the configured location source: bridge URL first,
// then fixed coordinates, otherwise no capability.
func locationProvider(cfg config.Config) capability.LocationProvider {
	if cfg.LocationURL != "" {
		return capability.NewHTTPLocation(cfg.LocationURL)
	}
	if cfg.StaticLatitude != "" && cfg.StaticLongitude != "" {
		lat, latErr := strconv.ParseFloat(cfg.StaticLatitude, 64)
		lon, lonErr := strconv.ParseFloat(cfg.StaticLongitude, 64)
		if latErr == nil && lonErr == nil {
			return capability.StaticLocation{Fix: model.LocationFix{Latitude: lat, Longitude: lon}}
		}
		slog.Warn("ignoring malformed static coordinates",
			"latitude", cfg.StaticLatitude, "longitude", cfg.StaticLongitude)
	}
	return capability.NoLocation{}
}

// newOrchestrator builds the submission orchestrator with status transitions
// echoed to stdout.
func newOrchestrator(cfg config.Config) *upload.Orchestrator {
	return upload.New(upload.Options{
		BackendURL:       cfg.BackendURL,
		Location:         locationProvider(cfg),
		LocationOpts:     capability.LocationOptions{Timeout: cfg.LocationTimeout, MaxAge: cfg.LocationMaxAge, HighAccuracy: true},
		MaxImageSize:     cfg.MaxImageSize,
		AllowedMimeTypes: cfg.AllowedMimeTypes,
		OnStatus: func(s model.Status) {
			fmt.Printf("[%s] %s\n", s.Phase, s.Message)
		},
	})
}

func newSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <image-file>",
		Short: "Submit an image file as an incident report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, shutdown, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown()

			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			mimeType := mime.TypeByExtension(filepath.Ext(path))
			if mimeType == "" {
				mimeType = http.DetectContentType(data)
			}

			status, err := newOrchestrator(cfg).Submit(cmd.Context(), model.CandidateImage{
				Name:     filepath.Base(path),
				MimeType: mimeType,
				Data:     data,
			})
			if err != nil {
				return err
			}
			fmt.Println(status.Message)
			return nil
		},
	}
}

func newCaptureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Capture a photo from the configured camera source and submit it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, shutdown, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown()

			controller := capture.NewController(
				capability.FileCamera{Dir: cfg.CameraDir},
				newOrchestrator(cfg),
				slog.Default(),
			)
			if err := controller.Open(cmd.Context()); err != nil {
				return err
			}
			defer controller.Close()

			status, err := controller.Capture(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(status.Message)
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Tail the live detection alert feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, shutdown, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown()

			relay := event.NewRelay(cfg.NATSURL)
			defer relay.Close()

			buffer := feed.NewBuffer(cfg.FeedCapacity)
			ch := channel.New(cfg.ChannelURL, buffer, channel.Options{
				ReconnectDelay: cfg.ReconnectDelay,
				OnAlert: func(ev model.AlertEvent) {
					if err := relay.PublishAlert(cmd.Context(), ev); err != nil {
						slog.Warn("alert relay publish failed", "error", err)
					}
				},
				OnSystem: func(m model.SystemMessage) {
					fmt.Printf("system: %s\n", m.Message)
				},
			})
			defer ch.Close()

			alerts, err := ch.Subscribe("reportctl")
			if err != nil {
				return err
			}

			if cfg.MetricsAddr != "" {
				go serveMetrics(cfg.MetricsAddr)
			}

			go ch.Run(cmd.Context())

			fmt.Printf("watching %s (reconnect every %s)\n", cfg.ChannelURL, cfg.ReconnectDelay)
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case ev, ok := <-alerts:
					if !ok {
						return nil
					}
					printAlert(ev)
				}
			}
		},
	}
}

// printAlert renders one alert line for the terminal feed.
func printAlert(ev model.AlertEvent) {
	line := fmt.Sprintf("ALERT %s detected", ev.Class)
	if ev.AgeDays != nil {
		line += fmt.Sprintf(" (%s days old)", strconv.FormatFloat(*ev.AgeDays, 'f', -1, 64))
	}
	if ev.Department != "" {
		line += " -> " + ev.Department
	}
	if !ev.NotifiedAt.IsZero() {
		line += " at " + ev.NotifiedAt.Format(time.RFC3339)
	}
	fmt.Println(line)
}

// serveMetrics exposes the Prometheus endpoint for long-running watch sessions.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics endpoint failed", "error", err)
	}
}
