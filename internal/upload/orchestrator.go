// internal/upload/orchestrator.go
// Package upload implements the submission orchestrator: it validates a
// candidate image, sequences best-effort location acquisition and the network
// submission, and drives the linear status state machine consumed by the UI.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/CivicGrid/civicgrid-report-go/internal/capability"
	errordefs "github.com/CivicGrid/civicgrid-report-go/internal/errors"
	"github.com/CivicGrid/civicgrid-report-go/internal/metrics"
	"github.com/CivicGrid/civicgrid-report-go/internal/model"
)

// Options configure an Orchestrator.
type Options struct {
	BackendURL       string                      // Base URL of the detection backend
	Location         capability.LocationProvider // May be nil; submissions then carry no fix
	LocationOpts     capability.LocationOptions  // Zero value falls back to defaults
	MaxImageSize     int64                       // Zero falls back to model.MaxImageSize
	AllowedMimeTypes []string                    // Exact MIME allowlist; empty admits any image/* type
	HTTPClient   *http.Client                // Zero falls back to a shared client
	Logger       *slog.Logger                // Zero falls back to slog.Default()
	OnStatus     func(model.Status)          // Optional status transition listener
}

// Orchestrator drives one submission at a time through the linear machine
// Idle -> AcquiringLocation -> Uploading -> Succeeded | Failed. A Submit call
// while another submission is in flight is rejected with RPT_BUSY; queuing
// was deliberately not implemented to keep the machine linear.
type Orchestrator struct {
	backendURL   string
	location     capability.LocationProvider
	locationOpts capability.LocationOptions
	maxImageSize int64
	allowedMime  []string
	hc           *http.Client
	log          *slog.Logger
	onStatus     func(model.Status)
	metrics      *metrics.Metrics

	mu       sync.Mutex
	status   model.Status
	inFlight bool
}

// New creates an orchestrator in the Idle phase.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		backendURL:   strings.TrimRight(opts.BackendURL, "/"),
		location:     opts.Location,
		locationOpts: opts.LocationOpts,
		maxImageSize: opts.MaxImageSize,
		allowedMime:  opts.AllowedMimeTypes,
		hc:           opts.HTTPClient,
		log:          opts.Logger,
		onStatus:     opts.OnStatus,
		metrics:      metrics.New(),
		status:       model.Status{Phase: model.PhaseIdle},
	}
	if o.maxImageSize <= 0 {
		o.maxImageSize = model.MaxImageSize
	}
	if o.hc == nil {
		o.hc = &http.Client{}
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.locationOpts == (capability.LocationOptions{}) {
		o.locationOpts = capability.DefaultLocationOptions()
	}
	return o
}

// Status returns the current value of the status slot.
func (o *Orchestrator) Status() model.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// setStatus overwrites the status slot and notifies the listener.
// Last write wins; no history is retained.
func (o *Orchestrator) setStatus(s model.Status) {
	o.mu.Lock()
	o.status = s
	listener := o.onStatus
	o.mu.Unlock()

	if listener != nil {
		listener(s)
	}
}

// Submit runs one submission attempt for the candidate image and returns the
// terminal status. Validation failures short-circuit to Failed without any
// location or network work; a failed location acquisition never fails the
// submission. The image is sent exactly once, with no automatic retry.
func (o *Orchestrator) Submit(ctx context.Context, img model.CandidateImage) (model.Status, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return model.Status{}, errordefs.New(errordefs.RPT_BUSY, "a submission is already in flight")
	}
	o.inFlight = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	ctx, span := otel.Tracer("report-client").Start(ctx, "Submit")
	defer span.End()

	submissionID := ulid.Make().String()
	correlationID := uuid.NewString()
	span.SetAttributes(
		attribute.String("submission.id", submissionID),
		attribute.String("image.mime_type", img.MimeType),
		attribute.Int64("image.size", img.Size()),
	)
	log := o.log.With("submission", submissionID, "correlation", correlationID)

	start := time.Now()
	status, err := o.run(ctx, log, span, img)

	outcome := "succeeded"
	if status.Phase == model.PhaseFailed {
		outcome = "failed"
		span.SetStatus(codes.Error, status.Message)
	}
	o.metrics.SubmissionTotal.WithLabelValues(outcome).Inc()
	o.metrics.SubmissionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	o.setStatus(status)
	return status, err
}

// run executes the phases after the busy guard. It returns the terminal
// status together with the classified error for Failed outcomes.
func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, span trace.Span, img model.CandidateImage) (model.Status, error) {
	// Validation first: a rejected image never reaches location or network.
	if !img.IsImage() || !o.mimeAllowed(img.MimeType) {
		err := errordefs.New(errordefs.RPT_INVALID_TYPE,
			fmt.Sprintf("unsupported type %q", img.MimeType))
		log.Warn("submission rejected", "reason", "invalid type", "mime_type", img.MimeType)
		return model.Status{
			Phase:   model.PhaseFailed,
			Message: "Error: Please select a valid image file.",
		}, err
	}
	if img.Size() > o.maxImageSize {
		err := errordefs.New(errordefs.RPT_TOO_LARGE,
			fmt.Sprintf("image is %d bytes, limit %d", img.Size(), o.maxImageSize))
		log.Warn("submission rejected", "reason", "too large", "size", img.Size())
		return model.Status{
			Phase:   model.PhaseFailed,
			Message: "Error: File size too large. Please select an image under 10MB.",
		}, err
	}

	// Best-effort location. Any error is logged and swallowed; the
	// submission proceeds with an absent fix and never retries mid-flight.
	o.setStatus(model.Status{Phase: model.PhaseAcquiringLocation, Message: "Getting your location..."})
	var fix *model.LocationFix
	if o.location != nil {
		var err error
		fix, err = o.location.Acquire(ctx, o.locationOpts)
		if err != nil {
			log.Info("proceeding without location", "error", err)
			o.metrics.LocationAcquireTotal.WithLabelValues("failed").Inc()
			fix = nil
		} else {
			o.metrics.LocationAcquireTotal.WithLabelValues("ok").Inc()
		}
	}
	span.SetAttributes(attribute.Bool("location.present", fix != nil))

	o.setStatus(model.Status{Phase: model.PhaseUploading, Message: "Uploading your report..."})
	result, err := o.send(ctx, img, fix)
	if err != nil {
		var msg string
		switch errordefs.CodeOf(err) {
		case errordefs.RPT_UNREACHABLE:
			msg = "Upload failed! Please check if the backend server is running and try again."
		case errordefs.RPT_SERVER:
			var se *errordefs.Error
			stderrors.As(err, &se)
			msg = fmt.Sprintf("Upload failed! %s", se.Message)
		default:
			msg = fmt.Sprintf("Upload failed! %v", err)
		}
		log.Error("submission failed", "error", err)
		return model.Status{Phase: model.PhaseFailed, Message: msg}, err
	}

	log.Info("submission accepted", "detections", len(result.Detections))
	return model.Status{Phase: model.PhaseSucceeded, Message: successMessage(result.Detections)}, nil
}

// mimeAllowed checks the configured allowlist. An empty list admits every
// image family type; the family check itself stays with CandidateImage.
func (o *Orchestrator) mimeAllowed(mimeType string) bool {
	if len(o.allowedMime) == 0 {
		return true
	}
	for _, allowed := range o.allowedMime {
		if strings.EqualFold(mimeType, allowed) {
			return true
		}
	}
	return false
}

// send builds the multipart submission request once and performs the single
// network attempt.
func (o *Orchestrator) send(ctx context.Context, img model.CandidateImage, fix *model.LocationFix) (model.SubmissionResult, error) {
	var result model.SubmissionResult

	body, contentType, err := buildSubmissionBody(img, fix, time.Now().UTC())
	if err != nil {
		return result, errordefs.Wrap(errordefs.RPT_BAD_RESPONSE, "building submission request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.backendURL+"/upload", body)
	if err != nil {
		return result, errordefs.Wrap(errordefs.RPT_BAD_RESPONSE, "building submission request", err)
	}
	req.Header.Set("Content-Type", contentType)

	// Any transport-level failure means the server was never reached; this
	// is the only path that produces the unreachable wording.
	resp, err := o.hc.Do(req)
	if err != nil {
		return result, errordefs.Wrap(errordefs.RPT_UNREACHABLE, "report server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Non-2xx bodies are plain-text detail, surfaced verbatim.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(detail))
		if msg == "" {
			msg = resp.Status
		}
		return result, errordefs.New(errordefs.RPT_SERVER, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, errordefs.Wrap(errordefs.RPT_BAD_RESPONSE, "malformed backend response", err)
	}
	return result, nil
}

// buildSubmissionBody assembles the single atomic multipart payload: file,
// latitude, longitude (empty strings when the fix is absent), timestamp.
func buildSubmissionBody(img model.CandidateImage, fix *model.LocationFix, now time.Time) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, img.Name))
	h.Set("Content-Type", img.MimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}

	latitude, longitude := "", ""
	if fix != nil {
		latitude = strconv.FormatFloat(fix.Latitude, 'f', -1, 64)
		longitude = strconv.FormatFloat(fix.Longitude, 'f', -1, 64)
	}
	if err := w.WriteField("latitude", latitude); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("longitude", longitude); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("timestamp", now.Format(time.RFC3339)); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// successMessage renders the user-visible text for a successful submission.
// Detection classes are enumerated; pothole detections with a known age carry
// the age in days.
func successMessage(detections []model.Detection) string {
	if len(detections) == 0 {
		return "Upload successful! No specific issues detected. Thank you for reporting."
	}

	items := make([]string, 0, len(detections))
	for _, d := range detections {
		item := d.Class
		if item == "" {
			item = "Unknown"
		}
		if d.Class == "pothole" && d.AgeDays != nil {
			item += fmt.Sprintf(" - %s days old", strconv.FormatFloat(*d.AgeDays, 'f', -1, 64))
		}
		items = append(items, item)
	}
	return "Upload successful! Detected: " + strings.Join(items, ", ")
}
