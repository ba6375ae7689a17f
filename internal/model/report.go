// internal/model/report.go
// Package model defines the data structures used throughout the report client.
// These structures represent the core domain objects for incident submissions,
// detection results, and live alert events.
package model

import (
	"strings"
	"time"
)

// MaxImageSize is the ceiling for a candidate image payload (10 MiB).
// Larger images are rejected before any location or network work happens.
const MaxImageSize = 10 * 1024 * 1024

// CandidateImage is the in-memory image selected or captured by the citizen,
// pending validation and submission. It is built once and never mutated; the
// orchestrator discards it after the submission attempt.
type CandidateImage struct {
	Name     string // Original or synthesized file name (e.g., incident_1712.jpg)
	MimeType string // Declared MIME type (must be an image/* family type)
	Data     []byte // Raw encoded payload
}

// Size returns the payload size in bytes.
func (c CandidateImage) Size() int64 { return int64(len(c.Data)) }

// IsImage reports whether the declared MIME type belongs to the image family.
func (c CandidateImage) IsImage() bool {
	return strings.HasPrefix(c.MimeType, "image/")
}

// LocationFix is a geolocation fix in decimal degrees. Absence of a fix is
// modeled as a nil *LocationFix and is a valid, permanent state for a given
// submission; it is never retried mid-submission.
type LocationFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Detection is one structured detection returned by the backend for a
// submitted image.
type Detection struct {
	Class      string   `json:"class"`                // Category label (e.g., pothole, fire)
	Confidence *float64 `json:"confidence,omitempty"` // Model confidence, when reported
	AgeDays    *float64 `json:"age_days,omitempty"`   // Estimated age in days, when reported
}

// SubmissionResult is the parsed success response of the upload endpoint.
// It is consumed immediately to produce a status message and not retained.
type SubmissionResult struct {
	Detections []Detection `json:"detections"`
}

// AlertEvent is a structured notification describing one detected incident,
// pushed by the backend over the live channel. Only frames tagged as
// detection alerts produce an AlertEvent; every other frame type is ignored
// by the alert feed.
type AlertEvent struct {
	Class      string    `json:"class"`              // Category label
	AgeDays    *float64  `json:"age_days,omitempty"` // Optional age in days
	Department string    `json:"department"`         // Responsible department label
	NotifiedAt time.Time `json:"notification_timestamp"`
	ReceivedAt time.Time `json:"-"` // Client receive time, set by the channel
}

// SystemMessage is a non-alert broadcast from the backend (frame type
// system_notification). It never reaches the alert feed.
type SystemMessage struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Phase identifies one step of the submission state machine. The machine is
// linear with no branching back: Idle -> AcquiringLocation -> Uploading ->
// Succeeded | Failed, restarting only on the next user action.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAcquiringLocation
	PhaseUploading
	PhaseSucceeded
	PhaseFailed
)

// String returns a stable lowercase name for logging and metrics labels.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAcquiringLocation:
		return "acquiring_location"
	case PhaseUploading:
		return "uploading"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends a submission attempt.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Status is the single current-value slot consumed by presentation layers.
// It is overwritten on every transition; last write wins and no history is
// retained. Message carries the user-visible detail for the phase.
type Status struct {
	Phase   Phase
	Message string
}
