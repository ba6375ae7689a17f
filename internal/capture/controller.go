// internal/capture/controller.go
// Package capture manages an active camera session: opening the camera
// through the capability layer, turning the live frame into an encoded
// incident photo, and handing it straight to the submission pipeline.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/CivicGrid/civicgrid-report-go/internal/capability"
	"github.com/CivicGrid/civicgrid-report-go/internal/errors"
	"github.com/CivicGrid/civicgrid-report-go/internal/model"
)

// jpegQuality matches the fixed 0.8 encoder quality of the capture flow.
const jpegQuality = 80

// Submitter is the downstream consumer of captured images. The upload
// orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, img model.CandidateImage) (model.Status, error)
}

// Controller owns one camera session at a time. Camera failures are terminal
// for the capture flow: there is no implicit retry, the user must re-invoke.
type Controller struct {
	provider    capability.CameraProvider
	constraints capability.CameraConstraints
	submitter   Submitter
	log         *slog.Logger

	mu      sync.Mutex
	session capability.Session
}

// NewController creates a controller. A nil logger falls back to slog.Default().
func NewController(provider capability.CameraProvider, submitter Submitter, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		provider:    provider,
		constraints: capability.DefaultCameraConstraints(),
		submitter:   submitter,
		log:         log,
	}
}

// Open acquires a camera session. Opening while a session is already active
// closes the previous session first, preserving the one-session invariant.
func (c *Controller) Open(ctx context.Context) error {
	session, err := c.provider.Open(ctx, c.constraints)
	if err != nil {
		c.log.Warn("camera open failed", "error", err)
		return err
	}

	c.mu.Lock()
	previous := c.session
	c.session = session
	c.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// Capture encodes the current live frame as a JPEG incident photo and hands
// it to the submitter. It fails with RPT_CAPTURE_NOT_READY while the stream
// has not produced a usable frame yet.
func (c *Controller) Capture(ctx context.Context) (model.Status, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return model.Status{}, errors.New(errors.RPT_CAPTURE_NOT_READY, "no open camera session")
	}

	frame, ok := session.Frame()
	if !ok {
		return model.Status{}, errors.New(errors.RPT_CAPTURE_NOT_READY, "camera not ready")
	}
	if b := frame.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return model.Status{}, errors.New(errors.RPT_CAPTURE_NOT_READY, "camera not ready")
	}

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return model.Status{}, errors.Wrap(errors.RPT_CAMERA_OTHER, "frame encode failed", err)
	}

	img := model.CandidateImage{
		Name:     fmt.Sprintf("incident_%d.jpg", time.Now().UnixMilli()),
		MimeType: "image/jpeg",
		Data:     buf.Bytes(),
	}
	c.log.Debug("photo captured", "name", img.Name, "size", img.Size())

	return c.submitter.Submit(ctx, img)
}

// Close stops the active session. Idempotent; owners call it on every exit
// path, including teardown of the owning view.
func (c *Controller) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}
