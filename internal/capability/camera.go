// internal/capability/camera.go
package capability

import (
	"context"
	"image"
)

// CameraConstraints mirror the stream constraints of a host camera request.
type CameraConstraints struct {
	Facing      string // Preferred facing, e.g. "environment"
	IdealWidth  int
	IdealHeight int
}

// DefaultCameraConstraints returns the constraints used for incident photos:
// rear-facing, 1280x720 preferred.
func DefaultCameraConstraints() CameraConstraints {
	return CameraConstraints{Facing: "environment", IdealWidth: 1280, IdealHeight: 720}
}

// Session is an open camera session handing out live frames.
// Close stops every underlying track and is idempotent; owners must call it
// on every exit path, including teardown.
type Session interface {
	// Frame returns the current live frame. The second return is false while
	// the stream has not produced a frame yet (zero-size video).
	Frame() (image.Image, bool)
	Close() error
}

// CameraProvider opens a camera session or fails with a normalized capability
// error (RPT_CAMERA_NOT_FOUND, RPT_CAMERA_NOT_ALLOWED, RPT_CAMERA_BUSY,
// RPT_CAMERA_OTHER). Opening may trigger a host permission prompt, at most
// once per call.
type CameraProvider interface {
	Open(ctx context.Context, constraints CameraConstraints) (Session, error)
}
