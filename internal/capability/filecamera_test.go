// Package capability provides tests for the file-backed camera provider.
package capability

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/CivicGrid/civicgrid-report-go/internal/errors"
)

// writeTestFrame writes a small PNG frame file and returns its path.
func writeTestFrame(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestFileCameraMissingDir tests that a missing source directory maps to the
// not-found camera code.
func TestFileCameraMissingDir(t *testing.T) {
	cam := FileCamera{Dir: filepath.Join(t.TempDir(), "absent")}
	_, err := cam.Open(context.Background(), DefaultCameraConstraints())
	if !errors.IsCode(err, errors.RPT_CAMERA_NOT_FOUND) {
		t.Errorf("Open() error = %v, want RPT_CAMERA_NOT_FOUND", err)
	}
}

// TestFileCameraEmptyDirNotPrimed tests that an empty directory behaves like
// a stream that never produces a frame.
func TestFileCameraEmptyDirNotPrimed(t *testing.T) {
	cam := FileCamera{Dir: t.TempDir()}
	sess, err := cam.Open(context.Background(), DefaultCameraConstraints())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	if _, ok := sess.Frame(); ok {
		t.Error("Frame() ok = true for empty directory, want false")
	}
}

// TestFileCameraFrame tests decoding a frame and session close idempotency.
func TestFileCameraFrame(t *testing.T) {
	dir := t.TempDir()
	writeTestFrame(t, dir, "frame_001.png", 64, 48)

	cam := FileCamera{Dir: dir}
	sess, err := cam.Open(context.Background(), DefaultCameraConstraints())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	img, ok := sess.Frame()
	if !ok {
		t.Fatal("Frame() ok = false, want a decoded frame")
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("Frame() bounds = %v, want 64x48", b)
	}

	// Close is idempotent and a closed session stops producing frames.
	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, ok := sess.Frame(); ok {
		t.Error("Frame() ok = true after Close, want false")
	}
}
