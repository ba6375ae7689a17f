// internal/capability/filecamera.go
package capability

import (
	"context"
	"image"
	_ "image/jpeg" // register JPEG decoding for frame files
	_ "image/png"  // register PNG decoding for frame files
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/CivicGrid/civicgrid-report-go/internal/errors"
)

// FileCamera is a CameraProvider fed by image files in a directory. It stands
// in for the host camera on kiosks and in tests: each file is one live frame,
// served in name order.
type FileCamera struct {
	Dir string
}

// Open implements CameraProvider. The constraints are accepted for contract
// parity; a file-backed camera has no facing or resolution to negotiate.
func (f FileCamera) Open(ctx context.Context, constraints CameraConstraints) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.RPT_CAMERA_OTHER, "camera open canceled", err)
	}

	info, err := os.Stat(f.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.RPT_CAMERA_NOT_FOUND, "no camera source directory", err)
		}
		if os.IsPermission(err) {
			return nil, errors.Wrap(errors.RPT_CAMERA_NOT_ALLOWED, "camera source not permitted", err)
		}
		return nil, errors.Wrap(errors.RPT_CAMERA_OTHER, "camera source unavailable", err)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.RPT_CAMERA_NOT_FOUND, "camera source is not a directory")
	}

	frames, err := listFrameFiles(f.Dir)
	if err != nil {
		return nil, errors.Wrap(errors.RPT_CAMERA_OTHER, "camera source scan failed", err)
	}

	return &fileSession{frames: frames}, nil
}

// listFrameFiles collects decodable image files under dir, sorted by name.
func listFrameFiles(dir string) ([]string, error) {
	var frames []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir {
				return fs.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".jpeg", ".png":
			frames = append(frames, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(frames)
	return frames, nil
}

// fileSession serves directory frames as a live camera stream.
// An empty directory behaves like a stream that never primes.
type fileSession struct {
	mu     sync.Mutex
	frames []string
	index  int
	closed bool
}

// Frame implements Session. It decodes the current frame file on demand.
func (s *fileSession) Frame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.frames) == 0 {
		return nil, false
	}

	f, err := os.Open(s.frames[s.index])
	if err != nil {
		return nil, false
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, false
	}
	return img, true
}

// Advance moves to the next frame file, wrapping at the end.
func (s *fileSession) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) > 0 {
		s.index = (s.index + 1) % len(s.frames)
	}
}

// Close implements Session. Safe to call multiple times.
func (s *fileSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
