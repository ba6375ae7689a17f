// internal/capability/location.go
// Package capability abstracts the host-provided camera and geolocation
// subsystems. Providers normalize the host's heterogeneous failure reasons
// into a small error taxonomy; retry policy always belongs to the caller.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/CivicGrid/civicgrid-report-go/internal/errors"
	"github.com/CivicGrid/civicgrid-report-go/internal/model"
)

// LocationOptions mirror the acquisition parameters of a host geolocation
// request. HighAccuracy is a hint; providers may ignore it.
type LocationOptions struct {
	Timeout      time.Duration // Per-attempt deadline for producing a fix
	MaxAge       time.Duration // Maximum acceptable age of a cached fix
	HighAccuracy bool
}

// DefaultLocationOptions returns the acquisition parameters used by the
// submission flow: 10 s timeout, 60 s cached-fix age, high accuracy.
func DefaultLocationOptions() LocationOptions {
	return LocationOptions{
		Timeout:      10 * time.Second,
		MaxAge:       60 * time.Second,
		HighAccuracy: true,
	}
}

// LocationProvider produces a geolocation fix or a normalized capability
// error (RPT_LOCATION_DENIED, RPT_LOCATION_TIMEOUT, RPT_LOCATION_UNAVAILABLE).
// Providers never retry; a failed acquisition is the caller's decision point.
type LocationProvider interface {
	Acquire(ctx context.Context, opts LocationOptions) (*model.LocationFix, error)
}

// StaticLocation is a LocationProvider that always returns a fixed
// coordinate pair, used for kiosks installed at a known site.
type StaticLocation struct {
	Fix model.LocationFix
}

// Acquire implements LocationProvider.
func (s StaticLocation) Acquire(ctx context.Context, opts LocationOptions) (*model.LocationFix, error) {
	fix := s.Fix
	return &fix, nil
}

// NoLocation is a LocationProvider for hosts without any geolocation
// capability. It always reports the position as unavailable.
type NoLocation struct{}

// Acquire implements LocationProvider.
func (NoLocation) Acquire(ctx context.Context, opts LocationOptions) (*model.LocationFix, error) {
	return nil, errors.New(errors.RPT_LOCATION_UNAVAILABLE, "no location capability on this host")
}

// HTTPLocation resolves a fix from a location-bridge endpoint that returns a
// JSON body {"latitude": ..., "longitude": ...}. It keeps the last fix and
// serves it while it is younger than the requested MaxAge, matching the
// cached-position semantics of host geolocation APIs.
type HTTPLocation struct {
	base string
	hc   *http.Client

	mu       sync.Mutex
	lastFix  *model.LocationFix
	lastTime time.Time
}

// NewHTTPLocation creates a location provider backed by the given bridge URL.
// Dial and request timeouts are bounded so a dead bridge resolves to a
// timeout error rather than hanging the submission flow.
func NewHTTPLocation(baseURL string) *HTTPLocation {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
	}
	return &HTTPLocation{
		base: baseURL,
		hc:   &http.Client{Transport: transport},
	}
}

// Acquire implements LocationProvider.
func (p *HTTPLocation) Acquire(ctx context.Context, opts LocationOptions) (*model.LocationFix, error) {
	p.mu.Lock()
	if p.lastFix != nil && opts.MaxAge > 0 && time.Since(p.lastTime) <= opts.MaxAge {
		fix := *p.lastFix
		p.mu.Unlock()
		return &fix, nil
	}
	p.mu.Unlock()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base, nil)
	if err != nil {
		return nil, errors.Wrap(errors.RPT_LOCATION_UNAVAILABLE, "invalid location bridge URL", err)
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.RPT_LOCATION_TIMEOUT, "location fix timed out", err)
		}
		return nil, errors.Wrap(errors.RPT_LOCATION_UNAVAILABLE, "location bridge unreachable", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var fix model.LocationFix
		if err := json.NewDecoder(resp.Body).Decode(&fix); err != nil {
			return nil, errors.Wrap(errors.RPT_LOCATION_UNAVAILABLE, "malformed location response", err)
		}
		p.mu.Lock()
		p.lastFix = &fix
		p.lastTime = time.Now()
		p.mu.Unlock()
		out := fix
		return &out, nil
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, errors.New(errors.RPT_LOCATION_DENIED, "location access denied")
	default:
		return nil, errors.New(errors.RPT_LOCATION_UNAVAILABLE,
			fmt.Sprintf("location bridge returned %s", resp.Status))
	}
}
