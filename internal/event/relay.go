// internal/event/relay.go
// Package event provides the optional NATS relay that republishes accepted
// alert events for downstream consumers (signage, dispatch tooling). The
// relay is best-effort: a lost publish never disturbs the live feed.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/CivicGrid/civicgrid-report-go/internal/metrics"
	"github.com/CivicGrid/civicgrid-report-go/internal/model"
)

// subjectPrefix namespaces relayed alerts, one subject per category label.
const subjectPrefix = "civic.alerts."

// Relay republishes alert events received over the live channel.
type Relay interface {
	PublishAlert(ctx context.Context, ev model.AlertEvent) error

	// Close closes the relay connection.
	Close() error
}

// noop is the Relay used when NATS is not configured.
type noop struct{}

// Close implements Relay.
func (n *noop) Close() error { return nil }

// PublishAlert implements Relay.
func (n *noop) PublishAlert(ctx context.Context, ev model.AlertEvent) error { return nil }

// natsRelay publishes alert events to a NATS server.
type natsRelay struct {
	nc      *nats.Conn
	metrics *metrics.Metrics
}

// NewRelay creates a relay for the given NATS URL. An empty URL or a failed
// connection yields a no-op relay so the live feed keeps working without the
// integration.
func NewRelay(url string) Relay {
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url, nats.Name("civicgrid-report-client"))
	if err != nil {
		slog.Warn("NATS connect failed, using noop relay", "error", err)
		return &noop{}
	}

	return &natsRelay{nc: nc, metrics: metrics.New()}
}

// PublishAlert implements Relay. Alerts go to civic.alerts.<class> as JSON.
func (r *natsRelay) PublishAlert(ctx context.Context, ev model.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.metrics.RelayPublishTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal alert event: %w", err)
	}

	if err := r.nc.Publish(subjectPrefix+ev.Class, payload); err != nil {
		r.metrics.RelayPublishTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish alert event: %w", err)
	}

	r.metrics.RelayPublishTotal.WithLabelValues("ok").Inc()
	return nil
}

// Close implements Relay.
func (r *natsRelay) Close() error {
	r.nc.Close()
	return nil
}
