// internal/channel/frame.go
// Inbound frame classification and parsing. Frames are JSON text with at
// least a type field; only detection_alert frames reach the alert feed.
package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/CivicGrid/civicgrid-report-go/internal/model"
)

// Frame type tags emitted by the backend.
const (
	frameTypeAlert  = "detection_alert"
	frameTypeSystem = "system_notification"
)

// alertFrameSchema validates the shape of a detection_alert frame before it
// is admitted to the feed. Optional fields stay optional: a missing age_days
// is absence, not a parse error.
const alertFrameSchema = `{
	"type": "object",
	"required": ["type", "class", "department"],
	"properties": {
		"type": {"type": "string"},
		"class": {"type": "string", "minLength": 1},
		"department": {"type": "string"},
		"age_days": {"type": "number"},
		"notification_timestamp": {"type": "string"}
	}
}`

// compiledAlertSchema is compiled once so per-frame validation only walks
// the document, not the schema.
var compiledAlertSchema = mustCompileSchema(alertFrameSchema)

func mustCompileSchema(schemaJSON string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid alert frame schema: %v", err))
	}
	return schema
}

// frameEnvelope carries only the classification tag.
type frameEnvelope struct {
	Type string `json:"type"`
}

// alertFrame is the wire shape of a detection_alert frame.
type alertFrame struct {
	Class                 string   `json:"class"`
	AgeDays               *float64 `json:"age_days"`
	Department            string   `json:"department"`
	NotificationTimestamp string   `json:"notification_timestamp"`
}

// systemFrame is the wire shape of a system_notification frame.
type systemFrame struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// handleFrame classifies one inbound text frame. Malformed frames are
// dropped and logged; the connection stays up regardless of frame content.
func (c *Channel) handleFrame(data []byte) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.metrics.ChannelFramesTotal.WithLabelValues("malformed").Inc()
		c.log.Debug("dropping malformed frame", "error", err)
		return
	}

	switch env.Type {
	case frameTypeAlert:
		c.handleAlertFrame(data)
	case frameTypeSystem:
		c.handleSystemFrame(data)
	default:
		// Other frame types are not for the alert feed.
		c.metrics.ChannelFramesTotal.WithLabelValues("ignored").Inc()
	}
}

// handleAlertFrame validates, parses, and distributes one alert frame.
func (c *Channel) handleAlertFrame(data []byte) {
	result, err := compiledAlertSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil || !result.Valid() {
		c.metrics.ChannelFramesTotal.WithLabelValues("invalid").Inc()
		c.log.Warn("dropping invalid alert frame", "error", err)
		return
	}

	var frame alertFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.metrics.ChannelFramesTotal.WithLabelValues("invalid").Inc()
		c.log.Warn("dropping undecodable alert frame", "error", err)
		return
	}

	ev := model.AlertEvent{
		Class:      frame.Class,
		AgeDays:    frame.AgeDays,
		Department: frame.Department,
		NotifiedAt: parseServerTime(frame.NotificationTimestamp),
		ReceivedAt: time.Now(),
	}

	c.metrics.ChannelFramesTotal.WithLabelValues("alert").Inc()
	c.buffer.Push(ev)
	c.fanOut(ev)
	if c.onAlert != nil {
		c.onAlert(ev)
	}
}

// handleSystemFrame routes a system broadcast to the optional hook. System
// frames never mutate the alert buffer.
func (c *Channel) handleSystemFrame(data []byte) {
	c.metrics.ChannelFramesTotal.WithLabelValues("system").Inc()
	if c.onSystem == nil {
		return
	}

	var frame systemFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Debug("dropping undecodable system frame", "error", err)
		return
	}
	c.onSystem(model.SystemMessage{
		Message:   frame.Message,
		Timestamp: parseServerTime(frame.Timestamp),
	})
}

// parseServerTime reads a backend timestamp defensively. The backend emits
// RFC 3339 or an ISO 8601 local form without zone; anything unparseable is
// treated as absent (zero time), never as a dropped frame.
func parseServerTime(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
