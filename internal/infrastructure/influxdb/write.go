package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/simplepub/internal/publisher"
)

var _ publisher.Recorder = (*Client)(nil)

// Record writes the run report. It implements publisher.Recorder.
func (c *Client) Record(ctx context.Context, report publisher.Report) error {
	return c.WriteReport(ctx, report)
}

// WriteReport writes one point describing a finished run, stamped with
// the run's start time.
//
// Tags (low cardinality): broker, topic, qos, status, error_kind.
// Fields: duration_ms, payload_bytes, connected, pending, iterations,
// bytes_sent, bytes_received, retransmissions, run_id.
func (c *Client) WriteReport(ctx context.Context, report publisher.Report) error {
	return c.WritePoint(ctx, ReportPoint(c.measurement, report))
}

// WritePoint writes a prepared point.
func (c *Client) WritePoint(ctx context.Context, point *write.Point) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// ReportPoint converts a run report into a point.
func ReportPoint(measurement string, report publisher.Report) *write.Point {
	ts := report.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"qos":        strconv.Itoa(int(report.QoS)),
		"status":     report.Status.String(),
		"error_kind": report.ErrorKind.String(),
	}
	// Line protocol has no empty tag values.
	if report.Broker != "" {
		tags["broker"] = report.Broker
	}
	if report.Topic != "" {
		tags["topic"] = report.Topic
	}

	return write.NewPoint(
		measurement,
		tags,
		map[string]interface{}{
			"run_id":          report.RunID,
			"duration_ms":     report.Duration.Milliseconds(),
			"payload_bytes":   report.PayloadSize,
			"connected":       report.Connected,
			"pending":         report.Pending,
			"iterations":      report.Iterations,
			"bytes_sent":      report.Stats.BytesSent,
			"bytes_received":  report.Stats.BytesReceived,
			"retransmissions": report.Stats.Retransmissions,
		},
		ts,
	)
}
