package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/simplepub/internal/infrastructure/config"
)

const (
	// defaultConnectTimeout bounds the initial ping.
	defaultConnectTimeout = 10 * time.Second

	// defaultPingTimeout bounds HealthCheck.
	defaultPingTimeout = 5 * time.Second

	// defaultRequestTimeout applies when the config leaves timeout unset.
	defaultRequestTimeout = 5

	// defaultMeasurement names the per-run point.
	defaultMeasurement = "simplepub_run"
)

// Client writes run telemetry to InfluxDB v2.
//
// Writes go through the blocking write API: a simplepub run produces one
// point and exits, so the error is reported to the caller instead of an
// async callback.
type Client struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string

	mu        sync.RWMutex
	connected bool
}

// Connect creates the client and verifies the server answers /ping.
//
// Parameters:
//   - cfg: InfluxDB section of the configuration
//
// Returns:
//   - *Client: Connected client; call Close when done
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the cause
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = defaultMeasurement
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(timeout)). //nolint:gosec // positive, checked above
			SetPrecision(time.Millisecond),
	)

	c := &Client{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		connected:   true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	if err := c.HealthCheck(ctx); err != nil {
		c.Close() //nolint:errcheck // Close never fails
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

// Close releases the HTTP client. Safe on a nil client and after a
// previous Close.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether Connect succeeded and Close has not run.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
