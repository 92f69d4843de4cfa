package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/simplepub/internal/infrastructure/config"
	"github.com/nerrad567/simplepub/internal/infrastructure/influxdb"
	"github.com/nerrad567/simplepub/internal/infrastructure/mqtt"
	"github.com/nerrad567/simplepub/internal/publisher"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	writeStatus int

	mu     sync.Mutex
	bodies []string
	query  []string
}

func startFakeInflux(t *testing.T, writeStatus int) *fakeInflux {
	t.Helper()

	f := &fakeInflux{writeStatus: writeStatus}
	mux := http.NewServeMux()
	ping := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
	mux.HandleFunc("/ping", ping)
	mux.HandleFunc("/api/v2/ping", ping)
	mux.HandleFunc("/api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.query = append(f.query, r.URL.RawQuery)
		f.mu.Unlock()

		if f.writeStatus != http.StatusNoContent {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.writeStatus)
			_, _ = io.WriteString(w, `{"code":"unauthorized","message":"bad token"}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) writes() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...), append([]string(nil), f.query...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled: true,
		URL:     url,
		Token:   "simplepub-test-token",
		Org:     "simplepub",
		Bucket:  "runs",
		Timeout: 2,
	}
}

func testReport() publisher.Report {
	return publisher.Report{
		RunID:       "6f1c2a9e-run",
		StartedAt:   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Duration:    1100 * time.Millisecond,
		Broker:      "localhost:1883",
		ClientID:    "mosquitto_simplepub",
		Topic:       "sensors/temp",
		QoS:         1,
		PayloadSize: 4,
		Status:      publisher.StatusSuccess,
		ErrorKind:   mqtt.KindOK,
		Connected:   true,
		Iterations:  11,
		Stats:       mqtt.Stats{BytesSent: 60, BytesReceived: 8},
	}
}

func TestConnect(t *testing.T) {
	srv := startFakeInflux(t, http.StatusNoContent)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	client, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client while disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := influxdb.Connect(testConfig(srv.URL))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteReport(t *testing.T) {
	srv := startFakeInflux(t, http.StatusNoContent)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	report := testReport()
	if err := client.Record(context.Background(), report); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	bodies, queries := srv.writes()
	if len(bodies) != 1 {
		t.Fatalf("writes = %d, want 1", len(bodies))
	}
	line := bodies[0]
	for _, want := range []string{
		"simplepub_run,",
		"topic=sensors/temp",
		"status=success",
		"qos=1",
		`run_id="6f1c2a9e-run"`,
		"duration_ms=1100i",
		strconv.FormatInt(report.StartedAt.UnixMilli(), 10),
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q does not contain %q", line, want)
		}
	}
	if !strings.Contains(queries[0], "bucket=runs") || !strings.Contains(queries[0], "org=simplepub") {
		t.Errorf("write query = %q, want org and bucket", queries[0])
	}
}

func TestWriteReport_Rejected(t *testing.T) {
	srv := startFakeInflux(t, http.StatusUnauthorized)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	err = client.WriteReport(context.Background(), testReport())
	if !errors.Is(err, influxdb.ErrWriteFailed) {
		t.Errorf("WriteReport() error = %v, want ErrWriteFailed", err)
	}
}

func TestClose(t *testing.T) {
	srv := startFakeInflux(t, http.StatusNoContent)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.WriteReport(context.Background(), testReport()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("WriteReport() after Close error = %v, want ErrNotConnected", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestReportPoint_SkipsEmptyTags(t *testing.T) {
	report := testReport()
	report.Broker = ""

	point := influxdb.ReportPoint("runs", report)
	for _, tag := range point.TagList() {
		if tag.Key == "broker" {
			t.Errorf("ReportPoint() kept empty broker tag")
		}
	}
	if point.Name() != "runs" {
		t.Errorf("Name() = %q, want %q", point.Name(), "runs")
	}
}
