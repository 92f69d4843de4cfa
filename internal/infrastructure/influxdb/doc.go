// Package influxdb exports simplepub run telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Each run writes a
// single point (measurement "simplepub_run" by default) built from the
// publisher.Report, so dashboards can chart publish latency, failures by
// error kind and retransmissions per broker.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	runner.Recorders = append(runner.Recorders, client)
//
// # Error Handling
//
// Writes are synchronous. Connect, HealthCheck and WriteReport return
// sentinel errors from errors.go wrapped with the cause.
package influxdb
