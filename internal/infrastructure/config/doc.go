// Package config handles loading and validating simplepub configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables
//   - Validation of ranges and combinations
//   - Default value handling (the stock mosquitto_simplepub behaviour)
//
// Command-line flags are applied by cmd/simplepub after Load and take
// precedence over both the file and the environment.
//
// Security Considerations:
//   - Broker and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("SIMPLEPUB_CONFIG"))
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.BrokerAddress())
package config
