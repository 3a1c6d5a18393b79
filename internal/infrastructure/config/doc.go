// Package config handles loading and validating the Lightify bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables, and the config file should have restricted
// permissions (0600).
//
// Usage:
//
//	cfg, err := config.Load("configs/lightify.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Lightify.Gateway.Address())
package config
