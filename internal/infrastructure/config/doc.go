// Package config handles loading and validating the data sink daemon's
// bootstrap configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with HNODE2_DATASINK_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The bootstrap configuration says where the device configuration is stored
// and how to reach optional collaborators (MQTT broker, InfluxDB). The device
// configuration itself is owned by the lifecycle package.
//
// Usage:
//
//	cfg, err := config.Load("/etc/hnode2/datasink.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.API.Port)
package config
