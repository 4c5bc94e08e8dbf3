// Package config loads and validates the connector configuration.
//
// Values are resolved in three layers: built-in defaults, the YAML file,
// then MQTT_CONNECTOR_* environment variables. Credentials (MQTT password,
// Redis password, InfluxDB token) are best supplied through the environment.
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.EventTopic)
package config
