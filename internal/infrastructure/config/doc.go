// Package config loads config.yaml and applies GRAYLOGIC_* environment
// overrides on top of built-in defaults, then validates the transport and
// state store selections.
//
// Keep secrets (broker passwords, the InfluxDB token, the JWT secret) in
// the environment rather than in the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.CommandTimeout()
package config
