// Package config provides configuration types and loading for the
// gateway.
//
// The configuration is a single YAML document. Values may reference
// environment variables with ${VAR} or ${VAR:-default}; a literal dollar
// sign is written as $$. Deployment variables such as PORT or
// RATE_LIMIT_PER_MINUTE are applied on top of the parsed file by
// ApplyEnv.
//
//	cfg, err := config.LoadConfig("configs/gateway.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
//	    return err
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    return err
//	}
//
// Watcher reports changes of a single file through a callback and is
// used for hot reload of the services snapshot.
package config
