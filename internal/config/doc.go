// Package config loads process configuration for trustchain: storage
// location and durability, the hash routine, default formats and root
// options for new chains, the compaction policy and logging.
//
// Example:
//
//	cfg, err := config.Load("/etc/trustchain.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, err := runtime.Open(runtime.Options{Config: cfg})
package config
