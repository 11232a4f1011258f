// Package config provides centralized configuration management for the
// insight pipeline. It loads settings from several sources, validates them,
// and resolves every filesystem location the pipeline touches.
//
// # Configuration Sources
//
// Configuration is layered in the following order, later layers winning:
//
//  1. Default values (Default)
//  2. A YAML file (INSIGHT_CONFIG, config.yaml or configs/config.yaml)
//  3. Environment variables
//
// # Environment Variables
//
// All environment variables follow the pattern INSIGHT_<SECTION>_<FIELD>:
//
//	INSIGHT_LOGGING_LEVEL=debug
//	INSIGHT_MODEL_BACKEND_URL=http://localhost:11434
//	INSIGHT_QUALITY_NULL_FILL_STRATEGY=median
//	INSIGHT_MEMORY_BACKEND=redis
//	INSIGHT_SCHEDULE_CRON="0 2 * * *"
//
// # Path Management
//
// ResolvePaths turns the relative locations of PathsConfig into absolute
// paths anchored at paths.base_dir (the working directory by default):
//
//	paths, err := config.ResolvePaths(cfg.Paths)
//	registry := paths.RegistryFile // <checkpoints_dir>/registry.json
//
// # Validation
//
// Struct tags are checked with go-playground/validator at load time, so an
// unknown outlier method or fill strategy fails before any component starts.
package config
