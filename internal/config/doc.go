// Package config loads runtime configuration for adpipe.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with -c or -config. Files ending in
//     .yaml or .yml are read as YAML, everything else as JSON.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Durations in files may be strings like "15s" or integer nanoseconds:
//
//	{
//	  "ad_account_id": "123456",
//	  "database_dsn": "postgres://adpipe@db:5432/adpipe",
//	  "transfer_timeout": "10m",
//	  "adset_mode": "pool"
//	}
//
// Only settings present in the file override defaults. Subcommand flags are
// left alone; each parser filters the arguments it owns with flagx.
package config
