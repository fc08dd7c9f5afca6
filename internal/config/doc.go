// Package config defines configuration structures for the gridfetch CLI.
//
// Configuration can be provided via, in increasing precedence:
//   - Built-in defaults (Default)
//   - YAML configuration file (LoadFromFile)
//   - A .env file (LoadDotEnv), which only seeds the environment
//   - Environment variables (GRIDFETCH_ prefix, LoadFromEnv)
//   - Command-line flags (Merge)
//
// Byte sizes are written as human strings ("32KiB", "10GB") and durations
// as Go duration strings ("30s", "5m").
//
// # Example
//
//	download_dir: /data/esgf
//	workers: 8
//	chunk_size: 64KiB
//	priority_order: true
//	catalog_path: /var/lib/gridfetch/catalog.db
//	state_url: file:///var/lib/gridfetch
//	state_interval: 30s
//	rate_limit: 50MB
//	min_free_space: 10GiB
//	listen: 127.0.0.1:8642
//	log_level: info
//	http:
//	  dial_timeout: 30s
//	  response_header_timeout: 30s
//	  connection_close: false
//	  retry:
//	    attempts: 3
//	    backoff: 1s
//	    max_backoff: 30s
//	credentials:
//	  token: ${ESGF_TOKEN}
package config
