// Package config loads burnet configuration files.
//
// A configuration file is written in CUE (.cue) or YAML (.yaml, .yml). Either
// way it is unified with a built-in CUE schema, #Config, which supplies
// defaults for omitted fields and rejects unknown fields or out-of-range
// values. The decoded result is then checked with struct validation tags.
//
// Example (config.cue):
//
//	store: {
//		path:      "/var/lib/burnet/objectstore.db"
//		pool_size: 10
//	}
//	logging: level: "debug"
//
// Watch reloads a file when it changes on disk.
package config
