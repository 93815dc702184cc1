// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional YAML file. Settings cover the
// HTTP server, optional task history database, API authentication, the tax
// portal client and the limits of each resource queue.
package config
