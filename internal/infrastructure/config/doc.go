// Package config provides 12-factor configuration management for the vizhost server.
//
// Configuration is loaded from an optional .env file and environment variables
// with sensible defaults. Variables already present in the environment win over
// the .env file.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Libraries: Library catalog, static asset root, locator allowlist, fetch limits
//   - Sandbox: Execution timeout, output container id, import policy, pool size
//   - Demo: Bundled demonstration snippet
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - LIBRARY_CATALOG, STATIC_ROOT, LIBRARY_ALLOW, LIBRARY_FETCH_TIMEOUT, LIBRARY_FETCH_RPS
//   - SANDBOX_TIMEOUT, CONTAINER_ID, IMPORT_POLICY, SANDBOX_POOL_SIZE
//   - DEMO_ENABLED, DEMO_PATH
package config
