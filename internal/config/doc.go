// Package config manages process configuration for the write pipeline.
//
// The config package loads and validates configuration from environment
// variables. All configuration is centralized here to provide a single
// source of truth across the gateway, processor, and CDC consumer
// binaries.
//
// # Configuration Loading
//
//	cfg, err := config.Load()
//
// # Configuration Groups
//
//   - ServerConfig: write gateway HTTP settings (port, timeouts, CORS)
//   - PostgresConfig: idempotency ledger + domain row store connection
//   - QueueConfig: durable queue (NATS JetStream) stream and consumer tuning
//   - CacheConfig: cache keystore (Redis) address and tracked-entry TTLs
//   - AdmissionConfig: in-flight cap and circuit breaker tuning
//
// # Environment Variables
//
// Key environment variables:
//
//	SERVER_PORT                  - HTTP server port (default: 8080)
//	POSTGRES_DSN                 - Postgres connection string
//	QUEUE_URL                    - NATS server URL
//	QUEUE_STREAM                 - durable queue stream name
//	CACHE_ADDR                   - Redis address
//	ADMISSION_MAX_IN_FLIGHT      - gateway in-flight write cap
//	ADMISSION_BREAKER_THRESHOLD  - consecutive failures before tripping
package config
