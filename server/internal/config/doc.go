// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `worker:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort           port for the report receiver (default 50051)
//   - HTTPPort           port for the REST API, /metrics and WebSocket hub (default 8080)
//   - Auth.Mode          "apikey" or "none"
//   - Auth.KeyEnv        environment variable holding the expected API key
//   - Auth.Header        gRPC metadata/HTTP header name (default "x-api-key")
//   - Snapshot.TTL       how long a tenant's report remains live (default 24h)
//   - Dashboard.Interval WebSocket broadcast period (default 5s)
//   - Cache.Addr         redis address for the rank-list cache; empty disables it
//   - Alerts             per-student rules and webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
