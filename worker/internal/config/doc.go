// Package config loads and watches the worker configuration file (config.yaml).
//
// Top-level types:
//   - Config{Worker}: full config tree parsed from YAML
//   - WorkerConfig: server_endpoint, schedule, parallelism, buffer_size,
//     log_level, database, server_auth, tenants []
//   - Tenant: id, academic_year, scope{kind, id}, attendance_from/to, risk
//   - AuthConfig: mode (mtls|apikey|none), cert/key/ca files, header,
//     key_env; Key() resolves from the environment
//   - DatabaseConfig: dsn_env, max_conns; DSN() resolves from the environment
//
// Load(path) reads the YAML file, applies defaults (@every 5m schedule,
// parallelism 4, buffer 100), then validates with struct tags, the cron
// parser and the risk threshold rules.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It re-adds the watch after each
// reload so atomic-save editors (vim, VS Code) keep being tracked.
package config
