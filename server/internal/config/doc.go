// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort         port for the REST API, metrics and WebSocket hub (default 8080)
//   - Auth             mode apikey|jwt|none; secrets are read from the env vars named by *_env
//   - Storage          driver memory|sqlite|postgres, sqlite path, postgres dsn_env, auto_migrate
//   - Idempotency      retention of batch keys (default 48h) and sweep interval (default 10m)
//   - Classify         warn_margin (default 0.10)
//   - Limits           batch, page, grid, out-of-spec and body size bounds; per-identity rate limit
//   - Coverage         default_cell_size in degrees (default 0.01)
//   - Alerts           min_severity warn|fail, cooldown, webhooks
//   - Metrics          enabled, path (default /metrics)
//   - Catalog          seed_file with projects and test types, relative to config.yaml
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file when it changes; the server
// applies Classify and Limits from a reload without restarting and re-reads
// the catalog seed. LoadSeed parses the seed file.
package config
