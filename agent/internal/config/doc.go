// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` section; the server's section is ignored
//   - AgentConfig: endpoint, project_id, watch_dir, archive_dir, failed_dir,
//     batch_size, buffer_size, send_timeout, max_elapsed, settle_delay,
//     source, technician, server_auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, username, password_env; Key(), Token() and
//     Password() resolve secrets from environment variables
//
// Load(path) reads the YAML file, applies defaults (batch 500, buffer 100,
// 30s send timeout, 15m retry horizon), then validates required fields and
// enums. Archive and failed directories default to subdirectories of
// watch_dir.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create pattern
// used by atomic-save editors by re-adding the watch after each event.
package config
