// Package storage provides job record and pipeline registry stores.
//
// Implementations:
//   - redis: job records as JSON with TTL and WATCH-guarded transitions
//   - sqlite: pipeline registry, optionally seeded from a YAML file
//   - memory: in-memory job and pipeline stores for local mode and tests
package storage
