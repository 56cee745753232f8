// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Message submission, synchronous or queued for the worker pool
//   - Job record queries
//   - Status callbacks from the remote execution system
//   - Health checks
//   - Prometheus metrics
package http
