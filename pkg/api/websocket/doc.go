// Package websocket provides real-time job event streaming via WebSocket.
//
// Clients can connect to /api/v1/jobs/:id/ws to receive the status events
// of a job as the relay and the execution system update it.
package websocket
