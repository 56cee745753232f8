// Package events provides event bus implementations.
//
// Two topics are used. Trigger messages are work: each one is delivered to
// a single subscriber across all relay instances. Job events fan out to
// every subscriber, which is what the job event websocket relies on.
//
// Implementations:
//   - redis: Redis Streams, a consumer group for messages and plain reads for job events
//   - memory: in-process delivery with the same topic semantics, for local mode and tests
package events
