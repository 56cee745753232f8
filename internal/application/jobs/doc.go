// Package jobs implements the job record manager.
//
// The manager creates job records in the CREATED state, derives their
// signed callback URL and archive destination, and performs every later
// status transition: cancel, fail, run linking and execution callbacks.
// Records are persisted through a ports.JobStore and status changes are
// published on the job event topic.
package jobs
