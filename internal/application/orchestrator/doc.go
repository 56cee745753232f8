// Package orchestrator implements the job submission state machine.
//
// A run normalizes the inbound message, resolves its application and
// pipeline, creates a job record, augments the job definition with
// callback and archive settings, submits it to the remote execution API and
// links the record to the remote job. A failure after the record exists is
// compensated by canceling the record (before submission) or failing it
// (submission rejected). Every run ends in exactly one report.
package orchestrator
