// Package workers runs orchestrations for messages arriving on the event
// bus.
//
// The pool subscribes once to the messages topic and hands each entry to a
// bounded queue drained by a fixed number of workers. Every worker runs one
// orchestration at a time. The health monitor logs pool status and records
// it as metrics.
package workers
