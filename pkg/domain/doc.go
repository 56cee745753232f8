// Package domain holds the types shared by every layer of the relay:
// the normalized request, pipeline and job records, job events and the
// tagged errors produced by the orchestration steps.
package domain
