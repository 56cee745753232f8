package domain

import (
	"time"
)

// JobStatus represents the lifecycle state of a job record
type JobStatus string

const (
	JobStatusCreated  JobStatus = "CREATED"
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusFinished JobStatus = "FINISHED"
	JobStatusFailed   JobStatus = "FAILED"
	JobStatusCanceled JobStatus = "CANCELED"
)

// jobTransitions lists the statuses reachable from each status.
// RUNNING -> RUNNING is allowed so a link update can follow an early callback.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusCreated:  {JobStatusRunning, JobStatusFailed, JobStatusCanceled},
	JobStatusRunning:  {JobStatusRunning, JobStatusFinished, JobStatusFailed, JobStatusCanceled},
	JobStatusFinished: {},
	JobStatusFailed:   {},
	JobStatusCanceled: {},
}

// IsTerminal reports whether no further transitions are possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed || s == JobStatusCanceled
}

// CanTransition reports whether a record in status s may move to next
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HistoryEntry records one status change on a job record
type HistoryEntry struct {
	Status    JobStatus              `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// JobRecord is the persisted record tracking one execution of a pipeline
type JobRecord struct {
	UUID          string                 `json:"uuid"`
	PipelineUUID  string                 `json:"pipeline_uuid"`
	Status        JobStatus              `json:"status"`
	CallbackURL   string                 `json:"callback_url"`
	ArchiveSystem string                 `json:"archive_system"`
	ArchivePath   string                 `json:"archive_path"`
	Session       string                 `json:"session"`
	Agent         string                 `json:"agent"`
	Task          string                 `json:"task"`
	Instanced     bool                   `json:"instanced"`
	Data          map[string]interface{} `json:"data,omitempty"`
	JobLink       string                 `json:"job_link,omitempty"`
	History       []HistoryEntry         `json:"history"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Clone returns a copy that shares no slices with r. Data maps are
// shallow-copied.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = copyMap(r.Data)
	c.History = make([]HistoryEntry, len(r.History))
	for i, h := range r.History {
		c.History[i] = HistoryEntry{Status: h.Status, Timestamp: h.Timestamp, Data: copyMap(h.Data)}
	}
	return &c
}

// JobTransition describes a requested status change
type JobTransition struct {
	To      JobStatus
	Data    map[string]interface{}
	JobLink string
}

// Apply validates t against r's current status and applies it in place.
//
// A completion callback can overtake the run being recorded. A RUNNING
// transition carrying a job link on a FINISHED or FAILED record therefore
// only attaches the link and keeps the status.
func (r *JobRecord) Apply(t JobTransition, now time.Time) error {
	if t.To == JobStatusRunning && t.JobLink != "" &&
		(r.Status == JobStatusFinished || r.Status == JobStatusFailed) {
		r.JobLink = t.JobLink
		r.UpdatedAt = now
		return nil
	}
	if !r.Status.CanTransition(t.To) {
		return &TransitionError{JobUUID: r.UUID, From: r.Status, To: t.To}
	}
	r.Status = t.To
	if t.JobLink != "" {
		r.JobLink = t.JobLink
	}
	r.History = append(r.History, HistoryEntry{Status: t.To, Timestamp: now, Data: copyMap(t.Data)})
	r.UpdatedAt = now
	return nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
