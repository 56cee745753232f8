package domain

import "time"

// Outcome is the terminal result of one orchestration
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeDegraded  Outcome = "succeeded_degraded"
	OutcomeDryRun    Outcome = "dry_run"
	OutcomeFailed    Outcome = "failed"
)

// Report is the single terminal report produced per invocation
type Report struct {
	InvocationID string                 `json:"invocation_id"`
	Outcome      Outcome                `json:"outcome"`
	Message      string                 `json:"message"`
	FinalState   string                 `json:"final_state"`
	JobUUID      string                 `json:"job_uuid,omitempty"`
	ExecutionID  string                 `json:"execution_id,omitempty"`
	ErrorKind    Kind                   `json:"error_kind,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Elapsed      time.Duration          `json:"elapsed"`
	Err          error                  `json:"-"`
}

// Succeeded reports whether the invocation ended in a success outcome
func (r *Report) Succeeded() bool {
	return r.Outcome != OutcomeFailed
}
