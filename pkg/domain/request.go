package domain

import "encoding/json"

// Message is an inbound trigger message. Structured is preferred; Raw is
// parsed only when Structured is empty.
type Message struct {
	Structured map[string]interface{} `json:"structured,omitempty"`
	Raw        string                 `json:"raw,omitempty"`
}

// ParseMessage keeps body as the raw fallback and, when it decodes to a
// JSON object, also as the structured message
func ParseMessage(body []byte) Message {
	msg := Message{Raw: string(body)}
	var structured map[string]interface{}
	if err := json.Unmarshal(body, &structured); err == nil {
		msg.Structured = structured
	}
	return msg
}

// Request is a validated job-submission request
type Request struct {
	AppID         string                 `json:"appId" validate:"required"`
	JobDefinition map[string]interface{} `json:"job_definition" validate:"required"`
	Parameters    JobParameters          `json:"parameters"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Instanced     bool                   `json:"instanced"`
}

// JobParameters are the job record constructor options a caller may set
type JobParameters struct {
	ArchiveSystem string `json:"archive_system,omitempty" validate:"omitempty,max=256"`
	ArchivePath   string `json:"archive_path,omitempty" validate:"omitempty,startswith=/"`
	Session       string `json:"session,omitempty" validate:"omitempty,max=128"`
}

// AppDetails is what the application registry returns for a known app
type AppDetails struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	ExecutionHost string `json:"executionSystem"`
	IsPublic      bool   `json:"isPublic"`
}

// ExecutionHandle identifies a job accepted by the remote execution API
type ExecutionHandle struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}
