package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aescanero/jobrelay/internal/application/orchestrator"
	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxMessageBytes = 1 << 20

// MessageAcceptedResponse is returned when a message is queued
type MessageAcceptedResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// CallbackResponse is returned for an accepted status callback
type CallbackResponse struct {
	JobUUID string           `json:"job_uuid"`
	Status  domain.JobStatus `json:"status"`
	Changed bool             `json:"changed"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// detailer is implemented by health checkers that can describe their state
type detailer interface {
	Details() interface{}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"orchestrator": "ok"}
	status, code := "healthy", http.StatusOK

	resp := gin.H{"timestamp": time.Now().UTC(), "checks": checks}

	if s.workers != nil {
		if s.workers.IsHealthy() {
			checks["workers"] = "ok"
		} else {
			checks["workers"] = "unhealthy"
			status, code = "degraded", http.StatusServiceUnavailable
		}
		if d, ok := s.workers.(detailer); ok {
			resp["worker_pool"] = d.Details()
		}
	}

	resp["status"] = status
	c.JSON(code, resp)
}

// handleSubmitMessage runs a message through the orchestrator. With
// ?async=true the message is queued on the messages topic instead.
func (s *Server) handleSubmitMessage(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageBytes))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "failed to read request body", nil)
		return
	}
	msg := domain.ParseMessage(body)

	if queryBool(c, "async") {
		s.queueMessage(c, msg)
		return
	}

	report := s.runner.Run(c.Request.Context(), msg, orchestrator.RunOptions{
		DryRun: queryBool(c, "dry_run"),
	})

	if report.Succeeded() {
		c.JSON(http.StatusOK, report)
		return
	}

	var details interface{} = report
	var derr *domain.Error
	if errors.As(report.Err, &derr) && derr.Detail != nil {
		details = gin.H{"report": report, "remote": derr.Detail}
	}
	abortWithError(c, statusForKind(report.ErrorKind), string(report.ErrorKind), report.Message, details)
}

func (s *Server) queueMessage(c *gin.Context, msg domain.Message) {
	if s.eventBus == nil {
		abortWithError(c, http.StatusServiceUnavailable, "QUEUE_NOT_AVAILABLE", "no event bus is configured", nil)
		return
	}

	id := uuid.New().String()
	event := domain.MessageEvent(id, msg, time.Now().UTC())
	if err := s.eventBus.Publish(c.Request.Context(), domain.TopicMessages, event); err != nil {
		s.logger.Error("failed to queue message", zap.Error(err))
		abortWithError(c, http.StatusServiceUnavailable, "QUEUE_FAILED", "failed to queue message", nil)
		return
	}

	c.JSON(http.StatusAccepted, MessageAcceptedResponse{MessageID: id, Status: "queued"})
}

// handleGetJob returns a job record
func (s *Server) handleGetJob(c *gin.Context) {
	record, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		s.logger.Error("failed to get job", zap.String("job_uuid", c.Param("id")), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORE_ERROR", "Failed to retrieve job", nil)
		return
	}

	c.JSON(http.StatusOK, record)
}

// handleCallback applies a status notification from the execution system.
// The status comes from the query string, or from the body's status field.
func (s *Server) handleCallback(c *gin.Context) {
	jobUUID := c.Param("id")

	var body map[string]interface{}
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageBytes))
		if err == nil && len(raw) > 0 {
			// Non-JSON bodies are tolerated; the status then comes from the query
			_ = json.Unmarshal(raw, &body)
		}
	}

	status := c.Query("status")
	if status == "" {
		if v, ok := body["status"].(string); ok {
			status = v
		}
	}
	if status == "" {
		s.metrics.RecordCallback("", false)
		abortWithError(c, http.StatusBadRequest, "MISSING_STATUS", "status is required", nil)
		return
	}
	status = strings.ToUpper(status)

	record, changed, err := s.jobs.HandleCallback(c.Request.Context(), jobUUID, c.Query("token"), status, body)
	s.metrics.RecordCallback(status, err == nil)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidToken):
			abortWithError(c, http.StatusForbidden, "INVALID_TOKEN", "callback token is not valid for this job", nil)
		case errors.Is(err, domain.ErrJobNotFound):
			abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		case errors.Is(err, domain.ErrInvalidTransition):
			abortWithError(c, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
		default:
			s.logger.Error("failed to apply callback",
				zap.String("job_uuid", jobUUID),
				zap.String("remote_status", status),
				zap.Error(err))
			abortWithError(c, http.StatusInternalServerError, "STORE_ERROR", "Failed to update job", nil)
		}
		return
	}

	c.JSON(http.StatusOK, CallbackResponse{
		JobUUID: record.UUID,
		Status:  record.Status,
		Changed: changed,
	})
}

func queryBool(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}

// statusForKind maps a failure kind onto an HTTP status
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindMalformedMessage, domain.KindSchemaValidation:
		return http.StatusBadRequest
	case domain.KindUnknownApplication, domain.KindUnknownPipeline:
		return http.StatusNotFound
	case domain.KindRegistryLookup, domain.KindExecutionAPI, domain.KindSubmissionProtocol:
		return http.StatusBadGateway
	case domain.KindSubmissionPrep:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
