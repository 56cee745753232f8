// Package submission augments caller-supplied job definitions with the
// notification callbacks and archive destination of their job record.
package submission

import (
	"fmt"

	"github.com/aescanero/jobrelay/pkg/domain"
)

// NotificationPolicy selects how lifecycle notifications are injected
type NotificationPolicy string

const (
	// PolicyWildcard injects one notification covering every event
	PolicyWildcard NotificationPolicy = "wildcard"
	// PolicyPerEvent injects one notification per lifecycle event
	PolicyPerEvent NotificationPolicy = "per-event"
)

// StatusPlaceholder is substituted by the execution system at event time
const StatusPlaceholder = "${STATUS}"

// perEventStatuses are the lifecycle events covered by PolicyPerEvent
var perEventStatuses = []string{"RUNNING", "FINISHED", "FAILED"}

// ParsePolicy validates a configured policy name
func ParsePolicy(name string) (NotificationPolicy, error) {
	switch NotificationPolicy(name) {
	case PolicyWildcard, PolicyPerEvent:
		return NotificationPolicy(name), nil
	default:
		return "", fmt.Errorf("unknown notification policy: %q", name)
	}
}

// Events returns the notification events injected under p
func (p NotificationPolicy) Events() []string {
	if p == PolicyPerEvent {
		return perEventStatuses
	}
	return []string{"*"}
}

// Builder prepares submission payloads
type Builder struct {
	policy NotificationPolicy
}

// NewBuilder creates a builder using policy
func NewBuilder(policy NotificationPolicy) *Builder {
	if policy == "" {
		policy = PolicyWildcard
	}
	return &Builder{policy: policy}
}

// Policy returns the builder's notification policy
func (b *Builder) Policy() NotificationPolicy {
	return b.policy
}

// Augment injects notifications and archive fields into def in place and
// returns it. Caller-supplied notifications are kept; a notification that
// is already present is not added twice.
func (b *Builder) Augment(def map[string]interface{}, record *domain.JobRecord) (map[string]interface{}, error) {
	if def == nil {
		return nil, domain.NewError(domain.KindSubmissionPrep,
			"failed to prepare job definition", fmt.Errorf("job definition is not a mapping"))
	}
	if record == nil || record.CallbackURL == "" {
		return nil, domain.NewError(domain.KindSubmissionPrep,
			"failed to prepare job definition", fmt.Errorf("job record has no callback URL"))
	}

	notifications, err := notificationList(def["notifications"])
	if err != nil {
		return nil, domain.NewError(domain.KindSubmissionPrep, "failed to prepare job definition", err)
	}

	target := record.CallbackURL + "&status=" + StatusPlaceholder
	for _, event := range b.policy.Events() {
		if hasNotification(notifications, event, target) {
			continue
		}
		notifications = append(notifications, map[string]interface{}{
			"event":      event,
			"persistent": true,
			"url":        target,
		})
	}

	def["notifications"] = notifications
	def["archiveSystem"] = record.ArchiveSystem
	def["archivePath"] = record.ArchivePath
	def["archive"] = true

	return def, nil
}

// notificationList normalizes the existing notifications value
func notificationList(v interface{}) ([]interface{}, error) {
	switch list := v.(type) {
	case nil:
		return []interface{}{}, nil
	case []interface{}:
		return list, nil
	case []map[string]interface{}:
		out := make([]interface{}, 0, len(list))
		for _, n := range list {
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("notifications must be a list, got %T", v)
	}
}

func hasNotification(list []interface{}, event, url string) bool {
	for _, item := range list {
		n, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if n["event"] == event && n["url"] == url {
			return true
		}
	}
	return false
}
