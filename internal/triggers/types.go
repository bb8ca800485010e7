package triggers

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relay-run/relay/internal/db"
)

// Kind discriminates the trigger variants stored in one wide row.
type Kind string

const (
	KindCron    Kind = "cron"
	KindWebhook Kind = "webhook"
)

// Webhook payload providers the router knows how to parse.
const (
	WebhookTypeGeneric  = "generic"
	WebhookTypeTelegram = "telegram"
	WebhookTypeSlack    = "slack"
	WebhookTypeGitHub   = "github"
	WebhookTypeDiscord  = "discord"
	WebhookTypeStripe   = "stripe"
)

var validWebhookTypes = map[string]struct{}{
	WebhookTypeGeneric:  {},
	WebhookTypeTelegram: {},
	WebhookTypeSlack:    {},
	WebhookTypeGitHub:   {},
	WebhookTypeDiscord:  {},
	WebhookTypeStripe:   {},
}

var validMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {},
	"DELETE": {}, "HEAD": {}, "OPTIONS": {},
}

// Execution statuses.
const (
	ExecutionSuccess   = "success"
	ExecutionFailed    = "failed"
	ExecutionTimeout   = "timeout"
	ExecutionCancelled = "cancelled"
	ExecutionSkipped   = "skipped"
)

const (
	DefaultFailureThreshold = 5
	maxNameLen              = 255
	maxDescriptionLen       = 1000
)

var (
	ErrNotFound        = db.ErrNotFound
	ErrTriggerInactive = errors.New("trigger is not active")
)

// ValidationError reports an input that violates a documented invariant.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

var webhookIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Trigger is the polymorphic trigger row. Cron and webhook specific fields
// are pointers/nullable; Kind says which set is meaningful.
type Trigger struct {
	ID          uuid.UUID `db:"id" json:"id"`
	WorkspaceID uuid.UUID `db:"workspace_id" json:"workspace_id"`
	CreatedBy   uuid.UUID `db:"created_by" json:"created_by"`
	Kind        Kind      `db:"kind" json:"kind"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	AgentID     uuid.UUID `db:"agent_id" json:"agent_id"`
	IsActive    bool      `db:"is_active" json:"is_active"`

	TaskParameters      db.JSONB   `db:"task_parameters" json:"task_parameters"`
	Conditions          db.JSONB   `db:"conditions" json:"conditions"`
	FailureThreshold    int        `db:"failure_threshold" json:"failure_threshold"`
	ConsecutiveFailures int        `db:"consecutive_failures" json:"consecutive_failures"`
	LastExecutionAt     *time.Time `db:"last_execution_at" json:"last_execution_at,omitempty"`

	// Cron variant
	CronExpression *string    `db:"cron_expression" json:"cron_expression,omitempty"`
	Timezone       *string    `db:"timezone" json:"timezone,omitempty"`
	NextRunTime    *time.Time `db:"next_run_time" json:"next_run_time,omitempty"`

	// Webhook variant
	WebhookID       *string        `db:"webhook_id" json:"webhook_id,omitempty"`
	AllowedMethods  pq.StringArray `db:"allowed_methods" json:"allowed_methods,omitempty"`
	WebhookType     *string        `db:"webhook_type" json:"webhook_type,omitempty"`
	ValidationRules db.JSONB       `db:"validation_rules" json:"validation_rules,omitempty"`
	WebhookConfig   db.JSONB       `db:"webhook_config" json:"webhook_config,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Execution is an append-only record of one trigger firing.
type Execution struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	TriggerID       uuid.UUID  `db:"trigger_id" json:"trigger_id"`
	WorkspaceID     uuid.UUID  `db:"workspace_id" json:"workspace_id"`
	ExecutedAt      time.Time  `db:"executed_at" json:"executed_at"`
	Status          string     `db:"status" json:"status"`
	TaskID          *uuid.UUID `db:"task_id" json:"task_id,omitempty"`
	ExecutionTimeMs int64      `db:"execution_time_ms" json:"execution_time_ms"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	TriggerData     db.JSONB   `db:"trigger_data" json:"trigger_data"`
	WorkflowID      *string    `db:"workflow_id" json:"workflow_id,omitempty"`
	RunID           *string    `db:"run_id" json:"run_id,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Create is the input for a new trigger.
type Create struct {
	Kind             Kind                   `json:"kind"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	AgentID          uuid.UUID              `json:"agent_id"`
	TaskParameters   map[string]interface{} `json:"task_parameters"`
	Conditions       map[string]interface{} `json:"conditions"`
	FailureThreshold int                    `json:"failure_threshold"`

	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`

	WebhookID       string                 `json:"webhook_id"`
	AllowedMethods  []string               `json:"allowed_methods"`
	WebhookType     string                 `json:"webhook_type"`
	ValidationRules map[string]interface{} `json:"validation_rules"`
	WebhookConfig   map[string]interface{} `json:"webhook_config"`
}

// Update is a partial trigger update; nil fields are left unchanged.
type Update struct {
	Name             *string                 `json:"name"`
	Description      *string                 `json:"description"`
	IsActive         *bool                   `json:"is_active"`
	TaskParameters   *map[string]interface{} `json:"task_parameters"`
	Conditions       *map[string]interface{} `json:"conditions"`
	FailureThreshold *int                    `json:"failure_threshold"`
	CronExpression   *string                 `json:"cron_expression"`
	Timezone         *string                 `json:"timezone"`
	AllowedMethods   *[]string               `json:"allowed_methods"`
	ValidationRules  *map[string]interface{} `json:"validation_rules"`
	WebhookConfig    *map[string]interface{} `json:"webhook_config"`
}

// Validate checks the documented invariants for trigger creation.
func (c *Create) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(c.Name) > maxNameLen {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLen)}
	}
	if len(c.Description) > maxDescriptionLen {
		return &ValidationError{Field: "description", Message: fmt.Sprintf("must be at most %d characters", maxDescriptionLen)}
	}
	if c.AgentID == uuid.Nil {
		return &ValidationError{Field: "agent_id", Message: "must be set"}
	}
	if c.FailureThreshold != 0 && (c.FailureThreshold < 1 || c.FailureThreshold > 100) {
		return &ValidationError{Field: "failure_threshold", Message: "must be between 1 and 100"}
	}

	switch c.Kind {
	case KindCron:
		if err := ValidateCronExpression(c.CronExpression); err != nil {
			return err
		}
		if strings.TrimSpace(c.Timezone) == "" {
			return &ValidationError{Field: "timezone", Message: "must not be empty"}
		}
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return &ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown IANA timezone %q", c.Timezone)}
		}
	case KindWebhook:
		if c.WebhookID == "" {
			return &ValidationError{Field: "webhook_id", Message: "must not be empty"}
		}
		if !webhookIDPattern.MatchString(c.WebhookID) {
			return &ValidationError{Field: "webhook_id", Message: "must be URL-safe ([A-Za-z0-9_-])"}
		}
		if len(c.AllowedMethods) == 0 {
			return &ValidationError{Field: "allowed_methods", Message: "must not be empty"}
		}
		for _, m := range c.AllowedMethods {
			if _, ok := validMethods[strings.ToUpper(m)]; !ok {
				return &ValidationError{Field: "allowed_methods", Message: fmt.Sprintf("unsupported method %q", m)}
			}
		}
		if c.WebhookType != "" {
			if _, ok := validWebhookTypes[c.WebhookType]; !ok {
				return &ValidationError{Field: "webhook_type", Message: fmt.Sprintf("unsupported type %q", c.WebhookType)}
			}
		}
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("must be %q or %q", KindCron, KindWebhook)}
	}
	return nil
}

// NormalizedMethods upper-cases and deduplicates the allowed method set.
func NormalizedMethods(methods []string) []string {
	seen := make(map[string]struct{}, len(methods))
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		u := strings.ToUpper(strings.TrimSpace(m))
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// MethodAllowed reports whether method is in the trigger's allowed set,
// case-insensitively.
func (t *Trigger) MethodAllowed(method string) bool {
	for _, m := range t.AllowedMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
