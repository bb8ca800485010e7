package triggers

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCronCreate() *Create {
	return &Create{
		Kind:           KindCron,
		Name:           "daily digest",
		AgentID:        uuid.New(),
		CronExpression: "0 9 * * *",
		Timezone:       "America/New_York",
	}
}

func validWebhookCreate() *Create {
	return &Create{
		Kind:           KindWebhook,
		Name:           "telegram inbox",
		AgentID:        uuid.New(),
		WebhookID:      "tg-inbox_01",
		AllowedMethods: []string{"POST"},
		WebhookType:    WebhookTypeTelegram,
	}
}

func TestCreateValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Create)
		wantErr string
	}{
		{"valid cron", func(c *Create) {}, ""},
		{"empty name", func(c *Create) { c.Name = "  " }, "name"},
		{"name too long", func(c *Create) { c.Name = strings.Repeat("x", 256) }, "name"},
		{"description too long", func(c *Create) { c.Description = strings.Repeat("d", 1001) }, "description"},
		{"missing agent", func(c *Create) { c.AgentID = uuid.Nil }, "agent_id"},
		{"threshold too low", func(c *Create) { c.FailureThreshold = -1 }, "failure_threshold"},
		{"threshold too high", func(c *Create) { c.FailureThreshold = 101 }, "failure_threshold"},
		{"bad cron expression", func(c *Create) { c.CronExpression = "not a cron" }, "cron_expression"},
		{"four field cron", func(c *Create) { c.CronExpression = "0 9 * *" }, "cron_expression"},
		{"empty timezone", func(c *Create) { c.Timezone = "" }, "timezone"},
		{"unknown timezone", func(c *Create) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad kind", func(c *Create) { c.Kind = "manual" }, "kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCronCreate()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestCreateValidateWebhook(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Create)
		wantErr string
	}{
		{"valid webhook", func(c *Create) {}, ""},
		{"six field cron accepted", func(c *Create) {
			c.Kind = KindCron
			c.CronExpression = "30 0 9 * * *"
			c.Timezone = "UTC"
		}, ""},
		{"empty webhook id", func(c *Create) { c.WebhookID = "" }, "webhook_id"},
		{"webhook id with slash", func(c *Create) { c.WebhookID = "a/b" }, "webhook_id"},
		{"webhook id with space", func(c *Create) { c.WebhookID = "a b" }, "webhook_id"},
		{"no methods", func(c *Create) { c.AllowedMethods = nil }, "allowed_methods"},
		{"bad method", func(c *Create) { c.AllowedMethods = []string{"FETCH"} }, "allowed_methods"},
		{"bad webhook type", func(c *Create) { c.WebhookType = "pagerduty" }, "webhook_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validWebhookCreate()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestNormalizedMethods(t *testing.T) {
	got := NormalizedMethods([]string{"post", "POST", " get ", "", "Put"})
	assert.Equal(t, []string{"POST", "GET", "PUT"}, got)
}

func TestMethodAllowed(t *testing.T) {
	tr := &Trigger{AllowedMethods: []string{"POST", "PUT"}}
	assert.True(t, tr.MethodAllowed("post"))
	assert.True(t, tr.MethodAllowed("PUT"))
	assert.False(t, tr.MethodAllowed("GET"))
}
