package triggers

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Two parsers: standard 5-field and 6-field with a leading seconds column.
var (
	fiveFieldParser = cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sixFieldParser = cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// ParseCron parses a 5- or 6-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	switch len(fields) {
	case 5:
		return fiveFieldParser.Parse(expr)
	case 6:
		return sixFieldParser.Parse(expr)
	default:
		return nil, fmt.Errorf("cron expression must have 5 or 6 fields, got %d", len(fields))
	}
}

// ValidateCronExpression returns a ValidationError for malformed expressions.
func ValidateCronExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return &ValidationError{Field: "cron_expression", Message: "must not be empty"}
	}
	if _, err := ParseCron(expr); err != nil {
		return &ValidationError{Field: "cron_expression", Message: err.Error()}
	}
	return nil
}

// NextRun computes the next firing after now in the trigger's timezone.
func NextRun(expr, timezone string, now time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return sched.Next(now.In(loc)), nil
}
