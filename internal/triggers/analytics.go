package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionFilter narrows execution history queries.
type ExecutionFilter struct {
	Status    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// ExecutionMetrics aggregates a trigger's recent execution history.
type ExecutionMetrics struct {
	TriggerID       uuid.UUID `json:"trigger_id"`
	WindowHours     int       `json:"window_hours"`
	TotalExecutions int       `json:"total_executions"`
	SuccessCount    int       `json:"success_count"`
	FailureCount    int       `json:"failure_count"`
	TimeoutCount    int       `json:"timeout_count"`
	SkippedCount    int       `json:"skipped_count"`
	SuccessRate     float64   `json:"success_rate"`
	AvgDurationMs   float64   `json:"avg_duration_ms"`
	MinDurationMs   int64     `json:"min_duration_ms"`
	MaxDurationMs   int64     `json:"max_duration_ms"`
}

// TimelineBucket is one time slice of execution counts.
type TimelineBucket struct {
	BucketStart  time.Time `db:"bucket_start" json:"bucket_start"`
	SuccessCount int       `db:"success_count" json:"success_count"`
	FailureCount int       `db:"failure_count" json:"failure_count"`
	SkippedCount int       `db:"skipped_count" json:"skipped_count"`
}

// ListExecutions returns a page of a trigger's execution history, newest
// first, plus the unpaginated total. The trigger must be visible in the
// caller's workspace.
func (s *Store) ListExecutions(ctx context.Context, triggerID uuid.UUID, f ExecutionFilter) ([]*Execution, int, error) {
	if _, err := s.Get(ctx, triggerID); err != nil {
		return nil, 0, err
	}

	where := " WHERE trigger_id = $1"
	args := []interface{}{triggerID}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.StartTime != nil {
		args = append(args, *f.StartTime)
		where += fmt.Sprintf(" AND executed_at >= $%d", len(args))
	}
	if f.EndTime != nil {
		args = append(args, *f.EndTime)
		where += fmt.Sprintf(" AND executed_at <= $%d", len(args))
	}

	var total int
	if err := s.client.DB().GetContext(ctx, &total,
		"SELECT COUNT(*) FROM trigger_executions"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	pageSize := f.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	args = append(args, pageSize, (page-1)*pageSize)
	query := "SELECT * FROM trigger_executions" + where +
		fmt.Sprintf(" ORDER BY executed_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var out []*Execution
	if err := s.client.DB().SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	return out, total, nil
}

// Metrics aggregates executions in the trailing window. Skipped firings
// count in the total but not against the success rate.
func (s *Store) Metrics(ctx context.Context, triggerID uuid.UUID, hours int) (*ExecutionMetrics, error) {
	if _, err := s.Get(ctx, triggerID); err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	var row struct {
		Total   int     `db:"total"`
		Success int     `db:"success"`
		Failed  int     `db:"failed"`
		Timeout int     `db:"timeout"`
		Skipped int     `db:"skipped"`
		AvgMs   float64 `db:"avg_ms"`
		MinMs   int64   `db:"min_ms"`
		MaxMs   int64   `db:"max_ms"`
	}
	err := s.client.DB().GetContext(ctx, &row, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'success') AS success,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'timeout') AS timeout,
			COUNT(*) FILTER (WHERE status = 'skipped') AS skipped,
			COALESCE(AVG(execution_time_ms), 0) AS avg_ms,
			COALESCE(MIN(execution_time_ms), 0) AS min_ms,
			COALESCE(MAX(execution_time_ms), 0) AS max_ms
		FROM trigger_executions
		WHERE trigger_id = $1 AND executed_at >= $2`,
		triggerID, since)
	if err != nil {
		return nil, fmt.Errorf("execution metrics: %w", err)
	}

	m := &ExecutionMetrics{
		TriggerID:       triggerID,
		WindowHours:     hours,
		TotalExecutions: row.Total,
		SuccessCount:    row.Success,
		FailureCount:    row.Failed,
		TimeoutCount:    row.Timeout,
		SkippedCount:    row.Skipped,
		AvgDurationMs:   row.AvgMs,
		MinDurationMs:   row.MinMs,
		MaxDurationMs:   row.MaxMs,
	}
	if attempted := row.Success + row.Failed + row.Timeout; attempted > 0 {
		m.SuccessRate = float64(row.Success) / float64(attempted)
	}
	return m, nil
}

// Timeline buckets executions over the trailing window for sparkline views.
func (s *Store) Timeline(ctx context.Context, triggerID uuid.UUID, hours, bucketMinutes int) ([]*TimelineBucket, error) {
	if _, err := s.Get(ctx, triggerID); err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = 24
	}
	if bucketMinutes <= 0 {
		bucketMinutes = 60
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	var out []*TimelineBucket
	err := s.client.DB().SelectContext(ctx, &out, `
		SELECT
			to_timestamp(floor(extract(epoch FROM executed_at) / ($3 * 60)) * ($3 * 60)) AS bucket_start,
			COUNT(*) FILTER (WHERE status = 'success') AS success_count,
			COUNT(*) FILTER (WHERE status IN ('failed', 'timeout')) AS failure_count,
			COUNT(*) FILTER (WHERE status = 'skipped') AS skipped_count
		FROM trigger_executions
		WHERE trigger_id = $1 AND executed_at >= $2
		GROUP BY bucket_start
		ORDER BY bucket_start ASC`,
		triggerID, since, bucketMinutes)
	if err != nil {
		return nil, fmt.Errorf("execution timeline: %w", err)
	}
	return out, nil
}
