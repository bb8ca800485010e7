package triggers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/db"
)

type fakeSchedules struct {
	created, updated, paused, unpaused, deleted int
}

func (f *fakeSchedules) CreateSchedule(context.Context, *Trigger) error { f.created++; return nil }
func (f *fakeSchedules) UpdateSchedule(context.Context, *Trigger) error { f.updated++; return nil }
func (f *fakeSchedules) PauseSchedule(context.Context, uuid.UUID) error { f.paused++; return nil }
func (f *fakeSchedules) UnpauseSchedule(context.Context, uuid.UUID) error {
	f.unpaused++
	return nil
}
func (f *fakeSchedules) DeleteSchedule(context.Context, uuid.UUID) error { f.deleted++; return nil }

type fakeLauncher struct {
	err    error
	result *LaunchResult
	calls  int
	last   LaunchRequest
}

func (f *fakeLauncher) Launch(_ context.Context, req LaunchRequest) (*LaunchResult, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeAgents struct{ err error }

func (f *fakeAgents) Exists(context.Context, uuid.UUID) error { return f.err }

type fakeNotifier struct{ autoDisabled int }

func (f *fakeNotifier) TriggerAutoDisabled(context.Context, *Trigger, int) { f.autoDisabled++ }

type serviceFixture struct {
	svc       *Service
	mock      sqlmock.Sqlmock
	schedules *fakeSchedules
	launcher  *fakeLauncher
	notifier  *fakeNotifier
	ctx       context.Context
	ws, user  uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = rawDB.Close() })

	client := db.NewClientFromDB(sqlx.NewDb(rawDB, "postgres"), zap.NewNop())
	f := &serviceFixture{
		mock:      mock,
		schedules: &fakeSchedules{},
		launcher:  &fakeLauncher{result: &LaunchResult{TaskID: uuid.New(), WorkflowID: "task-x", RunID: "run-1"}},
		notifier:  &fakeNotifier{},
		ws:        uuid.New(),
		user:      uuid.New(),
	}
	f.ctx = db.ContextWithScope(context.Background(), f.ws, f.user)
	f.svc = NewService(
		NewStore(client, zap.NewNop()),
		f.schedules,
		f.launcher,
		&fakeAgents{},
		newTestEvaluator(nil, false),
		f.notifier,
		zap.NewNop(),
	)
	return f
}

func triggerSelectColumns() []string {
	return []string{
		"id", "workspace_id", "created_by", "kind", "name", "description", "agent_id", "is_active",
		"task_parameters", "conditions", "failure_threshold", "consecutive_failures", "last_execution_at",
		"cron_expression", "timezone", "next_run_time",
		"webhook_id", "allowed_methods", "webhook_type", "validation_rules", "webhook_config",
		"created_at", "updated_at",
	}
}

func (f *serviceFixture) expectGetTrigger(id uuid.UUID, kind Kind, active bool, threshold int, conditions string) {
	now := time.Now().UTC()
	row := sqlmock.NewRows(triggerSelectColumns()).AddRow(
		id, f.ws, f.user, string(kind), "t", "", uuid.New(), active,
		[]byte(`{}`), []byte(conditions), threshold, 0, nil,
		nil, nil, nil,
		nil, nil, nil, nil, nil,
		now, now,
	)
	f.mock.ExpectQuery(`FROM triggers\s+WHERE id = \$1 AND workspace_id = \$2`).
		WithArgs(id, f.ws).
		WillReturnRows(row)
}

func TestExecuteSkipsWhenConditionsNotMet(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()
	f.expectGetTrigger(id, KindWebhook, true, 5, `{"field_matches":{"action":"opened"}}`)
	f.mock.ExpectExec(`INSERT INTO trigger_executions`).
		WithArgs(sqlmock.AnyArg(), id, f.ws, sqlmock.AnyArg(), ExecutionSkipped,
			nil, sqlmock.AnyArg(), nil, sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	exec, err := f.svc.Execute(f.ctx, id, "webhook", map[string]interface{}{"action": "closed"})
	require.NoError(t, err)
	assert.Equal(t, ExecutionSkipped, exec.Status)
	assert.Zero(t, f.launcher.calls, "no task is launched for a skipped firing")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestExecuteLaunchesTaskAndResetsFailures(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()
	f.expectGetTrigger(id, KindWebhook, true, 5, `{}`)
	f.mock.ExpectExec(`INSERT INTO trigger_executions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE triggers SET last_execution_at = \$1, consecutive_failures = \$2`).
		WithArgs(sqlmock.AnyArg(), 0, id, f.ws).
		WillReturnResult(sqlmock.NewResult(0, 1))

	exec, err := f.svc.Execute(f.ctx, id, "webhook", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, ExecutionSuccess, exec.Status)
	require.NotNil(t, exec.TaskID)
	assert.Equal(t, f.launcher.result.TaskID, *exec.TaskID)
	assert.Equal(t, 1, f.launcher.calls)
	assert.Equal(t, f.ws, f.launcher.last.WorkspaceID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestExecuteInactiveTrigger(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()
	f.expectGetTrigger(id, KindWebhook, false, 5, `{}`)
	f.mock.ExpectExec(`INSERT INTO trigger_executions`).
		WithArgs(sqlmock.AnyArg(), id, f.ws, sqlmock.AnyArg(), ExecutionFailed,
			nil, sqlmock.AnyArg(), "trigger inactive", sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	exec, err := f.svc.Execute(f.ctx, id, "webhook", nil)
	assert.ErrorIs(t, err, ErrTriggerInactive)
	assert.Equal(t, ExecutionFailed, exec.Status)
	assert.Zero(t, f.launcher.calls)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestExecuteFailureAutoDisablesAtThreshold(t *testing.T) {
	f := newServiceFixture(t)
	f.launcher.err = errors.New("engine unavailable")
	id := uuid.New()

	f.expectGetTrigger(id, KindCron, true, 1, `{}`)
	f.mock.ExpectExec(`INSERT INTO trigger_executions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(`SET consecutive_failures = consecutive_failures \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"consecutive_failures"}).AddRow(1))
	f.mock.ExpectExec(`UPDATE triggers SET is_active = \$1`).
		WithArgs(false, id, f.ws).
		WillReturnResult(sqlmock.NewResult(0, 1))

	exec, err := f.svc.Execute(f.ctx, id, "schedule", nil)
	assert.Error(t, err)
	assert.Equal(t, ExecutionFailed, exec.Status)
	require.NotNil(t, exec.ErrorMessage)
	assert.Equal(t, 1, f.schedules.paused, "cron schedule is paused on auto-disable")
	assert.Equal(t, 1, f.notifier.autoDisabled)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAutoDisableNotifiesAtMostOnce(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()
	tr := &Trigger{ID: id, WorkspaceID: f.ws, Kind: KindWebhook, FailureThreshold: 1}

	// A concurrent failure already flipped is_active; SetActive touches no
	// rows, the follow-up Get confirms the trigger exists, and no second
	// notification goes out.
	f.mock.ExpectQuery(`SET consecutive_failures = consecutive_failures \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"consecutive_failures"}).AddRow(2))
	f.mock.ExpectExec(`UPDATE triggers SET is_active = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.expectGetTrigger(id, KindWebhook, false, 1, `{}`)

	f.svc.recordFailure(f.ctx, tr, time.Now())
	assert.Zero(t, f.notifier.autoDisabled)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestExecuteFailureBelowThresholdStaysActive(t *testing.T) {
	f := newServiceFixture(t)
	f.launcher.err = errors.New("transient")
	id := uuid.New()

	f.expectGetTrigger(id, KindWebhook, true, 5, `{}`)
	f.mock.ExpectExec(`INSERT INTO trigger_executions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(`SET consecutive_failures = consecutive_failures \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"consecutive_failures"}).AddRow(3))

	_, err := f.svc.Execute(f.ctx, id, "webhook", nil)
	assert.Error(t, err)
	assert.Zero(t, f.notifier.autoDisabled)
	assert.Zero(t, f.schedules.paused)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
