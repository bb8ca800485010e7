package tasks

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/agents"
	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/triggers"
	"github.com/relay-run/relay/internal/workflows"
)

type orchestratorFixture struct {
	mock     sqlmock.Sqlmock
	engine   *mocks.Client
	orc      *Orchestrator
	ctx      context.Context
	wsID     uuid.UUID
	userID   uuid.UUID
	agentID  uuid.UUID
	teardown func()
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	sqlDB, smock, err := sqlmock.New()
	require.NoError(t, err)
	client := db.NewClientFromDB(sqlx.NewDb(sqlDB, "sqlmock"), zap.NewNop())

	f := &orchestratorFixture{
		mock:    smock,
		engine:  &mocks.Client{},
		wsID:    uuid.New(),
		userID:  uuid.New(),
		agentID: uuid.New(),
	}
	f.ctx = db.ContextWithScope(context.Background(), f.wsID, f.userID)
	f.orc = NewOrchestrator(
		db.NewTaskRepo(client, zap.NewNop()),
		agents.NewDirectory(client, zap.NewNop()),
		nil,
		f.engine,
		"agent-tasks",
		Defaults{BudgetUSD: 10.0, MaxIterations: 20, TimeoutSeconds: 1800},
		zap.NewNop(),
	)
	f.teardown = func() {
		assert.NoError(t, smock.ExpectationsWereMet())
		f.engine.AssertExpectations(t)
	}
	return f
}

func taskColumns() []string {
	return []string{
		"id", "workspace_id", "created_by", "agent_id", "description",
		"parameters", "status", "result", "error", "started_at",
		"completed_at", "execution_id", "metadata", "created_at", "updated_at",
	}
}

func (f *orchestratorFixture) taskRow(id uuid.UUID, status string, executionID *string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(taskColumns()).AddRow(
		id, f.wsID, f.userID, f.agentID, "write a haiku",
		[]byte(`{}`), status, nil, nil, nil,
		nil, executionID, []byte(`{}`), now, now,
	)
}

func (f *orchestratorFixture) expectAgentExists() {
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM agents`)).
		WithArgs(f.agentID, f.wsID).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
}

func TestCreateAndStartHappyPath(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	f.expectAgentExists()
	f.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tasks`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.engine.On("ExecuteWorkflow", mock.Anything, mock.Anything, "AgentExecutionWorkflow", mock.Anything).
		Return(&mocks.WorkflowRun{}, nil)
	f.mock.ExpectExec(regexp.QuoteMeta(`UPDATE tasks`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	taskID := uuid.New()
	execID := "task-" + taskID.String()
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM tasks`)).
		WillReturnRows(f.taskRow(taskID, db.TaskStatusRunning, &execID))

	task, err := f.orc.CreateAndStart(f.ctx, CreateTaskInput{
		AgentID:     f.agentID,
		Description: "write a haiku",
	})
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusRunning, task.Status)
	require.NotNil(t, task.ExecutionID)
	assert.Regexp(t, `^task-[0-9a-f-]{36}$`, *task.ExecutionID)
}

func TestCreateAndStartEngineFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	f.expectAgentExists()
	f.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tasks`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.engine.On("ExecuteWorkflow", mock.Anything, mock.Anything, "AgentExecutionWorkflow", mock.Anything).
		Return(nil, errors.New("frontend unavailable"))
	// The task ends up failed, not stuck in pending.
	f.mock.ExpectExec(regexp.QuoteMeta(`UPDATE tasks SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := f.orc.CreateAndStart(f.ctx, CreateTaskInput{
		AgentID:     f.agentID,
		Description: "write a haiku",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start workflow")
}

func TestCreateAndStartUnknownAgent(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM agents`)).
		WithArgs(f.agentID, f.wsID).
		WillReturnError(sql.ErrNoRows)

	_, err := f.orc.CreateAndStart(f.ctx, CreateTaskInput{
		AgentID:     f.agentID,
		Description: "write a haiku",
	})
	var verr *triggers.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "agent_id", verr.Field)
}

func TestLaunchBindsTriggerScope(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	f.expectAgentExists()
	f.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tasks`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.engine.On("ExecuteWorkflow", mock.Anything, mock.Anything, "AgentExecutionWorkflow", mock.Anything).
		Return(&mocks.WorkflowRun{}, nil)
	f.mock.ExpectExec(regexp.QuoteMeta(`UPDATE tasks`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	taskID := uuid.New()
	execID := "task-" + taskID.String()
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM tasks`)).
		WillReturnRows(f.taskRow(taskID, db.TaskStatusRunning, &execID))

	// Launch carries its own scope; no ambient user context on the ctx.
	res, err := f.orc.Launch(context.Background(), triggers.LaunchRequest{
		WorkspaceID: f.wsID,
		UserID:      f.userID,
		AgentID:     f.agentID,
		TriggerID:   uuid.New(),
		Source:      "cron",
		Parameters:  map[string]interface{}{"trigger_name": "nightly report"},
	})
	require.NoError(t, err)
	assert.Equal(t, taskID, res.TaskID)
	assert.Equal(t, execID, res.WorkflowID)
}

func TestGetOverlaysEngineStatus(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	taskID := uuid.New()
	execID := "task-" + taskID.String()
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM tasks`)).
		WithArgs(taskID, f.wsID).
		WillReturnRows(f.taskRow(taskID, db.TaskStatusRunning, &execID))

	f.engine.On("DescribeWorkflowExecution", mock.Anything, execID, "").
		Return(&workflowservice.DescribeWorkflowExecutionResponse{
			WorkflowExecutionInfo: &workflowpb.WorkflowExecutionInfo{
				Status: enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED,
			},
		}, nil)

	// The row has not caught up yet; the overlay pulls the finished run's
	// result alongside the status.
	run := &mocks.WorkflowRun{}
	run.On("Get", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			out := args.Get(1).(*workflows.AgentExecutionResult)
			*out = workflows.AgentExecutionResult{
				Success:                 true,
				FinalResponse:           "haiku delivered",
				ReasoningIterationsUsed: 2,
				TotalCostUSD:            0.01,
			}
		}).Return(nil)
	f.engine.On("GetWorkflow", mock.Anything, execID, "").Return(run)

	task, err := f.orc.Get(f.ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "haiku delivered", task.Result["response"])
	assert.Equal(t, 2, task.Result["iterations"])
}

func TestGetOverlaysEngineFailureCause(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	taskID := uuid.New()
	execID := "task-" + taskID.String()
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM tasks`)).
		WithArgs(taskID, f.wsID).
		WillReturnRows(f.taskRow(taskID, db.TaskStatusRunning, &execID))

	f.engine.On("DescribeWorkflowExecution", mock.Anything, execID, "").
		Return(&workflowservice.DescribeWorkflowExecutionResponse{
			WorkflowExecutionInfo: &workflowpb.WorkflowExecutionInfo{
				Status: enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
			},
		}, nil)

	run := &mocks.WorkflowRun{}
	run.On("Get", mock.Anything, mock.Anything).
		Return(errors.New("budget exceeded: spent $10.2000 of $10.0000"))
	f.engine.On("GetWorkflow", mock.Anything, execID, "").Return(run)

	task, err := f.orc.Get(f.ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusFailed, task.Status)
	require.NotNil(t, task.Error)
	assert.Contains(t, *task.Error, "budget exceeded")
}

func TestGetServesStoredStatusWhenEngineDown(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	taskID := uuid.New()
	execID := "task-" + taskID.String()
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM tasks`)).
		WithArgs(taskID, f.wsID).
		WillReturnRows(f.taskRow(taskID, db.TaskStatusRunning, &execID))

	f.engine.On("DescribeWorkflowExecution", mock.Anything, execID, "").
		Return(nil, errors.New("connection refused"))

	task, err := f.orc.Get(f.ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusRunning, task.Status)
}

func TestCancelTerminalTaskIsNoop(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	taskID := uuid.New()
	execID := "task-" + taskID.String()
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM tasks`)).
		WithArgs(taskID, f.wsID).
		WillReturnRows(f.taskRow(taskID, db.TaskStatusCompleted, &execID))

	cancelled, err := f.orc.Cancel(f.ctx, taskID)
	require.NoError(t, err)
	assert.False(t, cancelled)
	f.engine.AssertNotCalled(t, "CancelWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelRunningTask(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	taskID := uuid.New()
	execID := "task-" + taskID.String()
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM tasks`)).
		WithArgs(taskID, f.wsID).
		WillReturnRows(f.taskRow(taskID, db.TaskStatusRunning, &execID))
	f.engine.On("CancelWorkflow", mock.Anything, execID, "").Return(nil)
	f.mock.ExpectExec(regexp.QuoteMeta(`UPDATE tasks SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cancelled, err := f.orc.Cancel(f.ctx, taskID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestPauseSignalsWorkflow(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	taskID := uuid.New()
	execID := "task-" + taskID.String()
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM tasks`)).
		WithArgs(taskID, f.wsID).
		WillReturnRows(f.taskRow(taskID, db.TaskStatusRunning, &execID))
	f.engine.On("SignalWorkflow", mock.Anything, execID, "", "pause", mock.Anything).
		Return(nil)

	require.NoError(t, f.orc.Pause(f.ctx, taskID, "operator hold"))
}

func TestPauseTerminalTaskRejected(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.teardown()

	taskID := uuid.New()
	execID := "task-" + taskID.String()
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM tasks`)).
		WithArgs(taskID, f.wsID).
		WillReturnRows(f.taskRow(taskID, db.TaskStatusFailed, &execID))

	err := f.orc.Pause(f.ctx, taskID, "too late")
	assert.ErrorIs(t, err, ErrTaskTerminal)
}
