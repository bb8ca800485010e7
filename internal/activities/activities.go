// Package activities holds every side-effecting operation invoked from
// workflow code. Workflows stay deterministic; all I/O lands here.
package activities

import (
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/agents"
	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/eventbus"
	"github.com/relay-run/relay/internal/triggers"
)

// Activities bundles the dependencies shared by all activity functions; a
// single instance is registered on the worker.
type Activities struct {
	agents   *agents.Directory
	tasks    *db.TaskRepo
	bus      *eventbus.Bus
	triggers *triggers.Service
	llm      LLMClient
	tools    ToolInvoker
	logger   *zap.Logger
}

func NewActivities(
	agentDir *agents.Directory,
	tasks *db.TaskRepo,
	bus *eventbus.Bus,
	triggerSvc *triggers.Service,
	llm LLMClient,
	tools ToolInvoker,
	logger *zap.Logger,
) *Activities {
	return &Activities{
		agents:   agentDir,
		tasks:    tasks,
		bus:      bus,
		triggers: triggerSvc,
		llm:      llm,
		tools:    tools,
		logger:   logger,
	}
}
