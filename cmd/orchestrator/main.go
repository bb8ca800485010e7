// Command orchestrator runs the trigger and agent execution service: the
// HTTP API, webhook ingest, workflow workers, and the schedule reconciler
// in one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/activities"
	"github.com/relay-run/relay/internal/agents"
	"github.com/relay-run/relay/internal/auth"
	"github.com/relay-run/relay/internal/config"
	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/eventbus"
	"github.com/relay-run/relay/internal/health"
	"github.com/relay-run/relay/internal/httpapi"
	"github.com/relay-run/relay/internal/schedules"
	"github.com/relay-run/relay/internal/tasks"
	temporalglue "github.com/relay-run/relay/internal/temporal"
	"github.com/relay-run/relay/internal/tracing"
	"github.com/relay-run/relay/internal/triggers"
	"github.com/relay-run/relay/internal/webhooks"
	"github.com/relay-run/relay/internal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// Hot-reloadable features file.
	features, err := config.NewManager(cfg.FeaturesPath, logger)
	if err != nil {
		return err
	}
	if err := features.Start(); err != nil {
		return err
	}
	defer features.Stop()

	// Persistence.
	dbClient, err := db.NewClient(&db.Config{
		URL:             cfg.DBURL,
		MaxConnections:  cfg.DBPoolSize,
		IdleConnections: cfg.DBMaxOverflow,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = dbClient.Close() }()

	// Event broker.
	redisOpts, err := redis.ParseURL(cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse BROKER_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	// Workflow engine.
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.WorkflowEngineURL,
		Namespace: cfg.WorkflowNamespace,
		Logger:    temporalglue.NewZapAdapter(logger),
	})
	if err != nil {
		return fmt.Errorf("dial workflow engine: %w", err)
	}
	defer tc.Close()

	// Repositories and services.
	taskRepo := db.NewTaskRepo(dbClient, logger)
	eventRepo := db.NewTaskEventRepo(dbClient, logger)
	agentDir := agents.NewDirectory(dbClient, logger)
	triggerStore := triggers.NewStore(dbClient, logger)

	broker := eventbus.NewBroker(rdb, logger)
	ringCap := features.Current().Streaming.RingCapacity
	bus := eventbus.NewBus(eventRepo, broker, eventbus.NewManager(ringCap), logger)
	notifier := eventbus.NewTriggerNotifier(broker, logger)

	scheduleManager := schedules.NewManager(tc, schedules.Config{
		TaskQueue: cfg.TaskQueueTriggers,
	}, logger)

	orchestrator := tasks.NewOrchestrator(taskRepo, agentDir, bus, tc,
		cfg.TaskQueueTasks, tasks.Defaults{
			BudgetUSD:      cfg.DefaultBudgetUSD,
			BudgetWarnAt:   cfg.BudgetWarnAt,
			MaxIterations:  cfg.MaxIterations,
			TimeoutSeconds: cfg.TaskTimeoutSeconds,
		}, logger)

	failClosed := func() bool {
		return cfg.ConditionsFailClosed || features.Current().Triggers.ConditionsFailClosed
	}
	conditions := triggers.NewConditionEvaluator(nil, failClosed, logger)
	triggerSvc := triggers.NewService(triggerStore, scheduleManager, orchestrator,
		agentDir, conditions, notifier, logger)

	acts := activities.NewActivities(agentDir, taskRepo, bus, triggerSvc,
		activities.NewHTTPLLMClient(cfg.LLMServiceURL, logger),
		activities.NewHTTPToolInvoker(cfg.ToolsServiceURL, logger),
		logger)

	// Workers: agent tasks and scheduled trigger firings run on separate
	// queues so trigger storms cannot starve interactive tasks.
	workerOpts := worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.MaxConcurrentWorkflows,
	}
	taskWorker := worker.New(tc, cfg.TaskQueueTasks, workerOpts)
	taskWorker.RegisterWorkflow(workflows.AgentExecutionWorkflow)
	taskWorker.RegisterActivity(acts)
	if err := taskWorker.Start(); err != nil {
		return fmt.Errorf("start task worker: %w", err)
	}
	defer taskWorker.Stop()

	triggerWorker := worker.New(tc, cfg.TaskQueueTriggers, workerOpts)
	triggerWorker.RegisterWorkflow(workflows.TriggerExecutionWorkflow)
	triggerWorker.RegisterActivity(acts)
	if err := triggerWorker.Start(); err != nil {
		return fmt.Errorf("start trigger worker: %w", err)
	}
	defer triggerWorker.Stop()

	// Schedule reconciler heals drift between trigger rows and engine
	// schedules.
	reconciler := schedules.NewReconciler(scheduleManager, triggerStore,
		cfg.ReconcileInterval, logger)
	go reconciler.Run(ctx)

	// Health checks.
	healthMgr := health.NewManager(logger)
	healthMgr.Register(health.NewDatabaseChecker(dbClient))
	healthMgr.Register(health.NewRedisChecker(rdb))
	healthMgr.Register(health.NewEngineChecker(tc))

	// HTTP surface: authenticated /v1 API, unauthenticated webhook ingest
	// and liveness.
	verifier, err := auth.NewJWTVerifier(cfg.AuthJWKSB64, cfg.AuthSecret,
		cfg.AuthIssuer, cfg.AuthAudience)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}
	authMw := auth.NewMiddleware(verifier, auth.NewService(dbClient.DB(), logger), logger)

	apiRouter := mux.NewRouter()
	httpapi.NewServer(triggerSvc, triggerStore, orchestrator, eventRepo,
		healthMgr, cfg.WebhookBaseURL, logger).Register(apiRouter)

	root := mux.NewRouter()
	root.Use(httpapi.Instrument, tracing.Middleware)
	root.Handle("/healthz", health.LivenessHandler())
	webhooks.NewRouter(triggerSvc, logger).Register(root)
	root.PathPrefix("/v1/").Handler(authMw.Handler(apiRouter))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("Metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(sctx)
	_ = metricsServer.Shutdown(sctx)
	return nil
}
