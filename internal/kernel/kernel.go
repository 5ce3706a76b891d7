// Package kernel wires the underwriter's shared infrastructure: persistence,
// the event log, messaging, the tool registry, the router and the
// orchestrator. Both the HTTP server and the one-shot CLI run on a kernel.
package kernel

import (
	"context"
	"fmt"
	"time"

	"underwriter/pkg/config"
	"underwriter/pkg/eventlog"
	"underwriter/pkg/llm"
	"underwriter/pkg/llm/factory"
	"underwriter/pkg/logx"
	"underwriter/pkg/messaging"
	"underwriter/pkg/metrics"
	"underwriter/pkg/orchestrator"
	"underwriter/pkg/persistence"
	"underwriter/pkg/router"
	"underwriter/pkg/tools"
	"underwriter/pkg/underwriting"
)

// Kernel owns the lifecycle of every long-lived component.
type Kernel struct {
	ctx    context.Context //nolint:containedctx // Required for kernel lifecycle management
	cancel context.CancelFunc

	Config *config.Config
	Logger *logx.Logger

	// Optional services are nil when disabled in the config.
	Store    *persistence.Store
	EventLog *eventlog.Writer
	Metrics  *metrics.PrometheusRecorder

	Fabric       *messaging.Fabric
	Registry     *tools.Registry
	Router       router.DecisionSource
	Orchestrator *orchestrator.Orchestrator

	clientFor func(model string) (llm.LLMClient, error)
	running   bool
}

// Option customizes kernel construction.
type Option func(*Kernel)

// WithLLMClient makes every model name resolve to client instead of a
// provider built from credentials.
func WithLLMClient(client llm.LLMClient) Option {
	return func(k *Kernel) {
		k.clientFor = func(string) (llm.LLMClient, error) { return client, nil }
	}
}

// NewKernel builds every component selected by cfg. Nothing is started.
func NewKernel(parent context.Context, cfg *config.Config, opts ...Option) (*Kernel, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, cancel := context.WithCancel(parent)

	k := &Kernel{
		ctx:    ctx,
		cancel: cancel,
		Config: cfg,
		Logger: logx.NewLogger("kernel"),
	}
	k.clientFor = k.buildClient
	for _, opt := range opts {
		opt(k)
	}

	if err := k.initializeServices(); err != nil {
		k.closeResources()
		cancel()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

// Recorder returns the active metrics recorder.
func (k *Kernel) Recorder() metrics.Recorder {
	if k.Metrics == nil {
		return metrics.Nop{}
	}
	return k.Metrics
}

func (k *Kernel) initializeServices() error {
	if k.Config.Metrics.Enabled {
		k.Metrics = metrics.NewPrometheusRecorder()
	}

	if k.Config.Storage.Enabled {
		store, err := persistence.Open(k.Config.Storage.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		k.Store = store
	}

	var fabricOpts []messaging.Option
	if k.Config.EventLog.Enabled {
		writer, err := eventlog.NewWriter(k.Config.EventLog.Dir)
		if err != nil {
			return fmt.Errorf("failed to create event log: %w", err)
		}
		k.EventLog = writer
		fabricOpts = append(fabricOpts, messaging.WithRecorder(writer))
	}
	k.Fabric = messaging.New(logx.NewLogger("messaging"), fabricOpts...)

	if err := k.initializeRegistry(); err != nil {
		return err
	}
	if err := k.initializeRouter(); err != nil {
		return err
	}

	orchOpts := []orchestrator.Option{orchestrator.WithRecorder(k.Recorder())}
	if k.Store != nil {
		orchOpts = append(orchOpts, orchestrator.WithAuditStore(k.Store))
	}
	orch, err := orchestrator.New(k.Config, k.Fabric, k.Registry, k.Router, orchOpts...)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	k.Orchestrator = orch

	k.Logger.Info("Kernel services initialized (router=%s storage=%t eventlog=%t metrics=%t)",
		k.Config.Router.Mode, k.Store != nil, k.EventLog != nil, k.Metrics != nil)
	return nil
}

func (k *Kernel) initializeRegistry() error {
	deps := underwriting.Deps{HighPriorityFraud: k.Config.Review.HighPriorityFraud}
	// Leave the interface nil rather than holding a typed nil *Store.
	if k.Store != nil {
		deps.Store = k.Store
	}
	if k.Config.Reports.UseLLM {
		client, err := k.clientFor(k.Config.Reports.Model)
		if err != nil {
			return fmt.Errorf("failed to create report model client: %w", err)
		}
		deps.ReportClient = client
	}

	registry, err := underwriting.NewRegistry(deps,
		tools.WithTimeout(k.Config.Orchestrator.StepTimeout.Std()),
		tools.WithLogger(logx.NewLogger("tools")),
	)
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}
	k.Registry = registry
	return nil
}

func (k *Kernel) initializeRouter() error {
	var client llm.LLMClient
	if k.Config.Router.Mode == config.RouterModeLLM {
		c, err := k.clientFor(k.Config.Router.Model)
		if err != nil {
			return fmt.Errorf("failed to create router model client: %w", err)
		}
		client = c
	}
	decider, err := router.New(k.Config, client, k.Recorder(), logx.NewLogger("router"))
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	k.Router = decider
	return nil
}

func (k *Kernel) buildClient(model string) (llm.LLMClient, error) {
	var rec llm.Recorder
	if k.Metrics != nil {
		rec = k.Metrics
	}
	return factory.New(model, factory.Options{
		Timeout:  k.Config.Router.Timeout.Std(),
		Recorder: rec,
		Breaker:  llm.NewBreaker(k.Config.Router.CircuitFailureThreshold, k.Config.Router.CircuitCooldown.Std()),
	})
}

// Start registers the orchestrator and starts message delivery.
func (k *Kernel) Start() error {
	if k.running {
		return fmt.Errorf("kernel already running")
	}
	k.Logger.Info("Starting kernel services...")

	if err := k.Orchestrator.Start(k.ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	k.running = true
	k.Logger.Info("Kernel services started successfully")
	return nil
}

// Stop drains in-flight workflows, then closes the event log and database.
func (k *Kernel) Stop() error {
	if !k.running {
		k.closeResources()
		k.cancel()
		return nil
	}
	k.Logger.Info("Stopping kernel services...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := k.Orchestrator.Stop(stopCtx); err != nil {
		k.Logger.Error("Error stopping orchestrator: %v", err)
	}
	stopCancel()
	k.cancel()

	k.closeResources()
	k.running = false
	k.Logger.Info("Kernel services stopped")
	return nil
}

func (k *Kernel) closeResources() {
	if k.EventLog != nil {
		if err := k.EventLog.Close(); err != nil {
			k.Logger.Error("Error closing event log: %v", err)
		}
		k.EventLog = nil
	}
	if k.Store != nil {
		if err := k.Store.Close(); err != nil {
			k.Logger.Error("Error closing database: %v", err)
		}
		k.Store = nil
	}
}
