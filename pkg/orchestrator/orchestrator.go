// Package orchestrator drives insurance applications through the underwriting
// steps. It owns the live application states, asks the router for the next
// step, executes it through the tool registry and reports progress over the
// messaging fabric.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"underwriter/pkg/application"
	"underwriter/pkg/config"
	"underwriter/pkg/logx"
	"underwriter/pkg/messaging"
	"underwriter/pkg/metrics"
	"underwriter/pkg/persistence"
	"underwriter/pkg/proto"
	"underwriter/pkg/router"
	"underwriter/pkg/tools"
	"underwriter/pkg/utils"
)

// DirectClient is the sender name used for applications submitted through
// ProcessApplication. It is never registered with the fabric, so no replies
// are sent for direct submissions.
const DirectClient = "DirectClient"

// Outcome statuses.
const (
	StatusCompleted  = "COMPLETED"
	StatusInProgress = "IN_PROGRESS"
	StatusFailed     = "FAILED"
)

// RouterErrorNote is the reasoning attached to the forced finish step when the
// router produces no decision.
const RouterErrorNote = "Router error - finishing processing"

var (
	// ErrApplicationNotFound is returned for ids with no live state.
	ErrApplicationNotFound = errors.New("application not found")
	// ErrUnknownAction aborts an application whose decision names no registered step.
	ErrUnknownAction = tools.ErrUnknownAction
	// ErrNoStepsRemaining rejects a step request for a resolved or exhausted application.
	ErrNoStepsRemaining = errors.New("application accepts no further steps")
)

// Outcome is the result of one ProcessApplication call.
type Outcome struct {
	ApplicationID      string         `json:"application_id"`
	Status             string         `json:"status"`
	Results            map[string]any `json:"results"`
	CapabilityTagsUsed []string       `json:"capability_tags_used"`
	StepCount          int            `json:"step_count"`
}

// AuditStore receives the durable step and session trail. persistence.Store
// satisfies it.
type AuditStore interface {
	AppendStep(ctx context.Context, step *persistence.StepRecord) error
	UpsertSession(ctx context.Context, sess *persistence.SessionRecord) error
}

// Orchestrator runs the control loop for every application it is handed.
type Orchestrator struct {
	cfg      *config.Config
	agentID  string
	fabric   *messaging.Fabric
	registry *tools.Registry
	router   router.DecisionSource
	recorder metrics.Recorder
	audit    AuditStore
	logger   *logx.Logger

	live sync.Map // application id -> *application.State

	mu        sync.Mutex
	started   bool
	runCtx    context.Context
	cancelRun context.CancelFunc
	workflows sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if rec != nil {
			o.recorder = rec
		}
	}
}

// WithAuditStore persists step history and sessions.
func WithAuditStore(store AuditStore) Option {
	return func(o *Orchestrator) {
		o.audit = store
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *logx.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator. Call Start before sending it envelopes.
func New(cfg *config.Config, fabric *messaging.Fabric, registry *tools.Registry, decider router.DecisionSource, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if fabric == nil {
		return nil, fmt.Errorf("messaging fabric is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if decider == nil {
		return nil, fmt.Errorf("router is required")
	}

	agentID := cfg.Orchestrator.AgentID
	if agentID == "" {
		agentID = config.DefaultAgentID
	}

	o := &Orchestrator{
		cfg:      cfg,
		agentID:  agentID,
		fabric:   fabric,
		registry: registry,
		router:   decider,
		recorder: metrics.Nop{},
		logger:   logx.NewLogger("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// AgentID returns the participant name the orchestrator registers under.
func (o *Orchestrator) AgentID() string {
	return o.agentID
}

// Start registers the orchestrator with the fabric and starts delivery.
// Calling it again is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return nil
	}
	if !o.fabric.Has(o.agentID) {
		if err := o.fabric.Register(o.agentID, o, o.capabilities()); err != nil {
			return fmt.Errorf("failed to register %s: %w", o.agentID, err)
		}
	}
	if err := o.fabric.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging: %w", err)
	}

	o.runCtx, o.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	o.started = true
	o.logger.Info("🚀 Orchestrator %s started with %d tools", o.agentID, len(o.registry.Names()))
	return nil
}

// Stop waits for in-flight message-driven workflows, then stops delivery.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	cancel := o.cancelRun
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.workflows.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("Stopping with workflows still running")
	}
	cancel()

	if err := o.fabric.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop messaging: %w", err)
	}
	o.logger.Info("🛑 Orchestrator %s stopped", o.agentID)
	return nil
}

func (o *Orchestrator) capabilities() []string {
	return []string{
		string(proto.MsgTypeStartProcessing),
		string(proto.MsgTypeToolExecRequest),
		string(proto.MsgTypeStatusUpdate),
	}
}

// ProcessApplication runs one application to completion on the caller's
// goroutine. An unknown action aborts the application and returns an error
// wrapping ErrUnknownAction.
func (o *Orchestrator) ProcessApplication(ctx context.Context, customerID string, personalInfo map[string]any, imageRefs, docRefs []string) (*Outcome, error) {
	appID := utils.NewApplicationID()
	start := proto.NewEnvelope(proto.MsgTypeStartProcessing, DirectClient, o.agentID, appID)
	payload, err := proto.EncodePayload(proto.StartProcessing{
		CustomerID:   customerID,
		PersonalInfo: nonNil(personalInfo),
		CarImageRefs: nonNilRefs(imageRefs),
		DocumentRefs: nonNilRefs(docRefs),
	})
	if err != nil {
		return nil, err
	}
	start.Payload = payload

	return o.runWorkflow(ctx, start, "")
}

// GetStatus returns the summary of a live application.
func (o *Orchestrator) GetStatus(applicationID string) (application.Summary, error) {
	state, ok := o.lookup(applicationID)
	if !ok {
		return application.Summary{}, fmt.Errorf("%w: %s", ErrApplicationNotFound, applicationID)
	}
	return state.Summarize(), nil
}

// LiveApplications returns the ids currently being processed.
func (o *Orchestrator) LiveApplications() []string {
	var ids []string
	o.live.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

func (o *Orchestrator) lookup(applicationID string) (*application.State, bool) {
	v, ok := o.live.Load(applicationID)
	if !ok {
		return nil, false
	}
	return v.(*application.State), true
}

func (o *Orchestrator) persistStep(ctx context.Context, state *application.State, step string, result tools.Result) {
	if o.audit == nil {
		return
	}
	rec := &persistence.StepRecord{
		ApplicationID:  state.ID(),
		Seq:            state.StepCount(),
		Step:           step,
		Success:        result.Success,
		Error:          result.Error,
		CapabilityTags: state.CapabilityTags(),
		ExecutedAt:     time.Now().UTC(),
	}
	if err := o.audit.AppendStep(ctx, rec); err != nil {
		o.logger.WithApplication(state.ID()).Warn("Failed to persist step %s: %v", step, err)
	}
}

func (o *Orchestrator) persistSession(ctx context.Context, sess *messaging.Session) {
	if o.audit == nil || sess == nil {
		return
	}
	rec := &persistence.SessionRecord{
		ApplicationID: sess.ApplicationID,
		Status:        sess.Status,
		InitialData:   sess.InitialData,
		FinalResult:   sess.FinalResult,
		MessageCount:  sess.MessageCount,
		CreatedAt:     sess.CreatedAt,
	}
	if !sess.ClosedAt.IsZero() {
		closed := sess.ClosedAt
		rec.ClosedAt = &closed
	}
	if err := o.audit.UpsertSession(ctx, rec); err != nil {
		o.logger.WithApplication(sess.ApplicationID).Warn("Failed to persist session: %v", err)
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilRefs(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}
