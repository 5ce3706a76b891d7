package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"underwriter/pkg/application"
	"underwriter/pkg/config"
	"underwriter/pkg/llm"
	"underwriter/pkg/logx"
	"underwriter/pkg/messaging"
	"underwriter/pkg/persistence"
	"underwriter/pkg/proto"
	"underwriter/pkg/router"
	"underwriter/pkg/tools"
	"underwriter/pkg/underwriting"
)

const broker = "Broker"

type routerFunc func(ctx context.Context, state *application.State) (*router.Decision, error)

func (f routerFunc) Decide(ctx context.Context, state *application.State) (*router.Decision, error) {
	return f(ctx, state)
}

type fakeLLM struct {
	content string
}

func (f *fakeLLM) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{Content: f.content}, nil
}

func (f *fakeLLM) GetModelName() string { return "fake-model" }

type fakeAudit struct {
	mu       sync.Mutex
	steps    []persistence.StepRecord
	sessions map[string]persistence.SessionRecord
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{sessions: make(map[string]persistence.SessionRecord)}
}

func (f *fakeAudit) AppendStep(_ context.Context, step *persistence.StepRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, *step)
	return nil
}

func (f *fakeAudit) UpsertSession(_ context.Context, sess *persistence.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ApplicationID] = *sess
	return nil
}

func (f *fakeAudit) stepNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.steps))
	for i, s := range f.steps {
		names[i] = s.Step
	}
	return names
}

type fakeRecorder struct {
	mu           sync.Mutex
	decisions    map[string]int
	applications map[string]int
	steps        int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{decisions: map[string]int{}, applications: map[string]int{}}
}

func (r *fakeRecorder) ObserveStep(string, bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
}

func (r *fakeRecorder) ObserveDecision(source, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[source]++
}

func (r *fakeRecorder) ObserveRouterFallback(string) {}

func (r *fakeRecorder) ObserveApplication(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applications[status]++
}

func (r *fakeRecorder) ObserveLLMRequest(string, string, time.Duration) {}

func stockTools(overrides ...tools.Tool) []tools.Tool {
	list := underwriting.Tools(underwriting.Deps{HighPriorityFraud: config.DefaultHighPriorityFraud})
	for _, o := range overrides {
		for i, t := range list {
			if t.Name() == o.Name() {
				list[i] = o
			}
		}
	}
	return list
}

func riskStub(fraud, score float64) tools.Tool {
	return tools.ToolFunc{
		StepName: tools.StepRiskAssessment,
		Fn: func(context.Context, map[string]any, map[string]any) (tools.Result, error) {
			return tools.OK(map[string]any{
				"final_risk_score":  score,
				"fraud_probability": fraud,
				"premium_amount":    1200.0,
				"risk_category":     "Medium Risk",
			}, map[string][]string{tools.TagMLModels: {"risk_scoring"}}), nil
		},
	}
}

func newTestOrchestrator(t *testing.T, decider router.DecisionSource, list []tools.Tool, opts ...Option) (*Orchestrator, *messaging.Fabric) {
	t.Helper()

	fabric := messaging.New(logx.NewLogger("fabric-test"))
	registry, err := tools.NewRegistry(list, tools.WithTimeout(10*time.Second))
	require.NoError(t, err)

	o, err := New(config.Default(), fabric, registry, decider, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Stop(ctx)
	})
	return o, fabric
}

func rules() router.DecisionSource {
	return router.NewRuleRouter(router.DefaultThresholds())
}

func lowRiskCustomer() map[string]any {
	return map[string]any{
		"age":           42,
		"state":         "OH",
		"driving_years": 20,
		"credit_score":  780,
		"coverage_type": "Standard",
	}
}

// registerInbox registers a participant that collects every envelope it receives.
func registerInbox(t *testing.T, fabric *messaging.Fabric, name string) chan *proto.Envelope {
	t.Helper()
	ch := make(chan *proto.Envelope, 128)
	require.NoError(t, fabric.Register(name, messaging.HandlerFunc(func(_ context.Context, env *proto.Envelope) error {
		ch <- env
		return nil
	}), nil))
	return ch
}

// collectUntil reads envelopes until one of msgType arrives and returns everything read.
func collectUntil(t *testing.T, ch chan *proto.Envelope, msgType proto.MsgType) []*proto.Envelope {
	t.Helper()
	var got []*proto.Envelope
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env := <-ch:
			got = append(got, env)
			if env.Type == msgType {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s after %d envelopes", msgType, len(got))
			return nil
		}
	}
}

func startEnvelope(t *testing.T, o *Orchestrator, appID string, info map[string]any) *proto.Envelope {
	t.Helper()
	env := proto.NewEnvelope(proto.MsgTypeStartProcessing, broker, o.AgentID(), appID)
	payload, err := proto.EncodePayload(proto.StartProcessing{
		CustomerID:   "CUST_" + appID,
		PersonalInfo: info,
		CarImageRefs: []string{},
		DocumentRefs: []string{},
	})
	require.NoError(t, err)
	env.Payload = payload
	return env
}

func TestNewValidatesCollaborators(t *testing.T) {
	fabric := messaging.New(nil)
	registry, err := tools.NewRegistry(stockTools())
	require.NoError(t, err)

	_, err = New(nil, fabric, registry, rules())
	assert.Error(t, err)
	_, err = New(config.Default(), nil, registry, rules())
	assert.Error(t, err)
	_, err = New(config.Default(), fabric, nil, rules())
	assert.Error(t, err)
	_, err = New(config.Default(), fabric, registry, nil)
	assert.Error(t, err)
}

func TestStartIsIdempotent(t *testing.T) {
	o, fabric := newTestOrchestrator(t, rules(), stockTools())
	ctx := context.Background()

	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Start(ctx))
	assert.True(t, fabric.Has(config.DefaultAgentID))
	assert.Len(t, fabric.Participants(), 1)
}

func TestProcessApplicationWithoutReferences(t *testing.T) {
	audit := newFakeAudit()
	rec := newFakeRecorder()
	o, _ := newTestOrchestrator(t, rules(), stockTools(), WithAuditStore(audit), WithRecorder(rec))

	out, err := o.ProcessApplication(context.Background(), "CUST_001", lowRiskCustomer(), nil, nil)
	require.NoError(t, err)

	assert.Regexp(t, `^APP_[0-9A-F]{8}$`, out.ApplicationID)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.LessOrEqual(t, out.StepCount, 8)
	assert.Contains(t, out.Results, tools.StepAnalyzeVehicle)
	assert.Contains(t, out.Results, tools.StepExtractDocuments)
	assert.Contains(t, out.Results, tools.StepFinishProcessing)
	assert.Contains(t, out.CapabilityTagsUsed, "customer_profile")

	steps := audit.stepNames()
	require.Len(t, steps, out.StepCount)
	assert.Equal(t, []string{
		tools.StepAnalyzeCustomer,
		tools.StepAnalyzeVehicle,
		tools.StepExtractDocuments,
		tools.StepRiskAssessment,
	}, steps[:4])
	assert.Equal(t, tools.StepFinishProcessing, steps[len(steps)-1])

	sess, ok := audit.sessions[out.ApplicationID]
	require.True(t, ok)
	assert.Equal(t, persistence.SessionStatusCompleted, sess.Status)
	assert.NotNil(t, sess.ClosedAt)

	_, err = o.GetStatus(out.ApplicationID)
	assert.True(t, errors.Is(err, ErrApplicationNotFound))
	assert.Empty(t, o.LiveApplications())

	assert.Equal(t, out.StepCount, rec.steps)
	assert.Equal(t, out.StepCount, rec.decisions[router.SourceRules])
	assert.Equal(t, 1, rec.applications[StatusCompleted])
}

func TestActionOnlyDecisionsUseApplicationContext(t *testing.T) {
	policy := rules()
	actionOnly := routerFunc(func(ctx context.Context, state *application.State) (*router.Decision, error) {
		d, err := policy.Decide(ctx, state)
		if err != nil {
			return nil, err
		}
		return router.ParseDecision(`{"action":"` + d.Action + `"}`)
	})
	o, _ := newTestOrchestrator(t, actionOnly, stockTools(riskStub(0.1, 35)))

	out, err := o.ProcessApplication(context.Background(), "CUST_SPARSE", lowRiskCustomer(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)

	stored, ok := out.Results[tools.StepStoreResults].(map[string]any)
	require.True(t, ok, "store-results should succeed without params")
	assert.Equal(t, out.ApplicationID, stored["application_id"])

	finish, ok := out.Results[tools.StepFinishProcessing].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, out.ApplicationID, finish["application_id"])
	assert.NotEqual(t, tools.ReportFallback, finish["final_report"])
	assert.InDelta(t, 1200.0, finish["premium_amount"], 1e-9)
	assert.InDelta(t, 35.0, finish["risk_score"], 1e-9)
}

func TestHighFraudFlagsForReviewBeforeFinish(t *testing.T) {
	audit := newFakeAudit()
	o, fabric := newTestOrchestrator(t, rules(), stockTools(riskStub(0.9, 50)), WithAuditStore(audit))
	inbox := registerInbox(t, fabric, broker)
	require.NoError(t, o.Start(context.Background()))

	require.NoError(t, fabric.Send(context.Background(), startEnvelope(t, o, "APP_FRAUD001", lowRiskCustomer())))
	got := collectUntil(t, inbox, proto.MsgTypeApplicationResult)

	var review *proto.Envelope
	for _, env := range got {
		if env.Type == proto.MsgTypeHumanReviewRequired {
			review = env
		}
		assert.Equal(t, "APP_FRAUD001", env.ApplicationID)
		assert.Equal(t, o.AgentID(), env.Sender)
	}
	require.NotNil(t, review, "expected a human review notice")

	notice, err := proto.DecodePayload[proto.HumanReview](review)
	require.NoError(t, err)
	assert.Contains(t, notice.Reasons, router.ReasonHighFraud)
	assert.Equal(t, persistence.PriorityHigh, notice.Priority)
	assert.InDelta(t, 0.9, notice.FraudProbability, 1e-9)

	steps := audit.stepNames()
	require.GreaterOrEqual(t, len(steps), 2)
	assert.Equal(t, tools.StepFlagForHumanReview, steps[len(steps)-2])
	assert.Equal(t, tools.StepFinishProcessing, steps[len(steps)-1])

	result, err := proto.DecodePayload[proto.ApplicationResult](got[len(got)-1])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.True(t, result.ProcessingSummary.WorkflowCompleted)
	assert.Equal(t, len(steps), result.ProcessingSummary.TotalSteps)
}

func TestLowRiskSkipsReview(t *testing.T) {
	audit := newFakeAudit()
	o, _ := newTestOrchestrator(t, rules(), stockTools(riskStub(0.1, 20)), WithAuditStore(audit))

	out, err := o.ProcessApplication(context.Background(), "CUST_002", lowRiskCustomer(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)

	steps := audit.stepNames()
	assert.NotContains(t, steps, tools.StepFlagForHumanReview)
	require.GreaterOrEqual(t, len(steps), 2)
	assert.Equal(t, tools.StepStoreResults, steps[len(steps)-2])
	assert.Equal(t, tools.StepFinishProcessing, steps[len(steps)-1])
}

func TestFailedStepDoesNotHaltLoop(t *testing.T) {
	failing := tools.ToolFunc{
		StepName: tools.StepAnalyzeCustomer,
		Fn: func(context.Context, map[string]any, map[string]any) (tools.Result, error) {
			return tools.Result{}, errors.New("customer service unavailable")
		},
	}
	audit := newFakeAudit()
	o, _ := newTestOrchestrator(t, rules(), stockTools(failing), WithAuditStore(audit))

	out, err := o.ProcessApplication(context.Background(), "CUST_003", lowRiskCustomer(), nil, nil)
	require.NoError(t, err)

	audit.mu.Lock()
	first := audit.steps[0]
	audit.mu.Unlock()
	assert.Equal(t, tools.StepAnalyzeCustomer, first.Step)
	assert.False(t, first.Success)
	assert.Equal(t, 1, first.Seq)
	assert.Contains(t, first.Error, "customer service unavailable")

	assert.Greater(t, out.StepCount, 1)
	assert.NotContains(t, out.Results, tools.StepAnalyzeCustomer)
	assert.Equal(t, StatusCompleted, out.Status)
}

func TestInvalidLLMActionFallsBackToRules(t *testing.T) {
	rec := newFakeRecorder()
	decider := router.NewLLMRouter(&fakeLLM{content: `{"action": "delete_everything"}`}, rules())
	o, _ := newTestOrchestrator(t, decider, stockTools(), WithRecorder(rec))

	out, err := o.ProcessApplication(context.Background(), "CUST_004", lowRiskCustomer(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Zero(t, rec.decisions[router.SourceLLM])
	assert.Greater(t, rec.decisions[router.SourceLLMFallback], 0)
}

func TestStepBudgetExhaustion(t *testing.T) {
	calls := 0
	decider := routerFunc(func(_ context.Context, state *application.State) (*router.Decision, error) {
		calls++
		return &router.Decision{
			Action: tools.StepAnalyzeCustomer,
			Params: map[string]any{application.KeyCustomerID: state.Seed().CustomerID},
			Source: "stub",
		}, nil
	})
	rec := newFakeRecorder()
	o, _ := newTestOrchestrator(t, decider, stockTools(), WithRecorder(rec))

	out, err := o.ProcessApplication(context.Background(), "CUST_005", lowRiskCustomer(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, out.Status)
	assert.Equal(t, config.DefaultMaxSteps, out.StepCount)
	assert.Equal(t, config.DefaultMaxSteps, calls)
	assert.NotContains(t, out.Results, tools.StepFinishProcessing)
	assert.Equal(t, 1, rec.applications[StatusInProgress])
	assert.Empty(t, o.LiveApplications())
}

func TestRouterErrorForcesFinish(t *testing.T) {
	decider := routerFunc(func(context.Context, *application.State) (*router.Decision, error) {
		return nil, errors.New("router offline")
	})
	o, _ := newTestOrchestrator(t, decider, stockTools())

	out, err := o.ProcessApplication(context.Background(), "CUST_006", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, 1, out.StepCount)

	finish, ok := out.Results[tools.StepFinishProcessing].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, tools.ReportFallback, finish["final_report"])
	assert.Equal(t, 0.0, finish["premium_amount"])
	assert.Equal(t, 0.0, finish["risk_score"])
}

func TestUnknownActionAbortsWithoutPersisting(t *testing.T) {
	decider := routerFunc(func(context.Context, *application.State) (*router.Decision, error) {
		return &router.Decision{Action: "delete_everything", Source: "stub"}, nil
	})
	audit := newFakeAudit()
	rec := newFakeRecorder()
	o, fabric := newTestOrchestrator(t, decider, stockTools(), WithAuditStore(audit), WithRecorder(rec))
	inbox := registerInbox(t, fabric, broker)
	require.NoError(t, o.Start(context.Background()))

	out, err := o.ProcessApplication(context.Background(), "CUST_007", nil, nil, nil)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, ErrUnknownAction))
	assert.Empty(t, o.LiveApplications())
	assert.Empty(t, audit.stepNames())

	require.NoError(t, fabric.Send(context.Background(), startEnvelope(t, o, "APP_ABORT001", nil)))
	got := collectUntil(t, inbox, proto.MsgTypeError)
	report, err := proto.DecodePayload[proto.ErrorReport](got[len(got)-1])
	require.NoError(t, err)
	assert.Equal(t, "unknown_action", report.Kind)
	assert.Contains(t, report.Error, "delete_everything")

	sess, ok := fabric.Session("APP_ABORT001")
	require.True(t, ok)
	assert.Equal(t, messaging.SessionCompleted, sess.Status)

	audit.mu.Lock()
	persisted := audit.sessions["APP_ABORT001"]
	audit.mu.Unlock()
	assert.Nil(t, persisted.FinalResult)
	assert.Equal(t, 2, rec.applications[StatusFailed])
}

func TestStatusAndToolRequestsAgainstLiveApplication(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := tools.ToolFunc{
		StepName: tools.StepAnalyzeCustomer,
		Fn: func(ctx context.Context, _, _ map[string]any) (tools.Result, error) {
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return tools.OK(map[string]any{"customer_id": "CUST_LIVE"}, nil), nil
		},
	}
	o, fabric := newTestOrchestrator(t, rules(), stockTools(blocking))
	inbox := registerInbox(t, fabric, broker)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))

	require.NoError(t, fabric.Send(ctx, startEnvelope(t, o, "APP_LIVE0001", lowRiskCustomer())))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("workflow never started")
	}

	status := proto.NewEnvelope(proto.MsgTypeStatusUpdate, broker, o.AgentID(), "APP_LIVE0001")
	require.NoError(t, fabric.Send(ctx, status))
	got := collectUntil(t, inbox, proto.MsgTypeStatusUpdate)
	snap, err := proto.DecodePayload[proto.StatusSnapshot](got[len(got)-1])
	require.NoError(t, err)
	assert.Equal(t, "APP_LIVE0001", snap.ApplicationID)
	assert.Equal(t, 0, snap.StepCount)
	assert.Equal(t, config.DefaultMaxSteps, snap.MaxSteps)
	assert.False(t, snap.Resolved)

	exec := proto.NewEnvelope(proto.MsgTypeToolExecRequest, broker, o.AgentID(), "APP_LIVE0001")
	exec.Payload = proto.MustEncodePayload(proto.ToolExecutionRequest{
		ToolName:   tools.StepExtractDocuments,
		Parameters: map[string]any{application.KeyDocumentRefs: []string{"license_clean.pdf"}},
	})
	require.NoError(t, fabric.Send(ctx, exec))
	got = collectUntil(t, inbox, proto.MsgTypeToolExecResponse)
	resp, err := proto.DecodePayload[proto.ToolExecutionResponse](got[len(got)-1])
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, tools.StepExtractDocuments, resp.ToolName)
	assert.Equal(t, exec.ID, got[len(got)-1].InReplyTo)

	sum, err := o.GetStatus("APP_LIVE0001")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.StepCount)
	assert.True(t, sum.Flags[string(tools.MilestoneDocumentsProcessed)])

	close(release)
	got = collectUntil(t, inbox, proto.MsgTypeApplicationResult)
	result, err := proto.DecodePayload[proto.ApplicationResult](got[len(got)-1])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
}

func TestToolRequestRejectedOnceBudgetIsSpent(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := tools.ToolFunc{
		StepName: tools.StepAnalyzeCustomer,
		Fn: func(ctx context.Context, _, _ map[string]any) (tools.Result, error) {
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return tools.OK(map[string]any{"customer_id": "CUST_TIGHT"}, nil), nil
		},
	}
	cfg := config.Default()
	cfg.Orchestrator.MaxSteps = 1
	fabric := messaging.New(logx.NewLogger("fabric-test"))
	registry, err := tools.NewRegistry(stockTools(blocking), tools.WithTimeout(10*time.Second))
	require.NoError(t, err)
	o, err := New(cfg, fabric, registry, rules())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Stop(ctx)
	})

	inbox := registerInbox(t, fabric, broker)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	require.NoError(t, fabric.Send(ctx, startEnvelope(t, o, "APP_TIGHT001", lowRiskCustomer())))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("workflow never started")
	}

	execRequest := func() *proto.Envelope {
		env := proto.NewEnvelope(proto.MsgTypeToolExecRequest, broker, o.AgentID(), "APP_TIGHT001")
		env.Payload = proto.MustEncodePayload(proto.ToolExecutionRequest{
			ToolName:   tools.StepExtractDocuments,
			Parameters: map[string]any{application.KeyDocumentRefs: []string{"license_clean.pdf"}},
		})
		return env
	}

	require.NoError(t, fabric.Send(ctx, execRequest()))
	got := collectUntil(t, inbox, proto.MsgTypeToolExecResponse)
	resp, err := proto.DecodePayload[proto.ToolExecutionResponse](got[len(got)-1])
	require.NoError(t, err)
	assert.True(t, resp.Success)

	second := execRequest()
	require.NoError(t, fabric.Send(ctx, second))
	got = collectUntil(t, inbox, proto.MsgTypeError)
	last := got[len(got)-1]
	report, err := proto.DecodePayload[proto.ErrorReport](last)
	require.NoError(t, err)
	assert.Equal(t, "step_budget_exhausted", report.Kind)
	assert.Equal(t, second.ID, last.InReplyTo)

	sum, err := o.GetStatus("APP_TIGHT001")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.StepCount, "rejected request must not consume a step")

	close(release)
	collectUntil(t, inbox, proto.MsgTypeApplicationResult)
}

func TestMessageErrors(t *testing.T) {
	o, fabric := newTestOrchestrator(t, rules(), stockTools())
	inbox := registerInbox(t, fabric, broker)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))

	tests := []struct {
		name string
		env  *proto.Envelope
		kind string
	}{
		{"unknown application status", proto.NewEnvelope(proto.MsgTypeStatusUpdate, broker, o.AgentID(), "APP_MISSING1"), "unknown_application"},
		{"tool request for unknown application", proto.NewEnvelope(proto.MsgTypeToolExecRequest, broker, o.AgentID(), "APP_MISSING2"), "unknown_application"},
		{"unsupported type", proto.NewEnvelope(proto.MsgTypeApplicationResult, broker, o.AgentID(), "APP_MISSING3"), "unsupported_message"},
		{"start without id", proto.NewEnvelope(proto.MsgTypeStartProcessing, broker, o.AgentID(), ""), "invalid_payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, fabric.Send(ctx, tt.env))
			got := collectUntil(t, inbox, proto.MsgTypeError)
			last := got[len(got)-1]
			report, err := proto.DecodePayload[proto.ErrorReport](last)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, report.Kind)
			assert.Equal(t, tt.env.ID, last.InReplyTo)
		})
	}
}

func TestConcurrentApplicationsAreIndependent(t *testing.T) {
	o, _ := newTestOrchestrator(t, rules(), stockTools())

	const n = 8
	var wg sync.WaitGroup
	outcomes := make([]*Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = o.ProcessApplication(context.Background(), "CUST_C", lowRiskCustomer(), nil, nil)
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, StatusCompleted, outcomes[i].Status)
		assert.False(t, seen[outcomes[i].ApplicationID])
		seen[outcomes[i].ApplicationID] = true
	}
	assert.Empty(t, o.LiveApplications())
}
