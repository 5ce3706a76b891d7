package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"underwriter/pkg/application"
	"underwriter/pkg/llm"
	"underwriter/pkg/logx"
	"underwriter/pkg/tools"
	"underwriter/pkg/utils"
)

// Fallback reasons reported to the Recorder.
const (
	FallbackLLMError      = "llm_error"
	FallbackParseError    = "parse_error"
	FallbackInvalidAction = "invalid_action"
)

// ErrInvalidDecision is returned by ParseDecision for unusable model output.
var ErrInvalidDecision = errors.New("invalid routing decision")

const systemPrompt = `You are the routing component of an automated car insurance underwriting pipeline.
Select exactly one next step from the available tools, based on the application state and context.

Workflow rules:
1. Start with analyze-customer if the customer has not been analyzed.
2. Collect vehicle image analysis and document extraction before risk assessment.
3. Run risk assessment only after customer, vehicle and document data are collected.
4. Generate the report after the risk assessment is complete.
5. Store results, and flag for human review when fraud or risk is high, before finishing.
6. Use finish-processing to complete the application.

Respond with a single JSON object and nothing else:
{"action": "<tool name>", "params": {...}, "reasoning": "<why this step>"}`

// LLMRouter asks a model for the next step. Any failure falls back to the
// wrapped policy for that one decision; the model call is never retried.
type LLMRouter struct {
	client      llm.LLMClient
	fallback    DecisionSource
	counter     *utils.TokenCounter
	recorder    Recorder
	logger      *logx.Logger
	budget      int
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// LLMOption configures an LLMRouter.
type LLMOption func(*LLMRouter)

// WithPromptBudget caps the context section of the prompt, in tokens.
func WithPromptBudget(tokens int) LLMOption {
	return func(r *LLMRouter) {
		if tokens > 0 {
			r.budget = tokens
		}
	}
}

// WithCompletionLimits sets temperature and max output tokens.
func WithCompletionLimits(temperature float32, maxTokens int) LLMOption {
	return func(r *LLMRouter) {
		r.temperature = temperature
		if maxTokens > 0 {
			r.maxTokens = maxTokens
		}
	}
}

// WithCallTimeout bounds each model call.
func WithCallTimeout(d time.Duration) LLMOption {
	return func(r *LLMRouter) { r.timeout = d }
}

func WithRecorder(rec Recorder) LLMOption {
	return func(r *LLMRouter) { r.recorder = rec }
}

func WithLogger(l *logx.Logger) LLMOption {
	return func(r *LLMRouter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewLLMRouter creates an LLM-backed router over fallback.
func NewLLMRouter(client llm.LLMClient, fallback DecisionSource, opts ...LLMOption) *LLMRouter {
	r := &LLMRouter{
		client:      client,
		fallback:    fallback,
		logger:      logx.NewLogger("router"),
		budget:      6000,
		temperature: llm.TemperatureRouting,
		maxTokens:   llm.DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(r)
	}
	if counter, err := utils.NewTokenCounter(client.GetModelName()); err == nil {
		r.counter = counter
	}
	return r
}

// Decide consults the model unless the step budget is spent.
func (r *LLMRouter) Decide(ctx context.Context, state *application.State) (*Decision, error) {
	if !state.ShouldContinue() {
		return r.fallback.Decide(ctx, state)
	}

	log := r.logger.WithApplication(state.ID())

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(systemPrompt),
			llm.NewUserMessage(r.BuildPrompt(state)),
		},
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	}

	resp, err := r.client.Complete(callCtx, req)
	if err != nil {
		log.Warn("LLM routing failed, using rules: %v", err)
		return r.fallbackDecision(ctx, state, FallbackLLMError)
	}

	decision, err := ParseDecision(resp.Content)
	if err != nil {
		reason := FallbackParseError
		if errors.Is(err, tools.ErrUnknownAction) {
			reason = FallbackInvalidAction
		}
		log.Warn("Unusable LLM decision (%s), using rules: %v", reason, err)
		return r.fallbackDecision(ctx, state, reason)
	}

	decision.Source = SourceLLM
	log.Info("LLM selected %s: %s", decision.Action, decision.Reasoning)
	return decision, nil
}

func (r *LLMRouter) fallbackDecision(ctx context.Context, state *application.State, reason string) (*Decision, error) {
	if r.recorder != nil {
		r.recorder.ObserveRouterFallback(reason)
	}
	d, err := r.fallback.Decide(ctx, state)
	if err != nil {
		return nil, err
	}
	d.Source = SourceLLMFallback
	return d, nil
}

// BuildPrompt renders state summary, context and catalogue. The context
// section is truncated to the prompt budget.
func (r *LLMRouter) BuildPrompt(state *application.State) string {
	contextData := map[string]any{}
	for key, step := range map[string]string{
		"customer_data":   tools.StepAnalyzeCustomer,
		"vehicle_data":    tools.StepAnalyzeVehicle,
		"document_data":   tools.StepExtractDocuments,
		"risk_assessment": tools.StepRiskAssessment,
		"final_report":    tools.StepGenerateReport,
	} {
		data, _ := state.StepData(step)
		contextData[key] = nonNilMap(data)
	}
	seed := state.Seed()
	contextData["inputs"] = map[string]any{
		application.KeyCustomerID:   seed.CustomerID,
		application.KeyCarImageRefs: nonNilList(seed.CarImageRefs),
		application.KeyDocumentRefs: nonNilList(seed.DocumentRefs),
	}

	raw, err := json.MarshalIndent(contextData, "", "  ")
	if err != nil {
		raw = []byte("{}")
	}
	contextJSON := string(raw)
	if r.counter != nil {
		contextJSON = r.counter.TruncateToTokenLimit(contextJSON, r.budget)
	}

	var b strings.Builder
	b.WriteString("CURRENT APPLICATION STATE:\n")
	b.WriteString(state.Summarize().String())
	b.WriteString("\nCURRENT CONTEXT DATA:\n")
	b.WriteString(contextJSON)
	b.WriteString("\n\nAVAILABLE TOOLS:\n")
	b.WriteString(tools.Describe(tools.Catalogue()))
	b.WriteString("\n\nSelect the next action.")
	return b.String()
}

// ParseDecision extracts the first JSON object from text and validates its
// action against the catalogue.
func ParseDecision(text string) (*Decision, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidDecision)
	}

	var raw struct {
		Action    string          `json:"action"`
		Params    json.RawMessage `json:"params"`
		Reasoning string          `json:"reasoning"`
	}
	if err := json.NewDecoder(strings.NewReader(text[start:])).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}

	action := strings.TrimSpace(raw.Action)
	if action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrInvalidDecision)
	}
	if !tools.IsKnown(action) {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidDecision, tools.ErrUnknownAction, action)
	}

	params := map[string]any{}
	if len(raw.Params) > 0 && string(raw.Params) != "null" {
		if err := json.Unmarshal(raw.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: params must be an object: %v", ErrInvalidDecision, err)
		}
	}

	return &Decision{Action: action, Params: params, Reasoning: raw.Reasoning}, nil
}
