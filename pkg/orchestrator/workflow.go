package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"underwriter/pkg/application"
	"underwriter/pkg/logx"
	"underwriter/pkg/proto"
	"underwriter/pkg/router"
	"underwriter/pkg/tools"
	"underwriter/pkg/utils"
)

// SourceOrchestrator marks decisions the orchestrator forced itself.
const SourceOrchestrator = "orchestrator"

// runWorkflow drives one application from its start envelope to a terminal
// outcome. replyTo receives status updates, review notices and the final
// result; an empty replyTo disables replies. The state is removed from the
// live map on every return path.
func (o *Orchestrator) runWorkflow(ctx context.Context, start *proto.Envelope, replyTo string) (outcome *Outcome, err error) {
	appID := start.ApplicationID
	if appID == "" {
		appID = utils.NewApplicationID()
	}
	log := o.logger.WithApplication(appID)

	state := application.New(appID, start.Payload, o.cfg.Orchestrator.MaxSteps)
	if _, loaded := o.live.LoadOrStore(appID, state); loaded {
		err := fmt.Errorf("application %s is already being processed", appID)
		o.reply(ctx, start, replyTo, proto.MsgTypeError, proto.ErrorReport{Error: err.Error(), Kind: "duplicate_application"})
		return nil, err
	}
	defer o.live.Delete(appID)

	sess := o.fabric.CreateSession(appID, state.Seed().Payload())
	o.persistSession(ctx, sess)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("workflow panicked: %v", p)
			log.Error("❌ %v", err)
			o.recorder.ObserveApplication(StatusFailed)
			o.closeSession(ctx, appID, map[string]any{proto.KeyError: err.Error()}, false)
			o.reply(ctx, start, replyTo, proto.MsgTypeError, proto.ErrorReport{Error: err.Error(), Kind: "workflow_panic"})
			outcome = nil
		}
	}()

	log.Info("📋 Processing application for customer %s (max %d steps)", state.Seed().CustomerID, state.MaxSteps())

	for state.ShouldContinue() {
		decision := o.decide(ctx, state, log)
		o.recorder.ObserveDecision(decision.Source, decision.Action)

		began := time.Now()
		result, execErr := o.registry.Execute(ctx, decision.Action, state.Context(), decision.Params)
		if execErr != nil {
			if errors.Is(execErr, tools.ErrUnknownAction) {
				log.Error("❌ Aborting: %v", execErr)
				o.recorder.ObserveApplication(StatusFailed)
				o.closeSession(ctx, appID, map[string]any{proto.KeyError: execErr.Error()}, false)
				o.reply(ctx, start, replyTo, proto.MsgTypeError, proto.ErrorReport{
					Error: execErr.Error(),
					Kind:  "unknown_action",
				})
				return nil, execErr
			}
			result = tools.Failed(execErr)
		}
		o.recorder.ObserveStep(decision.Action, result.Success, time.Since(began))

		state.ApplyStepResult(decision.Action, result)
		o.persistStep(ctx, state, decision.Action, result)

		if result.Success {
			log.Info("✅ Step %d %s (%s)", state.StepCount(), decision.Action, decision.Source)
		} else {
			log.Warn("Step %d %s failed: %s", state.StepCount(), decision.Action, result.Error)
		}

		o.reply(ctx, start, replyTo, proto.MsgTypeStatusUpdate, stepSnapshot(state, decision.Action, result.Success))

		if decision.Action == tools.StepFlagForHumanReview && result.Success {
			o.reply(ctx, start, replyTo, proto.MsgTypeHumanReviewRequired, reviewNotice(state, decision, result))
		}

		if state.Resolved() {
			break
		}
	}

	outcome = buildOutcome(state)
	if outcome.Status == StatusInProgress {
		log.Warn("Step budget of %d exhausted before completion", state.MaxSteps())
	} else {
		log.Info("🏁 Application completed in %d steps", outcome.StepCount)
	}
	o.recorder.ObserveApplication(outcome.Status)

	result := applicationResult(state, outcome)
	o.closeSession(ctx, appID, proto.MustEncodePayload(result), true)
	o.reply(ctx, start, replyTo, proto.MsgTypeApplicationResult, result)
	return outcome, nil
}

// decide asks the router for the next step. A failed or empty decision forces
// the terminal step so the application still resolves.
func (o *Orchestrator) decide(ctx context.Context, state *application.State, log *logx.Logger) *router.Decision {
	decision, err := o.router.Decide(ctx, state)
	if err != nil || decision == nil {
		log.Error("Router returned no decision: %v", err)
		return &router.Decision{
			Action:    tools.StepFinishProcessing,
			Params:    router.FinishParams(state),
			Reasoning: RouterErrorNote,
			Source:    SourceOrchestrator,
		}
	}
	if decision.Params == nil {
		decision.Params = map[string]any{}
	}
	return decision
}

// closeSession marks the fabric session completed. Successful outcomes are
// also written to the audit store; aborted ones persist nothing.
func (o *Orchestrator) closeSession(ctx context.Context, appID string, final map[string]any, persist bool) {
	sess, ok := o.fabric.CloseSession(appID, final)
	if !ok || !persist {
		return
	}
	o.persistSession(ctx, sess)
}

// reply sends a typed payload back to the requester of start.
func (o *Orchestrator) reply(ctx context.Context, start *proto.Envelope, replyTo string, msgType proto.MsgType, payload any) {
	if replyTo == "" {
		return
	}
	env := start.Reply(msgType, o.agentID)
	env.Receiver = replyTo
	encoded, err := proto.EncodePayload(payload)
	if err != nil {
		o.logger.WithApplication(start.ApplicationID).Error("Failed to encode %s payload: %v", msgType, err)
		return
	}
	env.Payload = encoded
	if err := o.fabric.Send(ctx, env); err != nil {
		o.logger.WithApplication(start.ApplicationID).Warn("Failed to send %s to %s: %v", msgType, replyTo, err)
	}
}

func buildOutcome(state *application.State) *Outcome {
	status := StatusInProgress
	if state.Resolved() {
		status = StatusCompleted
	}
	return &Outcome{
		ApplicationID:      state.ID(),
		Status:             status,
		Results:            state.Context(),
		CapabilityTagsUsed: state.CapabilityTags(),
		StepCount:          state.StepCount(),
	}
}

func applicationResult(state *application.State, outcome *Outcome) proto.ApplicationResult {
	return proto.ApplicationResult{
		ApplicationID: outcome.ApplicationID,
		Status:        outcome.Status,
		ProcessingSummary: proto.ProcessingSummary{
			TotalSteps:        outcome.StepCount,
			CapabilityTags:    outcome.CapabilityTagsUsed,
			WorkflowCompleted: state.Resolved(),
		},
		Results: outcome.Results,
	}
}

func snapshot(state *application.State) proto.StatusSnapshot {
	sum := state.Summarize()
	return proto.StatusSnapshot{
		ApplicationID:  sum.ApplicationID,
		StepCount:      sum.StepCount,
		MaxSteps:       sum.MaxSteps,
		Completed:      sum.Completed,
		Pending:        sum.Pending,
		Flags:          sum.Flags,
		CapabilityTags: sum.CapabilityTags,
		Resolved:       sum.Resolved,
	}
}

func stepSnapshot(state *application.State, step string, success bool) proto.StatusSnapshot {
	snap := snapshot(state)
	snap.Message = "step_completed"
	snap.Step = snap.StepCount
	snap.ToolName = step
	snap.Success = &success
	return snap
}

func reviewNotice(state *application.State, decision *router.Decision, result tools.Result) proto.HumanReview {
	risk, _ := state.StepData(tools.StepRiskAssessment)
	reasons := utils.StringSlice(decision.Params["reasons"])
	if len(reasons) == 0 {
		reasons = utils.StringSlice(result.Data["reasons"])
	}
	return proto.HumanReview{
		ApplicationID:    state.ID(),
		Reasons:          reasons,
		Priority:         utils.StringField(result.Data, "priority", ""),
		FraudProbability: utils.FloatField(risk, "fraud_probability", 0),
		RiskScore:        utils.FloatField(risk, "final_risk_score", 0),
	}
}
