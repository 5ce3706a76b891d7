package orchestrator

import (
	"context"
	"fmt"
	"time"

	"underwriter/pkg/proto"
)

// HandleMessage implements messaging.Handler. Start requests run on their own
// goroutine so independent applications progress concurrently.
func (o *Orchestrator) HandleMessage(ctx context.Context, env *proto.Envelope) error {
	switch env.Type {
	case proto.MsgTypeStartProcessing:
		return o.handleStart(env)
	case proto.MsgTypeToolExecRequest:
		return o.handleToolExecution(ctx, env)
	case proto.MsgTypeStatusUpdate:
		return o.handleStatusRequest(ctx, env)
	default:
		err := fmt.Errorf("unsupported message type %s", env.Type)
		o.replyError(ctx, env, err, "unsupported_message")
		return err
	}
}

func (o *Orchestrator) handleStart(env *proto.Envelope) error {
	if _, err := proto.DecodePayload[proto.StartProcessing](env); err != nil {
		o.replyError(o.workflowContext(), env, err, "invalid_payload")
		return err
	}
	if env.ApplicationID == "" {
		err := fmt.Errorf("start request %s has no application_id", env.ID)
		o.replyError(o.workflowContext(), env, err, "invalid_payload")
		return err
	}

	ctx := o.workflowContext()
	o.workflows.Add(1)
	go func() {
		defer o.workflows.Done()
		if _, err := o.runWorkflow(ctx, env, env.Sender); err != nil {
			o.logger.WithApplication(env.ApplicationID).Warn("Workflow ended with error: %v", err)
		}
	}()
	return nil
}

// handleToolExecution runs one named step against a live application outside
// the control loop. The step counts toward the application's step budget and
// is refused once that budget is spent or the application has resolved.
func (o *Orchestrator) handleToolExecution(ctx context.Context, env *proto.Envelope) error {
	req, err := proto.DecodePayload[proto.ToolExecutionRequest](env)
	if err != nil {
		o.replyError(ctx, env, err, "invalid_payload")
		return err
	}
	state, ok := o.lookup(env.ApplicationID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrApplicationNotFound, env.ApplicationID)
		o.replyError(ctx, env, err, "unknown_application")
		return err
	}
	if !state.ShouldContinue() {
		err := fmt.Errorf("%w: %s (resolved=%t, %d/%d steps)",
			ErrNoStepsRemaining, state.ID(), state.Resolved(), state.StepCount(), state.MaxSteps())
		o.replyError(ctx, env, err, "step_budget_exhausted")
		return err
	}

	began := time.Now()
	result, err := o.registry.Execute(ctx, req.ToolName, state.Context(), req.Parameters)
	if err != nil {
		o.replyError(ctx, env, err, "unknown_action")
		return err
	}
	o.recorder.ObserveStep(req.ToolName, result.Success, time.Since(began))
	state.ApplyStepResult(req.ToolName, result)
	o.persistStep(ctx, state, req.ToolName, result)

	return o.send(ctx, env, proto.MsgTypeToolExecResponse, proto.ToolExecutionResponse{
		ToolName:       req.ToolName,
		Success:        result.Success,
		Data:           result.Data,
		Error:          result.Error,
		CapabilityTags: result.CapabilityTags,
	})
}

func (o *Orchestrator) handleStatusRequest(ctx context.Context, env *proto.Envelope) error {
	appID := env.ApplicationID
	if appID == "" {
		appID = env.GetString(proto.KeyApplicationID)
	}
	state, ok := o.lookup(appID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrApplicationNotFound, appID)
		o.replyError(ctx, env, err, "unknown_application")
		return err
	}
	snap := snapshot(state)
	snap.Message = "in_progress"
	return o.send(ctx, env, proto.MsgTypeStatusUpdate, snap)
}

func (o *Orchestrator) send(ctx context.Context, req *proto.Envelope, msgType proto.MsgType, payload any) error {
	env := req.Reply(msgType, o.agentID)
	encoded, err := proto.EncodePayload(payload)
	if err != nil {
		return err
	}
	env.Payload = encoded
	return o.fabric.Send(ctx, env)
}

func (o *Orchestrator) replyError(ctx context.Context, req *proto.Envelope, cause error, kind string) {
	o.logger.WithApplication(req.ApplicationID).Warn("Replying with %s error to %s: %v", kind, req.Sender, cause)
	if req.Sender == "" || req.Sender == DirectClient {
		return
	}
	if err := o.send(ctx, req, proto.MsgTypeError, proto.ErrorReport{Error: cause.Error(), Kind: kind}); err != nil {
		o.logger.Warn("Failed to deliver error reply: %v", err)
	}
}

func (o *Orchestrator) workflowContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runCtx == nil {
		return context.Background()
	}
	return o.runCtx
}
