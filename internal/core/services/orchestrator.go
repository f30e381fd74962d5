package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/manthysbr/agentcore/internal/canonical"
	"github.com/manthysbr/agentcore/internal/core/domain"
	"github.com/manthysbr/agentcore/internal/core/ports"
	"github.com/manthysbr/agentcore/internal/jsonrepair"
)

// ReasoningMeta keys written after each reasoning pass.
const (
	metaEngine     = "engine"
	metaConclusion = "conclusion"
	metaConfidence = "confidence"
	metaSuccess    = "success"
	metaTurn       = "turn"
)

// historyForReasoning is how many recent turns engines see as context.
const historyForReasoning = 8

// RunRequest starts or resumes an agent.
type RunRequest struct {
	AgentID domain.AgentID
	// Goal replaces the stored goal when set; required for new agents.
	Goal  string
	Tools *domain.ToolRegistry
	// MaxTurns overrides the configured model-turn budget when > 0.
	MaxTurns int
}

// RunResult is the outcome of a run. Error is set whenever Success is false.
type RunResult struct {
	Success   bool               `json:"success"`
	FinalText string             `json:"final_text,omitempty"`
	State     *domain.AgentState `json:"state"`
	Error     string             `json:"error,omitempty"`
	Turns     int                `json:"turns"` // model turns used by this run
}

// StepOutcome describes one model turn and what followed it.
type StepOutcome struct {
	Turn       domain.Turn             `json:"turn"`
	Controller *domain.Turn            `json:"controller,omitempty"`
	Reasoning  *domain.ReasoningResult `json:"reasoning,omitempty"`
	Finished   bool                    `json:"finished"`
	Answer     string                  `json:"answer,omitempty"`
	// Failure is the first tool failure of the turn, if any.
	Failure string `json:"failure,omitempty"`
}

// ThoughtsHandler receives the model's thoughts text as it streams.
type ThoughtsHandler func(agentID domain.AgentID, delta string)

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*Orchestrator)

// WithThoughtsHandler streams extracted thoughts to fn.
func WithThoughtsHandler(fn ThoughtsHandler) OrchestratorOption {
	return func(o *Orchestrator) { o.onThoughts = fn }
}

// WithReasoning enables a reasoning engine. A nil engine disables reasoning.
func WithReasoning(engine ports.ReasoningEngine) OrchestratorOption {
	return func(o *Orchestrator) { o.engine = engine }
}

// WithMessageBuilder replaces the default PromptBuilder.
func WithMessageBuilder(b ports.MessageBuilder) OrchestratorOption {
	return func(o *Orchestrator) { o.builder = b }
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink ports.MetricsSink) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = safeMetrics{logger: o.logger, sink: sink} }
}

// WithTracer records run, model and tool spans.
func WithTracer(tc *TraceCollector) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = tc }
}

// WithEventBus publishes a status event for every appended turn.
func WithEventBus(bus *EventBus) OrchestratorOption {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithClock replaces the time source used for tool result timestamps and
// dedup freshness.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.dedup.WithClock(now) }
}

// Orchestrator drives an agent turn by turn: optional reasoning, prompt,
// model call, action dispatch, turn append.
type Orchestrator struct {
	logger     *slog.Logger
	model      ports.ModelClient
	store      ports.StateStore
	builder    ports.MessageBuilder
	engine     ports.ReasoningEngine
	metrics    safeMetrics
	tracer     *TraceCollector
	bus        *EventBus
	dedup      *DedupIndex
	loops      *LoopDetector
	onThoughts ThoughtsHandler

	cfg            domain.OrchestratorConfig
	modelCfg       domain.ModelConfig
	reasoningEvery int
}

// NewOrchestrator creates an orchestrator from the application config.
func NewOrchestrator(logger *slog.Logger, model ports.ModelClient, store ports.StateStore, cfg *domain.AppConfig, opts ...OrchestratorOption) *Orchestrator {
	every := cfg.Reasoning.Every
	if every <= 0 {
		every = 3
	}
	o := &Orchestrator{
		logger:         logger,
		model:          model,
		store:          store,
		builder:        NewPromptBuilder(""),
		metrics:        safeMetrics{logger: logger},
		dedup:          NewDedupIndex(cfg.Dedup),
		loops:          NewLoopDetector(cfg.Loop),
		cfg:            cfg.Orchestrator,
		modelCfg:       cfg.Model,
		reasoningEvery: every,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run loads (or creates) the agent and steps it until it finishes, a turn
// budget runs out or ctx is cancelled. Only cancellation and store failures
// are returned as errors; every other failure is reported in RunResult.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	state, err := o.store.Load(ctx, req.AgentID)
	switch {
	case errors.Is(err, domain.ErrAgentNotFound):
		state = domain.NewAgentState(req.AgentID, req.Goal)
	case err != nil:
		return nil, fmt.Errorf("load agent state: %w", err)
	}
	if req.Goal != "" {
		state.Goal = req.Goal
	}
	if strings.TrimSpace(state.Goal) == "" {
		return nil, domain.ErrEmptyGoal
	}
	tools := req.Tools
	if tools == nil {
		tools = domain.NewToolRegistry()
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = o.cfg.MaxTurns
	}
	if maxTurns <= 0 {
		maxTurns = 1
	}

	ctx = ContextWithAgent(ctx, state.ID)
	var traceID domain.TraceID
	if o.tracer != nil {
		ctx, traceID, _ = o.tracer.StartTrace(ctx, "run: "+truncate(state.Goal, 80), map[string]string{"agent_id": string(state.ID)})
		o.tracer.SetTraceAgent(traceID, state.ID)
	}
	endTrace := func(status domain.SpanStatus, msg string) {
		if o.tracer != nil {
			o.tracer.EndTrace(traceID, status, msg)
		}
	}

	o.logger.Info("starting run", "agent_id", string(state.ID), "max_turns", maxTurns, "history", len(state.Turns))

	result := &RunResult{State: state}
	for result.Turns < maxTurns {
		out, err := o.Step(ctx, state, tools)
		if err != nil {
			if ctx.Err() != nil {
				endTrace(domain.SpanStatusCancelled, err.Error())
			} else {
				endTrace(domain.SpanStatusError, err.Error())
			}
			return nil, err
		}
		result.Turns++

		if err := o.store.Save(ctx, state); err != nil {
			endTrace(domain.SpanStatusError, err.Error())
			return nil, fmt.Errorf("save agent state: %w", err)
		}

		if out.Finished {
			result.Success = true
			result.FinalText = out.Answer
			o.logger.Info("run finished", "agent_id", string(state.ID), "turns", result.Turns)
			endTrace(domain.SpanStatusOK, "")
			return result, nil
		}
		if maxTurns == 1 && out.Failure != "" {
			result.Error = out.Failure
			endTrace(domain.SpanStatusError, result.Error)
			return result, nil
		}
	}

	result.Error = fmt.Sprintf("%s after %d turns", domain.ErrTurnBudgetExhausted, result.Turns)
	o.logger.Warn("run stopped", "agent_id", string(state.ID), "error", result.Error)
	endTrace(domain.SpanStatusError, result.Error)
	return result, nil
}

// StepAgent loads the agent, runs one Step and saves the result.
func (o *Orchestrator) StepAgent(ctx context.Context, id domain.AgentID, goal string, tools *domain.ToolRegistry) (*StepOutcome, error) {
	state, err := o.store.Load(ctx, id)
	switch {
	case errors.Is(err, domain.ErrAgentNotFound):
		state = domain.NewAgentState(id, goal)
	case err != nil:
		return nil, fmt.Errorf("load agent state: %w", err)
	}
	if goal != "" {
		state.Goal = goal
	}
	if strings.TrimSpace(state.Goal) == "" {
		return nil, domain.ErrEmptyGoal
	}

	out, err := o.Step(ctx, state, tools)
	if err != nil {
		return nil, err
	}
	if err := o.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save agent state: %w", err)
	}
	return out, nil
}

// Step runs one model turn against state, appending the model turn and,
// after a tool failure, a controller turn. Nothing is appended when ctx is
// cancelled. The caller owns persistence.
func (o *Orchestrator) Step(ctx context.Context, state *domain.AgentState, tools *domain.ToolRegistry) (*StepOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tools == nil {
		tools = domain.NewToolRegistry()
	}
	turnIndex := state.NextIndex()
	ctx = ContextWithTurn(ContextWithAgent(ctx, state.ID), turnIndex)
	ctx, span := o.startSpan(ctx, fmt.Sprintf("turn %d", turnIndex), domain.SpanKindTurn, nil)

	out, err := o.step(ctx, state, tools)
	if err != nil {
		o.endSpan(span, domain.SpanStatusError, "", err.Error())
		return nil, err
	}
	o.endSpan(span, domain.SpanStatusOK, string(out.Turn.Decision.ActionType()), out.Failure)
	return out, nil
}

func (o *Orchestrator) step(ctx context.Context, state *domain.AgentState, tools *domain.ToolRegistry) (*StepOutcome, error) {
	specs := tools.Specs()
	out := &StepOutcome{}

	view := state
	if o.shouldReason(state) {
		res, err := o.reason(ctx, state, specs)
		if err != nil {
			return nil, err
		}
		out.Reasoning = res
		// the prompt sees the result now, state only once the turn lands
		cp := *state
		cp.ReasoningMeta = maps.Clone(state.ReasoningMeta)
		applyReasoning(&cp, res)
		view = &cp
	}

	msgs := o.builder.Build(view, specs)
	decision, argErrs, err := o.decide(ctx, state.ID, msgs, specs)
	if err != nil {
		return nil, err
	}

	turn := domain.Turn{Source: domain.TurnSourceModel, Decision: decision}
	var (
		failed  []domain.ToolResult
		breaker *loopHit
		streak  int
	)
	record := func(res domain.ToolResult) {
		sig := o.loops.Record(state.ID, res.Tool, canonical.Shape(res.Params), res.Success)
		if res.Success {
			return
		}
		failed = append(failed, res)
		if sig.Escalate && sig.SameToolFailures > streak {
			streak = sig.SameToolFailures
		}
		if sig.LoopBreaker && breaker == nil {
			breaker = &loopHit{tool: res.Tool, shape: canonical.Shape(res.Params), count: sig.ShapeFailures}
		}
	}

	switch a := decision.Action.(type) {
	case domain.PlanAction, domain.RetryAction:
	case domain.FinishAction:
		out.Finished = true
		out.Answer = a.Answer
	case domain.ToolCallAction:
		call := a.Call
		res, err := o.execute(ctx, state, tools, call, argErrs[0], nil)
		if err != nil {
			return nil, err
		}
		turn.ToolCall = &call
		turn.Result = &res
		record(res)
	case domain.MultiToolCallAction:
		results := make([]domain.ToolResult, 0, len(a.Calls))
		for i, call := range a.Calls {
			res, err := o.execute(ctx, state, tools, call, argErrs[i], results)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
			record(res)
		}
		turn.ToolCalls = append([]domain.ToolCall(nil), a.Calls...)
		turn.Results = results
	default:
		turn.Decision = domain.Decision{Action: domain.RetryAction{Reason: fmt.Sprintf("unsupported action %T", a)}}
	}

	// the last chance to abandon the turn without a trace in state
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if out.Reasoning != nil {
		applyReasoning(state, out.Reasoning)
	}
	out.Turn = state.Append(turn)
	o.publishStatus(state.ID, out.Turn)

	if len(failed) == 0 {
		return out, nil
	}
	out.Failure = fmt.Sprintf("%s: %s", failed[0].Tool, failed[0].Error)

	ctrl := domain.Turn{Source: domain.TurnSourceController}
	var hint string
	if breaker != nil {
		o.metrics.RecordLoopDetected(state.ID, breaker.tool, breaker.shape)
		hint = loopBreakerHint(breaker, failed[len(failed)-1])
		ctrl.LoopBreaker = true
	} else {
		hint = retryHint(failed, streak)
	}
	ctrl.Decision = domain.Decision{
		Action: domain.RetryAction{Reason: hint},
		Status: domain.Status{Title: "Correcting course", Details: hint},
	}
	appended := state.Append(ctrl)
	out.Controller = &appended
	o.publishStatus(state.ID, appended)
	return out, nil
}

// shouldReason: always before the first turn, then on every Every-th turn
// while the latest tool result is a failure.
func (o *Orchestrator) shouldReason(state *domain.AgentState) bool {
	if o.engine == nil {
		return false
	}
	if len(state.Turns) == 0 {
		return true
	}
	last, ok := state.LastResult()
	return ok && !last.Success && state.NextIndex()%o.reasoningEvery == 0
}

func (o *Orchestrator) reason(ctx context.Context, state *domain.AgentState, specs []domain.ToolSpec) (*domain.ReasoningResult, error) {
	spanCtx, span := o.startSpan(ctx, "reasoning."+o.engine.Name(), domain.SpanKindReasoning, nil)
	o.setSpanInput(span, state.Goal)

	start := time.Now()
	res, err := o.engine.Reason(spanCtx, domain.ReasoningRequest{
		Goal:    state.Goal,
		Context: RenderHistory(state.Turns, historyForReasoning),
		Tools:   append([]domain.ToolSpec(nil), specs...),
	})
	if err != nil {
		o.endSpan(span, domain.SpanStatusCancelled, "", err.Error())
		return nil, err
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	o.metrics.RecordReasoning(res.Engine, res.Duration, res.Confidence, res.Success)

	if res.Success {
		o.endSpan(span, domain.SpanStatusOK, res.Conclusion, "")
	} else {
		o.endSpan(span, domain.SpanStatusError, res.Conclusion, res.Error)
	}
	o.logger.Info("reasoning complete", "agent_id", string(state.ID), "engine", res.Engine,
		"success", res.Success, "confidence", res.Confidence, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// applyReasoning stores a reasoning result on state next to the turn it
// informed.
func applyReasoning(state *domain.AgentState, res *domain.ReasoningResult) {
	state.ActiveChain = res.Chain
	state.ActiveTree = res.Tree
	if state.ReasoningMeta == nil {
		state.ReasoningMeta = map[string]string{}
	}
	state.ReasoningMeta[metaEngine] = res.Engine
	state.ReasoningMeta[metaConfidence] = strconv.FormatFloat(res.Confidence, 'f', 2, 64)
	state.ReasoningMeta[metaSuccess] = strconv.FormatBool(res.Success)
	state.ReasoningMeta[metaTurn] = strconv.Itoa(state.NextIndex())
	if res.Success {
		state.ReasoningMeta[metaConclusion] = res.Conclusion
	} else {
		delete(state.ReasoningMeta, metaConclusion)
	}
}

// decide obtains a decision from the model. Function calling is tried first
// when enabled; one free-form request follows when it fails or yields no
// usable answer. Model failures become retry decisions. argErrs maps call
// positions to argument decoding failures.
func (o *Orchestrator) decide(ctx context.Context, agentID domain.AgentID, msgs []domain.ChatMessage, specs []domain.ToolSpec) (domain.Decision, map[int]error, error) {
	if o.cfg.UseFunctionCalling && len(specs) > 0 {
		resp, err := o.callModel(ctx, agentID, o.request(msgs, specs, false))
		switch {
		case err != nil && ctx.Err() != nil:
			return domain.Decision{}, nil, ctx.Err()
		case err != nil:
			o.logger.Warn("function calling request failed, falling back to free-form", "agent_id", string(agentID), "error", err)
		case len(resp.FunctionCalls) > 0:
			d, argErrs := decisionFromCalls(resp)
			return d, argErrs, nil
		default:
			if d, perr := parseDecision(resp.Content); perr == nil {
				return d, nil, nil
			}
			o.logger.Info("function calling produced no call, falling back to free-form", "agent_id", string(agentID))
		}
	}

	resp, err := o.callModel(ctx, agentID, o.request(msgs, nil, true))
	if err != nil {
		if ctx.Err() != nil {
			return domain.Decision{}, nil, ctx.Err()
		}
		o.logger.Warn("model call failed", "agent_id", string(agentID), "error", err)
		return retryDecision("model call failed: " + err.Error()), nil, nil
	}
	d, err := parseDecision(resp.Content)
	if err != nil {
		o.logger.Warn("unusable model reply", "agent_id", string(agentID), "error", err)
		return retryDecision(err.Error()), nil, nil
	}
	return d, nil, nil
}

func (o *Orchestrator) request(msgs []domain.ChatMessage, specs []domain.ToolSpec, jsonMode bool) domain.ModelRequest {
	temp := o.modelCfg.Temperature
	return domain.ModelRequest{
		Messages:    msgs,
		Tools:       specs,
		Temperature: &temp,
		MaxTokens:   o.modelCfg.MaxTokens,
		Stream:      true,
		JSONMode:    jsonMode,
	}
}

func (o *Orchestrator) callModel(ctx context.Context, agentID domain.AgentID, req domain.ModelRequest) (*domain.ModelResponse, error) {
	if o.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ModelTimeout)
		defer cancel()
	}
	ctx, span := o.startSpan(ctx, "llm.stream", domain.SpanKindLLM, map[string]string{
		"functions": strconv.Itoa(len(req.Tools)),
	})
	o.setSpanModel(span, o.modelCfg.Model)
	if n := len(req.Messages); n > 0 {
		o.setSpanInput(span, req.Messages[n-1].Content)
	}

	ch, err := o.model.Stream(ctx, req)
	if err != nil {
		o.endSpan(span, domain.SpanStatusError, "", err.Error())
		return nil, fmt.Errorf("open model stream: %w", err)
	}

	var onDelta func(string)
	if o.onThoughts != nil {
		ex := jsonrepair.NewFieldExtractor()
		onDelta = func(delta string) {
			if text := ex.Write(delta); text != "" {
				o.onThoughts(agentID, text)
			}
		}
	}
	resp, err := Aggregate(ctx, ch, onDelta)
	if err != nil {
		o.endSpan(span, domain.SpanStatusError, "", err.Error())
		return nil, fmt.Errorf("read model stream: %w", err)
	}
	o.endSpan(span, domain.SpanStatusOK, resp.Content, "")
	return resp, nil
}

// execute runs one call through validation, dedup and the tool itself.
// Only cancellation is returned as an error.
func (o *Orchestrator) execute(ctx context.Context, state *domain.AgentState, tools *domain.ToolRegistry, call domain.ToolCall, argErr error, pending []domain.ToolResult) (domain.ToolResult, error) {
	res := domain.ToolResult{
		ID:        canonical.Hash(call.Tool, call.Params),
		Tool:      call.Tool,
		Params:    call.Params,
		CreatedAt: o.dedup.Now(),
	}
	fail := func(err error) (domain.ToolResult, error) {
		res.Success = false
		res.Error = err.Error()
		o.logger.Warn("tool call failed", "agent_id", string(state.ID), "tool", call.Tool, "error", err)
		return res, nil
	}

	if argErr != nil {
		o.metrics.RecordValidation(call.Tool, false)
		return fail(argErr)
	}
	tool, ok := tools.GetTool(call.Tool)
	if !ok {
		return fail(&domain.UnknownToolError{Name: call.Tool, Suggestion: tools.Suggest(call.Tool)})
	}

	if o.dedup.Applies(tool) {
		if prior, hit := o.dedup.Lookup(state.Turns, pending, tool, res.ID); hit {
			o.metrics.RecordDedup(call.Tool, true)
			o.logger.Info("reusing earlier tool result", "agent_id", string(state.ID), "tool", call.Tool, "result_id", prior.ID)
			return prior, nil
		}
		o.metrics.RecordDedup(call.Tool, false)
	}

	if err := tools.Validate(call.Tool, call.Params); err != nil {
		o.metrics.RecordValidation(call.Tool, false)
		return fail(err)
	}
	o.metrics.RecordValidation(call.Tool, true)

	toolCtx := ctx
	if o.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, o.cfg.ToolTimeout)
		defer cancel()
	}
	toolCtx, span := o.startSpan(toolCtx, "tool."+call.Tool, domain.SpanKindTool, map[string]string{"tool": call.Tool})
	if input, err := json.Marshal(call.Params); err == nil {
		o.setSpanInput(span, string(input))
	}

	start := time.Now()
	output, err := runTool(toolCtx, tool, call.Params)
	res.Duration = time.Since(start)
	res.CreatedAt = o.dedup.Now()
	if ctx.Err() != nil {
		o.endSpan(span, domain.SpanStatusCancelled, "", ctx.Err().Error())
		return domain.ToolResult{}, ctx.Err()
	}
	if err != nil {
		o.endSpan(span, domain.SpanStatusError, "", err.Error())
		return fail(err)
	}
	res.Success = true
	res.Output = output
	o.endSpan(span, domain.SpanStatusOK, Observation(res), "")
	o.logger.Info("tool executed", "agent_id", string(state.ID), "tool", call.Tool, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func runTool(ctx context.Context, tool *domain.Tool, params map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, r)
		}
	}()
	return tool.Execute(ctx, params)
}

func (o *Orchestrator) publishStatus(agentID domain.AgentID, t domain.Turn) {
	if o.bus == nil {
		return
	}
	o.bus.PublishStatus(StatusEvent{
		AgentID:  agentID,
		Turn:     t.Index,
		Source:   t.Source,
		Action:   t.Decision.ActionType(),
		Title:    t.Decision.Status.Title,
		Details:  t.Decision.Status.Details,
		NextHint: t.Decision.Status.NextHint,
		Progress: t.Decision.Status.Progress,
	})
}

// --- decisions ---

func parseDecision(content string) (domain.Decision, error) {
	raw, err := jsonrepair.Extract(content)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("parse decision: %w", err)
	}
	return domain.ParseDecision([]byte(raw))
}

func retryDecision(reason string) domain.Decision {
	return domain.Decision{
		Action: domain.RetryAction{Reason: reason},
		Status: domain.Status{Title: "Retrying", Details: "The last reply could not be used."},
	}
}

// decisionFromCalls maps structured function calls onto the same decision
// shape the free-form path produces.
func decisionFromCalls(resp *domain.ModelResponse) (domain.Decision, map[int]error) {
	argErrs := map[int]error{}
	calls := make([]domain.ToolCall, 0, len(resp.FunctionCalls))
	for i, fc := range resp.FunctionCalls {
		params, err := domain.NormalizeArguments(json.RawMessage(fc.ArgsJSON))
		if err != nil {
			argErrs[i] = fmt.Errorf("could not parse arguments for %s: %w", fc.Name, err)
			params = map[string]any{}
		}
		calls = append(calls, domain.ToolCall{Tool: fc.Name, Params: params, CallID: fc.ID})
	}

	d := domain.Decision{Thoughts: strings.TrimSpace(resp.Content)}
	if len(calls) == 1 {
		d.Action = domain.ToolCallAction{Call: calls[0]}
		d.Status = domain.Status{Title: "Calling " + calls[0].Tool}
	} else {
		d.Action = domain.MultiToolCallAction{Calls: calls}
		d.Status = domain.Status{Title: fmt.Sprintf("Calling %d tools", len(calls))}
	}
	return d, argErrs
}

// --- controller hints ---

type loopHit struct {
	tool  string
	shape string
	count int
}

func retryHint(failed []domain.ToolResult, streak int) string {
	var b strings.Builder
	for _, r := range failed {
		fmt.Fprintf(&b, "The call to %s failed: %s\n", r.Tool, r.Error)
	}
	if streak > 0 {
		fmt.Fprintf(&b, "%s has now failed %d times in a row. Re-read its parameter list before calling it again, or use a different tool.", failed[len(failed)-1].Tool, streak)
	} else {
		b.WriteString("Fix the arguments and try again, or choose a different tool.")
	}
	return b.String()
}

func loopBreakerHint(hit *loopHit, last domain.ToolResult) string {
	return fmt.Sprintf("LOOP DETECTED: %s failed %d times with the same kind of arguments (%s). Last error: %s\n"+
		"Do not call %s this way again. Change the approach, use another tool, or finish with what you know.",
		hit.tool, hit.count, hit.shape, last.Error, hit.tool)
}

// --- tracing helpers; all no-ops without a tracer ---

func (o *Orchestrator) startSpan(ctx context.Context, name string, kind domain.SpanKind, attrs map[string]string) (context.Context, domain.SpanID) {
	if o.tracer == nil {
		return ctx, ""
	}
	return o.tracer.StartSpan(ctx, name, kind, attrs)
}

func (o *Orchestrator) endSpan(span domain.SpanID, status domain.SpanStatus, output, errMsg string) {
	if o.tracer != nil {
		o.tracer.EndSpan(span, status, output, errMsg)
	}
}

func (o *Orchestrator) setSpanInput(span domain.SpanID, input string) {
	if o.tracer != nil {
		o.tracer.SetSpanInput(span, input)
	}
}

func (o *Orchestrator) setSpanModel(span domain.SpanID, model string) {
	if o.tracer != nil {
		o.tracer.SetSpanModel(span, model)
	}
}

// safeMetrics forwards to a MetricsSink. Errors and panics are logged and
// swallowed.
type safeMetrics struct {
	logger *slog.Logger
	sink   ports.MetricsSink
}

func (m safeMetrics) do(name string, fn func() error) {
	if m.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("metrics sink panicked", "metric", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		m.logger.Warn("metrics sink failed", "metric", name, "error", err)
	}
}

func (m safeMetrics) RecordReasoning(engine string, d time.Duration, confidence float64, success bool) {
	m.do("reasoning", func() error { return m.sink.RecordReasoning(engine, d, confidence, success) })
}

func (m safeMetrics) RecordDedup(tool string, hit bool) {
	m.do("dedup", func() error { return m.sink.RecordDedup(tool, hit) })
}

func (m safeMetrics) RecordLoopDetected(agentID domain.AgentID, tool, shape string) {
	m.do("loop_detected", func() error { return m.sink.RecordLoopDetected(agentID, tool, shape) })
}

func (m safeMetrics) RecordValidation(tool string, ok bool) {
	m.do("validation", func() error { return m.sink.RecordValidation(tool, ok) })
}
