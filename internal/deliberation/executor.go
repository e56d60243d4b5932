package deliberation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"delphi/internal/metrics"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// Hooks are the lifecycle manager's windows into a running deliberation.
// Cancelled is consulted at every stage and turn boundary, never
// mid-statement; StepCompleted fires once per finished unit of work in
// completion order.
type Hooks interface {
	Cancelled(ctx context.Context) bool
	StepCompleted(ctx context.Context, info StepInfo)
	StepRetried(ctx context.Context, step string, attempt int, cause error)
}

// StepInfo describes one completed unit of work
type StepInfo struct {
	Stage      string
	Phase      Phase
	TurnCount  int
	UnitsDone  int
	UnitsTotal int
	Message    string
}

// MemoryStore is the read path consulted on every actor turn when the
// profile enables memory. Failures are absorbed by implementations: a
// false return means "proceed without augmentation".
type MemoryStore interface {
	Recall(ctx context.Context, market, digest string) (string, bool)
}

// ExecConfig bounds the suspension points of a run
type ExecConfig struct {
	StepTimeout time.Duration
	StepRetries int
	RetryPause  time.Duration
}

// Outcome is the result of a concluded deliberation
type Outcome struct {
	InvestmentPlan string
	Decision       string
	Confidence     float64

	// Degraded marks a synthesis that fell back to the conservative
	// default after exhausting its retry budget
	Degraded bool

	History []Entry
}

// Executor drives one pipeline run: analyst stages, the bounded
// investment debate, the bounded risk debate, and both synthesis steps.
// Execution is strictly sequential; every step feeds the accumulated
// shared context of all prior steps.
type Executor struct {
	pipeline Pipeline
	debaters map[Role]Agent
	memory   MemoryStore
	cfg      ExecConfig
	hooks    Hooks
	log      *logger.Logger
}

// NewExecutor wires an executor for one run. memory may be nil; it is
// also ignored unless the profile enables it.
func NewExecutor(pipeline Pipeline, debaters map[Role]Agent, memory MemoryStore, cfg ExecConfig, hooks Hooks) *Executor {
	if cfg.StepRetries <= 0 {
		cfg.StepRetries = 3
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 2 * time.Minute
	}

	return &Executor{
		pipeline: pipeline,
		debaters: debaters,
		memory:   memory,
		cfg:      cfg,
		hooks:    hooks,
		log:      logger.Get().With("component", "deliberation_executor"),
	}
}

// Run executes the pipeline to conclusion. It returns ErrCancelled when
// the cooperative flag was honored, or the failing step's error when the
// run cannot proceed; partial history is returned in both cases.
func (e *Executor) Run(ctx context.Context, symbol, market string) (*Outcome, error) {
	outcome := &Outcome{}
	shared := NewContext()

	unitsTotal := e.pipeline.TotalUnits()
	unitsDone := 0

	// Analyst stages
	for _, stage := range e.pipeline.Stages {
		if e.cancelled(ctx) {
			return outcome, errors.ErrCancelled
		}

		prompt := Prompt{
			Capability:    stage.Capability,
			Symbol:        symbol,
			Market:        market,
			SharedContext: shared.Render(),
		}

		report, err := e.invoke(ctx, "stage:"+stage.Capability, stage.Agent, prompt)
		if err != nil {
			return outcome, errors.Wrapf(err, "stage %s", stage.Capability)
		}

		shared.Append(stage.Capability, report)
		outcome.History = append(outcome.History, Entry{Step: "stage:" + stage.Capability, Content: report})
		metrics.DeliberationStages.WithLabelValues(stage.Capability).Inc()

		unitsDone++
		e.hooks.StepCompleted(ctx, StepInfo{
			Stage:      stage.Capability,
			Phase:      PhaseInvesting,
			UnitsDone:  unitsDone,
			UnitsTotal: unitsTotal,
			Message:    fmt.Sprintf("analyst stage %s completed", stage.Capability),
		})
	}

	profile := e.pipeline.Profile
	state := NewDebateState()

	// Investment debate: Bull and Bear alternate until the round cap
	for !state.Exhausted(profile) {
		if e.cancelled(ctx) {
			return outcome, errors.ErrCancelled
		}

		role := state.NextRole()
		content, err := e.debateTurn(ctx, role, symbol, market, shared, state, "")
		if err != nil {
			return outcome, errors.Wrapf(err, "investment debate turn %d (%s)", state.TurnCount, role)
		}

		state = state.Advance(content)
		outcome.History = append(outcome.History, Entry{Step: "debate:" + string(role), Role: role, Content: content})
		metrics.DebateTurns.WithLabelValues(string(PhaseInvesting), string(role)).Inc()

		unitsDone++
		e.hooks.StepCompleted(ctx, StepInfo{
			Stage:      "investment_debate",
			Phase:      state.Phase,
			TurnCount:  state.TurnCount,
			UnitsDone:  unitsDone,
			UnitsTotal: unitsTotal,
			Message:    fmt.Sprintf("%s statement produced", role),
		})
	}

	// Research manager resolves the investment debate
	if e.cancelled(ctx) {
		return outcome, errors.ErrCancelled
	}

	plan, degraded := e.synthesize(ctx, RoleResearchManager, Prompt{
		Role:          RoleResearchManager,
		Symbol:        symbol,
		Market:        market,
		SharedContext: shared.Render(),
		DebateHistory: state.Transcript(PhaseInvesting),
	})
	outcome.InvestmentPlan = plan
	outcome.Degraded = outcome.Degraded || degraded
	outcome.History = append(outcome.History, Entry{Step: "synthesis:research_manager", Role: RoleResearchManager, Content: plan})

	unitsDone++
	e.hooks.StepCompleted(ctx, StepInfo{
		Stage:      "research_manager",
		Phase:      state.Phase,
		TurnCount:  state.TurnCount,
		UnitsDone:  unitsDone,
		UnitsTotal: unitsTotal,
		Message:    "investment debate resolved",
	})

	state = state.Transition()

	// Risk debate: Aggressive, Conservative, Neutral cycle
	for !state.Exhausted(profile) {
		if e.cancelled(ctx) {
			return outcome, errors.ErrCancelled
		}

		role := state.NextRole()
		content, err := e.debateTurn(ctx, role, symbol, market, shared, state, plan)
		if err != nil {
			return outcome, errors.Wrapf(err, "risk debate turn %d (%s)", state.TurnCount, role)
		}

		state = state.Advance(content)
		outcome.History = append(outcome.History, Entry{Step: "debate:" + string(role), Role: role, Content: content})
		metrics.DebateTurns.WithLabelValues(string(PhaseRisk), string(role)).Inc()

		unitsDone++
		e.hooks.StepCompleted(ctx, StepInfo{
			Stage:      "risk_debate",
			Phase:      state.Phase,
			TurnCount:  state.TurnCount,
			UnitsDone:  unitsDone,
			UnitsTotal: unitsTotal,
			Message:    fmt.Sprintf("%s statement produced", role),
		})
	}

	// Risk manager produces the final decision artifact
	if e.cancelled(ctx) {
		return outcome, errors.ErrCancelled
	}

	decision, degraded := e.synthesize(ctx, RoleRiskManager, Prompt{
		Role:           RoleRiskManager,
		Symbol:         symbol,
		Market:         market,
		SharedContext:  shared.Render(),
		DebateHistory:  state.Transcript(PhaseRisk),
		InvestmentPlan: plan,
	})
	outcome.Decision = decision
	outcome.Confidence = parseConfidence(decision)
	outcome.Degraded = outcome.Degraded || degraded
	outcome.History = append(outcome.History, Entry{Step: "synthesis:risk_manager", Role: RoleRiskManager, Content: decision})

	state = state.Transition()

	unitsDone++
	e.hooks.StepCompleted(ctx, StepInfo{
		Stage:      "final_decision",
		Phase:      state.Phase,
		UnitsDone:  unitsDone,
		UnitsTotal: unitsTotal,
		Message:    "final decision produced",
	})

	return outcome, nil
}

// debateTurn produces one actor statement, consulting memory when the
// profile enables it. Memory retrieval failure is observable in logs but
// never aborts the turn.
func (e *Executor) debateTurn(ctx context.Context, role Role, symbol, market string, shared *Context, state DebateState, plan string) (string, error) {
	var past string
	if e.pipeline.Profile.MemoryEnabled && e.memory != nil {
		if recalled, ok := e.memory.Recall(ctx, market, shared.Render()); ok {
			past = recalled
		}
	}

	prompt := Prompt{
		Role:           role,
		Symbol:         symbol,
		Market:         market,
		SharedContext:  shared.Render(),
		DebateHistory:  state.Transcript(state.Phase),
		InvestmentPlan: plan,
		PastSituation:  past,
	}

	return e.invoke(ctx, "debate:"+string(role), e.debaters[role], prompt)
}

// synthesize runs a manager step. Synthesis never fails the task: if the
// agent exhausts its retry budget, a conservative hold decision is
// produced instead and the outcome is marked degraded.
func (e *Executor) synthesize(ctx context.Context, role Role, prompt Prompt) (string, bool) {
	content, err := e.invoke(ctx, "synthesis:"+string(role), e.debaters[role], prompt)
	if err != nil {
		e.log.Errorf("Synthesis %s failed, emitting fallback decision: %v", role, err)
		metrics.SynthesisFallbacks.WithLabelValues(string(role)).Inc()
		return fallbackDecision(prompt.Symbol), true
	}
	return content, false
}

// invoke runs one agent call with the per-step timeout and retry budget.
// Transient failures are retried with a fixed pause; permanent failures
// and context cancellation are returned immediately.
func (e *Executor) invoke(ctx context.Context, step string, ag Agent, prompt Prompt) (string, error) {
	if ag == nil {
		return "", errors.Wrapf(errors.ErrInternal, "no agent bound for step %s", step)
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.StepRetries; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
		out, err := ag.Invoke(stepCtx, prompt)
		cancel()

		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", errors.ErrCancelled
		}
		if errors.IsPermanent(err) {
			return "", err
		}

		lastErr = err
		e.log.Warnf("Step %s attempt %d/%d failed: %v", step, attempt, e.cfg.StepRetries, err)
		e.hooks.StepRetried(ctx, step, attempt, err)
		metrics.StepRetries.WithLabelValues(step).Inc()

		if attempt < e.cfg.StepRetries && e.cfg.RetryPause > 0 {
			select {
			case <-time.After(e.cfg.RetryPause):
			case <-ctx.Done():
				return "", errors.ErrCancelled
			}
		}
	}

	return "", errors.Wrapf(errors.ErrRetryExhausted, "step %s: %v", step, lastErr)
}

func (e *Executor) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return e.hooks.Cancelled(ctx)
}

// fallbackDecision is the documented conservative default used when a
// synthesis agent cannot be reached
func fallbackDecision(symbol string) string {
	return fmt.Sprintf(`Recommendation: HOLD

The synthesis step could not be completed, so no buy or sell action is
justified for %s. Keep the current position, watch for clearer signals,
and re-run the analysis once the reasoning service recovers.

Confidence: 30%%

Note: this is a system default produced without a completed synthesis;
combine with human judgment before acting.`, symbol)
}

var confidencePattern = regexp.MustCompile(`(?i)confidence[:\s]+([0-9]{1,3})\s*%`)

// parseConfidence extracts a "Confidence: NN%" judgment from a synthesis
// document, defaulting to 0.5 when absent.
func parseConfidence(text string) float64 {
	m := confidencePattern.FindStringSubmatch(text)
	if m == nil {
		return 0.5
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 0 || v > 100 {
		return 0.5
	}
	return float64(v) / 100.0
}
