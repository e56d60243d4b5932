package deliberation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delphi/pkg/errors"
)

// recordingHooks collects the executor's lifecycle callbacks
type recordingHooks struct {
	mu          sync.Mutex
	completed   []StepInfo
	retried     []string
	cancelAfter int // cancel once this many steps completed; 0 = never
}

func (h *recordingHooks) Cancelled(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelAfter > 0 && len(h.completed) >= h.cancelAfter
}

func (h *recordingHooks) StepCompleted(ctx context.Context, info StepInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed = append(h.completed, info)
}

func (h *recordingHooks) StepRetried(ctx context.Context, step string, attempt int, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retried = append(h.retried, fmt.Sprintf("%s#%d", step, attempt))
}

// scriptedMemory is a MemoryStore fake counting recalls
type scriptedMemory struct {
	mu      sync.Mutex
	recalls int
	answer  string
}

func (m *scriptedMemory) Recall(ctx context.Context, market, digest string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recalls++
	if m.answer == "" {
		return "", false
	}
	return m.answer, true
}

func (m *scriptedMemory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recalls
}

func roleAgent(role Role) Agent {
	return AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
		return fmt.Sprintf("%s says: considered", role), nil
	})
}

func testDebaters() map[Role]Agent {
	debaters := make(map[Role]Agent)
	for _, r := range []Role{RoleBull, RoleBear, RoleAggressive, RoleConservative, RoleNeutral} {
		debaters[r] = roleAgent(r)
	}
	debaters[RoleResearchManager] = AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
		return "Plan: accumulate. Confidence: 70%", nil
	})
	debaters[RoleRiskManager] = AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
		return "Recommendation: BUY. Confidence: 65%", nil
	})
	return debaters
}

func testStages(caps ...string) []StageHandle {
	stages := make([]StageHandle, len(caps))
	for i, c := range caps {
		c := c
		stages[i] = StageHandle{Capability: c, Agent: AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
			return c + " report", nil
		})}
	}
	return stages
}

func TestExecutor_QuickRun(t *testing.T) {
	// Depth 1: 1 debate round, 1 risk round, memory off
	pipeline := Build(ResolveDepth(1), testStages(CapabilityMarket, CapabilityFundamentals))
	hooks := &recordingHooks{}
	mem := &scriptedMemory{answer: "should not be consulted"}

	exec := NewExecutor(pipeline, testDebaters(), mem, ExecConfig{StepRetries: 1}, hooks)
	outcome, err := exec.Run(context.Background(), "ACME", "us")
	require.NoError(t, err)

	// 2 stages + 2 investment turns + research synthesis +
	// 3 risk turns + risk synthesis
	require.Len(t, outcome.History, 9)
	assert.Equal(t, "stage:market", outcome.History[0].Step)
	assert.Equal(t, "stage:fundamentals", outcome.History[1].Step)
	assert.Equal(t, "debate:bull", outcome.History[2].Step)
	assert.Equal(t, "debate:bear", outcome.History[3].Step)
	assert.Equal(t, "synthesis:research_manager", outcome.History[4].Step)
	assert.Equal(t, "debate:aggressive", outcome.History[5].Step)
	assert.Equal(t, "debate:conservative", outcome.History[6].Step)
	assert.Equal(t, "debate:neutral", outcome.History[7].Step)
	assert.Equal(t, "synthesis:risk_manager", outcome.History[8].Step)

	assert.Equal(t, "Recommendation: BUY. Confidence: 65%", outcome.Decision)
	assert.InDelta(t, 0.65, outcome.Confidence, 0.001)
	assert.False(t, outcome.Degraded)

	// One progress checkpoint per unit, monotone and complete
	require.Len(t, hooks.completed, pipeline.TotalUnits())
	for i, info := range hooks.completed {
		assert.Equal(t, i+1, info.UnitsDone)
		assert.Equal(t, pipeline.TotalUnits(), info.UnitsTotal)
	}

	// Level 1 disables memory
	assert.Zero(t, mem.count())
}

func TestExecutor_DeepRunConsultsMemoryEveryTurn(t *testing.T) {
	// Depth 5: 3 debate rounds (6 turns), 3 risk rounds (9 turns)
	pipeline := Build(ResolveDepth(5), testStages(CapabilityMarket, CapabilityFundamentals, CapabilityNews, CapabilitySocial))
	hooks := &recordingHooks{}
	mem := &scriptedMemory{answer: "last time this setup reversed hard"}

	exec := NewExecutor(pipeline, testDebaters(), mem, ExecConfig{StepRetries: 1}, hooks)
	outcome, err := exec.Run(context.Background(), "ACME", "us")
	require.NoError(t, err)

	// 4 stages + 6 + 1 + 9 + 1
	assert.Len(t, outcome.History, 21)
	assert.Equal(t, 15, mem.count(), "every debate turn consults memory")
}

func TestExecutor_SharedContextAccumulates(t *testing.T) {
	var secondStagePrompt Prompt
	stages := []StageHandle{
		{Capability: CapabilityMarket, Agent: AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
			return "trend is up", nil
		})},
		{Capability: CapabilityNews, Agent: AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
			secondStagePrompt = p
			return "no news", nil
		})},
	}

	exec := NewExecutor(Build(ResolveDepth(1), stages), testDebaters(), nil, ExecConfig{StepRetries: 1}, &recordingHooks{})
	_, err := exec.Run(context.Background(), "ACME", "us")
	require.NoError(t, err)

	assert.Contains(t, secondStagePrompt.SharedContext, "trend is up",
		"later stages must see earlier stage output")
}

func TestExecutor_CancellationAtBoundary(t *testing.T) {
	pipeline := Build(ResolveDepth(1), testStages(CapabilityMarket, CapabilityFundamentals))
	hooks := &recordingHooks{cancelAfter: 1}

	exec := NewExecutor(pipeline, testDebaters(), nil, ExecConfig{StepRetries: 1}, hooks)
	outcome, err := exec.Run(context.Background(), "ACME", "us")

	assert.ErrorIs(t, err, errors.ErrCancelled)
	// Partial output up to the honored boundary is retained
	assert.Len(t, outcome.History, 1)
}

func TestExecutor_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewExecutor(Build(ResolveDepth(1), testStages(CapabilityMarket)), testDebaters(), nil, ExecConfig{StepRetries: 1}, &recordingHooks{})
	_, err := exec.Run(ctx, "ACME", "us")
	assert.ErrorIs(t, err, errors.ErrCancelled)
}

func TestExecutor_TransientErrorRetried(t *testing.T) {
	attempts := 0
	flaky := []StageHandle{{Capability: CapabilityMarket, Agent: AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.Wrapf(errors.ErrUnavailable, "attempt %d", attempts)
		}
		return "finally", nil
	})}}

	hooks := &recordingHooks{}
	exec := NewExecutor(Build(ResolveDepth(1), flaky), testDebaters(), nil, ExecConfig{StepRetries: 3}, hooks)

	outcome, err := exec.Run(context.Background(), "ACME", "us")
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, []string{"stage:market#1", "stage:market#2"}, hooks.retried)
	assert.Equal(t, "finally", outcome.History[0].Content)
}

func TestExecutor_RetryBudgetExhaustedFailsStage(t *testing.T) {
	attempts := 0
	broken := []StageHandle{{Capability: CapabilityMarket, Agent: AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
		attempts++
		return "", errors.Wrapf(errors.ErrUnavailable, "down")
	})}}

	exec := NewExecutor(Build(ResolveDepth(1), broken), testDebaters(), nil, ExecConfig{StepRetries: 3}, &recordingHooks{})
	_, err := exec.Run(context.Background(), "ACME", "us")

	assert.ErrorIs(t, err, errors.ErrRetryExhausted)
	assert.Equal(t, 3, attempts)
}

func TestExecutor_PermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	rejected := []StageHandle{{Capability: CapabilityMarket, Agent: AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
		attempts++
		return "", errors.Wrapf(errors.ErrAgentPermanent, "prompt rejected")
	})}}

	exec := NewExecutor(Build(ResolveDepth(1), rejected), testDebaters(), nil, ExecConfig{StepRetries: 3}, &recordingHooks{})
	_, err := exec.Run(context.Background(), "ACME", "us")

	assert.ErrorIs(t, err, errors.ErrAgentPermanent)
	assert.Equal(t, 1, attempts, "permanent failures must not burn the retry budget")
}

func TestExecutor_SynthesisFallback(t *testing.T) {
	debaters := testDebaters()
	debaters[RoleRiskManager] = AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
		return "", errors.Wrapf(errors.ErrUnavailable, "down")
	})

	exec := NewExecutor(Build(ResolveDepth(1), testStages(CapabilityMarket)), debaters, nil, ExecConfig{StepRetries: 2}, &recordingHooks{})
	outcome, err := exec.Run(context.Background(), "ACME", "us")
	require.NoError(t, err, "synthesis exhaustion degrades, never fails")

	assert.True(t, outcome.Degraded)
	assert.Contains(t, outcome.Decision, "Recommendation: HOLD")
	assert.Contains(t, outcome.Decision, "ACME")
	assert.InDelta(t, 0.30, outcome.Confidence, 0.001)
}

func TestExecutor_MemoryFailureNeverFatal(t *testing.T) {
	// Recall returning nothing must not disturb the run
	pipeline := Build(ResolveDepth(2), testStages(CapabilityMarket))
	mem := &scriptedMemory{answer: ""}

	exec := NewExecutor(pipeline, testDebaters(), mem, ExecConfig{StepRetries: 1}, &recordingHooks{})
	outcome, err := exec.Run(context.Background(), "ACME", "us")

	require.NoError(t, err)
	assert.Positive(t, mem.count())
	assert.False(t, outcome.Degraded)
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"Recommendation: BUY. Confidence: 85%", 0.85},
		{"confidence: 40 %", 0.40},
		{"Confidence 55%", 0.55},
		{"no confidence stated", 0.5},
		{"Confidence: 250%", 0.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseConfidence(tt.text), tt.text)
	}
}
