package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delphi/internal/adapters/config"
	"delphi/internal/adapters/errors/noop"
	"delphi/internal/deliberation"
	"delphi/internal/domain/task"
	"delphi/pkg/errors"
)

func testDebaters(synthesis string) map[deliberation.Role]deliberation.Agent {
	debaters := make(map[deliberation.Role]deliberation.Agent)
	for _, r := range []deliberation.Role{
		deliberation.RoleBull, deliberation.RoleBear,
		deliberation.RoleAggressive, deliberation.RoleConservative, deliberation.RoleNeutral,
		deliberation.RoleResearchManager,
	} {
		debaters[r] = staticAgent(string(r) + " opinion. Confidence: 60%")
	}
	debaters[deliberation.RoleRiskManager] = staticAgent(synthesis)
	return debaters
}

func newRunnerFixture(t *testing.T) (*managerFixture, *Runner) {
	t.Helper()
	f := newManagerFixture(t, config.EngineConfig{StepRetries: 1})
	runner := NewRunner(f.manager, testDebaters("Recommendation: BUY. Confidence: 80%"), nil, noop.New())
	return f, runner
}

func TestRunner_ExecuteToCompletion(t *testing.T) {
	f, runner := newRunnerFixture(t)
	ctx := context.Background()

	submitted, err := f.manager.Submit(ctx, validRequest())
	require.NoError(t, err)

	runner.Execute(ctx, submitted.ID)

	stored, err := f.manager.GetStatus(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)

	// Final artifact persisted
	report, err := f.manager.GetReport(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, "Recommendation: BUY. Confidence: 80%", report.Decision)
	assert.InDelta(t, 0.80, report.Confidence, 0.001)
	assert.False(t, report.Degraded)
	assert.NotEmpty(t, report.History)

	// Durable progress log covers the whole run in order
	events, err := f.manager.Broadcaster().Replay(ctx, submitted.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, 100, events[len(events)-1].Progress)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	f, runner := newRunnerFixture(t)
	ctx := context.Background()

	submitted, err := f.manager.Submit(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, f.manager.Cancel(ctx, submitted.ID))

	// The queued entry is drained later; Execute must not resurrect it
	runner.Execute(ctx, submitted.ID)

	stored, err := f.manager.GetStatus(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, stored.Status)
}

func TestRunner_CancelledMidRun(t *testing.T) {
	f := newManagerFixture(t, config.EngineConfig{StepRetries: 1})
	ctx := context.Background()

	submitted, err := f.manager.Submit(ctx, validRequest())
	require.NoError(t, err)

	// The bull raises the cancel flag; the next boundary honors it
	debaters := testDebaters("Recommendation: BUY. Confidence: 80%")
	debaters[deliberation.RoleBull] = deliberation.AgentFunc(func(ctx context.Context, p deliberation.Prompt) (string, error) {
		require.NoError(t, f.manager.Cancel(ctx, submitted.ID))
		return "bull opinion", nil
	})
	runner := NewRunner(f.manager, debaters, nil, noop.New())

	runner.Execute(ctx, submitted.ID)

	stored, err := f.manager.GetStatus(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, stored.Status)

	// Partial output is retained
	report, err := f.manager.GetReport(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Decision)
	assert.NotEmpty(t, report.History)
}

func TestRunner_StageFailureFailsTask(t *testing.T) {
	f := newManagerFixture(t, config.EngineConfig{StepRetries: 2})
	ctx := context.Background()

	// Break the market analyst permanently
	f.manager.registry.Register(deliberation.CapabilityMarket,
		deliberation.AgentFunc(func(ctx context.Context, p deliberation.Prompt) (string, error) {
			return "", errors.Wrapf(errors.ErrAgentPermanent, "prompt rejected")
		}))
	runner := NewRunner(f.manager, testDebaters("Recommendation: BUY. Confidence: 80%"), nil, noop.New())

	submitted, err := f.manager.Submit(ctx, validRequest())
	require.NoError(t, err)

	runner.Execute(ctx, submitted.ID)

	stored, err := f.manager.GetStatus(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Contains(t, *stored.FailureReason, "market")
}

func TestRunner_DegradedSynthesisStillCompletes(t *testing.T) {
	f := newManagerFixture(t, config.EngineConfig{StepRetries: 1})
	ctx := context.Background()

	debaters := testDebaters("")
	debaters[deliberation.RoleRiskManager] = deliberation.AgentFunc(func(ctx context.Context, p deliberation.Prompt) (string, error) {
		return "", errors.Wrapf(errors.ErrUnavailable, "reasoning service down")
	})
	runner := NewRunner(f.manager, debaters, nil, noop.New())

	submitted, err := f.manager.Submit(ctx, validRequest())
	require.NoError(t, err)

	runner.Execute(ctx, submitted.ID)

	stored, err := f.manager.GetStatus(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, stored.Status)

	report, err := f.manager.GetReport(ctx, submitted.ID)
	require.NoError(t, err)
	assert.True(t, report.Degraded)
	assert.Contains(t, report.Decision, "Recommendation: HOLD")
}

func TestRunner_RetryBookkeeping(t *testing.T) {
	f := newManagerFixture(t, config.EngineConfig{StepRetries: 3})
	ctx := context.Background()

	attempts := 0
	f.manager.registry.Register(deliberation.CapabilityMarket,
		deliberation.AgentFunc(func(ctx context.Context, p deliberation.Prompt) (string, error) {
			attempts++
			if attempts < 2 {
				return "", errors.Wrapf(errors.ErrUnavailable, "flaky")
			}
			return "market report", nil
		}))
	runner := NewRunner(f.manager, testDebaters("Recommendation: HOLD. Confidence: 50%"), nil, noop.New())

	submitted, err := f.manager.Submit(ctx, validRequest())
	require.NoError(t, err)

	runner.Execute(ctx, submitted.ID)

	stored, err := f.manager.GetStatus(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
}
