package deliberation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebateState_InvestmentAlternation(t *testing.T) {
	profile := ResolveDepth(4) // 2 debate rounds => 4 turns
	state := NewDebateState()

	var produced []Role
	for !state.Exhausted(profile) {
		role := state.NextRole()
		produced = append(produced, role)
		state = state.Advance(fmt.Sprintf("statement %d", state.TurnCount))
	}

	assert.Equal(t, []Role{RoleBull, RoleBear, RoleBull, RoleBear}, produced)
	assert.Equal(t, 4, state.TurnCount)
	assert.Len(t, state.Investment, 4)
}

func TestDebateState_RiskCycle(t *testing.T) {
	profile := ResolveDepth(5) // 3 risk rounds => 9 turns
	state := NewDebateState().Transition()
	require.Equal(t, PhaseRisk, state.Phase)

	var produced []Role
	for !state.Exhausted(profile) {
		produced = append(produced, state.NextRole())
		state = state.Advance("x")
	}

	assert.Equal(t, []Role{
		RoleAggressive, RoleConservative, RoleNeutral,
		RoleAggressive, RoleConservative, RoleNeutral,
		RoleAggressive, RoleConservative, RoleNeutral,
	}, produced)
}

func TestDebateState_TurnCountResetsOnTransition(t *testing.T) {
	profile := ResolveDepth(2)
	state := NewDebateState()

	for !state.Exhausted(profile) {
		state = state.Advance("x")
	}
	require.Equal(t, 2, state.TurnCount)

	state = state.Transition()
	assert.Equal(t, PhaseRisk, state.Phase)
	assert.Equal(t, 0, state.TurnCount)

	// Investment statements survive the transition
	assert.Len(t, state.Investment, 2)
}

func TestDebateState_ZeroRoundBoundSkipsPhase(t *testing.T) {
	profile := DepthProfile{MaxDebateRounds: 0, MaxRiskRounds: 0}
	state := NewDebateState()

	assert.True(t, state.Exhausted(profile), "zero-round investment debate must exhaust immediately")

	state = state.Transition()
	assert.True(t, state.Exhausted(profile), "zero-round risk debate must exhaust immediately")
	assert.Empty(t, state.Investment)
	assert.Empty(t, state.Risk)
}

func TestDebateState_BoundNeverExceeded(t *testing.T) {
	for level := 1; level <= 5; level++ {
		profile := ResolveDepth(level)

		state := NewDebateState()
		for !state.Exhausted(profile) {
			state = state.Advance("x")
		}
		assert.Equal(t, 2*profile.MaxDebateRounds, len(state.Investment), "level %d", level)

		state = state.Transition()
		for !state.Exhausted(profile) {
			state = state.Advance("x")
		}
		assert.Equal(t, 3*profile.MaxRiskRounds, len(state.Risk), "level %d", level)
	}
}

func TestDebateState_PhaseSequence(t *testing.T) {
	state := NewDebateState()
	assert.Equal(t, PhaseInvesting, state.Phase)

	state = state.Transition()
	assert.Equal(t, PhaseRisk, state.Phase)

	state = state.Transition()
	assert.Equal(t, PhaseConcluded, state.Phase)

	// Concluded is final
	state = state.Transition()
	assert.Equal(t, PhaseConcluded, state.Phase)
}

func TestDebateState_Transcript(t *testing.T) {
	state := NewDebateState()
	state = state.Advance("the case for")
	state = state.Advance("the case against")

	tr := state.Transcript(PhaseInvesting)
	assert.Contains(t, tr, "BULL: the case for")
	assert.Contains(t, tr, "BEAR: the case against")
	assert.Empty(t, state.Transcript(PhaseRisk))
}
