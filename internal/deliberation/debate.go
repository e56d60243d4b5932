package deliberation

import "strings"

// Phase identifies the debate phase a deliberation is in
type Phase string

const (
	PhaseInvesting Phase = "investing"
	PhaseRisk      Phase = "risk"
	PhaseConcluded Phase = "concluded"
)

// String returns string representation
func (p Phase) String() string {
	return string(p)
}

// Statement is one produced debate turn
type Statement struct {
	Role    Role
	Content string
}

// investment actors alternate starting with Bull; risk actors cycle
// starting with Aggressive
var (
	investmentOrder = []Role{RoleBull, RoleBear}
	riskOrder       = []Role{RoleAggressive, RoleConservative, RoleNeutral}
)

// DebateState is the explicit state machine value for the debate
// sub-graph. It is passed by value between turns; TurnCount and Phase are
// the only fields that change. TurnCount is monotone within a phase and
// resets to zero on every phase transition.
type DebateState struct {
	Phase      Phase
	TurnCount  int
	Investment []Statement
	Risk       []Statement
}

// NewDebateState starts a debate in the investing phase
func NewDebateState() DebateState {
	return DebateState{Phase: PhaseInvesting}
}

// Bound returns the turn cap for the current phase: one investment round
// is a Bull+Bear pair, one risk round is a full three-stance cycle.
func (s DebateState) Bound(p DepthProfile) int {
	switch s.Phase {
	case PhaseInvesting:
		return 2 * p.MaxDebateRounds
	case PhaseRisk:
		return 3 * p.MaxRiskRounds
	default:
		return 0
	}
}

// Exhausted reports whether the current phase produced all its turns.
// A zero round cap exhausts immediately: the phase is skipped and
// synthesis runs directly on the pre-debate context.
func (s DebateState) Exhausted(p DepthProfile) bool {
	return s.TurnCount >= s.Bound(p)
}

// NextRole returns the actor for the next turn in the current phase
func (s DebateState) NextRole() Role {
	switch s.Phase {
	case PhaseInvesting:
		return investmentOrder[s.TurnCount%len(investmentOrder)]
	case PhaseRisk:
		return riskOrder[s.TurnCount%len(riskOrder)]
	default:
		return ""
	}
}

// Advance appends a statement for the next actor and increments the turn
// counter by exactly one.
func (s DebateState) Advance(content string) DebateState {
	st := Statement{Role: s.NextRole(), Content: content}

	switch s.Phase {
	case PhaseInvesting:
		s.Investment = append(s.Investment, st)
	case PhaseRisk:
		s.Risk = append(s.Risk, st)
	}

	s.TurnCount++
	return s
}

// Transition moves to the next phase and resets the turn counter. The
// produced statements are retained. Transitions never skip a phase.
func (s DebateState) Transition() DebateState {
	switch s.Phase {
	case PhaseInvesting:
		s.Phase = PhaseRisk
	case PhaseRisk:
		s.Phase = PhaseConcluded
	}
	s.TurnCount = 0
	return s
}

// Transcript renders the statements of one phase as a prompt-ready
// transcript.
func (s DebateState) Transcript(phase Phase) string {
	var statements []Statement
	switch phase {
	case PhaseInvesting:
		statements = s.Investment
	case PhaseRisk:
		statements = s.Risk
	}

	var b strings.Builder
	for i, st := range statements {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.ToUpper(string(st.Role)))
		b.WriteString(": ")
		b.WriteString(st.Content)
	}
	return b.String()
}
