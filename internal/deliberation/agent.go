package deliberation

import "context"

// Role identifies the actor producing a statement
type Role string

const (
	RoleBull            Role = "bull"
	RoleBear            Role = "bear"
	RoleAggressive      Role = "aggressive"
	RoleConservative    Role = "conservative"
	RoleNeutral         Role = "neutral"
	RoleResearchManager Role = "research_manager"
	RoleRiskManager     Role = "risk_manager"
)

// String returns string representation
func (r Role) String() string {
	return string(r)
}

// Prompt is the input for one agent invocation. The engine treats the
// agent's reasoning as opaque: given this context it produces an opinion
// document.
type Prompt struct {
	Capability string // set for analyst stages
	Role       Role   // set for debate and synthesis turns

	Symbol string
	Market string

	// SharedContext is the accumulated output of all prior stages
	SharedContext string

	// DebateHistory is the transcript of the current debate phase
	DebateHistory string

	// InvestmentPlan is the research manager's resolution, present only
	// for the risk phases
	InvestmentPlan string

	// PastSituation is the retrieved memory, empty when memory is
	// disabled or retrieval found nothing
	PastSituation string
}

// Agent produces an opinion document given context. Implementations must
// respect ctx cancellation and deadlines; failures may be transient
// (retried by the caller) or permanent (ErrAgentPermanent).
type Agent interface {
	Invoke(ctx context.Context, p Prompt) (string, error)
}

// AgentFunc adapts a function to the Agent interface
type AgentFunc func(ctx context.Context, p Prompt) (string, error)

// Invoke calls the wrapped function
func (f AgentFunc) Invoke(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// Entry is one produced document in the deliberation transcript
type Entry struct {
	Step    string
	Role    Role
	Content string
}
