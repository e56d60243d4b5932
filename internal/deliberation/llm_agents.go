package deliberation

import (
	"context"
	"fmt"
	"strings"
)

// Completer is the narrow LLM surface the default agents need. The chat
// adapter satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// LLMAgent is the default Agent implementation: one system prompt per
// specialization, user prompt assembled from the deliberation context.
type LLMAgent struct {
	name   string
	system string
	chat   Completer
}

// NewLLMAgent creates an agent with an explicit system prompt
func NewLLMAgent(name, system string, chat Completer) *LLMAgent {
	return &LLMAgent{name: name, system: system, chat: chat}
}

// Name returns the agent's specialization name
func (a *LLMAgent) Name() string {
	return a.name
}

// Invoke produces an opinion document for the prompt
func (a *LLMAgent) Invoke(ctx context.Context, p Prompt) (string, error) {
	return a.chat.Complete(ctx, a.system, renderUserPrompt(p))
}

func renderUserPrompt(p Prompt) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Subject: %s (market: %s)\n", p.Symbol, p.Market)

	if p.SharedContext != "" {
		b.WriteString("\n# Accumulated analysis\n")
		b.WriteString(p.SharedContext)
		b.WriteString("\n")
	}
	if p.InvestmentPlan != "" {
		b.WriteString("\n# Investment plan under review\n")
		b.WriteString(p.InvestmentPlan)
		b.WriteString("\n")
	}
	if p.DebateHistory != "" {
		b.WriteString("\n# Debate so far\n")
		b.WriteString(p.DebateHistory)
		b.WriteString("\n")
	}
	if p.PastSituation != "" {
		b.WriteString("\n# Lessons from a similar past situation\n")
		b.WriteString(p.PastSituation)
		b.WriteString("\n")
	}

	return b.String()
}

// System prompts for the built-in specializations. Analyst prompts
// produce reports that feed the shared context; debater prompts argue a
// fixed stance; manager prompts synthesize and must state a confidence
// percentage so it can be extracted from the document.
var systemPrompts = map[string]string{
	CapabilityMarket: "You are a market analyst. Produce a concise technical report on the subject: " +
		"price trend, momentum, volatility, support and resistance. End with a one-line outlook.",
	CapabilityFundamentals: "You are a fundamentals analyst. Assess financial health, valuation, earnings " +
		"quality and competitive position of the subject. End with a one-line outlook.",
	CapabilityNews: "You are a news analyst. Summarize recent company and macro news relevant to the " +
		"subject and judge their likely price impact. End with a one-line outlook.",
	CapabilitySocial: "You are a sentiment analyst. Gauge investor mood around the subject from public " +
		"discussion and sentiment indicators. End with a one-line outlook.",

	string(RoleBull): "You are the bull researcher in an investment debate. Argue the strongest case FOR " +
		"investing, grounded in the accumulated analysis. Rebut the bear's latest points directly.",
	string(RoleBear): "You are the bear researcher in an investment debate. Argue the strongest case AGAINST " +
		"investing, grounded in the accumulated analysis. Rebut the bull's latest points directly.",

	string(RoleAggressive): "You are the aggressive risk analyst. Advocate for the high-reward reading of the " +
		"plan under review and challenge overly cautious arguments.",
	string(RoleConservative): "You are the conservative risk analyst. Stress capital preservation, name the " +
		"concrete downside scenarios, and challenge risk-seeking arguments.",
	string(RoleNeutral): "You are the neutral risk analyst. Weigh both sides of the risk debate and point out " +
		"where each overstates its case.",

	string(RoleResearchManager): "You are the research manager moderating a bull/bear debate. Weigh both sides, " +
		"pick a side decisively rather than defaulting to hold, and produce an actionable investment plan. " +
		"End with a line 'Confidence: NN%'.",
	string(RoleRiskManager): "You chair the risk committee. Given the investment plan and the risk debate, " +
		"deliver the final recommendation: BUY, SELL or HOLD, with reasoning anchored in the debate. " +
		"Only choose HOLD when specific arguments support it. End with a line 'Confidence: NN%'.",
}

// NewDefaultRegistry registers the built-in analyst capabilities and the
// supported markets with their restriction sets.
func NewDefaultRegistry(chat Completer) *Registry {
	r := NewRegistry()

	for _, c := range []string{CapabilityMarket, CapabilityFundamentals, CapabilityNews, CapabilitySocial} {
		r.Register(c, NewLLMAgent(c, systemPrompts[c], chat))
	}

	// Social sentiment sources only cover US listings; the other markets
	// drop the capability with an advisory note.
	r.AddMarket("generic")
	r.AddMarket("us")
	r.AddMarket("hk", CapabilitySocial)
	r.AddMarket("ashare", CapabilitySocial)

	return r
}

// NewDefaultDebaters builds the debate and synthesis agents
func NewDefaultDebaters(chat Completer) map[Role]Agent {
	roles := []Role{
		RoleBull, RoleBear,
		RoleAggressive, RoleConservative, RoleNeutral,
		RoleResearchManager, RoleRiskManager,
	}

	debaters := make(map[Role]Agent, len(roles))
	for _, role := range roles {
		debaters[role] = NewLLMAgent(string(role), systemPrompts[string(role)], chat)
	}
	return debaters
}
