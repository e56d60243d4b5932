package deliberation

// StepKind identifies a pipeline step descriptor
type StepKind string

const (
	StepStage            StepKind = "stage"
	StepInvestmentDebate StepKind = "investment_debate"
	StepRiskDebate       StepKind = "risk_debate"
	StepFinalDecision    StepKind = "final_decision"
)

// Step is one inspectable pipeline descriptor. Building a pipeline never
// executes anything.
type Step struct {
	Kind       StepKind
	Capability string // set only for StepStage
}

// Pipeline is the ordered plan for one deliberation: analyst stages
// followed by the debate sub-graph and the final decision.
type Pipeline struct {
	Profile DepthProfile
	Stages  []StageHandle
	Steps   []Step
}

// Build constructs the pipeline for a profile and a resolved stage list.
// Deterministic and side-effect free.
func Build(profile DepthProfile, stages []StageHandle) Pipeline {
	steps := make([]Step, 0, len(stages)+3)
	for _, s := range stages {
		steps = append(steps, Step{Kind: StepStage, Capability: s.Capability})
	}
	steps = append(steps,
		Step{Kind: StepInvestmentDebate},
		Step{Kind: StepRiskDebate},
		Step{Kind: StepFinalDecision},
	)

	return Pipeline{
		Profile: profile,
		Stages:  stages,
		Steps:   steps,
	}
}

// TotalUnits is the number of progress checkpoints a full run emits:
// one per stage, one per debate turn, and one per synthesis step.
func (p Pipeline) TotalUnits() int {
	return len(p.Stages) +
		2*p.Profile.MaxDebateRounds + 1 +
		3*p.Profile.MaxRiskRounds + 1
}
