package deliberation

// DepthProfile carries the execution parameters derived from a requested
// research depth. It is resolved once per task and passed explicitly to
// every component that needs it; nothing reads ambient configuration.
type DepthProfile struct {
	Level               int
	MaxDebateRounds     int
	MaxRiskRounds       int
	MemoryEnabled       bool
	BaseSecondsPerStage int
	StageMultiplier     float64
}

// Research depth bounds. Out-of-range levels are clamped, never rejected.
const (
	MinDepthLevel = 1
	MaxDepthLevel = 5
)

var depthTable = map[int]DepthProfile{
	1: {Level: 1, MaxDebateRounds: 1, MaxRiskRounds: 1, MemoryEnabled: false, BaseSecondsPerStage: 180, StageMultiplier: 0.8},
	2: {Level: 2, MaxDebateRounds: 1, MaxRiskRounds: 1, MemoryEnabled: true, BaseSecondsPerStage: 360, StageMultiplier: 1.0},
	3: {Level: 3, MaxDebateRounds: 1, MaxRiskRounds: 2, MemoryEnabled: true, BaseSecondsPerStage: 360, StageMultiplier: 1.0},
	4: {Level: 4, MaxDebateRounds: 2, MaxRiskRounds: 2, MemoryEnabled: true, BaseSecondsPerStage: 600, StageMultiplier: 1.3},
	5: {Level: 5, MaxDebateRounds: 3, MaxRiskRounds: 3, MemoryEnabled: true, BaseSecondsPerStage: 600, StageMultiplier: 1.3},
}

// ResolveDepth maps a requested depth level to its execution profile.
// Defined for every int input: anything outside [1,5] clamps to the
// nearest bound rather than failing the submission.
func ResolveDepth(level int) DepthProfile {
	if level < MinDepthLevel {
		level = MinDepthLevel
	}
	if level > MaxDepthLevel {
		level = MaxDepthLevel
	}
	return depthTable[level]
}

// Per-turn and per-synthesis coefficients for the user-facing estimate.
// Used only for estimates shown at submission, never for scheduling.
const (
	secondsPerDebateTurn = 60
	secondsPerSynthesis  = 90
)

// EstimateSeconds returns the expected wall-clock duration for a run with
// numStages analyst stages under this profile.
func (p DepthProfile) EstimateSeconds(numStages int) int {
	stages := float64(numStages*p.BaseSecondsPerStage) * p.StageMultiplier
	return int(stages) + p.debateOverhead()
}

// debateOverhead is monotone in both round caps
func (p DepthProfile) debateOverhead() int {
	turns := 2*p.MaxDebateRounds + 3*p.MaxRiskRounds
	return turns*secondsPerDebateTurn + 2*secondsPerSynthesis
}
