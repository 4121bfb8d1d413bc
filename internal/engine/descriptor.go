package engine

import "github.com/mscottkey/fable-engine/internal/story"

// tokenBudget fixes the max completion tokens per operation mode for one
// phase. Initial builds the whole output, remix replaces it, regen produces
// a single fragment, so initial > remix >= regen throughout.
type tokenBudget struct {
	initial int
	remix   int
	regen   int
}

// descriptor is the per-phase generation configuration. These are fixed
// constants, not computed values.
type descriptor struct {
	temperature float32
	tokens      tokenBudget
}

var phaseDescriptors = map[story.Phase]descriptor{
	story.PhaseOverview:    {temperature: 0.8, tokens: tokenBudget{initial: 1500, remix: 1500, regen: 600}},
	story.PhaseCharacters:  {temperature: 0.8, tokens: tokenBudget{initial: 3000, remix: 2500, regen: 900}},
	story.PhaseFactions:    {temperature: 0.7, tokens: tokenBudget{initial: 2500, remix: 2000, regen: 800}},
	story.PhaseNodes:       {temperature: 0.7, tokens: tokenBudget{initial: 3000, remix: 2500, regen: 700}},
	story.PhaseArcs:        {temperature: 0.7, tokens: tokenBudget{initial: 3000, remix: 2500, regen: 700}},
	story.PhaseResolutions: {temperature: 0.8, tokens: tokenBudget{initial: 2000, remix: 1800, regen: 700}},
}

func (d descriptor) maxTokens(op story.Operation) int {
	switch op {
	case story.OpRemix:
		return d.tokens.remix
	case story.OpRegen:
		return d.tokens.regen
	default:
		return d.tokens.initial
	}
}

// Runtime call budgets.
const (
	narrationTemperature = 0.8
	narrationMaxTokens   = 1200

	intentTemperature = 0.2
	intentMaxTokens   = 300

	recapTemperature = 0.7
	recapMaxTokens   = 800
)
