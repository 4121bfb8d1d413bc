package engine

import (
	"encoding/json"

	"github.com/mscottkey/fable-engine/internal/llm"
	"github.com/mscottkey/fable-engine/internal/story"
)

// GenerationRequest describes one pipeline generation call. Build it once
// and treat it as immutable.
type GenerationRequest struct {
	Phase     story.Phase
	Operation story.Operation
	// Target addresses the sub-element for regen; nil otherwise.
	Target *story.RegenTarget
	// Feedback is optional steering text for initial/regen.
	Feedback string
	// RemixBrief is the creative brief for remix.
	RemixBrief string
	// PreserveProperNouns pins existing names during regen/remix.
	PreserveProperNouns bool
	// Premise is the seed text; only phase 1 uses it.
	Premise string
	// CurrentData is the approved output of this phase; required for
	// regen/remix.
	CurrentData json.RawMessage
	// ContextInputs holds every already-approved prior phase output.
	ContextInputs map[story.Phase]json.RawMessage
}

// Result is a successful generation outcome with its metadata.
type Result struct {
	// Data is the typed phase output or fragment.
	Data any
	// Raw is the JSON the model produced, post-repair if repair fired.
	Raw json.RawMessage
	Usage     llm.Usage
	LatencyMs int64
	// Repaired is set when the single repair round-trip fired.
	Repaired bool
	// Warnings carries advisory invariant violations (e.g. skill pyramid).
	Warnings []string
}
