package story

import "fmt"

// Phase identifies one of the six ordered generation stages.
type Phase int

const (
	PhaseOverview Phase = iota + 1
	PhaseCharacters
	PhaseFactions
	PhaseNodes
	PhaseArcs
	PhaseResolutions
)

// MaxActNumber is the fixed act ceiling for every campaign.
const MaxActNumber = 3

var phaseNames = map[Phase]string{
	PhaseOverview:    "overview",
	PhaseCharacters:  "characters",
	PhaseFactions:    "factions",
	PhaseNodes:       "nodes",
	PhaseArcs:        "arcs",
	PhaseResolutions: "resolutions",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Valid reports whether p is one of the six defined phases.
func (p Phase) Valid() bool {
	_, ok := phaseNames[p]
	return ok
}

// Prev returns the phase whose approved output gates p. Phase 1 has no
// predecessor.
func (p Phase) Prev() (Phase, bool) {
	if p <= PhaseOverview {
		return 0, false
	}
	return p - 1, true
}

// Operation is the generation mode for a single pipeline request.
type Operation string

const (
	OpInitial Operation = "initial"
	OpRegen   Operation = "regen"
	OpRemix   Operation = "remix"
)

func (o Operation) Valid() bool {
	switch o {
	case OpInitial, OpRegen, OpRemix:
		return true
	}
	return false
}
