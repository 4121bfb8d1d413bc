package story

import "fmt"

// TargetKind names one addressable sub-element class of a phase output.
type TargetKind string

const (
	TargetCharacter TargetKind = "character"
	TargetBonds     TargetKind = "bonds"
	TargetFaction   TargetKind = "faction"
	TargetClock     TargetKind = "clock"
	TargetRelations TargetKind = "relations"
	TargetNode      TargetKind = "node"
	TargetScene     TargetKind = "scene"
	TargetArc       TargetKind = "arc"
	TargetBeat      TargetKind = "beat"
	TargetBranch    TargetKind = "branch"
	TargetEpilogues TargetKind = "epilogues"
)

// RegenTarget addresses exactly one sub-element of an approved phase output
// for partial regeneration. Construct values through the helpers below; a
// zero RegenTarget is invalid.
type RegenTarget struct {
	Kind TargetKind `json:"kind"`

	CharacterIndex int    `json:"character_index,omitempty"`
	FactionID      string `json:"faction_id,omitempty"`
	ClockName      string `json:"clock_name,omitempty"`
	NodeID         string `json:"node_id,omitempty"`
	ArcID          string `json:"arc_id,omitempty"`
	BeatID         string `json:"beat_id,omitempty"`
	PathID         string `json:"path_id,omitempty"`
}

func CharacterTarget(index int) RegenTarget {
	return RegenTarget{Kind: TargetCharacter, CharacterIndex: index}
}

func BondsTarget() RegenTarget {
	return RegenTarget{Kind: TargetBonds}
}

func FactionTarget(id string) RegenTarget {
	return RegenTarget{Kind: TargetFaction, FactionID: id}
}

func ClockTarget(factionID, clockName string) RegenTarget {
	return RegenTarget{Kind: TargetClock, FactionID: factionID, ClockName: clockName}
}

func RelationsTarget() RegenTarget {
	return RegenTarget{Kind: TargetRelations}
}

func NodeTarget(id string) RegenTarget {
	return RegenTarget{Kind: TargetNode, NodeID: id}
}

func SceneTarget(nodeID string) RegenTarget {
	return RegenTarget{Kind: TargetScene, NodeID: nodeID}
}

func ArcTarget(id string) RegenTarget {
	return RegenTarget{Kind: TargetArc, ArcID: id}
}

func BeatTarget(arcID, beatID string) RegenTarget {
	return RegenTarget{Kind: TargetBeat, ArcID: arcID, BeatID: beatID}
}

func BranchTarget(pathID string) RegenTarget {
	return RegenTarget{Kind: TargetBranch, PathID: pathID}
}

func EpiloguesTarget() RegenTarget {
	return RegenTarget{Kind: TargetEpilogues}
}

// phaseTargets lists which target kinds each phase can address.
var phaseTargets = map[Phase][]TargetKind{
	PhaseCharacters:  {TargetCharacter, TargetBonds},
	PhaseFactions:    {TargetFaction, TargetClock, TargetRelations},
	PhaseNodes:       {TargetNode, TargetScene},
	PhaseArcs:        {TargetArc, TargetBeat},
	PhaseResolutions: {TargetBranch, TargetEpilogues},
}

// ValidForPhase reports whether the target addresses a sub-element class the
// given phase actually has.
func (t RegenTarget) ValidForPhase(p Phase) bool {
	for _, kind := range phaseTargets[p] {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// TemplateName returns the regen prompt name for this target kind, used in
// template IDs like "phase3/regen/faction@v1".
func (t RegenTarget) TemplateName() string {
	return string(t.Kind)
}

func (t RegenTarget) String() string {
	switch t.Kind {
	case TargetCharacter:
		return fmt.Sprintf("character[%d]", t.CharacterIndex)
	case TargetFaction:
		return fmt.Sprintf("faction(%s)", t.FactionID)
	case TargetClock:
		return fmt.Sprintf("clock(%s/%s)", t.FactionID, t.ClockName)
	case TargetNode:
		return fmt.Sprintf("node(%s)", t.NodeID)
	case TargetScene:
		return fmt.Sprintf("scene(%s)", t.NodeID)
	case TargetArc:
		return fmt.Sprintf("arc(%s)", t.ArcID)
	case TargetBeat:
		return fmt.Sprintf("beat(%s/%s)", t.ArcID, t.BeatID)
	case TargetBranch:
		return fmt.Sprintf("branch(%s)", t.PathID)
	default:
		return string(t.Kind)
	}
}

// RelationsPatch is the partial regen shape for TargetRelations.
type RelationsPatch struct {
	Relationships []FactionRelation `json:"relationships" validate:"required,min=1,dive"`
}

// ScenePatch is the partial regen shape for TargetScene: a rewritten scene
// description for an existing node.
type ScenePatch struct {
	Scene string `json:"scene" validate:"required"`
}

// BondsPatch is the partial regen shape for TargetBonds.
type BondsPatch struct {
	Bonds []Bond `json:"bonds" validate:"required,min=1,dive"`
}

// EpiloguesPatch is the partial regen shape for TargetEpilogues: replacement
// epilogue text keyed by resolution path id.
type EpiloguesPatch struct {
	Epilogues map[string]string `json:"epilogues" validate:"required,min=1"`
}
