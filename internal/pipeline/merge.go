package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/mscottkey/fable-engine/internal/engine"
	"github.com/mscottkey/fable-engine/internal/story"
)

// decodeAggregate parses an approved phase output into its typed form for
// target verification and merge.
func decodeAggregate(phase story.Phase, raw json.RawMessage) (any, error) {
	var out any
	switch phase {
	case story.PhaseCharacters:
		out = &story.CharacterLineup{}
	case story.PhaseFactions:
		out = &story.FactionSet{}
	case story.PhaseNodes:
		out = &story.NodeWeb{}
	case story.PhaseArcs:
		out = &story.ArcSet{}
	case story.PhaseResolutions:
		out = &story.ResolutionSet{}
	default:
		return nil, fmt.Errorf("phase %s has no addressable sub-elements", phase)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode approved %s output: %w", phase, err)
	}
	return out, nil
}

// verifyTarget checks that the addressed sub-element exists in the aggregate
// before any completion call is made.
func verifyTarget(aggregate any, t story.RegenTarget) error {
	missing := func() error {
		return &engine.Failure{
			Kind:    engine.ErrInvalidTarget,
			Target:  &t,
			Message: fmt.Sprintf("%s not found in current output", t),
		}
	}

	switch agg := aggregate.(type) {
	case *story.CharacterLineup:
		switch t.Kind {
		case story.TargetCharacter:
			if t.CharacterIndex < 0 || t.CharacterIndex >= len(agg.Characters) {
				return missing()
			}
		case story.TargetBonds:
			return nil
		}
	case *story.FactionSet:
		switch t.Kind {
		case story.TargetFaction:
			if findFaction(agg, t.FactionID) < 0 {
				return missing()
			}
		case story.TargetClock:
			fi := findFaction(agg, t.FactionID)
			if fi < 0 || findClock(&agg.Factions[fi], t.ClockName) < 0 {
				return missing()
			}
		case story.TargetRelations:
			return nil
		}
	case *story.NodeWeb:
		if findNode(agg, t.NodeID) < 0 {
			return missing()
		}
	case *story.ArcSet:
		switch t.Kind {
		case story.TargetArc:
			if findArc(agg, t.ArcID) < 0 {
				return missing()
			}
		case story.TargetBeat:
			ai := findArc(agg, t.ArcID)
			if ai < 0 || findBeat(&agg.Arcs[ai], t.BeatID) < 0 {
				return missing()
			}
		}
	case *story.ResolutionSet:
		switch t.Kind {
		case story.TargetBranch:
			if findPath(agg, t.PathID) < 0 {
				return missing()
			}
		case story.TargetEpilogues:
			return nil
		}
	}
	return nil
}

// applyFragment replaces the addressed sub-element in place, leaving every
// sibling and the array ordering untouched. Identifiers referenced elsewhere
// (faction id, node id, beat id, path id) stay pinned to the addressed
// value even if the fragment renamed them.
func applyFragment(aggregate any, t story.RegenTarget, fragment any) error {
	switch agg := aggregate.(type) {
	case *story.CharacterLineup:
		switch t.Kind {
		case story.TargetCharacter:
			agg.Characters[t.CharacterIndex] = *fragment.(*story.Character)
		case story.TargetBonds:
			agg.Bonds = fragment.(*story.BondsPatch).Bonds
		}
	case *story.FactionSet:
		switch t.Kind {
		case story.TargetFaction:
			i := findFaction(agg, t.FactionID)
			replacement := *fragment.(*story.Faction)
			replacement.ID = t.FactionID
			agg.Factions[i] = replacement
		case story.TargetClock:
			fi := findFaction(agg, t.FactionID)
			ci := findClock(&agg.Factions[fi], t.ClockName)
			replacement := *fragment.(*story.Clock)
			replacement.Name = t.ClockName
			agg.Factions[fi].Clocks[ci] = replacement
		case story.TargetRelations:
			agg.Relationships = fragment.(*story.RelationsPatch).Relationships
		}
	case *story.NodeWeb:
		switch t.Kind {
		case story.TargetNode:
			i := findNode(agg, t.NodeID)
			replacement := *fragment.(*story.SceneNode)
			replacement.ID = t.NodeID
			agg.Nodes[i] = replacement
		case story.TargetScene:
			i := findNode(agg, t.NodeID)
			agg.Nodes[i].Scene = fragment.(*story.ScenePatch).Scene
		}
	case *story.ArcSet:
		switch t.Kind {
		case story.TargetArc:
			i := findArc(agg, t.ArcID)
			replacement := *fragment.(*story.Arc)
			replacement.ID = t.ArcID
			agg.Arcs[i] = replacement
		case story.TargetBeat:
			ai := findArc(agg, t.ArcID)
			bi := findBeat(&agg.Arcs[ai], t.BeatID)
			replacement := *fragment.(*story.Beat)
			replacement.ID = t.BeatID
			agg.Arcs[ai].Beats[bi] = replacement
		}
	case *story.ResolutionSet:
		switch t.Kind {
		case story.TargetBranch:
			i := findPath(agg, t.PathID)
			replacement := *fragment.(*story.ResolutionPath)
			replacement.PathID = t.PathID
			agg.ResolutionPaths[i] = replacement
		case story.TargetEpilogues:
			patch := fragment.(*story.EpiloguesPatch)
			for i := range agg.ResolutionPaths {
				if text, ok := patch.Epilogues[agg.ResolutionPaths[i].PathID]; ok {
					agg.ResolutionPaths[i].Epilogue = text
				}
			}
		}
	default:
		return fmt.Errorf("cannot merge into %T", aggregate)
	}
	return nil
}

func findFaction(set *story.FactionSet, id string) int {
	for i := range set.Factions {
		if set.Factions[i].ID == id {
			return i
		}
	}
	return -1
}

func findClock(f *story.Faction, name string) int {
	for i := range f.Clocks {
		if f.Clocks[i].Name == name {
			return i
		}
	}
	return -1
}

func findNode(web *story.NodeWeb, id string) int {
	for i := range web.Nodes {
		if web.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}

func findArc(set *story.ArcSet, id string) int {
	for i := range set.Arcs {
		if set.Arcs[i].ID == id {
			return i
		}
	}
	return -1
}

func findBeat(arc *story.Arc, id string) int {
	for i := range arc.Beats {
		if arc.Beats[i].ID == id {
			return i
		}
	}
	return -1
}

func findPath(set *story.ResolutionSet, id string) int {
	for i := range set.ResolutionPaths {
		if set.ResolutionPaths[i].PathID == id {
			return i
		}
	}
	return -1
}
