package story

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator decodes raw model output into the typed shape expected for a
// (phase, operation, target) and checks it structurally. Parsed JSON is
// validated once here and never re-inspected loosely downstream.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// DecodePhaseOutput parses and validates a full phase output (initial/remix).
func (val *Validator) DecodePhaseOutput(phase Phase, raw []byte) (any, error) {
	out, err := emptyPhaseOutput(phase)
	if err != nil {
		return nil, err
	}
	return val.decodeInto(raw, out)
}

// DecodeFragment parses and validates the partial shape a regen target
// produces.
func (val *Validator) DecodeFragment(target RegenTarget, raw []byte) (any, error) {
	out, err := emptyFragment(target.Kind)
	if err != nil {
		return nil, err
	}
	return val.decodeInto(raw, out)
}

// DecodeRuntime parses and validates one of the runtime shapes (narrative
// turn, intent classification).
func (val *Validator) DecodeRuntime(raw []byte, out any) (any, error) {
	return val.decodeInto(raw, out)
}

func (val *Validator) decodeInto(raw []byte, out any) (any, error) {
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := val.v.Struct(out); err != nil {
		return nil, fmt.Errorf("schema: %s", describeValidation(err))
	}
	return out, nil
}

func emptyPhaseOutput(phase Phase) (any, error) {
	switch phase {
	case PhaseOverview:
		return &StoryOverview{}, nil
	case PhaseCharacters:
		return &CharacterLineup{}, nil
	case PhaseFactions:
		return &FactionSet{}, nil
	case PhaseNodes:
		return &NodeWeb{}, nil
	case PhaseArcs:
		return &ArcSet{}, nil
	case PhaseResolutions:
		return &ResolutionSet{}, nil
	}
	return nil, fmt.Errorf("unknown phase %d", int(phase))
}

func emptyFragment(kind TargetKind) (any, error) {
	switch kind {
	case TargetCharacter:
		return &Character{}, nil
	case TargetBonds:
		return &BondsPatch{}, nil
	case TargetFaction:
		return &Faction{}, nil
	case TargetClock:
		return &Clock{}, nil
	case TargetRelations:
		return &RelationsPatch{}, nil
	case TargetNode:
		return &SceneNode{}, nil
	case TargetScene:
		return &ScenePatch{}, nil
	case TargetArc:
		return &Arc{}, nil
	case TargetBeat:
		return &Beat{}, nil
	case TargetBranch:
		return &ResolutionPath{}, nil
	case TargetEpilogues:
		return &EpiloguesPatch{}, nil
	}
	return nil, fmt.Errorf("unknown target kind %q", kind)
}

// describeValidation flattens a validator error into a compact single line
// suitable for a failure message.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
